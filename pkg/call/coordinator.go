package call

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/mindflow/call_core/pkg/media"
	"github.com/mindflow/call_core/pkg/signaling"
)

// Signaler is the slice of the transport the coordinator needs. It is
// satisfied by *signaling.Transport and by test doubles.
type Signaler interface {
	// Send hands a message to the transport; a disconnected transport
	// queues it, so Send failing means the message is unsendable.
	Send(msg signaling.Message) error
	// Events is the transport's ordered event stream.
	Events() <-chan signaling.Event
}

// NegotiatorFactory builds a fresh negotiator for one call. It is
// invoked when local media is about to be captured, never while a
// previous call's negotiator is still open.
type NegotiatorFactory func(kind media.CaptureKind) (*media.Negotiator, error)

type cmdKind int

const (
	cmdDial cmdKind = iota
	cmdAccept
	cmdReject
	cmdHangUp
	cmdToggleMute
	cmdToggleVideo
	cmdSwitchCamera
)

type command struct {
	kind  cmdKind
	peer  string
	media MediaKind
	reply chan cmdResult
}

type cmdResult struct {
	on     bool
	camera string
	err    error
}

type asyncOp int

const (
	opCapture asyncOp = iota
	opOffer
	opRemoteOffer
	opRemoteAnswer
)

// asyncResult delivers the outcome of an engine operation back to the
// run loop. gen ties it to the session that started it so results of an
// abandoned call are discarded.
type asyncResult struct {
	gen int
	op  asyncOp
	sdp string
	err error
}

// session is the mutable record for the single active call. It is owned
// by the run loop; nothing outside the loop touches it.
type session struct {
	gen       int
	id        string
	peer      string
	direction Direction
	media     MediaKind
	state     State
	reason    EndReason

	startedAt   time.Time
	connectedAt time.Time

	muted    bool
	videoOff bool

	neg       *media.Negotiator
	negEvents <-chan media.NegotiatorEvent

	captureReady   bool
	remoteAccepted bool
	offerStarted   bool
	pendingOffer   string
	pendingCands   []media.Candidate

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) status() Status {
	return Status{
		State:       s.state,
		CallID:      s.id,
		PeerID:      s.peer,
		Direction:   s.direction,
		Media:       s.media,
		Reason:      s.reason,
		StartedAt:   s.startedAt,
		ConnectedAt: s.connectedAt,
	}
}

// Coordinator owns the app-wide single call slot and drives the state
// machine from transport events, media events, timers and local verbs.
// All mutation happens on one run loop, so state transitions are
// totally ordered and verbs observe a consistent snapshot.
type Coordinator struct {
	config   Config
	log      logging.LeveledLogger
	signaler Signaler
	factory  NegotiatorFactory

	cmds   chan command
	asyncc chan asyncResult

	cur     *session
	lastGen int

	ringTimer  *time.Timer
	ringC      <-chan time.Time
	graceTimer *time.Timer
	graceC     <-chan time.Time
	discTimer  *time.Timer
	discC      <-chan time.Time

	statusMu sync.RWMutex
	status   Status
	subs     map[int]chan Status
	nextSub  int

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	running   bool
	runMu     sync.Mutex
}

// NewCoordinator creates a coordinator over the given transport and
// negotiator factory. Call Start before using the verbs.
func NewCoordinator(config Config, signaler Signaler, factory NegotiatorFactory) *Coordinator {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.RingTimeout <= 0 {
		config.RingTimeout = 45 * time.Second
	}
	if config.ResetGrace <= 0 {
		config.ResetGrace = 3 * time.Second
	}
	if config.DisconnectGrace <= 0 {
		config.DisconnectGrace = 5 * time.Second
	}
	if config.StatusBuffer <= 0 {
		config.StatusBuffer = 16
	}
	return &Coordinator{
		config:   config,
		log:      config.LoggerFactory.NewLogger("call"),
		signaler: signaler,
		factory:  factory,
		cmds:     make(chan command),
		asyncc:   make(chan asyncResult, 8),
		status:   Status{State: StateIdle},
		subs:     make(map[int]chan Status),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the run loop. Safe to call once.
func (c *Coordinator) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	go c.run()
}

// Close stops the loop, ends any active call and releases media.
// Blocks until the loop has exited.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	c.runMu.Lock()
	started := c.running
	c.runMu.Unlock()
	if started {
		<-c.doneCh
	}
	return nil
}

// Dial places an outgoing call. Returns ErrBusy while another call
// occupies the session slot.
func (c *Coordinator) Dial(peerID string, kind MediaKind) error {
	res := c.do(command{kind: cmdDial, peer: peerID, media: kind})
	return res.err
}

// Accept answers the currently ringing incoming call.
func (c *Coordinator) Accept() error {
	return c.do(command{kind: cmdAccept}).err
}

// Reject declines the currently ringing incoming call.
func (c *Coordinator) Reject() error {
	return c.do(command{kind: cmdReject}).err
}

// HangUp ends the active call. Idempotent: once the call is over,
// further hangups return ErrNoActiveCall without side effects.
func (c *Coordinator) HangUp() error {
	return c.do(command{kind: cmdHangUp}).err
}

// ToggleMute flips the microphone and returns the new muted state.
func (c *Coordinator) ToggleMute() (bool, error) {
	res := c.do(command{kind: cmdToggleMute})
	return res.on, res.err
}

// ToggleVideo flips the camera track and returns whether video is now off.
func (c *Coordinator) ToggleVideo() (bool, error) {
	res := c.do(command{kind: cmdToggleVideo})
	return res.on, res.err
}

// SwitchCamera flips to the next capture device and returns its name.
func (c *Coordinator) SwitchCamera() (string, error) {
	res := c.do(command{kind: cmdSwitchCamera})
	return res.camera, res.err
}

// Status returns the latest snapshot.
func (c *Coordinator) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// Subscribe registers a status listener. The current snapshot is
// delivered immediately; cancel unregisters and closes the channel.
// Slow subscribers lose intermediate snapshots, never the stream.
func (c *Coordinator) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, c.config.StatusBuffer)
	c.statusMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.status
	c.statusMu.Unlock()

	cancel := func() {
		c.statusMu.Lock()
		defer c.statusMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (c *Coordinator) do(cmd command) cmdResult {
	cmd.reply = make(chan cmdResult, 1)
	select {
	case c.cmds <- cmd:
	case <-c.stopCh:
		return cmdResult{err: ErrClosed}
	}
	select {
	case res := <-cmd.reply:
		return res
	case <-c.stopCh:
		return cmdResult{err: ErrClosed}
	}
}

func (c *Coordinator) run() {
	defer close(c.doneCh)
	events := c.signaler.Events()

	for {
		var negC <-chan media.NegotiatorEvent
		if c.cur != nil {
			negC = c.cur.negEvents
		}

		select {
		case <-c.stopCh:
			c.shutdown()
			return
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleTransport(ev)
		case ev := <-negC:
			c.handleNegotiator(ev)
		case res := <-c.asyncc:
			c.handleAsync(res)
		case <-c.ringC:
			c.ringC = nil
			c.handleRingTimeout()
		case <-c.discC:
			c.discC = nil
			c.handleDisconnectTimeout()
		case <-c.graceC:
			c.graceC = nil
			c.handleGraceExpired()
		}
	}
}

func (c *Coordinator) shutdown() {
	if c.cur != nil && !c.cur.state.Terminal() {
		if c.cur.id != "" {
			c.send(signaling.NewEnd(c.cur.id, signaling.ReasonHangup))
		}
		c.finish(StateEnded, ReasonHangup)
	}
	if c.cur != nil && c.cur.neg != nil {
		c.cur.neg.Close()
	}
	c.stopTimer(&c.ringTimer, &c.ringC)
	c.stopTimer(&c.discTimer, &c.discC)
	c.stopTimer(&c.graceTimer, &c.graceC)
}

// active reports whether a call occupies the session slot.
func (c *Coordinator) active() bool {
	return c.cur != nil && !c.cur.state.Terminal()
}

func (c *Coordinator) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdDial:
		cmd.reply <- c.doDial(cmd.peer, cmd.media)
	case cmdAccept:
		cmd.reply <- c.doAccept()
	case cmdReject:
		cmd.reply <- c.doReject()
	case cmdHangUp:
		cmd.reply <- c.doHangUp()
	case cmdToggleMute:
		cmd.reply <- c.doToggleMute()
	case cmdToggleVideo:
		cmd.reply <- c.doToggleVideo()
	case cmdSwitchCamera:
		cmd.reply <- c.doSwitchCamera()
	}
}

func (c *Coordinator) doDial(peerID string, kind MediaKind) cmdResult {
	if c.active() {
		return cmdResult{err: ErrBusy}
	}
	c.clearSession()

	neg, err := c.factory(kind.captureKind())
	if err != nil {
		c.log.Errorf("negotiator setup failed: %v", err)
		return cmdResult{err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.lastGen++
	s := &session{
		gen:       c.lastGen,
		peer:      peerID,
		direction: DirectionOutgoing,
		media:     kind,
		state:     StateDialing,
		startedAt: time.Now(),
		neg:       neg,
		negEvents: neg.Events(),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.cur = s

	c.goCapture(s)
	c.send(signaling.NewInvite(peerID, kind.Wire()))
	c.startTimer(&c.ringTimer, &c.ringC, c.config.RingTimeout)
	c.emit()
	return cmdResult{}
}

func (c *Coordinator) doAccept() cmdResult {
	s := c.cur
	if s == nil || s.state.Terminal() {
		return cmdResult{err: ErrNoActiveCall}
	}
	if s.state != StateRinging || s.direction != DirectionIncoming {
		return cmdResult{err: ErrBusy}
	}

	neg, err := c.factory(s.media.captureKind())
	if err != nil {
		c.log.Errorf("negotiator setup failed: %v", err)
		c.send(signaling.NewAnswerDecision(s.id, false, signaling.ReasonDeclined))
		c.finish(StateError, ReasonNegotiationFailed)
		return cmdResult{err: err}
	}
	s.neg = neg
	s.negEvents = neg.Events()
	for _, cand := range s.pendingCands {
		if err := neg.AddCandidate(cand); err != nil {
			c.log.Warnf("candidate rejected: %v", err)
		}
	}
	s.pendingCands = nil

	c.stopTimer(&c.ringTimer, &c.ringC)
	s.state = StateNegotiating
	c.send(signaling.NewAnswerDecision(s.id, true, ""))
	c.goCapture(s)
	c.emit()
	return cmdResult{}
}

func (c *Coordinator) doReject() cmdResult {
	s := c.cur
	if s == nil || s.state.Terminal() {
		return cmdResult{err: ErrNoActiveCall}
	}
	if s.state != StateRinging || s.direction != DirectionIncoming {
		return cmdResult{err: ErrNotRinging}
	}
	c.send(signaling.NewAnswerDecision(s.id, false, signaling.ReasonDeclined))
	c.finish(StateEnded, ReasonDeclined)
	return cmdResult{}
}

func (c *Coordinator) doHangUp() cmdResult {
	s := c.cur
	if s == nil || s.state.Terminal() {
		return cmdResult{err: ErrNoActiveCall}
	}
	if s.id != "" {
		c.send(signaling.NewEnd(s.id, signaling.ReasonHangup))
	}
	c.finish(StateEnded, ReasonHangup)
	return cmdResult{}
}

func (c *Coordinator) doToggleMute() cmdResult {
	s := c.cur
	if s == nil || s.state.Terminal() || s.neg == nil {
		return cmdResult{err: ErrNoActiveCall}
	}
	if err := s.neg.SetAudioEnabled(s.muted); err != nil {
		return cmdResult{err: err}
	}
	s.muted = !s.muted
	return cmdResult{on: s.muted}
}

func (c *Coordinator) doToggleVideo() cmdResult {
	s := c.cur
	if s == nil || s.state.Terminal() || s.neg == nil {
		return cmdResult{err: ErrNoActiveCall}
	}
	if err := s.neg.SetVideoEnabled(s.videoOff); err != nil {
		return cmdResult{err: err}
	}
	s.videoOff = !s.videoOff
	return cmdResult{on: s.videoOff}
}

func (c *Coordinator) doSwitchCamera() cmdResult {
	s := c.cur
	if s == nil || s.state.Terminal() || s.neg == nil {
		return cmdResult{err: ErrNoActiveCall}
	}
	camera, err := s.neg.SwitchCamera()
	return cmdResult{camera: camera, err: err}
}

func (c *Coordinator) handleTransport(ev signaling.Event) {
	switch ev.Type {
	case signaling.EventConnected:
		c.log.Debugf("signaling connected")
	case signaling.EventDisconnected:
		// The transport reconnects on its own; in-call recovery rides
		// on ICE, which has its own disconnect grace.
		c.log.Warnf("signaling disconnected: %v", ev.Err)
	case signaling.EventAuthResult:
		if !ev.OK {
			c.handleAuthRejected()
		}
	case signaling.EventMessage:
		if ev.Message != nil {
			c.handleMessage(*ev.Message)
		}
	}
}

func (c *Coordinator) handleAuthRejected() {
	c.log.Errorf("signaling credential rejected")
	if c.active() {
		c.finish(StateError, ReasonAuthFailure)
		return
	}
	c.setStatus(Status{State: StateError, Reason: ReasonAuthFailure})
	c.startTimer(&c.graceTimer, &c.graceC, c.config.ResetGrace)
}

func (c *Coordinator) handleMessage(msg signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeInvite:
		c.handleInvite(msg)
	case signaling.MessageTypeRingAck:
		c.handleRingAck(msg)
	case signaling.MessageTypeAnswerDecision:
		c.handleAnswerDecision(msg)
	case signaling.MessageTypeSessionDescription:
		c.handleDescription(msg)
	case signaling.MessageTypeCandidate:
		c.handleCandidate(msg)
	case signaling.MessageTypeEnd:
		c.handleEnd(msg)
	case signaling.MessageTypeError:
		c.handleServerError(msg)
	default:
		c.log.Debugf("ignoring message type %q", msg.Type)
	}
}

func (c *Coordinator) handleInvite(msg signaling.Message) {
	if msg.CallID == "" || msg.FromUserID == "" {
		c.log.Warnf("dropping malformed invite")
		return
	}

	if c.active() {
		s := c.cur
		if s.id == msg.CallID {
			// Redelivery of the invite we are already ringing on.
			return
		}
		if s.state == StateDialing && s.peer == msg.FromUserID {
			// Glare: the peer dialed us while our own invite was in
			// flight. The server kept their call; fold our attempt into
			// it and present it as incoming.
			c.log.Infof("glare with %s, adopting incoming call %s", msg.FromUserID, msg.CallID)
			c.adoptIncoming(msg)
			return
		}
		// Single call slot: auto-decline anyone else.
		c.send(signaling.NewAnswerDecision(msg.CallID, false, signaling.ReasonBusy))
		return
	}

	c.clearSession()
	c.adoptIncoming(msg)
}

// adoptIncoming replaces any current session with a ringing incoming one.
func (c *Coordinator) adoptIncoming(msg signaling.Message) {
	if c.cur != nil {
		c.cur.cancel()
		if c.cur.neg != nil {
			c.cur.neg.Close()
		}
	}
	c.stopTimer(&c.ringTimer, &c.ringC)
	c.stopTimer(&c.discTimer, &c.discC)
	c.stopTimer(&c.graceTimer, &c.graceC)

	ctx, cancel := context.WithCancel(context.Background())
	c.lastGen++
	c.cur = &session{
		gen:       c.lastGen,
		id:        msg.CallID,
		peer:      msg.FromUserID,
		direction: DirectionIncoming,
		media:     MediaKindFromWire(msg.MediaKind),
		state:     StateRinging,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.startTimer(&c.ringTimer, &c.ringC, c.config.RingTimeout)
	c.emit()
}

func (c *Coordinator) handleRingAck(msg signaling.Message) {
	s := c.cur
	if s == nil || s.state != StateDialing || s.direction != DirectionOutgoing {
		return
	}
	s.id = msg.CallID
	s.state = StateRinging
	c.emit()
}

func (c *Coordinator) handleAnswerDecision(msg signaling.Message) {
	s := c.cur
	if s == nil || s.state.Terminal() || s.id != msg.CallID {
		return
	}
	if s.direction != DirectionOutgoing || s.state != StateRinging {
		return
	}
	if msg.Accepted != nil && *msg.Accepted {
		c.stopTimer(&c.ringTimer, &c.ringC)
		s.state = StateNegotiating
		s.remoteAccepted = true
		c.maybeStartOffer(s)
		c.emit()
		return
	}

	reason := ReasonDeclined
	switch msg.Reason {
	case signaling.ReasonTimeout:
		reason = ReasonTimeout
	case signaling.ReasonBusy:
		reason = ReasonBusy
	}
	c.finish(StateEnded, reason)
}

func (c *Coordinator) handleDescription(msg signaling.Message) {
	s := c.cur
	if s == nil || s.state.Terminal() || s.id != msg.CallID {
		return
	}
	switch msg.Role {
	case signaling.RoleOffer:
		if s.direction != DirectionIncoming || s.state != StateNegotiating {
			return
		}
		if !s.captureReady {
			// Answer after our tracks exist, or they would be missing
			// from the SDP.
			s.pendingOffer = msg.SDP
			return
		}
		c.goApplyOffer(s, msg.SDP)
	case signaling.RoleAnswer:
		if s.direction != DirectionOutgoing || s.state != StateNegotiating {
			return
		}
		c.goApplyAnswer(s, msg.SDP)
	}
}

func (c *Coordinator) handleCandidate(msg signaling.Message) {
	s := c.cur
	if s == nil || s.state.Terminal() || s.id != msg.CallID {
		return
	}
	cand := media.Candidate{SDP: msg.SDP, Mid: msg.Mid, Index: msg.Index}
	if s.neg == nil {
		// Incoming call still ringing: hold until accept creates the
		// negotiator.
		s.pendingCands = append(s.pendingCands, cand)
		return
	}
	if err := s.neg.AddCandidate(cand); err != nil {
		c.log.Warnf("candidate rejected: %v", err)
	}
}

func (c *Coordinator) handleEnd(msg signaling.Message) {
	s := c.cur
	if s == nil || s.state.Terminal() || s.id != msg.CallID {
		// Unknown or already-ended call IDs are dropped without effect.
		return
	}
	reason := ReasonRemoteHangup
	switch msg.Reason {
	case signaling.ReasonTimeout:
		reason = ReasonTimeout
	case signaling.ReasonBusy:
		reason = ReasonBusy
	case signaling.ReasonConnectivityLost:
		reason = ReasonConnectivityLost
	}
	c.finish(StateEnded, reason)
}

func (c *Coordinator) handleServerError(msg signaling.Message) {
	s := c.cur
	if s == nil || s.state.Terminal() {
		c.log.Warnf("server error outside a call: %s", msg.Text)
		return
	}
	if msg.CallID != "" && msg.CallID != s.id {
		return
	}
	if msg.Reason == signaling.ReasonGlare {
		if s.state != StateDialing {
			// Our dial already folded into the peer's call.
			return
		}
		c.finish(StateEnded, ReasonBusy)
		return
	}
	c.log.Errorf("server error for call %s: %s", s.id, msg.Text)
	c.finish(StateError, ReasonSignalingError)
}

func (c *Coordinator) handleNegotiator(ev media.NegotiatorEvent) {
	s := c.cur
	if s == nil || s.state.Terminal() {
		return
	}
	switch ev.Type {
	case media.NegotiatorEventCandidate:
		if s.id == "" {
			c.log.Warnf("dropping local candidate gathered before call ID assignment")
			return
		}
		c.send(signaling.NewCandidate(s.id, ev.Candidate.SDP, ev.Candidate.Mid, ev.Candidate.Index))
	case media.NegotiatorEventConnectivity:
		c.handleConnectivity(s, ev.State)
	}
}

func (c *Coordinator) handleConnectivity(s *session, state media.ConnectivityState) {
	switch state {
	case media.ConnectivityConnected:
		c.stopTimer(&c.discTimer, &c.discC)
		if s.state == StateNegotiating {
			s.state = StateConnected
			s.connectedAt = time.Now()
			c.emit()
		}
	case media.ConnectivityDisconnected:
		if (s.state == StateConnected || s.state == StateNegotiating) && c.discC == nil {
			c.startTimer(&c.discTimer, &c.discC, c.config.DisconnectGrace)
		}
	case media.ConnectivityFailed:
		if s.id != "" {
			c.send(signaling.NewEnd(s.id, signaling.ReasonConnectivityLost))
		}
		c.finish(StateEnded, ReasonConnectivityLost)
	}
}

func (c *Coordinator) handleAsync(res asyncResult) {
	s := c.cur
	if s == nil || s.gen != res.gen || s.state.Terminal() {
		// Result of a call that is already over.
		return
	}
	if res.err != nil {
		c.log.Errorf("negotiation step failed: %v", res.err)
		if s.id != "" {
			c.send(signaling.NewEnd(s.id, signaling.ReasonHangup))
		}
		c.finish(StateError, ReasonNegotiationFailed)
		return
	}

	switch res.op {
	case opCapture:
		s.captureReady = true
		if s.direction == DirectionOutgoing {
			c.maybeStartOffer(s)
		} else if s.pendingOffer != "" {
			sdp := s.pendingOffer
			s.pendingOffer = ""
			c.goApplyOffer(s, sdp)
		}
	case opOffer:
		c.send(signaling.NewSessionDescription(s.id, signaling.RoleOffer, res.sdp))
	case opRemoteOffer:
		c.send(signaling.NewSessionDescription(s.id, signaling.RoleAnswer, res.sdp))
	case opRemoteAnswer:
		// Remote answer applied; connectivity events take it from here.
	}
}

// maybeStartOffer creates the caller's offer once capture is live and
// the callee has accepted, whichever comes last.
func (c *Coordinator) maybeStartOffer(s *session) {
	if !s.captureReady || !s.remoteAccepted || s.offerStarted {
		return
	}
	s.offerStarted = true
	neg, ctx, gen := s.neg, s.ctx, s.gen
	go func() {
		sdp, err := neg.CreateOffer(ctx)
		c.postAsync(asyncResult{gen: gen, op: opOffer, sdp: sdp, err: err})
	}()
}

func (c *Coordinator) goCapture(s *session) {
	neg, ctx, gen, kind := s.neg, s.ctx, s.gen, s.media.captureKind()
	go func() {
		err := neg.StartCapture(ctx, kind)
		c.postAsync(asyncResult{gen: gen, op: opCapture, err: err})
	}()
}

func (c *Coordinator) goApplyOffer(s *session, sdp string) {
	neg, ctx, gen := s.neg, s.ctx, s.gen
	go func() {
		if err := neg.SetRemoteDescription(media.Description{Offer: true, SDP: sdp}); err != nil {
			c.postAsync(asyncResult{gen: gen, op: opRemoteOffer, err: err})
			return
		}
		answer, err := neg.CreateAnswer(ctx)
		c.postAsync(asyncResult{gen: gen, op: opRemoteOffer, sdp: answer, err: err})
	}()
}

func (c *Coordinator) goApplyAnswer(s *session, sdp string) {
	neg, gen := s.neg, s.gen
	go func() {
		err := neg.SetRemoteDescription(media.Description{Offer: false, SDP: sdp})
		c.postAsync(asyncResult{gen: gen, op: opRemoteAnswer, err: err})
	}()
}

func (c *Coordinator) postAsync(res asyncResult) {
	select {
	case c.asyncc <- res:
	case <-c.stopCh:
	}
}

func (c *Coordinator) handleRingTimeout() {
	s := c.cur
	if s == nil || (s.state != StateDialing && s.state != StateRinging) {
		return
	}
	if s.direction == DirectionIncoming {
		c.send(signaling.NewAnswerDecision(s.id, false, signaling.ReasonTimeout))
	} else if s.id != "" {
		c.send(signaling.NewEnd(s.id, signaling.ReasonTimeout))
	}
	c.finish(StateEnded, ReasonTimeout)
}

func (c *Coordinator) handleDisconnectTimeout() {
	s := c.cur
	if s == nil || s.state.Terminal() {
		return
	}
	if s.id != "" {
		c.send(signaling.NewEnd(s.id, signaling.ReasonConnectivityLost))
	}
	c.finish(StateEnded, ReasonConnectivityLost)
}

func (c *Coordinator) handleGraceExpired() {
	c.clearSession()
	c.setStatus(Status{State: StateIdle})
}

// finish moves the current call to a terminal state, releases its media
// synchronously and arms the reset-to-Idle grace timer. Calling it on an
// already-terminal session is a no-op.
func (c *Coordinator) finish(state State, reason EndReason) {
	s := c.cur
	if s == nil || s.state.Terminal() {
		return
	}
	s.cancel()
	c.stopTimer(&c.ringTimer, &c.ringC)
	c.stopTimer(&c.discTimer, &c.discC)
	if s.neg != nil {
		if err := s.neg.Close(); err != nil {
			c.log.Warnf("media dispose failed: %v", err)
		}
	}
	s.state = state
	s.reason = reason
	c.log.Infof("call %s over: %s (%s)", s.id, state, reason)
	c.emit()
	c.startTimer(&c.graceTimer, &c.graceC, c.config.ResetGrace)
}

// clearSession drops a terminal session so the slot reads Idle.
func (c *Coordinator) clearSession() {
	if c.cur == nil {
		return
	}
	c.cur.cancel()
	if c.cur.neg != nil {
		c.cur.neg.Close()
	}
	c.cur = nil
	c.stopTimer(&c.graceTimer, &c.graceC)
}

func (c *Coordinator) send(msg signaling.Message) {
	if err := c.signaler.Send(msg); err != nil {
		c.log.Errorf("send %s failed: %v", msg.Type, err)
	}
}

func (c *Coordinator) startTimer(t **time.Timer, ch *<-chan time.Time, d time.Duration) {
	c.stopTimer(t, ch)
	timer := time.NewTimer(d)
	*t = timer
	*ch = timer.C
}

func (c *Coordinator) stopTimer(t **time.Timer, ch *<-chan time.Time) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
	*ch = nil
}

func (c *Coordinator) emit() {
	if c.cur == nil {
		c.setStatus(Status{State: StateIdle})
		return
	}
	c.setStatus(c.cur.status())
}

func (c *Coordinator) setStatus(st Status) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status = st
	for id, sub := range c.subs {
		select {
		case sub <- st:
		default:
			c.log.Warnf("status subscriber %d is lagging, dropping snapshot", id)
		}
	}
}
