package signalserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mindflow/call_core/pkg/signaling"
)

// Authenticator validates the bearer credential of the first frame and
// resolves it to a user identity.
type Authenticator interface {
	ValidateToken(token string) (userID string, err error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(token string) (string, error)

func (f AuthenticatorFunc) ValidateToken(token string) (string, error) {
	return f(token)
}

// ErrInvalidToken is the rejection an Authenticator should return for a
// credential it does not recognize.
var ErrInvalidToken = errors.New("invalid token")

// callState tracks where a relayed call is in its lifecycle.
type callState int

const (
	callRinging callState = iota
	callAnswered
)

// serverCall is the relay-side record of one call between two users.
type serverCall struct {
	id     string
	caller string
	callee string
	media  string
	state  callState
}

// other returns the counterparty of userID within the call.
func (sc *serverCall) other(userID string) string {
	if sc.caller == userID {
		return sc.callee
	}
	return sc.caller
}

func (sc *serverCall) involves(userID string) bool {
	return sc.caller == userID || sc.callee == userID
}

type inboundMessage struct {
	client *client
	msg    signaling.Message
}

// Config configures a Server.
type Config struct {
	// AuthTimeout bounds how long a fresh connection may take to send
	// its auth frame
	AuthTimeout time.Duration

	Logger zerolog.Logger
}

// DefaultConfig returns a config with production defaults.
func DefaultConfig() Config {
	return Config{
		AuthTimeout: 10 * time.Second,
		Logger:      zerolog.Nop(),
	}
}

// Server relays call signaling between authenticated users. One hub
// goroutine owns the connection registry and the call table, so message
// handling per call is totally ordered: when two users dial each other
// at once, whichever invite the hub sees first creates the call and the
// other dial is refused as glare.
type Server struct {
	config   Config
	auth     Authenticator
	upgrader websocket.Upgrader
	log      zerolog.Logger

	register   chan *client
	unregister chan *client
	inbound    chan inboundMessage

	// hub-loop state
	clients map[string]*client
	calls   map[string]*serverCall
	pairs   map[string]string // pair key -> call ID

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewServer creates a signaling relay around the given authenticator.
func NewServer(config Config, auth Authenticator) *Server {
	return &Server{
		config: config,
		auth:   auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:        config.Logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inboundMessage, 64),
		clients:    make(map[string]*client),
		calls:      make(map[string]*serverCall),
		pairs:      make(map[string]string),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the hub loop.
func (s *Server) Start() {
	go s.run()
}

// Close stops the hub and disconnects every client.
func (s *Server) Close() error {
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// ServeHTTP upgrades the request, performs the auth handshake and
// registers the connection. Implements http.Handler so it mounts
// directly on a router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	userID, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("auth handshake failed")
		conn.Close()
		return
	}

	cl := newClient(s, conn, userID)
	select {
	case s.register <- cl:
	case <-s.stopCh:
		conn.Close()
		return
	}
	go cl.writePump()
	go cl.readPump()
}

// handshake reads the auth frame and answers with an auth-result.
func (s *Server) handshake(conn *websocket.Conn) (string, error) {
	timeout := s.config.AuthTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn.SetReadDeadline(time.Now().Add(timeout))

	var msg signaling.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return "", err
	}
	conn.SetReadDeadline(time.Time{})
	if msg.Type != signaling.MessageTypeAuth || msg.Token == "" {
		s.writeAuthResult(conn, false)
		return "", signaling.ErrInvalidMessage
	}

	userID, err := s.auth.ValidateToken(msg.Token)
	if err != nil {
		s.writeAuthResult(conn, false)
		return "", err
	}
	if err := s.writeAuthResult(conn, true); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *Server) writeAuthResult(conn *websocket.Conn, ok bool) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(signaling.Message{Type: signaling.MessageTypeAuthResult, OK: ok})
}

func (s *Server) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			for _, cl := range s.clients {
				s.dropClient(cl)
			}
			return
		case cl := <-s.register:
			s.handleRegister(cl)
		case cl := <-s.unregister:
			s.handleUnregister(cl)
		case in := <-s.inbound:
			s.handleMessage(in.client, in.msg)
		}
	}
}

// handleRegister adopts a fresh connection. A newer connection for the
// same user replaces the older one; re-auth after a client-side
// reconnect lands here.
func (s *Server) handleRegister(cl *client) {
	if prev, ok := s.clients[cl.userID]; ok {
		s.log.Info().Str("user_id", cl.userID).Msg("replacing existing connection")
		s.dropClient(prev)
	}
	s.clients[cl.userID] = cl
	s.log.Info().Str("user_id", cl.userID).Msg("client connected")
}

func (s *Server) handleUnregister(cl *client) {
	if s.clients[cl.userID] != cl {
		// Already replaced by a newer connection.
		s.closeClient(cl)
		return
	}
	delete(s.clients, cl.userID)
	s.closeClient(cl)
	s.log.Info().Str("user_id", cl.userID).Msg("client disconnected")

	// End any call the user was part of; the peer should not ring or
	// talk into a dead connection forever.
	for _, call := range s.calls {
		if !call.involves(cl.userID) {
			continue
		}
		s.endCall(call, cl.userID, signaling.ReasonHangup)
	}
}

// dropClient removes a connection from the registry and closes it.
func (s *Server) dropClient(cl *client) {
	if s.clients[cl.userID] == cl {
		delete(s.clients, cl.userID)
	}
	s.closeClient(cl)
}

func (s *Server) closeClient(cl *client) {
	if cl.dropped {
		return
	}
	cl.dropped = true
	close(cl.send)
}

// deliver routes a message to a user, dropping the connection when its
// writer cannot keep up. Returns false when the user is offline.
func (s *Server) deliver(userID string, msg signaling.Message) bool {
	cl, ok := s.clients[userID]
	if !ok || cl.dropped {
		return false
	}
	if !cl.enqueue(msg) {
		s.log.Warn().Str("user_id", userID).Msg("send buffer full, dropping connection")
		s.dropClient(cl)
		return false
	}
	return true
}

func pairKey(a, b string) string {
	if a < b {
		return a + "\x00" + b
	}
	return b + "\x00" + a
}

func (s *Server) handleMessage(cl *client, msg signaling.Message) {
	if cl.dropped {
		return
	}
	switch msg.Type {
	case signaling.MessageTypeInvite:
		s.handleInvite(cl, msg)
	case signaling.MessageTypeAnswerDecision:
		s.handleAnswerDecision(cl, msg)
	case signaling.MessageTypeSessionDescription, signaling.MessageTypeCandidate:
		s.relay(cl, msg)
	case signaling.MessageTypeEnd:
		s.handleEnd(cl, msg)
	default:
		s.log.Debug().Str("type", string(msg.Type)).Str("user_id", cl.userID).Msg("ignoring message")
	}
}

func (s *Server) handleInvite(cl *client, msg signaling.Message) {
	if msg.ToUserID == cl.userID {
		s.sendError(cl, "", "cannot call yourself")
		return
	}

	key := pairKey(cl.userID, msg.ToUserID)
	if existingID, ok := s.pairs[key]; ok {
		existing := s.calls[existingID]
		if existing != nil && existing.caller != cl.userID {
			// Both sides dialed each other; the first invite through the
			// hub won. The loser's client folds into the winner's call
			// when the forwarded invite reaches it.
			s.sendGlare(cl)
			return
		}
		// Duplicate invite from the same caller, likely a retry after
		// reconnect; re-ack the existing call.
		if existing != nil {
			s.deliver(cl.userID, signaling.Message{Type: signaling.MessageTypeRingAck, CallID: existing.id})
			return
		}
	}

	call := &serverCall{
		id:     uuid.NewString(),
		caller: cl.userID,
		callee: msg.ToUserID,
		media:  msg.MediaKind,
		state:  callRinging,
	}

	if !s.deliver(msg.ToUserID, signaling.Message{
		Type:       signaling.MessageTypeInvite,
		CallID:     call.id,
		FromUserID: cl.userID,
		ToUserID:   msg.ToUserID,
		MediaKind:  msg.MediaKind,
	}) {
		s.sendError(cl, "", "peer is offline")
		return
	}

	s.calls[call.id] = call
	s.pairs[key] = call.id
	s.deliver(cl.userID, signaling.Message{Type: signaling.MessageTypeRingAck, CallID: call.id})
	s.log.Info().
		Str("call_id", call.id).
		Str("caller", call.caller).
		Str("callee", call.callee).
		Str("media", call.media).
		Msg("call ringing")
}

func (s *Server) handleAnswerDecision(cl *client, msg signaling.Message) {
	call, ok := s.calls[msg.CallID]
	if !ok || call.callee != cl.userID {
		return
	}
	accepted := msg.Accepted != nil && *msg.Accepted
	s.deliver(call.caller, msg)
	if accepted {
		call.state = callAnswered
		s.log.Info().Str("call_id", call.id).Msg("call answered")
		return
	}
	s.log.Info().Str("call_id", call.id).Str("reason", msg.Reason).Msg("call refused")
	s.removeCall(call)
}

// relay forwards session descriptions and candidates to the other party
// of the call the sender belongs to.
func (s *Server) relay(cl *client, msg signaling.Message) {
	call, ok := s.calls[msg.CallID]
	if !ok || !call.involves(cl.userID) {
		s.log.Debug().
			Str("call_id", msg.CallID).
			Str("user_id", cl.userID).
			Str("type", string(msg.Type)).
			Msg("dropping message for unknown call")
		return
	}
	msg.ToUserID = call.other(cl.userID)
	s.deliver(msg.ToUserID, msg)
}

func (s *Server) handleEnd(cl *client, msg signaling.Message) {
	call, ok := s.calls[msg.CallID]
	if !ok || !call.involves(cl.userID) {
		return
	}
	reason := msg.Reason
	if reason == "" {
		reason = signaling.ReasonHangup
	}
	s.endCall(call, cl.userID, reason)
}

// endCall notifies the counterparty and forgets the call.
func (s *Server) endCall(call *serverCall, byUserID, reason string) {
	s.deliver(call.other(byUserID), signaling.Message{
		Type:       signaling.MessageTypeEnd,
		CallID:     call.id,
		FromUserID: byUserID,
		Reason:     reason,
	})
	s.log.Info().Str("call_id", call.id).Str("by", byUserID).Str("reason", reason).Msg("call ended")
	s.removeCall(call)
}

func (s *Server) removeCall(call *serverCall) {
	delete(s.calls, call.id)
	key := pairKey(call.caller, call.callee)
	if s.pairs[key] == call.id {
		delete(s.pairs, key)
	}
}

func (s *Server) sendGlare(cl *client) {
	s.deliver(cl.userID, signaling.Message{
		Type:   signaling.MessageTypeError,
		Reason: signaling.ReasonGlare,
		Text:   "call already in progress with this user",
	})
}

func (s *Server) sendError(cl *client, callID, text string) {
	s.deliver(cl.userID, signaling.Message{
		Type:   signaling.MessageTypeError,
		CallID: callID,
		Text:   text,
	})
}
