package media

import (
	"context"
	"sync"

	"github.com/pion/logging"
)

// NegotiatorEventType classifies negotiator events
type NegotiatorEventType int

const (
	// NegotiatorEventCandidate carries a locally-gathered candidate
	NegotiatorEventCandidate NegotiatorEventType = iota
	// NegotiatorEventConnectivity carries a connectivity transition
	NegotiatorEventConnectivity
)

// NegotiatorEvent is one item on the negotiator's ordered event stream.
type NegotiatorEvent struct {
	Type      NegotiatorEventType
	Candidate Candidate
	State     ConnectivityState
}

// NegotiatorConfig configures a Negotiator.
type NegotiatorConfig struct {
	// EventBuffer is the capacity of the event channel
	EventBuffer int

	LoggerFactory logging.LoggerFactory
}

// DefaultNegotiatorConfig returns a config with production defaults.
func DefaultNegotiatorConfig() NegotiatorConfig {
	return NegotiatorConfig{
		EventBuffer:   32,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	}
}

// Negotiator adapts the call core's negotiation verbs onto a media Engine
// and surfaces the engine's callbacks as one ordered event stream.
//
// Candidates may legitimately arrive before the remote description they
// pertain to; the negotiator buffers them and flushes the buffer, in
// arrival order, immediately after SetRemoteDescription succeeds.
type Negotiator struct {
	mu     sync.Mutex
	engine Engine
	log    logging.LeveledLogger

	events chan NegotiatorEvent
	stopCh chan struct{}

	remoteSet bool
	pending   []Candidate
	closed    bool
}

// NewNegotiator wraps an engine. The negotiator owns the engine from here
// on: Close disposes it.
func NewNegotiator(engine Engine, config NegotiatorConfig) *Negotiator {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 32
	}
	n := &Negotiator{
		engine: engine,
		log:    config.LoggerFactory.NewLogger("negotiator"),
		events: make(chan NegotiatorEvent, config.EventBuffer),
		stopCh: make(chan struct{}),
	}
	engine.OnLocalCandidate(func(c Candidate) {
		n.emit(NegotiatorEvent{Type: NegotiatorEventCandidate, Candidate: c})
	})
	engine.OnConnectivityChange(func(s ConnectivityState) {
		n.emit(NegotiatorEvent{Type: NegotiatorEventConnectivity, State: s})
	})
	return n
}

// Events returns the ordered stream of local candidates and connectivity
// transitions. Single consumer.
func (n *Negotiator) Events() <-chan NegotiatorEvent {
	return n.events
}

// StartCapture acquires local devices for the given media kind.
func (n *Negotiator) StartCapture(ctx context.Context, kind CaptureKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNegotiatorClosed
	}
	return n.engine.StartCapture(ctx, kind)
}

// CreateOffer produces and applies a local offer.
func (n *Negotiator) CreateOffer(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return "", ErrNegotiatorClosed
	}
	return n.engine.CreateOffer(ctx)
}

// CreateAnswer produces and applies a local answer.
func (n *Negotiator) CreateAnswer(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return "", ErrNegotiatorClosed
	}
	return n.engine.CreateAnswer(ctx)
}

// SetRemoteDescription applies the remote description, then flushes any
// candidates that arrived early, preserving their arrival order.
func (n *Negotiator) SetRemoteDescription(desc Description) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNegotiatorClosed
	}
	if err := n.engine.SetRemoteDescription(desc); err != nil {
		return err
	}
	n.remoteSet = true

	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		if err := n.engine.AddICECandidate(c); err != nil {
			// One unusable candidate must not kill the negotiation;
			// the remaining paths may still connect.
			n.log.Warnf("buffered candidate rejected: %v", err)
		}
	}
	return nil
}

// AddCandidate applies a remote candidate, or buffers it until the remote
// description is in place.
func (n *Negotiator) AddCandidate(c Candidate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNegotiatorClosed
	}
	if !n.remoteSet {
		n.pending = append(n.pending, c)
		return nil
	}
	return n.engine.AddICECandidate(c)
}

// SetAudioEnabled mutes/unmutes the microphone track.
func (n *Negotiator) SetAudioEnabled(enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNegotiatorClosed
	}
	return n.engine.SetAudioEnabled(enabled)
}

// SetVideoEnabled disables/enables the camera track.
func (n *Negotiator) SetVideoEnabled(enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNegotiatorClosed
	}
	return n.engine.SetVideoEnabled(enabled)
}

// SwitchCamera flips to the next capture device.
func (n *Negotiator) SwitchCamera() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return "", ErrNegotiatorClosed
	}
	return n.engine.SwitchCamera()
}

// Close disposes the engine exactly once. When Close returns, capture
// devices and the peer-connection resource are released; the next call
// must not contend with this one for the camera. Subsequent calls are
// no-ops.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.pending = nil
	close(n.stopCh)
	return n.engine.Close()
}

func (n *Negotiator) emit(ev NegotiatorEvent) {
	select {
	case n.events <- ev:
	case <-n.stopCh:
	}
}
