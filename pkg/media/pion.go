package media

import (
	"context"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// PionEngineConfig configures the production engine.
type PionEngineConfig struct {
	// ICEServers lists STUN/TURN servers for connectivity gathering
	ICEServers []webrtc.ICEServer

	LoggerFactory logging.LoggerFactory
}

// DefaultPionEngineConfig returns a config with production defaults.
func DefaultPionEngineConfig() PionEngineConfig {
	return PionEngineConfig{
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	}
}

// PionEngineOption customizes a PionEngine.
type PionEngineOption func(*PionEngine)

// WithAPI sets a custom WebRTC API (used by tests and vnet setups).
func WithAPI(api *webrtc.API) PionEngineOption {
	return func(e *PionEngine) {
		e.api = api
	}
}

// PionEngine is the production Engine on a pion PeerConnection.
type PionEngine struct {
	mu sync.Mutex

	api     *webrtc.API
	pc      *webrtc.PeerConnection
	capture *CaptureSource

	onCandidate    func(Candidate)
	onConnectivity func(ConnectivityState)

	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
	closed        bool
}

// NewPionEngine creates the peer connection and wires its event handlers.
func NewPionEngine(config PionEngineConfig, opts ...PionEngineOption) (*PionEngine, error) {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	e := &PionEngine{
		loggerFactory: config.LoggerFactory,
		log:           config.LoggerFactory.NewLogger("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.api == nil {
		m := &webrtc.MediaEngine{}
		if err := m.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}
		e.api = webrtc.NewAPI(webrtc.WithMediaEngine(m))
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		return nil, err
	}
	e.pc = pc

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		e.mu.Lock()
		fn := e.onCandidate
		e.mu.Unlock()
		if fn != nil {
			fn(Candidate{SDP: init.Candidate, Mid: init.SDPMid, Index: init.SDPMLineIndex})
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.mu.Lock()
		fn := e.onConnectivity
		e.mu.Unlock()
		if fn != nil {
			fn(mapICEState(state))
		}
	})

	return e, nil
}

// mapICEState translates pion's ICE connection state.
func mapICEState(state webrtc.ICEConnectionState) ConnectivityState {
	switch state {
	case webrtc.ICEConnectionStateNew:
		return ConnectivityNew
	case webrtc.ICEConnectionStateChecking:
		return ConnectivityChecking
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return ConnectivityConnected
	case webrtc.ICEConnectionStateDisconnected:
		return ConnectivityDisconnected
	case webrtc.ICEConnectionStateFailed:
		return ConnectivityFailed
	default:
		return ConnectivityClosed
	}
}

// OnLocalCandidate implements Engine.
func (e *PionEngine) OnLocalCandidate(fn func(Candidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = fn
}

// OnConnectivityChange implements Engine.
func (e *PionEngine) OnConnectivityChange(fn func(ConnectivityState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnectivity = fn
}

// StartCapture acquires the capture source and publishes its tracks.
func (e *PionEngine) StartCapture(ctx context.Context, kind CaptureKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.capture != nil {
		return nil
	}

	capture, err := NewCaptureSource(kind, e.loggerFactory)
	if err != nil {
		return err
	}

	sender, err := e.pc.AddTrack(capture.AudioTrack())
	if err != nil {
		capture.Close()
		return err
	}
	go drainRTCP(sender)

	if video := capture.VideoTrack(); video != nil {
		sender, err := e.pc.AddTrack(video)
		if err != nil {
			capture.Close()
			return err
		}
		go drainRTCP(sender)
	}

	capture.Start()
	e.capture = capture
	return nil
}

// drainRTCP consumes sender feedback; the stream blocks without a reader.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// CreateOffer implements Engine.
func (e *PionEngine) CreateOffer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrEngineClosed
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

// CreateAnswer implements Engine.
func (e *PionEngine) CreateAnswer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrEngineClosed
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

// SetRemoteDescription implements Engine.
func (e *PionEngine) SetRemoteDescription(desc Description) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	sdpType := webrtc.SDPTypeAnswer
	if desc.Offer {
		sdpType = webrtc.SDPTypeOffer
	}
	return e.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType,
		SDP:  desc.SDP,
	})
}

// AddICECandidate implements Engine.
func (e *PionEngine) AddICECandidate(c Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.SDP,
		SDPMid:        c.Mid,
		SDPMLineIndex: c.Index,
	})
}

// SetAudioEnabled implements Engine.
func (e *PionEngine) SetAudioEnabled(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.capture == nil {
		return ErrCaptureNotStarted
	}
	e.capture.SetAudioEnabled(enabled)
	return nil
}

// SetVideoEnabled implements Engine.
func (e *PionEngine) SetVideoEnabled(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.capture == nil {
		return ErrCaptureNotStarted
	}
	return e.capture.SetVideoEnabled(enabled)
}

// SwitchCamera implements Engine.
func (e *PionEngine) SwitchCamera() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrEngineClosed
	}
	if e.capture == nil {
		return "", ErrCaptureNotStarted
	}
	return e.capture.SwitchCamera()
}

// Close releases capture and the peer connection synchronously. Idempotent.
func (e *PionEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	capture := e.capture
	e.capture = nil
	pc := e.pc
	e.mu.Unlock()

	if capture != nil {
		capture.Close()
	}
	if pc != nil {
		return pc.Close()
	}
	return nil
}
