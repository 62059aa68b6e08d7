package media

import "context"

// Candidate is one proposed network path for the peer transport.
type Candidate struct {
	SDP   string
	Mid   *string
	Index *uint16
}

// Description is a proposed media session, exchanged as offer/answer.
type Description struct {
	Offer bool // true for offer, false for answer
	SDP   string
}

// Engine is the contract the external media/peer-connection engine must
// satisfy. PionEngine is the production implementation; tests substitute
// a fake. Callbacks must be registered before the first negotiation verb
// is called and may fire from engine-owned goroutines.
type Engine interface {
	// StartCapture acquires local devices and attaches their tracks.
	StartCapture(ctx context.Context, kind CaptureKind) error

	// CreateOffer produces a local offer and applies it as the local
	// description.
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer produces a local answer to the applied remote offer
	// and applies it as the local description.
	CreateAnswer(ctx context.Context) (string, error)

	// SetRemoteDescription applies the remote offer or answer.
	SetRemoteDescription(desc Description) error

	// AddICECandidate applies one remote candidate. The engine requires
	// the remote description to be applied first; the Negotiator's buffer
	// guarantees that ordering.
	AddICECandidate(c Candidate) error

	// SetAudioEnabled mutes/unmutes the captured microphone track.
	SetAudioEnabled(enabled bool) error

	// SetVideoEnabled disables/enables the captured camera track.
	SetVideoEnabled(enabled bool) error

	// SwitchCamera flips to the next capture device and returns its name.
	SwitchCamera() (string, error)

	// OnLocalCandidate registers the sink for locally-gathered candidates.
	OnLocalCandidate(fn func(Candidate))

	// OnConnectivityChange registers the sink for connectivity transitions.
	OnConnectivityChange(fn func(ConnectivityState))

	// Close releases capture devices and the peer-connection resource.
	// It must be synchronous: when Close returns, the devices are free
	// for the next call. Idempotent.
	Close() error
}
