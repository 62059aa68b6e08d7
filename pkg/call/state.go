package call

import "github.com/mindflow/call_core/pkg/media"

// State is the call lifecycle state. Transitions are monotonic except
// for the reset to Idle after a terminal state's grace period.
type State int

const (
	StateIdle State = iota
	StateDialing
	StateRinging
	StateNegotiating
	StateConnected
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the call.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateError
}

// Direction distinguishes who placed the call
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// MediaKind selects the media of a call
type MediaKind int

const (
	MediaVoice MediaKind = iota
	MediaVideoAndVoice
)

func (k MediaKind) String() string {
	if k == MediaVideoAndVoice {
		return "video"
	}
	return "voice"
}

// Wire returns the on-the-wire media kind.
func (k MediaKind) Wire() string {
	return k.String()
}

// MediaKindFromWire parses the on-the-wire media kind. Unknown values
// degrade to voice.
func MediaKindFromWire(s string) MediaKind {
	if s == "video" {
		return MediaVideoAndVoice
	}
	return MediaVoice
}

// captureKind maps the call media to the engine's capture selection.
func (k MediaKind) captureKind() media.CaptureKind {
	if k == MediaVideoAndVoice {
		return media.CaptureVideoAndVoice
	}
	return media.CaptureVoice
}

// EndReason explains a terminal transition.
type EndReason string

const (
	ReasonNone              EndReason = ""
	ReasonDeclined          EndReason = "declined"
	ReasonTimeout           EndReason = "timeout"
	ReasonHangup            EndReason = "hangup"
	ReasonRemoteHangup      EndReason = "remote-hangup"
	ReasonBusy              EndReason = "busy"
	ReasonNegotiationFailed EndReason = "negotiation-failed"
	ReasonConnectivityLost  EndReason = "connectivity-lost"
	ReasonAuthFailure       EndReason = "auth-failure"
	ReasonSignalingError    EndReason = "signaling-error"
)
