package media

// ConnectivityState mirrors the media engine's ICE connectivity.
// It is owned exclusively by the engine; the call core only observes
// transitions.
type ConnectivityState int

const (
	ConnectivityNew ConnectivityState = iota
	ConnectivityChecking
	ConnectivityConnected
	ConnectivityDisconnected
	ConnectivityFailed
	ConnectivityClosed
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityNew:
		return "new"
	case ConnectivityChecking:
		return "checking"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDisconnected:
		return "disconnected"
	case ConnectivityFailed:
		return "failed"
	case ConnectivityClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CaptureKind selects which local devices a call captures
type CaptureKind int

const (
	// CaptureVoice captures microphone only
	CaptureVoice CaptureKind = iota
	// CaptureVideoAndVoice captures camera and microphone
	CaptureVideoAndVoice
)

func (k CaptureKind) String() string {
	switch k {
	case CaptureVoice:
		return "voice"
	case CaptureVideoAndVoice:
		return "video"
	default:
		return "unknown"
	}
}
