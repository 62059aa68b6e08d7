package media

import "errors"

var (
	// ErrNegotiatorClosed indicates the negotiator has been disposed
	ErrNegotiatorClosed = errors.New("negotiator is closed")

	// ErrEngineClosed indicates the engine has been disposed
	ErrEngineClosed = errors.New("engine is closed")

	// ErrNoRemoteDescription indicates an operation that needs the remote
	// description before it has been applied
	ErrNoRemoteDescription = errors.New("remote description not set")

	// ErrCaptureNotStarted indicates a device operation before capture
	ErrCaptureNotStarted = errors.New("capture not started")

	// ErrNoVideoTrack indicates a video operation on a voice-only capture
	ErrNoVideoTrack = errors.New("no video track")
)
