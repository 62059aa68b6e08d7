package call

import "errors"

var (
	// ErrBusy indicates a dial/accept while another call occupies the
	// session slot
	ErrBusy = errors.New("another call is active")

	// ErrNoActiveCall indicates a verb that needs a live call
	ErrNoActiveCall = errors.New("no active call")

	// ErrNotRinging indicates accept/reject outside an incoming ring
	ErrNotRinging = errors.New("no incoming call is ringing")

	// ErrClosed indicates the coordinator has been shut down
	ErrClosed = errors.New("coordinator is closed")
)
