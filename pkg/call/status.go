package call

import "time"

// Status is an immutable snapshot of the call state, emitted on the
// coordinator's observable stream and returned by Status().
type Status struct {
	State     State
	CallID    string
	PeerID    string
	Direction Direction
	Media     MediaKind
	Reason    EndReason

	StartedAt   time.Time
	ConnectedAt time.Time
}

// Duration returns the connected time so far, zero before Connected.
func (s Status) Duration() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(s.ConnectedAt)
}
