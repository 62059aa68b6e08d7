package call

import (
	"time"

	"github.com/pion/logging"
)

// Config configures a Coordinator.
type Config struct {
	// RingTimeout bounds how long a call may ring. For incoming calls
	// its expiry behaves as a local reject; for outgoing calls the
	// caller gives up and ends the call.
	RingTimeout time.Duration

	// ResetGrace is how long a terminal state stays visible before the
	// coordinator resets to Idle.
	ResetGrace time.Duration

	// DisconnectGrace is how long a transient connectivity loss is
	// tolerated before the call is declared over.
	DisconnectGrace time.Duration

	// StatusBuffer is the per-subscriber channel capacity
	StatusBuffer int

	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns a config with production defaults.
func DefaultConfig() Config {
	return Config{
		RingTimeout:     45 * time.Second,
		ResetGrace:      3 * time.Second,
		DisconnectGrace: 5 * time.Second,
		StatusBuffer:    16,
		LoggerFactory:   logging.NewDefaultLoggerFactory(),
	}
}
