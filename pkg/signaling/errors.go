package signaling

import "errors"

var (
	// ErrInvalidMessage indicates a message that violates the wire contract
	ErrInvalidMessage = errors.New("invalid signaling message")

	// ErrTransportClosed indicates the transport has been closed
	ErrTransportClosed = errors.New("transport is closed")

	// ErrAuthRejected indicates the server rejected the credential
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrOutboxFull indicates the offline send queue is full
	ErrOutboxFull = errors.New("outbox is full")
)
