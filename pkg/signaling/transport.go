package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// TokenProvider yields a currently-valid bearer credential on demand.
// The transport asks for a fresh token on every (re)connect so that
// short-lived credentials keep working across reconnects.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a plain function to a TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenProvider.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// EventType classifies transport events
type EventType int

const (
	// EventConnected fires after a successful connect and auth
	EventConnected EventType = iota
	// EventDisconnected fires when the connection drops
	EventDisconnected
	// EventAuthResult carries the server's auth verdict
	EventAuthResult
	// EventMessage carries an inbound signaling message
	EventMessage
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventAuthResult:
		return "auth-result"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one item on the transport's ordered event stream.
type Event struct {
	Type    EventType
	OK      bool     // auth verdict, only for EventAuthResult
	Err     error    // failure detail, for EventDisconnected / EventAuthResult
	Message *Message // only for EventMessage, already validated
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	// URL is the websocket endpoint of the signaling server
	URL string
	// Tokens supplies the bearer credential for every (re)connect
	Tokens TokenProvider

	// Reconnect backoff bounds
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// HandshakeTimeout bounds dial + auth on each attempt
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outbound frame
	WriteTimeout time.Duration

	// OutboxSize bounds the in-memory queue used while disconnected.
	// Queued messages are not durable; they are lost on Close.
	OutboxSize int
	// EventBuffer is the capacity of the event channel
	EventBuffer int

	LoggerFactory logging.LoggerFactory
}

// DefaultTransportConfig returns a config with production defaults.
func DefaultTransportConfig(url string, tokens TokenProvider) TransportConfig {
	return TransportConfig{
		URL:              url,
		Tokens:           tokens,
		BackoffBase:      500 * time.Millisecond,
		BackoffMax:       30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		OutboxSize:       64,
		EventBuffer:      64,
		LoggerFactory:    logging.NewDefaultLoggerFactory(),
	}
}

// TransportOption customizes a Transport.
type TransportOption func(*Transport)

// WithDialer sets a custom websocket dialer (used by tests and vnet setups).
func WithDialer(d *websocket.Dialer) TransportOption {
	return func(t *Transport) {
		t.dialer = d
	}
}

// Transport owns exactly one live, authenticated duplex connection to the
// signaling server. It reconnects with bounded exponential backoff on drop
// and re-authenticates on every successful (re)connect. Payloads are not
// interpreted; routing is the server's job.
type Transport struct {
	mu     sync.Mutex
	config TransportConfig
	log    logging.LeveledLogger
	dialer *websocket.Dialer

	conn    *websocket.Conn // nil while disconnected
	outbox  []Message
	dropped uint64

	events  chan Event
	stopCh  chan struct{}
	running bool
	closed  bool
}

// NewTransport creates a transport. Call Connect to start it.
func NewTransport(config TransportConfig, opts ...TransportOption) *Transport {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	t := &Transport{
		config: config,
		log:    config.LoggerFactory.NewLogger("sigclient"),
		dialer: &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		events: make(chan Event, config.EventBuffer),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Events returns the ordered stream of inbound messages and
// connection-lifecycle events. Single consumer.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Connect starts the connection loop. It returns immediately; progress is
// reported on the event stream. Calling Connect again after an auth
// rejection retries with a fresh credential.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.running {
		return nil
	}
	t.running = true
	go t.runLoop()
	return nil
}

// Send transmits a message, or queues it while disconnected. Queued
// messages are flushed in order on the next successful connect and are
// dropped on Close (at-most-once delivery).
func (t *Transport) Send(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}

	if t.conn != nil {
		if err := t.writeLocked(msg); err == nil {
			return nil
		}
		// Write failed; the read pump will notice the dead connection.
		// Fall through and queue for the reconnect.
	}

	if len(t.outbox) >= t.config.OutboxSize {
		t.outbox = t.outbox[1:]
		t.dropped++
		t.log.Warnf("outbox full, dropped oldest message (total dropped: %d)", t.dropped)
	}
	t.outbox = append(t.outbox, msg)
	return nil
}

// writeLocked writes one frame. Caller holds t.mu.
func (t *Transport) writeLocked(msg Message) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	return t.conn.WriteJSON(&msg)
}

// Close tears down the transport. Idempotent. Queued messages are lost.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.outbox = nil
	t.mu.Unlock()

	close(t.stopCh)
	if conn != nil {
		conn.Close()
	}
	return nil
}

// runLoop drives connect, auth, pump, backoff, reconnect.
func (t *Transport) runLoop() {
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		conn, err := t.dialAndAuth()
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				t.log.Errorf("auth rejected: %v", err)
				t.emit(Event{Type: EventAuthResult, OK: false, Err: err})
				return
			}
			t.emit(Event{Type: EventDisconnected, Err: err})
			if !t.sleepBackoff(attempt) {
				return
			}
			attempt++
			continue
		}
		attempt = 0

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		pending := t.outbox
		t.outbox = nil
		var flushErr error
		for i, msg := range pending {
			if flushErr = t.writeLocked(msg); flushErr != nil {
				t.outbox = append(t.outbox, pending[i:]...)
				break
			}
		}
		t.mu.Unlock()

		t.emit(Event{Type: EventAuthResult, OK: true})
		t.emit(Event{Type: EventConnected})

		readErr := t.readPump(conn)

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close()

		select {
		case <-t.stopCh:
			return
		default:
		}
		t.emit(Event{Type: EventDisconnected, Err: readErr})
	}
}

// dialAndAuth dials the server and completes the auth handshake.
func (t *Transport) dialAndAuth() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.HandshakeTimeout)
	defer cancel()

	token, err := t.config.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential fetch: %w", err)
	}

	conn, _, err := t.dialer.DialContext(ctx, t.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.config.URL, err)
	}

	conn.SetWriteDeadline(time.Now().Add(t.config.HandshakeTimeout))
	if err := conn.WriteJSON(&Message{Type: MessageTypeAuth, Token: token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth write: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(t.config.HandshakeTimeout))
	var verdict Message
	if err := conn.ReadJSON(&verdict); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth read: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if verdict.Type != MessageTypeAuthResult {
		conn.Close()
		return nil, fmt.Errorf("%w: expected auth-result, got %q", ErrInvalidMessage, verdict.Type)
	}
	if !verdict.OK {
		conn.Close()
		reason := verdict.Text
		if reason == "" {
			reason = "server rejected credential"
		}
		return nil, fmt.Errorf("%w: %s", ErrAuthRejected, reason)
	}

	return conn, nil
}

// readPump delivers inbound messages until the connection dies.
func (t *Transport) readPump(conn *websocket.Conn) error {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				t.log.Errorf("unexpected close: %v", err)
			}
			return err
		}
		if err := msg.Validate(); err != nil {
			t.log.Warnf("dropping inbound message: %v", err)
			continue
		}
		m := msg
		t.emit(Event{Type: EventMessage, Message: &m})
	}
}

// emit delivers an event in order, blocking rather than dropping.
func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.stopCh:
	}
}

// sleepBackoff waits base*2^attempt capped at max. Returns false on stop.
func (t *Transport) sleepBackoff(attempt int) bool {
	d := t.config.BackoffBase
	for i := 0; i < attempt && d < t.config.BackoffMax; i++ {
		d *= 2
	}
	if d > t.config.BackoffMax {
		d = t.config.BackoffMax
	}
	select {
	case <-time.After(d):
		return true
	case <-t.stopCh:
		return false
	}
}
