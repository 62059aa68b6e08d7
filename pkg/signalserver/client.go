package signalserver

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mindflow/call_core/pkg/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// client is one authenticated websocket connection.
type client struct {
	server *Server
	conn   *websocket.Conn
	userID string
	send   chan []byte
	log    zerolog.Logger

	// dropped is owned by the hub loop
	dropped bool
}

func newClient(server *Server, conn *websocket.Conn, userID string) *client {
	return &client{
		server: server,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 64),
		log:    server.log.With().Str("user_id", userID).Logger(),
	}
}

// readPump decodes inbound frames and funnels them to the hub loop.
// One goroutine per connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.stopCh:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		// Identity comes from the authenticated connection, never from
		// the payload.
		msg.FromUserID = c.userID
		msg.Token = ""
		if err := msg.Validate(); err != nil {
			c.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("dropping invalid frame")
			continue
		}

		select {
		case c.server.inbound <- inboundMessage{client: c, msg: msg}:
		case <-c.server.stopCh:
			return
		}
	}
}

// writePump serializes all writes for the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a message to the connection's writer. Returns false
// when the buffer is full; the hub drops the connection rather than
// block on it.
func (c *client) enqueue(msg signaling.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal failed")
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
