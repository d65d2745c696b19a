// Package clientchannel implements the persistent bidirectional message
// channel to the browser: a thin typed-event envelope over a gorilla
// websocket connection, with a server-driven ping/pong heartbeat.
package clientchannel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/webshell/broker/internal/logging"

	"github.com/gorilla/websocket"
)

var logger = logging.GetLogger("client-channel")

const (
	pingInterval  = 30 * time.Second
	pongWait      = 60 * time.Second
	writeWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the wire shape of every message: an event name plus its
// event-specific JSON payload.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is a decoded inbound message handed to the broker.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Channel is one client's persistent connection. Multiplexing is not
// required: one session per channel.
type Channel struct {
	ID   string
	conn *websocket.Conn

	writeMu sync.Mutex
	events  chan Event
	closed  chan struct{}
	once    sync.Once
}

// Upgrade upgrades an incoming HTTP request to a websocket connection and
// wraps it in a Channel, identified by id.
func Upgrade(w http.ResponseWriter, r *http.Request, id string) (*Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}

	ch := &Channel{
		ID:     id,
		conn:   conn,
		events: make(chan Event, 32),
		closed: make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go ch.readLoop()
	go ch.pingLoop()

	return ch, nil
}

// Events delivers decoded inbound messages in arrival order. The channel is
// closed when the connection ends.
func (c *Channel) Events() <-chan Event { return c.events }

// Closed fires when the underlying connection has ended.
func (c *Channel) Closed() <-chan struct{} { return c.closed }

// Send writes a typed event to the client. It is safe for concurrent use.
func (c *Channel) Send(event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	env := envelope{Event: event, Payload: body}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteJSON(env)
}

// SendOutput is a convenience wrapper sending raw shell output bytes as a
// terminal:output event.
func (c *Channel) SendOutput(data []byte) error {
	return c.Send(EventOutput, OutputPayload{Data: data})
}

// SendError sends a terminal:error event with the given human-readable
// message.
func (c *Channel) SendError(message string) error {
	return c.Send(EventError, ErrorPayload{Message: message})
}

// SendDisconnected sends a terminal:disconnected event, normalizing legacy
// reason aliases onto the canonical set.
func (c *Channel) SendDisconnected(reason string) error {
	return c.Send(EventDisconnected, DisconnectedPayload{Reason: normalizeReason(reason)})
}

// Close closes the underlying connection. Idempotent.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Channel) readLoop() {
	defer func() {
		close(c.events)
		c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			logger.WithField("channel", c.ID).Debugf("read loop ended: %v", err)

			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.WithField("channel", c.ID).Warnf("malformed message: %v", err)

			continue
		}

		if env.Event == EventPing {
			c.Send(EventPong, struct{}{})

			continue
		}

		select {
		case c.events <- Event{Name: env.Event, Payload: env.Payload}:
		case <-c.closed:
			return
		}
	}
}

func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()

			if err != nil {
				c.Close()

				return
			}
		}
	}
}
