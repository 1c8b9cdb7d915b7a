package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seeme-labs/tutor-bridge/internal/shared"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBufferSize = 256
	recvBufferSize = 256
)

// WSChannel adapts a gorilla websocket connection to the Channel contract.
// A read pump and a write pump own the connection; Send enqueues onto the
// write pump and blocks under backpressure rather than buffering unboundedly.
type WSChannel struct {
	ws     *websocket.Conn
	log    *slog.Logger
	send   chan Envelope
	recv   chan Envelope
	done   chan struct{}
	closed bool
	mu     sync.Mutex
	once   sync.Once
}

func NewWSChannel(ws *websocket.Conn, log *slog.Logger) *WSChannel {
	if log == nil {
		log = slog.Default()
	}

	c := &WSChannel{
		ws:   ws,
		log:  log,
		send: make(chan Envelope, sendBufferSize),
		recv: make(chan Envelope, recvBufferSize),
		done: make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	return c
}

func (c *WSChannel) Receive() <-chan Envelope {
	return c.recv
}

func (c *WSChannel) Send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return shared.ErrChannelClosed
	}
	c.mu.Unlock()

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return shared.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSChannel) Close(reason string) error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		err = c.ws.Close()
	})
	return err
}

func (c *WSChannel) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *WSChannel) readPump() {
	defer func() {
		_ = c.Close("")
		close(c.recv)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket read error", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.log.Warn("non-JSON frame from client, ignoring")
			continue
		}
		if env.Type == "" {
			c.log.Warn("frame missing type, ignoring")
			continue
		}

		// Keepalive is answered at the wire, not surfaced to the session.
		if env.Type == EnvelopeControl && env.Reason == ControlPing {
			select {
			case c.send <- Envelope{Type: EnvelopeControl, Reason: ControlPong}:
			case <-c.done:
				return
			default:
			}
			continue
		}

		select {
		case c.recv <- env:
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close("")
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(env)
			if err != nil {
				c.log.Error("failed to marshal envelope", "type", env.Type, "error", err)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
