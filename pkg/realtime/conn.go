// Package realtime handles the WebSocket legs of a voice session: the
// authenticated dial to the upstream speech endpoint and a small
// connection wrapper shared by both legs.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = 5 * time.Second

// Conn wraps a WebSocket connection with a write lock so that bridge
// pumps and out-of-band senders (broadcasts, teardown frames) never
// interleave frames. Reads stay single-goroutine by construction.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadMessage returns the next text frame. Binary frames are logged
// and skipped, matching the JSON-only protocol on both legs.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.BinaryMessage {
			slog.Warn("Dropping unexpected binary frame", "bytes", len(data))
			continue
		}
		return data, nil
	}
}

// WriteJSON marshals v and sends it as a single text frame.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteRaw(data)
}

// WriteRaw sends a pre-encoded text frame.
func (c *Conn) WriteRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the connection. Safe to call from multiple goroutines;
// only the first call does the work.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// CloseWithStatus sends a close frame with the given status code
// before closing the underlying connection.
func (c *Conn) CloseWithStatus(code int, reason string) error {
	c.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(closeGracePeriod)
		c.writeMu.Lock()
		if err := c.ws.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
			slog.Debug("Close frame not delivered", "error", err)
		}
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
