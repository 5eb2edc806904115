// Package sessiontest provides an in-memory transport for tests.
package sessiontest

import (
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by reads and writes after Close
var ErrClosed = errors.New("sessiontest: connection closed")

// Conn records writes and serves reads pushed by the test. It satisfies
// session.Conn.
type Conn struct {
	inbound chan []byte

	mu         sync.Mutex
	writes     [][]byte
	closed     bool
	failWrites bool
	closeOnce  sync.Once
	done       chan struct{}
}

// NewConn creates an open connection
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// Push queues one inbound text frame
func (c *Conn) Push(raw string) {
	select {
	case c.inbound <- []byte(raw):
	case <-c.done:
	}
}

// ReadMessage blocks until a frame is pushed or the connection closes
func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.done:
		return 0, nil, ErrClosed
	}
}

// WriteMessage records text frames; control frames are ignored
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failWrites {
		return ErrClosed
	}
	if messageType == websocket.TextMessage {
		c.writes = append(c.writes, append([]byte(nil), data...))
	}
	return nil
}

// SetWriteDeadline is a no-op
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

// SetReadLimit is a no-op
func (c *Conn) SetReadLimit(int64) {}

// FailWrites makes every later write fail, as a dead peer would
func (c *Conn) FailWrites() {
	c.mu.Lock()
	c.failWrites = true
	c.mu.Unlock()
}

// Close ends pending and future reads
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Messages decodes every recorded frame
func (c *Conn) Messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.writes))
	for _, w := range c.writes {
		var m map[string]any
		if err := sonic.Unmarshal(w, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Types returns the type of every recorded frame in order
func (c *Conn) Types() []string {
	msgs := c.Messages()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		t, _ := m["type"].(string)
		out = append(out, t)
	}
	return out
}

// OfType returns the recorded frames with the given type
func (c *Conn) OfType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range c.Messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// Has reports whether a frame of typ with text (when non-empty) was written
func (c *Conn) Has(typ, text string) bool {
	for _, m := range c.OfType(typ) {
		if text == "" || m["text"] == text {
			return true
		}
	}
	return false
}

// Reset forgets recorded writes
func (c *Conn) Reset() {
	c.mu.Lock()
	c.writes = nil
	c.mu.Unlock()
}
