package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/room4-2/live-persona/adapter"
	"github.com/room4-2/live-persona/service"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 8 << 20 // raw audio chunks can be large
)

var (
	// ErrSessionClosed is returned by operations on a closed session
	ErrSessionClosed = errors.New("session closed")
	// ErrWriteQueueFull is returned when a client is not draining its messages
	ErrWriteQueueFull = errors.New("write queue full")
)

// Conn is the transport a session owns. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// ClientSession represents a single client's connection
type ClientSession struct {
	ID          string
	Context     *service.Context
	AudioBuffer *AudioBuffer
	CreatedAt   time.Time

	conn       Conn
	newAdapter adapter.Factory

	// Use channels for non-blocking writes
	writeChan chan []byte
	CloseChan chan struct{}
	pumpDone  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	lastActivity time.Time
	mode         adapter.Mode
	backend      adapter.Backend
	task         *Task
	last         *Task
	started      bool
	closed       bool
	tearingDown  bool
}

// NewClientSession wraps conn. The context must already be a clone owned by
// this session.
func NewClientSession(id string, conn Conn, sc *service.Context, maxBufferSamples int, factory adapter.Factory) *ClientSession {
	conn.SetReadLimit(maxMessageSize)
	if factory == nil {
		factory = adapter.New
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &ClientSession{
		ID:           id,
		Context:      sc,
		AudioBuffer:  NewAudioBuffer(maxBufferSamples),
		CreatedAt:    now,
		conn:         conn,
		newAdapter:   factory,
		writeChan:    make(chan []byte, writeBufferSize),
		CloseChan:    make(chan struct{}),
		pumpDone:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		lastActivity: now,
		mode:         adapter.ModeBridge,
	}
}

// ShortID is the id prefix used in logs
func (cs *ClientSession) ShortID() string {
	return ShortID(cs.ID)
}

// ShortID returns the first 8 characters of id
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Start launches the write pump
func (cs *ClientSession) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.started || cs.closed {
		return
	}
	cs.started = true
	go cs.writePump()
}

// ReadMessage reads the next inbound frame and marks the session active
func (cs *ClientSession) ReadMessage() (int, []byte, error) {
	messageType, data, err := cs.conn.ReadMessage()
	if err == nil {
		cs.Touch()
	}
	return messageType, data, err
}

// Touch records client activity
func (cs *ClientSession) Touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// LastActivity returns when the client last sent something
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	defer close(cs.pumpDone)
	defer func() {
		// Send close message before exiting
		_ = cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = cs.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case data := <-cs.writeChan:
			_ = cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				zap.S().Warnf("⚠️ [%s] Write failed: %v", cs.ShortID(), err)
				return
			}
		}
	}
}

// Send encodes msg and queues it for the write pump without blocking
func (cs *ClientSession) Send(msg any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.closed {
		return ErrSessionClosed
	}
	select {
	case cs.writeChan <- data:
		return nil
	default:
		zap.S().Warnf("⚠️ [%s] Write queue full, dropping message", cs.ShortID())
		return ErrWriteQueueFull
	}
}

// BackendMode returns the selected backend mode
func (cs *ClientSession) BackendMode() adapter.Mode {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.mode
}

// Adapter returns the session's backend, creating it for the current mode
// on first use
func (cs *ClientSession) Adapter() (adapter.Backend, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closed {
		return nil, ErrSessionClosed
	}
	if cs.backend == nil {
		backend, err := cs.newAdapter(cs.mode, cs.Context, cs.Send)
		if err != nil {
			return nil, err
		}
		cs.backend = backend
	}
	return cs.backend, nil
}

// SetBackendMode replaces the backend with a fresh one for mode. On error
// the previous mode and backend stay in place.
func (cs *ClientSession) SetBackendMode(mode adapter.Mode) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closed {
		return ErrSessionClosed
	}
	backend, err := cs.newAdapter(mode, cs.Context, cs.Send)
	if err != nil {
		return err
	}
	cs.mode = mode
	cs.backend = backend
	return nil
}

// Lifetime returns a context that is cancelled when the session closes
func (cs *ClientSession) Lifetime() context.Context {
	return cs.ctx
}

// SetTask registers t as the session's live task. It fails once the session
// is closed, in which case the caller owns t.
func (cs *ClientSession) SetTask(t *Task) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return ErrSessionClosed
	}
	cs.task = t
	cs.last = t
	return nil
}

// LastTask returns the most recently registered task, even after it was
// taken or finished
func (cs *ClientSession) LastTask() *Task {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.last
}

// TakeTask removes and returns the live task, if any
func (cs *ClientSession) TakeTask() *Task {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	t := cs.task
	cs.task = nil
	return t
}

// CurrentTask returns the live task without removing it
func (cs *ClientSession) CurrentTask() *Task {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.task
}

// ClearTask forgets t if it is still the live task
func (cs *ClientSession) ClearTask(t *Task) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.task == t {
		cs.task = nil
	}
}

// BeginTeardown returns true for the first caller only
func (cs *ClientSession) BeginTeardown() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.tearingDown {
		return false
	}
	cs.tearingDown = true
	return true
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// Close terminates the session and cleans up resources. It cancels the live
// task, stops the write pump, drops the adapter and audio and closes the
// transport. Safe to call more than once.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	task := cs.task
	cs.task = nil
	cs.backend = nil
	started := cs.started
	// Signal close (for other goroutines waiting on this)
	close(cs.CloseChan)
	cs.mu.Unlock()
	cs.cancel()

	if task != nil {
		task.Cancel()
	}
	if started {
		<-cs.pumpDone
	}

	cs.AudioBuffer.Clear()

	return cs.conn.Close()
}
