package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/room4-2/live-persona/history"
)

// Task is one in-flight conversation turn. It owns a context that is
// cancelled by an interrupt, by its deadline or when its session closes.
type Task struct {
	// Memory is the transcript the turn writes to; a group transcript while
	// the client is in a group of more than one.
	Memory *history.Transcript
	// ConfUID and HistoryUID locate the stored history the turn persists to
	ConfUID    string
	HistoryUID string
	// Speaker names the character in recorded replies
	Speaker string

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	settled chan struct{}
	settle  sync.Once

	mu          sync.Mutex
	produced    []string
	interrupted bool
	// external is set when the interrupt was claimed by a caller, who then
	// settles the task after recording it
	external bool
}

// NewTask creates a task. A positive timeout bounds the whole turn.
func NewTask(memory *history.Transcript, confUID, historyUID string, timeout time.Duration) *Task {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	return &Task{
		Memory:     memory,
		ConfUID:    confUID,
		HistoryUID: historyUID,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		settled:    make(chan struct{}),
	}
}

// Run starts fn in its own goroutine. Run must be called exactly once.
func (t *Task) Run(fn func(ctx context.Context)) {
	go func() {
		defer func() {
			t.cancel()
			close(t.done)
			t.mu.Lock()
			external := t.external
			t.mu.Unlock()
			if !external {
				t.Settle()
			}
		}()
		fn(t.ctx)
	}()
}

// Context returns the task's context
func (t *Task) Context() context.Context {
	return t.ctx
}

// Interrupt cancels the task and claims the right to record the interrupt
// in memory. It returns false if the task was already interrupted. A caller
// that gets true must call Settle once the interrupt is recorded.
func (t *Task) Interrupt() bool {
	claimed := t.claim(true)
	t.cancel()
	return claimed
}

// ClaimDeadline claims the interrupt for a task whose deadline expired. It
// returns false if a caller already interrupted it.
func (t *Task) ClaimDeadline() bool {
	return t.claim(false)
}

func (t *Task) claim(external bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interrupted {
		return false
	}
	t.interrupted = true
	t.external = external
	return true
}

// Interrupted reports whether the task was interrupted
func (t *Task) Interrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interrupted
}

// Cancel stops the task without claiming the interrupt
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task's goroutine has returned
func (t *Task) Wait() {
	<-t.done
}

// Done is closed when the task's goroutine has returned
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Settle marks the task as fully finished, interrupt record included
func (t *Task) Settle() {
	t.settle.Do(func() { close(t.settled) })
}

// Settled is closed once the task has returned and whoever interrupted it
// has recorded the interrupt
func (t *Task) Settled() <-chan struct{} {
	return t.settled
}

// AddProduced records a unit that was sent to the client
func (t *Task) AddProduced(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	t.produced = append(t.produced, text)
	t.mu.Unlock()
}

// Produced returns everything sent so far, space separated
func (t *Task) Produced() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.produced, " ")
}
