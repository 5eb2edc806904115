package history

import (
	"sync"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// InterruptedNote is appended after the heard prefix of an interrupted reply.
const InterruptedNote = "[Interrupted by user]"

// Message is one entry of a conversation
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps a message with the current time
func NewMessage(role, content, name string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Name:      name,
		Timestamp: time.Now(),
	}
}

// Transcript is the in-memory conversation memory handed to the agent engine.
// It is safe for concurrent use; group members share one instance.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
}

// NewTranscript creates a transcript seeded with msgs
func NewTranscript(msgs ...Message) *Transcript {
	t := &Transcript{}
	t.messages = append(t.messages, msgs...)
	return t
}

// Append adds messages at the end
func (t *Transcript) Append(msgs ...Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msgs...)
}

// Messages returns a copy of the current messages
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Reset replaces the whole transcript
func (t *Transcript) Reset(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = make([]Message, len(msgs))
	copy(t.messages, msgs)
}

// Clone returns an independent deep copy
func (t *Transcript) Clone() *Transcript {
	return NewTranscript(t.Messages()...)
}

// RecordInterrupt truncates the pending assistant reply to what the listener
// actually heard. The heard prefix (when non-empty) and the interruption note
// are appended and returned so callers can persist exactly what was recorded.
func (t *Transcript) RecordInterrupt(heard, speaker string) []Message {
	var recorded []Message
	if heard != "" {
		recorded = append(recorded, NewMessage(RoleAssistant, heard, speaker))
	}
	recorded = append(recorded, NewMessage(RoleSystem, InterruptedNote, ""))
	t.Append(recorded...)
	return recorded
}
