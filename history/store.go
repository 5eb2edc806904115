// Package history keeps conversation transcripts in memory and persists them
// per character configuration in a keyed store.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a history id is unknown for a configuration
var ErrNotFound = errors.New("history not found")

// Summary describes one stored history for listing
type Summary struct {
	UID           string    `json:"uid"`
	LatestMessage *Message  `json:"latest_message"`
	Timestamp     time.Time `json:"timestamp"`
}

// Store persists chat histories keyed by (confUID, historyUID)
type Store interface {
	// Create allocates a new empty history and returns its uid
	Create(ctx context.Context, confUID string) (string, error)

	// Get returns all messages of a history in insertion order
	Get(ctx context.Context, confUID, historyUID string) ([]Message, error)

	// Append adds messages to an existing history
	Append(ctx context.Context, confUID, historyUID string, msgs ...Message) error

	// Delete removes a history
	Delete(ctx context.Context, confUID, historyUID string) error

	// List returns the histories of a configuration, newest first
	List(ctx context.Context, confUID string) ([]Summary, error)
}
