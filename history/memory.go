package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type memoryEntry struct {
	createdAt time.Time
	messages  []Message
}

// MemoryStore is a process-local Store used when Redis is unavailable
type MemoryStore struct {
	mu        sync.RWMutex
	histories map[string]map[string]*memoryEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		histories: make(map[string]map[string]*memoryEntry),
	}
}

// Create allocates a new history
func (s *MemoryStore) Create(_ context.Context, confUID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid := uuid.New().String()
	if _, ok := s.histories[confUID]; !ok {
		s.histories[confUID] = make(map[string]*memoryEntry)
	}
	s.histories[confUID][uid] = &memoryEntry{createdAt: time.Now()}
	return uid, nil
}

func (s *MemoryStore) entry(confUID, historyUID string) (*memoryEntry, bool) {
	entries, ok := s.histories[confUID]
	if !ok {
		return nil, false
	}
	e, ok := entries[historyUID]
	return e, ok
}

// Get returns a copy of the stored messages
func (s *MemoryStore) Get(_ context.Context, confUID, historyUID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entry(confUID, historyUID)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out, nil
}

// Append adds messages to a history
func (s *MemoryStore) Append(_ context.Context, confUID, historyUID string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entry(confUID, historyUID)
	if !ok {
		return ErrNotFound
	}
	e.messages = append(e.messages, msgs...)
	return nil
}

// Delete removes a history
func (s *MemoryStore) Delete(_ context.Context, confUID, historyUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entry(confUID, historyUID); !ok {
		return ErrNotFound
	}
	delete(s.histories[confUID], historyUID)
	return nil
}

// List returns summaries newest first
func (s *MemoryStore) List(_ context.Context, confUID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.histories[confUID]
	summaries := lo.MapToSlice(entries, func(uid string, e *memoryEntry) Summary {
		summary := Summary{UID: uid, Timestamp: e.createdAt}
		if n := len(e.messages); n > 0 {
			latest := e.messages[n-1]
			summary.LatestMessage = &latest
			summary.Timestamp = latest.Timestamp
		}
		return summary
	})
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})
	return summaries, nil
}
