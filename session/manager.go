// Package session owns connected clients: their transport, audio buffer,
// live conversation task and backend adapter, plus the registry of all of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/room4-2/live-persona/adapter"
	"github.com/room4-2/live-persona/service"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const activeSessionsKey = "active_sessions"

var (
	// ErrNotFound is returned for unknown client ids
	ErrNotFound = errors.New("session not found")
	// ErrMaxSessions is returned when the registry is full
	ErrMaxSessions = errors.New("maximum sessions reached")
)

// Options configure a Manager
type Options struct {
	MaxSessions      int
	MaxBufferSamples int
	SessionTimeout   time.Duration
	// Redis mirrors session metadata when set
	Redis    *redis.Client
	Adapters adapter.Factory
}

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	template *service.Context
	opts     Options
}

// NewManager creates a registry whose sessions are cloned from template
func NewManager(template *service.Context, opts Options) *Manager {
	if opts.Adapters == nil {
		opts.Adapters = adapter.New
	}
	return &Manager{
		sessions: make(map[string]*ClientSession),
		template: template,
		opts:     opts,
	}
}

// CreateSession registers a new client session on conn
func (sm *Manager) CreateSession(ctx context.Context, conn Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.opts.MaxSessions > 0 && len(sm.sessions) >= sm.opts.MaxSessions {
		return nil, ErrMaxSessions
	}

	sessionID := uuid.New().String()
	session := NewClientSession(sessionID, conn, sm.template.Clone(), sm.opts.MaxBufferSamples, sm.opts.Adapters)

	sm.storeSession(ctx, session)
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, session *ClientSession) {
	sm.sessions[session.ID] = session

	if sm.opts.Redis != nil {
		key := sessionKey(session.ID)
		pipe := sm.opts.Redis.TxPipeline()
		pipe.HSet(ctx, key, map[string]any{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity().Format(time.RFC3339),
			"status":        "active",
			"conf_uid":      session.Context.Character.ConfUID,
		})
		pipe.SAdd(ctx, activeSessionsKey, session.ID)
		if sm.opts.SessionTimeout > 0 {
			pipe.Expire(ctx, key, sm.opts.SessionTimeout)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			zap.S().Warnf("⚠️ [%s] Failed to mirror session to Redis: %v", session.ShortID(), err)
		}
	}
}

func sessionKey(id string) string {
	return "session:" + id
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return session, nil
}

// SendTo queues msg for one client
func (sm *Manager) SendTo(sessionID string, msg any) error {
	session, err := sm.GetSession(sessionID)
	if err != nil {
		return err
	}
	return session.Send(msg)
}

// RemoveSession closes a session and forgets it. Removing an unknown id is a
// no-op.
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	if exists {
		delete(sm.sessions, sessionID)
	}
	sm.mu.Unlock()

	if !exists {
		return nil
	}

	if err := session.Close(); err != nil {
		zap.S().Debugf("🔌 [%s] Transport close: %v", session.ShortID(), err)
	}
	sm.unmirror(ctx, sessionID)
	return nil
}

func (sm *Manager) unmirror(ctx context.Context, sessionID string) {
	if sm.opts.Redis == nil {
		return
	}
	pipe := sm.opts.Redis.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, activeSessionsKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		zap.S().Warnf("⚠️ [%s] Failed to remove Redis mirror: %v", ShortID(sessionID), err)
	}
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions closes sessions that have been idle longer than
// the session timeout. Closing the transport ends the client's receive
// loop, which unregisters it. Returns the number of sessions closed.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) int {
	if sm.opts.SessionTimeout <= 0 {
		return 0
	}

	sm.mu.RLock()
	var idle []*ClientSession
	now := time.Now()
	for _, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.opts.SessionTimeout {
			idle = append(idle, session)
		}
	}
	sm.mu.RUnlock()

	for _, session := range idle {
		zap.S().Infof("🧹 [%s] Closing idle session", session.ShortID())
		_ = session.Close()
	}
	return len(idle)
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*ClientSession)
	sm.mu.Unlock()

	for id, session := range sessions {
		_ = session.Close()
		sm.unmirror(ctx, id)
	}
}
