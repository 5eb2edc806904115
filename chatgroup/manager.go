// Package chatgroup coordinates groups of clients that share one
// conversation.
package chatgroup

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/room4-2/live-persona/history"
	"github.com/room4-2/live-persona/messages"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("client not found")
	ErrSelfInvite    = errors.New("cannot add yourself to a group")
	ErrAlreadyMember = errors.New("client is already in your group")
	ErrNotOwner      = errors.New("only the group owner can remove other members")
	ErrNotInGroup    = errors.New("client is not in a group")
)

// Sender delivers a message to one client
type Sender interface {
	SendTo(clientID string, msg any) error
}

// Group is a set of clients sharing a conversation. Members are kept in
// join order and always include the owner.
type Group struct {
	ID        string
	OwnerID   string
	Members   []string
	CreatedAt time.Time
	// Memory is the shared transcript, seeded from the owner's memory
	Memory *history.Transcript
}

// Manager tracks groups and the reverse client→group map. A client maps to
// "" while it is in no group. When the owner leaves, the group is dissolved.
type Manager struct {
	mu          sync.RWMutex
	groups      map[string]*Group
	clientGroup map[string]string
	sender      Sender
}

// NewManager creates an empty manager that notifies through sender
func NewManager(sender Sender) *Manager {
	return &Manager{
		groups:      make(map[string]*Group),
		clientGroup: make(map[string]string),
		sender:      sender,
	}
}

// Register puts a newly connected client in the "no group" state
func (m *Manager) Register(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clientGroup[clientID]; !ok {
		m.clientGroup[clientID] = ""
	}
}

// Forget removes a disconnecting client from its group and from the manager
func (m *Manager) Forget(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clientGroup[clientID] != "" {
		m.leaveLocked(clientID, clientID)
	}
	delete(m.clientGroup, clientID)
}

// AddMember puts invitee into inviter's group, creating the group with
// inviter as owner when needed. An invitee in another group leaves it first.
// seed becomes the new group's transcript and may be nil.
func (m *Manager) AddMember(inviterID, inviteeID string, seed *history.Transcript) error {
	if inviterID == inviteeID {
		return ErrSelfInvite
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inviterGroup, ok := m.clientGroup[inviterID]
	if !ok {
		return ErrNotFound
	}
	inviteeGroup, ok := m.clientGroup[inviteeID]
	if !ok {
		return ErrNotFound
	}
	if inviterGroup != "" && inviterGroup == inviteeGroup {
		return ErrAlreadyMember
	}

	if inviteeGroup != "" {
		m.leaveLocked(inviteeID, inviteeID)
	}

	g := m.groups[inviterGroup]
	if g == nil {
		memory := history.NewTranscript()
		if seed != nil {
			memory = seed.Clone()
		}
		g = &Group{
			ID:        uuid.New().String(),
			OwnerID:   inviterID,
			Members:   []string{inviterID},
			CreatedAt: time.Now(),
			Memory:    memory,
		}
		m.groups[g.ID] = g
		m.clientGroup[inviterID] = g.ID
	}

	g.Members = append(g.Members, inviteeID)
	m.clientGroup[inviteeID] = g.ID
	zap.S().Infof("👥 [%s] Added %s to group %s", short(inviterID), short(inviteeID), short(g.ID))

	m.notifyLocked(g.Members...)
	return nil
}

// RemoveMember removes target from its group. Anyone may remove themselves;
// only the owner may remove someone else.
func (m *Manager) RemoveMember(requesterID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	targetGroup := m.clientGroup[targetID]
	if targetGroup == "" {
		return ErrNotInGroup
	}
	if requesterID != targetID {
		if m.clientGroup[requesterID] != targetGroup {
			return ErrNotInGroup
		}
		if m.groups[targetGroup].OwnerID != requesterID {
			return ErrNotOwner
		}
	}

	m.leaveLocked(requesterID, targetID)
	return nil
}

// leaveLocked removes clientID from its group and notifies everyone
// affected. The owner leaving dissolves the group.
func (m *Manager) leaveLocked(requesterID, clientID string) {
	gid := m.clientGroup[clientID]
	g := m.groups[gid]
	if g == nil {
		m.clientGroup[clientID] = ""
		return
	}

	affected := slices.Clone(g.Members)
	if clientID == g.OwnerID {
		for _, id := range g.Members {
			m.clientGroup[id] = ""
		}
		delete(m.groups, gid)
		zap.S().Infof("👥 [%s] Owner left, group %s dissolved", short(clientID), short(gid))
	} else {
		g.Members = lo.Without(g.Members, clientID)
		m.clientGroup[clientID] = ""
		zap.S().Infof("👥 [%s] Removed %s from group %s", short(requesterID), short(clientID), short(gid))
	}

	m.notifyLocked(affected...)
}

// notifyLocked sends each client its own view of its group
func (m *Manager) notifyLocked(clientIDs ...string) {
	for _, id := range clientIDs {
		if _, registered := m.clientGroup[id]; !registered {
			continue
		}
		if err := m.sender.SendTo(id, m.updateLocked(id)); err != nil {
			zap.S().Warnf("⚠️ [%s] Failed to send group update: %v", short(id), err)
		}
	}
}

func (m *Manager) updateLocked(clientID string) messages.GroupUpdate {
	g := m.groups[m.clientGroup[clientID]]
	if g == nil {
		return messages.NewGroupUpdate(nil, false)
	}
	return messages.NewGroupUpdate(slices.Clone(g.Members), g.OwnerID == clientID)
}

// GroupUpdate returns clientID's current view of its group
func (m *Manager) GroupUpdate(clientID string) messages.GroupUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updateLocked(clientID)
}

// GroupOf returns a snapshot of clientID's group
func (m *Manager) GroupOf(clientID string) (Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g := m.groups[m.clientGroup[clientID]]
	if g == nil {
		return Group{}, false
	}
	snapshot := *g
	snapshot.Members = slices.Clone(g.Members)
	return snapshot, true
}

// Members returns clientID's group members in join order, or nil
func (m *Manager) Members(clientID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g := m.groups[m.clientGroup[clientID]]
	if g == nil {
		return nil
	}
	return slices.Clone(g.Members)
}

// SharedMemory returns the group transcript while clientID is in a group of
// more than one member
func (m *Manager) SharedMemory(clientID string) *history.Transcript {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g := m.groups[m.clientGroup[clientID]]
	if g == nil || len(g.Members) <= 1 {
		return nil
	}
	return g.Memory
}

// Broadcast sends msg to every member except exclude. A failed delivery is
// logged and skipped. Returns the number of successful deliveries.
func (m *Manager) Broadcast(members []string, msg any, exclude string) int {
	delivered := 0
	for _, id := range members {
		if id == exclude {
			continue
		}
		if err := m.sender.SendTo(id, msg); err != nil {
			zap.S().Warnf("⚠️ [%s] Skipping broadcast delivery: %v", short(id), err)
			continue
		}
		delivered++
	}
	return delivered
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
