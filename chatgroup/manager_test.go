package chatgroup

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/room4-2/live-persona/history"
	"github.com/room4-2/live-persona/messages"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]any
	dead map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: map[string][]any{}, dead: map[string]bool{}}
}

func (r *recordingSender) SendTo(id string, msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead[id] {
		return errors.New("transport gone")
	}
	r.sent[id] = append(r.sent[id], msg)
	return nil
}

func (r *recordingSender) lastUpdate(t *testing.T, id string) messages.GroupUpdate {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.sent[id]
	require.NotEmpty(t, msgs, "no messages for %s", id)
	update, ok := msgs[len(msgs)-1].(messages.GroupUpdate)
	require.True(t, ok)
	return update
}

func setup(ids ...string) (*Manager, *recordingSender) {
	s := newRecordingSender()
	m := NewManager(s)
	for _, id := range ids {
		m.Register(id)
	}
	return m, s
}

// checkConsistency verifies the forward and reverse maps agree
func checkConsistency(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	for gid, g := range m.groups {
		require.NotEmpty(t, g.Members)
		require.Contains(t, g.Members, g.OwnerID)
		for _, id := range g.Members {
			require.False(t, seen[id], "%s in two groups", id)
			seen[id] = true
			require.Equal(t, gid, m.clientGroup[id])
		}
	}
	for id, gid := range m.clientGroup {
		if gid == "" {
			require.False(t, seen[id])
			continue
		}
		require.Contains(t, m.groups[gid].Members, id)
	}
}

func TestAddMemberCreatesGroup(t *testing.T) {
	m, s := setup("A", "B")
	seed := history.NewTranscript(history.NewMessage(history.RoleUser, "before", "A"))

	require.NoError(t, m.AddMember("A", "B", seed))

	require.Equal(t, messages.NewGroupUpdate([]string{"A", "B"}, true), s.lastUpdate(t, "A"))
	require.Equal(t, messages.NewGroupUpdate([]string{"A", "B"}, false), s.lastUpdate(t, "B"))

	g, ok := m.GroupOf("B")
	require.True(t, ok)
	require.Equal(t, "A", g.OwnerID)
	require.Equal(t, 1, g.Memory.Len())
	require.NotSame(t, seed, g.Memory)
	require.Same(t, g.Memory, m.SharedMemory("A"))
	checkConsistency(t, m)
}

func TestAddMemberErrors(t *testing.T) {
	m, _ := setup("A", "B")

	require.ErrorIs(t, m.AddMember("A", "A", nil), ErrSelfInvite)
	require.ErrorIs(t, m.AddMember("A", "ghost", nil), ErrNotFound)
	require.ErrorIs(t, m.AddMember("ghost", "A", nil), ErrNotFound)

	require.NoError(t, m.AddMember("A", "B", nil))
	require.ErrorIs(t, m.AddMember("B", "A", nil), ErrAlreadyMember)
	require.ErrorIs(t, m.AddMember("A", "B", nil), ErrAlreadyMember)
}

func TestAnyMemberMayInvite(t *testing.T) {
	m, s := setup("A", "B", "C")
	require.NoError(t, m.AddMember("A", "B", nil))
	require.NoError(t, m.AddMember("B", "C", nil))

	require.Equal(t, []string{"A", "B", "C"}, m.Members("C"))
	require.True(t, s.lastUpdate(t, "A").IsOwner)
	require.False(t, s.lastUpdate(t, "B").IsOwner)
}

func TestInviteeLeavesPreviousGroup(t *testing.T) {
	m, s := setup("A", "B", "C", "D")
	require.NoError(t, m.AddMember("C", "B", nil))
	require.NoError(t, m.AddMember("C", "D", nil))

	require.NoError(t, m.AddMember("A", "B", nil))

	require.Equal(t, []string{"A", "B"}, m.Members("B"))
	require.Equal(t, []string{"C", "D"}, m.Members("C"))
	require.Equal(t, []string{"C", "D"}, s.lastUpdate(t, "D").Members)
	checkConsistency(t, m)
}

func TestInvitingAnOwnerDissolvesTheirGroup(t *testing.T) {
	m, s := setup("A", "B", "C")
	require.NoError(t, m.AddMember("B", "C", nil))

	require.NoError(t, m.AddMember("A", "B", nil))

	require.Nil(t, m.Members("C"))
	require.Equal(t, messages.NewGroupUpdate(nil, false), s.lastUpdate(t, "C"))
	checkConsistency(t, m)
}

func TestRemoveMember(t *testing.T) {
	m, s := setup("A", "B", "C")
	require.NoError(t, m.AddMember("A", "B", nil))
	require.NoError(t, m.AddMember("A", "C", nil))

	require.ErrorIs(t, m.RemoveMember("B", "C"), ErrNotOwner)
	require.NoError(t, m.RemoveMember("A", "C"))
	require.Equal(t, []string{"A", "B"}, s.lastUpdate(t, "A").Members)
	require.Empty(t, s.lastUpdate(t, "C").Members)

	require.ErrorIs(t, m.RemoveMember("A", "C"), ErrNotInGroup)
	require.ErrorIs(t, m.RemoveMember("C", "A"), ErrNotInGroup)

	require.NoError(t, m.RemoveMember("B", "B"))
	require.Equal(t, []string{"A"}, m.Members("A"))
	require.Nil(t, m.SharedMemory("A"))
	checkConsistency(t, m)
}

func TestOwnerLeavingDissolves(t *testing.T) {
	m, s := setup("A", "B", "C")
	require.NoError(t, m.AddMember("A", "B", nil))
	require.NoError(t, m.AddMember("A", "C", nil))

	require.NoError(t, m.RemoveMember("A", "A"))

	for _, id := range []string{"A", "B", "C"} {
		require.Nil(t, m.Members(id))
		require.Equal(t, messages.NewGroupUpdate(nil, false), s.lastUpdate(t, id))
	}
	checkConsistency(t, m)
}

func TestForget(t *testing.T) {
	m, s := setup("A", "B", "C")
	require.NoError(t, m.AddMember("A", "B", nil))
	require.NoError(t, m.AddMember("A", "C", nil))

	m.Forget("B")
	require.Equal(t, []string{"A", "C"}, s.lastUpdate(t, "C").Members)
	require.ErrorIs(t, m.AddMember("A", "B", nil), ErrNotFound)

	m.Forget("A")
	require.Nil(t, m.Members("C"))
	m.Forget("A")
	checkConsistency(t, m)
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	m, s := setup()
	s.dead["B"] = true

	n := m.Broadcast([]string{"A", "B", "C", "D"}, messages.NewFullText("hi"), "A")

	require.Equal(t, 2, n)
	require.Len(t, s.sent["C"], 1)
	require.Len(t, s.sent["D"], 1)
	require.Empty(t, s.sent["A"])
}

func TestRandomOperationsKeepMapsConsistent(t *testing.T) {
	ids := []string{"A", "B", "C", "D", "E", "F"}
	m, _ := setup(ids...)
	rng := rand.New(rand.NewPCG(1, 2))

	for range 500 {
		a, b := ids[rng.IntN(len(ids))], ids[rng.IntN(len(ids))]
		switch rng.IntN(4) {
		case 0, 1:
			_ = m.AddMember(a, b, nil)
		case 2:
			_ = m.RemoveMember(a, b)
		case 3:
			m.Forget(a)
			m.Register(a)
		}
		checkConsistency(t, m)
	}
}
