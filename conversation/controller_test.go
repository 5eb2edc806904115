package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/room4-2/live-persona/agent/agenttest"
	"github.com/room4-2/live-persona/catalog"
	"github.com/room4-2/live-persona/chatgroup"
	"github.com/room4-2/live-persona/history"
	"github.com/room4-2/live-persona/messages"
	"github.com/room4-2/live-persona/service"
	"github.com/room4-2/live-persona/session"
	"github.com/room4-2/live-persona/session/sessiontest"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	engine   *agenttest.Engine
	store    *history.MemoryStore
	sessions *session.Manager
	groups   *chatgroup.Manager
	ctrl     *Controller
}

func newEnv(t *testing.T, engine *agenttest.Engine, turnTimeout time.Duration) *env {
	t.Helper()
	store := history.NewMemoryStore()
	tmpl := &service.Context{
		System:    service.SystemConfig{TurnTimeout: turnTimeout},
		Character: catalog.Character{CharacterName: "Mia", HumanName: "Ann", ConfUID: "mia", Avatar: "mia.png"},
		Engine:    engine,
		ASR:       agenttest.Transcriber{Text: "hello from mic"},
		History:   store,
	}
	sessions := session.NewManager(tmpl, session.Options{MaxBufferSamples: 1000})
	groups := chatgroup.NewManager(sessions)
	t.Cleanup(func() { sessions.Shutdown(context.Background()) })

	return &env{
		engine:   engine,
		store:    store,
		sessions: sessions,
		groups:   groups,
		ctrl:     NewController(sessions, groups, store),
	}
}

func (e *env) connect(t *testing.T) (*session.ClientSession, *sessiontest.Conn) {
	t.Helper()
	conn := sessiontest.NewConn()
	s, err := e.sessions.CreateSession(context.Background(), conn)
	require.NoError(t, err)
	s.Start()
	e.groups.Register(s.ID)
	return s, conn
}

func waitForType(t *testing.T, conn *sessiontest.Conn, typ, text string) {
	t.Helper()
	require.Eventually(t, func() bool { return conn.Has(typ, text) }, waitFor, tick, "waiting for %s %s", typ, text)
}

func waitIdle(t *testing.T, s *session.ClientSession) {
	t.Helper()
	require.Eventually(t, func() bool { return s.CurrentTask() == nil }, waitFor, tick)
}

func contents(msgs []history.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role + ":" + m.Content
	}
	return out
}

func audioTexts(conn *sessiontest.Conn) []string {
	var out []string
	for _, m := range conn.OfType(messages.TypeAudio) {
		dt, _ := m["display_text"].(map[string]any)
		text, _ := dt["text"].(string)
		out = append(out, text)
	}
	return out
}

func TestTextTurnStreamsAndRecords(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"Hello.", "Bye."}}, 0)
	s, conn := e.connect(t)
	uid, err := e.store.Create(context.Background(), "mia")
	require.NoError(t, err)
	s.Context.HistoryUID = uid

	require.NoError(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeTextInput, Text: "hi"}))
	waitForType(t, conn, messages.TypeControl, messages.ControlChainEnd)
	waitIdle(t, s)

	require.Equal(t, []string{
		messages.TypeControl,
		messages.TypeAudio,
		messages.TypeAudio,
		messages.TypeBackendSynthComplete,
		messages.TypeControl,
	}, conn.Types())
	require.Equal(t, []string{"Hello.", "Bye."}, audioTexts(conn))

	want := []string{"user:hi", "assistant:Hello. Bye."}
	require.Equal(t, want, contents(s.Context.Memory.Messages()))
	stored, err := e.store.Get(context.Background(), "mia", uid)
	require.NoError(t, err)
	require.Equal(t, want, contents(stored))

	req := e.engine.Requests()[0]
	require.Equal(t, "Ann", req.Input.FromName)
	require.Contains(t, req.SystemPrompt, "Mia")
	require.Empty(t, req.History)
}

func TestAudioTurnDrainsBufferAtTrigger(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"Heard you."}}, 0)
	s, conn := e.connect(t)
	require.NoError(t, s.AudioBuffer.Append(make([]float32, 800)))

	require.NoError(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeMicAudioEnd}))
	require.Zero(t, s.AudioBuffer.Len())

	waitForType(t, conn, messages.TypeUserInputTranscription, "hello from mic")
	waitForType(t, conn, messages.TypeControl, messages.ControlChainEnd)
	require.Equal(t, "hello from mic", e.engine.Requests()[0].Input.Text)
}

func TestTriggerWithoutInput(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{}, 0)
	s, _ := e.connect(t)

	require.ErrorIs(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeMicAudioEnd}), ErrNoInput)
	require.ErrorIs(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeTextInput}), ErrNoInput)
	require.Nil(t, s.CurrentTask())
}

func TestProactiveTurnSkipsUserMessage(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"Hi there!"}}, 0)
	s, conn := e.connect(t)

	require.NoError(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeAISpeakSignal}))
	waitForType(t, conn, messages.TypeControl, messages.ControlChainEnd)
	waitIdle(t, s)

	require.Equal(t, []string{"assistant:Hi there!"}, contents(s.Context.Memory.Messages()))
	require.True(t, e.engine.Requests()[0].Input.Proactive)
}

func TestInterruptRecordsHeardPrefix(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"Hello.", "World."}, Gate: make(chan struct{})}, 0)
	s, conn := e.connect(t)
	uid, err := e.store.Create(context.Background(), "mia")
	require.NoError(t, err)
	s.Context.HistoryUID = uid

	require.NoError(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeTextInput, Text: "hi"}))
	require.Eventually(t, func() bool { return len(audioTexts(conn)) == 1 }, waitFor, tick)

	e.ctrl.Interrupt(s, "Hello.")

	require.Nil(t, s.CurrentTask())
	want := []string{"user:hi", "assistant:Hello.", "system:" + history.InterruptedNote}
	require.Equal(t, want, contents(s.Context.Memory.Messages()))
	stored, err := e.store.Get(context.Background(), "mia", uid)
	require.NoError(t, err)
	require.Equal(t, want, contents(stored))
	require.False(t, conn.Has(messages.TypeBackendSynthComplete, ""))
}

func TestInterruptWithoutTaskIsNoop(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{}, 0)
	s, _ := e.connect(t)

	e.ctrl.Interrupt(s, "anything")
	require.Zero(t, s.Context.Memory.Len())
}

func TestTriggerWhileGeneratingInterruptsFirst(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"Hello.", "World."}, Gate: make(chan struct{})}, 0)
	s, conn := e.connect(t)

	require.NoError(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeTextInput, Text: "hi"}))
	require.Eventually(t, func() bool { return len(audioTexts(conn)) == 1 }, waitFor, tick)
	first := s.CurrentTask()

	require.NoError(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeTextInput, Text: "again"}))
	select {
	case <-first.Done():
	default:
		t.Fatal("previous turn still running")
	}
	require.NotSame(t, first, s.CurrentTask())

	require.Eventually(t, func() bool { return len(audioTexts(conn)) == 2 }, waitFor, tick)
	e.engine.Gate <- struct{}{}
	waitForType(t, conn, messages.TypeBackendSynthComplete, "")
	waitIdle(t, s)

	require.Equal(t, []string{
		"user:hi",
		"assistant:Hello.",
		"system:" + history.InterruptedNote,
		"user:again",
		"assistant:Hello. World.",
	}, contents(s.Context.Memory.Messages()))
}

func TestEngineErrorSendsErrorEnvelope(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Err: errors.New("quota exceeded")}, 0)
	s, conn := e.connect(t)

	require.NoError(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeTextInput, Text: "hi"}))
	require.Eventually(t, func() bool {
		for _, m := range conn.OfType(messages.TypeError) {
			if m["message"] == "quota exceeded" {
				return true
			}
		}
		return false
	}, waitFor, tick)
	waitIdle(t, s)

	require.Equal(t, []string{"user:hi"}, contents(s.Context.Memory.Messages()))
}

func TestDeadlineBehavesLikeInterrupt(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"Hello.", "World."}, Gate: make(chan struct{})}, 50*time.Millisecond)
	s, conn := e.connect(t)

	require.NoError(t, e.ctrl.Trigger(s, Trigger{Type: messages.TypeTextInput, Text: "hi"}))
	waitForType(t, conn, messages.TypeInterruptSignal, messages.ConversationInterrupted)
	waitIdle(t, s)

	require.Equal(t, []string{"user:hi", "assistant:Hello.", "system:" + history.InterruptedNote},
		contents(s.Context.Memory.Messages()))
}

func TestGroupTurnBroadcastsAndGroupInterrupt(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"Hello.", "World."}, Gate: make(chan struct{})}, 0)
	a, connA := e.connect(t)
	b, connB := e.connect(t)
	require.NoError(t, e.groups.AddMember(a.ID, b.ID, a.Context.Memory))

	require.NoError(t, e.ctrl.Trigger(a, Trigger{Type: messages.TypeTextInput, Text: "hi"}))
	require.Eventually(t, func() bool { return len(audioTexts(connB)) == 1 }, waitFor, tick)
	forwarded := connB.OfType(messages.TypeAudio)[0]
	require.Equal(t, true, forwarded["forwarded"])
	require.Equal(t, false, connA.OfType(messages.TypeAudio)[0]["forwarded"])

	e.ctrl.Interrupt(b, "ok")

	require.Nil(t, a.CurrentTask())
	waitForType(t, connA, messages.TypeInterruptSignal, messages.ConversationInterrupted)
	waitForType(t, connB, messages.TypeInterruptSignal, messages.ConversationInterrupted)

	shared := e.groups.SharedMemory(a.ID)
	require.Equal(t, []string{"user:hi", "assistant:ok", "system:" + history.InterruptedNote}, contents(shared.Messages()))
	require.Zero(t, a.Context.Memory.Len())

	require.Equal(t, []string{a.ID, b.ID}, e.groups.GroupUpdate(a.ID).Members)
	require.Equal(t, []string{a.ID, b.ID}, e.groups.GroupUpdate(b.ID).Members)
}

func TestGroupInterruptCancelsEveryMember(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"One.", "Two."}, Gate: make(chan struct{})}, 0)
	a, connA := e.connect(t)
	b, connB := e.connect(t)
	require.NoError(t, e.groups.AddMember(a.ID, b.ID, nil))

	require.NoError(t, e.ctrl.Trigger(a, Trigger{Type: messages.TypeTextInput, Text: "from a"}))
	require.NoError(t, e.ctrl.Trigger(b, Trigger{Type: messages.TypeTextInput, Text: "from b"}))
	require.Eventually(t, func() bool {
		return len(audioTexts(connA)) >= 2 && len(audioTexts(connB)) >= 2
	}, waitFor, tick)

	e.ctrl.Interrupt(a, "One.")

	require.Nil(t, a.CurrentTask())
	require.Nil(t, b.CurrentTask())

	msgs := contents(e.groups.SharedMemory(a.ID).Messages())
	require.Equal(t, []string{"assistant:One.", "system:" + history.InterruptedNote}, msgs[len(msgs)-2:])
	require.Len(t, msgs, 4)
}

func TestAudioPlayStartThreshold(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{}, 0)
	a, _ := e.connect(t)
	b, connB := e.connect(t)
	caption := &messages.DisplayText{Text: "hello", Name: "Mia"}

	require.Zero(t, e.ctrl.AudioPlayStart(a, caption))

	require.NoError(t, e.groups.AddMember(a.ID, b.ID, nil))
	require.Equal(t, 1, e.ctrl.AudioPlayStart(a, caption))
	require.Zero(t, e.ctrl.AudioPlayStart(a, nil))

	require.Eventually(t, func() bool { return len(connB.OfType(messages.TypeAudio)) == 1 }, waitFor, tick)
	echo := connB.OfType(messages.TypeAudio)[0]
	require.Nil(t, echo["audio"])
	require.Equal(t, true, echo["forwarded"])
}

func TestTeardownStopsGroupTurns(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"Hello.", "World."}, Gate: make(chan struct{})}, 0)
	a, connA := e.connect(t)
	b, connB := e.connect(t)
	require.NoError(t, e.groups.AddMember(a.ID, b.ID, nil))

	require.NoError(t, e.ctrl.Trigger(b, Trigger{Type: messages.TypeTextInput, Text: "hi"}))
	require.Eventually(t, func() bool { return len(audioTexts(connB)) == 1 }, waitFor, tick)

	e.ctrl.Teardown(a)

	require.Nil(t, b.CurrentTask())
	waitForType(t, connB, messages.TypeInterruptSignal, messages.ConversationInterrupted)
	waitForType(t, connA, messages.TypeInterruptSignal, messages.ConversationInterrupted)
}

func TestTriggerWaitsForTurnTakenByGroupInterrupt(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"one", "two"}, Hold: make(chan struct{})}, 0)
	a, connA := e.connect(t)
	b, _ := e.connect(t)
	require.NoError(t, e.groups.AddMember(a.ID, b.ID, nil))

	require.NoError(t, e.ctrl.Trigger(a, Trigger{Type: messages.TypeTextInput, Text: "hi"}))
	require.Eventually(t, func() bool { return len(audioTexts(connA)) == 1 }, waitFor, tick)

	interrupted := make(chan struct{})
	go func() {
		defer close(interrupted)
		e.ctrl.Interrupt(b, "one")
	}()
	waitIdle(t, a)

	triggered := make(chan error, 1)
	go func() {
		triggered <- e.ctrl.Trigger(a, Trigger{Type: messages.TypeTextInput, Text: "again"})
	}()
	require.Never(t, func() bool { return len(triggered) > 0 }, 100*time.Millisecond, tick)

	close(e.engine.Hold)
	require.NoError(t, <-triggered)
	<-interrupted
	require.Eventually(t, func() bool { return len(audioTexts(connA)) == 3 }, waitFor, tick)
	waitIdle(t, a)

	require.Equal(t, 1, e.engine.Peak())
	require.Equal(t, []string{
		"user:hi",
		"assistant:one",
		"system:" + history.InterruptedNote,
		"user:again",
		"assistant:one two",
	}, contents(e.groups.SharedMemory(a.ID).Messages()))
}

func TestGroupInterruptTruncatesSharedMemoryForEarlierTurn(t *testing.T) {
	e := newEnv(t, &agenttest.Engine{Sentences: []string{"Hello.", "World."}, Gate: make(chan struct{})}, 0)
	a, connA := e.connect(t)
	b, connB := e.connect(t)

	require.NoError(t, e.ctrl.Trigger(a, Trigger{Type: messages.TypeTextInput, Text: "hi"}))
	require.Eventually(t, func() bool { return len(audioTexts(connA)) == 1 }, waitFor, tick)
	require.NoError(t, e.groups.AddMember(a.ID, b.ID, a.Context.Memory))

	e.ctrl.Interrupt(b, "Hello.")

	want := []string{"user:hi", "assistant:Hello.", "system:" + history.InterruptedNote}
	require.Equal(t, want, contents(e.groups.SharedMemory(a.ID).Messages()))
	require.Equal(t, want, contents(a.Context.Memory.Messages()))
	require.Nil(t, a.CurrentTask())
	waitForType(t, connB, messages.TypeInterruptSignal, messages.ConversationInterrupted)
}
