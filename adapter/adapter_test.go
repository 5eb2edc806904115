package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/agent/agenttest"
	"github.com/room4-2/live-persona/catalog"
	"github.com/room4-2/live-persona/history"
	"github.com/room4-2/live-persona/messages"
	"github.com/room4-2/live-persona/service"

	"github.com/stretchr/testify/require"
)

type outbox struct {
	sent []any
	err  error
}

func (o *outbox) send(msg any) error {
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, msg)
	return nil
}

func newContext(engine agent.Engine) *service.Context {
	tmpl := &service.Context{
		Character: catalog.Character{CharacterName: "Mia", HumanName: "Ann", ConfUID: "mia-001", Avatar: "mia.png"},
		Live2D:    service.NewLive2DModel("mao_pro"),
		Engine:    engine,
	}
	return tmpl.Clone()
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeBridge, m)

	m, err = ParseMode("external-api")
	require.NoError(t, err)
	require.Equal(t, ModeExternalAPI, m)

	_, err = ParseMode("orphan")
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestNewSelectsVariant(t *testing.T) {
	sc := newContext(&agenttest.Engine{})
	box := &outbox{}

	b, err := New(ModeBridge, sc, box.send)
	require.NoError(t, err)
	require.Equal(t, ModeBridge, b.Mode())

	_, err = New(ModeExternalAPI, sc, box.send)
	require.ErrorIs(t, err, ErrModeUnavailable)

	sc.TextStreamer = agenttest.Streamer{}
	e, err := New(ModeExternalAPI, sc, box.send)
	require.NoError(t, err)
	require.Equal(t, ModeExternalAPI, e.Mode())

	_, err = New(ModeAutonomous, sc, box.send)
	require.ErrorIs(t, err, ErrModeUnavailable)

	_, err = New(Mode("nope"), sc, box.send)
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestTriggerExpression(t *testing.T) {
	box := &outbox{}
	b := NewBridge(newContext(&agenttest.Engine{}), box.send)

	res := b.TriggerExpression(context.Background(), 3, 0, 1)
	require.Equal(t, ExpressionResult{Status: StatusSuccess, ExpressionID: 3, Priority: 1}, res)

	require.Len(t, box.sent, 1)
	msg := box.sent[0].(messages.Audio)
	require.Nil(t, msg.Audio)
	require.Equal(t, []int{3}, msg.Actions.Expressions)
	require.Equal(t, "Expression 3", msg.DisplayText.Text)
	require.Equal(t, "Mia", msg.DisplayText.Name)
	require.False(t, msg.Forwarded)

	state := b.CharacterState(context.Background())
	require.Equal(t, 3, *state.CurrentExpression)
	require.Nil(t, state.CurrentMotion)
	require.Equal(t, "mao_pro", state.ModelName)
	require.Equal(t, "mia-001", state.ConfigUID)
}

func TestTriggerMotion(t *testing.T) {
	box := &outbox{}
	b := NewBridge(newContext(&agenttest.Engine{}), box.send)

	res := b.TriggerMotion(context.Background(), "Idle", 2, true, 0)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, messages.NewMotionCommand("Idle", 2, true, 0), box.sent[0])
	require.Equal(t, &Motion{Group: "Idle", Index: 2, Loop: true}, b.CharacterState(context.Background()).CurrentMotion)
}

func TestTriggerFailuresAreReported(t *testing.T) {
	box := &outbox{err: errors.New("session closed")}
	b := NewBridge(newContext(&agenttest.Engine{}), box.send)

	res := b.TriggerExpression(context.Background(), 1, 0, 0)
	require.Equal(t, StatusError, res.Status)
	require.Equal(t, "session closed", res.Error)

	mres := b.TriggerMotion(context.Background(), "Tap", 0, false, 0)
	require.Equal(t, StatusError, mres.Status)

	state := b.CharacterState(context.Background())
	require.Nil(t, state.CurrentExpression)
	require.Nil(t, state.CurrentMotion)
}

func TestStateIsPerInstance(t *testing.T) {
	sc := newContext(&agenttest.Engine{})
	box := &outbox{}

	first := NewBridge(sc, box.send)
	first.TriggerExpression(context.Background(), 4, 0, 0)

	second := NewBridge(sc, box.send)
	require.Nil(t, second.CharacterState(context.Background()).CurrentExpression)
}

func TestBridgeGenerateText(t *testing.T) {
	engine := &agenttest.Engine{Sentences: []string{"Hello.", "", "Bye."}}
	sc := newContext(engine)
	sc.Memory.Append(history.NewMessage(history.RoleUser, "earlier", "Ann"))
	b := NewBridge(sc, (&outbox{}).send)

	var chunks []string
	for chunk, err := range b.GenerateText(context.Background(), "say hi", GenerateOptions{}) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	require.Equal(t, []string{"Hello.", "Bye."}, chunks)
	req := engine.Requests()[0]
	require.Equal(t, "say hi", req.Input.Text)
	require.Equal(t, "Ann", req.Input.FromName)
	require.Len(t, req.History, 1)
	require.Equal(t, 1, sc.Memory.Len())
}

func TestBridgeGenerateTextSignalsFailure(t *testing.T) {
	engine := &agenttest.Engine{Sentences: []string{"Partial."}, Err: errors.New("quota")}
	b := NewBridge(newContext(engine), (&outbox{}).send)

	var got []string
	var lastErr error
	for chunk, err := range b.GenerateText(context.Background(), "x", GenerateOptions{}) {
		if err != nil {
			lastErr = err
			break
		}
		got = append(got, chunk)
	}
	require.Equal(t, []string{"Partial."}, got)
	require.ErrorContains(t, lastErr, "quota")
}

func TestExternalGenerateText(t *testing.T) {
	sc := newContext(nil)
	sc.TextStreamer = agenttest.Streamer{Chunks: []string{"a", "b"}, Err: errors.New("cut")}
	e := NewExternal(sc, (&outbox{}).send)

	var sb strings.Builder
	var lastErr error
	for chunk, err := range e.GenerateText(context.Background(), "x", GenerateOptions{}) {
		if err != nil {
			lastErr = err
			break
		}
		sb.WriteString(chunk)
	}
	require.Equal(t, "ab", sb.String())
	require.ErrorContains(t, lastErr, "cut")
}

func TestTextOptions(t *testing.T) {
	opts := textOptions(map[string]any{"system_prompt": "be brief", "temperature": 0.4, "max_tokens": float64(64), "other": true})
	require.Equal(t, "be brief", opts.SystemPrompt)
	require.InDelta(t, 0.4, *opts.Temperature, 0.0001)
	require.Equal(t, int32(64), opts.MaxTokens)

	require.Equal(t, agent.TextOptions{}, textOptions(nil))
}
