// Package conversation runs conversation turns: trigger, generate, stream
// and interrupt. One turn at most is live per client.
package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/audio"
	"github.com/room4-2/live-persona/chatgroup"
	"github.com/room4-2/live-persona/history"
	"github.com/room4-2/live-persona/messages"
	"github.com/room4-2/live-persona/service"
	"github.com/room4-2/live-persona/session"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const persistTimeout = 5 * time.Second

var (
	// ErrNoInput is returned when a trigger has nothing to respond to
	ErrNoInput = errors.New("no input to process")
	// ErrNoEngine is returned when the session has no agent engine
	ErrNoEngine = errors.New("no agent engine configured")
)

// Trigger is one request to start a turn. Type is mic-audio-end, text-input
// or ai-speak-signal.
type Trigger struct {
	Type   string
	Text   string
	Images []agent.Image
}

// Sessions looks up connected clients
type Sessions interface {
	GetSession(id string) (*session.ClientSession, error)
}

// Controller drives conversation turns for every client
type Controller struct {
	sessions Sessions
	groups   *chatgroup.Manager
	store    history.Store
}

// NewController creates a controller. store may be nil, in which case
// nothing is persisted.
func NewController(sessions Sessions, groups *chatgroup.Manager, store history.Store) *Controller {
	return &Controller{
		sessions: sessions,
		groups:   groups,
		store:    store,
	}
}

// turn is what a task needs from the session context, captured at trigger
// time so later context changes do not race with the running task
type turn struct {
	input        agent.TurnInput
	engine       agent.Engine
	asr          agent.Transcriber
	systemPrompt string
	name         string
	avatar       string
}

// Trigger starts a turn for s. A live turn is interrupted first, recording
// what was already sent as heard. A turn already taken by a group interrupt
// is waited for. The task is registered on s before Trigger returns.
func (c *Controller) Trigger(s *session.ClientSession, tr Trigger) error {
	if prev := s.TakeTask(); prev != nil {
		zap.S().Infof("⏹️ [%s] New trigger interrupts the running turn", s.ShortID())
		c.interruptTask(prev, prev.Produced())
	}
	if last := s.LastTask(); last != nil {
		<-last.Settled()
	}

	sc := s.Context
	if sc.Engine == nil {
		return ErrNoEngine
	}

	input := agent.TurnInput{
		Text:     tr.Text,
		Images:   tr.Images,
		FromName: sc.Character.HumanName,
	}
	switch tr.Type {
	case messages.TypeMicAudioEnd:
		input.Audio = s.AudioBuffer.Drain()
		if len(input.Audio) > 0 {
			input.Text = ""
		}
		if len(input.Audio) == 0 && input.Text == "" {
			return fmt.Errorf("%w: audio buffer is empty", ErrNoInput)
		}
	case messages.TypeAISpeakSignal:
		input.Text = service.ProactivePrompt
		input.Proactive = true
	default:
		if input.Text == "" && len(input.Images) == 0 {
			return fmt.Errorf("%w: text is required", ErrNoInput)
		}
	}

	memory := sc.Memory
	if shared := c.groups.SharedMemory(s.ID); shared != nil {
		memory = shared
	}

	task := session.NewTask(memory, sc.Character.ConfUID, sc.HistoryUID, sc.System.TurnTimeout)
	task.Speaker = sc.Character.CharacterName
	if err := s.SetTask(task); err != nil {
		task.Cancel()
		return err
	}

	t := &turn{
		input:        input,
		engine:       sc.Engine,
		asr:          sc.ASR,
		systemPrompt: sc.SystemPrompt(),
		name:         sc.Character.CharacterName,
		avatar:       sc.Character.Avatar,
	}
	task.Run(func(ctx context.Context) {
		defer s.ClearTask(task)
		c.run(ctx, s, task, t)
	})
	return nil
}

func (c *Controller) run(ctx context.Context, s *session.ClientSession, task *session.Task, t *turn) {
	send := func(msg any) {
		if err := s.Send(msg); err != nil {
			zap.S().Debugf("⚠️ [%s] Dropped message: %v", s.ShortID(), err)
		}
	}

	send(messages.NewControl(messages.ControlChainStart))

	input := t.input
	if len(input.Audio) > 0 {
		if t.asr == nil {
			send(messages.NewError("speech recognition is not configured"))
			send(messages.NewControl(messages.ControlChainEnd))
			return
		}
		text, err := t.asr.Transcribe(ctx, input.Audio)
		if err != nil {
			if ctx.Err() != nil {
				c.finishCancelled(ctx, s, task)
				return
			}
			zap.S().Errorf("❌ [%s] Transcription failed: %v", s.ShortID(), err)
			send(messages.NewError("transcription failed: " + err.Error()))
			send(messages.NewControl(messages.ControlChainEnd))
			return
		}
		send(messages.NewTranscription(text))
		input.Text = text
	}
	if input.Text == "" && len(input.Images) == 0 {
		zap.S().Infof("🔇 [%s] Nothing recognized, ending turn", s.ShortID())
		send(messages.NewControl(messages.ControlChainEnd))
		return
	}

	prior := task.Memory.Messages()
	if !input.Proactive {
		userMsg := history.NewMessage(history.RoleUser, input.Text, input.FromName)
		task.Memory.Append(userMsg)
		c.persist(task, userMsg)
	}

	members := c.groups.Members(s.ID)
	grouped := len(members) > 1
	if grouped {
		c.groups.Broadcast(members, messages.NewControl(messages.ControlChainStart), s.ID)
	}

	req := agent.Request{Input: input, History: prior, SystemPrompt: t.systemPrompt}
	for out, err := range t.engine.Chat(ctx, req) {
		if ctx.Err() != nil {
			c.finishCancelled(ctx, s, task)
			return
		}
		if err != nil {
			zap.S().Errorf("❌ [%s] Agent error: %v", s.ShortID(), err)
			send(messages.NewError(err.Error()))
			send(messages.NewControl(messages.ControlChainEnd))
			return
		}

		msg := t.audioMessage(out)
		send(msg)
		task.AddProduced(out.DisplayText)
		if grouped {
			c.groups.Broadcast(members, msg.Forward(), s.ID)
		}
	}
	if ctx.Err() != nil {
		c.finishCancelled(ctx, s, task)
		return
	}

	if reply := task.Produced(); reply != "" {
		msg := history.NewMessage(history.RoleAssistant, reply, t.name)
		task.Memory.Append(msg)
		c.persist(task, msg)
	}

	send(messages.NewBackendSynthComplete())
	send(messages.NewControl(messages.ControlChainEnd))
	if grouped {
		c.groups.Broadcast(members, messages.NewControl(messages.ControlChainEnd), s.ID)
	}
	zap.S().Infof("✅ [%s] Turn complete", s.ShortID())
}

// finishCancelled handles a task whose context ended. An expired deadline
// counts as an interrupt with the sent text as heard; an explicit interrupt
// is recorded by whoever issued it.
func (c *Controller) finishCancelled(ctx context.Context, s *session.ClientSession, task *session.Task) {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) || !task.ClaimDeadline() {
		return
	}
	zap.S().Warnf("⏱️ [%s] Turn deadline exceeded", s.ShortID())
	recorded := task.Memory.RecordInterrupt(task.Produced(), task.Speaker)
	c.persist(task, recorded...)
	_ = s.Send(messages.NewInterruptSignal())
}

func (t *turn) audioMessage(out agent.Output) messages.Audio {
	msg := messages.NewSilentAudio(&messages.DisplayText{
		Text:   out.DisplayText,
		Name:   t.name,
		Avatar: t.avatar,
	}, out.Actions, false)

	if len(out.Audio) > 0 {
		samples := audio.DecodePCM16(out.Audio)
		encoded := base64.StdEncoding.EncodeToString(audio.EncodeWAV(samples, audio.SampleRate))
		msg.Audio = &encoded
		msg.Volumes = audio.Volumes(samples, audio.SampleRate, messages.DefaultSliceLength)
	}
	return msg
}

// Interrupt stops the client's turn, or every member's turn when the client
// is in a group of more than one. heard is what the listener heard of the
// reply.
func (c *Controller) Interrupt(s *session.ClientSession, heard string) {
	if members := c.groups.Members(s.ID); len(members) > 1 {
		c.InterruptGroup(s.ID, members, heard)
		return
	}
	if task := s.TakeTask(); task != nil {
		zap.S().Infof("⏹️ [%s] Conversation interrupted", s.ShortID())
		c.interruptTask(task, heard)
	}
}

// interruptTask cancels task, waits for it to stop and records heard in its
// memory
func (c *Controller) interruptTask(task *session.Task, heard string) {
	claimed := task.Interrupt()
	task.Wait()
	if !claimed {
		return
	}
	defer task.Settle()
	recorded := task.Memory.RecordInterrupt(heard, task.Speaker)
	c.persist(task, recorded...)
}

// InterruptGroup cancels the live turn of every member concurrently, waits
// for all of them, truncates the group transcript and each distinct task
// memory to the same heard text and tells every member.
func (c *Controller) InterruptGroup(originID string, members []string, heard string) {
	var tasks []*session.Task
	for _, id := range members {
		s, err := c.sessions.GetSession(id)
		if err != nil {
			zap.S().Warnf("⚠️ [%s] Group member gone: %v", session.ShortID(id), err)
			continue
		}
		if task := s.TakeTask(); task != nil {
			tasks = append(tasks, task)
		}
	}

	claimed := make([]bool, len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			claimed[i] = task.Interrupt()
			task.Wait()
			return nil
		})
	}
	_ = g.Wait()

	done := make(map[*history.Transcript]bool)
	var first *session.Task
	for i, task := range tasks {
		if !claimed[i] {
			continue
		}
		if first == nil {
			first = task
		}
		if done[task.Memory] {
			continue
		}
		done[task.Memory] = true
		recorded := task.Memory.RecordInterrupt(heard, task.Speaker)
		c.persist(task, recorded...)
	}
	// A turn started before the group formed writes to private memory
	if shared := c.groups.SharedMemory(originID); shared != nil && first != nil && !done[shared] {
		shared.RecordInterrupt(heard, first.Speaker)
	}
	for i, task := range tasks {
		if claimed[i] {
			task.Settle()
		}
	}

	zap.S().Infof("⏹️ [%s] Group interrupted (%d members, %d turns)", session.ShortID(originID), len(members), len(tasks))
	c.groups.Broadcast(members, messages.NewInterruptSignal(), "")
}

// AudioPlayStart mirrors a caption to the other members of a group so
// they can follow along
func (c *Controller) AudioPlayStart(s *session.ClientSession, text *messages.DisplayText) int {
	members := c.groups.Members(s.ID)
	if len(members) <= 1 || text == nil {
		return 0
	}
	return c.groups.Broadcast(members, messages.NewSilentAudio(text, nil, true), s.ID)
}

// Teardown stops everything a disconnecting client has in flight. A group of
// more than one is interrupted with nothing heard; the client's own turn is
// then cancelled and awaited.
func (c *Controller) Teardown(s *session.ClientSession) {
	if members := c.groups.Members(s.ID); len(members) > 1 {
		c.InterruptGroup(s.ID, members, "")
	}
	if task := s.TakeTask(); task != nil {
		task.Cancel()
		task.Wait()
	}
	if last := s.LastTask(); last != nil {
		last.Wait()
	}
}

func (c *Controller) persist(task *session.Task, msgs ...history.Message) {
	if c.store == nil || task.HistoryUID == "" || len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.Append(ctx, task.ConfUID, task.HistoryUID, msgs...); err != nil {
		zap.S().Warnf("⚠️ Failed to persist history %s: %v", session.ShortID(task.HistoryUID), err)
	}
}
