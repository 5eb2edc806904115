package server

import (
	"context"
	"errors"
	"strings"

	"github.com/room4-2/live-persona/adapter"
	"github.com/room4-2/live-persona/audio"
	"github.com/room4-2/live-persona/catalog"
	"github.com/room4-2/live-persona/conversation"
	"github.com/room4-2/live-persona/history"
	"github.com/room4-2/live-persona/messages"
	"github.com/room4-2/live-persona/session"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var errNoHistoryStore = errors.New("chat history is not configured")

func (h *Handler) handleAddToGroup(_ context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.AddClientPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if err := h.groups.AddMember(s.ID, p.InviteeUID, s.Context.Memory); err != nil {
		return s.Send(messages.NewGroupOperationResult(false, err.Error()))
	}
	return s.Send(messages.NewGroupOperationResult(true, "Client "+p.InviteeUID+" added to group"))
}

func (h *Handler) handleRemoveFromGroup(_ context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.RemoveClientPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if err := h.groups.RemoveMember(s.ID, p.TargetUID); err != nil {
		return s.Send(messages.NewGroupOperationResult(false, err.Error()))
	}
	return s.Send(messages.NewGroupOperationResult(true, "Client "+p.TargetUID+" removed from group"))
}

func (h *Handler) handleGroupInfo(_ context.Context, s *session.ClientSession, _ messages.Envelope) error {
	return s.Send(h.groups.GroupUpdate(s.ID))
}

func (h *Handler) handleHistoryList(ctx context.Context, s *session.ClientSession, _ messages.Envelope) error {
	sc := s.Context
	if sc.History == nil {
		return errNoHistoryStore
	}
	summaries, err := sc.History.List(ctx, sc.Character.ConfUID)
	if err != nil {
		return err
	}
	return s.Send(messages.NewHistoryList(summaries))
}

func (h *Handler) handleFetchHistory(ctx context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.HistoryPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	sc := s.Context
	if sc.History == nil {
		return errNoHistoryStore
	}
	msgs, err := sc.History.Get(ctx, sc.Character.ConfUID, p.HistoryUID)
	if err != nil {
		return err
	}

	sc.HistoryUID = p.HistoryUID
	sc.Memory = history.NewTranscript(msgs...)

	visible := lo.Filter(msgs, func(m history.Message, _ int) bool {
		return m.Role != history.RoleSystem
	})
	return s.Send(messages.NewHistoryData(visible))
}

func (h *Handler) handleCreateHistory(ctx context.Context, s *session.ClientSession, _ messages.Envelope) error {
	sc := s.Context
	if sc.History == nil {
		return errNoHistoryStore
	}
	uid, err := sc.History.Create(ctx, sc.Character.ConfUID)
	if err != nil {
		return err
	}

	sc.HistoryUID = uid
	sc.Memory = history.NewTranscript()
	return s.Send(messages.NewHistoryCreated(uid))
}

func (h *Handler) handleDeleteHistory(ctx context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.HistoryPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	sc := s.Context
	if sc.History == nil {
		return errNoHistoryStore
	}

	err := sc.History.Delete(ctx, sc.Character.ConfUID, p.HistoryUID)
	gone := err == nil || errors.Is(err, history.ErrNotFound)
	if !gone {
		zap.S().Warnf("⚠️ [%s] Failed to delete history %s: %v", s.ShortID(), session.ShortID(p.HistoryUID), err)
	}
	if gone && p.HistoryUID == sc.HistoryUID {
		sc.HistoryUID = ""
	}
	return s.Send(messages.NewHistoryDeleted(err == nil, p.HistoryUID))
}

func (h *Handler) handleInterrupt(_ context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.InterruptPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	h.conversations.Interrupt(s, p.Text)
	return nil
}

func (h *Handler) handleMicAudio(_ context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.MicAudioPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if len(p.Audio) == 0 {
		return nil
	}
	if err := s.AudioBuffer.Append(p.Audio); err != nil {
		return err
	}
	zap.S().Debugf("🎤 [%s] Buffered %d samples (%d total)", s.ShortID(), len(p.Audio), s.AudioBuffer.Len())
	return nil
}

// controlSender sends pipeline control signals to one client
type controlSender struct {
	s *session.ClientSession
}

func (c controlSender) SendControl(text string) error {
	return c.s.Send(messages.NewControl(text))
}

func (h *Handler) handleRawAudio(_ context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.RawAudioPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if p.Audio.Empty() {
		return nil
	}

	sc := s.Context
	if sc.VAD == nil {
		sc.VAD = audio.NewEnergyDetector(audio.DefaultEnergyConfig())
	}
	pipeline := audio.Pipeline{MinSegmentBytes: sc.System.MinSegmentBytes}
	_, err := pipeline.Push(sc.VAD, p.Samples(), s.AudioBuffer, controlSender{s})
	return err
}

func (h *Handler) handleTrigger(_ context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.TriggerPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	return h.conversations.Trigger(s, conversation.Trigger{
		Type:   env.Type,
		Text:   strings.TrimSpace(p.Text),
		Images: p.Images,
	})
}

func (h *Handler) handleFetchConfigs(_ context.Context, s *session.ClientSession, _ messages.Envelope) error {
	configs, err := catalog.ScanAlts(s.Context.System.ConfigAltsDir)
	if err != nil {
		return err
	}
	return s.Send(messages.NewConfigFiles(configs))
}

func (h *Handler) handleSwitchConfig(_ context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.SwitchConfigPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	sc := s.Context
	ch, err := catalog.LoadAlt(sc.System.ConfigAltsDir, p.File)
	if err != nil {
		return err
	}

	sc.SwitchCharacter(ch)
	zap.S().Infof("🎭 [%s] Switched character to %s", s.ShortID(), ch.ConfName)

	if err := s.Send(messages.NewSetModelAndConf(sc.ModelInfo(), ch.ConfName, ch.ConfUID, s.ID)); err != nil {
		return err
	}
	return s.Send(messages.NewConfigSwitched(ch.ConfName))
}

func (h *Handler) handleFetchBackgrounds(_ context.Context, s *session.ClientSession, _ messages.Envelope) error {
	files, err := catalog.ListBackgrounds(s.Context.System.BackgroundsDir)
	if err != nil {
		return err
	}
	return s.Send(messages.NewBackgroundFiles(files))
}

func (h *Handler) handleAudioPlayStart(_ context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.AudioPlayStartPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	h.conversations.AudioPlayStart(s, p.DisplayText)
	return nil
}

func (h *Handler) handleExpression(ctx context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.ExpressionPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	backend, err := s.Adapter()
	if err != nil {
		return err
	}
	result := backend.TriggerExpression(ctx, *p.ExpressionID, p.Duration, p.Priority)
	return s.Send(messages.NewExpressionAck(*p.ExpressionID, result))
}

func (h *Handler) handleMotion(ctx context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.MotionPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	backend, err := s.Adapter()
	if err != nil {
		return err
	}
	result := backend.TriggerMotion(ctx, *p.MotionGroup, *p.MotionIndex, p.Loop, p.Priority)
	return s.Send(messages.NewMotionAck(*p.MotionGroup, *p.MotionIndex, result))
}

func (h *Handler) handleTextGeneration(ctx context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.TextGenerationPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	backend, err := s.Adapter()
	if err != nil {
		return err
	}

	var full strings.Builder
	for chunk, err := range backend.GenerateText(ctx, p.Prompt, adapter.GenerateOptions{Context: p.Context}) {
		if err != nil {
			return err
		}
		full.WriteString(chunk)
		if err := s.Send(messages.NewTextGenerationChunk(chunk)); err != nil {
			return err
		}
	}
	return s.Send(messages.NewTextGenerationResponse(full.String()))
}

func (h *Handler) handleSetBackendMode(_ context.Context, s *session.ClientSession, env messages.Envelope) error {
	var p messages.BackendModePayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	mode, err := adapter.ParseMode(p.Mode)
	if err != nil {
		return err
	}
	if err := s.SetBackendMode(mode); err != nil {
		return err
	}
	zap.S().Infof("🔀 [%s] Backend mode set to %s", s.ShortID(), mode)
	return s.Send(messages.NewBackendModeSet(string(mode)))
}

func (h *Handler) handleGetBackendMode(_ context.Context, s *session.ClientSession, _ messages.Envelope) error {
	return s.Send(messages.NewBackendMode(string(s.BackendMode())))
}

func (h *Handler) handleCharacterState(ctx context.Context, s *session.ClientSession, _ messages.Envelope) error {
	backend, err := s.Adapter()
	if err != nil {
		return err
	}
	return s.Send(messages.NewCharacterState(backend.CharacterState(ctx)))
}
