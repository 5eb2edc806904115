package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/room4-2/live-persona/chatgroup"
	"github.com/room4-2/live-persona/conversation"
	"github.com/room4-2/live-persona/messages"
	"github.com/room4-2/live-persona/session"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandlerFunc handles one inbound message. A returned error is reported to
// the client as an error envelope.
type HandlerFunc func(ctx context.Context, s *session.ClientSession, env messages.Envelope) error

// Handler routes client messages and owns the connect/disconnect lifecycle
type Handler struct {
	sessions      *session.Manager
	groups        *chatgroup.Manager
	conversations *conversation.Controller
	routes        map[string]HandlerFunc
}

// NewHandler wires the router for every message type
func NewHandler(sessions *session.Manager, groups *chatgroup.Manager, conversations *conversation.Controller) *Handler {
	h := &Handler{
		sessions:      sessions,
		groups:        groups,
		conversations: conversations,
	}
	h.routes = map[string]HandlerFunc{
		messages.TypeAddClientToGroup:      h.handleAddToGroup,
		messages.TypeRemoveClientFromGroup: h.handleRemoveFromGroup,
		messages.TypeRequestGroupInfo:      h.handleGroupInfo,
		messages.TypeFetchHistoryList:      h.handleHistoryList,
		messages.TypeFetchAndSetHistory:    h.handleFetchHistory,
		messages.TypeCreateNewHistory:      h.handleCreateHistory,
		messages.TypeDeleteHistory:         h.handleDeleteHistory,
		messages.TypeInterruptSignal:       h.handleInterrupt,
		messages.TypeMicAudioData:          h.handleMicAudio,
		messages.TypeRawAudioData:          h.handleRawAudio,
		messages.TypeMicAudioEnd:           h.handleTrigger,
		messages.TypeTextInput:             h.handleTrigger,
		messages.TypeAISpeakSignal:         h.handleTrigger,
		messages.TypeFetchConfigs:          h.handleFetchConfigs,
		messages.TypeSwitchConfig:          h.handleSwitchConfig,
		messages.TypeFetchBackgrounds:      h.handleFetchBackgrounds,
		messages.TypeAudioPlayStart:        h.handleAudioPlayStart,
		messages.TypeExpressionCommand:     h.handleExpression,
		messages.TypeMotionCommand:         h.handleMotion,
		messages.TypeTextGenerationRequest: h.handleTextGeneration,
		messages.TypeSetBackendMode:        h.handleSetBackendMode,
		messages.TypeGetBackendMode:        h.handleGetBackendMode,
		messages.TypeGetCharacterState:     h.handleCharacterState,
	}
	return h
}

// Serve runs one client connection until its transport fails. It registers
// the client, processes its messages in order and tears everything down on
// the way out. Handlers run under a context that ends when the session
// closes.
func (h *Handler) Serve(ctx context.Context, conn session.Conn) error {
	s, err := h.sessions.CreateSession(ctx, conn)
	if err != nil {
		if data, merr := sonic.Marshal(messages.NewError(err.Error())); merr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		_ = conn.Close()
		return fmt.Errorf("create session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.Lifetime(), cancel)
	defer stop()

	s.Start()
	h.Register(s)
	defer h.Unregister(s.ID)

	for {
		_, raw, err := s.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Warnf("⚠️ [%s] Connection lost: %v", s.ShortID(), err)
			}
			return nil
		}
		h.Dispatch(ctx, s, raw)
	}
}

// Register puts a new client into the "no group" state and sends the
// connection handshake
func (h *Handler) Register(s *session.ClientSession) {
	h.groups.Register(s.ID)

	sc := s.Context
	for _, msg := range []any{
		messages.NewFullText("Connection established"),
		messages.NewSetModelAndConf(sc.ModelInfo(), sc.Character.ConfName, sc.Character.ConfUID, s.ID),
		h.groups.GroupUpdate(s.ID),
		messages.NewControl(messages.ControlStartMic),
	} {
		if err := s.Send(msg); err != nil {
			zap.S().Warnf("⚠️ [%s] Handshake failed: %v", s.ShortID(), err)
			return
		}
	}
	zap.S().Infof("✅ [%s] Client connected", s.ShortID())
}

// Unregister tears a client down: group turns are interrupted, its own turn
// is cancelled, it leaves its group and the session is closed. Only the
// first call for a session does anything.
func (h *Handler) Unregister(clientID string) {
	s, err := h.sessions.GetSession(clientID)
	if err != nil {
		return
	}
	if !s.BeginTeardown() {
		return
	}

	h.conversations.Teardown(s)
	h.groups.Forget(clientID)
	if err := h.sessions.RemoveSession(context.Background(), clientID); err != nil {
		zap.S().Warnf("⚠️ [%s] Failed to remove session: %v", s.ShortID(), err)
	}
	zap.S().Infof("🔌 [%s] Client disconnected", s.ShortID())
}

// Dispatch parses one raw message and runs its handler. Malformed messages
// and unknown types are logged and dropped.
func (h *Handler) Dispatch(ctx context.Context, s *session.ClientSession, raw []byte) {
	env, err := messages.Parse(raw)
	if err != nil {
		zap.S().Warnf("⚠️ [%s] Dropped message: %v", s.ShortID(), err)
		return
	}
	if env.Type == messages.TypeFrontendPlaybackComplete {
		return
	}

	route, ok := h.routes[env.Type]
	if !ok {
		zap.S().Warnf("⚠️ [%s] Unknown message type: %s", s.ShortID(), env.Type)
		return
	}

	if err := invoke(ctx, route, s, env); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		zap.S().Errorf("❌ [%s] %s failed: %v", s.ShortID(), env.Type, err)
		if serr := s.Send(messages.NewError(err.Error())); serr != nil {
			zap.S().Debugf("⚠️ [%s] Could not report error: %v", s.ShortID(), serr)
		}
	}
}

func invoke(ctx context.Context, route HandlerFunc, s *session.ClientSession, env messages.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("💥 [%s] Handler panic: %v\n%s", s.ShortID(), r, debug.Stack())
			err = fmt.Errorf("internal error handling %s", env.Type)
		}
	}()
	return route(ctx, s, env)
}
