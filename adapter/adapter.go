// Package adapter is the boundary between a session and the backend that
// drives its character. A backend is picked per session by mode tag.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/room4-2/live-persona/service"
)

// Mode selects a backend implementation
type Mode string

// Backend modes
const (
	ModeBridge      Mode = "bridge"
	ModeExternalAPI Mode = "external-api"
	ModeAutonomous  Mode = "autonomous"
)

var (
	// ErrUnknownMode is returned for mode tags outside the known set
	ErrUnknownMode = errors.New("invalid backend mode")
	// ErrModeUnavailable is returned for known modes with no backend wired
	ErrModeUnavailable = errors.New("backend mode not available")
)

// ParseMode validates a mode tag; empty means bridge
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeBridge, nil
	case ModeBridge, ModeExternalAPI, ModeAutonomous:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %s. Must be one of: %s, %s, %s", ErrUnknownMode, s, ModeBridge, ModeExternalAPI, ModeAutonomous)
	}
}

// Result statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ExpressionResult is the outcome of TriggerExpression
type ExpressionResult struct {
	Status       string `json:"status"`
	ExpressionID int    `json:"expression_id"`
	Duration     int    `json:"duration"`
	Priority     int    `json:"priority"`
	Error        string `json:"error,omitempty"`
}

// MotionResult is the outcome of TriggerMotion
type MotionResult struct {
	Status      string `json:"status"`
	MotionGroup string `json:"motion_group"`
	MotionIndex int    `json:"motion_index"`
	Loop        bool   `json:"loop"`
	Priority    int    `json:"priority"`
	Error       string `json:"error,omitempty"`
}

// Motion is the last motion an adapter triggered
type Motion struct {
	Group string `json:"group"`
	Index int    `json:"index"`
	Loop  bool   `json:"loop"`
}

// CharacterState is a snapshot of what this adapter instance has triggered
type CharacterState struct {
	CharacterName     string  `json:"character_name"`
	ModelName         string  `json:"model_name"`
	CurrentExpression *int    `json:"current_expression"`
	CurrentMotion     *Motion `json:"current_motion"`
	ConfigUID         string  `json:"config_uid"`
}

// GenerateOptions carry the optional context of a text-generation-request
type GenerateOptions struct {
	Context map[string]any
}

// Backend is what a session can ask of its character backend. Failures are
// reported through results and sequence errors, never by panicking.
type Backend interface {
	Mode() Mode

	// GenerateText streams a reply to prompt. The sequence is single-use and
	// ends with an error if generation fails or ctx is cancelled.
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) iter.Seq2[string, error]

	// TriggerExpression asks the client to show an expression. A zero
	// duration keeps it until superseded.
	TriggerExpression(ctx context.Context, id, durationMS, priority int) ExpressionResult

	// TriggerMotion asks the client to play a motion
	TriggerMotion(ctx context.Context, group string, index int, loop bool, priority int) MotionResult

	CharacterState(ctx context.Context) CharacterState
}

// SendFunc delivers an out-of-band message to the adapter's client
type SendFunc func(msg any) error

// Factory builds the backend for a mode
type Factory func(mode Mode, sc *service.Context, send SendFunc) (Backend, error)

// New is the default Factory
func New(mode Mode, sc *service.Context, send SendFunc) (Backend, error) {
	switch mode {
	case ModeBridge:
		if sc.Engine == nil {
			return nil, fmt.Errorf("%w: %s has no agent engine", ErrModeUnavailable, mode)
		}
		return NewBridge(sc, send), nil
	case ModeExternalAPI:
		if sc.TextStreamer == nil {
			return nil, fmt.Errorf("%w: %s has no text streamer", ErrModeUnavailable, mode)
		}
		return NewExternal(sc, send), nil
	case ModeAutonomous:
		return nil, fmt.Errorf("%w: %s", ErrModeUnavailable, mode)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
}
