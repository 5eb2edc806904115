package adapter

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/service"

	"go.uber.org/zap"
)

// Bridge drives the character with the session's own agent engine. Text
// generation sees the session's conversation memory but does not write to it.
type Bridge struct {
	puppet
}

// NewBridge creates a bridge backend over sc
func NewBridge(sc *service.Context, send SendFunc) *Bridge {
	return &Bridge{puppet: puppet{sc: sc, send: send}}
}

// Mode implements Backend
func (b *Bridge) Mode() Mode { return ModeBridge }

// GenerateText implements Backend
func (b *Bridge) GenerateText(ctx context.Context, prompt string, _ GenerateOptions) iter.Seq2[string, error] {
	req := agent.Request{
		Input: agent.TurnInput{
			Text:     prompt,
			FromName: b.sc.Character.HumanName,
		},
		History:      b.sc.Memory.Messages(),
		SystemPrompt: b.sc.SystemPrompt(),
	}

	return func(yield func(string, error) bool) {
		for out, err := range b.sc.Engine.Chat(ctx, req) {
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					zap.S().Errorf("❌ Error generating text in bridge: %v", err)
				}
				yield("", fmt.Errorf("generate text: %w", err))
				return
			}
			if out.DisplayText == "" {
				continue
			}
			if !yield(out.DisplayText, nil) {
				return
			}
		}
	}
}
