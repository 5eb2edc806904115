package adapter

import (
	"context"
	"fmt"
	"iter"

	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/service"

	"github.com/samber/lo"
)

// External generates text with a raw, stateless text streamer. The request
// context may carry system_prompt, temperature and max_tokens.
type External struct {
	puppet
	streamer agent.TextStreamer
}

// NewExternal creates an external-api backend over sc
func NewExternal(sc *service.Context, send SendFunc) *External {
	return &External{
		puppet:   puppet{sc: sc, send: send},
		streamer: sc.TextStreamer,
	}
}

// Mode implements Backend
func (e *External) Mode() Mode { return ModeExternalAPI }

// GenerateText implements Backend
func (e *External) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) iter.Seq2[string, error] {
	textOpts := textOptions(opts.Context)
	return func(yield func(string, error) bool) {
		for chunk, err := range e.streamer.StreamText(ctx, prompt, textOpts) {
			if err != nil {
				yield("", fmt.Errorf("external generate text: %w", err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func textOptions(c map[string]any) agent.TextOptions {
	var opts agent.TextOptions
	if s, ok := c["system_prompt"].(string); ok {
		opts.SystemPrompt = s
	}
	// JSON numbers decode as float64
	if t, ok := c["temperature"].(float64); ok {
		opts.Temperature = lo.ToPtr(float32(t))
	}
	if n, ok := c["max_tokens"].(float64); ok && n > 0 {
		opts.MaxTokens = int32(n)
	}
	return opts
}
