// Package agent defines the contracts between the session server and the
// generative collaborators that produce replies and transcripts.
package agent

import (
	"context"
	"iter"

	"github.com/room4-2/live-persona/history"
)

// Image is an image attached to a user turn
type Image struct {
	Source   string `json:"source"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data"` // base64 or data URL
}

// TurnInput is everything the engine needs to know about one user turn
type TurnInput struct {
	Text      string
	Audio     []float32
	Images    []Image
	FromName  string
	Proactive bool
}

// Request bundles a turn with the conversation it belongs to
type Request struct {
	Input        TurnInput
	History      []history.Message
	SystemPrompt string
}

// Actions are character actions attached to an output unit
type Actions struct {
	Expressions []int    `json:"expressions,omitempty"`
	Pictures    []string `json:"pictures,omitempty"`
	Sounds      []string `json:"sounds,omitempty"`
}

// Output is one streamed unit of a reply, usually a sentence. Audio is
// optional PCM16 at the engine's sample rate.
type Output struct {
	DisplayText string
	Audio       []byte
	Actions     *Actions
}

// Engine produces a reply as a lazy sequence of output units. Implementations
// must stop producing once ctx is cancelled; the sequence then ends with
// ctx.Err().
type Engine interface {
	Chat(ctx context.Context, req Request) iter.Seq2[Output, error]
}

// Transcriber converts 16 kHz mono samples into text
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// TextOptions tune a raw text stream
type TextOptions struct {
	SystemPrompt string
	Temperature  *float32
	MaxTokens    int32
}

// TextStreamer generates free text without conversation state
type TextStreamer interface {
	StreamText(ctx context.Context, prompt string, opts TextOptions) iter.Seq2[string, error]
}
