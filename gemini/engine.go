// Package gemini is the default agent engine, backed by the Gemini API.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/audio"
	"github.com/room4-2/live-persona/history"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-2.5-flash"

const transcribePrompt = "Transcribe the speech in this audio verbatim. Reply with the transcript only, or nothing if there is no speech."

// ErrClosed is returned after Close
var ErrClosed = errors.New("gemini engine is closed")

// Engine streams replies, transcribes speech and generates raw text with one
// shared client. It is safe for concurrent use.
type Engine struct {
	client *genai.Client
	model  string

	mu     sync.RWMutex
	closed bool
}

// NewEngine creates the GenAI client
func NewEngine(ctx context.Context, apiKey, model string) (*Engine, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}

	return &Engine{
		client: client,
		model:  model,
	}, nil
}

// Model returns the configured model name
func (e *Engine) Model() string {
	return e.model
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Chat implements agent.Engine. Text is streamed from the model and cut
// into sentences; each sentence is one output unit.
func (e *Engine) Chat(ctx context.Context, req agent.Request) iter.Seq2[agent.Output, error] {
	return func(yield func(agent.Output, error) bool) {
		if e.isClosed() {
			yield(agent.Output{}, ErrClosed)
			return
		}

		contents, err := buildContents(req)
		if err != nil {
			yield(agent.Output{}, err)
			return
		}

		var cfg *genai.GenerateContentConfig
		if req.SystemPrompt != "" {
			cfg = &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
			}
		}

		var splitter sentenceSplitter
		for resp, err := range e.client.Models.GenerateContentStream(ctx, e.model, contents, cfg) {
			if err != nil {
				yield(agent.Output{}, fmt.Errorf("gemini stream: %w", err))
				return
			}
			for _, sentence := range splitter.Push(resp.Text()) {
				if err := ctx.Err(); err != nil {
					yield(agent.Output{}, err)
					return
				}
				if !yield(agent.Output{DisplayText: sentence}, nil) {
					return
				}
			}
		}

		if rest := splitter.Flush(); rest != "" {
			if err := ctx.Err(); err != nil {
				yield(agent.Output{}, err)
				return
			}
			yield(agent.Output{DisplayText: rest}, nil)
		}
	}
}

// Transcribe implements agent.Transcriber by sending the samples as WAV
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	if len(samples) == 0 {
		return "", nil
	}

	wav := audio.EncodeWAV(samples, audio.SampleRate)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribePrompt),
			genai.NewPartFromBytes(wav, "audio/wav"),
		}, genai.RoleUser),
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	zap.S().Debugf("📝 Transcribed %d samples: %q", len(samples), text)
	return text, nil
}

// StreamText implements agent.TextStreamer
func (e *Engine) StreamText(ctx context.Context, prompt string, opts agent.TextOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if e.isClosed() {
			yield("", ErrClosed)
			return
		}

		cfg := &genai.GenerateContentConfig{
			Temperature: opts.Temperature,
		}
		if opts.MaxTokens > 0 {
			cfg.MaxOutputTokens = opts.MaxTokens
		}
		if opts.SystemPrompt != "" {
			cfg.SystemInstruction = genai.NewContentFromText(opts.SystemPrompt, genai.RoleUser)
		}

		contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
		for resp, err := range e.client.Models.GenerateContentStream(ctx, e.model, contents, cfg) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// Close marks the engine closed; in-flight streams finish on their own context
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func buildContents(req agent.Request) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Content == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == history.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	parts := make([]*genai.Part, 0, 1+len(req.Input.Images))
	text := req.Input.Text
	if req.Input.FromName != "" && text != "" {
		text = req.Input.FromName + ": " + text
	}
	if text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	for _, img := range req.Input.Images {
		data, mimeType, err := decodeImage(img)
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimeType))
	}
	if len(parts) == 0 {
		return nil, errors.New("empty turn input")
	}

	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	return contents, nil
}

// decodeImage accepts raw base64 or a data URL
func decodeImage(img agent.Image) ([]byte, string, error) {
	payload := img.Data
	mimeType := img.MIMEType
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", errors.New("malformed image data URL")
		}
		mimeType, _, _ = strings.Cut(header, ";")
		payload = data
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invalid image data: %w", err)
	}
	return data, mimeType, nil
}
