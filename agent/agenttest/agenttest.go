// Package agenttest provides scripted engines for tests.
package agenttest

import (
	"context"
	"iter"
	"sync"

	"github.com/room4-2/live-persona/agent"
)

// Engine replays a fixed list of sentences. When Gate is set, each unit
// after the first waits for a value on Gate (or for ctx) before being produced.
// Hold works like Gate but ignores ctx, as a stream stuck in a network read.
type Engine struct {
	Sentences []string
	Err       error // yielded after the sentences when set
	Gate      chan struct{}
	Hold      chan struct{}

	mu       sync.Mutex
	requests []agent.Request
	active   int
	peak     int
}

// Chat implements agent.Engine
func (e *Engine) Chat(ctx context.Context, req agent.Request) iter.Seq2[agent.Output, error] {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	return func(yield func(agent.Output, error) bool) {
		e.enter()
		defer e.leave()
		for i, s := range e.Sentences {
			if i > 0 && e.Hold != nil {
				<-e.Hold
			}
			if i > 0 && e.Gate != nil {
				select {
				case <-ctx.Done():
					yield(agent.Output{}, ctx.Err())
					return
				case <-e.Gate:
				}
			}
			if err := ctx.Err(); err != nil {
				yield(agent.Output{}, err)
				return
			}
			if !yield(agent.Output{DisplayText: s}, nil) {
				return
			}
		}
		if e.Err != nil {
			yield(agent.Output{}, e.Err)
		}
	}
}

func (e *Engine) enter() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active++
	e.peak = max(e.peak, e.active)
}

func (e *Engine) leave() {
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
}

// Peak returns the largest number of generations that ran at once
func (e *Engine) Peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

// Requests returns every request seen so far
func (e *Engine) Requests() []agent.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]agent.Request(nil), e.requests...)
}

// Transcriber returns Text for any input
type Transcriber struct {
	Text string
	Err  error
}

// Transcribe implements agent.Transcriber
func (t Transcriber) Transcribe(context.Context, []float32) (string, error) {
	return t.Text, t.Err
}

// Streamer yields Chunks for any prompt
type Streamer struct {
	Chunks []string
	Err    error
}

// StreamText implements agent.TextStreamer
func (s Streamer) StreamText(ctx context.Context, _ string, _ agent.TextOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range s.Chunks {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if s.Err != nil {
			yield("", s.Err)
		}
	}
}
