// Package service holds the per-session execution context. A template context
// is built once at startup and cloned for every client.
package service

import (
	"strings"
	"time"

	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/audio"
	"github.com/room4-2/live-persona/catalog"
	"github.com/room4-2/live-persona/history"
)

// SystemConfig are server-wide settings a session needs at runtime
type SystemConfig struct {
	ConfigAltsDir   string
	BackgroundsDir  string
	MinSegmentBytes int
	TurnTimeout     time.Duration
}

// Live2DModel describes the model the client should render
type Live2DModel struct {
	Name string
	Info map[string]any
}

// NewLive2DModel builds the descriptor the frontend expects for name
func NewLive2DModel(name string) *Live2DModel {
	return &Live2DModel{
		Name: name,
		Info: map[string]any{
			"name":                name,
			"url":                 "/live2d-models/" + name + "/runtime/" + name + ".model3.json",
			"kScale":              0.5,
			"initialXshift":       0,
			"initialYshift":       0,
			"idleMotionGroupName": "Idle",
		},
	}
}

// Context is everything a session's handlers and conversations run against.
// Engines, the store and the model descriptor are shared between clones;
// character config, memory, history id and VAD state belong to one session.
// A session's Context is only mutated from that session's receive loop.
type Context struct {
	System    SystemConfig
	Character catalog.Character
	Live2D    *Live2DModel

	Engine       agent.Engine
	ASR          agent.Transcriber
	TextStreamer agent.TextStreamer
	History      history.Store
	NewDetector  func() audio.Detector

	Memory     *history.Transcript
	HistoryUID string
	VAD        audio.Detector
}

// Clone returns a copy with fresh session-scoped state
func (c *Context) Clone() *Context {
	clone := *c
	clone.Memory = history.NewTranscript()
	clone.HistoryUID = ""
	clone.VAD = nil
	if c.NewDetector != nil {
		clone.VAD = c.NewDetector()
	}
	return &clone
}

// SystemPrompt renders the persona prompt for the current character
func (c *Context) SystemPrompt() string {
	prompt := c.Character.PersonaPrompt
	if prompt == "" {
		prompt = DefaultPersonaPrompt
	}
	return strings.ReplaceAll(prompt, "{{character}}", c.Character.CharacterName)
}

// SwitchCharacter applies a new character config and starts a fresh
// conversation. The model descriptor is replaced when the character names a
// different model.
func (c *Context) SwitchCharacter(ch catalog.Character) {
	c.Character = ch
	if ch.Live2DModelName != "" && (c.Live2D == nil || c.Live2D.Name != ch.Live2DModelName) {
		c.Live2D = NewLive2DModel(ch.Live2DModelName)
	}
	c.Memory = history.NewTranscript()
	c.HistoryUID = ""
}

// ModelInfo returns the descriptor sent to the client, or nil
func (c *Context) ModelInfo() map[string]any {
	if c.Live2D == nil {
		return nil
	}
	return c.Live2D.Info
}
