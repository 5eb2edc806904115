package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/gemini"

	"go.uber.org/zap"
)

func main() {
	prompt := flag.String("prompt", "Hello! Say hi back in one sentence, then tell me one fun fact.", "Text to send")
	model := flag.String("model", gemini.DefaultModel, "Gemini model")
	raw := flag.Bool("raw", false, "Stream plain text instead of sentence units")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		zap.S().Fatal("GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	engine, err := gemini.NewEngine(ctx, apiKey, *model)
	if err != nil {
		zap.S().Fatalf("Failed to create engine: %v", err)
	}
	defer func() { _ = engine.Close() }()

	start := time.Now()
	if *raw {
		for chunk, err := range engine.StreamText(ctx, *prompt, agent.TextOptions{SystemPrompt: "Keep responses brief."}) {
			if err != nil {
				zap.S().Fatalf("❌ Error: %v", err)
			}
			fmt.Print(chunk)
		}
		fmt.Println()
	} else {
		req := agent.Request{
			Input:        agent.TurnInput{Text: *prompt, FromName: "Tester"},
			SystemPrompt: "You are a helpful assistant. Keep responses brief.",
		}
		units := 0
		for out, err := range engine.Chat(ctx, req) {
			if err != nil {
				zap.S().Fatalf("❌ Error: %v", err)
			}
			units++
			zap.S().Infof("💬 Unit %d after %s: %s", units, time.Since(start).Round(time.Millisecond), out.DisplayText)
		}
	}
	zap.S().Infof("✅ Done in %s", time.Since(start).Round(time.Millisecond))
}
