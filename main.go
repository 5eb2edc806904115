package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/room4-2/live-persona/audio"
	"github.com/room4-2/live-persona/catalog"
	"github.com/room4-2/live-persona/chatgroup"
	"github.com/room4-2/live-persona/config"
	"github.com/room4-2/live-persona/conversation"
	"github.com/room4-2/live-persona/gemini"
	"github.com/room4-2/live-persona/history"
	"github.com/room4-2/live-persona/server"
	"github.com/room4-2/live-persona/service"
	"github.com/room4-2/live-persona/session"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := connectRedis(ctx, cfg)
	var store history.Store = history.NewMemoryStore()
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		store = history.NewRedisStore(redisClient)
	}

	engine, err := gemini.NewEngine(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("failed to create gemini engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	template, err := newTemplate(cfg, engine, store)
	if err != nil {
		return err
	}

	sessionManager := session.NewManager(template, session.Options{
		MaxSessions:      cfg.MaxSessions,
		MaxBufferSamples: cfg.MaxBufferSamples,
		SessionTimeout:   cfg.SessionTimeout,
		Redis:            redisClient,
	})
	groups := chatgroup.NewManager(sessionManager)
	controller := conversation.NewController(sessionManager, groups, store)
	srv := server.NewServerWebsocket(cfg, sessionManager, server.NewHandler(sessionManager, groups, controller))

	go sessionManager.StartCleanupRoutine(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		zap.S().Info("📴 Received shutdown signal...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	zap.S().Info("👋 Server stopped")
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// connectRedis returns nil when Redis is unreachable; sessions and history
// then stay in memory
func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zap.S().Warnf("⚠️ Redis unavailable at %s, continuing in memory: %v", cfg.RedisURL, err)
		_ = client.Close()
		return nil
	}
	zap.S().Infof("🗄️ Connected to Redis at %s", cfg.RedisURL)
	return client
}

func newTemplate(cfg *config.Config, engine *gemini.Engine, store history.Store) (*service.Context, error) {
	character := catalog.Character{
		ConfName:        "default",
		ConfUID:         "default",
		CharacterName:   "Mia",
		HumanName:       "Human",
		Live2DModelName: cfg.Live2DModel,
	}
	if cfg.CharacterConfig != "" {
		loaded, err := catalog.LoadCharacter(cfg.CharacterConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load character config: %w", err)
		}
		character = loaded
	}
	modelName := character.Live2DModelName
	if modelName == "" {
		modelName = cfg.Live2DModel
	}

	vad := audio.DefaultEnergyConfig()
	vad.Threshold = cfg.VADThreshold

	return &service.Context{
		System: service.SystemConfig{
			ConfigAltsDir:   cfg.ConfigAltsDir,
			BackgroundsDir:  cfg.BackgroundsDir,
			MinSegmentBytes: cfg.VADMinSegmentBytes,
			TurnTimeout:     cfg.TurnTimeout,
		},
		Character:    character,
		Live2D:       service.NewLive2DModel(modelName),
		Engine:       engine,
		ASR:          engine,
		TextStreamer: engine,
		History:      store,
		NewDetector: func() audio.Detector {
			return audio.NewEnergyDetector(vad)
		},
		Memory: history.NewTranscript(),
	}, nil
}
