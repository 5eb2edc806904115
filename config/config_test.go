package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")

	cfg, err := FromEnviron()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 100, cfg.MaxSessions)
	require.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	require.Equal(t, 16000*120, cfg.MaxBufferSamples)
	require.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	require.Zero(t, cfg.TurnTimeout)
	require.Equal(t, "shizuku-local", cfg.Live2DModel)
	require.InDelta(t, 0.02, cfg.VADThreshold, 1e-9)
	require.Equal(t, []string{"*"}, cfg.Origins())
}

func TestOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("PORT", "9000")
	t.Setenv("TURN_TIMEOUT", "45s")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := FromEnviron()
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 45*time.Second, cfg.TurnTimeout)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Origins())
	require.Equal(t, "json", cfg.LogFormat)
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := FromEnviron()
	require.Error(t, err)
}

func TestInvalidValues(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")

	t.Run("log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "verbose")
		_, err := FromEnviron()
		require.ErrorContains(t, err, "invalid config")
	})
	t.Run("port", func(t *testing.T) {
		t.Setenv("PORT", "http")
		_, err := FromEnviron()
		require.ErrorContains(t, err, "config error")
	})
}
