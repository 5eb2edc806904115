package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	Port           int           `env:"PORT,default=8080" validate:"gt=0,lte=65535"`
	AllowedOrigins string        `env:"ALLOWED_ORIGINS,default=*"`
	RedisURL       string        `env:"REDIS_URL,default=localhost:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	MaxSessions    int           `env:"MAX_SESSIONS,default=100" validate:"gte=0"`
	SessionTimeout time.Duration `env:"SESSION_TIMEOUT,default=30m" validate:"gt=0"`

	// MaxBufferSamples caps the mic buffer per client, in 16 kHz samples
	MaxBufferSamples int `env:"MAX_BUFFER_SAMPLES,default=1920000" validate:"gt=0"`

	GeminiAPIKey string        `env:"GEMINI_API_KEY,required=true" validate:"required"`
	GeminiModel  string        `env:"GEMINI_MODEL,default=gemini-2.5-flash" validate:"required"`
	TurnTimeout  time.Duration `env:"TURN_TIMEOUT,default=0s" validate:"gte=0"`

	CharacterConfig string `env:"CHARACTER_CONFIG"`
	ConfigAltsDir   string `env:"CONFIG_ALTS_DIR,default=characters"`
	BackgroundsDir  string `env:"BACKGROUNDS_DIR,default=backgrounds"`
	Live2DModel     string `env:"LIVE2D_MODEL,default=shizuku-local"`

	VADThreshold       float64 `env:"VAD_THRESHOLD,default=0.02" validate:"gt=0,lt=1"`
	VADMinSegmentBytes int     `env:"VAD_MIN_SEGMENT_BYTES,default=1024" validate:"gte=0"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=console" validate:"oneof=console json"`
}

// Origins returns the allowed websocket origins. "*" allows any origin.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// LoadConfig loads configuration from the environment, after merging a
// .env file when one exists
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	return FromEnviron()
}

// FromEnviron reads and validates configuration from the process environment
func FromEnviron() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
