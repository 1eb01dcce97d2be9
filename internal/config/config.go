// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	RedisURL    string // optional; pointers live in SQLite when empty

	HistoryTurns      int
	GenerationTimeout time.Duration
	Generation        GenerationConfig

	PointerIdleTTL       time.Duration
	PointerSweepSchedule string

	Slack           SlackConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// GenerationConfig selects and tunes the generation backend.
type GenerationConfig struct {
	Backend      string // gemini, grpc or echo
	GeminiAPIKey string
	GeminiModel  string
	GrpcAddr     string
}

// SlackConfig holds chat-platform credentials.
type SlackConfig struct {
	BotToken      string
	SigningSecret string
	BotUserID     string
}

// Enabled reports whether replies can be delivered.
func (s SlackConfig) Enabled() bool {
	return s.BotToken != ""
}

// RateLimitConfig bounds per-identity web request rates.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	geminiKey := getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", ""))
	defaultBackend := "echo"
	if geminiKey != "" {
		defaultBackend = "gemini"
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/techflow.db"),
		RedisURL:          getEnv("REDIS_URL", ""),
		HistoryTurns:      getEnvInt("HISTORY_TURNS", 8),
		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		Generation: GenerationConfig{
			Backend:      strings.ToLower(getEnv("GENERATION_BACKEND", defaultBackend)),
			GeminiAPIKey: geminiKey,
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			GrpcAddr:     getEnv("AGENT_GRPC_ADDR", "localhost:50051"),
		},
		PointerIdleTTL:       getEnvDuration("POINTER_IDLE_TTL", 24*time.Hour),
		PointerSweepSchedule: getEnv("POINTER_SWEEP_SCHEDULE", "@every 5m"),
		Slack: SlackConfig{
			BotToken:      getEnv("SLACK_BOT_TOKEN", ""),
			SigningSecret: getEnv("SLACK_SIGNING_SECRET", ""),
			BotUserID:     getEnv("SLACK_BOT_USER_ID", ""),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 2),
			Burst: getEnvInt("RATE_LIMIT_BURST", 5),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.HistoryTurns <= 0 {
		return fmt.Errorf("HISTORY_TURNS must be > 0")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	switch c.Generation.Backend {
	case "gemini":
		if c.Generation.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini backend")
		}
	case "grpc":
		if c.Generation.GrpcAddr == "" {
			return fmt.Errorf("AGENT_GRPC_ADDR is required for the grpc backend")
		}
	case "echo":
	default:
		return fmt.Errorf("GENERATION_BACKEND must be one of gemini, grpc, echo; got %q", c.Generation.Backend)
	}
	if c.PointerIdleTTL <= 0 {
		return fmt.Errorf("POINTER_IDLE_TTL must be > 0")
	}
	if _, err := cron.ParseStandard(c.PointerSweepSchedule); err != nil {
		return fmt.Errorf("POINTER_SWEEP_SCHEDULE is invalid: %w", err)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the web surface.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
