package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GENERATION_BACKEND", "echo")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.HistoryTurns != 8 || cfg.GenerationTimeout != 30*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.PointerIdleTTL != 24*time.Hour || cfg.PointerSweepSchedule != "@every 5m" {
		t.Errorf("unexpected pointer defaults: ttl=%v schedule=%q", cfg.PointerIdleTTL, cfg.PointerSweepSchedule)
	}
	if cfg.Slack.Enabled() {
		t.Error("slack should be disabled without a bot token")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HISTORY_TURNS", "12")
	t.Setenv("GENERATION_TIMEOUT", "45s")
	t.Setenv("GENERATION_BACKEND", "GRPC")
	t.Setenv("AGENT_GRPC_ADDR", "agent:50051")
	t.Setenv("POINTER_IDLE_TTL", "2h")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" || cfg.HistoryTurns != 12 || cfg.GenerationTimeout != 45*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Generation.Backend != "grpc" || cfg.Generation.GrpcAddr != "agent:50051" {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if cfg.PointerIdleTTL != 2*time.Hour || cfg.RateLimit.RPS != 0.5 {
		t.Errorf("ttl=%v rps=%v", cfg.PointerIdleTTL, cfg.RateLimit.RPS)
	}
	if !cfg.Slack.Enabled() {
		t.Error("slack should be enabled with a bot token")
	}
}

func TestLoadRejectsEmptyBackend(t *testing.T) {
	t.Setenv("GENERATION_BACKEND", "")
	t.Setenv("GEMINI_API_KEY", "key")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with empty GENERATION_BACKEND should fail")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                 "8080",
			DBPath:               "db",
			HistoryTurns:         8,
			GenerationTimeout:    time.Second,
			Generation:           GenerationConfig{Backend: "echo"},
			PointerIdleTTL:       time.Hour,
			PointerSweepSchedule: "@every 5m",
			RateLimit:            RateLimitConfig{RPS: 1, Burst: 1},
			ConversationLog:      ConversationLogConfig{Dir: "d", GlobalPath: "g", QueueSize: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty port", mutate: func(c *Config) { c.Port = "" }, want: "PORT"},
		{name: "zero history", mutate: func(c *Config) { c.HistoryTurns = 0 }, want: "HISTORY_TURNS"},
		{name: "negative timeout", mutate: func(c *Config) { c.GenerationTimeout = -time.Second }, want: "GENERATION_TIMEOUT"},
		{name: "unknown backend", mutate: func(c *Config) { c.Generation.Backend = "openai" }, want: "GENERATION_BACKEND"},
		{name: "gemini without key", mutate: func(c *Config) { c.Generation.Backend = "gemini" }, want: "GEMINI_API_KEY"},
		{name: "bad schedule", mutate: func(c *Config) { c.PointerSweepSchedule = "every so often" }, want: "POINTER_SWEEP_SCHEDULE"},
		{name: "zero burst", mutate: func(c *Config) { c.RateLimit.Burst = 0 }, want: "RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
