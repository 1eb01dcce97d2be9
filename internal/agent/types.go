// Package agent provides the generation backends that turn an assembled
// prompt into an assistant reply.
package agent

import (
	"context"
	"time"
)

// Backend names accepted by NewGenerator.
const (
	BackendGemini = "gemini"
	BackendGrpc   = "grpc"
	BackendEcho   = "echo"
)

// Result is a generated reply and the wall-clock time it took.
type Result struct {
	Content    string `json:"content"`
	LatencyMs  int64  `json:"latency_ms"`
	TokensUsed int32  `json:"tokens_used,omitempty"`
}

// Generator produces a reply for a prompt. Implementations must honour
// ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Result, error)
	Name() string
}

// Config holds generation backend configuration.
type Config struct {
	Backend      string
	ModelName    string
	GoogleAPIKey string
	GrpcAddr     string
	Temperature  float32
	TopP         float32
	MaxTokens    int32
}

// DefaultConfig returns default generation settings.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendEcho,
		ModelName:   "gemini-1.5-flash",
		GrpcAddr:    "localhost:50051",
		Temperature: 0.7,
		TopP:        0.8,
		MaxTokens:   2048,
	}
}

func since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
