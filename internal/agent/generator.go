package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// NewGenerator builds the backend named by cfg.Backend.
func NewGenerator(ctx context.Context, cfg Config, logger *slog.Logger) (Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case BackendGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case BackendGrpc:
		return NewGrpcClient(cfg.GrpcAddr, logger)
	case BackendEcho, "":
		return NewEchoGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}

// EchoGenerator answers without calling a model. Used for local development
// and when no backend is configured.
type EchoGenerator struct{}

// NewEchoGenerator creates an EchoGenerator.
func NewEchoGenerator() *EchoGenerator {
	return &EchoGenerator{}
}

// Name implements Generator.
func (e *EchoGenerator) Name() string { return BackendEcho }

// Generate replies with the current request line of the prompt.
func (e *EchoGenerator) Generate(ctx context.Context, prompt string) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	request := prompt
	if i := strings.LastIndex(prompt, "CURRENT REQUEST: "); i >= 0 {
		request = prompt[i+len("CURRENT REQUEST: "):]
		if j := strings.Index(request, "\n"); j >= 0 {
			request = request[:j]
		}
	}
	return &Result{
		Content:   "You asked: " + strings.TrimSpace(request),
		LatencyMs: since(start),
	}, nil
}
