package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

var errEmptyResponse = errors.New("model returned an empty response")

// GeminiClient generates replies with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini-backed Generator.
func NewGeminiClient(ctx context.Context, cfg Config, logger *slog.Logger) (*GeminiClient, error) {
	if cfg.GoogleAPIKey == "" {
		return nil, errors.New("gemini backend requires an API key")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GoogleAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := cfg.ModelName
	if model == "" {
		model = DefaultConfig().ModelName
	}

	logger.Info("Gemini generation backend ready", "model", model)

	return &GeminiClient{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(cfg.Temperature),
			TopP:            genai.Ptr(cfg.TopP),
			MaxOutputTokens: cfg.MaxTokens,
		},
		logger: logger,
	}, nil
}

// Name implements Generator.
func (g *GeminiClient) Name() string { return BackendGemini }

// Generate implements Generator.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (*Result, error) {
	start := time.Now()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	content := strings.TrimSpace(resp.Text())
	if content == "" {
		return nil, errEmptyResponse
	}

	result := &Result{Content: content, LatencyMs: since(start)}
	if resp.UsageMetadata != nil {
		result.TokensUsed = resp.UsageMetadata.TotalTokenCount
	}
	g.logger.Debug("gemini response", "model", g.model, "latency_ms", result.LatencyMs, "tokens", result.TokensUsed)
	return result, nil
}
