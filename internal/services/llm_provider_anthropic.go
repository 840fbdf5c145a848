package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// LLMProvider is the single-shot completion contract the analyzer depends
// on. Implementations own transport, auth, and wire shape.
type LLMProvider interface {
	Complete(ctx context.Context, system, user string) (string, error)
	ModelName() string
}

// AnthropicProvider implements LLMProvider against the Anthropic Messages
// API over raw HTTP.
type AnthropicProvider struct {
	endpoint  string
	apiKey    string
	model     string
	maxTokens int
	logger    logger.Logger
	client    *http.Client
}

func NewAnthropicProvider(cfg config.AnalyzerConfig, log logger.Logger) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("analyzer API key is required (set ANTHROPIC_API_KEY)")
	}

	return &AnthropicProvider{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    log,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}, nil
}

// Complete posts one messages request and returns the first content block's
// text. The caller bounds the call with its own context deadline.
func (p *AnthropicProvider) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := map[string]interface{}{
		"model":      p.model,
		"max_tokens": p.maxTokens,
		"system":     system,
		"messages": []map[string]string{
			{
				"role":    "user",
				"content": user,
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		p.logger.Error("anthropic API error", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("anthropic API returned status %d", resp.StatusCode)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic returned no content")
	}

	p.logger.Debug("anthropic API call complete",
		"model", p.model,
		"tokens_used", result.Usage.InputTokens+result.Usage.OutputTokens,
	)
	return result.Content[0].Text, nil
}

// ModelName returns the configured model identifier. It is opaque and never
// validated against a whitelist.
func (p *AnthropicProvider) ModelName() string {
	return p.model
}
