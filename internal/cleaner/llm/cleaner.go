// Package llm implements a TextCleaner backed by an OpenAI-compatible
// chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

const defaultPrompt = "Extract only the main coherent article text from the following. " +
	"Remove ads, menus, navigation, and technical inserts."

// Config controls the cleaning client.
type Config struct {
	// BaseURL points at an OpenAI-compatible API root, e.g. http://host:9999/v1.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// APIKey is sent as a bearer token. Self-hosted endpoints often accept
	// any non-empty value.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// Model names the completion model.
	Model string `mapstructure:"model" yaml:"model"`
	// MaxTokens bounds the response length.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`
	// Timeout bounds one completion request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Prompt overrides the default cleaning instruction.
	Prompt string `mapstructure:"prompt" yaml:"prompt"`
}

// Cleaner implements ingest.TextCleaner over HTTP.
type Cleaner struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Cleaner. BaseURL and Model are required.
func New(cfg Config, logger *zap.Logger) (*Cleaner, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("cleaner base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("cleaner model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("cleaner"),
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Clean sends one text block through the completion endpoint and returns the
// model's output stripped of surrounding whitespace.
func (c *Cleaner) Clean(ctx context.Context, block string) (string, error) {
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.Prompt},
			{Role: "user", Content: block},
		},
		MaxTokens: c.cfg.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion request: %w", &ingest.HTTPStatusError{
			StatusCode: resp.StatusCode,
			URL:        endpoint,
		})
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	cleaned := strings.TrimSpace(parsed.Choices[0].Message.Content)
	c.logger.Debug("block cleaned",
		zap.Int("input_chars", len(block)),
		zap.Int("output_chars", len(cleaned)),
	)
	return cleaned, nil
}

var _ ingest.TextCleaner = (*Cleaner)(nil)
