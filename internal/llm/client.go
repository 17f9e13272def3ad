package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"examkey/internal/config"
)

// TextBackend is a pluggable text-generation backend. Generate returns the
// model's raw text, which callers must treat as untrusted.
type TextBackend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client calls one OpenAI-compatible chat-completion endpoint with a fixed
// model. Generation parameters are pinned for determinism: near-zero
// temperature and a bounded output length.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds a Client from a backend config entry. A missing API key
// is a configuration error, reported before any network call is made.
func NewClient(cfg config.Backend) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("backend %s: %w", cfg.Model, ErrMissingCredential)
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(apiCfg),
		model: cfg.Model,
	}, nil
}

// NewChain builds one Client per configured backend, primary first.
func NewChain(cfg config.Config) ([]TextBackend, error) {
	backends := make([]TextBackend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		c, err := NewClient(b)
		if err != nil {
			return nil, err
		}
		backends = append(backends, c)
	}
	return backends, nil
}

// Name identifies the backend in logs and fallback reporting.
func (c *Client) Name() string {
	return c.model
}

// Generate sends the prompt as a single user message and returns the reply
// text. HTTP 400/404 and empty-candidate outcomes become InvalidResponse
// errors with a retryable signature; anything else is a transport failure.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   2048,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.HTTPStatusCode == http.StatusBadRequest || apiErr.HTTPStatusCode == http.StatusNotFound) {
			return "", &InvalidResponseError{
				Msg: fmt.Sprintf("API %d: %s", apiErr.HTTPStatusCode, apiErr.Message),
			}
		}
		return "", fmt.Errorf("chat completion (%s): %w", c.model, err)
	}

	if len(resp.Choices) == 0 {
		return "", &InvalidResponseError{Msg: "no candidate returned by model"}
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &InvalidResponseError{Msg: "empty response"}
	}
	slog.Debug("model response", "model", c.model, "raw", text)
	return text, nil
}
