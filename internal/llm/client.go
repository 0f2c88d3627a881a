// Package llm sends assembled prompts to an OpenRouter-style chat
// completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	docerrors "github.com/docchat/docchat/internal/errors"
)

// Defaults for the completion client.
const (
	DefaultEndpoint   = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel      = "openai/gpt-3.5-turbo"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 1
)

// Config configures the completion client.
type Config struct {
	// APIKey is the bearer token. Required.
	APIKey string
	// Endpoint is the chat completions URL.
	Endpoint string
	// Model is the completion model identifier.
	Model string
	// Timeout bounds a single request.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after a transient
	// failure (network error or 5xx). Client errors are never retried.
	MaxRetries int
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// chatResponse is the chat completions response body.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// apiError is the error object upstream returns in failure bodies.
type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Client calls the chat completions endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a completion client. Fails when no API key is set.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, docerrors.New(docerrors.ErrCodeAPIKeyMissing,
			"completion API key is not configured", nil)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: cfg,
		// Per-attempt timeouts come from context, not the client.
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

// Model returns the configured completion model.
func (c *Client) Model() string {
	return c.config.Model
}

// Complete sends the prompt as a single user message and returns the
// model's reply. Transient failures (network errors, 5xx) are retried at
// most MaxRetries times; 4xx responses fail immediately.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("completion retry",
				"attempt", attempt+1,
				"error", lastErr.Error())
		}

		text, err := c.doComplete(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err

		// Permanent failures are surfaced as-is.
		if !docerrors.IsRetryable(err) && docerrors.GetCode(err) != "" {
			return "", err
		}
		if ctx.Err() != nil {
			break
		}
	}

	return "", docerrors.New(docerrors.ErrCodeUpstreamLLM,
		fmt.Sprintf("completion failed after %d attempts: %v",
			c.config.MaxRetries+1, lastErr), lastErr)
}

// doComplete performs one completion attempt.
func (c *Client) doComplete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:    c.config.Model,
		Messages: []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", docerrors.Newf(docerrors.ErrCodeUpstreamRejected,
			"upstream error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// statusError maps an HTTP failure status to a structured error.
// 5xx stays retryable via the plain error path; 401/403 means the key is
// bad, other 4xx means the request was rejected.
func (c *Client) statusError(status int, body []byte) error {
	message := upstreamMessage(body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return docerrors.Newf(docerrors.ErrCodeAPIKeyRejected,
			"completion API key rejected (status %d): %s", status, message)
	case status >= 500:
		return fmt.Errorf("completion failed with status %d: %s", status, message)
	default:
		return docerrors.Newf(docerrors.ErrCodeUpstreamRejected,
			"completion rejected (status %d): %s", status, message)
	}
}

// upstreamMessage extracts the error message from a failure body, falling
// back to the raw body.
func upstreamMessage(body []byte) string {
	var parsed struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}
