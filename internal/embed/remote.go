package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	docerrors "github.com/docchat/docchat/internal/errors"
)

// RemoteConfig configures the remote embedder.
type RemoteConfig struct {
	// Endpoint is the embedding service base URL (default: http://localhost:11434)
	Endpoint string

	// Model is the embedding model to use (default: all-minilm)
	Model string

	// Dimensions can be set to override auto-detection (0 = auto-detect)
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int

	// Timeout for a single API request (default: 60s)
	Timeout time.Duration

	// MaxRetries for transient failures (default: 3)
	MaxRetries int
}

// DefaultRemoteConfig returns sensible defaults.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Endpoint:   "http://localhost:11434",
		Model:      "all-minilm",
		Dimensions: 0, // Auto-detect
		BatchSize:  DefaultBatchSize,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// embedRequest is the /api/embed request body.
type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// embedResponse is the /api/embed response body.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// RemoteEmbedder generates embeddings via an Ollama-compatible HTTP API.
//
// The model "load" (a probe embedding that also detects the dimension) is
// lazy: the first caller triggers it, guarded by singleflight so concurrent
// callers share one probe. Once loaded the embedder is stateless per call
// and safe for concurrent use.
type RemoteEmbedder struct {
	client *http.Client
	config RemoteConfig

	loadGroup singleflight.Group

	mu     sync.RWMutex
	loaded bool
	dims   int
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder creates a remote embedder. No network call happens
// until the first embedding request.
func NewRemoteEmbedder(cfg RemoteConfig) *RemoteEmbedder {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "all-minilm"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return &RemoteEmbedder{
		// Per-request timeouts come from context, not the client.
		client: &http.Client{},
		config: cfg,
	}
}

// ensureLoaded runs the one-time model probe. Concurrent callers share a
// single in-flight probe via singleflight; a failed probe is retried by the
// next caller rather than cached.
func (e *RemoteEmbedder) ensureLoaded(ctx context.Context) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return fmt.Errorf("embedder is closed")
	}
	if e.loaded {
		e.mu.RUnlock()
		return nil
	}
	e.mu.RUnlock()

	_, err, _ := e.loadGroup.Do("load", func() (any, error) {
		e.mu.RLock()
		loaded := e.loaded
		e.mu.RUnlock()
		if loaded {
			return nil, nil
		}

		dims := e.config.Dimensions
		if dims == 0 {
			detected, err := e.detectDimensions(ctx)
			if err != nil {
				return nil, docerrors.New(docerrors.ErrCodeModelUnavailable,
					fmt.Sprintf("embedding model %q unavailable at %s: %v",
						e.config.Model, e.config.Endpoint, err), err)
			}
			dims = detected
		}

		e.mu.Lock()
		e.dims = dims
		e.loaded = true
		e.mu.Unlock()

		slog.Info("embedding_model_loaded",
			slog.String("model", e.config.Model),
			slog.Int("dimensions", dims))
		return nil, nil
	})
	return err
}

// detectDimensions probes the service with a test embedding.
func (e *RemoteEmbedder) detectDimensions(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	embeddings, err := e.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(embeddings[0]), nil
}

// Embed generates an embedding for a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	// Handle empty/whitespace input without a network round trip
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.Dimensions()), nil
	}

	embeddings, err := e.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts using the batch API.
// Requests are issued in batches of BatchSize, never one call per text.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// Track which indices need API calls vs zero vectors
	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.Dimensions())
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + e.config.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}

		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}

		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

// doEmbedWithRetry performs embedding with exponential backoff.
func (e *RemoteEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			// Exponential backoff: 100ms * 2^attempt
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		embeddings, err := e.doEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("embedding_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts_count", len(texts)),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, docerrors.New(docerrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("failed after %d attempts: %v", e.config.MaxRetries, lastErr), lastErr)
}

// doEmbed performs a single batch embedding request.
func (e *RemoteEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	url := e.config.Endpoint + "/api/embed"

	// Use array input for batch, single string for single text
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Convert float64 to float32 and normalize for cosine similarity
	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embedding := make([]float32, len(emb))
		for j, v := range emb {
			embedding[j] = float32(v)
		}
		embeddings[i] = normalizeVector(embedding)
	}

	return embeddings, nil
}

// Dimensions returns the embedding dimension. Zero until loaded when
// auto-detection is in effect.
func (e *RemoteEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *RemoteEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports whether the model probe has succeeded, attempting the
// load if it hasn't run yet.
func (e *RemoteEmbedder) Available(ctx context.Context) bool {
	return e.ensureLoaded(ctx) == nil
}

// Close releases resources.
func (e *RemoteEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	e.client.CloseIdleConnections()
	return nil
}
