package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings to cache.
const DefaultCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU cache.
// Repeated questions hit the cache instead of the embedding service.
type CachedEmbedder struct {
	embedder Embedder
	cache    *lru.Cache[string, []float32]
	logger   *slog.Logger
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder creates a caching wrapper around an embedder.
// Cache keys include the model name so switching models never serves
// stale vectors.
func NewCachedEmbedder(embedder Embedder, size int, logger *slog.Logger) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}

	return &CachedEmbedder{
		embedder: embedder,
		cache:    cache,
		logger:   logger,
	}, nil
}

// cacheKey derives a stable key from the text and model name.
func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(c.embedder.ModelName()))
	return hex.EncodeToString(h.Sum(nil))
}

// Embed returns a cached embedding when available.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		c.logger.Debug("embedding cache hit", "chars", len(text))
		return vec, nil
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch embeds texts, serving cached entries and only forwarding
// misses to the underlying embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	vecs, err := c.embedder.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}

	for j, vec := range vecs {
		i := missingIdx[j]
		results[i] = vec
		c.cache.Add(c.cacheKey(texts[i]), vec)
	}

	c.logger.Debug("embedding batch",
		"total", len(texts),
		"hits", len(texts)-len(missing),
		"misses", len(missing))

	return results, nil
}

// Dimensions returns the underlying embedder's dimension.
func (c *CachedEmbedder) Dimensions() int {
	return c.embedder.Dimensions()
}

// ModelName returns the underlying embedder's model name.
func (c *CachedEmbedder) ModelName() string {
	return c.embedder.ModelName()
}

// Available delegates to the underlying embedder.
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.embedder.Available(ctx)
}

// Close purges the cache and closes the underlying embedder.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.embedder.Close()
}
