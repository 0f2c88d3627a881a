package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

// StaticEmbedder generates embeddings using a hash-based approach.
// Works without external dependencies (no network, no model download).
// Provides deterministic, fast embeddings with reduced semantic quality.
// Useful for tests and for running the pipeline with no embedding service.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// englishStopWords contains high-frequency words that add no retrieval signal.
var englishStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "of": true, "in": true, "on": true,
	"to": true, "and": true, "or": true, "for": true, "with": true,
	"that": true, "this": true, "it": true, "as": true, "be": true,
}

// tokenRegex matches letter/digit sequences
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Verify interface implementation at compile time
var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates an embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	// Handle empty/whitespace input
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// generateVector creates a hash-based vector from text. Word tokens carry
// most of the weight; character trigrams add robustness to morphology.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range tokenize(text) {
		if englishStopWords[token] {
			continue
		}
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, StaticDimensions)] += ngramWeight
	}

	return vector
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, strings.ToLower(w))
	}
	return tokens
}

// extractNgrams returns the character n-grams of s.
func extractNgrams(s string, n int) []string {
	runes := []rune(s)
	if len(runes) < n {
		return nil
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex maps a string to a vector index via FNV-1a.
func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available always reports true; the static embedder has no dependencies.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
