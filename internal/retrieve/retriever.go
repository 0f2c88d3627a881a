// Package retrieve finds the document passages most relevant to a question.
package retrieve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/docchat/docchat/internal/embed"
	docerrors "github.com/docchat/docchat/internal/errors"
	"github.com/docchat/docchat/internal/store"
)

// Passage is a retrieved chunk with its relevance score.
type Passage struct {
	// Seq is the chunk's sequence index within the document.
	Seq int
	// Score is the cosine similarity to the question, in [-1, 1].
	Score float32
	// Text is the chunk's passage text.
	Text string
}

// Config controls retrieval behavior.
type Config struct {
	// TopK is the number of passages to retrieve.
	TopK int
	// RelevanceThreshold is the minimum top score for the results to be
	// considered relevant. When the best hit scores below it, retrieval
	// returns zero passages and answering proceeds without context.
	RelevanceThreshold float32
}

// Retriever embeds questions and queries the active index snapshot.
type Retriever struct {
	embedder embed.Embedder
	holder   *store.Holder
	config   Config
	logger   *slog.Logger
}

// NewRetriever creates a retriever over the given embedder and index holder.
func NewRetriever(embedder embed.Embedder, holder *store.Holder, cfg Config, logger *slog.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		holder:   holder,
		config:   cfg,
		logger:   logger,
	}
}

// Retrieve returns the top passages for the question, or zero passages when
// no document is loaded or the best match scores below the relevance
// threshold. The empty question is rejected with ErrCodeQueryEmpty.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]Passage, error) {
	if strings.TrimSpace(question) == "" {
		return nil, docerrors.New(docerrors.ErrCodeQueryEmpty, "question is empty", nil)
	}

	ix := r.holder.Load()
	if ix == nil || ix.Len() == 0 {
		return []Passage{}, nil
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	hits, err := ix.Query(vec, r.config.TopK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Passage{}, nil
	}

	// The threshold gates on the best hit: either the document is
	// relevant to the question or it is not.
	if hits[0].Score < r.config.RelevanceThreshold {
		r.logger.Debug("retrieval below relevance threshold",
			"top_score", hits[0].Score,
			"threshold", r.config.RelevanceThreshold)
		return []Passage{}, nil
	}

	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, Passage{Seq: h.Seq, Score: h.Score, Text: h.Text})
	}

	r.logger.Debug("passages retrieved",
		"count", len(passages),
		"top_score", passages[0].Score)

	return passages, nil
}
