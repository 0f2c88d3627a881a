// Package pipeline orchestrates document ingestion and question answering.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/docchat/docchat/internal/chunk"
	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/embed"
	docerrors "github.com/docchat/docchat/internal/errors"
	"github.com/docchat/docchat/internal/extract"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/prompt"
	"github.com/docchat/docchat/internal/retrieve"
	"github.com/docchat/docchat/internal/store"
)

// Answer modes.
const (
	// ModeWithContext means document passages informed the answer.
	ModeWithContext = "with-context"
	// ModeNoContext means the model answered from general knowledge.
	ModeNoContext = "no-context"
	// ModeFallbackError means the completion endpoint was unreachable and
	// the answer text is a user-safe failure message.
	ModeFallbackError = "fallback-error"
)

// fallbackAnswer is returned when the completion endpoint fails.
const fallbackAnswer = "The language model could not be reached. Please try again in a moment."

// UploadResult summarizes a successful document ingestion.
type UploadResult struct {
	DocVersion string `json:"doc_version"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	TotalChars int    `json:"total_characters"`
}

// Answer is the outcome of a question. Upstream failures are folded into
// ModeFallbackError rather than surfaced as errors.
type Answer struct {
	Text    string `json:"answer"`
	Sources []int  `json:"sources"`
	Mode    string `json:"mode"`
}

// Health reports pipeline readiness.
type Health struct {
	Ready       bool   `json:"ready"`
	HasDocument bool   `json:"has_document"`
	ChunkCount  int    `json:"chunk_count"`
	DocVersion  string `json:"doc_version,omitempty"`
}

// Pipeline wires extraction, chunking, embedding, indexing, retrieval,
// prompt assembly, and completion together.
type Pipeline struct {
	chunker   *chunk.Chunker
	embedder  embed.Embedder
	holder    *store.Holder
	retriever *retrieve.Retriever
	composer  *prompt.Composer
	completer Completer
	extract   func(data []byte) (*extract.Document, error)
	logger    *slog.Logger

	// uploadMu serializes uploads; a second concurrent upload is
	// rejected instead of queued.
	uploadMu sync.Mutex
}

// Completer produces an answer for an assembled prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var _ Completer = (*llm.Client)(nil)

// New assembles a pipeline from configuration and its collaborators.
func New(cfg *config.Config, embedder embed.Embedder, completer Completer, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	chunker, err := chunk.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	holder := store.NewHolder()
	retriever := retrieve.NewRetriever(embedder, holder, retrieve.Config{
		TopK:               cfg.Retrieval.TopK,
		RelevanceThreshold: float32(cfg.Retrieval.RelevanceThreshold),
	}, logger)

	return &Pipeline{
		chunker:   chunker,
		embedder:  embedder,
		holder:    holder,
		retriever: retriever,
		composer:  prompt.NewComposer(cfg.Retrieval.MaxPromptChars),
		completer: completer,
		extract:   extract.ExtractPDF,
		logger:    logger,
	}, nil
}

// Upload ingests a PDF document, replacing any previously loaded document.
// The swap is all-or-nothing: any failure leaves the prior snapshot
// serving queries. A concurrent upload is rejected with
// ErrCodeUploadInProgress.
func (p *Pipeline) Upload(ctx context.Context, data []byte) (*UploadResult, error) {
	if !p.uploadMu.TryLock() {
		return nil, docerrors.New(docerrors.ErrCodeUploadInProgress,
			"another upload is already in progress", nil)
	}
	defer p.uploadMu.Unlock()

	doc, err := p.extract(data)
	if err != nil {
		return nil, err
	}

	chunks := p.chunker.Split(doc.Version, doc.Text())
	if len(chunks) == 0 {
		return nil, docerrors.New(docerrors.ErrCodeEmptyDocument,
			"document produced no chunks", nil)
	}

	p.logger.Info("document chunked",
		"doc_version", doc.Version,
		"pages", len(doc.Pages),
		"chunks", len(chunks))

	vectors, err := p.embedder.EmbedBatch(ctx, chunk.Texts(chunks))
	if err != nil {
		return nil, err
	}

	entries := make([]store.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = store.Entry{Seq: ch.Seq, Vector: vectors[i], Text: ch.Text}
	}

	ix, err := store.BuildIndex(doc.Version, len(vectors[0]), entries)
	if err != nil {
		return nil, err
	}

	old := p.holder.Swap(ix)
	if old != nil {
		p.logger.Info("document replaced",
			"old_version", old.DocVersion(),
			"new_version", doc.Version)
	}

	p.logger.Info("document indexed",
		"doc_version", doc.Version,
		"chunks", ix.Len())

	return &UploadResult{
		DocVersion: doc.Version,
		Pages:      len(doc.Pages),
		Chunks:     len(chunks),
		TotalChars: doc.TotalChars,
	}, nil
}

// Ask answers a question, using document passages when a relevant document
// is loaded. Upstream failures never escape as errors: they become a
// fallback answer. The only error returned is for an invalid question.
func (p *Pipeline) Ask(ctx context.Context, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, docerrors.New(docerrors.ErrCodeQueryEmpty, "question is empty", nil)
	}

	passages, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		// Retrieval trouble degrades to answering from general
		// knowledge rather than failing the question.
		p.logger.Warn("retrieval failed, answering without context",
			"error", err.Error())
		passages = nil
	}

	composed := p.composer.Compose(question, passages)

	text, err := p.completer.Complete(ctx, composed.Text)
	if err != nil {
		p.logger.Error("completion failed",
			"error", err.Error(),
			"has_context", composed.HasContext)
		return &Answer{
			Text:    fallbackAnswer,
			Sources: []int{},
			Mode:    ModeFallbackError,
		}, nil
	}

	mode := ModeNoContext
	if composed.HasContext {
		mode = ModeWithContext
	}

	p.logger.Info("question answered",
		"mode", mode,
		"sources", len(composed.Sources))

	return &Answer{Text: text, Sources: composed.Sources, Mode: mode}, nil
}

// Health reports readiness. Ready means the embedder's model is loaded and
// reachable; document state is reported alongside.
func (p *Pipeline) Health(ctx context.Context) Health {
	h := Health{
		Ready:       p.embedder.Available(ctx),
		HasDocument: p.holder.HasDocument(),
		ChunkCount:  p.holder.ChunkCount(),
	}
	if ix := p.holder.Load(); ix != nil {
		h.DocVersion = ix.DocVersion()
	}
	return h
}

// Holder exposes the index holder, mainly for tests and snapshot tooling.
func (p *Pipeline) Holder() *store.Holder {
	return p.holder
}
