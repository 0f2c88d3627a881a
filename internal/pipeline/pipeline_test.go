package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/embed"
	docerrors "github.com/docchat/docchat/internal/errors"
	"github.com/docchat/docchat/internal/extract"
	"github.com/docchat/docchat/internal/llm"
)

// fakeLLM returns an httptest server that echoes a canned completion and
// records the prompts it received.
type fakeLLM struct {
	srv     *httptest.Server
	mu      sync.Mutex
	prompts []string
	reply   string
	delay   time.Duration
}

func newFakeLLM(reply string) *fakeLLM {
	f := &fakeLLM{reply: reply}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		if len(req.Messages) > 0 {
			f.prompts = append(f.prompts, req.Messages[0].Content)
		}
		delay := f.delay
		f.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":` +
			jsonString(f.reply) + `}}]}`))
	}))
	return f
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// newTestPipeline wires a pipeline with the static embedder, a fake
// completion server, and an extractor that treats the upload bytes as
// plain text pages split on form feeds.
func newTestPipeline(t *testing.T, llmURL string, mutate func(*config.Config)) *Pipeline {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.LLM.APIKey = "test-key"
	cfg.LLM.Endpoint = llmURL
	cfg.LLM.Timeout = 2 * time.Second
	cfg.Retrieval.RelevanceThreshold = 0.05
	if mutate != nil {
		mutate(cfg)
	}

	embedder, err := embed.NewEmbedder(cfg.Embeddings, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = embedder.Close() })

	client, err := llm.NewClient(llm.Config{
		APIKey:     cfg.LLM.APIKey,
		Endpoint:   cfg.LLM.Endpoint,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, nil)
	require.NoError(t, err)

	p, err := New(cfg, embedder, client, nil)
	require.NoError(t, err)

	p.extract = func(data []byte) (*extract.Document, error) {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, docerrors.New(docerrors.ErrCodeEmptyDocument, "no text", nil)
		}
		pages := strings.Split(text, "\f")
		total := 0
		for _, pg := range pages {
			total += len(pg)
		}
		return &extract.Document{
			Version:    uuid.NewString(),
			Pages:      pages,
			TotalChars: total,
		}, nil
	}

	return p
}

const franceDoc = `The capital of France is Paris. Paris has been the ` +
	`political and cultural center of France for centuries.` + "\f" +
	`Photosynthesis converts sunlight into chemical energy inside plant cells.` + "\f" +
	`The Pacific Ocean is the largest and deepest ocean on Earth.`

func TestPipeline_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("ingests a document end to end", func(t *testing.T) {
		f := newFakeLLM("ok")
		defer f.srv.Close()
		p := newTestPipeline(t, f.srv.URL, nil)

		// When uploading a three page document
		result, err := p.Upload(ctx, []byte(franceDoc))
		require.NoError(t, err)

		// Then the result reports pages and chunks and the index is live
		assert.Equal(t, 3, result.Pages)
		assert.Greater(t, result.Chunks, 0)
		assert.NotEmpty(t, result.DocVersion)
		assert.True(t, p.Holder().HasDocument())
		assert.Equal(t, result.Chunks, p.Holder().ChunkCount())
	})

	t.Run("replacement evicts the old document", func(t *testing.T) {
		f := newFakeLLM("ok")
		defer f.srv.Close()
		p := newTestPipeline(t, f.srv.URL, nil)

		first, err := p.Upload(ctx, []byte(franceDoc))
		require.NoError(t, err)

		second, err := p.Upload(ctx, []byte("An entirely different and much shorter document."))
		require.NoError(t, err)

		// The active snapshot belongs to the second document wholesale
		assert.NotEqual(t, first.DocVersion, second.DocVersion)
		assert.Equal(t, second.DocVersion, p.Holder().Load().DocVersion())
		assert.Equal(t, second.Chunks, p.Holder().ChunkCount())
	})

	t.Run("failed upload leaves the prior snapshot serving", func(t *testing.T) {
		f := newFakeLLM("ok")
		defer f.srv.Close()
		p := newTestPipeline(t, f.srv.URL, nil)

		first, err := p.Upload(ctx, []byte(franceDoc))
		require.NoError(t, err)

		_, err = p.Upload(ctx, []byte("   "))
		require.Error(t, err)
		assert.True(t, docerrors.IsCode(err, docerrors.ErrCodeEmptyDocument))

		assert.Equal(t, first.DocVersion, p.Holder().Load().DocVersion())
	})

	t.Run("concurrent upload is rejected", func(t *testing.T) {
		f := newFakeLLM("ok")
		defer f.srv.Close()
		p := newTestPipeline(t, f.srv.URL, nil)

		// Given an upload stalled inside extraction
		entered := make(chan struct{})
		release := make(chan struct{})
		inner := p.extract
		p.extract = func(data []byte) (*extract.Document, error) {
			close(entered)
			<-release
			return inner(data)
		}

		done := make(chan error, 1)
		go func() {
			_, err := p.Upload(ctx, []byte(franceDoc))
			done <- err
		}()
		<-entered

		// When a second upload arrives
		_, err := p.Upload(ctx, []byte(franceDoc))

		// Then it is rejected immediately
		require.Error(t, err)
		assert.True(t, docerrors.IsCode(err, docerrors.ErrCodeUploadInProgress))

		close(release)
		require.NoError(t, <-done)
	})
}

func TestPipeline_Ask(t *testing.T) {
	ctx := context.Background()

	t.Run("answers with context after upload", func(t *testing.T) {
		// Given an uploaded document about France
		f := newFakeLLM("Paris is the capital of France.")
		defer f.srv.Close()
		p := newTestPipeline(t, f.srv.URL, nil)

		_, err := p.Upload(ctx, []byte(franceDoc))
		require.NoError(t, err)

		// When asking about its content
		answer, err := p.Ask(ctx, "What is the capital of France?")
		require.NoError(t, err)

		// Then the answer cites sources and carries with-context mode
		assert.Equal(t, ModeWithContext, answer.Mode)
		assert.Equal(t, "Paris is the capital of France.", answer.Text)
		assert.NotEmpty(t, answer.Sources)
		assert.Contains(t, f.lastPrompt(), "Based on the following information")
		assert.Contains(t, f.lastPrompt(), "capital of France")
	})

	t.Run("no document means no-context mode", func(t *testing.T) {
		// Given no uploaded document but a reachable model
		f := newFakeLLM("Paris.")
		defer f.srv.Close()
		p := newTestPipeline(t, f.srv.URL, nil)

		// When asking
		answer, err := p.Ask(ctx, "What is the capital of France?")
		require.NoError(t, err)

		// Then the bare question goes to the model
		assert.Equal(t, ModeNoContext, answer.Mode)
		assert.Empty(t, answer.Sources)
		assert.Equal(t, "What is the capital of France?", f.lastPrompt())
	})

	t.Run("below relevance threshold means no-context mode", func(t *testing.T) {
		f := newFakeLLM("general answer")
		defer f.srv.Close()
		p := newTestPipeline(t, f.srv.URL, func(cfg *config.Config) {
			cfg.Retrieval.RelevanceThreshold = 0.99
		})

		_, err := p.Upload(ctx, []byte(franceDoc))
		require.NoError(t, err)

		answer, err := p.Ask(ctx, "wholly unrelated zzzz gibberish")
		require.NoError(t, err)

		assert.Equal(t, ModeNoContext, answer.Mode)
		assert.Empty(t, answer.Sources)
	})

	t.Run("timeouts on both attempts produce the fallback answer", func(t *testing.T) {
		// Given a model slower than the timeout on every attempt
		f := newFakeLLM("too late")
		f.delay = 500 * time.Millisecond
		defer f.srv.Close()
		p := newTestPipeline(t, f.srv.URL, func(cfg *config.Config) {
			cfg.LLM.Timeout = 50 * time.Millisecond
			cfg.LLM.MaxRetries = 1
		})

		// When asking
		answer, err := p.Ask(ctx, "What is the capital of France?")

		// Then the failure becomes a user-safe fallback, not an error
		require.NoError(t, err)
		assert.Equal(t, ModeFallbackError, answer.Mode)
		assert.NotEmpty(t, answer.Text)
		assert.Empty(t, answer.Sources)
	})

	t.Run("empty question is rejected", func(t *testing.T) {
		f := newFakeLLM("ok")
		defer f.srv.Close()
		p := newTestPipeline(t, f.srv.URL, nil)

		_, err := p.Ask(ctx, "  \n ")
		require.Error(t, err)
		assert.True(t, docerrors.IsCode(err, docerrors.ErrCodeQueryEmpty))
	})
}

func TestPipeline_Health(t *testing.T) {
	ctx := context.Background()

	f := newFakeLLM("ok")
	defer f.srv.Close()
	p := newTestPipeline(t, f.srv.URL, nil)

	// Given a fresh pipeline with the static embedder
	h := p.Health(ctx)
	assert.True(t, h.Ready)
	assert.False(t, h.HasDocument)
	assert.Zero(t, h.ChunkCount)

	// When a document is uploaded
	result, err := p.Upload(ctx, []byte(franceDoc))
	require.NoError(t, err)

	// Then health reflects the loaded document
	h = p.Health(ctx)
	assert.True(t, h.Ready)
	assert.True(t, h.HasDocument)
	assert.Equal(t, result.Chunks, h.ChunkCount)
	assert.Equal(t, result.DocVersion, h.DocVersion)
}
