package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/embed"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/pipeline"
)

// newTestHandler builds a handler over a pipeline with the static embedder
// and a canned completion server. Uploads go through the real PDF
// extractor, so upload tests here exercise the error paths and the typed
// payloads; the happy ingestion path is covered by the pipeline tests.
func newTestHandler(t *testing.T, origins []string) http.Handler {
	t.Helper()

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"a general answer"}}]}`))
	}))
	t.Cleanup(llmSrv.Close)

	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.Server.AllowedOrigins = origins
	cfg.LLM.APIKey = "test-key"
	cfg.LLM.Endpoint = llmSrv.URL
	cfg.LLM.Timeout = 2 * time.Second

	embedder, err := embed.NewEmbedder(cfg.Embeddings, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = embedder.Close() })

	client, err := llm.NewClient(llm.Config{
		APIKey:   cfg.LLM.APIKey,
		Endpoint: cfg.LLM.Endpoint,
		Timeout:  cfg.LLM.Timeout,
	}, nil)
	require.NoError(t, err)

	p, err := pipeline.New(cfg, embedder, client, nil)
	require.NoError(t, err)

	return New(p, cfg.Server, nil).Handler()
}

func TestServer_Root(t *testing.T) {
	h := newTestHandler(t, []string{"*"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body rootResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, Version, body.Version)
	assert.False(t, body.PDFLoaded)
	assert.Contains(t, body.Endpoints, "ask")
}

func TestServer_Health(t *testing.T) {
	h := newTestHandler(t, []string{"*"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body pipeline.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.False(t, body.HasDocument)
	assert.Zero(t, body.ChunkCount)
}

func TestServer_Ask(t *testing.T) {
	t.Run("answers without a document in no-context mode", func(t *testing.T) {
		// Given no uploaded document
		h := newTestHandler(t, []string{"*"})

		// When asking a question
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ask",
			strings.NewReader(`{"question":"What is the capital of France?"}`))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(rec, req)

		// Then the model answers from general knowledge
		require.Equal(t, http.StatusOK, rec.Code)

		var body askResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "a general answer", body.Answer)
		assert.Equal(t, pipeline.ModeNoContext, body.Mode)
		assert.Empty(t, body.Sources)
	})

	t.Run("empty question is a bad request", func(t *testing.T) {
		h := newTestHandler(t, []string{"*"})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ask",
			strings.NewReader(`{"question":"  "}`))
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Error.Code)
	})

	t.Run("malformed JSON is a bad request", func(t *testing.T) {
		h := newTestHandler(t, []string{"*"})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ask",
			strings.NewReader(`not json`))
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Upload(t *testing.T) {
	t.Run("non-PDF filename is rejected", func(t *testing.T) {
		// Given a multipart upload with a .txt filename
		h := newTestHandler(t, []string{"*"})

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "notes.txt")
		require.NoError(t, err)
		_, err = fw.Write([]byte("plain text"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		h.ServeHTTP(rec, req)

		// Then the request is rejected before extraction
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unparsable bytes are a bad request", func(t *testing.T) {
		h := newTestHandler(t, []string{"*"})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload",
			strings.NewReader("this is not a pdf"))
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing multipart file field is a bad request", func(t *testing.T) {
		h := newTestHandler(t, []string{"*"})

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("other", "value"))
		require.NoError(t, mw.Close())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_CORS(t *testing.T) {
	t.Run("wildcard allows any origin", func(t *testing.T) {
		h := newTestHandler(t, []string{"*"})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://example.com")
		h.ServeHTTP(rec, req)

		assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unlisted origin gets no CORS headers", func(t *testing.T) {
		h := newTestHandler(t, []string{"https://app.example.com"})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		h.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight answered without touching handlers", func(t *testing.T) {
		h := newTestHandler(t, []string{"*"})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/ask", nil)
		req.Header.Set("Origin", "https://example.com")
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
