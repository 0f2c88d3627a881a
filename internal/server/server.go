// Package server exposes the pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/docchat/docchat/internal/config"
	docerrors "github.com/docchat/docchat/internal/errors"
	"github.com/docchat/docchat/internal/pipeline"
)

// Version is the API version reported at the root endpoint.
const Version = "1.0.0"

// askRequest is the POST /ask payload.
type askRequest struct {
	Question string `json:"question"`
}

// askResponse is the POST /ask reply.
type askResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Sources  []int  `json:"sources"`
	Mode     string `json:"mode"`
}

// uploadResponse is the POST /upload reply.
type uploadResponse struct {
	Message    string `json:"message"`
	Filename   string `json:"filename,omitempty"`
	DocVersion string `json:"doc_version"`
	Pages      int    `json:"pages"`
	NumChunks  int    `json:"num_chunks"`
	TotalChars int    `json:"total_characters"`
}

// rootResponse is the GET / reply.
type rootResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	PDFLoaded bool              `json:"pdf_loaded"`
	Endpoints map[string]string `json:"endpoints"`
}

// errorResponse is the error reply shape for all endpoints.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	pipeline       *pipeline.Pipeline
	allowedOrigins []string
	maxUploadBytes int64
	logger         *slog.Logger
}

// New creates a server over the pipeline.
func New(p *pipeline.Pipeline, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pipeline:       p,
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         logger,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return s.cors(mux)
}

// cors applies the configured allow-origin list and answers preflights.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// handleUpload ingests a PDF, either as a multipart "file" field or as a
// raw request body.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	data, filename, err := readUpload(r)
	if err != nil {
		s.writeError(w, docerrors.Wrap(docerrors.ErrCodeInvalidInput, err))
		return
	}
	if filename != "" && !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		s.writeError(w, docerrors.New(docerrors.ErrCodeInvalidInput,
			"file must be a PDF", nil))
		return
	}

	result, err := s.pipeline.Upload(r.Context(), data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Message:    "file uploaded and processed successfully",
		Filename:   filename,
		DocVersion: result.DocVersion,
		Pages:      result.Pages,
		NumChunks:  result.Chunks,
		TotalChars: result.TotalChars,
	})
}

// readUpload extracts the document bytes from a multipart form or the raw
// body.
func readUpload(r *http.Request) (data []byte, filename string, err error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		return data, header.Filename, nil
	}

	data, err = io.ReadAll(r.Body)
	return data, "", err
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, docerrors.New(docerrors.ErrCodeInvalidInput,
			"request body must be JSON with a question field", err))
		return
	}

	answer, err := s.pipeline.Ask(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, askResponse{
		Question: req.Question,
		Answer:   answer.Text,
		Sources:  answer.Sources,
		Mode:     answer.Mode,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.Health(r.Context()))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, rootResponse{
		Message:   "DocChat document question answering",
		Version:   Version,
		PDFLoaded: s.pipeline.Health(r.Context()).HasDocument,
		Endpoints: map[string]string{
			"upload": "POST /upload",
			"ask":    "POST /ask",
			"health": "GET /health",
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encoding failed", "error", err.Error())
	}
}

// writeError maps structured error codes to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := docerrors.ErrCodeInternal

	var docErr *docerrors.DocError
	if errors.As(err, &docErr) {
		code = docErr.Code
		switch docErr.Code {
		case docerrors.ErrCodeInvalidInput, docerrors.ErrCodeQueryEmpty,
			docerrors.ErrCodeExtractFailed, docerrors.ErrCodeEmptyDocument:
			status = http.StatusBadRequest
		case docerrors.ErrCodeUploadInProgress:
			status = http.StatusConflict
		case docerrors.ErrCodeModelUnavailable:
			status = http.StatusServiceUnavailable
		}
	}

	s.logger.Warn("request failed",
		"code", code,
		"status", status,
		"error", err.Error())

	var resp errorResponse
	resp.Error.Code = code
	resp.Error.Message = err.Error()
	s.writeJSON(w, status, resp)
}
