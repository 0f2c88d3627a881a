// Package config loads DocChat configuration from defaults, an optional
// YAML file, and DOCCHAT_* environment variable overrides, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete DocChat configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	// AllowedOrigins is the CORS allow-list. ["*"] allows all origins.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level"`
	// MaxUploadBytes caps the accepted document size.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" json:"max_upload_bytes"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "remote" (HTTP service) or "static"
	// (deterministic hash embeddings, no network).
	Provider string `yaml:"provider" json:"provider"`
	// Endpoint is the embedding service base URL (default: http://localhost:11434).
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Model is the embedding model name.
	Model string `yaml:"model" json:"model"`
	// Dimensions is the embedding dimension. 0 auto-detects from the model.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is the number of chunks per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the number of query embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Timeout bounds a single embedding request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RetrievalConfig configures chunking and similarity retrieval.
type RetrievalConfig struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the character overlap between consecutive chunks.
	// Must be < ChunkSize.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// TopK is the number of passages retrieved per question.
	TopK int `yaml:"top_k" json:"top_k"`
	// RelevanceThreshold drops retrieval results when the best similarity
	// score falls below it (0-1 for cosine).
	RelevanceThreshold float64 `yaml:"relevance_threshold" json:"relevance_threshold"`
	// MaxPromptChars bounds the composed prompt length.
	MaxPromptChars int `yaml:"max_prompt_chars" json:"max_prompt_chars"`
}

// LLMConfig configures the remote completion endpoint.
type LLMConfig struct {
	// APIKey authenticates against the completion endpoint.
	// Usually provided via DOCCHAT_OPENROUTER_API_KEY or OPENROUTER_API_KEY.
	APIKey string `yaml:"api_key" json:"api_key"`
	// Endpoint is the chat-completions URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Model is the completion model identifier.
	Model string `yaml:"model" json:"model"`
	// Timeout bounds a single completion request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxRetries is the retry budget for transient failures (not counting
	// the initial attempt).
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":8000",
			AllowedOrigins: []string{"*"},
			LogLevel:       "info",
			MaxUploadBytes: 32 << 20, // 32 MiB
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "remote",
			Endpoint:   "http://localhost:11434",
			Model:      "all-minilm",
			Dimensions: 0, // Auto-detect from embedder
			BatchSize:  32,
			CacheSize:  1000,
			Timeout:    60 * time.Second,
		},
		Retrieval: RetrievalConfig{
			ChunkSize:          500,
			ChunkOverlap:       50,
			TopK:               3,
			RelevanceThreshold: 0.35,
			MaxPromptChars:     6000,
		},
		LLM: LLMConfig{
			Endpoint:   "https://openrouter.ai/api/v1/chat/completions",
			Model:      "openai/gpt-3.5-turbo",
			Timeout:    30 * time.Second,
			MaxRetries: 1,
		},
	}
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. Config file (.docchat.yaml or .docchat.yml in dir)
//  3. Environment variables (DOCCHAT_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .docchat.yaml or .docchat.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".docchat.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".docchat.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	// Server
	if other.Server.ListenAddr != "" {
		c.Server.ListenAddr = other.Server.ListenAddr
	}
	if len(other.Server.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = other.Server.AllowedOrigins
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.MaxUploadBytes != 0 {
		c.Server.MaxUploadBytes = other.Server.MaxUploadBytes
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.Timeout != 0 {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}

	// Retrieval
	if other.Retrieval.ChunkSize != 0 {
		c.Retrieval.ChunkSize = other.Retrieval.ChunkSize
	}
	if other.Retrieval.ChunkOverlap != 0 {
		c.Retrieval.ChunkOverlap = other.Retrieval.ChunkOverlap
	}
	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.RelevanceThreshold != 0 {
		c.Retrieval.RelevanceThreshold = other.Retrieval.RelevanceThreshold
	}
	if other.Retrieval.MaxPromptChars != 0 {
		c.Retrieval.MaxPromptChars = other.Retrieval.MaxPromptChars
	}

	// LLM
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.MaxRetries != 0 {
		c.LLM.MaxRetries = other.LLM.MaxRetries
	}
}

// applyEnvOverrides applies DOCCHAT_* environment variable overrides.
// OPENROUTER_API_KEY is honored as a fallback for the key itself.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCCHAT_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("DOCCHAT_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitOrigins(v)
	}
	if v := os.Getenv("DOCCHAT_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}

	if v := os.Getenv("DOCCHAT_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCCHAT_EMBED_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("DOCCHAT_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}

	if v := os.Getenv("DOCCHAT_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.TopK = k
		}
	}
	if v := os.Getenv("DOCCHAT_RELEVANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 && f <= 1 {
			c.Retrieval.RelevanceThreshold = f
		}
	}
	if v := os.Getenv("DOCCHAT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.ChunkSize = n
		}
	}
	if v := os.Getenv("DOCCHAT_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Retrieval.ChunkOverlap = n
		}
	}

	if v := os.Getenv("DOCCHAT_OPENROUTER_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("DOCCHAT_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("DOCCHAT_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("DOCCHAT_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.LLM.Timeout = d
		}
	}
}

// splitOrigins parses a comma-separated origin list. "*" stays a single
// wildcard entry.
func splitOrigins(v string) []string {
	if strings.TrimSpace(v) == "*" {
		return []string{"*"}
	}
	parts := strings.Split(v, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Retrieval.ChunkSize)
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("chunk_overlap must satisfy 0 <= overlap < chunk_size, got %d (chunk_size %d)",
			c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.RelevanceThreshold < 0 || c.Retrieval.RelevanceThreshold > 1 {
		return fmt.Errorf("relevance_threshold must be between 0 and 1, got %f", c.Retrieval.RelevanceThreshold)
	}
	if c.Retrieval.MaxPromptChars <= 0 {
		return fmt.Errorf("max_prompt_chars must be positive, got %d", c.Retrieval.MaxPromptChars)
	}

	validProviders := map[string]bool{"remote": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'remote' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be non-negative, got %d", c.LLM.MaxRetries)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// RenderYAML returns the configuration as a YAML document.
func (c *Config) RenderYAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
