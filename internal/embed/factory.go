package embed

import (
	"log/slog"

	"github.com/docchat/docchat/internal/config"
	docerrors "github.com/docchat/docchat/internal/errors"
)

// NewEmbedder constructs an embedder from configuration. The remote
// provider is wrapped with an LRU cache so repeated queries skip the
// embedding service.
func NewEmbedder(cfg config.EmbeddingsConfig, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var base Embedder
	switch cfg.Provider {
	case "static":
		base = NewStaticEmbedder()
	case "remote", "":
		base = NewRemoteEmbedder(RemoteConfig{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
			MaxRetries: DefaultMaxRetries,
		})
	default:
		return nil, docerrors.Newf(docerrors.ErrCodeConfigInvalid,
			"unknown embeddings provider %q", cfg.Provider)
	}

	cached, err := NewCachedEmbedder(base, cfg.CacheSize, logger)
	if err != nil {
		_ = base.Close()
		return nil, docerrors.Wrap(docerrors.ErrCodeInternal, err)
	}

	logger.Info("embedder initialized",
		"provider", cfg.Provider,
		"model", cached.ModelName(),
		"cache_size", cfg.CacheSize)

	return cached, nil
}
