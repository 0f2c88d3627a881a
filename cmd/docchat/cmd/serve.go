package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/embed"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/logging"
	"github.com/docchat/docchat/internal/pipeline"
	"github.com/docchat/docchat/internal/server"
	"github.com/docchat/docchat/internal/store"
)

// shutdownGrace bounds how long in-flight requests may finish.
const shutdownGrace = 10 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var snapshotPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the DocChat HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), snapshotPath)
		},
	}

	cmd.Flags().StringVar(&snapshotPath, "snapshot", "",
		"Optional index snapshot file, loaded on start and written on shutdown")

	return cmd
}

func runServe(ctx context.Context, snapshotPath string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	logger := logging.SetupDefault(cfg.Server.LogLevel)

	embedder, err := embed.NewEmbedder(cfg.Embeddings, logger)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	client, err := llm.NewClient(llm.Config{
		APIKey:     cfg.LLM.APIKey,
		Endpoint:   cfg.LLM.Endpoint,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg, embedder, client, logger)
	if err != nil {
		return err
	}

	if snapshotPath != "" {
		ix, err := store.LoadSnapshot(snapshotPath)
		if err != nil {
			return fmt.Errorf("load index snapshot: %w", err)
		}
		if ix != nil {
			p.Holder().Swap(ix)
			logger.Info("index snapshot restored",
				"path", snapshotPath,
				"chunks", ix.Len())
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.New(p, cfg.Server, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			"addr", cfg.Server.ListenAddr,
			"model", client.Model())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("shutdown incomplete", "error", err.Error())
	}

	if snapshotPath != "" {
		if ix := p.Holder().Load(); ix != nil {
			if err := store.Save(ix, snapshotPath); err != nil {
				logger.Warn("index snapshot not written",
					"path", snapshotPath,
					"error", err.Error())
			} else {
				logger.Info("index snapshot written", "path", snapshotPath)
			}
		}
	}

	return nil
}
