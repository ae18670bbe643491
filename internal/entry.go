// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Shizuku-Yume/Arcaferry/internal/cardservice"
	"github.com/Shizuku-Yume/Arcaferry/internal/index"
	"github.com/Shizuku-Yume/Arcaferry/internal/mcpserver"
	"github.com/Shizuku-Yume/Arcaferry/internal/storage"
)

// Run starts the MCP server with the given options and blocks until the
// context is cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Structured JSON logger on stderr: stdout belongs to the stdio
	// transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("library_path", cfg.Library.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure library directory exists.
	if err := os.MkdirAll(cfg.Library.Path, 0o755); err != nil {
		return fmt.Errorf("create library dir: %w", err)
	}

	// Initialize storage.
	store, err := storage.NewFS(cfg.Library.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite index.
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	// Run initial sync.
	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	svc := cardservice.New(store, db, logger)
	svc.DefaultPersona = cfg.Persona.Name
	srv := mcpserver.New(svc)

	watcher, err := index.NewWatcher(db, store, cfg.Library.Path, logger)
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}

	logger.Info("Server starting...")

	g, gCtx := errgroup.WithContext(ctx)

	// Keep the index live while the server runs.
	g.Go(func() error {
		if err := watcher.Run(gCtx); err != nil && gCtx.Err() == nil {
			return fmt.Errorf("watcher error: %w", err)
		}
		return nil
	})

	// Serve MCP on stdin/stdout.
	g.Go(func() error {
		logger.Info("Starting MCP server on stdio")
		if err := srv.Listen(gCtx); err != nil && gCtx.Err() == nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			return context.Canceled
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
