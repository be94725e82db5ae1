// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mikaelwills/spacenotes/internal/api"
	"github.com/mikaelwills/spacenotes/internal/index"
	"github.com/mikaelwills/spacenotes/internal/mcpserver"
	"github.com/mikaelwills/spacenotes/internal/spacetime"
	"github.com/mikaelwills/spacenotes/internal/syncer"
	"github.com/mikaelwills/spacenotes/internal/tracker"
	"github.com/mikaelwills/spacenotes/internal/vault"
	"github.com/mikaelwills/spacenotes/internal/watcher"
)

// Run starts the sync daemon with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("spacetime_host", cfg.Spacetime.Host),
		slog.String("spacetime_database", cfg.Spacetime.Database),
		slog.Duration("debounce_window", cfg.Sync.DebounceWindow()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	fs, err := vault.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	// Fingerprint state, persisted across restarts when a path is configured.
	var store tracker.Store
	if cfg.Sync.StateDBPath != "" {
		db, dbErr := index.Open(cfg.Sync.StateDBPath)
		if dbErr != nil {
			logger.Warn("state db unavailable, fingerprints held in memory only",
				slog.String("path", cfg.Sync.StateDBPath),
				slog.String("error", dbErr.Error()))
		} else {
			defer db.Close()
			store = db
		}
	}
	tr := tracker.New(store)
	writer := vault.NewWriter(fs, tr)

	// Connect to the remote store. Startup connectivity is the one remote
	// failure that is fatal: without the initial subscription there is no
	// baseline to sync against.
	client, err := spacetime.Connect(ctx, spacetime.Config{
		Host:           cfg.Spacetime.Host,
		Database:       cfg.Spacetime.Database,
		Token:          cfg.Spacetime.Token,
		ConnectTimeout: cfg.Spacetime.ConnectTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("connect spacetime: %w", err)
	}
	defer client.Close()

	if err := client.WaitForSync(ctx); err != nil {
		return fmt.Errorf("wait for sync: %w", err)
	}

	engine := syncer.NewEngine(fs, writer, tr, client, logger)
	engine.AttachRemote(client)

	if err := engine.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}

	pipeline := watcher.NewPipeline(fs.Root(), cfg.Sync.DebounceWindow(), nil, logger)

	var httpServer *http.Server
	if cfg.App.HTTP.Enabled() {
		httpServer = &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: api.NewRouter(client, tr, fs.Root()),
		}
	}

	// SIGINT/SIGTERM cancel the context; every worker winds down from there.
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return pipeline.Run(gCtx)
	})

	g.Go(func() error {
		return engine.Run(gCtx, pipeline.Events())
	})

	if httpServer != nil {
		g.Go(func() error {
			logger.Info("Starting status server", slog.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down status server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("status server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Daemon stopped successfully")
	return nil
}

// RunClear wipes every record from the remote store.
func RunClear(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg)

	client, err := spacetime.Connect(ctx, spacetime.Config{
		Host:           cfg.Spacetime.Host,
		Database:       cfg.Spacetime.Database,
		Token:          cfg.Spacetime.Token,
		ConnectTimeout: cfg.Spacetime.ConnectTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("connect spacetime: %w", err)
	}
	defer client.Close()

	if err := client.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear all: %w", err)
	}
	logger.Info("Remote store cleared")
	return nil
}

// RunMCP serves the MCP tools over stdio, backed by the remote store. The
// logger goes to stderr: stdout belongs to the MCP transport.
func RunMCP(ctx context.Context, cfg *Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	client, err := spacetime.Connect(ctx, spacetime.Config{
		Host:           cfg.Spacetime.Host,
		Database:       cfg.Spacetime.Database,
		Token:          cfg.Spacetime.Token,
		ConnectTimeout: cfg.Spacetime.ConnectTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("connect spacetime: %w", err)
	}
	defer client.Close()

	if err := client.WaitForSync(ctx); err != nil {
		return fmt.Errorf("wait for sync: %w", err)
	}

	return mcpserver.New(client).ServeStdio()
}

// newLogger builds the structured JSON logger, optionally teeing into a
// rotating log file.
func newLogger(cfg *Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.App.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.App.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}
