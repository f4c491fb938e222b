// Command kolabdav serves CalDAV and CardDAV over an in-memory groupware
// store.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyp0633/kolabdav/cache"
	"github.com/cyp0633/kolabdav/config"
	"github.com/cyp0633/kolabdav/metrics"
	"github.com/cyp0633/kolabdav/recurrence"
	"github.com/cyp0633/kolabdav/server"
	"github.com/cyp0633/kolabdav/storage/memory"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := memory.New()
	if cfg.SeedDir != "" {
		n, err := seed(ctx, store, cfg.SeedDir, logger)
		if err != nil {
			return err
		}
		logger.Info("seeded store", "dir", cfg.SeedDir, "objects", n)
	}

	shared := cache.NewShared(cfg.SharedCache())
	defer shared.Close()

	srv, err := server.New(store,
		server.WithPrincipal(cfg.Principal.Name, cfg.Principal.Emails...),
		server.WithBasePath(cfg.BasePath),
		server.WithAggregateAddressBook(cfg.AggregateAddressBook),
		server.WithVCardVersion(cfg.VCardVersion),
		server.WithEngine(recurrence.NewEngineWithConfig(recurrence.DefaultConfig, shared)),
		server.WithMetrics(metrics.New()),
		server.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Listen, "principal", cfg.Principal.Name)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
