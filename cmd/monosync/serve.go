package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ArionMiles/monosync/internal/server"
	"github.com/ArionMiles/monosync/pkg/config"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Hour
)

// runServe starts the webhook server and blocks until SIGINT or SIGTERM.
func runServe(logger *slog.Logger, addr string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}

	// Setup context with cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing resources", "error", err)
		}
	}()

	a.logConfig()

	// Load sink metadata up front. A failure is retried by the first commit.
	loadCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	err = a.sink.EnsureLoaded(loadCtx)
	cancel()
	if err != nil {
		logger.Warn("sink not ready, will retry on first request", "error", err)
	}

	if s, ok := a.staging.(sweeper); ok {
		go runSweeper(ctx, s, sweepInterval, logger.With("component", "sweeper"))
	}

	srv := server.New(a.pipeline, server.Config{HealthCheck: a.healthCheck}, logger.With("component", "http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout*3 + 10*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("monosync stopped")
	return nil
}

// runSweeper periodically removes expired rows from stores that need it.
func runSweeper(ctx context.Context, s sweeper, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				logger.Error("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("swept expired staged records", "count", n)
			}
		}
	}
}
