package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/ArionMiles/monosync/pkg/config"
)

// runDrain commits every staged record to the sink and removes the ones that made it.
func runDrain(logger *slog.Logger, batchSize int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.pipeline.Drain(ctx, batchSize)
	logger.Info("drain finished",
		"found", stats.Found,
		"committed", stats.Committed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)
	if err != nil {
		return fmt.Errorf("draining staging store: %w", err)
	}
	return nil
}
