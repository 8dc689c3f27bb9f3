// Package buffered batches records and hands them to a flush callback.
package buffered

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/monosync/pkg/api"
)

// DefaultBatchSize is the default number of records to buffer before flushing.
const DefaultBatchSize = 10

// DefaultFlushInterval is the default interval between automatic flushes.
const DefaultFlushInterval = 30 * time.Second

// Flusher is called when the buffer needs to be flushed.
type Flusher func(ctx context.Context, records []*api.Record) error

// Config holds configuration for buffered writing.
type Config struct {
	// BatchSize is the number of records to buffer before flushing.
	// Defaults to DefaultBatchSize.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	// Defaults to DefaultFlushInterval.
	FlushInterval time.Duration
}

// Stats summarizes a Write run.
type Stats struct {
	Flushed       int
	FailedBatches int
	FailedRecords int
}

// Writer buffers records and flushes them in batches.
type Writer struct {
	buffer  []*api.Record
	mu      sync.Mutex
	flusher Flusher
	config  Config
	logger  *slog.Logger
	stats   Stats
	lastErr error
}

// New creates a new buffered writer with the given flusher function.
func New(flusher Flusher, cfg Config, logger *slog.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		buffer:  make([]*api.Record, 0, cfg.BatchSize),
		flusher: flusher,
		config:  cfg,
		logger:  logger,
	}
}

// Write consumes records until in is closed or ctx is canceled, flushing on batch size,
// on the interval ticker and at the end. A failed batch does not stop the run; the error
// of the last failed batch is returned once input is exhausted.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Record) error {
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	w.logger.Info("buffered writer started",
		"batch_size", w.config.BatchSize,
		"flush_interval", w.config.FlushInterval,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("buffered writer stopping, flushing remaining buffer")
			// The caller's context is gone; give the final flush its own.
			w.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			w.flush(ctx)
		case record, ok := <-in:
			if !ok {
				w.logger.Info("input channel closed, flushing remaining buffer")
				w.flush(ctx)
				return w.result()
			}
			w.mu.Lock()
			w.buffer = append(w.buffer, record)
			shouldFlush := len(w.buffer) >= w.config.BatchSize
			w.mu.Unlock()

			if shouldFlush {
				w.flush(ctx)
			}
		}
	}
}

// flush hands all buffered records to the flusher.
func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}

	toFlush := make([]*api.Record, len(w.buffer))
	copy(toFlush, w.buffer)
	w.buffer = w.buffer[:0]
	w.mu.Unlock()

	w.logger.Debug("flushing buffer", "count", len(toFlush))

	if err := w.flusher(ctx, toFlush); err != nil {
		w.logger.Error("failed to flush batch", "count", len(toFlush), "error", err)
		w.mu.Lock()
		w.stats.FailedBatches++
		w.stats.FailedRecords += len(toFlush)
		w.lastErr = err
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.stats.Flushed += len(toFlush)
	w.mu.Unlock()
	w.logger.Info("flushed records", "count", len(toFlush))
}

func (w *Writer) result() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastErr != nil {
		return fmt.Errorf("%d batches (%d records) failed: %w",
			w.stats.FailedBatches, w.stats.FailedRecords, w.lastErr)
	}
	return nil
}

// Stats returns counters for the run so far.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// BufferLen returns the current number of buffered records.
func (w *Writer) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}
