// Package ingest moves bank transactions from the webhook to the durable sink.
//
// Every accepted transaction is staged before it is committed. The staged copy is the
// recovery record: if the commit fails it stays behind until it expires or is replayed.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ArionMiles/monosync/pkg/api"
	"github.com/ArionMiles/monosync/pkg/sink/buffered"
)

// DefaultStagingTTL is how long a staged record survives without being committed.
const DefaultStagingTTL = 30 * 24 * time.Hour

// DefaultCallTimeout bounds every call to the staging store and the sink.
const DefaultCallTimeout = 15 * time.Second

// CleanupPolicy decides what happens to the staged copy after a successful commit.
type CleanupPolicy string

const (
	// CleanupDelete removes the staged copy once the sink accepted it.
	CleanupDelete CleanupPolicy = "delete"
	// CleanupRetain leaves the staged copy to expire on its own.
	CleanupRetain CleanupPolicy = "retain"
)

// ParseCleanupPolicy validates a policy name. Empty selects CleanupDelete.
func ParseCleanupPolicy(s string) (CleanupPolicy, error) {
	switch CleanupPolicy(s) {
	case "", CleanupDelete:
		return CleanupDelete, nil
	case CleanupRetain:
		return CleanupRetain, nil
	default:
		return "", fmt.Errorf("unknown cleanup policy %q (want %q or %q)", s, CleanupDelete, CleanupRetain)
	}
}

// Normalizer converts a provider transaction into a categorized record.
type Normalizer interface {
	Normalize(raw *api.RawTransaction) (*api.Record, error)
}

// Config holds pipeline settings.
type Config struct {
	// StagingTTL is the expiry set on every staged record. Defaults to DefaultStagingTTL.
	StagingTTL time.Duration
	// Cleanup selects the post-commit policy. Defaults to CleanupDelete.
	Cleanup CleanupPolicy
	// CallTimeout bounds each downstream call. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration
}

// Outcome describes what Ingest did with a notification.
type Outcome string

const (
	// OutcomeSkipped means the transaction was incoming funds and nothing was stored.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeCommitted means the record reached the sink.
	OutcomeCommitted Outcome = "committed"
)

// Pipeline is the ingestion orchestrator. It holds no per-request state and
// may be used from many goroutines.
type Pipeline struct {
	normalizer Normalizer
	staging    api.StagingStore
	sink       api.Sink
	cfg        Config
	logger     *slog.Logger
}

// New creates a Pipeline over explicitly constructed collaborators.
func New(normalizer Normalizer, staging api.StagingStore, sink api.Sink, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StagingTTL <= 0 {
		cfg.StagingTTL = DefaultStagingTTL
	}
	if cfg.Cleanup == "" {
		cfg.Cleanup = CleanupDelete
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	return &Pipeline{
		normalizer: normalizer,
		staging:    staging,
		sink:       sink,
		cfg:        cfg,
		logger:     logger,
	}
}

// Ingest runs one notification through filter, validate, normalize, stage, commit and cleanup.
// Staging failures wrap api.ErrStagingWrite and stop before the commit; commit failures
// wrap api.ErrSinkCommit and leave the staged copy in place.
func (p *Pipeline) Ingest(ctx context.Context, payload *api.WebhookPayload) (Outcome, *api.Record, error) {
	if payload == nil || payload.Data.StatementItem == nil {
		return "", nil, fmt.Errorf("%w: missing statement item", api.ErrMalformedPayload)
	}
	raw := payload.Data.StatementItem
	logger := p.logger.With("transaction_id", raw.ID, "account", payload.Data.Account)

	// Incoming funds are acknowledged before validation; nothing else about them matters.
	if raw.IsIncoming() {
		logger.Debug("skipping incoming transaction", "amount", *raw.Amount)
		return OutcomeSkipped, nil, nil
	}

	if err := raw.Validate(); err != nil {
		return "", nil, err
	}

	record, err := p.normalizer.Normalize(raw)
	if err != nil {
		return "", nil, err
	}

	if err := p.stage(ctx, record); err != nil {
		logger.Error("failed to stage transaction", "error", err)
		return "", record, err
	}
	logger.Info("staged transaction", "category", record.Category, "amount", record.Amount.String())

	if err := p.commit(ctx, record); err != nil {
		logger.Error("failed to commit transaction, staged copy retained", "error", err)
		return "", record, err
	}

	p.cleanup(ctx, logger, record.ID)
	return OutcomeCommitted, record, nil
}

// Get returns a staged record without touching the sink.
func (p *Pipeline) Get(ctx context.Context, id string) (*api.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	body, err := p.staging.Get(callCtx, id)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("reading staged record %s: %w", id, err)
	}

	record, err := decode(id, body)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Replay commits a staged record again and removes it from staging on success.
// The staged copy survives a failed commit.
func (p *Pipeline) Replay(ctx context.Context, id string) (*api.Record, error) {
	record, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With("transaction_id", id)

	if err := p.commit(ctx, record); err != nil {
		logger.Error("replay failed, staged copy retained", "error", err)
		return nil, err
	}

	// Replay always deletes; the staging store is acting as a manual retry queue here.
	if err := p.delete(ctx, id); err != nil {
		logger.Warn("replayed record could not be removed from staging", "error", err)
	}
	logger.Info("replayed staged transaction")
	return record, nil
}

// DrainStats reports the result of a Drain run.
type DrainStats struct {
	Found     int
	Committed int
	Failed    int
	Skipped   int
}

// Drain replays every staged record through the sink in batches of batchSize.
// Records that fail to commit stay staged.
func (p *Pipeline) Drain(ctx context.Context, batchSize int) (DrainStats, error) {
	var stats DrainStats

	listCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	ids, err := p.staging.Keys(listCtx)
	cancel()
	if err != nil {
		return stats, fmt.Errorf("listing staged records: %w", err)
	}
	stats.Found = len(ids)
	p.logger.Info("draining staging store", "count", len(ids))

	writer := buffered.New(func(ctx context.Context, records []*api.Record) error {
		if err := p.commit(ctx, records...); err != nil {
			return err
		}
		for _, r := range records {
			if err := p.delete(ctx, r.ID); err != nil {
				p.logger.Warn("drained record could not be removed from staging",
					"transaction_id", r.ID, "error", err)
			}
		}
		return nil
	}, buffered.Config{BatchSize: batchSize}, p.logger.With("component", "drain_buffer"))

	in := make(chan *api.Record)
	done := make(chan error, 1)
	go func() { done <- writer.Write(ctx, in) }()

feed:
	for _, id := range ids {
		record, err := p.Get(ctx, id)
		if err != nil {
			// Expired or removed since listing, or unreadable.
			p.logger.Warn("skipping staged record", "transaction_id", id, "error", err)
			stats.Skipped++
			continue
		}
		select {
		case in <- record:
		case <-ctx.Done():
			break feed
		}
	}
	close(in)

	drainErr := <-done
	ws := writer.Stats()
	stats.Committed = ws.Flushed
	stats.Failed = ws.FailedRecords
	return stats, drainErr
}

func (p *Pipeline) stage(ctx context.Context, record *api.Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encoding record: %w", api.ErrStagingWrite, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	if err := p.staging.Put(callCtx, record.ID, body, p.cfg.StagingTTL); err != nil {
		return fmt.Errorf("%w: %w", api.ErrStagingWrite, err)
	}
	return nil
}

func (p *Pipeline) commit(ctx context.Context, records ...*api.Record) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	if err := p.sink.EnsureLoaded(callCtx); err != nil {
		return fmt.Errorf("%w: loading sink: %w", api.ErrSinkCommit, err)
	}
	if err := p.sink.Append(callCtx, records...); err != nil {
		return fmt.Errorf("%w: %w", api.ErrSinkCommit, err)
	}
	return nil
}

// cleanup applies the configured policy. A failed delete only logs: the record is
// already committed and the staged copy will expire.
func (p *Pipeline) cleanup(ctx context.Context, logger *slog.Logger, id string) {
	if p.cfg.Cleanup == CleanupRetain {
		logger.Info("committed transaction, staged copy retained by policy")
		return
	}
	if err := p.delete(ctx, id); err != nil {
		logger.Warn("committed transaction could not be removed from staging", "error", err)
		return
	}
	logger.Info("committed transaction")
}

func (p *Pipeline) delete(ctx context.Context, id string) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.staging.Delete(callCtx, id)
}

func decode(id string, body []byte) (*api.Record, error) {
	var record api.Record
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("decoding staged record %s: %w", id, err)
	}
	record.ID = id
	return &record, nil
}
