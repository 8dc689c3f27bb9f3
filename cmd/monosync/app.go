package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/api/option"

	"github.com/ArionMiles/monosync/pkg/api"
	"github.com/ArionMiles/monosync/pkg/classify"
	"github.com/ArionMiles/monosync/pkg/client"
	"github.com/ArionMiles/monosync/pkg/config"
	"github.com/ArionMiles/monosync/pkg/ingest"
	"github.com/ArionMiles/monosync/pkg/normalize"
	csvsink "github.com/ArionMiles/monosync/pkg/sink/csv"
	sheetssink "github.com/ArionMiles/monosync/pkg/sink/sheets"
	"github.com/ArionMiles/monosync/pkg/staging/memory"
	pgstaging "github.com/ArionMiles/monosync/pkg/staging/postgres"
	redisstaging "github.com/ArionMiles/monosync/pkg/staging/redis"
)

// pinger is implemented by staging stores backed by a network service.
type pinger interface {
	Ping(ctx context.Context) error
}

// sweeper is implemented by staging stores without native key expiry.
type sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// app holds the constructed collaborators for one process.
type app struct {
	cfg        config.Config
	staging    api.StagingStore
	sink       api.Sink
	classifier *classify.Classifier
	pipeline   *ingest.Pipeline
	logger     *slog.Logger
}

// newApp builds every component named by cfg. Close releases them.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	classifier, err := buildClassifier(cfg)
	if err != nil {
		return nil, err
	}

	loc, err := normalize.ParseLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	staging, err := buildStaging(ctx, cfg, logger.With("component", "staging", "backend", cfg.StagingBackend))
	if err != nil {
		return nil, err
	}

	sink, err := buildSink(ctx, cfg, logger.With("component", "sink", "backend", cfg.SinkBackend))
	if err != nil {
		_ = staging.Close()
		return nil, err
	}

	cleanup, err := ingest.ParseCleanupPolicy(cfg.CleanupPolicy)
	if err != nil {
		_ = staging.Close()
		return nil, err
	}

	pipeline := ingest.New(
		normalize.New(loc, classifier),
		staging,
		sink,
		ingest.Config{
			StagingTTL:  cfg.StagingTTL,
			Cleanup:     cleanup,
			CallTimeout: cfg.RequestTimeout,
		},
		logger.With("component", "pipeline"),
	)

	return &app{
		cfg:        cfg,
		staging:    staging,
		sink:       sink,
		classifier: classifier,
		pipeline:   pipeline,
		logger:     logger,
	}, nil
}

// Close releases the staging store and, when it holds one, the sink.
func (a *app) Close() error {
	var errs []error
	if c, ok := a.sink.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, a.staging.Close())
	return errors.Join(errs...)
}

// logConfig logs the effective configuration with secrets masked.
func (a *app) logConfig() {
	a.logger.Info("configuration loaded",
		"staging", a.cfg.StagingBackend,
		"sink", a.cfg.SinkBackend,
		"cleanup", a.cfg.CleanupPolicy,
		"categories", len(a.classifier.Categories()),
		"config", a.cfg.Redacted(),
	)
}

// healthCheck pings the staging store when it supports it.
func (a *app) healthCheck(ctx context.Context) error {
	p, ok := a.staging.(pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

func buildClassifier(cfg config.Config) (*classify.Classifier, error) {
	if cfg.CategoriesFile == "" {
		return classify.Default()
	}
	c, err := classify.LoadFile(cfg.CategoriesFile)
	if err != nil {
		return nil, fmt.Errorf("loading categories: %w", err)
	}
	return c, nil
}

func buildStaging(ctx context.Context, cfg config.Config, logger *slog.Logger) (api.StagingStore, error) {
	switch cfg.StagingBackend {
	case config.StagingRedis:
		store, err := redisstaging.New(ctx, redisstaging.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.StagingPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis staging store: %w", err)
		}
		return store, nil
	case config.StagingPostgres:
		store, err := pgstaging.New(ctx, pgstaging.Config{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating postgres staging store: %w", err)
		}
		return store, nil
	case config.StagingMemory:
		logger.Warn("using in-memory staging, staged records are lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown staging backend %q", cfg.StagingBackend)
	}
}

func buildSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (api.Sink, error) {
	switch cfg.SinkBackend {
	case config.SinkSheets:
		httpClient, err := client.NewServiceAccount(ctx,
			cfg.GoogleServiceAccountEmail,
			cfg.GoogleServicePrivateKey,
			sheetssink.Scopes...,
		)
		if err != nil {
			return nil, fmt.Errorf("creating service account client: %w", err)
		}
		sink, err := sheetssink.New(ctx, sheetssink.Config{
			SpreadsheetID:   cfg.GoogleSheetID,
			SheetTitle:      cfg.GoogleSheetTitle,
			RefreshInterval: cfg.SheetsRefreshInterval,
		}, logger, option.WithHTTPClient(httpClient))
		if err != nil {
			return nil, fmt.Errorf("creating sheets sink: %w", err)
		}
		return sink, nil
	case config.SinkCSV:
		sink, err := csvsink.New(csvsink.Config{FilePath: cfg.CSVPath}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating csv sink: %w", err)
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.SinkBackend)
	}
}
