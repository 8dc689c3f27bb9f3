// Package server exposes the ingestion pipeline over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/monosync/pkg/api"
	"github.com/ArionMiles/monosync/pkg/ingest"
)

// DefaultMaxBodyBytes caps webhook request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Pipeline is the part of ingest.Pipeline the HTTP layer needs.
type Pipeline interface {
	Ingest(ctx context.Context, payload *api.WebhookPayload) (ingest.Outcome, *api.Record, error)
	Get(ctx context.Context, id string) (*api.Record, error)
	Replay(ctx context.Context, id string) (*api.Record, error)
}

// Config holds server settings.
type Config struct {
	// MaxBodyBytes limits request bodies. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// HealthCheck, when set, is run by /healthz. A non-nil error reports 503.
	HealthCheck func(ctx context.Context) error
}

// Server routes webhook, retrieval and replay requests to the pipeline.
type Server struct {
	pipeline Pipeline
	cfg      Config
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a Server and registers its routes.
func New(pipeline Pipeline, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// The provider verifies the webhook URL with a GET, so every method is accepted here.
	s.mux.HandleFunc("/api/mono", s.handleWebhook)
	s.mux.HandleFunc("GET /api/mono/{id}", s.handleGet)
	s.mux.HandleFunc("POST /api/mono/{id}/replay", s.handleReplay)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		requestID,
		requestLogger(s.logger),
		recovery(s.logger),
	)
}
