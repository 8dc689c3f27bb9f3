package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ArionMiles/monosync/pkg/api"
)

// handleWebhook accepts provider notifications. Non-POST requests are acknowledged
// with an empty 200 so the provider's URL verification succeeds.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload api.WebhookPayload
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		s.writeError(w, r, errors.Join(api.ErrMalformedPayload, err))
		return
	}

	outcome, _, err := s.pipeline.Ingest(r.Context(), &payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Debug("webhook handled",
		"request_id", RequestIDFrom(r.Context()),
		"outcome", outcome,
	)
	w.WriteHeader(http.StatusOK)
}

// handleGet returns a staged record without touching the sink.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.pipeline.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleReplay commits a staged record. The record is only written to the
// response once the commit succeeded.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	record, err := s.pipeline.Replay(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.HealthCheck != nil {
		if err := s.cfg.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps pipeline errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, api.ErrNotFound):
		writeText(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	case errors.Is(err, api.ErrMalformedPayload):
		writeText(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest)+": "+err.Error())
	default:
		s.logger.Error("request failed",
			"request_id", RequestIDFrom(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeText(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)+": "+err.Error())
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
