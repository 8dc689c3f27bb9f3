package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ArionMiles/monosync/pkg/api"
	"github.com/ArionMiles/monosync/pkg/classify"
	"github.com/ArionMiles/monosync/pkg/ingest"
	"github.com/ArionMiles/monosync/pkg/normalize"
	"github.com/ArionMiles/monosync/pkg/staging/memory"
)

type fakeSink struct {
	mu   sync.Mutex
	rows []*api.Record
	err  error
}

func (s *fakeSink) EnsureLoaded(context.Context) error { return nil }

func (s *fakeSink) Append(_ context.Context, records ...*api.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, records...)
	return nil
}

func (s *fakeSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type failingStore struct{ *memory.Store }

func (failingStore) Put(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type testEnv struct {
	srv   *httptest.Server
	store *memory.Store
	sink  *fakeSink
}

func newEnv(t *testing.T, store api.StagingStore, cfg Config) *testEnv {
	t.Helper()
	c, err := classify.Default()
	if err != nil {
		t.Fatalf("loading classifier: %v", err)
	}
	mem := memory.New()
	if store == nil {
		store = mem
	}
	sink := &fakeSink{}
	pipeline := ingest.New(normalize.New(time.UTC, c), store, sink, ingest.Config{}, discard)

	srv := httptest.NewServer(New(pipeline, cfg, discard).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: mem, sink: sink}
}

// do sends a request and returns the status and body.
func do(t *testing.T, method, url, body string) (int, string, http.Header) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, string(b), resp.Header
}

const okkoPayload = `{
	"type": "StatementItem",
	"data": {
		"account": "acc-1",
		"statementItem": {
			"id": "tx-1",
			"time": 1700000000,
			"description": "OKKO fuel",
			"mcc": 5542,
			"amount": -50000,
			"operationAmount": -50000,
			"currencyCode": 980,
			"balance": 1000000,
			"counterName": "OKKO"
		}
	}
}`

func TestWebhook(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     string
		wantCode int
		wantBody string
		wantRows int
	}{
		{name: "verification get", method: http.MethodGet, wantCode: http.StatusOK},
		{name: "outgoing committed", method: http.MethodPost, body: okkoPayload, wantCode: http.StatusOK, wantRows: 1},
		{
			name:     "incoming skipped",
			method:   http.MethodPost,
			body:     `{"type":"StatementItem","data":{"statementItem":{"id":"tx-2","time":1700000000,"amount":20000}}}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "incoming without time skipped",
			method:   http.MethodPost,
			body:     `{"type":"StatementItem","data":{"statementItem":{"id":"x","amount":20000}}}`,
			wantCode: http.StatusOK,
		},
		{name: "invalid json", method: http.MethodPost, body: `{"type":`, wantCode: http.StatusBadRequest, wantBody: "Bad Request"},
		{
			name:     "missing amount",
			method:   http.MethodPost,
			body:     `{"type":"StatementItem","data":{"statementItem":{"id":"tx-3","time":1700000000}}}`,
			wantCode: http.StatusBadRequest,
			wantBody: "Bad Request",
		},
		{name: "missing statement item", method: http.MethodPost, body: `{"type":"StatementItem","data":{}}`, wantCode: http.StatusBadRequest, wantBody: "Bad Request"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv(t, nil, Config{})

			code, body, _ := do(t, tc.method, env.srv.URL+"/api/mono", tc.body)
			if code != tc.wantCode {
				t.Errorf("status: got %d, want %d (body %q)", code, tc.wantCode, body)
			}
			if tc.wantBody == "" && body != "" {
				t.Errorf("body: got %q, want empty", body)
			}
			if !strings.HasPrefix(body, tc.wantBody) {
				t.Errorf("body: got %q, want prefix %q", body, tc.wantBody)
			}
			if got := env.sink.count(); got != tc.wantRows {
				t.Errorf("sink rows: got %d, want %d", got, tc.wantRows)
			}
			// Committed records are removed from staging; everything else never reached it.
			if env.store.Len() != 0 {
				t.Errorf("staging not empty: %d entries", env.store.Len())
			}
		})
	}
}

func TestWebhook_StagingFailure(t *testing.T) {
	env := newEnv(t, failingStore{memory.New()}, Config{})

	code, body, _ := do(t, http.MethodPost, env.srv.URL+"/api/mono", okkoPayload)
	if code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", code)
	}
	if !strings.Contains(body, "connection refused") {
		t.Errorf("body should carry the failure detail, got %q", body)
	}
	if env.sink.count() != 0 {
		t.Errorf("sink written after staging failure")
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	env := newEnv(t, nil, Config{MaxBodyBytes: 64})

	code, _, _ := do(t, http.MethodPost, env.srv.URL+"/api/mono", okkoPayload)
	if code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", code)
	}
}

func TestRetrieveAndReplay(t *testing.T) {
	env := newEnv(t, nil, Config{})
	env.sink.setErr(errors.New("sheet unavailable"))

	code, body, _ := do(t, http.MethodPost, env.srv.URL+"/api/mono", okkoPayload)
	if code != http.StatusInternalServerError || !strings.HasPrefix(body, "Internal Server Error") {
		t.Fatalf("commit failure: got %d %q", code, body)
	}

	// The staged copy survives the failed commit.
	code, body, hdr := do(t, http.MethodGet, env.srv.URL+"/api/mono/tx-1", "")
	if code != http.StatusOK {
		t.Fatalf("get: got %d %q", code, body)
	}
	if ct := hdr.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if got["category"] != "⛽ petrol" || got["amount"] != float64(500) || got["description"] != "🤖mono: OKKO fuel" {
		t.Errorf("unexpected record: %v", got)
	}
	if _, ok := got["id"]; ok {
		t.Errorf("staged body should not carry the id: %v", got)
	}

	// Replay while the sink is still down keeps the record and sends no record body.
	code, body, _ = do(t, http.MethodPost, env.srv.URL+"/api/mono/tx-1/replay", "")
	if code != http.StatusInternalServerError {
		t.Fatalf("replay with sink down: got %d %q", code, body)
	}
	if strings.Contains(body, "petrol") {
		t.Errorf("failed replay leaked the record: %q", body)
	}

	env.sink.setErr(nil)
	code, body, _ = do(t, http.MethodPost, env.srv.URL+"/api/mono/tx-1/replay", "")
	if code != http.StatusOK || !strings.Contains(body, "petrol") {
		t.Fatalf("replay: got %d %q", code, body)
	}
	if env.sink.count() != 1 {
		t.Errorf("sink rows: got %d, want 1", env.sink.count())
	}

	code, body, _ = do(t, http.MethodGet, env.srv.URL+"/api/mono/tx-1", "")
	if code != http.StatusNotFound || body != "Not Found" {
		t.Errorf("after replay: got %d %q, want 404 %q", code, body, "Not Found")
	}
}

func TestRetrieve_NotFound(t *testing.T) {
	env := newEnv(t, nil, Config{})

	for _, path := range []string{"/api/mono/missing", "/api/mono/missing/replay"} {
		method := http.MethodGet
		if strings.HasSuffix(path, "/replay") {
			method = http.MethodPost
		}
		code, body, _ := do(t, method, env.srv.URL+path, "")
		if code != http.StatusNotFound || body != "Not Found" {
			t.Errorf("%s %s: got %d %q, want 404 %q", method, path, code, body, "Not Found")
		}
	}
}

func TestRequestID(t *testing.T) {
	env := newEnv(t, nil, Config{})

	_, _, hdr := do(t, http.MethodGet, env.srv.URL+"/healthz", "")
	if hdr.Get(RequestIDHeader) == "" {
		t.Error("expected a generated request id")
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id: got %q, want %q", got, "abc-123")
	}
}

func TestHealth(t *testing.T) {
	healthy := newEnv(t, nil, Config{})
	code, body, _ := do(t, http.MethodGet, healthy.srv.URL+"/healthz", "")
	if code != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Errorf("healthy: got %d %q", code, body)
	}

	unhealthy := newEnv(t, nil, Config{HealthCheck: func(context.Context) error {
		return errors.New("redis down")
	}})
	code, _, _ = do(t, http.MethodGet, unhealthy.srv.URL+"/healthz", "")
	if code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: got %d, want 503", code)
	}
}

type panickingPipeline struct{}

func (panickingPipeline) Ingest(context.Context, *api.WebhookPayload) (ingest.Outcome, *api.Record, error) {
	panic("boom")
}

func (panickingPipeline) Get(context.Context, string) (*api.Record, error) { panic("boom") }

func (panickingPipeline) Replay(context.Context, string) (*api.Record, error) { panic("boom") }

func TestRecovery(t *testing.T) {
	srv := httptest.NewServer(New(panickingPipeline{}, Config{}, discard).Handler())
	defer srv.Close()

	code, body, _ := do(t, http.MethodGet, srv.URL+"/api/mono/tx-1", "")
	if code != http.StatusInternalServerError || body != "Internal Server Error" {
		t.Errorf("got %d %q, want 500", code, body)
	}
}
