package csv

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/monosync/pkg/api"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	lines, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	return lines
}

func TestSink_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.csv")
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := New(Config{FilePath: path}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Append(ctx, &api.Record{}); err == nil {
		t.Error("expected error appending before EnsureLoaded, got nil")
	}

	if err := s.EnsureLoaded(ctx); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if err := s.EnsureLoaded(ctx); err != nil {
		t.Fatalf("second EnsureLoaded: %v", err)
	}

	rec := &api.Record{
		ID:          "tx-1",
		Date:        "14.11.2023",
		Time:        "10:13",
		MonthIndex:  12,
		Amount:      decimal.NewFromInt(500),
		Description: "🤖mono: OKKO fuel",
		CounterName: "OKKO",
		Category:    "⛽ petrol",
	}
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening must not repeat the header.
	s2, _ := New(Config{FilePath: path}, logger)
	if err := s2.EnsureLoaded(ctx); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	rec2 := *rec
	rec2.Amount = decimal.RequireFromString("0.5")
	if err := s2.Append(ctx, &rec2); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = s2.Close()

	want := [][]string{
		headers,
		{"14.11.2023", "10:13", "12", "500.00", "🤖mono: OKKO fuel", "OKKO", "⛽ petrol"},
		{"14.11.2023", "10:13", "12", "0.50", "🤖mono: OKKO fuel", "OKKO", "⛽ petrol"},
	}
	if diff := cmp.Diff(want, readAll(t, path)); diff != "" {
		t.Errorf("csv content mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_RequiresPath(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestEnsureLoaded_BadPath(t *testing.T) {
	s, err := New(Config{FilePath: filepath.Join(t.TempDir(), "missing", "logs.csv")}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.EnsureLoaded(context.Background()); err == nil {
		t.Error("expected error for missing directory, got nil")
	}
}
