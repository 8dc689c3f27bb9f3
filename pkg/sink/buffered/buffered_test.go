package buffered

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ArionMiles/monosync/pkg/api"
)

type recordingFlusher struct {
	mu      sync.Mutex
	batches [][]string
	failOn  int // 1-based batch number to fail, 0 for never
}

func (f *recordingFlusher) flush(_ context.Context, records []*api.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	f.batches = append(f.batches, ids)
	if f.failOn == len(f.batches) {
		return errors.New("sink unavailable")
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func feed(ids ...string) <-chan *api.Record {
	ch := make(chan *api.Record, len(ids))
	for _, id := range ids {
		ch <- &api.Record{ID: id}
	}
	close(ch)
	return ch
}

func TestWriter_BatchesBySize(t *testing.T) {
	f := &recordingFlusher{}
	w := New(f.flush, Config{BatchSize: 2, FlushInterval: time.Hour}, quietLogger())

	if err := w.Write(context.Background(), feed("a", "b", "c", "d", "e")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(f.batches) != 3 {
		t.Fatalf("batches: got %v, want 3 batches", f.batches)
	}
	if len(f.batches[2]) != 1 || f.batches[2][0] != "e" {
		t.Errorf("last batch: got %v, want [e]", f.batches[2])
	}
	if got := w.Stats().Flushed; got != 5 {
		t.Errorf("flushed: got %d, want 5", got)
	}
	if w.BufferLen() != 0 {
		t.Errorf("buffer not drained: %d", w.BufferLen())
	}
}

func TestWriter_FailedBatchDoesNotStopRun(t *testing.T) {
	f := &recordingFlusher{failOn: 1}
	w := New(f.flush, Config{BatchSize: 2, FlushInterval: time.Hour}, quietLogger())

	err := w.Write(context.Background(), feed("a", "b", "c"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	stats := w.Stats()
	if stats.FailedBatches != 1 || stats.FailedRecords != 2 || stats.Flushed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestWriter_FlushesOnInterval(t *testing.T) {
	f := &recordingFlusher{}
	w := New(f.flush, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, quietLogger())

	in := make(chan *api.Record)
	done := make(chan error, 1)
	go func() { done <- w.Write(context.Background(), in) }()

	in <- &api.Record{ID: "a"}

	deadline := time.After(2 * time.Second)
	for {
		if w.Stats().Flushed == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for interval flush")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(in)
	if err := <-done; err != nil {
		t.Errorf("Write: %v", err)
	}
}

func TestWriter_CancelFlushesRemaining(t *testing.T) {
	f := &recordingFlusher{}
	w := New(f.flush, Config{BatchSize: 100, FlushInterval: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan *api.Record, 1)
	in <- &api.Record{ID: "a"}

	done := make(chan error, 1)
	go func() { done <- w.Write(ctx, in) }()

	for w.BufferLen() == 0 && w.Stats().Flushed == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if w.Stats().Flushed != 1 {
		t.Errorf("flushed: got %d, want 1", w.Stats().Flushed)
	}
}
