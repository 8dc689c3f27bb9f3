// Package csv implements a durable sink that appends records to a local CSV file.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/ArionMiles/monosync/pkg/api"
)

var headers = []string{"Date", "Time", "Month", "Amount", "Description", "Counterparty", "Category"}

// Config holds configuration for the CSV sink.
type Config struct {
	// FilePath is the path to the CSV output file.
	FilePath string
}

// Sink appends records to a CSV file. The file is opened by EnsureLoaded.
type Sink struct {
	filePath string
	logger   *slog.Logger

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// New creates a CSV sink.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, errors.New("csv file path is required")
	}
	return &Sink{filePath: cfg.FilePath, logger: logger}, nil
}

// EnsureLoaded opens the file once, writing headers if it is new or empty.
func (s *Sink) EnsureLoaded(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return nil
	}

	file, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening csv file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return fmt.Errorf("stat csv file: %w (close error: %w)", err, closeErr)
		}
		return fmt.Errorf("stat csv file: %w", err)
	}

	writer := csv.NewWriter(file)
	if stat.Size() == 0 {
		if err := writer.Write(headers); err != nil {
			_ = file.Close()
			return fmt.Errorf("writing headers: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			_ = file.Close()
			return fmt.Errorf("writing headers: %w", err)
		}
	}

	s.file = file
	s.writer = writer
	s.logger.Info("csv sink opened", "file", s.filePath)
	return nil
}

// Append writes one line per record and flushes.
func (s *Sink) Append(_ context.Context, records ...*api.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return errors.New("csv sink not loaded")
	}

	for _, r := range records {
		line := []string{
			r.Date,
			r.Time,
			strconv.Itoa(r.MonthIndex),
			r.Amount.StringFixed(2),
			r.Description,
			r.CounterName,
			r.Category,
		}
		if err := s.writer.Write(line); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	s.logger.Debug("wrote records to csv", "count", len(records))
	return nil
}

// Close closes the CSV file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}
	s.file, s.writer = nil, nil

	s.logger.Info("csv sink closed", "file", s.filePath)
	return nil
}
