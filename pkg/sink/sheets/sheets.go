// Package sheets implements the durable sink on a Google Sheets tab.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/monosync/pkg/api"
)

// Default configuration values.
const (
	DefaultSheetTitle      = "Logs"
	DefaultRefreshInterval = 10 * time.Minute
	DefaultRetryAttempts   = 3
	DefaultRetryDelay      = 5 * time.Second
)

// Scopes are the OAuth scopes the sink needs.
var Scopes = []string{sheets.SpreadsheetsScope, "https://www.googleapis.com/auth/drive.file"}

var header = []any{"Date", "Time", "Month", "Amount", "Description", "Counterparty", "Category"}

// Config holds configuration for the Sheets sink.
type Config struct {
	// SpreadsheetID is the ID of the existing spreadsheet document.
	SpreadsheetID string
	// SheetTitle is the tab rows are appended to. Defaults to DefaultSheetTitle.
	SheetTitle string
	// RefreshInterval bounds how long loaded metadata is trusted. Defaults to DefaultRefreshInterval.
	RefreshInterval time.Duration
	// RetryAttempts is the number of append attempts on HTTP 429. Defaults to DefaultRetryAttempts.
	RetryAttempts uint
	// RetryDelay is the base delay between rate-limited attempts. Defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

// Sink appends records as rows of a spreadsheet tab.
type Sink struct {
	client *sheets.Service
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	loadedAt time.Time
	sheetID  int64
}

// New creates a Sheets sink. Metadata is loaded lazily by EnsureLoaded.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	if cfg.SheetTitle == "" {
		cfg.SheetTitle = DefaultSheetTitle
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	client, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	logger.Info("sheets sink initialized",
		"spreadsheet_id", cfg.SpreadsheetID,
		"sheet", cfg.SheetTitle,
		"refresh_interval", cfg.RefreshInterval,
	)

	return &Sink{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// EnsureLoaded resolves the target tab, creating it with a header row when missing.
// The result is cached for RefreshInterval.
func (s *Sink) EnsureLoaded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loadedAt.IsZero() && s.now().Sub(s.loadedAt) < s.cfg.RefreshInterval {
		return nil
	}

	spreadsheet, err := s.client.Spreadsheets.Get(s.cfg.SpreadsheetID).
		Fields("properties.title", "sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("loading spreadsheet %s: %w", s.cfg.SpreadsheetID, err)
	}

	sheetID, found := findSheet(spreadsheet, s.cfg.SheetTitle)
	if !found {
		sheetID, err = s.createSheet(ctx)
		if err != nil {
			return err
		}
	}

	s.sheetID = sheetID
	s.loadedAt = s.now()
	s.logger.Debug("spreadsheet metadata loaded", "sheet", s.cfg.SheetTitle, "sheet_id", sheetID)
	return nil
}

func findSheet(spreadsheet *sheets.Spreadsheet, title string) (int64, bool) {
	for _, sh := range spreadsheet.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return sh.Properties.SheetId, true
		}
	}
	return 0, false
}

func (s *Sink) createSheet(ctx context.Context) (int64, error) {
	resp, err := s.client.Spreadsheets.BatchUpdate(s.cfg.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: s.cfg.SheetTitle},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("creating sheet %q: %w", s.cfg.SheetTitle, err)
	}

	var sheetID int64
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}

	headerReq := sheets.ValueRange{Values: [][]any{header}}
	_, err = s.client.Spreadsheets.Values.Update(s.cfg.SpreadsheetID, s.a1("A1:G1"), &headerReq).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		// Without the header the tab would be found, and trusted, on the next load.
		if delErr := s.deleteSheet(ctx, sheetID); delErr != nil {
			return 0, fmt.Errorf("writing headers: %w (removing sheet: %w)", err, delErr)
		}
		return 0, fmt.Errorf("writing headers: %w", err)
	}

	s.logger.Info("created sheet", "sheet", s.cfg.SheetTitle, "sheet_id", sheetID)
	return sheetID, nil
}

func (s *Sink) deleteSheet(ctx context.Context, sheetID int64) error {
	_, err := s.client.Spreadsheets.BatchUpdate(s.cfg.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteSheet: &sheets.DeleteSheetRequest{SheetId: sheetID},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return err
	}
	s.logger.Warn("removed sheet after failed header write", "sheet", s.cfg.SheetTitle, "sheet_id", sheetID)
	return nil
}

// Append writes the records in a single values.append call, retrying only when rate limited.
func (s *Sink) Append(ctx context.Context, records ...*api.Record) error {
	if len(records) == 0 {
		return nil
	}

	values := make([][]any, 0, len(records))
	for _, r := range records {
		values = append(values, Row(r))
	}
	writeReq := sheets.ValueRange{Values: values}

	err := retry.Do(
		func() error {
			_, err := s.client.Spreadsheets.Values.Append(s.cfg.SpreadsheetID, s.a1("A:G"), &writeReq).
				ValueInputOption("USER_ENTERED").
				InsertDataOption("INSERT_ROWS").
				Context(ctx).
				Do()
			return err
		},
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
				s.logger.Warn("rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(s.cfg.RetryAttempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		s.invalidateOnStale(err)
		return fmt.Errorf("appending rows to sheet: %w", err)
	}

	s.logger.Info("appended rows", "count", len(records), "first_id", records[0].ID)
	return nil
}

// invalidateOnStale drops cached metadata when the tab appears to be gone.
func (s *Sink) invalidateOnStale(err error) {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return
	}
	if apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusNotFound {
		s.mu.Lock()
		s.loadedAt = time.Time{}
		s.mu.Unlock()
	}
}

// Row renders a record in column order. The id is not written.
func Row(r *api.Record) []any {
	// A JSON number keeps the cell numeric regardless of the sheet's locale.
	return []any{r.Date, r.Time, r.MonthIndex, r.Amount.InexactFloat64(), r.Description, r.CounterName, r.Category}
}

// a1 builds an A1 range on the target tab. Quotes in the title are doubled.
func (s *Sink) a1(cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(s.cfg.SheetTitle, "'", "''"), cells)
}
