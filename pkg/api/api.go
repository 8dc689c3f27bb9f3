// Package api defines the core interfaces and data structures for monosync.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a transaction is not present in the staging store.
	ErrNotFound = errors.New("not found")
	// ErrMalformedPayload is returned when a webhook payload fails validation.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrStagingWrite marks failures to write a record into the staging store.
	ErrStagingWrite = errors.New("staging write failed")
	// ErrSinkCommit marks failures to append a record to the durable sink.
	ErrSinkCommit = errors.New("sink commit failed")
)

// WebhookPayload is the envelope monobank posts to the webhook.
// https://api.monobank.ua/docs/
type WebhookPayload struct {
	Type string      `json:"type"`
	Data WebhookData `json:"data"`
}

// WebhookData carries the account and the statement item.
type WebhookData struct {
	Account       string          `json:"account"`
	StatementItem *RawTransaction `json:"statementItem"`
}

// RawTransaction is a monobank statement item as delivered by the provider.
// Pointer fields distinguish a missing value from a zero value.
type RawTransaction struct {
	ID          string `json:"id"`
	Time        *int64 `json:"time"`
	Description string `json:"description"`
	MCC         int    `json:"mcc"`
	Hold        bool   `json:"hold"`
	// Amount is in minor currency units; positive means incoming funds.
	Amount          *int64 `json:"amount"`
	OperationAmount int64  `json:"operationAmount"`
	CurrencyCode    int    `json:"currencyCode"`
	CommissionRate  int64  `json:"commissionRate"`
	CashbackAmount  int64  `json:"cashbackAmount"`
	Balance         int64  `json:"balance"`
	CounterName     string `json:"counterName"`
}

// Validate reports whether the transaction carries the fields the pipeline needs.
func (t *RawTransaction) Validate() error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: missing statement item", ErrMalformedPayload)
	case t.ID == "":
		return fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	case t.Time == nil:
		return fmt.Errorf("%w: missing time", ErrMalformedPayload)
	case t.Amount == nil:
		return fmt.Errorf("%w: missing amount", ErrMalformedPayload)
	}
	return nil
}

// IsIncoming reports whether the transaction moves funds into the account.
func (t *RawTransaction) IsIncoming() bool {
	return t.Amount != nil && *t.Amount > 0
}

// Record is the normalized, categorized transaction ready for durable storage.
// Its JSON form is the staged body; see MarshalJSON.
type Record struct {
	// ID is the provider transaction id. It keys the staging store and is not part of the body.
	ID          string
	Date        string
	Time        string
	MonthIndex  int
	// Amount is positive and in major currency units.
	Amount      decimal.Decimal
	Description string
	CounterName string
	Category    string
}

// recordBody is the JSON form of a Record. The amount is a bare JSON number.
type recordBody struct {
	Date        string      `json:"date"`
	Time        string      `json:"time"`
	MonthIndex  int         `json:"monthIndex"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	CounterName string      `json:"counterName"`
	Category    string      `json:"category"`
}

// MarshalJSON renders the record body without the id.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordBody{
		Date:        r.Date,
		Time:        r.Time,
		MonthIndex:  r.MonthIndex,
		Amount:      json.Number(r.Amount.String()),
		Description: r.Description,
		CounterName: r.CounterName,
		Category:    r.Category,
	})
}

// UnmarshalJSON parses a record body. The id is left untouched.
func (r *Record) UnmarshalJSON(data []byte) error {
	var body recordBody
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}

	amount := decimal.Zero
	if body.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(body.Amount.String())
		if err != nil {
			return fmt.Errorf("parsing amount %q: %w", body.Amount, err)
		}
	}

	r.Date = body.Date
	r.Time = body.Time
	r.MonthIndex = body.MonthIndex
	r.Amount = amount
	r.Description = body.Description
	r.CounterName = body.CounterName
	r.Category = body.Category
	return nil
}

// Category is one member of the closed set of spending buckets.
type Category struct {
	// Name is the stable identifier written to the sink, e.g. "⛽ petrol".
	Name string `json:"name"`
	// Label is the human-readable description shown in listings.
	Label string `json:"label"`
}

// StagingStore is a transient keyed store used as a write-ahead buffer before durable commit.
// Writes are visible to subsequent reads. Get on a missing or expired key returns ErrNotFound.
type StagingStore interface {
	Put(ctx context.Context, id string, body []byte, ttl time.Duration) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// Keys lists the ids of all live staged records.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Sink is an append-only tabular log serving as the permanent record.
type Sink interface {
	// EnsureLoaded loads or refreshes sink metadata. It is idempotent and must precede Append.
	EnsureLoaded(ctx context.Context) error
	// Append writes one row per record, in order.
	Append(ctx context.Context, records ...*Record) error
}
