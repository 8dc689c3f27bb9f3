// Package normalize converts raw provider transactions into canonical records.
package normalize

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/monosync/pkg/api"
)

const (
	// MonthIndexOffset is added to the zero-based calendar month.
	// Its purpose is unknown (possibly spreadsheet column alignment); keep it until product confirms.
	MonthIndexOffset = 2

	// DescriptionTag prefixes every description written downstream.
	DescriptionTag = "🤖mono: "

	// DateLayout renders dates as day.month.year.
	DateLayout = "02.01.2006"
	// TimeLayout renders times as 12-hour hour:minute.
	TimeLayout = "03:04"
)

// Classifier picks a category for a description.
type Classifier interface {
	Classify(description string) api.Category
}

// Normalizer turns RawTransactions into Records. It holds no mutable state.
type Normalizer struct {
	location   *time.Location
	classifier Classifier
}

// New creates a Normalizer formatting times in loc. A nil loc means time.Local.
func New(loc *time.Location, classifier Classifier) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{location: loc, classifier: classifier}
}

// Normalize builds the canonical record for raw. The timestamp comes from the provider,
// so the result does not depend on the wall clock.
func (n *Normalizer) Normalize(raw *api.RawTransaction) (*api.Record, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	ts := time.Unix(*raw.Time, 0).In(n.location)

	return &api.Record{
		ID:          raw.ID,
		Date:        ts.Format(DateLayout),
		Time:        ts.Format(TimeLayout),
		MonthIndex:  int(ts.Month()-time.January) + MonthIndexOffset,
		Amount:      toMajorUnits(*raw.Amount),
		Description: DescriptionTag + raw.Description,
		CounterName: raw.CounterName,
		Category:    n.classifier.Classify(raw.Description).Name,
	}, nil
}

// toMajorUnits drops the sign and converts minor units to major units exactly.
func toMajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2).Abs()
}

// ParseLocation resolves an IANA zone name; an empty name means time.Local.
func ParseLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading location %q: %w", name, err)
	}
	return loc, nil
}
