// Package memory implements an in-process staging store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ArionMiles/monosync/pkg/api"
)

// DefaultCleanupInterval is how often expired entries are purged.
const DefaultCleanupInterval = 10 * time.Minute

// Store keeps staged records in a go-cache instance with per-key expiry.
type Store struct {
	items *cache.Cache
}

// New creates an empty Store.
func New() *Store {
	return NewWithCleanup(DefaultCleanupInterval)
}

// NewWithCleanup creates an empty Store that purges expired entries every interval.
func NewWithCleanup(interval time.Duration) *Store {
	return &Store{items: cache.New(cache.NoExpiration, interval)}
}

// Put stores a copy of body. A non-positive ttl means no expiry.
func (s *Store) Put(_ context.Context, id string, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	s.items.Set(id, append([]byte(nil), body...), ttl)
	return nil
}

// Get returns the staged body or api.ErrNotFound.
func (s *Store) Get(_ context.Context, id string) ([]byte, error) {
	v, found := s.items.Get(id)
	if !found {
		return nil, api.ErrNotFound
	}
	body, ok := v.([]byte)
	if !ok {
		return nil, api.ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

// Delete removes id. Deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	s.items.Delete(id)
	return nil
}

// Keys lists live ids in lexical order.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	items := s.items.Items()
	keys := make([]string, 0, len(items))
	for id := range items {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (s *Store) Len() int {
	return s.items.ItemCount()
}

// Close drops every entry.
func (s *Store) Close() error {
	s.items.Flush()
	return nil
}
