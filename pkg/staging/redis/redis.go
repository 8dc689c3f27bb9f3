// Package redis implements the staging store on top of Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ArionMiles/monosync/pkg/api"
)

// scanCount is the COUNT hint passed to SCAN.
const scanCount = 100

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Prefix namespaces the keys. Empty keeps raw transaction ids as keys.
	Prefix string
}

// Store stages records as JSON strings with EX expiry.
type Store struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("pinging redis: %w (close error: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("connected to redis", "host", cfg.Host, "port", cfg.Port, "db", cfg.DB)

	return NewFromClient(client, cfg.Prefix, logger), nil
}

// NewFromClient wraps an existing client. The Store takes ownership of it.
func NewFromClient(client *goredis.Client, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

// Put stores body under id. A non-positive ttl keeps the key until deleted.
func (s *Store) Put(ctx context.Context, id string, body []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(id), body, ttl).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", id, err)
	}
	return nil
}

// Get returns the staged body or api.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	body, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, api.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", id, err)
	}
	return body, nil
}

// Delete removes id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return nil
}

// Keys scans for every staged id under the prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning keys: %w", err)
	}
	return keys, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	s.logger.Info("closed redis connection")
	return nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}
