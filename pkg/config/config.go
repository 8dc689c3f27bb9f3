// Package config loads monosync settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/monosync/pkg/ingest"
)

// Staging backends.
const (
	StagingRedis    = "redis"
	StagingPostgres = "postgres"
	StagingMemory   = "memory"
)

// Sink backends.
const (
	SinkSheets = "sheets"
	SinkCSV    = "csv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// HTTPAddr is the listen address of the webhook server.
	// Environment variable: HTTP_ADDR
	HTTPAddr string `koanf:"HTTP_ADDR"`
	// Timezone is the IANA zone used to format transaction dates. Empty means local time.
	// Environment variable: TIMEZONE
	Timezone string `koanf:"TIMEZONE"`
	// RequestTimeout bounds each call to the staging store and the sink.
	// Environment variable: REQUEST_TIMEOUT
	RequestTimeout time.Duration `koanf:"REQUEST_TIMEOUT"`
	// CategoriesFile optionally replaces the built-in category table.
	// Environment variable: CATEGORIES_FILE
	CategoriesFile string `koanf:"CATEGORIES_FILE"`

	// StagingBackend is one of redis, postgres or memory.
	// Environment variable: STAGING_BACKEND
	StagingBackend string `koanf:"STAGING_BACKEND"`
	// StagingTTL is how long a staged record lives.
	// Environment variable: STAGING_TTL
	StagingTTL time.Duration `koanf:"STAGING_TTL"`
	// StagingPrefix namespaces redis keys.
	// Environment variable: STAGING_PREFIX
	StagingPrefix string `koanf:"STAGING_PREFIX"`
	// CleanupPolicy is delete or retain.
	// Environment variable: CLEANUP_POLICY
	CleanupPolicy string `koanf:"CLEANUP_POLICY"`

	RedisHost     string `koanf:"REDIS_HOST"`
	RedisPort     int    `koanf:"REDIS_PORT"`
	RedisPassword string `koanf:"REDIS_PASSWORD"`
	RedisDB       int    `koanf:"REDIS_DB"`

	PostgresHost     string `koanf:"POSTGRES_HOST"`
	PostgresPort     int    `koanf:"POSTGRES_PORT"`
	PostgresDB       string `koanf:"POSTGRES_DB"`
	PostgresUser     string `koanf:"POSTGRES_USER"`
	PostgresPassword string `koanf:"POSTGRES_PASSWORD"`
	PostgresSSLMode  string `koanf:"POSTGRES_SSLMODE"`

	// SinkBackend is sheets or csv.
	// Environment variable: SINK_BACKEND
	SinkBackend string `koanf:"SINK_BACKEND"`
	// GoogleServiceAccountEmail and GoogleServicePrivateKey authenticate the sheets sink.
	// Environment variables: GOOGLE_SERVICE_ACCOUNT_EMAIL, GOOGLE_SERVICE_PRIVATE_KEY
	GoogleServiceAccountEmail string `koanf:"GOOGLE_SERVICE_ACCOUNT_EMAIL"`
	GoogleServicePrivateKey   string `koanf:"GOOGLE_SERVICE_PRIVATE_KEY"`
	// GoogleSheetID is the spreadsheet document id.
	// Environment variable: GOOGLE_SHEET_ID
	GoogleSheetID string `koanf:"GOOGLE_SHEET_ID"`
	// GoogleSheetTitle is the tab rows are appended to.
	// Environment variable: GOOGLE_SHEET_TITLE
	GoogleSheetTitle string `koanf:"GOOGLE_SHEET_TITLE"`
	// SheetsRefreshInterval is how long loaded sheet metadata is trusted.
	// Environment variable: SHEETS_REFRESH_INTERVAL
	SheetsRefreshInterval time.Duration `koanf:"SHEETS_REFRESH_INTERVAL"`
	// CSVPath is the output file of the csv sink.
	// Environment variable: CSV_PATH
	CSVPath string `koanf:"CSV_PATH"`
}

// Load reads the configuration from environment variables, applies defaults and validates it.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}
	return FromKoanf(k)
}

// FromKoanf unmarshals an already populated koanf instance.
func FromKoanf(k *koanf.Koanf) (Config, error) {
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = ingest.DefaultCallTimeout
	}
	if c.StagingBackend == "" {
		c.StagingBackend = StagingRedis
	}
	if c.StagingTTL <= 0 {
		c.StagingTTL = ingest.DefaultStagingTTL
	}
	if c.CleanupPolicy == "" {
		c.CleanupPolicy = string(ingest.CleanupDelete)
	}
	if c.RedisHost == "" {
		c.RedisHost = "localhost"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.PostgresHost == "" {
		c.PostgresHost = "localhost"
	}
	if c.PostgresPort == 0 {
		c.PostgresPort = 5432
	}
	if c.PostgresDB == "" {
		c.PostgresDB = "monosync"
	}
	if c.PostgresSSLMode == "" {
		c.PostgresSSLMode = "disable"
	}
	if c.SinkBackend == "" {
		c.SinkBackend = SinkSheets
	}
	if c.GoogleSheetTitle == "" {
		c.GoogleSheetTitle = "Logs"
	}
	if c.SheetsRefreshInterval <= 0 {
		c.SheetsRefreshInterval = 10 * time.Minute
	}
	if c.CSVPath == "" {
		c.CSVPath = "data/transactions.csv"
	}
}

// Validate reports every missing or conflicting setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.StagingBackend {
	case StagingRedis, StagingMemory:
	case StagingPostgres:
		if c.PostgresUser == "" {
			errs = append(errs, errors.New("POSTGRES_USER is required for the postgres staging backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STAGING_BACKEND %q is not one of redis, postgres, memory", c.StagingBackend))
	}

	switch c.SinkBackend {
	case SinkSheets:
		if c.GoogleServiceAccountEmail == "" {
			errs = append(errs, errors.New("GOOGLE_SERVICE_ACCOUNT_EMAIL is required for the sheets sink"))
		}
		if c.GoogleServicePrivateKey == "" {
			errs = append(errs, errors.New("GOOGLE_SERVICE_PRIVATE_KEY is required for the sheets sink"))
		}
		if c.GoogleSheetID == "" {
			errs = append(errs, errors.New("GOOGLE_SHEET_ID is required for the sheets sink"))
		}
	case SinkCSV:
	default:
		errs = append(errs, fmt.Errorf("SINK_BACKEND %q is not one of sheets, csv", c.SinkBackend))
	}

	if _, err := ingest.ParseCleanupPolicy(c.CleanupPolicy); err != nil {
		errs = append(errs, fmt.Errorf("CLEANUP_POLICY: %w", err))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.RedisPassword != "" {
		c.RedisPassword = "***"
	}
	if c.PostgresPassword != "" {
		c.PostgresPassword = "***"
	}
	if c.GoogleServicePrivateKey != "" {
		c.GoogleServicePrivateKey = "***"
	}
	return c
}
