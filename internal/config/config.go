// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Valid values for enum-style settings.
const (
	PriceSourceAdjClose = "adj_close"
	PriceSourceClose    = "close"

	MissingPriceBackfill = "backfill"
	MissingPriceStrict   = "strict"
)

// Config holds application configuration
type Config struct {
	// Storage
	DBPath string // Path to the SQLite database file

	// Providers
	FinnhubAPIKey string

	// Acquisition policy
	IncrementalThresholdDays int     // Gap above which a full bulk refresh replaces incremental API download
	FinancialRefreshDays     int     // Fundamentals older than this are refreshed
	HistoryStartDate         string  // First date covered by bulk downloads (YYYY-MM-DD)
	MaxRetries               int     // Retry attempts per provider call
	BaseDelaySeconds         float64 // Base for exponential backoff between retries
	AttemptTimeoutSeconds    int     // Per-attempt HTTP timeout
	TotalDeadlineSeconds     int     // Deadline across all retries of one download
	WorkerPoolSize           int     // Concurrent symbols in batch downloads

	// Valuation
	PriceSource          string // adj_close or close
	MissingPriceStrategy string // backfill or strict

	// Watchlist
	Watchlist     []string // Default symbols when none are given on the command line
	WatchlistFile string   // Optional YAML file with a symbols list

	// Server
	HTTPPort    int
	RefreshCron string // Cron expression for scheduled watchlist refresh (empty disables)

	// Backup
	BackupDir         string
	BackupRetention   int // Local backup files kept after pruning
	S3BackupBucket    string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:                   getEnv("DB_PATH", "data/purser.db"),
		FinnhubAPIKey:            getEnv("FINNHUB_API_KEY", ""),
		IncrementalThresholdDays: getEnvAsInt("STOCK_INCREMENTAL_THRESHOLD_DAYS", 100),
		FinancialRefreshDays:     getEnvAsInt("FINANCIAL_REFRESH_DAYS", 90),
		HistoryStartDate:         getEnv("HISTORY_START_DATE", "2000-01-01"),
		MaxRetries:               getEnvAsInt("MAX_RETRIES", 3),
		BaseDelaySeconds:         getEnvAsFloat("BASE_DELAY_SECONDS", 30),
		AttemptTimeoutSeconds:    getEnvAsInt("ATTEMPT_TIMEOUT_SECONDS", 30),
		TotalDeadlineSeconds:     getEnvAsInt("TOTAL_DEADLINE_SECONDS", 300),
		WorkerPoolSize:           getEnvAsInt("WORKER_POOL_SIZE", 4),
		PriceSource:              getEnv("PRICE_SOURCE", PriceSourceAdjClose),
		MissingPriceStrategy:     getEnv("MISSING_PRICE_STRATEGY", MissingPriceBackfill),
		Watchlist:                getEnvAsList("WATCHLIST"),
		WatchlistFile:            getEnv("WATCHLIST_FILE", ""),
		HTTPPort:                 getEnvAsInt("HTTP_PORT", 8090),
		RefreshCron:              getEnv("REFRESH_CRON", ""),
		BackupDir:                getEnv("BACKUP_DIR", "backups"),
		BackupRetention:          getEnvAsInt("BACKUP_RETENTION", 7),
		S3BackupBucket:           getEnv("S3_BACKUP_BUCKET", ""),
		S3Endpoint:               getEnv("S3_ENDPOINT", ""),
		S3Region:                 getEnv("S3_REGION", "auto"),
		S3AccessKeyID:            getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:        getEnv("S3_SECRET_ACCESS_KEY", ""),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogPretty:                getEnvAsBool("LOG_PRETTY", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure the database directory exists
	if dir := filepath.Dir(cfg.DBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks if required configuration is present and consistent
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.IncrementalThresholdDays <= 0 {
		return fmt.Errorf("STOCK_INCREMENTAL_THRESHOLD_DAYS must be positive, got %d", c.IncrementalThresholdDays)
	}
	if c.FinancialRefreshDays <= 0 {
		return fmt.Errorf("FINANCIAL_REFRESH_DAYS must be positive, got %d", c.FinancialRefreshDays)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.BaseDelaySeconds < 0 {
		return fmt.Errorf("BASE_DELAY_SECONDS must not be negative, got %f", c.BaseDelaySeconds)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1, got %d", c.WorkerPoolSize)
	}
	if c.PriceSource != PriceSourceAdjClose && c.PriceSource != PriceSourceClose {
		return fmt.Errorf("PRICE_SOURCE must be %q or %q, got %q", PriceSourceAdjClose, PriceSourceClose, c.PriceSource)
	}
	if c.MissingPriceStrategy != MissingPriceBackfill && c.MissingPriceStrategy != MissingPriceStrict {
		return fmt.Errorf("MISSING_PRICE_STRATEGY must be %q or %q, got %q", MissingPriceBackfill, MissingPriceStrict, c.MissingPriceStrategy)
	}
	if _, err := time.Parse("2006-01-02", c.HistoryStartDate); err != nil {
		return fmt.Errorf("HISTORY_START_DATE must be YYYY-MM-DD: %w", err)
	}
	return nil
}

// AttemptTimeout returns the per-attempt HTTP timeout as a duration.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSeconds) * time.Second
}

// TotalDeadline returns the overall download deadline as a duration.
func (c *Config) TotalDeadline() time.Duration {
	return time.Duration(c.TotalDeadlineSeconds) * time.Second
}

// BaseDelay returns the backoff base as a duration.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySeconds * float64(time.Second))
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}
