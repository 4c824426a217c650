// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AmountParseMode controls what happens to records whose amount field does
// not parse as a float.
type AmountParseMode string

const (
	// AmountCoerceZero absorbs malformed amounts as 0.0 (legacy behavior).
	AmountCoerceZero AmountParseMode = "zero"
	// AmountDrop excludes records with malformed amounts from windowing.
	AmountDrop AmountParseMode = "drop"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Input sources (both required)
	TransactionsPath string // delimited transaction stream, tailed continuously
	WatchlistPath    string // static reference table, loaded once

	// Output
	AlertsPath string // alert CSV sink

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Windowing
	WindowDuration time.Duration
	WindowHop      time.Duration
	PollInterval   time.Duration // how often the tailer checks for appended rows

	// Rule thresholds
	AmountThreshold   float64
	VelocityThreshold float64

	// Parsing policy for malformed amounts
	AmountParseMode AmountParseMode

	// Optional LLM narrative enrichment
	GeminiAPIKey   string // empty disables the Gemini narrator
	GeminiModel    string
	EnrichTimeout  time.Duration
	EnrichAttempts int

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultTransactionsPath  = "data/stream/transactions.csv"
	DefaultWatchlistPath     = "data/watchlist/watchlist.csv"
	DefaultAlertsPath        = "suspicious_alerts.csv"
	DefaultWindowDuration    = 60 * time.Minute
	DefaultWindowHop         = 1 * time.Minute
	DefaultPollInterval      = 2 * time.Second
	DefaultAmountThreshold   = 2000.0
	DefaultVelocityThreshold = 5000.0
	DefaultGeminiModel       = "gemini-1.5-flash"
	DefaultEnrichTimeout     = 10 * time.Second
	DefaultEnrichAttempts    = 3
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		TransactionsPath:  getEnv("TRANSACTIONS_CSV", DefaultTransactionsPath),
		WatchlistPath:     getEnv("WATCHLIST_CSV", DefaultWatchlistPath),
		AlertsPath:        getEnv("ALERTS_CSV", DefaultAlertsPath),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		WindowDuration:    getEnvDuration("WINDOW_DURATION", DefaultWindowDuration),
		WindowHop:         getEnvDuration("WINDOW_HOP", DefaultWindowHop),
		PollInterval:      getEnvDuration("POLL_INTERVAL", DefaultPollInterval),
		AmountThreshold:   getEnvFloat("AMOUNT_THRESHOLD", DefaultAmountThreshold),
		VelocityThreshold: getEnvFloat("VELOCITY_THRESHOLD", DefaultVelocityThreshold),
		AmountParseMode:   AmountParseMode(getEnv("AMOUNT_PARSE_MODE", string(AmountCoerceZero))),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", DefaultGeminiModel),
		EnrichTimeout:     getEnvDuration("ENRICH_TIMEOUT", DefaultEnrichTimeout),
		EnrichAttempts:    int(getEnvInt64("ENRICH_ATTEMPTS", DefaultEnrichAttempts)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present. Missing input
// sources are fatal configuration errors, not runtime faults.
func (c *Config) Validate() error {
	if _, err := os.Stat(c.TransactionsPath); err != nil {
		return fmt.Errorf("transactions source not found at %s: %w", c.TransactionsPath, err)
	}
	if _, err := os.Stat(c.WatchlistPath); err != nil {
		return fmt.Errorf("watchlist source not found at %s: %w", c.WatchlistPath, err)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WINDOW_DURATION must be positive, got %s", c.WindowDuration)
	}
	if c.WindowHop <= 0 || c.WindowHop > c.WindowDuration {
		return fmt.Errorf("WINDOW_HOP must be in (0, WINDOW_DURATION], got %s", c.WindowHop)
	}
	switch c.AmountParseMode {
	case AmountCoerceZero, AmountDrop:
	default:
		return fmt.Errorf("AMOUNT_PARSE_MODE must be %q or %q, got %q",
			AmountCoerceZero, AmountDrop, c.AmountParseMode)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
