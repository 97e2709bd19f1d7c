package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"portfolio_dashboard/models"
)

// Default refresh cadence. The primary and secondary cycles intentionally
// keep independent phases (the secondary lands secondaryDelay after each
// primary fire) so dependent fetches never pile into the same tick.
const (
	DefaultPrimaryPeriod        = 90 * time.Second
	DefaultSecondaryDelay       = 5 * time.Second
	DefaultAnalyticsEveryNCycle = 3
	DefaultDebounceMinInterval  = 500 * time.Millisecond
	DefaultFetchTimeout         = 10 * time.Second
	CountdownTick               = 1 * time.Second
)

// Default per-feed freshness windows
const (
	DefaultStatusTTL    = 60 * time.Second
	DefaultHoldingsTTL  = 60 * time.Second
	DefaultAnalyticsTTL = 5 * time.Minute
	DefaultHistoryTTL   = 2 * time.Minute
)

// FeedConfig holds per-feed fetch settings
type FeedConfig struct {
	Path    string
	TTL     time.Duration
	Timeout time.Duration
}

// SchedulerConfig holds the refresh cadence settings
type SchedulerConfig struct {
	PrimaryPeriod        time.Duration
	SecondaryDelay       time.Duration
	AnalyticsEveryNCycle int
	DebounceMinInterval  time.Duration
}

type Config struct {
	Port            string
	UpstreamBaseURL string
	UpstreamToken   string
	DefaultCurrency string
	Environment     string
	DemoUpstream    bool
	JWTSecret       string
	Scheduler       SchedulerConfig
	Feeds           map[models.FeedID]FeedConfig
}

var AppConfig *Config

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "http://localhost:9090"),
		UpstreamToken:   getEnv("UPSTREAM_TOKEN", ""),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "USD"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		DemoUpstream:    getEnv("DEMO_UPSTREAM", "false") == "true",
		JWTSecret:       getEnv("JWT_SECRET", "dev-only-secret"),
		Scheduler: SchedulerConfig{
			PrimaryPeriod:        getEnvDuration("PRIMARY_PERIOD", DefaultPrimaryPeriod),
			SecondaryDelay:       getEnvDuration("SECONDARY_DELAY", DefaultSecondaryDelay),
			AnalyticsEveryNCycle: getEnvInt("ANALYTICS_EVERY_N_CYCLES", DefaultAnalyticsEveryNCycle),
			DebounceMinInterval:  getEnvDuration("DEBOUNCE_MIN_INTERVAL", DefaultDebounceMinInterval),
		},
		Feeds: map[models.FeedID]FeedConfig{
			models.FeedStatus: {
				Path:    "/api/v1/account/status",
				TTL:     getEnvDuration("STATUS_TTL", DefaultStatusTTL),
				Timeout: getEnvDuration("STATUS_TIMEOUT", DefaultFetchTimeout),
			},
			models.FeedHoldings: {
				Path:    "/api/v1/account/holdings",
				TTL:     getEnvDuration("HOLDINGS_TTL", DefaultHoldingsTTL),
				Timeout: getEnvDuration("HOLDINGS_TIMEOUT", DefaultFetchTimeout),
			},
			models.FeedAnalytics: {
				Path:    "/api/v1/account/analytics",
				TTL:     getEnvDuration("ANALYTICS_TTL", DefaultAnalyticsTTL),
				Timeout: getEnvDuration("ANALYTICS_TIMEOUT", DefaultFetchTimeout),
			},
			models.FeedHistory: {
				Path:    "/api/v1/account/history",
				TTL:     getEnvDuration("HISTORY_TTL", DefaultHistoryTTL),
				Timeout: getEnvDuration("HISTORY_TIMEOUT", DefaultFetchTimeout),
			},
		},
	}

	AppConfig = config
	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvDuration parses a duration env var ("90s", "5m") or returns the default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// getEnvInt parses an integer env var or returns the default
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Printf("Warning: invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
