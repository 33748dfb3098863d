package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"orderGuard/internal/adapters/logger" // Import the logger package for LogLevel
	"orderGuard/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Venue API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Instrument
	Symbol  string
	Account string // Account designation passed through to venue queries

	// Reconciliation parameters
	Approach         domain.ApproachKind
	QtyStep          float64       // Instrument quantity step (e.g. 0.001)
	IdempotencyTTL   time.Duration // Window for at-most-once execution
	FetchMinInterval time.Duration // Minimum spacing between queries for one order id
	StableThreshold  time.Duration // No-activity window before a position counts as stable
	StableCacheTTL   time.Duration // Cache lifetime for stable-position reads
	MonitorInterval  time.Duration // Cadence of the reconciliation monitor loop

	// Venue call retry budget
	RetryBaseDelay   time.Duration
	RetryMaxAttempts int

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "std" or "zap"

	// Metrics
	MetricsAddr string // Listen address for /metrics, empty disables
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Venue API
	cfg.APIKey = getEnv("VENUE_API_KEY", "")
	cfg.SecretKey = getEnv("VENUE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "VENUE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "VENUE_API_SECRET must be set")
	}

	// Instrument
	cfg.Symbol = getEnv("SYMBOL", "ETHUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.Account = getEnv("ACCOUNT", "main")

	// Reconciliation parameters
	switch approach := strings.ToLower(getEnv("APPROACH", "conservative")); approach {
	case "conservative":
		cfg.Approach = domain.ApproachConservative
	case "fast":
		cfg.Approach = domain.ApproachFast
	default:
		errs = append(errs, fmt.Sprintf("unknown APPROACH %q (want conservative or fast)", approach))
	}

	cfg.QtyStep, err = getEnvAsFloatRequired("QTY_STEP", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid QTY_STEP: %v", err))
	} else if cfg.QtyStep <= 0 {
		errs = append(errs, "QTY_STEP must be positive")
	}

	cfg.IdempotencyTTL = getEnvAsDuration("IDEMPOTENCY_TTL_SECONDS", 300, &errs)
	cfg.FetchMinInterval = getEnvAsDuration("FETCH_MIN_INTERVAL_SECONDS", 60, &errs)
	cfg.StableThreshold = getEnvAsDuration("STABLE_THRESHOLD_SECONDS", 600, &errs)
	cfg.StableCacheTTL = getEnvAsDuration("STABLE_CACHE_TTL_SECONDS", 30, &errs)
	cfg.MonitorInterval = getEnvAsDuration("MONITOR_INTERVAL_SECONDS", 60, &errs)

	// Retry budget
	retryBaseMs := getEnvAsInt("RETRY_BASE_DELAY_MS", 500)
	if retryBaseMs <= 0 {
		errs = append(errs, "RETRY_BASE_DELAY_MS must be positive")
	}
	cfg.RetryBaseDelay = time.Duration(retryBaseMs) * time.Millisecond

	cfg.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", 3)
	if cfg.RetryMaxAttempts < 1 || cfg.RetryMaxAttempts > 5 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be between 1 and 5")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/order_guard.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "std"))
	if cfg.LogFormat != "std" && cfg.LogFormat != "zap" {
		errs = append(errs, fmt.Sprintf("unknown LOG_FORMAT %q (want std or zap)", cfg.LogFormat))
	}

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9108")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultSeconds int, errs *[]string) time.Duration {
	seconds := getEnvAsInt(key, defaultSeconds)
	if seconds <= 0 {
		*errs = append(*errs, key+" must be positive")
		return time.Duration(defaultSeconds) * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
