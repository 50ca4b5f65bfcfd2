package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the process configuration read from the environment.
type Config struct {
	HTTPAddr    string
	LogLevel    string
	StoreDriver string
	DBURL       string

	// SeedAccounts provisions balances on startup (memory driver, or an
	// explicit seed against Postgres for local runs).
	SeedAccounts map[string]int64

	RedisAddr      string
	RedisPass      string
	IdempotencyTTL time.Duration

	RejectWindow  time.Duration
	EvictWindow   time.Duration
	SweepInterval time.Duration

	CORSAllowedOrigins []string
}

// LoadEnv reads a .env file if one is present.
func LoadEnv() error {
	return godotenv.Load()
}

// Load builds the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		StoreDriver:        getEnv("STORE_DRIVER", DriverPostgres),
		DBURL:              os.Getenv("DB_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPass:          os.Getenv("REDIS_PASS"),
		CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", nil),
	}

	var err error
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RejectWindow, err = getDuration("REJECT_WINDOW", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.EvictWindow, err = getDuration("EVICT_WINDOW", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SeedAccounts, err = ParseAccounts(os.Getenv("SEED_ACCOUNTS")); err != nil {
		return Config{}, err
	}

	switch cfg.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if cfg.DBURL == "" {
			return Config{}, fmt.Errorf("DB_URL is required for the %s driver", DriverPostgres)
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

// ParseAccounts parses "A:100,B:50" into balances.
func ParseAccounts(s string) (map[string]int64, error) {
	out := make(map[string]int64)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		id, bal, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("SEED_ACCOUNTS: malformed entry %q", pair)
		}
		n, err := strconv.ParseInt(bal, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("SEED_ACCOUNTS: bad balance for %s: %q", id, bal)
		}
		out[id] = n
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
