package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"5250"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Database selects the fact store backend
	Database struct {
		Driver      string `env:"DB_DRIVER" envDefault:"sqlite"`
		SQLitePath  string `env:"SQLITE_PATH" envDefault:"database/hompare.db"`
		PostgresDSN string `env:"POSTGRES_DSN"`
	}

	// ResolverMode is "city" or "hierarchy"
	ResolverMode string `env:"RESOLVER_MODE" envDefault:"city"`

	Cache struct {
		RedisAddr     string        `env:"REDIS_ADDR"`
		RedisPassword string        `env:"REDIS_PASSWORD"`
		RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
		TTL           time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	}

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	// SeedFile is applied on startup when set
	SeedFile string `env:"SEED_FILE"`

	// Import polls Dir for price entry files when set
	Import struct {
		Dir      string        `env:"IMPORT_DIR"`
		Interval time.Duration `env:"IMPORT_INTERVAL" envDefault:"1h"`
	}

	// BatchProcessing configuration
	BatchProcessing struct {
		// Maximum number of entries written in one transaction
		MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"100"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"5"`
	}
}

// Load reads .env when present and parses the environment over the defaults.
func Load() (*Config, error) {
	// a missing .env is fine, the process environment still applies
	_ = godotenv.Load()
	return LoadConfig()
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	if c.Import.Dir != "" && c.Import.Interval <= 0 {
		return fmt.Errorf("IMPORT_INTERVAL must be positive, got %s", c.Import.Interval)
	}
	if c.BatchProcessing.MaxBatchSize <= 0 {
		return fmt.Errorf("BATCH_MAX_SIZE must be positive, got %d", c.BatchProcessing.MaxBatchSize)
	}
	if c.BatchProcessing.MaxRetries < 0 {
		return fmt.Errorf("BATCH_MAX_RETRIES must not be negative, got %d", c.BatchProcessing.MaxRetries)
	}
	return nil
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.BatchProcessing.RetryDelay) * time.Second
}
