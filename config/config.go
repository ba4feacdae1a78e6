// Package config loads visitd settings from the environment, after merging
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
	BackendOff      Backend = "off"
)

type Config struct {
	Addr            string        `env:"VISITD_ADDR,default=:8080"`
	ShutdownTimeout time.Duration `env:"VISITD_SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel        string        `env:"VISITD_LOG_LEVEL,default=info"`
	LogJSON         bool          `env:"VISITD_LOG_JSON,default=true"`

	// Counter: redis | postgres
	Counter    Backend `env:"VISITD_COUNTER,default=redis"`
	KnownSlugs bool    `env:"VISITD_KNOWN_SLUGS,default=false"`

	// Limiter: memory | redis | off
	Limiter           Backend       `env:"VISITD_LIMITER,default=memory"`
	RateWindow        time.Duration `env:"VISITD_RATE_WINDOW,default=1h"`
	TrustForwardedFor bool          `env:"VISITD_TRUST_XFF,default=false"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`
	RedisPrefix   string `env:"VISITD_REDIS_PREFIX"`

	PostgresDSN string `env:"DATABASE_URL"`
}

// Load reads files (default ".env") if present, then decodes the
// environment. Variables already set win over file values.
func Load(files ...string) (*Config, error) {
	// Load .env if present
	_ = godotenv.Load(files...)

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Counter {
	case BackendRedis:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("config: VISITD_COUNTER=postgres needs DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown VISITD_COUNTER %q", c.Counter)
	}
	switch c.Limiter {
	case BackendMemory, BackendRedis, BackendOff:
	default:
		return fmt.Errorf("config: unknown VISITD_LIMITER %q", c.Limiter)
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("config: VISITD_RATE_WINDOW must be positive, got %s", c.RateWindow)
	}
	return nil
}

// NeedsRedis reports whether any configured backend uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.Counter == BackendRedis || c.Limiter == BackendRedis
}
