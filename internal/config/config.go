// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultJWTSecret is only acceptable outside production.
const DefaultJWTSecret = "dev-secret-key"

// Config holds all application configuration
type Config struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"8080"`

	// MicroCache toggles the page-level response cache.
	MicroCache    bool          `env:"MICRO_CACHE" envDefault:"true"`
	MicroCacheMax int           `env:"MICRO_CACHE_MAX" envDefault:"100"`
	MicroCacheTTL time.Duration `env:"MICRO_CACHE_TTL" envDefault:"1s"`

	FragmentCacheMax int           `env:"FRAGMENT_CACHE_MAX" envDefault:"1000"`
	FragmentCacheTTL time.Duration `env:"FRAGMENT_CACHE_TTL" envDefault:"15m"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`

	BundleDir     string        `env:"BUNDLE_DIR" envDefault:"dist"`
	DefaultTitle  string        `env:"DEFAULT_TITLE" envDefault:"M.M.F 小屋"`
	WatchInterval time.Duration `env:"WATCH_INTERVAL" envDefault:"500ms"`

	// DatabaseURL selects the Postgres content store; empty uses memory.
	DatabaseURL string `env:"DATABASE_URL"`
	// APIUpstream is the data-layer service proxied under /api.
	APIUpstream string `env:"API_UPSTREAM"`

	// RenderCoalesce shares one render among concurrent requests for a URL.
	RenderCoalesce bool `env:"RENDER_COALESCE" envDefault:"false"`
}

// Load reads configuration from the process environment
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

// LoadFrom reads configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: vars})
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

// IsProduction reports whether APP_ENV is "production"
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.IsProduction() && c.JWTSecret == DefaultJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if c.MicroCacheMax < 1 {
		errs = append(errs, fmt.Errorf("MICRO_CACHE_MAX must be positive, got %d", c.MicroCacheMax))
	}
	if c.MicroCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("MICRO_CACHE_TTL must be positive, got %s", c.MicroCacheTTL))
	}
	if c.FragmentCacheMax < 1 {
		errs = append(errs, fmt.Errorf("FRAGMENT_CACHE_MAX must be positive, got %d", c.FragmentCacheMax))
	}
	if c.BundleDir == "" {
		errs = append(errs, errors.New("BUNDLE_DIR must not be empty"))
	}
	return errors.Join(errs...)
}
