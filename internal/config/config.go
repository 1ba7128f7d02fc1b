// Package config loads ledger server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPort             = "PORT"
	EnvLogLevel         = "LOG_LEVEL"
	EnvDatabaseURL      = "DATABASE_URL"
	EnvRunMigrations    = "RUN_MIGRATIONS"
	EnvRedisURL         = "REDIS_URL"
	EnvCacheTTL         = "CACHE_TTL"
	EnvJWTSecret        = "JWT_SECRET"
	EnvJWTIssuer        = "JWT_ISSUER"
	EnvMinEventDeposit  = "MIN_EVENT_DEPOSIT"
	EnvMinFundDeposit   = "MIN_FUND_DEPOSIT"
	EnvProposalDuration = "DEFAULT_PROPOSAL_DURATION"
	EnvRequestTimeout   = "REQUEST_TIMEOUT"
)

// Config is the full server configuration.
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Empty DatabaseURL selects the in-memory store.
	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	RunMigrations bool          `envconfig:"RUN_MIGRATIONS" default:"true"`
	RedisURL      string        `envconfig:"REDIS_URL"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	// Empty JWTSecret trusts the caller header.
	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"prediction-ledger"`

	MinEventDeposit  decimal.Decimal `envconfig:"MIN_EVENT_DEPOSIT" default:"1000000000000"`
	MinFundDeposit   decimal.Decimal `envconfig:"MIN_FUND_DEPOSIT" default:"1000000000000"`
	ProposalDuration time.Duration   `envconfig:"DEFAULT_PROPOSAL_DURATION" default:"720h"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvPort))
	}
	if _, ok := levels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, fmt.Errorf("%s must be one of debug, info, warn, error", EnvLogLevel))
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("%s requires %s", EnvRedisURL, EnvDatabaseURL))
	}
	if c.RedisURL != "" && c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvCacheTTL))
	}
	for name, v := range map[string]decimal.Decimal{
		EnvMinEventDeposit: c.MinEventDeposit,
		EnvMinFundDeposit:  c.MinFundDeposit,
	} {
		if v.IsNegative() || !v.IsInteger() {
			errs = append(errs, fmt.Errorf("%s must be a non-negative whole amount", name))
		}
	}
	if c.ProposalDuration <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvProposalDuration))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvRequestTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	if l, ok := levels[strings.ToLower(c.LogLevel)]; ok {
		return l
	}
	return slog.LevelInfo
}
