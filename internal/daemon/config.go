// Package daemon manages the pledge daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/app/evaluator"
	"github.com/pledgeloop/pledge/internal/app/settlement"
	"github.com/pledgeloop/pledge/internal/infra/retry"
	"github.com/pledgeloop/pledge/internal/infra/scheduler"
	"github.com/pledgeloop/pledge/internal/logger"
)

// Config holds all daemon configuration.
type Config struct {
	API        APIConfig        `toml:"api"`
	Database   DatabaseConfig   `toml:"database"`
	Logging    LoggingConfig    `toml:"logging"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Settlement SettlementConfig `toml:"settlement"`
	Evaluation EvaluationConfig `toml:"evaluation"`
	Stripe     StripeConfig     `toml:"stripe"`
	GitHub     GitHubConfig     `toml:"github"`
	LeetCode   LeetCodeConfig   `toml:"leetcode"`
	Retry      RetryConfig      `toml:"retry"`
	Cache      CacheConfig      `toml:"cache"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig controls storage.
type DatabaseConfig struct {
	Dir string `toml:"dir"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

// SchedulerConfig controls the job cadence.
type SchedulerConfig struct {
	Env                string            `toml:"env"` // production or development
	Jobs               map[string]string `toml:"jobs"`
	MaxConcurrentUsers int               `toml:"max_concurrent_users"`
	JobTimeout         string            `toml:"job_timeout"`
	CatchupDays        int               `toml:"catchup_days"`
}

// SettlementConfig holds the money rules. Amounts are decimal strings.
type SettlementConfig struct {
	MinCharge       string `toml:"min_charge"`
	MinPayout       string `toml:"min_payout"`
	PlatformFeeRate string `toml:"platform_fee_rate"`
	Currency        string `toml:"currency"`
}

// EvaluationConfig controls how long an unreachable source may defer a
// decision.
type EvaluationConfig struct {
	UnverifiedAfter string `toml:"unverified_after"`
}

// StripeConfig holds payment provider credentials.
type StripeConfig struct {
	SecretKey     string `toml:"secret_key"`
	WebhookSecret string `toml:"webhook_secret"`
	APIURL        string `toml:"api_url,omitempty"`
}

// GitHubConfig controls the commit counter.
type GitHubConfig struct {
	Token   string `toml:"token"`
	BaseURL string `toml:"base_url,omitempty"`
}

// LeetCodeConfig controls the solved-problem counter.
type LeetCodeConfig struct {
	Endpoint string `toml:"endpoint"`
}

// RetryConfig controls outbound retries to activity sources.
type RetryConfig struct {
	MaxRetries  int    `toml:"max_retries"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
	CallTimeout string `toml:"call_timeout"`
}

// CacheConfig controls the timezone cache.
type CacheConfig struct {
	TimezoneTTL string `toml:"timezone_ttl"`
	Size        int    `toml:"size"`
}

// TelemetryConfig controls Prometheus exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := pledgeHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Database: DatabaseConfig{
			Dir: homeDir,
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(homeDir, "pledge.log"),
			MaxSizeMB: 50,
			MaxFiles:  5,
		},
		Scheduler: SchedulerConfig{
			Env:                scheduler.EnvProduction,
			MaxConcurrentUsers: 8,
			JobTimeout:         "10m",
			CatchupDays:        3,
		},
		Settlement: SettlementConfig{
			MinCharge:       "5.00",
			MinPayout:       "5.00",
			PlatformFeeRate: "0.15",
			Currency:        "usd",
		},
		Evaluation: EvaluationConfig{
			UnverifiedAfter: "48h",
		},
		LeetCode: LeetCodeConfig{
			Endpoint: "https://leetcode.com/graphql",
		},
		Retry: RetryConfig{
			MaxRetries:  2,
			BaseDelay:   "500ms",
			MaxDelay:    "5s",
			CallTimeout: "10s",
		},
		Cache: CacheConfig{
			TimezoneTTL: "1h",
			Size:        256,
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from ~/.pledge/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(filepath.Join(pledgeHome(), "config.toml"))
}

// LoadConfigFrom reads config from path, falling back to defaults when the
// file does not exist. Secrets in the environment override the file.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	if v := os.Getenv("PLEDGE_STRIPE_KEY"); v != "" {
		cfg.Stripe.SecretKey = v
	}
	if v := os.Getenv("PLEDGE_STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Stripe.WebhookSecret = v
	}
	if v := os.Getenv("PLEDGE_GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}

	if _, err := cfg.SettlementRules(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.pledge/config.toml.
func SaveConfig(cfg Config) error {
	return SaveConfigTo(filepath.Join(pledgeHome(), "config.toml"), cfg)
}

// SaveConfigTo writes the config to path.
func SaveConfigTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ─── Derived settings ───────────────────────────────────────────────────────

// SettlementRules parses the money rules.
func (c Config) SettlementRules() (settlement.Config, error) {
	def := settlement.DefaultConfig()
	out := settlement.Config{Currency: c.Settlement.Currency}
	var err error
	if out.MinCharge, err = parseAmount(c.Settlement.MinCharge, def.MinCharge); err != nil {
		return out, fmt.Errorf("settlement.min_charge: %w", err)
	}
	if out.MinPayout, err = parseAmount(c.Settlement.MinPayout, def.MinPayout); err != nil {
		return out, fmt.Errorf("settlement.min_payout: %w", err)
	}
	if out.FeeRate, err = parseAmount(c.Settlement.PlatformFeeRate, def.FeeRate); err != nil {
		return out, fmt.Errorf("settlement.platform_fee_rate: %w", err)
	}
	if out.FeeRate.IsNegative() || out.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return out, fmt.Errorf("settlement.platform_fee_rate must be in [0, 1), got %s", out.FeeRate)
	}
	if out.Currency == "" {
		out.Currency = def.Currency
	}
	return out, nil
}

// EvaluatorConfig returns the evaluation settings.
func (c Config) EvaluatorConfig() evaluator.Config {
	def := evaluator.DefaultConfig()
	out := evaluator.Config{
		CatchupDays:     c.Scheduler.CatchupDays,
		UnverifiedAfter: parseDuration(c.Evaluation.UnverifiedAfter, def.UnverifiedAfter),
	}
	if out.CatchupDays <= 0 {
		out.CatchupDays = def.CatchupDays
	}
	return out
}

// SchedulerSettings returns the scheduler settings.
func (c Config) SchedulerSettings() scheduler.Config {
	def := scheduler.DefaultConfig()
	return scheduler.Config{
		Env:                c.Scheduler.Env,
		Specs:              c.Scheduler.Jobs,
		MaxConcurrentUsers: c.Scheduler.MaxConcurrentUsers,
		JobTimeout:         parseDuration(c.Scheduler.JobTimeout, def.JobTimeout),
	}
}

// RetryPolicy returns the outbound retry settings.
func (c Config) RetryPolicy() retry.Config {
	def := retry.DefaultConfig()
	return retry.Config{
		MaxRetries:  c.Retry.MaxRetries,
		BaseDelay:   parseDuration(c.Retry.BaseDelay, def.BaseDelay),
		MaxDelay:    parseDuration(c.Retry.MaxDelay, def.MaxDelay),
		CallTimeout: parseDuration(c.Retry.CallTimeout, def.CallTimeout),
	}
}

// LoggerConfig returns the logger settings.
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		MaxSizeMB: c.Logging.MaxSizeMB,
		MaxFiles:  c.Logging.MaxFiles,
		Stderr:    true,
	}
}

// DataDir is where the database lives.
func (c Config) DataDir() string {
	if c.Database.Dir != "" {
		return c.Database.Dir
	}
	return pledgeHome()
}

func parseAmount(s string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return fallback, nil
	}
	return decimal.NewFromString(s)
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// pledgeHome returns the pledge data directory.
func pledgeHome() string {
	if env := os.Getenv("PLEDGE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pledge")
}

// PledgeHome is exported for use by other packages.
func PledgeHome() string {
	return pledgeHome()
}
