package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/infra/scheduler"
	"github.com/pledgeloop/pledge/internal/logger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8420 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8420)
	}
	if cfg.Scheduler.Env != scheduler.EnvProduction {
		t.Errorf("Scheduler.Env = %q, want production", cfg.Scheduler.Env)
	}
	rules, err := cfg.SettlementRules()
	if err != nil {
		t.Fatalf("SettlementRules() error: %v", err)
	}
	if !rules.MinCharge.Equal(decimal.NewFromInt(5)) || !rules.FeeRate.Equal(decimal.RequireFromString("0.15")) {
		t.Errorf("rules = %+v, want $5 minimum and 15%% fee", rules)
	}
	if ec := cfg.EvaluatorConfig(); ec.CatchupDays != 3 || ec.UnverifiedAfter != 48*time.Hour {
		t.Errorf("EvaluatorConfig() = %+v", ec)
	}
}

func TestLoadConfigFrom_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PLEDGE_HOME", t.TempDir())
	t.Setenv("PLEDGE_STRIPE_KEY", "")
	cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfigFrom() error: %v", err)
	}
	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("Retry.MaxRetries = %d, want 2", cfg.Retry.MaxRetries)
	}
}

func TestLoadConfigFrom_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLEDGE_HOME", dir)
	path := filepath.Join(dir, "config.toml")
	body := `
[api]
port = 9000

[scheduler]
env = "development"
max_concurrent_users = 2

[scheduler.jobs]
charge = "45 * * * *"

[settlement]
min_charge = "10.00"

[stripe]
secret_key = "sk_from_file"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLEDGE_STRIPE_KEY", "sk_from_env")
	t.Setenv("PLEDGE_GITHUB_TOKEN", "ghp_env")

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom() error: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want default kept", cfg.API.Host)
	}
	if cfg.Stripe.SecretKey != "sk_from_env" {
		t.Errorf("Stripe.SecretKey = %q, want env override", cfg.Stripe.SecretKey)
	}
	if cfg.GitHub.Token != "ghp_env" {
		t.Errorf("GitHub.Token = %q, want env override", cfg.GitHub.Token)
	}
	sc := cfg.SchedulerSettings()
	if sc.Env != scheduler.EnvDevelopment || sc.MaxConcurrentUsers != 2 || sc.Specs["charge"] != "45 * * * *" {
		t.Errorf("SchedulerSettings() = %+v", sc)
	}
	rules, _ := cfg.SettlementRules()
	if !rules.MinCharge.Equal(decimal.NewFromInt(10)) {
		t.Errorf("MinCharge = %s, want 10", rules.MinCharge)
	}
}

func TestLoadConfigFrom_BadFeeRate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[settlement]\nplatform_fee_rate = \"1.5\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFrom(path); err == nil {
		t.Error("LoadConfigFrom() should reject a fee rate >= 1")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := DefaultConfig()
	cfg.API.Port = 7777
	cfg.Scheduler.Jobs = map[string]string{"evaluate": "5 * * * *"}
	if err := SaveConfigTo(path, cfg); err != nil {
		t.Fatalf("SaveConfigTo() error: %v", err)
	}
	got, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom() error: %v", err)
	}
	if got.API.Port != 7777 || got.Scheduler.Jobs["evaluate"] != "5 * * * *" {
		t.Errorf("round trip lost values: %+v", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Minute},
		{"90s", 90 * time.Second},
		{"garbage", time.Minute},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, time.Minute); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ─── Wiring ─────────────────────────────────────────────────────────────────

func TestNewWithConfig_WithoutPayment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Dir = t.TempDir()
	cfg.Stripe.SecretKey = ""

	d, err := NewWithConfig(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	if d.Settlement != nil {
		t.Error("Settlement should be nil without a stripe key")
	}
	if got := len(d.Scheduler.Jobs()); got != 5 {
		t.Errorf("registered jobs = %d, want 5", got)
	}
	if err := d.RunOnce(context.Background(), scheduler.JobCharge, time.Time{}); !errors.Is(err, ErrPaymentNotConfigured) {
		t.Errorf("RunOnce(charge) = %v, want ErrPaymentNotConfigured", err)
	}
	if err := d.RunOnce(context.Background(), scheduler.JobEvaluate, time.Now()); err != nil {
		t.Errorf("RunOnce(evaluate) on empty db error: %v", err)
	}
}

func TestNewWithConfig_WithPayment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Dir = t.TempDir()
	cfg.Stripe.SecretKey = "sk_test_123"
	cfg.GitHub.BaseURL = "http://127.0.0.1:1/api"

	d, err := NewWithConfig(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	if d.Settlement == nil {
		t.Fatal("Settlement should be wired with a stripe key")
	}
	// Nothing to charge, so no provider call is made.
	if err := d.RunOnce(context.Background(), scheduler.JobCharge, time.Time{}); err != nil {
		t.Errorf("RunOnce(charge) error: %v", err)
	}
}
