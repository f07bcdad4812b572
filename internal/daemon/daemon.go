package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v62/github"

	"github.com/pledgeloop/pledge/internal/activity"
	"github.com/pledgeloop/pledge/internal/api"
	"github.com/pledgeloop/pledge/internal/app/engagement"
	"github.com/pledgeloop/pledge/internal/app/evaluator"
	"github.com/pledgeloop/pledge/internal/app/settlement"
	"github.com/pledgeloop/pledge/internal/app/staged"
	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/health"
	_ "github.com/pledgeloop/pledge/internal/infra/metrics" // Register Prometheus metrics
	"github.com/pledgeloop/pledge/internal/infra/payment"
	"github.com/pledgeloop/pledge/internal/infra/scheduler"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
	"github.com/pledgeloop/pledge/internal/logger"
	"github.com/pledgeloop/pledge/internal/timewindow"
)

// ErrPaymentNotConfigured is returned by settlement jobs when no Stripe key
// is set.
var ErrPaymentNotConfigured = errors.New("payment provider not configured")

// Daemon is the core pledge runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Log    *log.Logger
	cancel context.CancelFunc

	// Evaluation
	Timezones *timewindow.Resolver
	Counters  *activity.Registry
	Evaluator *evaluator.Evaluator
	Planner   *staged.Planner
	Staged    *staged.Resolver

	// Engagement
	Streak       *engagement.StreakService
	Analytics    *engagement.AnalyticsService
	Notification *engagement.NotificationService

	// Settlement; nil when no payment provider is configured
	Settlement *settlement.Engine

	// Operations
	Scheduler *scheduler.Scheduler
	Health    *health.Checker
	Server    *api.Server
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg, nil)
}

// NewWithConfig creates a Daemon with the given configuration. A nil
// logger builds one from cfg.Logging.
func NewWithConfig(cfg Config, l *log.Logger) (*Daemon, error) {
	if l == nil {
		var err error
		if l, err = logger.Init(cfg.LoggerConfig()); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	rules, err := cfg.SettlementRules()
	if err != nil {
		return nil, err
	}

	// Open SQLite
	db, err := sqlite.Open(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{
		Config:    cfg,
		DB:        db,
		Log:       l,
		Timezones: timewindow.NewResolver(cfg.Cache.Size, parseDuration(cfg.Cache.TimezoneTTL, time.Hour)),
	}

	// ─── Activity sources ──────────────────────────────────────────────

	gh, err := newGitHubClient(cfg.GitHub)
	if err != nil {
		db.Close()
		return nil, err
	}
	policy := cfg.RetryPolicy()
	d.Counters = activity.NewRegistry()
	d.Counters.Register(domain.KindPhoto, activity.NewPhotoCounter(db))
	d.Counters.Register(domain.KindGaming, activity.NewGamingCounter(db))
	d.Counters.Register(domain.KindHealth, activity.NewHealthCounter(db))
	d.Counters.Register(domain.KindGitHub, activity.NewGitHubCounter(gh, policy, logger.Component(l, "github")))
	d.Counters.Register(domain.KindLeetCode, activity.NewLeetCodeCounter(cfg.LeetCode.Endpoint, nil, policy, logger.Component(l, "leetcode")))

	// ─── Engagement & evaluation ───────────────────────────────────────

	d.Streak = engagement.NewStreakService(db)
	d.Analytics = engagement.NewAnalyticsService(db)
	d.Notification = engagement.NewNotificationService(db, logger.Component(l, "notify"))

	d.Evaluator = evaluator.New(db, d.Counters, d.Timezones, d.Streak, d.Analytics, d.Notification,
		cfg.EvaluatorConfig(), logger.Component(l, "evaluator"))
	d.Planner = staged.NewPlanner(db, d.Timezones, d.Notification, logger.Component(l, "staged"))
	d.Staged = staged.NewResolver(db, d.Evaluator, logger.Component(l, "staged"))

	// ─── Settlement ────────────────────────────────────────────────────

	if cfg.Stripe.SecretKey != "" {
		provider := payment.NewStripe(payment.Config{
			SecretKey:         cfg.Stripe.SecretKey,
			WebhookSecret:     cfg.Stripe.WebhookSecret,
			APIURL:            cfg.Stripe.APIURL,
			MaxNetworkRetries: 2,
		}, logger.Component(l, "stripe"))
		d.Settlement = settlement.New(db, provider, d.Analytics, d.Notification, rules, logger.Component(l, "settlement"))
	} else {
		l.Warn("no stripe key configured; settlement jobs will be skipped")
	}

	// ─── Operations ────────────────────────────────────────────────────

	d.Scheduler = scheduler.New(cfg.SchedulerSettings(), logger.Component(l, "scheduler"))
	d.Evaluator.WithLocks(d.Scheduler.Locks())
	d.Staged.WithLocks(d.Scheduler.Locks())
	if err := d.registerJobs(); err != nil {
		db.Close()
		return nil, err
	}

	d.Health = health.NewChecker(db, cfg.DataDir(), health.PaymentCheck(d.Settlement != nil))

	srv := api.NewServer(db, logger.Component(l, "api"))
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	srv.SetHealth(d.Health)
	srv.SetEvaluator(d.Evaluator)
	srv.SetPlanner(d.Planner)
	if d.Settlement != nil {
		srv.SetSettlement(d.Settlement, cfg.Stripe.WebhookSecret)
	}
	d.Server = srv

	return d, nil
}

func newGitHubClient(cfg GitHubConfig) (*github.Client, error) {
	client := github.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github.base_url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

// Serve starts the scheduler and HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	// Health checker (always runs)
	go d.Health.Run(ctx)

	d.Scheduler.Start(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		d.Scheduler.Stop()
		_ = d.DB.Close()
	}()

	d.Log.Info("pledge serving", "addr", "http://"+addr, "env", d.Config.Scheduler.Env)
	if d.Config.Telemetry.Prometheus {
		d.Log.Info("metrics enabled", "url", "http://"+addr+"/metrics")
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// RunOnce runs one job immediately as of at, outside the cron loop.
func (d *Daemon) RunOnce(ctx context.Context, job string, at time.Time) error {
	switch job {
	case scheduler.JobCharge, scheduler.JobReconcile, scheduler.JobTransfer:
		if d.Settlement == nil {
			return ErrPaymentNotConfigured
		}
	}
	return d.Scheduler.RunOnce(ctx, job, at)
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
