// Package settlement collects unpaid penalties from users in one aggregated
// charge each, follows those charges to a final status, and pays recipients
// their share less the platform fee.
//
// Per-penalty lifecycle:
//
//	UNPAID → CHARGE_PROCESSING → CHARGE_SUCCEEDED → TRANSFER_CREATED
//
// CHARGE_FAILED and CHARGE_CANCELED clear the charge reference, so the next
// pass charges the penalty again.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/app/engagement"
	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/metrics"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
)

// Config holds the money rules.
type Config struct {
	MinCharge decimal.Decimal // smallest aggregated charge
	MinPayout decimal.Decimal // smallest net transfer
	FeeRate   decimal.Decimal // platform share of each payout
	Currency  string
}

// DefaultConfig returns the production rules: $5 minimums and a 15% fee.
func DefaultConfig() Config {
	return Config{
		MinCharge: decimal.NewFromInt(5),
		MinPayout: decimal.NewFromInt(5),
		FeeRate:   decimal.RequireFromString("0.15"),
		Currency:  "usd",
	}
}

// keyNamespace scopes idempotency keys derived from penalty ids.
var keyNamespace = uuid.MustParse("7c1f3b8e-2a4d-5e6f-9a0b-1c2d3e4f5a6b")

// Engine runs the settlement passes.
type Engine struct {
	db        *sqlite.DB
	provider  domain.PaymentProvider
	ledger    *Ledger
	analytics *engagement.AnalyticsService
	notifier  domain.Notifier
	cfg       Config
	log       *log.Logger
	now       func() time.Time

	// payoutMu serializes Transfer passes started by the cron job, the
	// reconcile fan-out and webhooks.
	payoutMu sync.Mutex
}

// New creates a settlement engine.
func New(db *sqlite.DB, provider domain.PaymentProvider, analytics *engagement.AnalyticsService, notifier domain.Notifier, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Engine{
		db:        db,
		provider:  provider,
		ledger:    NewLedger(db),
		analytics: analytics,
		notifier:  notifier,
		cfg:       cfg,
		log:       logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source (for testing).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Ledger exposes the payment ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// ─── Charging ───────────────────────────────────────────────────────────────

// ChargeSummary tallies one charge pass.
type ChargeSummary struct {
	Charged        int
	BelowThreshold int
	NoPayment      int
	Failed         int
	Amount         decimal.Decimal
}

// ChargeUnpaid charges every user whose chargeable penalties add up to at
// least MinCharge. A failure for one user never stops the others.
func (e *Engine) ChargeUnpaid(ctx context.Context) (ChargeSummary, error) {
	var sum ChargeSummary
	pens, err := e.db.ListChargeablePenalties(ctx)
	if err != nil {
		return sum, fmt.Errorf("list chargeable: %w", err)
	}

	byUser := make(map[string][]domain.Penalty)
	var users []string
	for _, p := range pens {
		if !p.Chargeable() {
			continue
		}
		if _, ok := byUser[p.UserID]; !ok {
			users = append(users, p.UserID)
		}
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}
	sort.Strings(users)

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		amount, err := e.ChargeUser(ctx, userID, byUser[userID])
		switch {
		case errors.Is(err, domain.ErrBelowThreshold):
			sum.BelowThreshold++
		case errors.Is(err, domain.ErrNoPaymentMethod):
			sum.NoPayment++
			e.log.Warn("user has no payment method", "user", userID)
		case err != nil:
			sum.Failed++
			e.log.Error("charge failed", "user", userID, "err", err)
		default:
			sum.Charged++
			sum.Amount = sum.Amount.Add(amount)
		}
	}
	return sum, nil
}

// ChargeUser creates one charge for the given chargeable penalties of a
// user and tags them with it. Returns the amount charged.
func (e *Engine) ChargeUser(ctx context.Context, userID string, pens []domain.Penalty) (decimal.Decimal, error) {
	total := decimal.Zero
	ids := make([]string, 0, len(pens))
	for _, p := range pens {
		total = total.Add(p.Amount)
		ids = append(ids, p.ID)
	}
	if total.LessThan(e.cfg.MinCharge) {
		return decimal.Zero, fmt.Errorf("%w: %s < %s", domain.ErrBelowThreshold, total.StringFixed(2), e.cfg.MinCharge.StringFixed(2))
	}

	u, err := e.db.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get user: %w", err)
	}
	if u == nil || !u.CanBeCharged() {
		return decimal.Zero, domain.ErrNoPaymentMethod
	}

	res, err := e.provider.CreateCharge(ctx, domain.ChargeRequest{
		CustomerRef:      u.CustomerRef,
		PaymentMethodRef: u.PaymentMethodRef,
		Amount:           total,
		Currency:         e.cfg.Currency,
		IdempotencyKey:   ChargeKey(ids, e.now()),
		Metadata: map[string]string{
			"user_id":       userID,
			"penalty_count": fmt.Sprint(len(ids)),
		},
	})
	if err != nil {
		metrics.Charges.WithLabelValues("error").Inc()
		return decimal.Zero, fmt.Errorf("create charge: %w", err)
	}

	n, err := e.db.AttachIntent(ctx, ids, res.IntentID, domain.PaymentProcessing)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.Charges.WithLabelValues(string(res.Status)).Inc()
	e.log.Info("charge created", "user", userID, "intent", res.IntentID, "amount", total.StringFixed(2), "penalties", n, "status", res.Status)

	if res.Status != domain.PaymentProcessing {
		if err := e.ApplyChargeStatus(ctx, res.IntentID, res.Status); err != nil {
			return total, err
		}
	}
	return total, nil
}

// ChargeKey derives the provider idempotency key for a charge covering
// ids. A retried pass on the same day reuses the key, so the provider
// returns the original charge instead of creating a second one.
func ChargeKey(ids []string, now time.Time) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	name := "charge:" + now.UTC().Format(time.DateOnly) + ":" + strings.Join(sorted, ",")
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// transferKey derives the idempotency key for a payout covering ids.
func transferKey(recipientID string, ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	name := "transfer:" + recipientID + ":" + strings.Join(sorted, ",")
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

func (e *Engine) notify(ctx context.Context, userID string, kind domain.NotificationKind, params map[string]string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, userID, kind, params); err != nil {
		e.log.Warn("notify failed", "user", userID, "kind", kind, "err", err)
	}
}
