// Package evaluator decides, once a habit's period has closed in its owner's
// timezone, whether the habit was done, and turns misses into penalties.
//
// Per (habit, period) the steps run strictly in order:
//
//	grace → required day → window → count → decide → mutate
//
// Decided periods are recorded, so every pass after the first is a no-op.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/activity"
	"github.com/pledgeloop/pledge/internal/app/engagement"
	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/metrics"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
	"github.com/pledgeloop/pledge/internal/timewindow"
)

// Config tunes the evaluator.
type Config struct {
	// CatchupDays is how many closed days each pass looks back over, so a
	// missed tick or a deferred period is picked up later.
	CatchupDays int
	// UnverifiedAfter is how long a period may wait on an unavailable source
	// before it is judged missed as unverified.
	UnverifiedAfter time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{CatchupDays: 3, UnverifiedAfter: 48 * time.Hour}
}

// Outcome is the result of judging one period.
type Outcome struct {
	State    domain.EvaluationState
	Count    int
	Quantity float64
	Penalty  *domain.Penalty // set when this call created the penalty
	Detail   string

	// Decided is true when an earlier pass already judged the period.
	Decided bool
}

// UserLocker serializes work on one user's habits across passes and
// requests. *scheduler.KeyedMutex satisfies it.
type UserLocker interface {
	Lock(userID string) (unlock func())
}

// Evaluator judges closed habit periods.
type Evaluator struct {
	db        *sqlite.DB
	counters  activity.Counter
	tz        *timewindow.Resolver
	streaks   *engagement.StreakService
	analytics *engagement.AnalyticsService
	notifier  domain.Notifier
	cfg       Config
	log       *log.Logger
	now       func() time.Time
	locks     UserLocker
}

// New creates an evaluator. counters is normally an *activity.Registry.
func New(
	db *sqlite.DB,
	counters activity.Counter,
	tz *timewindow.Resolver,
	streaks *engagement.StreakService,
	analytics *engagement.AnalyticsService,
	notifier domain.Notifier,
	cfg Config,
	logger *log.Logger,
) *Evaluator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.CatchupDays < 1 {
		cfg.CatchupDays = 1
	}
	return &Evaluator{
		db:        db,
		counters:  counters,
		tz:        tz,
		streaks:   streaks,
		analytics: analytics,
		notifier:  notifier,
		cfg:       cfg,
		log:       logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source (for testing).
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// WithLocks makes verification intake wait for any pass holding the
// user's lock.
func (e *Evaluator) WithLocks(l UserLocker) *Evaluator {
	e.locks = l
	return e
}

// Timezones exposes the resolver so callers share one zone cache.
func (e *Evaluator) Timezones() *timewindow.Resolver { return e.tz }

// ─── Period Selection ───────────────────────────────────────────────────────

// PeriodEnding returns the period of h that ends on date, if any. Daily
// habits end a period every day, weekly habits on the last day of their
// week, one-time habits on their due date.
func PeriodEnding(h domain.Habit, tz string, date civil.Date) (domain.Period, bool) {
	p := domain.Period{HabitID: h.ID, Timezone: tz}
	switch h.Cadence {
	case domain.CadenceDaily:
		p.Start, p.End = date, date
		return p, true
	case domain.CadenceWeekly:
		week := timewindow.WeekWindow(date, h.WeekStart)
		if week.EndDate != date {
			return p, false
		}
		p.Start, p.End = week.StartDate, week.EndDate
		return p, true
	case domain.CadenceOneTime:
		if h.DueDate != date {
			return p, false
		}
		p.Start, p.End = date, date
		return p, true
	}
	return p, false
}

// ─── Evaluation ─────────────────────────────────────────────────────────────

// EvaluatePeriod judges one closed period of h. An already-decided period
// returns its stored outcome without side effects. An error means the
// evaluation was aborted before any decision and may be retried.
func (e *Evaluator) EvaluatePeriod(ctx context.Context, h domain.Habit, u domain.User, p domain.Period) (Outcome, error) {
	prev, err := e.db.GetEvaluation(ctx, h.ID, p.Start)
	if err != nil {
		return Outcome{}, fmt.Errorf("get evaluation: %w", err)
	}
	if prev != nil {
		return Outcome{State: prev.Outcome, Count: prev.Count, Quantity: prev.Quantity, Decided: true}, nil
	}

	tz := p.Timezone
	if tz == "" {
		tz = u.Timezone
	}
	loc := e.tz.Location(tz)
	window := timewindow.WeekRange{StartDate: p.Start, EndDate: p.End}.Window(loc)

	// 1. Grace: the period containing the creation instant, and anything
	// before it, is never judged.
	if !h.CreatedAt.Before(window.Start) {
		return e.skip(domain.StateSkippedGrace, "created during period"), nil
	}

	// Periods before a staged change took effect belong to the old
	// configuration, which judged them when the change was applied.
	if !h.GovernsPeriod(p.Start) {
		return e.skip(domain.StateSkippedNotRequired, "before configuration took effect"), nil
	}

	// 2. Required day.
	if h.Cadence == domain.CadenceDaily && !h.RequiredOn(timewindow.Weekday(p.Start)) {
		return e.skip(domain.StateSkippedNotRequired, "not a required weekday"), nil
	}

	// 3–4. Window and count.
	countWindow := window
	if h.Cadence == domain.CadenceOneTime {
		countWindow.Start = h.CreatedAt
	}
	res, err := e.counters.Count(ctx, activity.Subject{User: u, Habit: h}, countWindow)
	if err != nil {
		return Outcome{}, fmt.Errorf("count activity: %w", err)
	}

	if !res.Available() {
		return e.unavailable(ctx, h, u, p, window, res)
	}

	// 5. Decide.
	d, err := e.decide(ctx, h, p, window, res)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Count: d.count, Quantity: res.Quantity, Detail: d.reason}

	// 6–7. Mutate.
	if d.hit {
		out.State = domain.StateHit
		return out, e.recordHit(ctx, h, p, out)
	}
	out.State = domain.StateMiss
	class := d.class
	if class == "" {
		class = domain.ReasonMissed
	}
	pen, err := e.recordMiss(ctx, h, u, p, out, d.amount, class)
	out.Penalty = pen
	return out, err
}

func (e *Evaluator) skip(state domain.EvaluationState, detail string) Outcome {
	metrics.Evaluations.WithLabelValues(string(state)).Inc()
	return Outcome{State: state, Detail: detail}
}

// unavailable handles a source that could not answer. A missing account is
// a configuration problem and never produces a penalty. A failing source
// defers the decision until UnverifiedAfter has passed since the period
// closed; after that the period is judged missed as unverified.
func (e *Evaluator) unavailable(ctx context.Context, h domain.Habit, u domain.User, p domain.Period, window timewindow.Window, res activity.Result) (Outcome, error) {
	if res.Reason == activity.ReasonNotLinked {
		e.log.Warn("account not linked, skipping", "habit", h.ID, "user", u.ID, "kind", h.Kind())
		return e.skip(domain.StateSkippedUnlinked, res.Detail), nil
	}

	if e.now().Sub(window.End) < e.cfg.UnverifiedAfter {
		e.log.Warn("source unavailable, deferring", "habit", h.ID, "period", p.Start, "detail", res.Detail)
		return e.skip(domain.StateDeferred, res.Detail), nil
	}

	out := Outcome{State: domain.StateMiss, Detail: "unverified: " + res.Detail}
	pen, err := e.recordMiss(ctx, h, u, p, out, h.PenaltyAmount, domain.ReasonUnverified)
	out.Penalty = pen
	return out, err
}

type decision struct {
	hit    bool
	count  int
	amount decimal.Decimal
	reason string
	class  domain.ReasonClass // empty means ReasonMissed
}

func (e *Evaluator) decide(ctx context.Context, h domain.Habit, p domain.Period, window timewindow.Window, res activity.Result) (decision, error) {
	switch h.Cadence {
	case domain.CadenceWeekly:
		current := res.Count
		target := h.WeeklyTarget
		progress, err := e.db.GetWeeklyProgress(ctx, h.ID, p.Start)
		if err != nil {
			return decision{}, fmt.Errorf("get weekly progress: %w", err)
		}
		if progress != nil {
			current = max(current, progress.CurrentCompletions)
			if progress.TargetCompletions > 0 {
				target = progress.TargetCompletions
			}
		}
		return decideWeekly(h.PenaltyAmount, current, target), nil

	case domain.CadenceOneTime:
		if !h.CompletedAt.IsZero() && h.CompletedAt.Before(window.End) {
			return decision{hit: true, count: max(res.Count, 1), reason: "completed"}, nil
		}
		return decideKind(h, res), nil
	}
	return decideKind(h, res), nil
}

func decideWeekly(rate decimal.Decimal, current, target int) decision {
	if current >= target {
		return decision{hit: true, count: current, reason: fmt.Sprintf("%d/%d completions", current, target)}
	}
	missing := target - current
	return decision{
		count:  current,
		amount: rate.Mul(decimal.NewFromInt(int64(missing))),
		reason: fmt.Sprintf("%d/%d completions", current, target),
	}
}

// decideKind applies the per-source rule to a daily or one-time count.
func decideKind(h domain.Habit, res activity.Result) decision {
	switch h.Kind() {
	case domain.KindGitHub, domain.KindLeetCode:
		target := h.TargetCount()
		if res.Count >= target {
			return decision{hit: true, count: res.Count, reason: fmt.Sprintf("%d/%d", res.Count, target)}
		}
		return decision{
			count:  res.Count,
			amount: h.PenaltyAmount.Mul(decimal.NewFromInt(int64(target - res.Count))),
			reason: fmt.Sprintf("%d/%d", res.Count, target),
		}

	case domain.KindHealth:
		if res.Quantity >= h.Target {
			return decision{hit: true, count: res.Count, reason: fmt.Sprintf("%g/%g %s", res.Quantity, h.Target, h.Metric)}
		}
		return decision{count: res.Count, amount: h.PenaltyAmount, reason: fmt.Sprintf("%g/%g %s", res.Quantity, h.Target, h.Metric)}

	case domain.KindGaming:
		amount := GamingPenalty(h.PenaltyAmount, h.Target, res.Quantity)
		reason := fmt.Sprintf("%.0f min played, limit %.0f", res.Quantity, h.Target*60)
		if !amount.IsPositive() {
			return decision{hit: true, count: res.Count, reason: reason}
		}
		return decision{count: res.Count, amount: amount, reason: reason, class: domain.ReasonOverage}
	}

	if res.Count >= 1 {
		return decision{hit: true, count: res.Count, reason: "verified"}
	}
	return decision{amount: h.PenaltyAmount, reason: "no verification"}
}

// GamingPenalty charges hourlyRate per hour over limitHours, rounded half-up
// to cents. At or under the limit it is zero, never negative.
func GamingPenalty(hourlyRate decimal.Decimal, limitHours, playedMinutes float64) decimal.Decimal {
	over := decimal.NewFromFloat(playedMinutes).Sub(decimal.NewFromFloat(limitHours).Mul(decimal.NewFromInt(60)))
	if !over.IsPositive() {
		return decimal.Zero
	}
	hours := over.Div(decimal.NewFromInt(60))
	return hourlyRate.Mul(hours).Round(2)
}

func (e *Evaluator) recordHit(ctx context.Context, h domain.Habit, p domain.Period, out Outcome) error {
	inserted, err := e.db.RecordEvaluation(ctx, domain.Evaluation{
		HabitID:     h.ID,
		PeriodStart: p.Start,
		PeriodEnd:   p.End,
		Outcome:     domain.StateHit,
		Count:       out.Count,
		Quantity:    out.Quantity,
		DecidedAt:   e.now(),
	})
	if err != nil {
		return fmt.Errorf("record hit: %w", err)
	}
	if !inserted {
		return nil
	}
	metrics.Evaluations.WithLabelValues(string(domain.StateHit)).Inc()

	if err := e.analytics.RecordSuccess(ctx, h.ID, h.RecipientID, e.now()); err != nil {
		e.log.Error("analytics success failed", "habit", h.ID, "err", err)
	}
	return nil
}

// recordMiss creates the penalty unless its slot is taken, applies the
// side effects of a new penalty, and records the decision. Returns the
// penalty only if this call created it.
func (e *Evaluator) recordMiss(ctx context.Context, h domain.Habit, u domain.User, p domain.Period, out Outcome, amount decimal.Decimal, class domain.ReasonClass) (*domain.Penalty, error) {
	var created *domain.Penalty
	penaltyID := ""

	exists, err := e.db.PenaltyExists(ctx, h.ID, p.End, class)
	if err != nil {
		return nil, fmt.Errorf("check penalty: %w", err)
	}
	if !exists && amount.IsPositive() {
		pen, err := e.db.InsertPenalty(ctx, domain.Penalty{
			HabitID:     h.ID,
			UserID:      h.UserID,
			RecipientID: h.RecipientID,
			Amount:      amount.Round(2),
			PenaltyDate: p.End,
			ReasonClass: class,
			Reason:      fmt.Sprintf("%s %s: %s", h.Name, p.End, out.Detail),
			CreatedAt:   e.now(),
		})
		switch {
		case errors.Is(err, domain.ErrPenaltyExists):
		case err != nil:
			return nil, fmt.Errorf("create penalty: %w", err)
		default:
			created = &pen
			penaltyID = pen.ID
			e.applyPenalty(ctx, h, u, pen)
		}
	}

	inserted, err := e.db.RecordEvaluation(ctx, domain.Evaluation{
		HabitID:     h.ID,
		PeriodStart: p.Start,
		PeriodEnd:   p.End,
		Outcome:     domain.StateMiss,
		Count:       out.Count,
		Quantity:    out.Quantity,
		PenaltyID:   penaltyID,
		DecidedAt:   e.now(),
	})
	if err != nil {
		return created, fmt.Errorf("record miss: %w", err)
	}
	if inserted {
		metrics.Evaluations.WithLabelValues(string(domain.StateMiss)).Inc()
	}
	return created, nil
}

// applyPenalty runs the side effects of a newly created penalty. Failures
// are logged; the penalty itself is already durable.
func (e *Evaluator) applyPenalty(ctx context.Context, h domain.Habit, u domain.User, pen domain.Penalty) {
	metrics.PenaltiesCreated.WithLabelValues(string(pen.ReasonClass)).Inc()
	e.log.Info("penalty created", "habit", h.ID, "user", u.ID, "date", pen.PenaltyDate, "amount", pen.Amount.StringFixed(2), "reason", pen.ReasonClass)

	if err := e.analytics.RecordFailure(ctx, h.ID, h.RecipientID, pen.Amount, pen.PenaltyDate); err != nil {
		e.log.Error("analytics failure update failed", "habit", h.ID, "err", err)
	}
	if _, err := e.streaks.Decrement(ctx, h.ID); err != nil {
		e.log.Error("streak decrement failed", "habit", h.ID, "err", err)
	}

	params := map[string]string{
		"habit":  h.Name,
		"amount": pen.Amount.StringFixed(2),
		"date":   pen.PenaltyDate.String(),
	}
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, h.UserID, domain.NotifyPenaltyCreated, params); err != nil {
		e.log.Warn("notify owner failed", "user", h.UserID, "err", err)
	}
	if h.HasRecipient() {
		if err := e.notifier.Notify(ctx, h.RecipientID, domain.NotifyRecipientEarned, params); err != nil {
			e.log.Warn("notify recipient failed", "user", h.RecipientID, "err", err)
		}
	}
}
