package evaluator

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/activity"
	"github.com/pledgeloop/pledge/internal/app/engagement"
	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/scheduler"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
	"github.com/pledgeloop/pledge/internal/logger"
	"github.com/pledgeloop/pledge/internal/timewindow"
)

type fixture struct {
	db       *sqlite.DB
	eval     *Evaluator
	registry *activity.Registry
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := activity.NewRegistry()
	reg.Register(domain.KindPhoto, activity.NewPhotoCounter(db))
	reg.Register(domain.KindGaming, activity.NewGamingCounter(db))
	reg.Register(domain.KindHealth, activity.NewHealthCounter(db))

	f := &fixture{db: db, registry: reg, now: time.Date(2024, 1, 12, 2, 0, 0, 0, time.UTC)}
	l := logger.Discard()
	f.eval = New(db, reg, timewindow.NewResolver(0, 0),
		engagement.NewStreakService(db),
		engagement.NewAnalyticsService(db),
		engagement.NewNotificationService(db, l),
		DefaultConfig(), l,
	).WithClock(func() time.Time { return f.now })
	return f
}

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func (f *fixture) user(t *testing.T, tz string) domain.User {
	t.Helper()
	u := domain.User{ID: "u1", Timezone: tz, CreatedAt: time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)}
	if err := f.db.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("UpsertUser() error: %v", err)
	}
	return u
}

func (f *fixture) habit(t *testing.T, h domain.Habit) domain.Habit {
	t.Helper()
	if h.ID == "" {
		h.ID = "h1"
	}
	h.UserID = "u1"
	if h.HabitType == "" {
		h.HabitType = "gym"
	}
	if h.Cadence == "" {
		h.Cadence = domain.CadenceDaily
	}
	if h.PenaltyAmount.IsZero() {
		h.PenaltyAmount = decimal.NewFromInt(5)
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	h.IsActive = true
	if err := f.db.UpsertHabit(context.Background(), h); err != nil {
		t.Fatalf("UpsertHabit() error: %v", err)
	}
	return h
}

func (f *fixture) verify(t *testing.T, habitID string, at time.Time) {
	t.Helper()
	if _, err := f.eval.RecordVerification(context.Background(), domain.Verification{
		HabitID: habitID, Status: domain.VerificationApproved, VerifiedAt: at,
	}); err != nil {
		t.Fatalf("RecordVerification() error: %v", err)
	}
}

func day(h domain.Habit, tz string, d civil.Date) domain.Period {
	p, _ := PeriodEnding(h, tz, d)
	return p
}

func (f *fixture) penalties(t *testing.T, habitID string) []domain.Penalty {
	t.Helper()
	ps, err := f.db.ListPenaltiesByHabit(context.Background(), habitID)
	if err != nil {
		t.Fatalf("ListPenaltiesByHabit() error: %v", err)
	}
	return ps
}

// ═══════════════════════════════════════════════════════════════════════════
// Core properties
// ═══════════════════════════════════════════════════════════════════════════

func TestEvaluatePeriod_IdempotentPenalty(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "UTC")
	h := f.habit(t, domain.Habit{RecipientID: "r1", Streak: 4})
	ctx := context.Background()
	p := day(h, "UTC", date(2024, 1, 10))

	first, err := f.eval.EvaluatePeriod(ctx, h, u, p)
	if err != nil {
		t.Fatalf("first EvaluatePeriod() error: %v", err)
	}
	if first.State != domain.StateMiss || first.Penalty == nil {
		t.Fatalf("first outcome = %+v, want miss with penalty", first)
	}

	second, err := f.eval.EvaluatePeriod(ctx, h, u, p)
	if err != nil {
		t.Fatalf("second EvaluatePeriod() error: %v", err)
	}
	if !second.Decided || second.Penalty != nil {
		t.Errorf("second outcome = %+v, want already decided", second)
	}

	ps := f.penalties(t, "h1")
	if len(ps) != 1 {
		t.Fatalf("penalties = %d, want 1", len(ps))
	}
	if ps[0].PenaltyDate != date(2024, 1, 10) || !ps[0].Amount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("penalty = %+v", ps[0])
	}

	got, _ := f.db.GetHabit(ctx, "h1")
	if got.Streak != 3 {
		t.Errorf("streak = %d, want 3", got.Streak)
	}
	a, _ := f.db.GetAnalytics(ctx, "h1", "r1")
	if a == nil || a.TotalFailures != 1 || !a.PendingEarnings.Equal(decimal.NewFromInt(5)) {
		t.Errorf("analytics = %+v, want one failure worth 5", a)
	}
	notes, _ := f.db.ListPendingNotifications(ctx, 10)
	if len(notes) != 2 {
		t.Errorf("notifications = %d, want owner + recipient", len(notes))
	}
}

func TestEvaluatePeriod_GracePeriod(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "UTC")
	h := f.habit(t, domain.Habit{CreatedAt: time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC)})

	out, err := f.eval.EvaluatePeriod(context.Background(), h, u, day(h, "UTC", date(2024, 1, 10)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateSkippedGrace {
		t.Errorf("state = %s, want %s", out.State, domain.StateSkippedGrace)
	}
	if n := len(f.penalties(t, "h1")); n != 0 {
		t.Errorf("penalties = %d, want 0", n)
	}
}

func TestEvaluatePeriod_LocalDayBoundary(t *testing.T) {
	f := newFixture(t)
	tz := "America/Los_Angeles"
	u := f.user(t, tz)
	h := f.habit(t, domain.Habit{})
	ctx := context.Background()

	// 22:30 local on the 10th.
	f.verify(t, "h1", time.Date(2024, 1, 11, 6, 30, 0, 0, time.UTC))

	out, err := f.eval.EvaluatePeriod(ctx, h, u, day(h, tz, date(2024, 1, 10)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateHit {
		t.Errorf("10th = %s, want hit", out.State)
	}

	f.now = time.Date(2024, 1, 12, 10, 0, 0, 0, time.UTC)
	out, err = f.eval.EvaluatePeriod(ctx, h, u, day(h, tz, date(2024, 1, 11)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateMiss {
		t.Errorf("11th = %s, want miss", out.State)
	}
}

func TestEvaluatePeriod_NotRequiredWeekday(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "UTC")
	h := f.habit(t, domain.Habit{Weekdays: []time.Weekday{time.Monday}})

	// 2024-01-10 is a Wednesday.
	out, err := f.eval.EvaluatePeriod(context.Background(), h, u, day(h, "UTC", date(2024, 1, 10)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateSkippedNotRequired {
		t.Errorf("state = %s, want %s", out.State, domain.StateSkippedNotRequired)
	}
}

func TestEvaluatePeriod_WeeklyBoundary(t *testing.T) {
	tests := []struct {
		name        string
		completions int
		wantState   domain.EvaluationState
		wantAmount  string
	}{
		{"two of three", 2, domain.StateMiss, "5"},
		{"three of three", 3, domain.StateHit, ""},
		{"none of three", 0, domain.StateMiss, "15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			u := f.user(t, "UTC")
			h := f.habit(t, domain.Habit{
				Cadence: domain.CadenceWeekly, WeeklyTarget: 3, WeekStart: time.Monday, RecipientID: "r1",
			})
			for i := 0; i < tt.completions; i++ {
				f.verify(t, "h1", time.Date(2024, 1, 9+i, 18, 0, 0, 0, time.UTC))
			}

			p, ok := PeriodEnding(h, "UTC", date(2024, 1, 14))
			if !ok || p.Start != date(2024, 1, 8) {
				t.Fatalf("PeriodEnding() = %+v, %v", p, ok)
			}
			f.now = time.Date(2024, 1, 15, 1, 30, 0, 0, time.UTC)
			out, err := f.eval.EvaluatePeriod(context.Background(), h, u, p)
			if err != nil {
				t.Fatalf("EvaluatePeriod() error: %v", err)
			}
			if out.State != tt.wantState {
				t.Errorf("state = %s, want %s", out.State, tt.wantState)
			}

			ps := f.penalties(t, "h1")
			a, _ := f.db.GetAnalytics(context.Background(), "h1", "r1")
			if tt.wantAmount == "" {
				if len(ps) != 0 {
					t.Errorf("penalties = %d, want 0", len(ps))
				}
				if a == nil || a.TotalCompletions != 1 {
					t.Errorf("analytics = %+v, want one success", a)
				}
				return
			}
			if len(ps) != 1 {
				t.Fatalf("penalties = %d, want 1", len(ps))
			}
			if !ps[0].Amount.Equal(decimal.RequireFromString(tt.wantAmount)) {
				t.Errorf("amount = %s, want %s", ps[0].Amount, tt.wantAmount)
			}
			if ps[0].PenaltyDate != date(2024, 1, 14) {
				t.Errorf("penalty date = %s, want week end", ps[0].PenaltyDate)
			}
		})
	}
}

func TestEvaluatePeriod_WeeklyMidWeekIsNotAPeriodEnd(t *testing.T) {
	h := domain.Habit{Cadence: domain.CadenceWeekly, WeeklyTarget: 3, WeekStart: time.Monday}
	if _, ok := PeriodEnding(h, "UTC", date(2024, 1, 10)); ok {
		t.Error("Wednesday should not end a Monday-start week")
	}
}

func TestEvaluatePeriod_GamingOverage(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "UTC")
	h := f.habit(t, domain.Habit{HabitType: "gaming", Target: 2, PenaltyAmount: decimal.NewFromInt(10)})
	ctx := context.Background()

	for _, m := range []float64{120, 90} {
		if err := f.db.InsertGamingSession(ctx, domain.GamingSession{
			UserID: "u1", StartedAt: time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC), Minutes: m,
		}); err != nil {
			t.Fatal(err)
		}
	}

	out, err := f.eval.EvaluatePeriod(ctx, h, u, day(h, "UTC", date(2024, 1, 10)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateMiss || out.Penalty == nil {
		t.Fatalf("outcome = %+v, want miss", out)
	}
	if !out.Penalty.Amount.Equal(decimal.NewFromInt(15)) {
		t.Errorf("amount = %s, want 15", out.Penalty.Amount)
	}
	if out.Penalty.ReasonClass != domain.ReasonOverage {
		t.Errorf("reason class = %s, want overage", out.Penalty.ReasonClass)
	}
}

func TestGamingPenalty(t *testing.T) {
	tests := []struct {
		rate   string
		limit  float64
		played float64
		want   string
	}{
		{"10", 2, 210, "15"},
		{"10", 2, 120, "0"},
		{"10", 2, 30, "0"},
		{"10", 2, 121, "0.17"},
		{"7.50", 1, 80, "2.5"},
		{"3", 0, 45, "2.25"},
	}
	for _, tt := range tests {
		got := GamingPenalty(decimal.RequireFromString(tt.rate), tt.limit, tt.played)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("GamingPenalty(%s, %g, %g) = %s, want %s", tt.rate, tt.limit, tt.played, got, tt.want)
		}
		if got.IsNegative() {
			t.Errorf("GamingPenalty(%s, %g, %g) is negative", tt.rate, tt.limit, tt.played)
		}
	}
}

func TestEvaluatePeriod_CommitShortfall(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(domain.KindGitHub, activity.CounterFunc(func(ctx context.Context, s activity.Subject, w timewindow.Window) (activity.Result, error) {
		return activity.Counted(1, 1), nil
	}))
	u := f.user(t, "UTC")
	h := f.habit(t, domain.Habit{HabitType: domain.TypeGitHubCommits, Target: 3, PenaltyAmount: decimal.NewFromInt(2)})

	out, err := f.eval.EvaluatePeriod(context.Background(), h, u, day(h, "UTC", date(2024, 1, 10)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.Penalty == nil || !out.Penalty.Amount.Equal(decimal.NewFromInt(4)) {
		t.Errorf("outcome = %+v, want penalty of 4", out)
	}
}

func TestEvaluatePeriod_HealthTarget(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "UTC")
	h := f.habit(t, domain.Habit{HabitType: "health_steps", Metric: "steps", Target: 8000})
	ctx := context.Background()
	f.db.InsertHealthSample(ctx, domain.HealthSample{
		UserID: "u1", Metric: "steps", Value: 9000, RecordedAt: time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC),
	})

	out, err := f.eval.EvaluatePeriod(ctx, h, u, day(h, "UTC", date(2024, 1, 10)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateHit {
		t.Errorf("state = %s, want hit", out.State)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Unavailable sources
// ═══════════════════════════════════════════════════════════════════════════

func TestEvaluatePeriod_NotLinkedSkips(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(domain.KindLeetCode, activity.CounterFunc(func(ctx context.Context, s activity.Subject, w timewindow.Window) (activity.Result, error) {
		return activity.Unavailable(activity.ReasonNotLinked, "no username"), nil
	}))
	u := f.user(t, "UTC")
	h := f.habit(t, domain.Habit{HabitType: domain.TypeLeetCode, Target: 1})

	f.now = time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	out, err := f.eval.EvaluatePeriod(context.Background(), h, u, day(h, "UTC", date(2024, 1, 10)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateSkippedUnlinked {
		t.Errorf("state = %s, want %s", out.State, domain.StateSkippedUnlinked)
	}
	if n := len(f.penalties(t, "h1")); n != 0 {
		t.Errorf("penalties = %d, want 0", n)
	}
}

func TestEvaluatePeriod_SourceErrorDefersThenUnverified(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(domain.KindGitHub, activity.CounterFunc(func(ctx context.Context, s activity.Subject, w timewindow.Window) (activity.Result, error) {
		return activity.Unavailable(activity.ReasonSourceError, "502"), nil
	}))
	u := f.user(t, "UTC")
	h := f.habit(t, domain.Habit{HabitType: domain.TypeGitHubCommits, Target: 1})
	ctx := context.Background()
	p := day(h, "UTC", date(2024, 1, 10))

	f.now = time.Date(2024, 1, 11, 2, 0, 0, 0, time.UTC)
	out, err := f.eval.EvaluatePeriod(ctx, h, u, p)
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateDeferred {
		t.Fatalf("state = %s, want %s", out.State, domain.StateDeferred)
	}
	if e, _ := f.db.GetEvaluation(ctx, "h1", p.Start); e != nil {
		t.Fatalf("deferred period was recorded: %+v", e)
	}

	f.now = time.Date(2024, 1, 13, 1, 0, 0, 0, time.UTC)
	out, err = f.eval.EvaluatePeriod(ctx, h, u, p)
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateMiss || out.Penalty == nil {
		t.Fatalf("outcome = %+v, want unverified miss", out)
	}
	if out.Penalty.ReasonClass != domain.ReasonUnverified {
		t.Errorf("reason class = %s, want %s", out.Penalty.ReasonClass, domain.ReasonUnverified)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// One-time habits
// ═══════════════════════════════════════════════════════════════════════════

func TestEvaluatePeriod_OneTime(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "UTC")
	done := f.habit(t, domain.Habit{ID: "done", Cadence: domain.CadenceOneTime, DueDate: date(2024, 1, 10)})
	late := f.habit(t, domain.Habit{ID: "late", Cadence: domain.CadenceOneTime, DueDate: date(2024, 1, 10)})
	ctx := context.Background()

	f.verify(t, "done", time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC))

	out, err := f.eval.EvaluatePeriod(ctx, done, u, day(done, "UTC", date(2024, 1, 10)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateHit {
		t.Errorf("completed habit = %s, want hit", out.State)
	}

	out, err = f.eval.EvaluatePeriod(ctx, late, u, day(late, "UTC", date(2024, 1, 10)))
	if err != nil {
		t.Fatalf("EvaluatePeriod() error: %v", err)
	}
	if out.State != domain.StateMiss {
		t.Errorf("incomplete habit = %s, want miss", out.State)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Passes and intake
// ═══════════════════════════════════════════════════════════════════════════

func TestRunDue_CatchesUpAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "UTC")
	f.habit(t, domain.Habit{})
	ctx := context.Background()

	sum, err := f.eval.RunDue(ctx, u, f.now)
	if err != nil {
		t.Fatalf("RunDue() error: %v", err)
	}
	// Closed days at 02:00 on the 12th: 9th, 10th, 11th.
	if sum.Misses != 3 || len(sum.Penalties) != 3 {
		t.Errorf("summary = %+v, want 3 misses", sum)
	}

	sum, err = f.eval.RunDue(ctx, u, f.now)
	if err != nil {
		t.Fatalf("RunDue() error: %v", err)
	}
	if sum.Evaluated != 0 {
		t.Errorf("second pass evaluated %d periods, want 0", sum.Evaluated)
	}
	if n := len(f.penalties(t, "h1")); n != 3 {
		t.Errorf("penalties = %d, want 3", n)
	}
}

func TestRunDue_WaitsForBoundaryHour(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "UTC")
	f.habit(t, domain.Habit{CreatedAt: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)})

	// 00:30 on the 12th: the 11th has not closed yet.
	sum, err := f.eval.RunDue(context.Background(), u, time.Date(2024, 1, 12, 0, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunDue() error: %v", err)
	}
	if sum.Misses != 0 {
		t.Errorf("misses = %d, want 0", sum.Misses)
	}
}

func TestRecordVerification_StreakOncePerLocalDay(t *testing.T) {
	f := newFixture(t)
	f.user(t, "UTC")
	f.habit(t, domain.Habit{})

	f.verify(t, "h1", time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC))
	f.verify(t, "h1", time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC))
	f.verify(t, "h1", time.Date(2024, 1, 11, 8, 0, 0, 0, time.UTC))

	h, _ := f.db.GetHabit(context.Background(), "h1")
	if h.Streak != 2 {
		t.Errorf("streak = %d, want 2", h.Streak)
	}
}

func TestRecordVerification_RejectedDoesNotCount(t *testing.T) {
	f := newFixture(t)
	f.user(t, "UTC")
	f.habit(t, domain.Habit{Cadence: domain.CadenceWeekly, WeeklyTarget: 2, WeekStart: time.Monday})
	ctx := context.Background()

	_, err := f.eval.RecordVerification(ctx, domain.Verification{
		HabitID: "h1", Status: domain.VerificationRejected, VerifiedAt: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordVerification() error: %v", err)
	}
	p, _ := f.db.GetWeeklyProgress(ctx, "h1", date(2024, 1, 8))
	if p != nil {
		t.Errorf("weekly progress = %+v, want none", p)
	}
}

func TestRecordVerification_WaitsForUserLock(t *testing.T) {
	f := newFixture(t)
	f.user(t, "UTC")
	f.habit(t, domain.Habit{})
	locks := scheduler.NewKeyedMutex()
	f.eval.WithLocks(locks)

	unlock := locks.Lock("u1")
	done := make(chan error, 1)
	go func() {
		_, err := f.eval.RecordVerification(context.Background(), domain.Verification{
			HabitID: "h1", Status: domain.VerificationApproved, VerifiedAt: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC),
		})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("RecordVerification() returned %v while the user was locked", err)
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	if err := <-done; err != nil {
		t.Fatalf("RecordVerification() error: %v", err)
	}
	if h, _ := f.db.GetHabit(context.Background(), "h1"); h.Streak != 1 {
		t.Errorf("streak = %d, want 1", h.Streak)
	}
}

func TestEvaluatePeriod_BeforeConfigFromSkips(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "UTC")
	h := f.habit(t, domain.Habit{ConfigFrom: date(2024, 1, 10)})

	out, err := f.eval.EvaluatePeriod(context.Background(), h, u, day(h, "UTC", date(2024, 1, 9)))
	if err != nil {
		t.Fatal(err)
	}
	if out.State != domain.StateSkippedNotRequired {
		t.Errorf("state = %s, want skipped before the configuration date", out.State)
	}

	out, err = f.eval.EvaluatePeriod(context.Background(), h, u, day(h, "UTC", date(2024, 1, 10)))
	if err != nil {
		t.Fatal(err)
	}
	if out.State != domain.StateMiss {
		t.Errorf("state on config date = %s, want MISS", out.State)
	}
}
