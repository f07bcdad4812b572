package engagement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/app/engagement"
	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
	"github.com/pledgeloop/pledge/internal/logger"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedHabit(t *testing.T, db *sqlite.DB, streak int) domain.Habit {
	t.Helper()
	h := domain.Habit{
		ID:            "h1",
		UserID:        "u1",
		Name:          "Gym",
		HabitType:     "gym",
		Cadence:       domain.CadenceDaily,
		PenaltyAmount: decimal.RequireFromString("5.00"),
		RecipientID:   "r1",
		Streak:        streak,
		IsActive:      true,
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.UpsertHabit(context.Background(), h); err != nil {
		t.Fatalf("seed habit: %v", err)
	}
	return h
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestStreak_IncrementAndDecrement(t *testing.T) {
	db := testDB(t)
	seedHabit(t, db, 2)
	svc := engagement.NewStreakService(db)
	ctx := context.Background()

	n, err := svc.Increment(ctx, "h1")
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if n != 3 {
		t.Errorf("after increment = %d, want 3", n)
	}

	n, err = svc.Decrement(ctx, "h1")
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if n != 2 {
		t.Errorf("after decrement = %d, want 2", n)
	}

	cur, _ := svc.Current(ctx, "h1")
	if cur != 2 {
		t.Errorf("stored streak = %d, want 2", cur)
	}
}

func TestStreak_FloorsAtZero(t *testing.T) {
	db := testDB(t)
	seedHabit(t, db, 0)
	svc := engagement.NewStreakService(db)

	for i := 0; i < 3; i++ {
		n, err := svc.Decrement(context.Background(), "h1")
		if err != nil {
			t.Fatalf("decrement %d: %v", i, err)
		}
		if n != 0 {
			t.Errorf("decrement %d = %d, want 0", i, n)
		}
	}
}

func TestStreak_Reset(t *testing.T) {
	db := testDB(t)
	seedHabit(t, db, 9)
	svc := engagement.NewStreakService(db)

	if err := svc.Reset(context.Background(), "h1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if cur, _ := svc.Current(context.Background(), "h1"); cur != 0 {
		t.Errorf("streak = %d, want 0", cur)
	}
}

func TestStreak_UnknownHabit(t *testing.T) {
	svc := engagement.NewStreakService(testDB(t))
	_, err := svc.Increment(context.Background(), "nope")
	if !errors.Is(err, domain.ErrHabitNotFound) {
		t.Errorf("error = %v, want ErrHabitNotFound", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Analytics Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestAnalytics_SuccessAndFailureAccumulate(t *testing.T) {
	db := testDB(t)
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	svc := engagement.NewAnalyticsService(db).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := svc.RecordSuccess(ctx, "h1", "r1", now); err != nil {
		t.Fatalf("success: %v", err)
	}
	if err := svc.RecordSuccess(ctx, "h1", "r1", now.Add(24*time.Hour)); err != nil {
		t.Fatalf("success: %v", err)
	}
	if err := svc.RecordFailure(ctx, "h1", "r1", decimal.RequireFromString("6.50"), civil.Date{Year: 2024, Month: 1, Day: 12}); err != nil {
		t.Fatalf("failure: %v", err)
	}

	rows, err := svc.ForHabit(ctx, "h1")
	if err != nil {
		t.Fatalf("for habit: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	a := rows[0]
	if a.TotalCompletions != 2 || a.TotalFailures != 1 || a.TotalRequiredDays != 3 {
		t.Errorf("counts = %d/%d/%d, want 2/1/3", a.TotalCompletions, a.TotalFailures, a.TotalRequiredDays)
	}
	if !a.TotalEarned.Equal(decimal.RequireFromString("6.50")) || !a.PendingEarnings.Equal(a.TotalEarned) {
		t.Errorf("earned = %s pending = %s, want 6.50 each", a.TotalEarned, a.PendingEarnings)
	}
	want := domain.ComputeSuccessRate(2, 1)
	if a.SuccessRate < want-0.001 || a.SuccessRate > want+0.001 {
		t.Errorf("success rate = %f, want %f", a.SuccessRate, want)
	}
}

func TestAnalytics_PayoutFloorsPending(t *testing.T) {
	db := testDB(t)
	svc := engagement.NewAnalyticsService(db)
	ctx := context.Background()

	svc.RecordFailure(ctx, "h1", "r1", decimal.RequireFromString("10"), civil.Date{Year: 2024, Month: 1, Day: 12})
	if err := svc.RecordPayout(ctx, "h1", "r1", decimal.RequireFromString("25")); err != nil {
		t.Fatalf("payout: %v", err)
	}

	a, err := db.GetAnalytics(ctx, "h1", "r1")
	if err != nil || a == nil {
		t.Fatalf("get analytics: %v", err)
	}
	if !a.PendingEarnings.IsZero() {
		t.Errorf("pending = %s, want 0", a.PendingEarnings)
	}
	if !a.TotalEarned.Equal(decimal.NewFromInt(10)) {
		t.Errorf("earned = %s, want 10 (payouts never reduce lifetime earnings)", a.TotalEarned)
	}
}

func TestAnalytics_NoRecipientIsNoop(t *testing.T) {
	db := testDB(t)
	svc := engagement.NewAnalyticsService(db)
	if err := svc.RecordSuccess(context.Background(), "h1", "", time.Now()); err != nil {
		t.Fatalf("success: %v", err)
	}
	rows, _ := svc.ForHabit(context.Background(), "h1")
	if len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Notification Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestNotification_QueuesOutbox(t *testing.T) {
	db := testDB(t)
	svc := engagement.NewNotificationService(db, logger.Discard())
	ctx := context.Background()

	err := svc.Notify(ctx, "u1", domain.NotifyPenaltyCreated, map[string]string{"amount": "5.00"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	pending, err := svc.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Kind != domain.NotifyPenaltyCreated || pending[0].Params["amount"] != "5.00" {
		t.Errorf("notification = %+v", pending[0])
	}

	if err := svc.MarkDelivered(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	pending, _ = svc.Pending(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("pending after delivery = %d, want 0", len(pending))
	}
}

func TestNotification_DailyCap(t *testing.T) {
	db := testDB(t)
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	svc := engagement.NewNotificationService(db, logger.Discard()).
		WithMaxPerDay(2).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		svc.Notify(ctx, "u1", domain.NotifyChargeSucceeded, nil)
	}
	svc.Notify(ctx, "u2", domain.NotifyChargeSucceeded, nil)

	pending, _ := svc.Pending(ctx, 10)
	if len(pending) != 3 {
		t.Errorf("pending = %d, want 3 (2 capped for u1 + 1 for u2)", len(pending))
	}
}

func TestNotification_ImplementsNotifier(t *testing.T) {
	var _ domain.Notifier = engagement.NewNotificationService(testDB(t), nil)
}
