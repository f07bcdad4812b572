package engagement

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
)

// AnalyticsService keeps the per-(habit, recipient) view a recipient sees.
// Habits without a recipient have no analytics; every method is a no-op for
// an empty recipient id.
type AnalyticsService struct {
	db  *sqlite.DB
	now func() time.Time
}

// NewAnalyticsService creates an analytics service.
func NewAnalyticsService(db *sqlite.DB) *AnalyticsService {
	return &AnalyticsService{db: db, now: time.Now}
}

// WithClock overrides the time source (for testing).
func (a *AnalyticsService) WithClock(now func() time.Time) *AnalyticsService {
	a.now = now
	return a
}

// RecordSuccess counts one satisfied period.
func (a *AnalyticsService) RecordSuccess(ctx context.Context, habitID, recipientID string, at time.Time) error {
	if recipientID == "" {
		return nil
	}
	if err := a.db.AddAnalyticsSuccess(ctx, habitID, recipientID, at); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

// RecordFailure counts one missed period and credits its penalty to the
// recipient's earned and pending totals.
func (a *AnalyticsService) RecordFailure(ctx context.Context, habitID, recipientID string, amount decimal.Decimal, date civil.Date) error {
	if recipientID == "" {
		return nil
	}
	if err := a.db.AddAnalyticsFailure(ctx, habitID, recipientID, amount, date, a.now()); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// RecordPayout moves transferred money out of pending earnings.
func (a *AnalyticsService) RecordPayout(ctx context.Context, habitID, recipientID string, amount decimal.Decimal) error {
	if recipientID == "" || !amount.IsPositive() {
		return nil
	}
	if err := a.db.SubtractPendingEarnings(ctx, habitID, recipientID, amount); err != nil {
		return fmt.Errorf("record payout: %w", err)
	}
	return nil
}

// ForHabit returns every recipient row for a habit.
func (a *AnalyticsService) ForHabit(ctx context.Context, habitID string) ([]domain.RecipientAnalytics, error) {
	return a.db.ListAnalyticsByHabit(ctx, habitID)
}
