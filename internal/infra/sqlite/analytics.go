package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/domain"
)

// ─── Recipient Analytics ────────────────────────────────────────────────────
// Every mutation is additive and done in SQL against the current row, so
// no caller ever writes back a value it read earlier.

// AddAnalyticsSuccess counts one satisfied period for (habit, recipient).
func (d *DB) AddAnalyticsSuccess(ctx context.Context, habitID, recipientID string, at time.Time) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recipient_analytics (habit_id, recipient_id, total_completions, total_required_days, first_recipient_date, last_verification_date)
			 VALUES (?, ?, 1, 1, ?, ?)
			 ON CONFLICT(habit_id, recipient_id) DO UPDATE SET
				total_completions = total_completions + 1,
				total_required_days = total_required_days + 1,
				last_verification_date = excluded.last_verification_date`,
			habitID, recipientID, at.Unix(), at.Unix(),
		)
		if err != nil {
			return fmt.Errorf("add analytics success: %w", err)
		}
		return refreshSuccessRate(ctx, tx, habitID, recipientID)
	})
}

// AddAnalyticsFailure counts one missed period and the money it earned the
// recipient.
func (d *DB) AddAnalyticsFailure(ctx context.Context, habitID, recipientID string, amount decimal.Decimal, date civil.Date, at time.Time) error {
	cents := toCents(amount)
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recipient_analytics (habit_id, recipient_id, total_earned_cents, pending_earnings_cents, total_failures, total_required_days, first_recipient_date, last_penalty_date)
			 VALUES (?, ?, ?, ?, 1, 1, ?, ?)
			 ON CONFLICT(habit_id, recipient_id) DO UPDATE SET
				total_earned_cents = total_earned_cents + excluded.total_earned_cents,
				pending_earnings_cents = pending_earnings_cents + excluded.pending_earnings_cents,
				total_failures = total_failures + 1,
				total_required_days = total_required_days + 1,
				last_penalty_date = MAX(last_penalty_date, excluded.last_penalty_date)`,
			habitID, recipientID, cents, cents, at.Unix(), date.String(),
		)
		if err != nil {
			return fmt.Errorf("add analytics failure: %w", err)
		}
		return refreshSuccessRate(ctx, tx, habitID, recipientID)
	})
}

// SubtractPendingEarnings moves paid-out money out of pending, floored at 0.
func (d *DB) SubtractPendingEarnings(ctx context.Context, habitID, recipientID string, amount decimal.Decimal) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE recipient_analytics
		 SET pending_earnings_cents = MAX(pending_earnings_cents - ?, 0)
		 WHERE habit_id = ? AND recipient_id = ?`,
		toCents(amount), habitID, recipientID,
	)
	return err
}

// GetAnalytics returns the row for (habit, recipient), or nil, nil.
func (d *DB) GetAnalytics(ctx context.Context, habitID, recipientID string) (*domain.RecipientAnalytics, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+analyticsColumns+` FROM recipient_analytics WHERE habit_id = ? AND recipient_id = ?`,
		habitID, recipientID)
	return scanAnalytics(row)
}

// ListAnalyticsByHabit returns every recipient row for a habit.
func (d *DB) ListAnalyticsByHabit(ctx context.Context, habitID string) ([]domain.RecipientAnalytics, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+analyticsColumns+` FROM recipient_analytics WHERE habit_id = ? ORDER BY recipient_id`,
		habitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecipientAnalytics
	for rows.Next() {
		a, err := scanAnalytics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

const analyticsColumns = `habit_id, recipient_id, total_earned_cents, pending_earnings_cents, total_completions,
	total_failures, total_required_days, success_rate, first_recipient_date, last_verification_date, last_penalty_date`

func refreshSuccessRate(ctx context.Context, tx *sql.Tx, habitID, recipientID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE recipient_analytics
		 SET success_rate = CASE WHEN total_completions + total_failures = 0 THEN 0
			ELSE CAST(total_completions AS REAL) * 100.0 / (total_completions + total_failures) END
		 WHERE habit_id = ? AND recipient_id = ?`,
		habitID, recipientID)
	if err != nil {
		return fmt.Errorf("refresh success rate: %w", err)
	}
	return nil
}

func scanAnalytics(s scanner) (*domain.RecipientAnalytics, error) {
	var a domain.RecipientAnalytics
	var earned, pending, first int64
	var lastVerification sql.NullInt64
	var lastPenalty string

	err := s.Scan(&a.HabitID, &a.RecipientID, &earned, &pending, &a.TotalCompletions,
		&a.TotalFailures, &a.TotalRequiredDays, &a.SuccessRate, &first, &lastVerification, &lastPenalty)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan analytics: %w", err)
	}
	a.TotalEarned = fromCents(earned)
	a.PendingEarnings = fromCents(pending)
	a.FirstRecipientDate = time.Unix(first, 0).UTC()
	a.LastVerificationDate = fromNullUnix(lastVerification)
	if a.LastPenaltyDate, err = parseDate(lastPenalty); err != nil {
		return nil, err
	}
	return &a, nil
}
