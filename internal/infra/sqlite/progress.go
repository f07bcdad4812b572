package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/pledgeloop/pledge/internal/domain"
)

// ─── Weekly Progress ────────────────────────────────────────────────────────

// IncrementWeeklyProgress adds one completion to the habit-week, creating
// the row with the given target on first use.
func (d *DB) IncrementWeeklyProgress(ctx context.Context, habitID string, weekStart civil.Date, target int) (domain.WeeklyProgress, error) {
	var p domain.WeeklyProgress
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO weekly_progress (habit_id, week_start_date, current_completions, target_completions, is_week_complete)
			 VALUES (?, ?, 1, ?, ?)
			 ON CONFLICT(habit_id, week_start_date) DO UPDATE SET
				current_completions = current_completions + 1,
				is_week_complete = (current_completions + 1 >= target_completions)`,
			habitID, weekStart.String(), target, target <= 1,
		)
		if err != nil {
			return fmt.Errorf("upsert weekly progress: %w", err)
		}
		got, err := getWeeklyProgress(ctx, tx, habitID, weekStart)
		if err != nil {
			return err
		}
		p = *got
		return nil
	})
	return p, err
}

// GetWeeklyProgress returns the habit-week row, or nil, nil if none.
func (d *DB) GetWeeklyProgress(ctx context.Context, habitID string, weekStart civil.Date) (*domain.WeeklyProgress, error) {
	return getWeeklyProgress(ctx, d.db, habitID, weekStart)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getWeeklyProgress(ctx context.Context, q queryRower, habitID string, weekStart civil.Date) (*domain.WeeklyProgress, error) {
	p := domain.WeeklyProgress{HabitID: habitID, WeekStart: weekStart}
	err := q.QueryRowContext(ctx,
		`SELECT current_completions, target_completions, is_week_complete
		 FROM weekly_progress WHERE habit_id = ? AND week_start_date = ?`,
		habitID, weekStart.String(),
	).Scan(&p.CurrentCompletions, &p.TargetCompletions, &p.IsWeekComplete)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan weekly progress: %w", err)
	}
	return &p, nil
}

// ─── Evaluations ────────────────────────────────────────────────────────────

// GetEvaluation returns the decided outcome for a period, or nil, nil.
func (d *DB) GetEvaluation(ctx context.Context, habitID string, periodStart civil.Date) (*domain.Evaluation, error) {
	var e domain.Evaluation
	var start, end, outcome string
	var decidedAt int64
	err := d.db.QueryRowContext(ctx,
		`SELECT habit_id, period_start, period_end, outcome, count, quantity, penalty_id, decided_at
		 FROM evaluations WHERE habit_id = ? AND period_start = ?`,
		habitID, periodStart.String(),
	).Scan(&e.HabitID, &start, &end, &outcome, &e.Count, &e.Quantity, &e.PenaltyID, &decidedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan evaluation: %w", err)
	}
	if e.PeriodStart, err = parseDate(start); err != nil {
		return nil, err
	}
	if e.PeriodEnd, err = parseDate(end); err != nil {
		return nil, err
	}
	e.Outcome = domain.EvaluationState(outcome)
	e.DecidedAt = time.Unix(decidedAt, 0).UTC()
	return &e, nil
}

// RecordEvaluation stores a terminal decision. Returns false if the period
// had already been decided; the first decision wins.
func (d *DB) RecordEvaluation(ctx context.Context, e domain.Evaluation) (bool, error) {
	if !e.Outcome.IsTerminal() {
		return false, fmt.Errorf("record evaluation: %s is not terminal", e.Outcome)
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO evaluations (habit_id, period_start, period_end, outcome, count, quantity, penalty_id, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(habit_id, period_start) DO NOTHING`,
		e.HabitID, e.PeriodStart.String(), e.PeriodEnd.String(), string(e.Outcome),
		e.Count, e.Quantity, e.PenaltyID, e.DecidedAt.Unix(),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
