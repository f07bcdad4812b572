package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pledgeloop/pledge/internal/domain"
)

// ─── User Repository ────────────────────────────────────────────────────────

// UpsertUser inserts or updates a user record.
func (d *DB) UpsertUser(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (id, timezone, customer_ref, payment_method_ref, payout_account_ref, github_login, leetcode_username, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			timezone=excluded.timezone,
			customer_ref=excluded.customer_ref,
			payment_method_ref=excluded.payment_method_ref,
			payout_account_ref=excluded.payout_account_ref,
			github_login=excluded.github_login,
			leetcode_username=excluded.leetcode_username`,
		u.ID, u.Timezone, u.CustomerRef, u.PaymentMethodRef, u.PayoutAccountRef,
		u.GitHubLogin, u.LeetCodeUsername, u.CreatedAt.Unix(),
	)
	return err
}

// GetUser retrieves a user by ID. Returns nil, nil when not found.
func (d *DB) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, timezone, customer_ref, payment_method_ref, payout_account_ref, github_login, leetcode_username, created_at
		 FROM users WHERE id = ?`, id,
	)
	var u domain.User
	var createdAt int64
	err := row.Scan(&u.ID, &u.Timezone, &u.CustomerRef, &u.PaymentMethodRef,
		&u.PayoutAccountRef, &u.GitHubLogin, &u.LeetCodeUsername, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// ListUsersWithActiveHabits returns owners of at least one active habit.
func (d *DB) ListUsersWithActiveHabits(ctx context.Context) ([]domain.User, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, timezone, customer_ref, payment_method_ref, payout_account_ref, github_login, leetcode_username, created_at
		 FROM users WHERE id IN (SELECT DISTINCT user_id FROM habits WHERE is_active = 1)
		 ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var createdAt int64
		if err := rows.Scan(&u.ID, &u.Timezone, &u.CustomerRef, &u.PaymentMethodRef,
			&u.PayoutAccountRef, &u.GitHubLogin, &u.LeetCodeUsername, &createdAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

// ─── Habit Repository ───────────────────────────────────────────────────────

const habitColumns = `id, user_id, name, habit_type, cadence, weekdays, weekly_target, week_start,
	due_date, target, metric, penalty_cents, recipient_id, streak, is_active, created_at, completed_at, config_from`

// UpsertHabit inserts or replaces a habit's configuration. Streak is only
// written on insert; use SetStreak to change it afterwards.
func (d *DB) UpsertHabit(ctx context.Context, h domain.Habit) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO habits (`+habitColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			habit_type=excluded.habit_type,
			cadence=excluded.cadence,
			weekdays=excluded.weekdays,
			weekly_target=excluded.weekly_target,
			week_start=excluded.week_start,
			due_date=excluded.due_date,
			target=excluded.target,
			metric=excluded.metric,
			penalty_cents=excluded.penalty_cents,
			recipient_id=excluded.recipient_id,
			is_active=excluded.is_active,
			completed_at=excluded.completed_at,
			config_from=excluded.config_from`,
		h.ID, h.UserID, h.Name, h.HabitType, string(h.Cadence), encodeWeekdays(h.Weekdays),
		h.WeeklyTarget, int(h.WeekStart), dateStr(h.DueDate), h.Target, h.Metric,
		toCents(h.PenaltyAmount), h.RecipientID, h.Streak, h.IsActive,
		h.CreatedAt.Unix(), nullableUnix(h.CompletedAt), dateStr(h.ConfigFrom),
	)
	return err
}

// GetHabit retrieves a habit by ID. Returns nil, nil when not found.
func (d *DB) GetHabit(ctx context.Context, id string) (*domain.Habit, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+habitColumns+` FROM habits WHERE id = ?`, id)
	return scanHabit(row)
}

// ListActiveHabits returns a user's active habits.
func (d *DB) ListActiveHabits(ctx context.Context, userID string) ([]domain.Habit, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE user_id = ? AND is_active = 1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var habits []domain.Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		habits = append(habits, *h)
	}
	return habits, rows.Err()
}

// SetStreak overwrites a habit's streak counter.
func (d *DB) SetStreak(ctx context.Context, habitID string, streak int) error {
	if streak < 0 {
		streak = 0
	}
	res, err := d.db.ExecContext(ctx, `UPDATE habits SET streak = ? WHERE id = ?`, streak, habitID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrHabitNotFound
	}
	return nil
}

// MarkHabitCompleted sets completed_at on a one-time habit if unset.
func (d *DB) MarkHabitCompleted(ctx context.Context, habitID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE habits SET completed_at = ? WHERE id = ? AND completed_at IS NULL`,
		at.Unix(), habitID,
	)
	return err
}

// DeactivateHabit soft-deletes a habit. Penalties keep referencing it.
func (d *DB) DeactivateHabit(ctx context.Context, habitID string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE habits SET is_active = 0 WHERE id = ?`, habitID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrHabitNotFound
	}
	return nil
}

func scanHabit(s scanner) (*domain.Habit, error) {
	var h domain.Habit
	var cadence, weekdays, dueDate, configFrom string
	var weekStart int
	var penaltyCents, createdAt int64
	var completedAt sql.NullInt64

	err := s.Scan(&h.ID, &h.UserID, &h.Name, &h.HabitType, &cadence, &weekdays,
		&h.WeeklyTarget, &weekStart, &dueDate, &h.Target, &h.Metric, &penaltyCents,
		&h.RecipientID, &h.Streak, &h.IsActive, &createdAt, &completedAt, &configFrom)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan habit: %w", err)
	}

	h.Cadence = domain.Cadence(cadence)
	h.Weekdays = decodeWeekdays(weekdays)
	h.WeekStart = time.Weekday(weekStart)
	h.PenaltyAmount = fromCents(penaltyCents)
	h.CreatedAt = time.Unix(createdAt, 0).UTC()
	h.CompletedAt = fromNullUnix(completedAt)
	if h.DueDate, err = parseDate(dueDate); err != nil {
		return nil, fmt.Errorf("habit %s due date: %w", h.ID, err)
	}
	if h.ConfigFrom, err = parseDate(configFrom); err != nil {
		return nil, fmt.Errorf("habit %s config date: %w", h.ID, err)
	}
	return &h, nil
}

// encodeWeekdays stores weekdays as "1,3,5".
func encodeWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

// decodeWeekdays drops malformed or out-of-range entries.
func decodeWeekdays(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	var days []time.Weekday
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}
