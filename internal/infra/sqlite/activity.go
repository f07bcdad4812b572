package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pledgeloop/pledge/internal/domain"
)

// ─── Activity Logs ──────────────────────────────────────────────────────────
// Windows are half-open: start <= t < end.

// InsertVerification stores a proof submission.
func (d *DB) InsertVerification(ctx context.Context, v domain.Verification) (domain.Verification, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO verifications (id, habit_id, user_id, status, verified_at) VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.HabitID, v.UserID, string(v.Status), v.VerifiedAt.Unix(),
	)
	return v, err
}

// CountSuccessfulVerifications counts approved verifications in [start, end).
func (d *DB) CountSuccessfulVerifications(ctx context.Context, habitID string, start, end time.Time) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verifications
		 WHERE habit_id = ? AND verified_at >= ? AND verified_at < ?
		   AND status IN (?, ?)`,
		habitID, start.Unix(), end.Unix(),
		string(domain.VerificationApproved), string(domain.VerificationAutoApproved),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count verifications: %w", err)
	}
	return n, nil
}

// HasAnyVerification reports whether a habit was ever verified successfully.
func (d *DB) HasAnyVerification(ctx context.Context, habitID string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verifications WHERE habit_id = ? AND status IN (?, ?)`,
		habitID, string(domain.VerificationApproved), string(domain.VerificationAutoApproved),
	).Scan(&n)
	return n > 0, err
}

// InsertGamingSession stores reported play time.
func (d *DB) InsertGamingSession(ctx context.Context, s domain.GamingSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO gaming_sessions (id, user_id, started_at, minutes) VALUES (?, ?, ?, ?)`,
		s.ID, s.UserID, s.StartedAt.Unix(), s.Minutes,
	)
	return err
}

// SumGamingMinutes totals play time that started in [start, end).
func (d *DB) SumGamingMinutes(ctx context.Context, userID string, start, end time.Time) (float64, int, error) {
	var total float64
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(minutes), 0), COUNT(*) FROM gaming_sessions
		 WHERE user_id = ? AND started_at >= ? AND started_at < ?`,
		userID, start.Unix(), end.Unix(),
	).Scan(&total, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("sum gaming minutes: %w", err)
	}
	return total, n, nil
}

// InsertHealthSample stores one reported metric reading.
func (d *DB) InsertHealthSample(ctx context.Context, s domain.HealthSample) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO health_samples (id, user_id, metric, value, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Metric, s.Value, s.RecordedAt.Unix(),
	)
	return err
}

// SumHealthMetric totals a metric recorded in [start, end).
func (d *DB) SumHealthMetric(ctx context.Context, userID, metric string, start, end time.Time) (float64, int, error) {
	var total float64
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(value), 0), COUNT(*) FROM health_samples
		 WHERE user_id = ? AND metric = ? AND recorded_at >= ? AND recorded_at < ?`,
		userID, metric, start.Unix(), end.Unix(),
	).Scan(&total, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("sum health metric: %w", err)
	}
	return total, n, nil
}
