package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pledgeloop/pledge/internal/domain"
)

// ─── Staged Habit Changes ───────────────────────────────────────────────────

const stagedColumns = `id, habit_id, user_id, change_type, old_habit_data, new_habit_data,
	effective_date, user_timezone, applied, created_at, applied_at`

// InsertStagedChange stores a deferred edit. Habit snapshots are JSON.
func (d *DB) InsertStagedChange(ctx context.Context, c domain.StagedHabitChange) (domain.StagedHabitChange, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	oldData, err := json.Marshal(c.OldHabit)
	if err != nil {
		return c, fmt.Errorf("encode old habit: %w", err)
	}
	var newData sql.NullString
	if c.NewHabit != nil {
		b, err := json.Marshal(c.NewHabit)
		if err != nil {
			return c, fmt.Errorf("encode new habit: %w", err)
		}
		newData = sql.NullString{String: string(b), Valid: true}
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO staged_changes (`+stagedColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.HabitID, c.UserID, string(c.ChangeType), string(oldData), newData,
		c.EffectiveDate.String(), c.UserTimezone, c.Applied, c.CreatedAt.Unix(), nullableUnix(c.AppliedAt),
	)
	if err != nil {
		return c, fmt.Errorf("insert staged change: %w", err)
	}
	return c, nil
}

// PendingChangeForHabit returns the unapplied change for a habit, or nil, nil.
func (d *DB) PendingChangeForHabit(ctx context.Context, habitID string) (*domain.StagedHabitChange, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+stagedColumns+` FROM staged_changes WHERE habit_id = ? AND applied = 0
		 ORDER BY created_at DESC LIMIT 1`, habitID)
	return scanStaged(row)
}

// ListUnappliedChanges returns every change not yet applied, oldest first.
// Callers decide per user timezone whether each is due.
func (d *DB) ListUnappliedChanges(ctx context.Context) ([]domain.StagedHabitChange, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+stagedColumns+` FROM staged_changes WHERE applied = 0 ORDER BY effective_date, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StagedHabitChange
	for rows.Next() {
		c, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// MarkChangeApplied flags a change applied. Returns
// domain.ErrStagedChangeApplied if another pass got there first.
func (d *DB) MarkChangeApplied(ctx context.Context, id string, at time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE staged_changes SET applied = 1, applied_at = ? WHERE id = ? AND applied = 0`,
		at.Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrStagedChangeApplied
	}
	return nil
}

func scanStaged(s scanner) (*domain.StagedHabitChange, error) {
	var c domain.StagedHabitChange
	var changeType, oldData, effective string
	var newData sql.NullString
	var createdAt int64
	var appliedAt sql.NullInt64

	err := s.Scan(&c.ID, &c.HabitID, &c.UserID, &changeType, &oldData, &newData,
		&effective, &c.UserTimezone, &c.Applied, &createdAt, &appliedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan staged change: %w", err)
	}

	c.ChangeType = domain.ChangeType(changeType)
	if err := json.Unmarshal([]byte(oldData), &c.OldHabit); err != nil {
		return nil, fmt.Errorf("decode old habit: %w", err)
	}
	if newData.Valid {
		var h domain.Habit
		if err := json.Unmarshal([]byte(newData.String), &h); err != nil {
			return nil, fmt.Errorf("decode new habit: %w", err)
		}
		c.NewHabit = &h
	}
	if c.EffectiveDate, err = parseDate(effective); err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.AppliedAt = fromNullUnix(appliedAt)
	return &c, nil
}
