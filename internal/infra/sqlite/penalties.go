package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/pledgeloop/pledge/internal/domain"
)

// ─── Penalty Repository ─────────────────────────────────────────────────────

const penaltyColumns = `id, habit_id, user_id, recipient_id, amount_cents, penalty_date, reason_class,
	reason, is_paid, payment_status, payment_intent_id, transfer_id, created_at`

// PenaltyExists reports whether the (habit, date, reason class) slot is taken.
func (d *DB) PenaltyExists(ctx context.Context, habitID string, date civil.Date, class domain.ReasonClass) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM penalties WHERE habit_id = ? AND penalty_date = ? AND reason_class = ?`,
		habitID, date.String(), string(class),
	).Scan(&n)
	return n > 0, err
}

// InsertPenalty creates a penalty unless one already occupies its
// (habit, date, reason class) slot. Returns domain.ErrPenaltyExists in
// that case; callers treat it as a successful no-op.
func (d *DB) InsertPenalty(ctx context.Context, p domain.Penalty) (domain.Penalty, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO penalties (`+penaltyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(habit_id, penalty_date, reason_class) DO NOTHING`,
		p.ID, p.HabitID, p.UserID, p.RecipientID, toCents(p.Amount), p.PenaltyDate.String(),
		string(p.ReasonClass), p.Reason, p.IsPaid, string(p.PaymentStatus),
		nullStr(p.PaymentIntentID), nullStr(p.TransferID), p.CreatedAt.Unix(),
	)
	if err != nil {
		return p, fmt.Errorf("insert penalty: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p, domain.ErrPenaltyExists
	}
	return p, nil
}

// GetPenalty retrieves a penalty by ID. Returns nil, nil when not found.
func (d *DB) GetPenalty(ctx context.Context, id string) (*domain.Penalty, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+penaltyColumns+` FROM penalties WHERE id = ?`, id)
	return scanPenalty(row)
}

// ListPenaltiesByUser returns a user's most recent penalties.
func (d *DB) ListPenaltiesByUser(ctx context.Context, userID string, limit int) ([]domain.Penalty, error) {
	return d.queryPenalties(ctx,
		`SELECT `+penaltyColumns+` FROM penalties WHERE user_id = ? ORDER BY penalty_date DESC, created_at DESC LIMIT ?`,
		userID, limit)
}

// ListPenaltiesByHabit returns every penalty recorded against a habit.
func (d *DB) ListPenaltiesByHabit(ctx context.Context, habitID string) ([]domain.Penalty, error) {
	return d.queryPenalties(ctx,
		`SELECT `+penaltyColumns+` FROM penalties WHERE habit_id = ? ORDER BY penalty_date`,
		habitID)
}

// ListChargeablePenalties returns unpaid penalties not attached to a live
// charge, ordered by user.
func (d *DB) ListChargeablePenalties(ctx context.Context) ([]domain.Penalty, error) {
	return d.queryPenalties(ctx,
		`SELECT `+penaltyColumns+` FROM penalties
		 WHERE is_paid = 0 AND (payment_intent_id IS NULL OR payment_intent_id = '')
		 ORDER BY user_id, created_at`)
}

// ListProcessingIntents returns each distinct intent with unresolved penalties.
func (d *DB) ListProcessingIntents(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT payment_intent_id FROM penalties
		 WHERE is_paid = 0 AND payment_intent_id IS NOT NULL AND payment_intent_id != ''
		 ORDER BY payment_intent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		intents = append(intents, id)
	}
	return intents, rows.Err()
}

// ListPenaltiesByIntent returns the penalties a charge covers.
func (d *DB) ListPenaltiesByIntent(ctx context.Context, intentID string) ([]domain.Penalty, error) {
	return d.queryPenalties(ctx,
		`SELECT `+penaltyColumns+` FROM penalties WHERE payment_intent_id = ? ORDER BY created_at`,
		intentID)
}

// ListAwaitingTransfer returns paid penalties with a recipient that have
// not been paid out yet, including those held by an unconfirmed claim.
func (d *DB) ListAwaitingTransfer(ctx context.Context) ([]domain.Penalty, error) {
	return d.queryPenalties(ctx,
		`SELECT `+penaltyColumns+` FROM penalties
		 WHERE is_paid = 1 AND payment_status = ? AND recipient_id != ''
		   AND (transfer_id IS NULL OR transfer_id LIKE ?)
		 ORDER BY recipient_id, created_at`,
		string(domain.PaymentSucceeded), domain.TransferClaimPrefix+"%")
}

// AttachIntent tags chargeable penalties with a new charge. Rows already
// attached to another charge or paid are left alone; the number of rows
// tagged is returned.
func (d *DB) AttachIntent(ctx context.Context, ids []string, intentID string, status domain.PaymentStatus) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks, args := inClause(ids)
	args = append([]any{intentID, string(status)}, args...)
	res, err := d.db.ExecContext(ctx,
		`UPDATE penalties SET payment_intent_id = ?, payment_status = ?
		 WHERE is_paid = 0 AND (payment_intent_id IS NULL OR payment_intent_id = '') AND id IN (`+marks+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("attach intent: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkIntentPaid marks every unpaid penalty of a charge as paid.
func (d *DB) MarkIntentPaid(ctx context.Context, intentID string) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE penalties SET is_paid = 1, payment_status = ?
		 WHERE payment_intent_id = ? AND is_paid = 0`,
		string(domain.PaymentSucceeded), intentID)
	if err != nil {
		return 0, fmt.Errorf("mark intent paid: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DetachIntent clears the charge reference from unpaid penalties so a later
// pass can charge them again, recording why the charge ended.
func (d *DB) DetachIntent(ctx context.Context, intentID string, status domain.PaymentStatus) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE penalties SET payment_intent_id = NULL, payment_status = ?
		 WHERE payment_intent_id = ? AND is_paid = 0`,
		string(status), intentID)
	if err != nil {
		return 0, fmt.Errorf("detach intent: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetIntentStatus updates the status of unpaid penalties on a live charge.
func (d *DB) SetIntentStatus(ctx context.Context, intentID string, status domain.PaymentStatus) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE penalties SET payment_status = ? WHERE payment_intent_id = ? AND is_paid = 0`,
		string(status), intentID)
	return err
}

// ClaimForTransfer reserves paid penalties for a payout by writing claim
// into transfer_id. Only rows without a transfer are taken; the number
// claimed is returned so callers can detect a competing pass.
func (d *DB) ClaimForTransfer(ctx context.Context, ids []string, claim string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks, args := inClause(ids)
	args = append([]any{claim}, args...)
	res, err := d.db.ExecContext(ctx,
		`UPDATE penalties SET transfer_id = ? WHERE transfer_id IS NULL AND is_paid = 1 AND id IN (`+marks+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("claim for transfer: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReleaseTransferClaim hands claimed penalties back to the next pass.
func (d *DB) ReleaseTransferClaim(ctx context.Context, claim string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE penalties SET transfer_id = NULL WHERE transfer_id = ?`, claim)
	if err != nil {
		return fmt.Errorf("release transfer claim: %w", err)
	}
	return nil
}

// CompleteTransfer swaps a claim for the provider's transfer id. Returns 0
// when another pass already completed it.
func (d *DB) CompleteTransfer(ctx context.Context, claim, transferID string) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE penalties SET transfer_id = ? WHERE transfer_id = ?`, transferID, claim)
	if err != nil {
		return 0, fmt.Errorf("complete transfer: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (d *DB) queryPenalties(ctx context.Context, query string, args ...any) ([]domain.Penalty, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPenalty(s scanner) (*domain.Penalty, error) {
	var p domain.Penalty
	var cents, createdAt int64
	var date, class, status string
	var intent, transfer sql.NullString

	err := s.Scan(&p.ID, &p.HabitID, &p.UserID, &p.RecipientID, &cents, &date, &class,
		&p.Reason, &p.IsPaid, &status, &intent, &transfer, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan penalty: %w", err)
	}

	p.Amount = fromCents(cents)
	if p.PenaltyDate, err = parseDate(date); err != nil {
		return nil, fmt.Errorf("penalty %s date: %w", p.ID, err)
	}
	p.ReasonClass = domain.ReasonClass(class)
	p.PaymentStatus = domain.PaymentStatus(status)
	p.PaymentIntentID = intent.String
	p.TransferID = transfer.String
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}
