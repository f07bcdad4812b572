package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pledgeloop/pledge/internal/domain"
)

// ─── Notification Outbox ────────────────────────────────────────────────────

// InsertNotification appends a message to the outbox.
func (d *DB) InsertNotification(ctx context.Context, n domain.Notification) (int64, error) {
	params, err := json.Marshal(n.Params)
	if err != nil {
		return 0, fmt.Errorf("encode params: %w", err)
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, kind, params, created_at, delivered) VALUES (?, ?, ?, ?, ?)`,
		n.UserID, string(n.Kind), string(params), n.CreatedAt.Unix(), n.Delivered,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListPendingNotifications returns undelivered messages, oldest first.
func (d *DB) ListPendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, kind, params, created_at, delivered FROM notifications
		 WHERE delivered = 0 ORDER BY created_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var kind, params string
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &params, &createdAt, &n.Delivered); err != nil {
			return nil, err
		}
		n.Kind = domain.NotificationKind(kind)
		n.CreatedAt = time.Unix(createdAt, 0).UTC()
		if err := json.Unmarshal([]byte(params), &n.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationDelivered flags a message as handed to the push service.
func (d *DB) MarkNotificationDelivered(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE notifications SET delivered = 1 WHERE id = ?`, id)
	return err
}

// NotificationCountSince counts messages created for a user since t.
func (d *DB) NotificationCountSince(ctx context.Context, userID string, t time.Time) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND created_at >= ?`,
		userID, t.Unix()).Scan(&n)
	return n, err
}
