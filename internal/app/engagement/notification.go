package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
)

// DefaultMaxPerDay caps messages per user per rolling day.
const DefaultMaxPerDay = 20

// NotificationService writes user-facing messages to the outbox the push
// collaborator drains. It implements domain.Notifier.
//   - At most MaxPerDay messages per user per rolling 24 hours
//   - Failures are logged and swallowed; they never change a caller's outcome
type NotificationService struct {
	db        *sqlite.DB
	log       *log.Logger
	maxPerDay int
	now       func() time.Time
}

// NewNotificationService creates a notification service with the default cap.
func NewNotificationService(db *sqlite.DB, logger *log.Logger) *NotificationService {
	if logger == nil {
		logger = log.Default()
	}
	return &NotificationService{db: db, log: logger, maxPerDay: DefaultMaxPerDay, now: time.Now}
}

// WithMaxPerDay overrides the daily cap. Zero or less disables it.
func (n *NotificationService) WithMaxPerDay(limit int) *NotificationService {
	n.maxPerDay = limit
	return n
}

// WithClock overrides the time source (for testing).
func (n *NotificationService) WithClock(now func() time.Time) *NotificationService {
	n.now = now
	return n
}

// Notify queues a message. It always returns nil.
func (n *NotificationService) Notify(ctx context.Context, userID string, kind domain.NotificationKind, params map[string]string) error {
	if _, err := n.create(ctx, userID, kind, params); err != nil {
		n.log.Warn("notification dropped", "user", userID, "kind", kind, "err", err)
	}
	return nil
}

// create returns the outbox id, or 0 if the cap suppressed the message.
func (n *NotificationService) create(ctx context.Context, userID string, kind domain.NotificationKind, params map[string]string) (int64, error) {
	if userID == "" {
		return 0, nil
	}
	now := n.now()
	if n.maxPerDay > 0 {
		count, err := n.db.NotificationCountSince(ctx, userID, now.Add(-24*time.Hour))
		if err != nil {
			return 0, fmt.Errorf("count recent: %w", err)
		}
		if count >= n.maxPerDay {
			return 0, nil
		}
	}

	id, err := n.db.InsertNotification(ctx, domain.Notification{
		UserID:    userID,
		Kind:      kind,
		Params:    params,
		CreatedAt: now,
	})
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// Pending returns undelivered messages.
func (n *NotificationService) Pending(ctx context.Context, limit int) ([]domain.Notification, error) {
	return n.db.ListPendingNotifications(ctx, limit)
}

// MarkDelivered flags a message as handed off.
func (n *NotificationService) MarkDelivered(ctx context.Context, id int64) error {
	return n.db.MarkNotificationDelivered(ctx, id)
}
