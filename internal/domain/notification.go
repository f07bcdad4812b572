package domain

import "time"

// NotificationKind selects the message template.
type NotificationKind string

const (
	NotifyPenaltyCreated    NotificationKind = "penalty_created"
	NotifyRecipientEarned   NotificationKind = "recipient_earned"
	NotifyChargeSucceeded   NotificationKind = "charge_succeeded"
	NotifyChargeFailed      NotificationKind = "charge_failed"
	NotifyActionRequired    NotificationKind = "payment_action_required"
	NotifyPayoutSent        NotificationKind = "payout_sent"
	NotifyHabitChangeStaged NotificationKind = "habit_change_staged"
)

// Notification is an outbox entry for the push collaborator.
type Notification struct {
	ID        int64             `json:"id"`
	UserID    string            `json:"user_id"`
	Kind      NotificationKind  `json:"kind"`
	Params    map[string]string `json:"params,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Delivered bool              `json:"delivered"`
}
