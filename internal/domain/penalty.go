package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// PaymentStatus mirrors the provider-side state of the charge a penalty
// belongs to. The empty value means no charge was ever attempted.
type PaymentStatus string

const (
	PaymentNone           PaymentStatus = ""
	PaymentProcessing     PaymentStatus = "processing"
	PaymentSucceeded      PaymentStatus = "succeeded"
	PaymentFailed         PaymentStatus = "failed"
	PaymentCanceled       PaymentStatus = "canceled"
	PaymentRequiresAction PaymentStatus = "requires_action"
)

// ReasonClass is the penalty category used by the uniqueness guard.
type ReasonClass string

const (
	ReasonMissed     ReasonClass = "missed"
	ReasonUnverified ReasonClass = "unverified"
	ReasonOverage    ReasonClass = "overage"
)

// Penalty is money owed because a habit period was missed.
// At most one exists per (habit, penalty date, reason class).
type Penalty struct {
	ID              string          `json:"id"`
	HabitID         string          `json:"habit_id"`
	UserID          string          `json:"user_id"`
	RecipientID     string          `json:"recipient_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	PenaltyDate     civil.Date      `json:"penalty_date"`
	ReasonClass     ReasonClass     `json:"reason_class"`
	Reason          string          `json:"reason"`
	IsPaid          bool            `json:"is_paid"`
	PaymentStatus   PaymentStatus   `json:"payment_status,omitempty"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	TransferID      string          `json:"transfer_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SettlementState is the charge-then-transfer lifecycle of one penalty.
type SettlementState string

const (
	SettlementUnpaid          SettlementState = "UNPAID"
	SettlementProcessing      SettlementState = "CHARGE_PROCESSING"
	SettlementSucceeded       SettlementState = "CHARGE_SUCCEEDED"
	SettlementTransferCreated SettlementState = "TRANSFER_CREATED"
	SettlementFailed          SettlementState = "CHARGE_FAILED"
	SettlementCanceled        SettlementState = "CHARGE_CANCELED"
)

// SettlementState derives the lifecycle state from the stored columns.
func (p Penalty) SettlementState() SettlementState {
	switch {
	case p.IsPaid && p.TransferID != "" && !p.TransferClaimed():
		return SettlementTransferCreated
	case p.IsPaid:
		return SettlementSucceeded
	case p.PaymentIntentID != "":
		return SettlementProcessing
	case p.PaymentStatus == PaymentFailed:
		return SettlementFailed
	case p.PaymentStatus == PaymentCanceled:
		return SettlementCanceled
	default:
		return SettlementUnpaid
	}
}

// TransferClaimPrefix marks a penalty reserved by a payout the provider has
// not confirmed yet. The rest of the claim is the payout's idempotency key.
const TransferClaimPrefix = "pending:"

// TransferClaimed reports whether a payout is in flight for the penalty.
func (p Penalty) TransferClaimed() bool {
	return strings.HasPrefix(p.TransferID, TransferClaimPrefix)
}

// Chargeable reports whether the penalty may be included in a new charge.
func (p Penalty) Chargeable() bool {
	switch p.SettlementState() {
	case SettlementUnpaid, SettlementFailed, SettlementCanceled:
		return true
	}
	return false
}

// AwaitingTransfer reports whether the penalty is paid but not yet paid out.
func (p Penalty) AwaitingTransfer() bool {
	return p.SettlementState() == SettlementSucceeded && p.RecipientID != ""
}

// RecipientAnalytics is the running, additive view a recipient sees for one
// habit they are attached to.
type RecipientAnalytics struct {
	HabitID              string          `json:"habit_id"`
	RecipientID          string          `json:"recipient_id"`
	TotalEarned          decimal.Decimal `json:"total_earned"`
	PendingEarnings      decimal.Decimal `json:"pending_earnings"`
	TotalCompletions     int             `json:"total_completions"`
	TotalFailures        int             `json:"total_failures"`
	TotalRequiredDays    int             `json:"total_required_days"`
	SuccessRate          float64         `json:"success_rate"`
	FirstRecipientDate   time.Time       `json:"first_recipient_date"`
	LastVerificationDate time.Time       `json:"last_verification_date,omitzero"`
	LastPenaltyDate      civil.Date      `json:"last_penalty_date,omitzero"`
}

// ComputeSuccessRate returns completions as a percentage of judged periods.
func ComputeSuccessRate(completions, failures int) float64 {
	total := completions + failures
	if total == 0 {
		return 0
	}
	return float64(completions) / float64(total) * 100
}
