package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure; no infrastructure dependency.

var (
	// Habit errors
	ErrHabitNotFound = errors.New("habit not found")
	ErrInvalidHabit  = errors.New("invalid habit configuration")
	ErrUserNotFound  = errors.New("user not found")

	// Evaluation errors
	ErrPenaltyExists     = errors.New("penalty already exists for this period")
	ErrAccountNotLinked  = errors.New("external account not linked")
	ErrSourceUnavailable = errors.New("activity source unavailable")
	ErrUnknownKind       = errors.New("no activity counter for habit kind")

	// Staged change errors
	ErrStagedChangeApplied = errors.New("staged change already applied")
	ErrChangePending       = errors.New("habit already has a pending change")

	// Settlement errors
	ErrBelowThreshold   = errors.New("amount below minimum threshold")
	ErrNoPaymentMethod  = errors.New("user has no payment method on file")
	ErrNoPayoutAccount  = errors.New("recipient has no payout account")
	ErrProviderRejected = errors.New("payment provider rejected the request")
	ErrTransferInFlight = errors.New("penalties already claimed by another payout")
)
