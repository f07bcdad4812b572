package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest asks the provider to collect Amount from a saved card.
type ChargeRequest struct {
	CustomerRef      string
	PaymentMethodRef string
	Amount           decimal.Decimal
	Currency         string
	IdempotencyKey   string
	Metadata         map[string]string
}

// ChargeResult is the provider's answer to a charge request.
type ChargeResult struct {
	IntentID string
	Status   PaymentStatus
}

// TransferRequest asks the provider to pay out Amount to a connected account.
type TransferRequest struct {
	DestinationRef string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentProvider is the external money-movement collaborator.
type PaymentProvider interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	RetrieveCharge(ctx context.Context, intentID string) (PaymentStatus, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
}

// Cents converts a currency amount to the provider's minor units.
func Cents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
