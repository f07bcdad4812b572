package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
)

// Ledger is the double-entry payment ledger.
// Every money movement creates matched DEBIT/CREDIT entries, so
// SUM(debits) == SUM(credits) is an invariant.
type Ledger struct {
	db *sqlite.DB
}

// NewLedger creates a ledger.
func NewLedger(db *sqlite.DB) *Ledger {
	return &Ledger{db: db}
}

// UserAccount is the ledger account of a paying user.
func UserAccount(userID string) string { return domain.AccountUserPrefix + userID }

// RecipientAccount is the ledger account of a recipient.
func RecipientAccount(recipientID string) string { return domain.AccountRecipient + recipientID }

// RecordCharge books money collected from a user's card.
// DEBIT user, CREDIT platform.
func (l *Ledger) RecordCharge(ctx context.Context, userID string, amount decimal.Decimal, intentID string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("charge amount must be positive, got %s", amount)
	}
	now := time.Now()
	err := l.db.InsertLedgerEntries(ctx,
		domain.LedgerEntry{
			Timestamp:   now,
			Type:        domain.TxCharge,
			EntryType:   domain.EntryDebit,
			Account:     UserAccount(userID),
			Amount:      amount,
			Reference:   intentID,
			Description: "penalty charge",
		},
		domain.LedgerEntry{
			Timestamp:   now,
			Type:        domain.TxCharge,
			EntryType:   domain.EntryCredit,
			Account:     domain.AccountPlatform,
			Amount:      amount,
			Reference:   intentID,
			Description: "penalty charge",
		},
	)
	if err != nil {
		return fmt.Errorf("record charge: %w", err)
	}
	return nil
}

// RecordTransfer books a payout of net out of gross collected penalties.
// DEBIT platform gross, CREDIT recipient net, CREDIT platform_fee the rest.
func (l *Ledger) RecordTransfer(ctx context.Context, recipientID string, gross, net decimal.Decimal, transferID string) error {
	if !net.IsPositive() || net.GreaterThan(gross) {
		return fmt.Errorf("invalid transfer amounts: gross %s, net %s", gross, net)
	}
	now := time.Now()
	entries := []domain.LedgerEntry{
		{
			Timestamp:   now,
			Type:        domain.TxTransfer,
			EntryType:   domain.EntryDebit,
			Account:     domain.AccountPlatform,
			Amount:      gross,
			Reference:   transferID,
			Description: "recipient payout",
		},
		{
			Timestamp:   now,
			Type:        domain.TxTransfer,
			EntryType:   domain.EntryCredit,
			Account:     RecipientAccount(recipientID),
			Amount:      net,
			Reference:   transferID,
			Description: "recipient payout",
		},
	}
	if fee := gross.Sub(net); fee.IsPositive() {
		entries = append(entries, domain.LedgerEntry{
			Timestamp:   now,
			Type:        domain.TxFee,
			EntryType:   domain.EntryCredit,
			Account:     domain.AccountPlatformFee,
			Amount:      fee,
			Reference:   transferID,
			Description: "platform fee",
		})
	}
	if err := l.db.InsertLedgerEntries(ctx, entries...); err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	return nil
}

// Balance returns the current balance of an account.
func (l *Ledger) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	return l.db.LedgerBalance(ctx, account)
}

// History returns recent entries for an account.
func (l *Ledger) History(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	return l.db.LedgerEntries(ctx, account, limit)
}

// Balanced reports whether total debits equal total credits.
func (l *Ledger) Balanced(ctx context.Context) (bool, error) {
	debits, credits, err := l.db.LedgerTotals(ctx)
	if err != nil {
		return false, err
	}
	return debits.Equal(credits), nil
}
