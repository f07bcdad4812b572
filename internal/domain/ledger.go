package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Payment Ledger ─────────────────────────────────────────────────────────
// Every money movement creates matched DEBIT/CREDIT entries, so
// SUM(debits) == SUM(credits) holds per transaction.

// TxType categorizes a ledger transaction.
type TxType string

const (
	TxCharge   TxType = "CHARGE"   // user card → platform
	TxTransfer TxType = "TRANSFER" // platform → recipient
	TxFee      TxType = "FEE"      // platform share retained on a transfer
)

// EntryType is debit or credit in double-entry bookkeeping.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// Ledger accounts. User and recipient accounts are suffixed with the id.
const (
	AccountPlatform    = "platform"
	AccountPlatformFee = "platform_fee"
	AccountUserPrefix  = "user:"
	AccountRecipient   = "recipient:"
)

// LedgerEntry is a single row in the payment ledger.
type LedgerEntry struct {
	ID          int64           `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        TxType          `json:"type"`
	EntryType   EntryType       `json:"entry_type"`
	Account     string          `json:"account"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
	Description string          `json:"description,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
}
