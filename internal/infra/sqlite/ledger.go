package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/domain"
)

// ─── Payment Ledger ─────────────────────────────────────────────────────────

// InsertLedgerEntries appends matched entries in one transaction, computing
// each running balance from the account's previous row.
func (d *DB) InsertLedgerEntries(ctx context.Context, entries ...domain.LedgerEntry) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			var prev sql.NullInt64
			err := tx.QueryRowContext(ctx,
				`SELECT balance_cents FROM payment_ledger WHERE account = ? ORDER BY id DESC LIMIT 1`,
				e.Account).Scan(&prev)
			if err != nil && err != sql.ErrNoRows {
				return fmt.Errorf("read balance %s: %w", e.Account, err)
			}
			amount := toCents(e.Amount)
			balance := prev.Int64
			if e.EntryType == domain.EntryCredit {
				balance += amount
			} else {
				balance -= amount
			}
			if e.Timestamp.IsZero() {
				e.Timestamp = time.Now()
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO payment_ledger (timestamp, type, entry_type, account, amount_cents, reference, description, balance_cents)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				e.Timestamp.Unix(), string(e.Type), string(e.EntryType), e.Account,
				amount, nullStr(e.Reference), nullStr(e.Description), balance,
			)
			if err != nil {
				return fmt.Errorf("insert ledger entry: %w", err)
			}
		}
		return nil
	})
}

// LedgerBalance returns the current balance for an account.
func (d *DB) LedgerBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	var balance sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		`SELECT balance_cents FROM payment_ledger WHERE account = ? ORDER BY id DESC LIMIT 1`,
		account,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return fromCents(balance.Int64), nil
}

// LedgerEntries returns recent entries for an account.
func (d *DB) LedgerEntries(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, timestamp, type, entry_type, account, amount_cents, reference, description, balance_cents
		 FROM payment_ledger WHERE account = ? ORDER BY id DESC LIMIT ?`,
		account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts, amount, balance int64
		var ref, desc sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.EntryType, &e.Account,
			&amount, &ref, &desc, &balance); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Amount = fromCents(amount)
		e.Balance = fromCents(balance)
		e.Reference = ref.String
		e.Description = desc.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LedgerTotals sums debits and credits across the whole ledger.
func (d *DB) LedgerTotals(ctx context.Context) (debits, credits decimal.Decimal, err error) {
	var dc, cc int64
	err = d.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN entry_type = ? THEN amount_cents END), 0),
			COALESCE(SUM(CASE WHEN entry_type = ? THEN amount_cents END), 0)
		 FROM payment_ledger`,
		string(domain.EntryDebit), string(domain.EntryCredit),
	).Scan(&dc, &cc)
	return fromCents(dc), fromCents(cc), err
}
