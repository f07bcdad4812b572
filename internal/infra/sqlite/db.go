// Package sqlite provides SQLite-based persistent storage for pledge.
// Uses WAL mode for concurrent reads and crash-safe writes.
//
// Money is stored as integer cents so additive counters can be updated in a
// single statement; calendar dates are stored as YYYY-MM-DD text and
// instants as unix seconds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/pledge.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "pledge.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// PingContext checks database connectivity within ctx.
func (d *DB) PingContext(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id                 TEXT PRIMARY KEY,
			timezone           TEXT NOT NULL DEFAULT 'UTC',
			customer_ref       TEXT NOT NULL DEFAULT '',
			payment_method_ref TEXT NOT NULL DEFAULT '',
			payout_account_ref TEXT NOT NULL DEFAULT '',
			github_login       TEXT NOT NULL DEFAULT '',
			leetcode_username  TEXT NOT NULL DEFAULT '',
			created_at         INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS habits (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			name           TEXT NOT NULL DEFAULT '',
			habit_type     TEXT NOT NULL,
			cadence        TEXT NOT NULL,
			weekdays       TEXT NOT NULL DEFAULT '',
			weekly_target  INTEGER NOT NULL DEFAULT 0,
			week_start     INTEGER NOT NULL DEFAULT 0,
			due_date       TEXT NOT NULL DEFAULT '',
			target         REAL NOT NULL DEFAULT 0,
			metric         TEXT NOT NULL DEFAULT '',
			penalty_cents  INTEGER NOT NULL,
			recipient_id   TEXT NOT NULL DEFAULT '',
			streak         INTEGER NOT NULL DEFAULT 0 CHECK (streak >= 0),
			is_active      BOOLEAN NOT NULL DEFAULT 1,
			created_at     INTEGER NOT NULL,
			completed_at   INTEGER,
			config_from    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_habits_user ON habits(user_id, is_active)`,

		`CREATE TABLE IF NOT EXISTS verifications (
			id          TEXT PRIMARY KEY,
			habit_id    TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			status      TEXT NOT NULL,
			verified_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verifications_habit ON verifications(habit_id, verified_at)`,

		`CREATE TABLE IF NOT EXISTS gaming_sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			minutes    REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gaming_user ON gaming_sessions(user_id, started_at)`,

		`CREATE TABLE IF NOT EXISTS health_samples (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			metric      TEXT NOT NULL,
			value       REAL NOT NULL,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_user ON health_samples(user_id, metric, recorded_at)`,

		`CREATE TABLE IF NOT EXISTS weekly_progress (
			habit_id            TEXT NOT NULL,
			week_start_date     TEXT NOT NULL,
			current_completions INTEGER NOT NULL DEFAULT 0,
			target_completions  INTEGER NOT NULL,
			is_week_complete    BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (habit_id, week_start_date)
		)`,

		// One decided outcome per (habit, period). Skips are never stored.
		`CREATE TABLE IF NOT EXISTS evaluations (
			habit_id     TEXT NOT NULL,
			period_start TEXT NOT NULL,
			period_end   TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0,
			quantity     REAL NOT NULL DEFAULT 0,
			penalty_id   TEXT NOT NULL DEFAULT '',
			decided_at   INTEGER NOT NULL,
			PRIMARY KEY (habit_id, period_start)
		)`,

		`CREATE TABLE IF NOT EXISTS penalties (
			id                TEXT PRIMARY KEY,
			habit_id          TEXT NOT NULL,
			user_id           TEXT NOT NULL,
			recipient_id      TEXT NOT NULL DEFAULT '',
			amount_cents      INTEGER NOT NULL CHECK (amount_cents > 0),
			penalty_date      TEXT NOT NULL,
			reason_class      TEXT NOT NULL,
			reason            TEXT NOT NULL DEFAULT '',
			is_paid           BOOLEAN NOT NULL DEFAULT 0,
			payment_status    TEXT NOT NULL DEFAULT '',
			payment_intent_id TEXT,
			transfer_id       TEXT,
			created_at        INTEGER NOT NULL,
			UNIQUE (habit_id, penalty_date, reason_class)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_penalties_unpaid ON penalties(is_paid, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_penalties_intent ON penalties(payment_intent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_penalties_transfer ON penalties(is_paid, transfer_id)`,

		`CREATE TABLE IF NOT EXISTS recipient_analytics (
			habit_id               TEXT NOT NULL,
			recipient_id           TEXT NOT NULL,
			total_earned_cents     INTEGER NOT NULL DEFAULT 0,
			pending_earnings_cents INTEGER NOT NULL DEFAULT 0,
			total_completions      INTEGER NOT NULL DEFAULT 0,
			total_failures         INTEGER NOT NULL DEFAULT 0,
			total_required_days    INTEGER NOT NULL DEFAULT 0,
			success_rate           REAL NOT NULL DEFAULT 0,
			first_recipient_date   INTEGER NOT NULL,
			last_verification_date INTEGER,
			last_penalty_date      TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (habit_id, recipient_id)
		)`,

		`CREATE TABLE IF NOT EXISTS staged_changes (
			id             TEXT PRIMARY KEY,
			habit_id       TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			change_type    TEXT NOT NULL,
			old_habit_data TEXT NOT NULL,
			new_habit_data TEXT,
			effective_date TEXT NOT NULL,
			user_timezone  TEXT NOT NULL,
			applied        BOOLEAN NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			applied_at     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_staged_pending ON staged_changes(applied, effective_date)`,

		// Notification outbox for the push collaborator
		`CREATE TABLE IF NOT EXISTS notifications (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			params     TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			delivered  BOOLEAN DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notif_pending ON notifications(delivered, created_at)`,

		// Payment ledger (double-entry bookkeeping)
		`CREATE TABLE IF NOT EXISTS payment_ledger (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     INTEGER NOT NULL,
			type          TEXT NOT NULL,
			entry_type    TEXT NOT NULL,
			account       TEXT NOT NULL,
			amount_cents  INTEGER NOT NULL,
			reference     TEXT,
			description   TEXT,
			balance_cents INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON payment_ledger(account)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func dateStr(d civil.Date) string {
	if d == (civil.Date{}) {
		return ""
	}
	return d.String()
}

func parseDate(s string) (civil.Date, error) {
	if s == "" {
		return civil.Date{}, nil
	}
	return civil.ParseDate(s)
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// inClause returns "?, ?, ?" and the args for a batched IN filter.
func inClause(ids []string) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}
