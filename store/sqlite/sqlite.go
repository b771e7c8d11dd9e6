/*
Package sqlite provides a SQLite-backed implementation of portal.Repository.

PURPOSE:
  Persists organizations, balances, programs, vouchers, discount codes,
  the program-ticket ledger and bookings. The same SQL runs on PostgreSQL
  with minor dialect changes (upsert syntax is shared).

KEY TABLES:
  organizations:               Training fund and PO flag
  program_balances:            One row per (organization, program), CHECK balance >= 0
  programs:                    Unit price and offer JSON
  vouchers:                    Remaining value, status, expiry
  discount_codes:              Code rules and global usage
  discount_code_usages:        Per-organization usage for org-restricted codes
  program_ticket_transactions: Append-only ledger (only cancellation counters change)
  bookings:                    One row per attendee
  events, admins:              Read-only collaborator tables

CONCURRENCY:
  The pool is limited to a single connection, so every WithTx is
  serialized by the driver. On top of that, balance writes are
  conditional updates (see portal/store.go), so the same code stays
  correct on a multi-connection database.

TIME FORMAT:
  Timestamps are stored as fixed-width UTC text (timeLayout) so that
  string comparison in SQL orders them correctly.

USAGE:
  store, err := sqlite.New("./data/portal.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - portal/store.go: Interface definition
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/member-portal/portal"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements portal.Repository using SQLite.
type Store struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

var _ portal.Repository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes transactions and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		crm_id TEXT,
		training_fund_balance TEXT NOT NULL DEFAULT '0',
		purchase_order_enabled INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Balances live in their own table so a decrement is one conditional UPDATE
	CREATE TABLE IF NOT EXISTS program_balances (
		organization_id TEXT NOT NULL,
		program TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		PRIMARY KEY (organization_id, program)
	);

	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		tag TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		offer_json TEXT
	);

	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		remaining_value TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vouchers_org
		ON vouchers(organization_id);
	CREATE INDEX IF NOT EXISTS idx_vouchers_status_expiry
		ON vouchers(status, expires_at);

	CREATE TABLE IF NOT EXISTS discount_codes (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		discount_type TEXT NOT NULL,
		value TEXT NOT NULL,
		program_tag TEXT,
		organization_id TEXT,
		min_purchase TEXT NOT NULL DEFAULT '0',
		max_usage INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		expires_at TEXT
	);

	CREATE TABLE IF NOT EXISTS discount_code_usages (
		code_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (code_id, organization_id)
	);

	-- Ledger: rows are never deleted; only purchase counters and notes change
	CREATE TABLE IF NOT EXISTS program_ticket_transactions (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		program_name TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		value TEXT NOT NULL DEFAULT '0',
		original_quantity INTEGER NOT NULL DEFAULT 0,
		cancelled_quantity INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		related_transaction_id TEXT,
		booking_reference TEXT,
		actor TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		CHECK (cancelled_quantity <= original_quantity)
	);

	CREATE INDEX IF NOT EXISTS idx_ptt_org_created
		ON program_ticket_transactions(organization_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ptt_related
		ON program_ticket_transactions(related_transaction_id) WHERE related_transaction_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_ptt_booking_reference
		ON program_ticket_transactions(booking_reference) WHERE booking_reference IS NOT NULL;

	-- One row per spent card payment intent
	CREATE TABLE IF NOT EXISTS payment_intents (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		booking_reference TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		email TEXT NOT NULL,
		booking_reference TEXT NOT NULL,
		status TEXT NOT NULL,
		external_reservation_id TEXT,
		voucher_amount TEXT NOT NULL DEFAULT '0',
		training_fund_amount TEXT NOT NULL DEFAULT '0',
		account_amount TEXT NOT NULL DEFAULT '0',
		card_amount TEXT NOT NULL DEFAULT '0',
		confirmation_token TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_reference
		ON bookings(booking_reference);
	CREATE INDEX IF NOT EXISTS idx_bookings_event_email
		ON bookings(event_id, email);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		location TEXT,
		starts_at TEXT,
		external_event_id TEXT,
		ticket_class_id TEXT,
		price TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS admins (
		email TEXT PRIMARY KEY COLLATE NOCASE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. Nested calls on the
// transaction-bound store reuse the open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(portal.Repository) error) error {
	if s.inTx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, inTx: true}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
