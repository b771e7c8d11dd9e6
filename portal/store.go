/*
store.go - Persistence interface for the booking core

PURPOSE:
  Defines the boundary between domain logic and the relational store.
  Every read is a point lookup by key; every balance-changing write is a
  conditional update so concurrent requests cannot lose updates.

CONDITIONAL WRITES:
  AdjustProgramBalance:   decrement only if the balance stays >= 0
  DebitTrainingFund:      compare-and-set against the value just read
  ConsumeVoucher:         compare-and-set against the remaining value read
  IncrementDiscountUsage: increment only while usage < max
  UpdateTransactionCounters / UpdateBookingStatus: compare-and-set
  ClaimPaymentIntent:     insert-once; a second claim is a ValidationError

  A lost race surfaces as ErrConcurrentModification or
  InsufficientBalanceError, never as a silently wrong balance.

ATOMIC UNITS:
  WithTx runs fn against a Repository bound to one database transaction.
  Calling WithTx on that bound Repository reuses the same transaction,
  so ledger operations compose into a larger saga step.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
*/
package portal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository is everything the booking core reads and writes.
type Repository interface {
	// Reads
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetProgram(ctx context.Context, tag string) (*Program, error)
	GetEvent(ctx context.Context, id string) (*Event, error)
	GetVouchers(ctx context.Context, ids []string) ([]Voucher, error)
	GetDiscountCode(ctx context.Context, id string) (*DiscountCode, error)
	DiscountUsage(ctx context.Context, codeID, organizationID string) (int, error)
	IsAdmin(ctx context.Context, email string) (bool, error)

	// Balances
	ProgramBalance(ctx context.Context, organizationID, program string) (int, error)
	AdjustProgramBalance(ctx context.Context, organizationID, program string, delta int) (int, error)
	DebitTrainingFund(ctx context.Context, organizationID string, amount decimal.Decimal) (decimal.Decimal, error)
	ConsumeVoucher(ctx context.Context, id string, expectedRemaining, amount decimal.Decimal) (*Voucher, error)
	IncrementDiscountUsage(ctx context.Context, code *DiscountCode, organizationID string) error
	ExpireVouchers(ctx context.Context, now time.Time) (int, error)

	// Ledger (append-only apart from cancellation counters)
	AppendTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	UpdateTransactionCounters(ctx context.Context, id string, expectedCancelled, cancelled int, status TransactionStatus) error
	ListTransactions(ctx context.Context, organizationID string) ([]Transaction, error)
	AnnotateTransaction(ctx context.Context, id, notes string) error

	// Card payments: each payment intent funds at most one purchase or booking
	ClaimPaymentIntent(ctx context.Context, intentID, organizationID, reference string, amount decimal.Decimal) error

	// Bookings
	CreateBookings(ctx context.Context, bookings []Booking) error
	GetBookingByToken(ctx context.Context, token string) (*Booking, error)
	ListBookingsByReference(ctx context.Context, reference string) ([]Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, from, to BookingStatus, externalID string) error

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
