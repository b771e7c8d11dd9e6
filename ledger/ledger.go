/*
Package ledger owns program-ticket balances and their audit trail.

PURPOSE:
  Every change to an organization's program-ticket balance goes through
  this package, together with the ledger row that explains it. The
  balance change and its row are written in one database transaction.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: a balance never drops below zero, even under
     concurrent usage (the decrement is a conditional update)
  2. APPEND-ONLY: rows are never deleted; the only columns that ever
     change are cancelled_quantity and status of a purchase row
  3. BOUNDED CANCELLATION: 0 <= cancelled_quantity <= original_quantity,
     and status is cancelled exactly when the purchase is fully cancelled
  4. COVERED CANCELLATION: tickets already spent cannot be cancelled; a
     cancellation is capped by the current balance

SIGN CONVENTION:
  Quantities are signed so the sum over an organization's program rows
  equals its balance:
    purchase           +granted
    usage              -used
    cancellation_void  -cancelled
    reinstatement      +reinstated
  Auxiliary rows (voucher, training_fund_usage, account_charge, refund)
  carry a value and a zero quantity.

CORRECTIONS:
  A cancellation is never an edit of history. The purchase row's counters
  move and a cancellation_void row points back at it. Reinstating appends
  a reinstatement row and resets the counters.

SEE ALSO:
  - portal/store.go: Conditional writes this package relies on
  - cancellation/manager.go: Admin-gated entry point for Cancel/Reinstate
*/
package ledger

import (
	"context"
	"log"

	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger applies balance changes and appends their audit rows atomically.
type Ledger struct {
	repo portal.Repository
}

// New creates a ledger. When repo is already bound to a transaction, every
// operation joins that transaction.
func New(repo portal.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Purchase describes tickets granted by a purchase.
type Purchase struct {
	OrganizationID   string
	Program          string
	Granted          int
	Cost             decimal.Decimal
	BookingReference string
	Actor            string
	Notes            string
}

// CancelResult is the outcome of a successful cancellation.
type CancelResult struct {
	Original  *portal.Transaction
	Void      *portal.Transaction
	Cancelled int
	Balance   int
}

// ReinstateResult is the outcome of a successful reinstatement.
type ReinstateResult struct {
	Original      *portal.Transaction
	Reinstatement *portal.Transaction
	Reinstated    int
	Balance       int
}

// CheckAndReserve verifies the organization holds at least quantity tickets.
// It changes nothing; the decrement happens in CommitUsage.
func (l *Ledger) CheckAndReserve(ctx context.Context, organizationID, program string, quantity int) error {
	if quantity < 1 {
		return portal.Invalid("ticketsRequired", "ticket quantity must be at least 1")
	}
	balance, err := l.repo.ProgramBalance(ctx, organizationID, program)
	if err != nil {
		return err
	}
	if balance < quantity {
		return &portal.InsufficientBalanceError{
			Resource:  program,
			Available: decimal.NewFromInt(int64(balance)),
			Requested: decimal.NewFromInt(int64(quantity)),
		}
	}
	return nil
}

// CommitUsage decrements the balance by quantity and appends a usage row.
// Returns the usage row and the new balance.
func (l *Ledger) CommitUsage(ctx context.Context, organizationID, program string, quantity int, bookingRef, actor string) (*portal.Transaction, int, error) {
	if quantity < 1 {
		return nil, 0, portal.Invalid("ticketsRequired", "ticket quantity must be at least 1")
	}

	var (
		row     *portal.Transaction
		balance int
	)
	err := l.repo.WithTx(ctx, func(r portal.Repository) error {
		var err error
		balance, err = r.AdjustProgramBalance(ctx, organizationID, program, -quantity)
		if err != nil {
			return err
		}
		row = &portal.Transaction{
			OrganizationID:   organizationID,
			ProgramName:      program,
			Type:             portal.TxUsage,
			Quantity:         -quantity,
			Value:            decimal.Zero,
			BookingReference: bookingRef,
			Actor:            actor,
		}
		return r.AppendTransaction(ctx, row)
	})
	if err != nil {
		return nil, 0, err
	}

	log.Printf("[Ledger] usage %s: org=%s program=%s qty=%d ref=%s balance=%d",
		row.ID, organizationID, program, quantity, bookingRef, balance)
	return row, balance, nil
}

// CommitPurchase credits the granted tickets and appends a purchase row with
// original = granted, cancelled = 0, status active.
func (l *Ledger) CommitPurchase(ctx context.Context, p Purchase) (*portal.Transaction, int, error) {
	if p.Granted < 1 {
		return nil, 0, portal.Invalid("quantity", "a purchase must grant at least one ticket")
	}
	if p.Cost.IsNegative() {
		return nil, 0, portal.Invalid("cost", "purchase cost cannot be negative")
	}

	var (
		row     *portal.Transaction
		balance int
	)
	err := l.repo.WithTx(ctx, func(r portal.Repository) error {
		var err error
		balance, err = r.AdjustProgramBalance(ctx, p.OrganizationID, p.Program, p.Granted)
		if err != nil {
			return err
		}
		row = &portal.Transaction{
			OrganizationID:   p.OrganizationID,
			ProgramName:      p.Program,
			Type:             portal.TxPurchase,
			Quantity:         p.Granted,
			Value:            portal.Pence(p.Cost),
			OriginalQuantity: p.Granted,
			Status:           portal.TxActive,
			BookingReference: p.BookingReference,
			Actor:            p.Actor,
			Notes:            p.Notes,
		}
		return r.AppendTransaction(ctx, row)
	})
	if err != nil {
		return nil, 0, err
	}

	log.Printf("[Ledger] purchase %s: org=%s program=%s granted=%d cost=%s balance=%d",
		row.ID, p.OrganizationID, p.Program, p.Granted, row.Value.StringFixed(2), balance)
	return row, balance, nil
}

// Cancel voids quantity tickets of a purchase row.
func (l *Ledger) Cancel(ctx context.Context, transactionID string, quantity int, actor string) (*CancelResult, error) {
	if quantity < 1 {
		return nil, portal.Invalid("quantityToCancel", "quantity to cancel must be at least 1")
	}

	var res CancelResult
	err := l.repo.WithTx(ctx, func(r portal.Repository) error {
		original, err := r.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if original.Type != portal.TxPurchase {
			return portal.Invalid("transactionId", "only purchase transactions can be cancelled")
		}
		if original.Status == portal.TxCancelled || original.Uncancelled() <= 0 {
			return portal.Invalid("transactionId", "transaction is already fully cancelled")
		}
		if quantity > original.Uncancelled() {
			return portal.Invalid("quantityToCancel",
				"cannot cancel %d tickets: only %d tickets of this purchase are not yet cancelled",
				quantity, original.Uncancelled())
		}

		balance, err := r.ProgramBalance(ctx, original.OrganizationID, original.ProgramName)
		if err != nil {
			return err
		}
		if quantity > balance {
			return &portal.UnallocatedTicketsError{
				Program:     original.ProgramName,
				Requested:   quantity,
				Unallocated: balance,
			}
		}

		res.Balance, err = r.AdjustProgramBalance(ctx, original.OrganizationID, original.ProgramName, -quantity)
		if err != nil {
			return err
		}

		cancelled := original.CancelledQuantity + quantity
		status := portal.TxActive
		if cancelled == original.OriginalQuantity {
			status = portal.TxCancelled
		}
		if err := r.UpdateTransactionCounters(ctx, original.ID, original.CancelledQuantity, cancelled, status); err != nil {
			return err
		}
		original.CancelledQuantity = cancelled
		original.Status = status

		res.Void = &portal.Transaction{
			OrganizationID:       original.OrganizationID,
			ProgramName:          original.ProgramName,
			Type:                 portal.TxCancellationVoid,
			Quantity:             -quantity,
			Value:                proRata(original, quantity).Neg(),
			RelatedTransactionID: original.ID,
			BookingReference:     original.BookingReference,
			Actor:                actor,
		}
		if err := r.AppendTransaction(ctx, res.Void); err != nil {
			return err
		}
		res.Original = original
		res.Cancelled = quantity
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Ledger] cancel %s: qty=%d by=%s void=%s balance=%d status=%s",
		transactionID, quantity, actor, res.Void.ID, res.Balance, res.Original.Status)
	return &res, nil
}

// Reinstate credits back everything cancelled on a purchase row and resets
// its counters.
func (l *Ledger) Reinstate(ctx context.Context, transactionID, actor string) (*ReinstateResult, error) {
	var res ReinstateResult
	err := l.repo.WithTx(ctx, func(r portal.Repository) error {
		original, err := r.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if original.Type != portal.TxPurchase {
			return portal.Invalid("transactionId", "only purchase transactions can be reinstated")
		}
		if original.CancelledQuantity <= 0 {
			return portal.Invalid("transactionId", "transaction has no cancelled tickets to reinstate")
		}

		amount := original.CancelledQuantity
		res.Balance, err = r.AdjustProgramBalance(ctx, original.OrganizationID, original.ProgramName, amount)
		if err != nil {
			return err
		}
		if err := r.UpdateTransactionCounters(ctx, original.ID, amount, 0, portal.TxActive); err != nil {
			return err
		}

		res.Reinstatement = &portal.Transaction{
			OrganizationID:       original.OrganizationID,
			ProgramName:          original.ProgramName,
			Type:                 portal.TxReinstatement,
			Quantity:             amount,
			Value:                proRata(original, amount),
			RelatedTransactionID: original.ID,
			BookingReference:     original.BookingReference,
			Actor:                actor,
		}
		if err := r.AppendTransaction(ctx, res.Reinstatement); err != nil {
			return err
		}

		original.CancelledQuantity = 0
		original.Status = portal.TxActive
		res.Original = original
		res.Reinstated = amount
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Ledger] reinstate %s: qty=%d by=%s row=%s balance=%d",
		transactionID, res.Reinstated, actor, res.Reinstatement.ID, res.Balance)
	return &res, nil
}

// Record appends an auxiliary row that does not move ticket balances.
func (l *Ledger) Record(ctx context.Context, row *portal.Transaction) error {
	switch row.Type {
	case portal.TxVoucher, portal.TxTrainingFundUsage, portal.TxAccountCharge, portal.TxRefund:
	default:
		return portal.Invalid("transactionType", "%s rows must go through their ledger operation", row.Type)
	}
	if row.Quantity != 0 {
		return portal.Invalid("quantity", "auxiliary ledger rows carry a value, not a quantity")
	}
	return l.repo.AppendTransaction(ctx, row)
}

// Annotate records the final outcome of a usage row once reservations are
// known. Quantities never change.
func (l *Ledger) Annotate(ctx context.Context, transactionID, notes string) error {
	return l.repo.AnnotateTransaction(ctx, transactionID, notes)
}

// Balance returns the current program balance.
func (l *Ledger) Balance(ctx context.Context, organizationID, program string) (int, error) {
	return l.repo.ProgramBalance(ctx, organizationID, program)
}

// proRata is the share of a purchase's value carried by quantity tickets.
func proRata(purchase *portal.Transaction, quantity int) decimal.Decimal {
	if purchase.OriginalQuantity == 0 {
		return decimal.Zero
	}
	return portal.Pence(purchase.Value.
		Mul(decimal.NewFromInt(int64(quantity))).
		Div(decimal.NewFromInt(int64(purchase.OriginalQuantity))))
}
