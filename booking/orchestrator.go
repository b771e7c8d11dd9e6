/*
Package booking runs the purchase and booking sagas.

PURPOSE:
  A purchase buys program tickets; a booking spends them on an event for
  one or more attendees. Both are sagas over the database and the external
  platforms. This package sequences pricing, allocation, the ledger and
  the reservation coordinator, and decides which failures abort and which
  only degrade the result.

STATE MACHINE:
  RECEIVED → PRICED → ALLOCATION_VALIDATED → BALANCE_RESERVED
    → ATTENDEES_RESERVED → PERSISTED → [INVOICE_REQUESTED] → DONE

  ABORTED is reachable from every stage before BALANCE_RESERVED. Nothing
  is mutated before that point, so an abort needs no cleanup.

COMMIT DISCIPLINE:
  BALANCE_RESERVED is one database transaction: vouchers, discount usage,
  training fund, the ticket balance and their ledger rows commit together.
  Everything after it is never rolled back:
    - failed attendee reservations degrade the booking to pending_*_sync
    - a failed invoice becomes a warning and an invoice.failed event
    - a failed booking-row insert is logged with every id needed to
      reconcile by hand

SEE ALSO:
  - purchase.go: Program-ticket purchase
  - booking.go: Event booking
  - confirm.go: Link-mode confirmation
*/
package booking

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/allocation"
	"github.com/warp/member-portal/events"
	"github.com/warp/member-portal/ledger"
	"github.com/warp/member-portal/portal"
	"github.com/warp/member-portal/pricing"
	"github.com/warp/member-portal/reservation"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// PaymentVerifier confirms a card payment was taken for the expected amount.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, intentID string, amount decimal.Decimal) error
}

// Accounting creates invoices for account-funded amounts.
type Accounting interface {
	FindOrCreateContact(ctx context.Context, name string) (string, error)
	CreateInvoice(ctx context.Context, req portal.InvoiceRequest) (*portal.Invoice, error)
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Reservations is the reservation coordinator as the sagas use it.
type Reservations interface {
	Resolve(ctx context.Context, event *portal.Event) reservation.Target
	Precheck(ctx context.Context, eventID string, target reservation.Target, attendees []portal.Attendee) error
	Reserve(ctx context.Context, target reservation.Target, attendee portal.Attendee) reservation.Outcome
	ReserveAll(ctx context.Context, target reservation.Target, attendees []portal.Attendee) []reservation.Outcome
}

// =============================================================================
// STAGES
// =============================================================================

type Stage string

const (
	StageReceived            Stage = "RECEIVED"
	StagePriced              Stage = "PRICED"
	StageAllocationValidated Stage = "ALLOCATION_VALIDATED"
	StageBalanceReserved     Stage = "BALANCE_RESERVED"
	StageAttendeesReserved   Stage = "ATTENDEES_RESERVED"
	StagePersisted           Stage = "PERSISTED"
	StageInvoiceRequested    Stage = "INVOICE_REQUESTED"
	StageDone                Stage = "DONE"
	StageAborted             Stage = "ABORTED"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Options wires the optional collaborators.
type Options struct {
	Payments         PaymentVerifier // nil: card payments are refused
	Accounting       Accounting      // nil: no invoices
	Publisher        Publisher       // nil: events are logged
	InvoicingEnabled bool
}

// Orchestrator runs purchases and bookings.
type Orchestrator struct {
	repo         portal.Repository
	pricing      *pricing.Engine
	reservations Reservations
	payments     PaymentVerifier
	accounting   Accounting
	publisher    Publisher
	invoicing    bool
	now          func() time.Time
}

// New creates an orchestrator.
func New(repo portal.Repository, reservations Reservations, opts Options) *Orchestrator {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &Orchestrator{
		repo:         repo,
		pricing:      pricing.NewEngine(repo),
		reservations: reservations,
		payments:     opts.Payments,
		accounting:   opts.Accounting,
		publisher:    publisher,
		invoicing:    opts.InvoicingEnabled,
		now:          time.Now,
	}
}

// WithClock overrides the clock used for pricing and voucher expiry.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	o.pricing.WithClock(now)
	return o
}

// Payment is how a requester wants to fund a cost.
type Payment struct {
	Method              string // "card" fills a missing card amount with the remainder
	VoucherIDs          []string
	TrainingFundAmount  decimal.Decimal
	AccountAmount       decimal.Decimal
	CardAmount          decimal.Decimal
	PurchaseOrderNumber string
	POToFollow          bool
	PaymentIntentID     string
}

const MethodCard = "card"

func (o *Orchestrator) stage(ref string, s Stage, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		log.Printf("[Booking] %s %s", ref, s)
		return
	}
	log.Printf("[Booking] %s %s: %s", ref, s, msg)
}

func (o *Orchestrator) abort(ref string, err error) error {
	o.stage(ref, StageAborted, "%v", err)
	return err
}

func newReference(prefix string) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// =============================================================================
// PAYMENT
// =============================================================================

// authorize plans vouchers, validates the split and verifies any card
// payment. It mutates nothing.
func (o *Orchestrator) authorize(ctx context.Context, org *portal.Organization, total decimal.Decimal, p Payment) (*pricing.VoucherPlan, *allocation.Allocation, error) {
	plan, err := o.pricing.Vouchers(ctx, org.ID, p.VoucherIDs, total)
	if err != nil {
		return nil, nil, err
	}

	card := p.CardAmount
	if p.Method == MethodCard && card.IsZero() {
		fund := portal.MinDecimal(p.TrainingFundAmount, org.TrainingFundBalance, total)
		if fund.IsNegative() {
			fund = decimal.Zero
		}
		card = total.Sub(plan.Total).Sub(fund).Sub(p.AccountAmount)
		if card.IsNegative() {
			card = decimal.Zero
		}
	}

	alloc, err := allocation.Validate(org, allocation.Request{
		Total:               total,
		Voucher:             plan.Total,
		TrainingFund:        p.TrainingFundAmount,
		Account:             p.AccountAmount,
		Card:                card,
		PurchaseOrderNumber: p.PurchaseOrderNumber,
		POToFollow:          p.POToFollow,
		PaymentIntentID:     p.PaymentIntentID,
	})
	if err != nil {
		return nil, nil, err
	}

	if alloc.Card.IsPositive() {
		if o.payments == nil {
			return nil, nil, portal.Invalid("paymentMethod", "card payments are not available")
		}
		if err := o.payments.VerifyPayment(ctx, alloc.PaymentIntentID, alloc.Card); err != nil {
			return nil, nil, err
		}
	}
	return plan, alloc, nil
}

// settle claims the card payment intent, debits the other funding sources
// and appends their ledger rows. r must be bound to the saga's transaction.
func settle(ctx context.Context, r portal.Repository, org *portal.Organization, program string, plan *pricing.VoucherPlan, alloc *allocation.Allocation, ref, relatedID, actor string) error {
	lg := ledger.New(r)

	if alloc.Card.IsPositive() {
		if err := r.ClaimPaymentIntent(ctx, alloc.PaymentIntentID, org.ID, ref, alloc.Card); err != nil {
			return err
		}
	}

	for _, use := range plan.Uses {
		if _, err := r.ConsumeVoucher(ctx, use.Voucher.ID, use.Voucher.RemainingValue, use.Amount); err != nil {
			return err
		}
		if err := lg.Record(ctx, &portal.Transaction{
			OrganizationID:       org.ID,
			ProgramName:          program,
			Type:                 portal.TxVoucher,
			Value:                use.Amount,
			RelatedTransactionID: relatedID,
			BookingReference:     ref,
			Actor:                actor,
			Notes:                "voucher " + use.Voucher.ID,
		}); err != nil {
			return err
		}
	}

	if alloc.TrainingFund.IsPositive() {
		if _, err := r.DebitTrainingFund(ctx, org.ID, alloc.TrainingFund); err != nil {
			return err
		}
		if err := lg.Record(ctx, &portal.Transaction{
			OrganizationID:       org.ID,
			ProgramName:          program,
			Type:                 portal.TxTrainingFundUsage,
			Value:                alloc.TrainingFund,
			RelatedTransactionID: relatedID,
			BookingReference:     ref,
			Actor:                actor,
		}); err != nil {
			return err
		}
	}

	if alloc.Account.IsPositive() {
		notes := "PO " + alloc.PurchaseOrderNumber
		if alloc.PurchaseOrderNumber == "" {
			notes = "PO to follow"
		}
		if err := lg.Record(ctx, &portal.Transaction{
			OrganizationID:       org.ID,
			ProgramName:          program,
			Type:                 portal.TxAccountCharge,
			Value:                alloc.Account,
			RelatedTransactionID: relatedID,
			BookingReference:     ref,
			Actor:                actor,
			Notes:                notes,
		}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// INVOICE & EVENTS
// =============================================================================

// invoice bills the account-funded part. Failures return a warning and are
// never propagated.
func (o *Orchestrator) invoice(ctx context.Context, org *portal.Organization, ref string, alloc *allocation.Allocation, lines []portal.InvoiceLine) (*portal.Invoice, string) {
	if !o.invoicing || o.accounting == nil || !alloc.Account.IsPositive() {
		return nil, ""
	}
	o.stage(ref, StageInvoiceRequested, "account=%s po=%q", alloc.Account.StringFixed(2), alloc.PurchaseOrderNumber)

	inv, err := o.createInvoice(ctx, org, ref, alloc.PurchaseOrderNumber, lines)
	if err != nil {
		log.Printf("[Booking] %s invoice failed for %s: %v", ref, org.ID, err)
		o.publish(ctx, events.InvoiceFailed, map[string]any{
			"reference":       ref,
			"organization_id": org.ID,
			"amount":          alloc.Account.StringFixed(2),
			"error":           err.Error(),
		})
		return nil, "invoice could not be created and will need to be raised manually"
	}
	log.Printf("[Booking] %s invoice %s created (%s)", ref, inv.Number, inv.Total)
	return inv, ""
}

func (o *Orchestrator) createInvoice(ctx context.Context, org *portal.Organization, ref, po string, lines []portal.InvoiceLine) (*portal.Invoice, error) {
	contactID, err := o.accounting.FindOrCreateContact(ctx, org.Name)
	if err != nil {
		return nil, err
	}
	return o.accounting.CreateInvoice(ctx, portal.InvoiceRequest{
		ContactID:           contactID,
		Reference:           ref,
		PurchaseOrderNumber: po,
		Lines:               lines,
	})
}

func (o *Orchestrator) publish(ctx context.Context, key string, payload any) {
	if err := o.publisher.Publish(ctx, key, payload); err != nil {
		log.Printf("[Booking] publish %s failed: %v", key, err)
	}
}

func joinWarnings(warnings ...string) string {
	var parts []string
	for _, w := range warnings {
		if w != "" {
			parts = append(parts, w)
		}
	}
	return strings.Join(parts, "; ")
}
