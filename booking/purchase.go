package booking

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/events"
	"github.com/warp/member-portal/ledger"
	"github.com/warp/member-portal/portal"
	"github.com/warp/member-portal/pricing"
)

// PurchaseRequest buys quantity tickets of a program.
type PurchaseRequest struct {
	OrganizationID string
	Actor          string
	ProgramTag     string
	Quantity       int
	DiscountCodeID string
	Payment        Payment
}

// PurchaseResult is what a committed purchase reports back.
type PurchaseResult struct {
	Reference            string
	TransactionID        string
	TotalTicketsReceived int
	TotalCost            decimal.Decimal
	DiscountApplied      bool
	DiscountDetails      string
	Payment              portal.PaymentBreakdown
	Balance              int
	Invoice              *portal.Invoice
	Warning              string
}

// Purchase prices, funds and commits a program-ticket purchase.
func (o *Orchestrator) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	ref := newReference("PU")
	o.stage(ref, StageReceived, "org=%s program=%s qty=%d actor=%s", req.OrganizationID, req.ProgramTag, req.Quantity, req.Actor)

	if req.ProgramTag == "" {
		return nil, o.abort(ref, portal.Invalid("programName", "program is required"))
	}
	org, err := o.repo.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		return nil, o.abort(ref, err)
	}

	priced, err := o.pricing.Price(ctx, pricing.Request{
		OrganizationID: org.ID,
		ProgramTag:     req.ProgramTag,
		Quantity:       req.Quantity,
		DiscountCodeID: req.DiscountCodeID,
	})
	if err != nil {
		return nil, o.abort(ref, err)
	}
	o.stage(ref, StagePriced, "tickets=%d cost=%s discount=%t",
		priced.TotalTicketsReceived, priced.TotalCost.StringFixed(2), priced.DiscountApplied)

	plan, alloc, err := o.authorize(ctx, org, priced.TotalCost, req.Payment)
	if err != nil {
		return nil, o.abort(ref, err)
	}
	o.stage(ref, StageAllocationValidated, "voucher=%s fund=%s account=%s card=%s",
		alloc.Voucher.StringFixed(2), alloc.TrainingFund.StringFixed(2),
		alloc.Account.StringFixed(2), alloc.Card.StringFixed(2))

	var (
		row     *portal.Transaction
		balance int
	)
	err = o.repo.WithTx(ctx, func(r portal.Repository) error {
		if priced.DiscountApplied {
			if err := r.IncrementDiscountUsage(ctx, priced.Discount.Code, org.ID); err != nil {
				return err
			}
		}

		var err error
		row, balance, err = ledger.New(r).CommitPurchase(ctx, ledger.Purchase{
			OrganizationID:   org.ID,
			Program:          priced.Program.Tag,
			Granted:          priced.TotalTicketsReceived,
			Cost:             priced.TotalCost,
			BookingReference: ref,
			Actor:            req.Actor,
			Notes:            purchaseNotes(priced),
		})
		if err != nil {
			return err
		}
		return settle(ctx, r, org, priced.Program.Tag, plan, alloc, ref, row.ID, req.Actor)
	})
	if err != nil {
		return nil, o.abort(ref, err)
	}
	o.stage(ref, StageBalanceReserved, "purchase=%s balance=%d", row.ID, balance)

	res := &PurchaseResult{
		Reference:            ref,
		TransactionID:        row.ID,
		TotalTicketsReceived: priced.TotalTicketsReceived,
		TotalCost:            priced.TotalCost,
		DiscountApplied:      priced.DiscountApplied,
		DiscountDetails:      priced.DiscountDetails,
		Payment:              alloc.PaymentBreakdown,
		Balance:              balance,
	}

	res.Invoice, res.Warning = o.invoice(ctx, org, ref, alloc, []portal.InvoiceLine{{
		Description: fmt.Sprintf("%s program tickets x%d", priced.Program.Name, priced.TotalTicketsReceived),
		Quantity:    1,
		UnitAmount:  alloc.Account,
	}})

	o.publish(ctx, events.TicketsPurchased, map[string]any{
		"reference":       ref,
		"transaction_id":  row.ID,
		"organization_id": org.ID,
		"program":         priced.Program.Tag,
		"granted":         priced.TotalTicketsReceived,
		"cost":            priced.TotalCost.StringFixed(2),
	})
	o.stage(ref, StageDone, "granted=%d balance=%d", res.TotalTicketsReceived, balance)
	return res, nil
}

func purchaseNotes(priced *pricing.Result) string {
	notes := fmt.Sprintf("%d bought", priced.Quote.Quantity)
	if priced.Quote.FreeTickets > 0 {
		notes += fmt.Sprintf(", %d free", priced.Quote.FreeTickets)
	}
	if priced.DiscountApplied {
		notes += ", " + priced.DiscountDetails
	}
	return notes
}
