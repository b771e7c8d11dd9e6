/*
Package allocation validates how a cost is split across funding sources.

PURPOSE:
  A purchase or paid booking is funded by up to four sources: vouchers,
  the organization's training fund, the organization's account (invoiced,
  purchase-order backed) and card. Validate checks the proposed split and
  returns the effective one. It never mutates anything.

RULES:
  1. Training fund is clamped to min(requested, available, total)
  2. No component may be negative
  3. Account > 0 needs a PO-enabled organization and either a PO number
     or an explicit "PO to follow"
  4. The components must sum to the total within £0.01
  5. Card > 0 needs a payment intent id (verified by the caller)

SEE ALSO:
  - booking/purchase.go: Verifies the card payment before committing
*/
package allocation

import (
	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

// Request is a proposed funding split for a total cost.
type Request struct {
	Total               decimal.Decimal
	Voucher             decimal.Decimal
	TrainingFund        decimal.Decimal
	Account             decimal.Decimal
	Card                decimal.Decimal
	PurchaseOrderNumber string
	POToFollow          bool
	PaymentIntentID     string
}

// Allocation is a validated split.
type Allocation struct {
	portal.PaymentBreakdown
	PurchaseOrderNumber string
	POToFollow          bool
	PaymentIntentID     string
}

// Validate checks req against org and returns the effective allocation.
func Validate(org *portal.Organization, req Request) (*Allocation, error) {
	components := []struct {
		field string
		value decimal.Decimal
	}{
		{"voucherAmount", req.Voucher},
		{"trainingFundAmount", req.TrainingFund},
		{"accountAmount", req.Account},
		{"cardAmount", req.Card},
	}
	for _, c := range components {
		if c.value.IsNegative() {
			return nil, portal.Invalid(c.field, "%s cannot be negative", c.field)
		}
	}
	if req.Total.IsNegative() {
		return nil, portal.Invalid("total", "total cost cannot be negative")
	}

	trainingFund := portal.Pence(portal.MinDecimal(req.TrainingFund, org.TrainingFundBalance, req.Total))
	if trainingFund.IsNegative() {
		trainingFund = decimal.Zero
	}

	if req.Account.IsPositive() {
		if !org.PurchaseOrderEnabled {
			return nil, portal.Invalid("accountAmount", "organization %s is not enabled for purchase orders", org.ID)
		}
		if req.PurchaseOrderNumber == "" && !req.POToFollow {
			return nil, portal.Invalid("purchaseOrderNumber", "a purchase order number is required for account payments")
		}
	}

	alloc := &Allocation{
		PaymentBreakdown: portal.PaymentBreakdown{
			Voucher:      portal.Pence(req.Voucher),
			TrainingFund: trainingFund,
			Account:      portal.Pence(req.Account),
			Card:         portal.Pence(req.Card),
		},
		PurchaseOrderNumber: req.PurchaseOrderNumber,
		POToFollow:          req.POToFollow,
		PaymentIntentID:     req.PaymentIntentID,
	}

	if alloc.Total().Sub(req.Total).Abs().GreaterThan(portal.Tolerance) {
		return nil, portal.ErrAllocationMismatch
	}

	if alloc.Card.IsPositive() && req.PaymentIntentID == "" {
		return nil, portal.Invalid("stripePaymentIntentId", "card payments need a payment intent id")
	}
	return alloc, nil
}
