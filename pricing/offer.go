/*
Package pricing computes what a program-ticket purchase grants and costs.

PURPOSE:
  Turns (program, quantity) into tickets received and cost owed, applies a
  discount code to that cost, and plans which vouchers cover what is left.
  Nothing here mutates state: discount usage and voucher consumption are
  committed later by the booking orchestrator.

OFFER RULES:
  none:                        cost = q × unit, tickets = q
  bogo buy_x_get_y_free:       free = ⌊q/X⌋ × Y, cost = q × unit, tickets = q + free
  bogo set:                    set = X + Y, payable = ⌊q/set⌋ × X + q mod set,
                               cost = payable × unit, tickets = q
  bulk_discount:               cost = q × unit, minus P% when q >= threshold

  The two bogo variants are not symmetric. buy_x_get_y_free adds free
  tickets on top; set folds them into the requested quantity and bills
  the remainder of an incomplete set in full.

ROUNDING:
  Every currency result is rounded to pence (half away from zero, which is
  half-up for the non-negative amounts used here).

SEE ALSO:
  - discount.go: Discount code evaluation
  - voucher.go: Voucher ordering and planning
*/
package pricing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

var hundred = decimal.NewFromInt(100)

// Quote is the result of applying a program's offer to a quantity.
type Quote struct {
	ProgramTag      string
	Quantity        int
	UnitPrice       decimal.Decimal
	TicketsReceived int
	FreeTickets     int
	GrossCost       decimal.Decimal // quantity × unit price
	OfferSavings    decimal.Decimal
	Cost            decimal.Decimal // after the offer, before any discount code
}

// ValidateOffer rejects offer configurations that cannot be priced.
func ValidateOffer(o portal.Offer) error {
	switch o.Type {
	case "", portal.OfferNone:
		return nil
	case portal.OfferBogo:
		if o.BuyQuantity < 1 || o.FreeQuantity < 1 {
			return portal.Invalid("offer", "bogo offer needs buy and free quantities of at least 1")
		}
		switch o.Logic {
		case "", portal.BogoBuyXGetYFree, portal.BogoSet:
			return nil
		default:
			return portal.Invalid("offer", "unknown bogo logic %q", o.Logic)
		}
	case portal.OfferBulkDiscount:
		if o.BulkThreshold < 1 {
			return portal.Invalid("offer", "bulk offer needs a threshold of at least 1")
		}
		if o.BulkPercentage.IsNegative() || o.BulkPercentage.GreaterThan(hundred) {
			return portal.Invalid("offer", "bulk percentage must be between 0 and 100")
		}
		return nil
	default:
		return portal.Invalid("offer", "unknown offer type %q", o.Type)
	}
}

// QuoteOffer applies the program's offer to quantity.
func QuoteOffer(p *portal.Program, quantity int) (Quote, error) {
	if quantity < 1 {
		return Quote{}, portal.Invalid("quantity", "quantity must be a positive integer")
	}
	if p.UnitPrice.IsNegative() {
		return Quote{}, portal.Invalid("unitPrice", "program %s has a negative unit price", p.Tag)
	}
	if err := ValidateOffer(p.Offer); err != nil {
		return Quote{}, err
	}

	unit := p.UnitPrice
	gross := unit.Mul(decimal.NewFromInt(int64(quantity)))
	q := Quote{
		ProgramTag:      p.Tag,
		Quantity:        quantity,
		UnitPrice:       unit,
		TicketsReceived: quantity,
		GrossCost:       portal.Pence(gross),
		Cost:            gross,
	}

	o := p.Offer
	switch o.Type {
	case portal.OfferBogo:
		if o.Logic == portal.BogoSet {
			set := o.BuyQuantity + o.FreeQuantity
			payable := (quantity/set)*o.BuyQuantity + quantity%set
			q.FreeTickets = quantity - payable
			q.Cost = unit.Mul(decimal.NewFromInt(int64(payable)))
		} else {
			q.FreeTickets = (quantity / o.BuyQuantity) * o.FreeQuantity
			q.TicketsReceived = quantity + q.FreeTickets
		}
	case portal.OfferBulkDiscount:
		if quantity >= o.BulkThreshold {
			off := gross.Mul(o.BulkPercentage).Div(hundred)
			q.Cost = gross.Sub(off)
		}
	}

	if q.Cost.IsNegative() {
		q.Cost = decimal.Zero
	}
	q.Cost = portal.Pence(q.Cost)
	q.OfferSavings = q.GrossCost.Sub(q.Cost)
	return q, nil
}
