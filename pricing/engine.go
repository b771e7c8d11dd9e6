package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

// Reader is the read-only slice of the repository pricing needs.
type Reader interface {
	GetProgram(ctx context.Context, tag string) (*portal.Program, error)
	GetDiscountCode(ctx context.Context, id string) (*portal.DiscountCode, error)
	DiscountUsage(ctx context.Context, codeID, organizationID string) (int, error)
	GetVouchers(ctx context.Context, ids []string) ([]portal.Voucher, error)
}

// Request describes a purchase to price.
type Request struct {
	OrganizationID string
	ProgramTag     string
	Quantity       int
	DiscountCodeID string
}

// Result is a priced purchase.
type Result struct {
	Program              *portal.Program
	Quote                Quote
	Discount             *Discount
	TotalTicketsReceived int
	TotalCost            decimal.Decimal
	DiscountApplied      bool
	DiscountDetails      string
}

// Engine prices purchases against the stored programs and codes.
type Engine struct {
	repo Reader
	now  func() time.Time
}

// NewEngine creates a pricing engine.
func NewEngine(repo Reader) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// WithClock overrides the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Price applies the program offer and then the discount code, if any.
func (e *Engine) Price(ctx context.Context, req Request) (*Result, error) {
	program, err := e.repo.GetProgram(ctx, req.ProgramTag)
	if err != nil {
		return nil, err
	}

	quote, err := QuoteOffer(program, req.Quantity)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Program:              program,
		Quote:                quote,
		TotalTicketsReceived: quote.TicketsReceived,
		TotalCost:            quote.Cost,
	}
	if req.DiscountCodeID == "" {
		return res, nil
	}

	code, err := e.repo.GetDiscountCode(ctx, req.DiscountCodeID)
	if err != nil {
		return nil, err
	}
	scope := DiscountScope{
		ProgramTag:     program.Tag,
		OrganizationID: req.OrganizationID,
		Now:            e.now(),
	}
	if code.PerOrganization() {
		if scope.OrganizationUsage, err = e.repo.DiscountUsage(ctx, code.ID, req.OrganizationID); err != nil {
			return nil, err
		}
	}

	discount, err := EvaluateDiscount(code, quote.Cost, scope)
	if err != nil {
		return nil, err
	}
	res.Discount = discount
	res.DiscountApplied = discount.Amount.IsPositive()
	res.DiscountDetails = discount.Details
	res.TotalCost = portal.Pence(quote.Cost.Sub(discount.Amount))
	return res, nil
}

// Vouchers loads and plans the selected vouchers against cost.
func (e *Engine) Vouchers(ctx context.Context, organizationID string, ids []string, cost decimal.Decimal) (*VoucherPlan, error) {
	if len(ids) == 0 {
		return &VoucherPlan{Total: decimal.Zero}, nil
	}
	vouchers, err := e.repo.GetVouchers(ctx, ids)
	if err != nil {
		if portal.IsNotFound(err) {
			return nil, portal.Invalid("selectedVoucherIds", "%v", err)
		}
		return nil, err
	}
	return PlanVouchers(vouchers, organizationID, cost, e.now())
}
