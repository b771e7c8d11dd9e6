package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

// DiscountScope is what a code is evaluated against.
type DiscountScope struct {
	ProgramTag     string
	OrganizationID string
	Now            time.Time
	// OrganizationUsage is how often OrganizationID has used the code.
	// Only read for organization-restricted codes.
	OrganizationUsage int
}

// Discount is an accepted discount code and the amount it takes off.
type Discount struct {
	Code    *portal.DiscountCode
	Amount  decimal.Decimal
	Details string
}

// EvaluateDiscount checks every rule of the code and returns the amount off
// cost, clamped so the cost never goes negative. It does not record usage.
func EvaluateDiscount(code *portal.DiscountCode, cost decimal.Decimal, scope DiscountScope) (*Discount, error) {
	const field = "appliedDiscountId"

	if !code.Active {
		return nil, portal.Invalid(field, "discount code %s is not active", code.Code)
	}
	if code.ExpiresAt != nil && !scope.Now.Before(*code.ExpiresAt) {
		return nil, portal.Invalid(field, "discount code %s has expired", code.Code)
	}
	if code.ProgramTag != "" && code.ProgramTag != scope.ProgramTag {
		return nil, portal.Invalid(field, "discount code %s does not apply to %s", code.Code, scope.ProgramTag)
	}
	if code.OrganizationID != "" && code.OrganizationID != scope.OrganizationID {
		return nil, portal.Invalid(field, "discount code %s is not available to this organization", code.Code)
	}
	if code.MinPurchase.IsPositive() && cost.LessThan(code.MinPurchase) {
		return nil, portal.Invalid(field, "discount code %s requires a minimum purchase of £%s",
			code.Code, code.MinPurchase.StringFixed(2))
	}

	used := code.UsageCount
	if code.PerOrganization() {
		used = scope.OrganizationUsage
	}
	if code.MaxUsage > 0 && used >= code.MaxUsage {
		return nil, portal.Invalid(field, "discount code %s has reached its usage limit", code.Code)
	}

	var amount decimal.Decimal
	var details string
	switch code.Type {
	case portal.DiscountPercentage:
		if code.Value.IsNegative() || code.Value.GreaterThan(hundred) {
			return nil, portal.Invalid(field, "discount code %s has an invalid percentage", code.Code)
		}
		amount = cost.Mul(code.Value).Div(hundred)
		details = fmt.Sprintf("%s: %s%% off", code.Code, code.Value.String())
	case portal.DiscountFixed:
		if code.Value.IsNegative() {
			return nil, portal.Invalid(field, "discount code %s has a negative value", code.Code)
		}
		amount = code.Value
		details = fmt.Sprintf("%s: £%s off", code.Code, code.Value.StringFixed(2))
	default:
		return nil, portal.Invalid(field, "discount code %s has unknown type %q", code.Code, code.Type)
	}

	amount = portal.Pence(portal.MinDecimal(amount, cost))
	return &Discount{
		Code:    code,
		Amount:  amount,
		Details: fmt.Sprintf("%s (-£%s)", details, amount.StringFixed(2)),
	}, nil
}
