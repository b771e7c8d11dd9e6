package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

// VoucherUse is how much one voucher contributes.
type VoucherUse struct {
	Voucher portal.Voucher
	Amount  decimal.Decimal
}

// Remaining is the voucher value left after this use.
func (u VoucherUse) Remaining() decimal.Decimal {
	return u.Voucher.RemainingValue.Sub(u.Amount)
}

// VoucherPlan is the ordered list of vouchers that cover part of a cost.
type VoucherPlan struct {
	Uses  []VoucherUse
	Total decimal.Decimal
}

// PlanVouchers validates the selected vouchers and consumes them greedily,
// soonest expiry first and smallest value first on ties, until cost is
// covered. Vouchers not needed are left out of the plan.
func PlanVouchers(vouchers []portal.Voucher, organizationID string, cost decimal.Decimal, now time.Time) (*VoucherPlan, error) {
	seen := make(map[string]bool, len(vouchers))
	for _, v := range vouchers {
		if seen[v.ID] {
			return nil, portal.Invalid("selectedVoucherIds", "voucher %s is selected more than once", v.ID)
		}
		seen[v.ID] = true
		if v.OrganizationID != organizationID {
			return nil, portal.Invalid("selectedVoucherIds", "voucher %s does not belong to this organization", v.ID)
		}
		if v.Status != portal.VoucherActive {
			return nil, portal.Invalid("selectedVoucherIds", "voucher %s is %s", v.ID, v.Status)
		}
		if !now.Before(v.ExpiresAt) {
			return nil, portal.Invalid("selectedVoucherIds", "voucher %s has expired", v.ID)
		}
	}

	ordered := make([]portal.Voucher, len(vouchers))
	copy(ordered, vouchers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].ExpiresAt.Equal(ordered[j].ExpiresAt) {
			return ordered[i].ExpiresAt.Before(ordered[j].ExpiresAt)
		}
		return ordered[i].RemainingValue.LessThan(ordered[j].RemainingValue)
	})

	plan := &VoucherPlan{Total: decimal.Zero}
	left := portal.Pence(cost)
	for _, v := range ordered {
		if !left.IsPositive() {
			break
		}
		if !v.RemainingValue.IsPositive() {
			continue
		}
		amount := portal.MinDecimal(v.RemainingValue, left)
		plan.Uses = append(plan.Uses, VoucherUse{Voucher: v, Amount: amount})
		plan.Total = plan.Total.Add(amount)
		left = left.Sub(amount)
	}
	return plan, nil
}
