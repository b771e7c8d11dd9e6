package allocation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/member-portal/portal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testOrg(fund string, po bool) *portal.Organization {
	return &portal.Organization{ID: "org-1", TrainingFundBalance: dec(fund), PurchaseOrderEnabled: po}
}

func TestValidate_ExactSplit(t *testing.T) {
	alloc, err := Validate(testOrg("50", true), Request{
		Total:               dec("100"),
		Voucher:             dec("20"),
		TrainingFund:        dec("30"),
		Account:             dec("40"),
		Card:                dec("10"),
		PurchaseOrderNumber: "PO-7",
		PaymentIntentID:     "pi_123",
	})
	require.NoError(t, err)
	assert.True(t, alloc.Total().Equal(dec("100")))
	assert.Equal(t, "PO-7", alloc.PurchaseOrderNumber)
}

func TestValidate_WithinTolerance(t *testing.T) {
	_, err := Validate(testOrg("0", false), Request{
		Total:           dec("33.33"),
		Card:            dec("33.34"),
		PaymentIntentID: "pi_1",
	})
	assert.NoError(t, err)
}

func TestValidate_SumMismatchRejected(t *testing.T) {
	// GIVEN: £100 owed
	// WHEN: Only £90 allocated
	// THEN: Allocation mismatch

	_, err := Validate(testOrg("0", true), Request{
		Total:               dec("100"),
		Account:             dec("90"),
		PurchaseOrderNumber: "PO-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrValidation)
	assert.Equal(t, "payment allocation does not match total cost", err.Error())
}

func TestValidate_TrainingFundClampedToBalance(t *testing.T) {
	// GIVEN: £40 in the training fund
	// WHEN: Asking for £60 of training fund against a £60 total
	// THEN: Only £40 counts, so the split no longer sums and is rejected

	_, err := Validate(testOrg("40", false), Request{
		Total:        dec("60"),
		TrainingFund: dec("60"),
	})
	assert.ErrorIs(t, err, portal.ErrAllocationMismatch)

	alloc, err := Validate(testOrg("40", false), Request{
		Total:           dec("60"),
		TrainingFund:    dec("60"),
		Card:            dec("20"),
		PaymentIntentID: "pi_1",
	})
	require.NoError(t, err)
	assert.True(t, alloc.TrainingFund.Equal(dec("40")))
}

func TestValidate_TrainingFundClampedToTotal(t *testing.T) {
	alloc, err := Validate(testOrg("500", false), Request{
		Total:        dec("25"),
		TrainingFund: dec("80"),
	})
	require.NoError(t, err)
	assert.True(t, alloc.TrainingFund.Equal(dec("25")))
}

func TestValidate_AccountRules(t *testing.T) {
	tests := []struct {
		name    string
		org     *portal.Organization
		po      string
		follow  bool
		wantErr bool
	}{
		{"not po enabled", testOrg("0", false), "PO-1", false, true},
		{"no po number", testOrg("0", true), "", false, true},
		{"po number", testOrg("0", true), "PO-1", false, false},
		{"po to follow", testOrg("0", true), "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.org, Request{
				Total:               dec("10"),
				Account:             dec("10"),
				PurchaseOrderNumber: tt.po,
				POToFollow:          tt.follow,
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, portal.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_NegativeComponentRejected(t *testing.T) {
	_, err := Validate(testOrg("0", false), Request{
		Total:           dec("10"),
		Voucher:         dec("-5"),
		Card:            dec("15"),
		PaymentIntentID: "pi_1",
	})
	assert.ErrorIs(t, err, portal.ErrValidation)
}

func TestValidate_CardNeedsPaymentIntent(t *testing.T) {
	_, err := Validate(testOrg("0", false), Request{Total: dec("10"), Card: dec("10")})
	var vErr *portal.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "stripePaymentIntentId", vErr.Field)
}

func TestValidate_ZeroCostNeedsNothing(t *testing.T) {
	alloc, err := Validate(testOrg("0", false), Request{Total: decimal.Zero})
	require.NoError(t, err)
	assert.True(t, alloc.Total().IsZero())
}
