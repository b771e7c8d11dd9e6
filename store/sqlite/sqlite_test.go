package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/member-portal/portal"
)

func newTestStore(t *testing.T) *Store {
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedOrg(t *testing.T, store *Store, balances map[string]int, fund string) {
	err := store.SaveOrganization(context.Background(), portal.Organization{
		ID:                    "org-1",
		Name:                  "Acme Ltd",
		TrainingFundBalance:   decimal.RequireFromString(fund),
		ProgramTicketBalances: balances,
	})
	require.NoError(t, err)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestStore_AdjustProgramBalance_DecrementIsConditional(t *testing.T) {
	// GIVEN: 3 tickets in the "leaders" program
	// WHEN: Debiting 5
	// THEN: Insufficient balance, nothing changed

	store := newTestStore(t)
	ctx := context.Background()
	seedOrg(t, store, map[string]int{"leaders": 3}, "0")

	_, err := store.AdjustProgramBalance(ctx, "org-1", "leaders", -5)
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrInsufficientBalance)

	balance, err := store.ProgramBalance(ctx, "org-1", "leaders")
	require.NoError(t, err)
	assert.Equal(t, 3, balance)

	// Exact debit is allowed
	balance, err = store.AdjustProgramBalance(ctx, "org-1", "leaders", -3)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestStore_AdjustProgramBalance_CreditCreatesRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedOrg(t, store, nil, "0")

	balance, err := store.AdjustProgramBalance(ctx, "org-1", "mentoring", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, balance)

	balance, err = store.AdjustProgramBalance(ctx, "org-1", "mentoring", 2)
	require.NoError(t, err)
	assert.Equal(t, 6, balance)

	org, err := store.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 6, org.TicketBalance("mentoring"))
}

func TestStore_DebitTrainingFund(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedOrg(t, store, nil, "100.00")

	next, err := store.DebitTrainingFund(ctx, "org-1", decimal.RequireFromString("40.50"))
	require.NoError(t, err)
	assert.True(t, next.Equal(decimal.RequireFromString("59.50")))

	_, err = store.DebitTrainingFund(ctx, "org-1", decimal.RequireFromString("60"))
	assert.ErrorIs(t, err, portal.ErrInsufficientBalance)

	org, err := store.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, org.TrainingFundBalance.Equal(decimal.RequireFromString("59.50")))
}

// =============================================================================
// VOUCHERS & DISCOUNTS
// =============================================================================

func TestStore_ConsumeVoucher_CompareAndSet(t *testing.T) {
	// GIVEN: A £30 voucher
	// WHEN: Consuming with a stale expected value
	// THEN: ConcurrentModification, value unchanged

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveVoucher(ctx, portal.Voucher{
		ID:             "v-1",
		OrganizationID: "org-1",
		RemainingValue: decimal.NewFromInt(30),
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}))

	_, err := store.ConsumeVoucher(ctx, "v-1", decimal.NewFromInt(50), decimal.NewFromInt(10))
	assert.ErrorIs(t, err, portal.ErrConcurrentModification)

	v, err := store.ConsumeVoucher(ctx, "v-1", decimal.NewFromInt(30), decimal.NewFromInt(25))
	require.NoError(t, err)
	assert.True(t, v.RemainingValue.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, portal.VoucherActive, v.Status)

	v, err = store.ConsumeVoucher(ctx, "v-1", decimal.NewFromInt(5), decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, portal.VoucherUsed, v.Status)
}

func TestStore_ConsumeVoucher_MatchesStoredFormatting(t *testing.T) {
	// GIVEN: A voucher row written as "30.00" rather than "30"
	// WHEN: Consuming £10 against an expected £30
	// THEN: The compare-and-set succeeds and £20 remains

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.db.Exec(`INSERT INTO vouchers (id, organization_id, remaining_value, status, expires_at)
		VALUES ('v-1', 'org-1', '30.00', 'active', ?)`, formatTime(time.Now().Add(24*time.Hour)))
	require.NoError(t, err)

	v, err := store.ConsumeVoucher(ctx, "v-1", decimal.NewFromInt(30), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, v.RemainingValue.Equal(decimal.NewFromInt(20)))
}

func TestStore_GetVouchers_MissingID(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetVouchers(context.Background(), []string{"nope"})
	assert.True(t, portal.IsNotFound(err))
}

func TestStore_ExpireVouchers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SaveVoucher(ctx, portal.Voucher{
		ID: "old", OrganizationID: "org-1", RemainingValue: decimal.NewFromInt(10), ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, store.SaveVoucher(ctx, portal.Voucher{
		ID: "fresh", OrganizationID: "org-1", RemainingValue: decimal.NewFromInt(10), ExpiresAt: now.Add(time.Hour),
	}))

	n, err := store.ExpireVouchers(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	vs, err := store.GetVouchers(ctx, []string{"old", "fresh"})
	require.NoError(t, err)
	assert.Equal(t, portal.VoucherExpired, vs[0].Status)
	assert.Equal(t, portal.VoucherActive, vs[1].Status)
}

func TestStore_IncrementDiscountUsage_RespectsMax(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	global := portal.DiscountCode{ID: "d-1", Code: "SPRING", Type: portal.DiscountFixed,
		Value: decimal.NewFromInt(5), MaxUsage: 1, Active: true}
	require.NoError(t, store.SaveDiscountCode(ctx, global))

	require.NoError(t, store.IncrementDiscountUsage(ctx, &global, "org-1"))
	err := store.IncrementDiscountUsage(ctx, &global, "org-2")
	assert.ErrorIs(t, err, portal.ErrValidation)

	scoped := portal.DiscountCode{ID: "d-2", Code: "ACME", Type: portal.DiscountPercentage,
		Value: decimal.NewFromInt(10), OrganizationID: "org-1", MaxUsage: 2, Active: true}
	require.NoError(t, store.SaveDiscountCode(ctx, scoped))

	require.NoError(t, store.IncrementDiscountUsage(ctx, &scoped, "org-1"))
	require.NoError(t, store.IncrementDiscountUsage(ctx, &scoped, "org-1"))
	assert.Error(t, store.IncrementDiscountUsage(ctx, &scoped, "org-1"))

	used, err := store.DiscountUsage(ctx, "d-2", "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, used)
}

// =============================================================================
// LEDGER & BOOKINGS
// =============================================================================

func TestStore_TransactionCounters_CompareAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := &portal.Transaction{
		OrganizationID:   "org-1",
		ProgramName:      "leaders",
		Type:             portal.TxPurchase,
		Quantity:         10,
		Value:            decimal.NewFromInt(100),
		OriginalQuantity: 10,
	}
	require.NoError(t, store.AppendTransaction(ctx, tx))
	require.NotEmpty(t, tx.ID)

	require.NoError(t, store.UpdateTransactionCounters(ctx, tx.ID, 0, 4, portal.TxActive))
	err := store.UpdateTransactionCounters(ctx, tx.ID, 0, 6, portal.TxActive)
	assert.ErrorIs(t, err, portal.ErrConcurrentModification)

	got, err := store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CancelledQuantity)
	assert.Equal(t, 6, got.Uncancelled())
}

func TestStore_AnnotateTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := &portal.Transaction{OrganizationID: "org-1", ProgramName: "leaders", Type: portal.TxUsage, Quantity: -2}
	require.NoError(t, store.AppendTransaction(ctx, tx))

	require.NoError(t, store.AnnotateTransaction(ctx, tx.ID, "confirmed=2"))
	got, err := store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "confirmed=2", got.Notes)

	assert.True(t, portal.IsNotFound(store.AnnotateTransaction(ctx, "missing", "x")))
}

func TestStore_ClaimPaymentIntent_OnlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ClaimPaymentIntent(ctx, "pi_1", "org-1", "PU-1", decimal.NewFromInt(60)))

	err := store.ClaimPaymentIntent(ctx, "pi_1", "org-1", "PU-2", decimal.NewFromInt(60))
	assert.ErrorIs(t, err, portal.ErrValidation)
	assert.Contains(t, err.Error(), "already been used")

	require.NoError(t, store.ClaimPaymentIntent(ctx, "pi_2", "org-1", "PU-2", decimal.NewFromInt(60)))
}

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedOrg(t, store, map[string]int{"leaders": 5}, "0")

	err := store.WithTx(ctx, func(r portal.Repository) error {
		if _, err := r.AdjustProgramBalance(ctx, "org-1", "leaders", -2); err != nil {
			return err
		}
		return portal.Invalid("x", "abort")
	})
	require.Error(t, err)

	balance, err := store.ProgramBalance(ctx, "org-1", "leaders")
	require.NoError(t, err)
	assert.Equal(t, 5, balance)
}

func TestStore_BookingStatusTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bookings := []portal.Booking{{
		EventID:           "evt-1",
		MemberID:          "mem-1",
		OrganizationID:    "org-1",
		Attendee:          portal.Attendee{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		BookingReference:  "BK-1",
		Status:            portal.BookingPending,
		ConfirmationToken: "tok-1",
	}}
	require.NoError(t, store.CreateBookings(ctx, bookings))

	b, err := store.GetBookingByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", b.Attendee.Email)

	// Not in the table
	err = store.UpdateBookingStatus(ctx, b.ID, portal.BookingCancelled, portal.BookingConfirmed, "")
	assert.ErrorIs(t, err, portal.ErrValidation)

	require.NoError(t, store.UpdateBookingStatus(ctx, b.ID, portal.BookingPending, portal.BookingConfirmed, "ord-9"))

	// Stale from-status
	err = store.UpdateBookingStatus(ctx, b.ID, portal.BookingPending, portal.BookingCancelled, "")
	assert.ErrorIs(t, err, portal.ErrConcurrentModification)

	rows, err := store.ListBookingsByReference(ctx, "BK-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, portal.BookingConfirmed, rows[0].Status)
	assert.Equal(t, "ord-9", rows[0].ExternalReservationID)
}

func TestStore_IsAdmin_CaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveAdmin(ctx, "Admin@Example.com"))

	ok, err := store.IsAdmin(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsAdmin(ctx, "someone@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ProgramOfferRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProgram(ctx, portal.Program{
		ID:        "p-1",
		Tag:       "leaders",
		Name:      "Leaders Programme",
		UnitPrice: decimal.NewFromInt(10),
		Offer:     portal.Offer{Type: portal.OfferBogo, BuyQuantity: 2, FreeQuantity: 1, Logic: portal.BogoSet},
	}))

	p, err := store.GetProgram(ctx, "leaders")
	require.NoError(t, err)
	assert.Equal(t, portal.OfferBogo, p.Offer.Type)
	assert.Equal(t, portal.BogoSet, p.Offer.Logic)
	assert.Equal(t, 2, p.Offer.BuyQuantity)

	_, err = store.GetProgram(ctx, "missing")
	assert.True(t, portal.IsNotFound(err))
}
