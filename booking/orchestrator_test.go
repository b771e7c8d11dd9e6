package booking_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/member-portal/booking"
	"github.com/warp/member-portal/events"
	"github.com/warp/member-portal/portal"
	"github.com/warp/member-portal/reservation"
	"github.com/warp/member-portal/store/sqlite"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// =============================================================================
// FAKES
// =============================================================================

type fakeTicketing struct {
	mu       sync.Mutex
	existing []string
	failFor  map[string]bool
	orders   []string
}

func (f *fakeTicketing) CreateOrder(_ context.Context, eventID, _ string, a portal.Attendee) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[a.Email] {
		return "", errors.New("backstage unavailable")
	}
	f.orders = append(f.orders, a.Email)
	return "ord-" + a.Email, nil
}

func (f *fakeTicketing) ListOrderEmails(context.Context, string) ([]string, error) {
	return f.existing, nil
}

func (f *fakeTicketing) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeVerifier struct {
	amounts []decimal.Decimal
	err     error
}

func (f *fakeVerifier) VerifyPayment(_ context.Context, _ string, amount decimal.Decimal) error {
	f.amounts = append(f.amounts, amount)
	return f.err
}

type fakeAccounting struct {
	fail     bool
	requests []portal.InvoiceRequest
}

func (f *fakeAccounting) FindOrCreateContact(_ context.Context, name string) (string, error) {
	if f.fail {
		return "", &portal.ExternalError{Platform: "xero", Operation: "find contact", Err: errors.New("503")}
	}
	return "contact-" + name, nil
}

func (f *fakeAccounting) CreateInvoice(_ context.Context, req portal.InvoiceRequest) (*portal.Invoice, error) {
	f.requests = append(f.requests, req)
	return &portal.Invoice{ID: "inv-1", Number: "INV-0001", Total: req.Lines[0].UnitAmount.StringFixed(2)}, nil
}

type countingWebinars struct {
	lookups int
}

func (w *countingWebinars) GetWebinar(_ context.Context, id string) (*reservation.WebinarInfo, error) {
	w.lookups++
	return &reservation.WebinarInfo{ID: id, RegistrationRequired: true}, nil
}

func (w *countingWebinars) Register(_ context.Context, _ string, a portal.Attendee) (string, error) {
	return "reg-" + a.Email, nil
}

func (w *countingWebinars) ListRegistrantEmails(context.Context, string) ([]string, error) {
	return nil, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	store      *sqlite.Store
	ticketing  *fakeTicketing
	verifier   *fakeVerifier
	accounting *fakeAccounting
	publisher  *recordingPublisher
	orch       *booking.Orchestrator
}

func newFixture(t *testing.T, balances map[string]int, fund string) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveOrganization(ctx, portal.Organization{
		ID:                    "org-1",
		Name:                  "Acme Ltd",
		TrainingFundBalance:   decimal.RequireFromString(fund),
		ProgramTicketBalances: balances,
		PurchaseOrderEnabled:  true,
	}))
	require.NoError(t, store.SaveProgram(ctx, portal.Program{
		ID:        "prog-1",
		Tag:       "leaders",
		Name:      "Leaders",
		UnitPrice: decimal.NewFromInt(20),
		Offer: portal.Offer{
			Type:           portal.OfferBulkDiscount,
			BulkThreshold:  10,
			BulkPercentage: decimal.NewFromInt(15),
		},
	}))
	require.NoError(t, store.SaveEvent(ctx, portal.Event{
		ID:              "evt-1",
		Title:           "Leadership Summit",
		StartsAt:        testNow.Add(14 * 24 * time.Hour),
		ExternalEventID: "bs-1",
		TicketClassID:   "tc-1",
	}))

	f := &fixture{
		store:      store,
		ticketing:  &fakeTicketing{failFor: map[string]bool{}},
		verifier:   &fakeVerifier{},
		accounting: &fakeAccounting{},
		publisher:  &recordingPublisher{},
	}
	coordinator := reservation.NewCoordinator(f.ticketing, nil)
	f.orch = booking.New(store, coordinator, booking.Options{
		Payments:         f.verifier,
		Accounting:       f.accounting,
		Publisher:        f.publisher,
		InvoicingEnabled: true,
	}).WithClock(func() time.Time { return testNow })
	return f
}

func (f *fixture) balance(t *testing.T) int {
	b, err := f.store.ProgramBalance(context.Background(), "org-1", "leaders")
	require.NoError(t, err)
	return b
}

func (f *fixture) transactions(t *testing.T) []portal.Transaction {
	txs, err := f.store.ListTransactions(context.Background(), "org-1")
	require.NoError(t, err)
	return txs
}

func (f *fixture) voucher(t *testing.T, id string) portal.Voucher {
	vs, err := f.store.GetVouchers(context.Background(), []string{id})
	require.NoError(t, err)
	return vs[0]
}

func attendees(emails ...string) []portal.Attendee {
	out := make([]portal.Attendee, len(emails))
	for i, e := range emails {
		out[i] = portal.Attendee{FirstName: strings.Split(e, "@")[0], LastName: "Tester", Email: e}
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// PURCHASE
// =============================================================================

func TestPurchase_CommitsFundingAndLedgerRows(t *testing.T) {
	// GIVEN: A £30 voucher, £50 training fund and a PO-enabled account
	// WHEN: Buying 12 leaders tickets (bulk offer: £204)
	// THEN: Every source is debited, 4 ledger rows written, invoice raised

	f := newFixture(t, nil, "50.00")
	ctx := context.Background()
	require.NoError(t, f.store.SaveVoucher(ctx, portal.Voucher{
		ID: "v-1", OrganizationID: "org-1", RemainingValue: dec("30"), ExpiresAt: testNow.AddDate(0, 6, 0),
	}))

	res, err := f.orch.Purchase(ctx, booking.PurchaseRequest{
		OrganizationID: "org-1",
		Actor:          "member@acme.test",
		ProgramTag:     "leaders",
		Quantity:       12,
		Payment: booking.Payment{
			VoucherIDs:          []string{"v-1"},
			TrainingFundAmount:  dec("50"),
			AccountAmount:       dec("124"),
			PurchaseOrderNumber: "PO-1",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 12, res.TotalTicketsReceived)
	assert.Equal(t, "204.00", res.TotalCost.StringFixed(2))
	assert.Equal(t, "30.00", res.Payment.Voucher.StringFixed(2))
	assert.Equal(t, "50.00", res.Payment.TrainingFund.StringFixed(2))
	assert.Equal(t, "124.00", res.Payment.Account.StringFixed(2))
	assert.Equal(t, 12, res.Balance)
	assert.Empty(t, res.Warning)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, "INV-0001", res.Invoice.Number)

	assert.Equal(t, 12, f.balance(t))
	v := f.voucher(t, "v-1")
	assert.Equal(t, portal.VoucherUsed, v.Status)
	assert.True(t, v.RemainingValue.IsZero())

	org, err := f.store.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, org.TrainingFundBalance.IsZero())

	txs := f.transactions(t)
	require.Len(t, txs, 4)
	types := map[portal.TransactionType]int{}
	for _, tx := range txs {
		types[tx.Type]++
		if tx.Type != portal.TxPurchase {
			assert.Equal(t, res.TransactionID, tx.RelatedTransactionID)
		}
	}
	assert.Equal(t, 1, types[portal.TxPurchase])
	assert.Equal(t, 1, types[portal.TxVoucher])
	assert.Equal(t, 1, types[portal.TxTrainingFundUsage])
	assert.Equal(t, 1, types[portal.TxAccountCharge])

	require.Len(t, f.accounting.requests, 1)
	assert.Equal(t, "contact-Acme Ltd", f.accounting.requests[0].ContactID)
	assert.Equal(t, "PO-1", f.accounting.requests[0].PurchaseOrderNumber)
	assert.Equal(t, res.Reference, f.accounting.requests[0].Reference)
	assert.Contains(t, f.publisher.keys, events.TicketsPurchased)
}

func TestPurchase_AllocationMismatchHasNoSideEffects(t *testing.T) {
	// GIVEN: The same funding, but £24 short of the total
	// WHEN: Purchasing
	// THEN: Mismatch error; voucher, fund, balance and ledger untouched

	f := newFixture(t, nil, "50.00")
	ctx := context.Background()
	require.NoError(t, f.store.SaveVoucher(ctx, portal.Voucher{
		ID: "v-1", OrganizationID: "org-1", RemainingValue: dec("30"), ExpiresAt: testNow.AddDate(0, 6, 0),
	}))

	_, err := f.orch.Purchase(ctx, booking.PurchaseRequest{
		OrganizationID: "org-1",
		ProgramTag:     "leaders",
		Quantity:       12,
		Payment: booking.Payment{
			VoucherIDs:          []string{"v-1"},
			TrainingFundAmount:  dec("50"),
			AccountAmount:       dec("100"),
			PurchaseOrderNumber: "PO-1",
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrValidation)
	assert.Equal(t, "payment allocation does not match total cost", err.Error())

	assert.Equal(t, 0, f.balance(t))
	assert.Empty(t, f.transactions(t))
	v := f.voucher(t, "v-1")
	assert.Equal(t, portal.VoucherActive, v.Status)
	assert.Equal(t, "30.00", v.RemainingValue.StringFixed(2))
	org, err := f.store.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "50.00", org.TrainingFundBalance.StringFixed(2))
	assert.Empty(t, f.accounting.requests)
}

func TestPurchase_InvoiceFailureIsAWarning(t *testing.T) {
	f := newFixture(t, nil, "0")
	f.accounting.fail = true

	res, err := f.orch.Purchase(context.Background(), booking.PurchaseRequest{
		OrganizationID: "org-1",
		ProgramTag:     "leaders",
		Quantity:       2,
		Payment:        booking.Payment{AccountAmount: dec("40"), POToFollow: true},
	})
	require.NoError(t, err)

	assert.Nil(t, res.Invoice)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 2, f.balance(t))
	assert.Contains(t, f.publisher.keys, events.InvoiceFailed)
	assert.Contains(t, f.publisher.keys, events.TicketsPurchased)
}

func TestPurchase_CardRemainderIsVerified(t *testing.T) {
	// GIVEN: Card method with no explicit card amount
	// WHEN: Purchasing 3 tickets (£60)
	// THEN: The whole £60 is verified against the payment intent

	f := newFixture(t, nil, "0")

	res, err := f.orch.Purchase(context.Background(), booking.PurchaseRequest{
		OrganizationID: "org-1",
		ProgramTag:     "leaders",
		Quantity:       3,
		Payment:        booking.Payment{Method: booking.MethodCard, PaymentIntentID: "pi_1"},
	})
	require.NoError(t, err)

	require.Len(t, f.verifier.amounts, 1)
	assert.Equal(t, "60.00", f.verifier.amounts[0].StringFixed(2))
	assert.Equal(t, "60.00", res.Payment.Card.StringFixed(2))
	assert.Nil(t, res.Invoice)
}

func TestPurchase_FailedCardVerificationAborts(t *testing.T) {
	f := newFixture(t, nil, "0")
	f.verifier.err = portal.Invalid("stripePaymentIntentId", "payment pi_1 has not succeeded")

	_, err := f.orch.Purchase(context.Background(), booking.PurchaseRequest{
		OrganizationID: "org-1",
		ProgramTag:     "leaders",
		Quantity:       3,
		Payment:        booking.Payment{CardAmount: dec("60"), PaymentIntentID: "pi_1"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrValidation)
	assert.Equal(t, 0, f.balance(t))
	assert.Empty(t, f.transactions(t))
}

func TestPurchase_PaymentIntentFundsOnePurchase(t *testing.T) {
	// GIVEN: A succeeded £60 payment intent already used for 3 tickets
	// WHEN: Purchasing 3 more tickets with the same intent
	// THEN: Rejected as invalid, nothing granted the second time

	f := newFixture(t, nil, "0")
	ctx := context.Background()
	req := booking.PurchaseRequest{
		OrganizationID: "org-1",
		ProgramTag:     "leaders",
		Quantity:       3,
		Payment:        booking.Payment{CardAmount: dec("60"), PaymentIntentID: "pi_same"},
	}

	_, err := f.orch.Purchase(ctx, req)
	require.NoError(t, err)

	_, err = f.orch.Purchase(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrValidation)
	assert.Contains(t, err.Error(), "pi_same")

	assert.Equal(t, 3, f.balance(t))
	assert.Len(t, f.transactions(t), 1)
}

func TestPurchase_RepeatedVoucherIsRejected(t *testing.T) {
	// GIVEN: One £30 voucher
	// WHEN: Selecting it twice for a £60 purchase
	// THEN: Validation error, voucher untouched, no rows

	f := newFixture(t, nil, "0")
	ctx := context.Background()
	require.NoError(t, f.store.SaveVoucher(ctx, portal.Voucher{
		ID: "v-1", OrganizationID: "org-1", RemainingValue: dec("30"), ExpiresAt: testNow.AddDate(0, 6, 0),
	}))

	_, err := f.orch.Purchase(ctx, booking.PurchaseRequest{
		OrganizationID: "org-1",
		ProgramTag:     "leaders",
		Quantity:       3,
		Payment:        booking.Payment{VoucherIDs: []string{"v-1", "v-1"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrValidation)
	assert.False(t, portal.IsRetryable(err))

	assert.Equal(t, "30.00", f.voucher(t, "v-1").RemainingValue.StringFixed(2))
	assert.Equal(t, 0, f.balance(t))
	assert.Empty(t, f.transactions(t))
}

func TestPurchase_DiscountUsageIsCounted(t *testing.T) {
	f := newFixture(t, nil, "0")
	ctx := context.Background()
	require.NoError(t, f.store.SaveDiscountCode(ctx, portal.DiscountCode{
		ID: "d-1", Code: "FOUR", Type: portal.DiscountFixed, Value: dec("4"), Active: true, MaxUsage: 1,
	}))

	req := booking.PurchaseRequest{
		OrganizationID: "org-1",
		ProgramTag:     "leaders",
		Quantity:       12,
		DiscountCodeID: "d-1",
		Payment:        booking.Payment{AccountAmount: dec("200"), PurchaseOrderNumber: "PO-9"},
	}
	res, err := f.orch.Purchase(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.DiscountApplied)
	assert.Equal(t, "200.00", res.TotalCost.StringFixed(2))

	// Second use exceeds the limit
	_, err = f.orch.Purchase(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrValidation)
	assert.Equal(t, 12, f.balance(t))
}

// =============================================================================
// BOOKING
// =============================================================================

func TestBook_PartialExternalFailureDegrades(t *testing.T) {
	// GIVEN: 3 attendees, the platform rejects the second one
	// WHEN: Booking
	// THEN: 2 confirmed, 1 pending_backstage_sync, warning, success

	f := newFixture(t, map[string]int{"leaders": 5}, "0")
	f.ticketing.failFor["b@example.com"] = true

	res, err := f.orch.Book(context.Background(), booking.Request{
		EventID:        "evt-1",
		OrganizationID: "org-1",
		MemberID:       "mem-1",
		Attendees:      attendees("a@example.com", "b@example.com", "c@example.com"),
		ProgramTag:     "leaders",
	})
	require.NoError(t, err)

	require.Len(t, res.Bookings, 3)
	assert.Equal(t, portal.BookingConfirmed, res.Bookings[0].Status)
	assert.Equal(t, portal.BookingPendingBackstageSync, res.Bookings[1].Status)
	assert.Equal(t, portal.BookingConfirmed, res.Bookings[2].Status)
	assert.Equal(t, "ord-a@example.com", res.Bookings[0].ExternalReservationID)
	assert.Contains(t, res.Warning, "1 of 3")
	assert.Equal(t, 2, res.RemainingBalance)
	assert.Equal(t, 2, f.balance(t))

	stored, err := f.orch.Lookup(context.Background(), res.Reference)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Contains(t, f.publisher.keys, events.BookingCreated)

	// The usage row carries the final outcome
	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, portal.TxUsage, txs[0].Type)
	assert.Equal(t, res.UsageTransactionID, txs[0].ID)
	assert.Contains(t, txs[0].Notes, "confirmed=2")
	assert.Contains(t, txs[0].Notes, "pending_backstage_sync=1")
	assert.Contains(t, txs[0].Notes, "pending sync: b@example.com")
	assert.Contains(t, txs[0].Notes, "ord-a@example.com,ord-c@example.com")
}

func TestBook_DuplicatePrecheckRejectsBatch(t *testing.T) {
	// GIVEN: b@example.com already holds an order for the event
	// WHEN: Booking a, b and c
	// THEN: Duplicate error naming b; no rows, no balance change, no orders

	f := newFixture(t, map[string]int{"leaders": 5}, "0")
	f.ticketing.existing = []string{"B@Example.com"}

	_, err := f.orch.Book(context.Background(), booking.Request{
		EventID:        "evt-1",
		OrganizationID: "org-1",
		Attendees:      attendees("a@example.com", "b@example.com", "c@example.com"),
		ProgramTag:     "leaders",
	})
	require.Error(t, err)

	var dup *portal.DuplicateRegistrationError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []string{"b@example.com"}, dup.Emails)

	assert.Equal(t, 5, f.balance(t))
	assert.Empty(t, f.transactions(t))
	assert.Equal(t, 0, f.ticketing.orderCount())
}

func TestBook_InsufficientBalanceAbortsBeforeReservations(t *testing.T) {
	f := newFixture(t, map[string]int{"leaders": 1}, "0")

	_, err := f.orch.Book(context.Background(), booking.Request{
		EventID:        "evt-1",
		OrganizationID: "org-1",
		Attendees:      attendees("a@example.com", "b@example.com"),
		ProgramTag:     "leaders",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrInsufficientBalance)
	assert.Equal(t, 1, f.balance(t))
	assert.Equal(t, 0, f.ticketing.orderCount())
}

func TestBook_InsufficientBalanceSkipsWebinarLookup(t *testing.T) {
	// GIVEN: A webinar event and an organization with 1 ticket
	// WHEN: Booking 2 attendees
	// THEN: Insufficient balance before the webinar platform is asked anything

	f := newFixture(t, map[string]int{"leaders": 1}, "0")
	ctx := context.Background()
	require.NoError(t, f.store.SaveEvent(ctx, portal.Event{
		ID:       "evt-web",
		Title:    "Online Briefing",
		Location: "https://us02web.zoom.us/j/123456789",
		StartsAt: testNow.Add(7 * 24 * time.Hour),
	}))
	webinars := &countingWebinars{}
	orch := booking.New(f.store, reservation.NewCoordinator(f.ticketing, webinars), booking.Options{}).
		WithClock(func() time.Time { return testNow })

	_, err := orch.Book(ctx, booking.Request{
		EventID:        "evt-web",
		OrganizationID: "org-1",
		Attendees:      attendees("a@example.com", "b@example.com"),
		ProgramTag:     "leaders",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrInsufficientBalance)
	assert.Equal(t, 0, webinars.lookups)

	// With enough balance the webinar is resolved and registered
	res, err := orch.Book(ctx, booking.Request{
		EventID:        "evt-web",
		OrganizationID: "org-1",
		Attendees:      attendees("a@example.com"),
		ProgramTag:     "leaders",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, webinars.lookups)
	assert.Equal(t, "reg-a@example.com", res.Bookings[0].ExternalReservationID)
}

func TestBook_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, map[string]int{"leaders": 5}, "0")

	tests := []struct {
		name string
		req  booking.Request
	}{
		{"no attendees", booking.Request{EventID: "evt-1", OrganizationID: "org-1", ProgramTag: "leaders"}},
		{"repeated attendee", booking.Request{EventID: "evt-1", OrganizationID: "org-1", ProgramTag: "leaders",
			Attendees: attendees("a@example.com", "A@example.com")}},
		{"unknown mode", booking.Request{EventID: "evt-1", OrganizationID: "org-1", ProgramTag: "leaders",
			Attendees: attendees("a@example.com"), RegistrationMode: "carrier-pigeon"}},
		{"missing program", booking.Request{EventID: "evt-1", OrganizationID: "org-1",
			Attendees: attendees("a@example.com")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Book(context.Background(), tt.req)
			assert.ErrorIs(t, err, portal.ErrValidation)
		})
	}
	assert.Equal(t, 5, f.balance(t))
}

func TestBook_UnknownEventIsNotFound(t *testing.T) {
	f := newFixture(t, map[string]int{"leaders": 5}, "0")

	_, err := f.orch.Book(context.Background(), booking.Request{
		EventID:        "evt-missing",
		OrganizationID: "org-1",
		Attendees:      attendees("a@example.com"),
		ProgramTag:     "leaders",
	})
	assert.True(t, portal.IsNotFound(err))
}

func TestBook_PaidEventSplitsFunding(t *testing.T) {
	// GIVEN: A £25 event and £50 of training fund
	// WHEN: Booking two attendees on training fund
	// THEN: £25 fund per booking, fund drained, usage + fund rows

	f := newFixture(t, map[string]int{"leaders": 5}, "50.00")
	ctx := context.Background()
	require.NoError(t, f.store.SaveEvent(ctx, portal.Event{
		ID: "evt-paid", Title: "Masterclass", StartsAt: testNow.AddDate(0, 1, 0), Price: dec("25"),
	}))

	res, err := f.orch.Book(ctx, booking.Request{
		EventID:        "evt-paid",
		OrganizationID: "org-1",
		Attendees:      attendees("a@example.com", "b@example.com"),
		ProgramTag:     "leaders",
		Payment:        &booking.Payment{TrainingFundAmount: dec("50")},
	})
	require.NoError(t, err)

	for _, b := range res.Bookings {
		assert.Equal(t, portal.BookingConfirmed, b.Status)
		assert.Equal(t, "25.00", b.TrainingFundAmount.StringFixed(2))
	}
	org, err := f.store.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, org.TrainingFundBalance.IsZero())

	txs := f.transactions(t)
	require.Len(t, txs, 2)
	byType := map[portal.TransactionType]portal.Transaction{}
	for _, tx := range txs {
		byType[tx.Type] = tx
	}
	assert.Equal(t, -2, byType[portal.TxUsage].Quantity)
	assert.Equal(t, res.UsageTransactionID, byType[portal.TxTrainingFundUsage].RelatedTransactionID)
}

func TestBook_PaidEventWithoutPaymentIsRejected(t *testing.T) {
	f := newFixture(t, map[string]int{"leaders": 5}, "0")
	ctx := context.Background()
	require.NoError(t, f.store.SaveEvent(ctx, portal.Event{
		ID: "evt-paid", Title: "Masterclass", StartsAt: testNow.AddDate(0, 1, 0), Price: dec("25"),
	}))

	_, err := f.orch.Book(ctx, booking.Request{
		EventID:        "evt-paid",
		OrganizationID: "org-1",
		Attendees:      attendees("a@example.com"),
		ProgramTag:     "leaders",
	})
	assert.ErrorIs(t, err, portal.ErrValidation)
	assert.Equal(t, 5, f.balance(t))
}

// =============================================================================
// LINK MODE
// =============================================================================

func TestBook_LinkModeDefersReservationUntilConfirm(t *testing.T) {
	// GIVEN: A link-mode booking
	// WHEN: The attendee confirms through the token
	// THEN: The order is created and the booking moves pending -> confirmed

	f := newFixture(t, map[string]int{"leaders": 5}, "0")
	ctx := context.Background()

	res, err := f.orch.Book(ctx, booking.Request{
		EventID:          "evt-1",
		OrganizationID:   "org-1",
		Attendees:        attendees("a@example.com"),
		RegistrationMode: booking.ModeLink,
		ProgramTag:       "leaders",
	})
	require.NoError(t, err)
	require.Len(t, res.Bookings, 1)
	assert.Equal(t, portal.BookingPending, res.Bookings[0].Status)
	require.NotEmpty(t, res.Bookings[0].ConfirmationToken)
	assert.Equal(t, 0, f.ticketing.orderCount())
	assert.Equal(t, 4, f.balance(t))

	confirmed, err := f.orch.Confirm(ctx, res.Bookings[0].ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, portal.BookingConfirmed, confirmed.Booking.Status)
	assert.Equal(t, "ord-a@example.com", confirmed.Booking.ExternalReservationID)
	assert.Empty(t, confirmed.Warning)
	assert.Equal(t, 1, f.ticketing.orderCount())

	_, err = f.orch.Confirm(ctx, res.Bookings[0].ConfirmationToken)
	assert.ErrorIs(t, err, portal.ErrValidation)
}

func TestConfirm_FailedReservationDegrades(t *testing.T) {
	f := newFixture(t, map[string]int{"leaders": 5}, "0")
	ctx := context.Background()
	f.ticketing.failFor["a@example.com"] = true

	res, err := f.orch.Book(ctx, booking.Request{
		EventID:          "evt-1",
		OrganizationID:   "org-1",
		Attendees:        attendees("a@example.com"),
		RegistrationMode: booking.ModeLink,
		ProgramTag:       "leaders",
	})
	require.NoError(t, err)

	confirmed, err := f.orch.Confirm(ctx, res.Bookings[0].ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, portal.BookingPendingBackstageSync, confirmed.Booking.Status)
	assert.NotEmpty(t, confirmed.Warning)

	// Platform recovers: confirming again reconciles
	f.ticketing.failFor["a@example.com"] = false
	confirmed, err = f.orch.Confirm(ctx, res.Bookings[0].ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, portal.BookingConfirmed, confirmed.Booking.Status)
}

func TestConfirm_UnknownToken(t *testing.T) {
	f := newFixture(t, nil, "0")
	_, err := f.orch.Confirm(context.Background(), "nope")
	assert.True(t, portal.IsNotFound(err))
}
