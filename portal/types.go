/*
Package portal holds the domain model of the member portal's booking core.

PURPOSE:
  Organizations hold prepaid program tickets and a training fund. Members
  spend them on event bookings, buy more tickets, and admins can cancel or
  reinstate purchases. This package defines the shared types; behavior
  lives in the ledger, pricing, allocation, reservation, booking and
  cancellation packages.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal currency, rounded to pence at the edges
  - Organization: balances that are only mutated through the ledger
  - Program / Offer: what a ticket costs and which offer applies
  - Voucher / DiscountCode: ways to reduce what is owed
  - Transaction: one append-only ledger row
  - Booking: one attendee row grouped by a booking reference

DESIGN PRINCIPLES:
  1. Precision: currency is decimal.Decimal, never float64
  2. Append-only ledger: rows are added; only the cancellation counters
     of a purchase row ever change
  3. Closed enumerations for statuses (see status.go)

SEE ALSO:
  - status.go: Booking status transition table
  - errors.go: Error taxonomy
  - store.go: Repository interface
*/
package portal

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Tolerance is the rounding slack allowed when comparing currency sums.
var Tolerance = decimal.NewFromFloat(0.01)

// Pence rounds a currency amount to two decimal places.
func Pence(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MinDecimal returns the smallest of the given values.
func MinDecimal(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	m := first
	for _, d := range rest {
		if d.LessThan(m) {
			m = d
		}
	}
	return m
}

// =============================================================================
// ORGANIZATION
// =============================================================================

type Organization struct {
	ID                    string
	Name                  string
	CRMID                 string
	TrainingFundBalance   decimal.Decimal
	ProgramTicketBalances map[string]int
	PurchaseOrderEnabled  bool
}

// TicketBalance returns the balance for a program tag, zero when absent.
func (o *Organization) TicketBalance(program string) int {
	if o == nil || o.ProgramTicketBalances == nil {
		return 0
	}
	return o.ProgramTicketBalances[program]
}

// =============================================================================
// PROGRAM & OFFER
// =============================================================================

type OfferType string

const (
	OfferNone         OfferType = "none"
	OfferBogo         OfferType = "bogo"
	OfferBulkDiscount OfferType = "bulk_discount"
)

// BogoLogic selects between the two buy-one-get-one variants.
//
//	BogoBuyXGetYFree: free tickets are added on top of the requested quantity
//	BogoSet:          free tickets are folded into the requested quantity
type BogoLogic string

const (
	BogoBuyXGetYFree BogoLogic = "buy_x_get_y_free"
	BogoSet          BogoLogic = "set"
)

type Offer struct {
	Type           OfferType       `json:"type"`
	BuyQuantity    int             `json:"buy_quantity,omitempty"`
	FreeQuantity   int             `json:"free_quantity,omitempty"`
	Logic          BogoLogic       `json:"logic,omitempty"`
	BulkThreshold  int             `json:"bulk_threshold,omitempty"`
	BulkPercentage decimal.Decimal `json:"bulk_percentage,omitempty"`
}

type Program struct {
	ID        string
	Tag       string
	Name      string
	UnitPrice decimal.Decimal
	Offer     Offer
}

// =============================================================================
// VOUCHERS & DISCOUNT CODES
// =============================================================================

type VoucherStatus string

const (
	VoucherActive  VoucherStatus = "active"
	VoucherUsed    VoucherStatus = "used"
	VoucherExpired VoucherStatus = "expired"
)

type Voucher struct {
	ID             string
	OrganizationID string
	RemainingValue decimal.Decimal
	Status         VoucherStatus
	ExpiresAt      time.Time
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type DiscountCode struct {
	ID             string
	Code           string
	Type           DiscountType
	Value          decimal.Decimal
	ProgramTag     string // empty = any program
	OrganizationID string // empty = any organization, usage counted globally
	MinPurchase    decimal.Decimal
	MaxUsage       int // 0 = unlimited
	UsageCount     int
	Active         bool
	ExpiresAt      *time.Time
}

// PerOrganization reports whether usage is counted per organization.
func (d *DiscountCode) PerOrganization() bool { return d.OrganizationID != "" }

// =============================================================================
// TRANSACTION - One append-only ledger row
// =============================================================================

type Transaction struct {
	ID                   string
	OrganizationID       string
	ProgramName          string
	Type                 TransactionType
	Quantity             int
	Value                decimal.Decimal
	OriginalQuantity     int
	CancelledQuantity    int
	Status               TransactionStatus
	RelatedTransactionID string
	BookingReference     string
	Actor                string
	Notes                string
	CreatedAt            time.Time
}

// Uncancelled is the part of a purchase that has not been cancelled yet.
func (t *Transaction) Uncancelled() int { return t.OriginalQuantity - t.CancelledQuantity }

// =============================================================================
// EVENTS, ATTENDEES & BOOKINGS
// =============================================================================

// Event is the collaborator entity a booking points at.
type Event struct {
	ID              string
	Title           string
	Location        string
	StartsAt        time.Time
	ExternalEventID string // ticketing platform event id
	TicketClassID   string
	Price           decimal.Decimal // per attendee; zero for ticket-only events
}

type Attendee struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type Booking struct {
	ID                    string
	EventID               string
	MemberID              string
	OrganizationID        string
	Attendee              Attendee
	BookingReference      string
	Status                BookingStatus
	ExternalReservationID string
	VoucherAmount         decimal.Decimal
	TrainingFundAmount    decimal.Decimal
	AccountAmount         decimal.Decimal
	CardAmount            decimal.Decimal
	ConfirmationToken     string
	CreatedAt             time.Time
}

// PaymentBreakdown is how a cost was funded.
type PaymentBreakdown struct {
	Voucher      decimal.Decimal `json:"voucher"`
	TrainingFund decimal.Decimal `json:"training_fund"`
	Account      decimal.Decimal `json:"account"`
	Card         decimal.Decimal `json:"card"`
}

// Total sums every funding source.
func (p PaymentBreakdown) Total() decimal.Decimal {
	return p.Voucher.Add(p.TrainingFund).Add(p.Account).Add(p.Card)
}
