/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  JSON shapes for the portal's clients. Request types carry validator
  tags checked by Handler.decode before any domain call; response types
  format money as fixed two-decimal strings.

NAMING CONVENTION:
  - *Request:  request bodies
  - *Response: response bodies
  - *DTO:      nested response objects

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/booking"
	"github.com/warp/member-portal/portal"
)

// =============================================================================
// REQUESTS
// =============================================================================

// PaymentDTO is how a purchase or paid booking is funded.
type PaymentDTO struct {
	SelectedVoucherIDs    []string        `json:"selectedVoucherIds" validate:"omitempty,dive,required"`
	TrainingFundAmount    decimal.Decimal `json:"trainingFundAmount"`
	AccountAmount         decimal.Decimal `json:"accountAmount"`
	CardAmount            decimal.Decimal `json:"cardAmount"`
	PaymentMethod         string          `json:"paymentMethod" validate:"omitempty,oneof=voucher training_fund account card mixed"`
	PurchaseOrderNumber   string          `json:"purchaseOrderNumber" validate:"max=64"`
	POToFollow            bool            `json:"poToFollow"`
	StripePaymentIntentID string          `json:"stripePaymentIntentId" validate:"omitempty,startswith=pi_"`
}

func (p PaymentDTO) toPayment() booking.Payment {
	return booking.Payment{
		Method:              p.PaymentMethod,
		VoucherIDs:          p.SelectedVoucherIDs,
		TrainingFundAmount:  p.TrainingFundAmount,
		AccountAmount:       p.AccountAmount,
		CardAmount:          p.CardAmount,
		PurchaseOrderNumber: p.PurchaseOrderNumber,
		POToFollow:          p.POToFollow,
		PaymentIntentID:     p.StripePaymentIntentID,
	}
}

// PurchaseRequest is the body of POST /purchase.
type PurchaseRequest struct {
	ProgramName       string `json:"programName" validate:"required"`
	Quantity          int    `json:"quantity" validate:"required,min=1,max=10000"`
	AppliedDiscountID string `json:"appliedDiscountId"`
	PaymentDTO
}

type AttendeeDTO struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
}

// BookingRequest is the body of POST /booking.
type BookingRequest struct {
	EventID          string        `json:"eventId" validate:"required"`
	Attendees        []AttendeeDTO `json:"attendees" validate:"required,min=1,max=200,dive"`
	RegistrationMode string        `json:"registrationMode" validate:"omitempty,oneof=direct link"`
	TicketsRequired  int           `json:"ticketsRequired" validate:"min=0"`
	ProgramTag       string        `json:"programTag" validate:"required"`
	Payment          *PaymentDTO   `json:"payment"`
}

// CancelRequest is the body of POST /transactions/{id}/cancel.
type CancelRequest struct {
	QuantityToCancel int    `json:"quantityToCancel" validate:"required,min=1"`
	AdminEmail       string `json:"adminEmail" validate:"omitempty,email"`
}

// ReinstateRequest is the body of POST /transactions/{id}/reinstate.
type ReinstateRequest struct {
	AdminEmail string `json:"adminEmail" validate:"omitempty,email"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Success         bool     `json:"success"`
	Error           string   `json:"error"`
	Field           string   `json:"field,omitempty"`
	DuplicateEmails []string `json:"duplicateEmails,omitempty"`
}

type BreakdownDTO struct {
	Voucher      string `json:"voucher"`
	TrainingFund string `json:"training_fund"`
	Account      string `json:"account"`
	Card         string `json:"card"`
}

func toBreakdownDTO(p portal.PaymentBreakdown) BreakdownDTO {
	return BreakdownDTO{
		Voucher:      p.Voucher.StringFixed(2),
		TrainingFund: p.TrainingFund.StringFixed(2),
		Account:      p.Account.StringFixed(2),
		Card:         p.Card.StringFixed(2),
	}
}

type PurchaseResponse struct {
	Success              bool            `json:"success"`
	TransactionID        string          `json:"transaction_id"`
	Reference            string          `json:"reference"`
	TotalTicketsReceived int             `json:"total_tickets_received"`
	TotalCost            string          `json:"total_cost"`
	DiscountApplied      bool            `json:"discount_applied"`
	DiscountDetails      string          `json:"discount_details,omitempty"`
	PaymentBreakdown     BreakdownDTO    `json:"payment_breakdown"`
	RemainingBalance     int             `json:"remaining_balance"`
	XeroInvoice          *portal.Invoice `json:"xero_invoice,omitempty"`
	Warning              string          `json:"warning,omitempty"`
}

type BookingDTO struct {
	ID                    string       `json:"id"`
	EventID               string       `json:"event_id"`
	Attendee              AttendeeDTO  `json:"attendee"`
	BookingReference      string       `json:"booking_reference"`
	Status                string       `json:"status"`
	ExternalReservationID string       `json:"external_reservation_id,omitempty"`
	ConfirmationToken     string       `json:"confirmation_token,omitempty"`
	Payment               BreakdownDTO `json:"payment"`
	CreatedAt             string       `json:"created_at"`
}

func toBookingDTO(b portal.Booking) BookingDTO {
	return BookingDTO{
		ID:      b.ID,
		EventID: b.EventID,
		Attendee: AttendeeDTO{
			FirstName: b.Attendee.FirstName,
			LastName:  b.Attendee.LastName,
			Email:     b.Attendee.Email,
		},
		BookingReference:      b.BookingReference,
		Status:                string(b.Status),
		ExternalReservationID: b.ExternalReservationID,
		ConfirmationToken:     b.ConfirmationToken,
		Payment: toBreakdownDTO(portal.PaymentBreakdown{
			Voucher:      b.VoucherAmount,
			TrainingFund: b.TrainingFundAmount,
			Account:      b.AccountAmount,
			Card:         b.CardAmount,
		}),
		CreatedAt: b.CreatedAt.Format(time.RFC3339),
	}
}

func toBookingDTOs(bookings []portal.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	return dtos
}

type BookingResponse struct {
	Success          bool            `json:"success"`
	BookingReference string          `json:"booking_reference"`
	Bookings         []BookingDTO    `json:"bookings"`
	RemainingBalance int             `json:"remaining_balance"`
	PaymentBreakdown BreakdownDTO    `json:"payment_breakdown"`
	XeroInvoice      *portal.Invoice `json:"xero_invoice,omitempty"`
	Warning          string          `json:"warning,omitempty"`
}

type ConfirmResponse struct {
	Success bool       `json:"success"`
	Booking BookingDTO `json:"booking"`
	Warning string     `json:"warning,omitempty"`
}

type TransactionDTO struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	ProgramName          string `json:"program_name,omitempty"`
	Quantity             int    `json:"quantity"`
	Value                string `json:"value"`
	OriginalQuantity     int    `json:"original_quantity,omitempty"`
	CancelledQuantity    int    `json:"cancelled_quantity,omitempty"`
	Status               string `json:"status"`
	RelatedTransactionID string `json:"related_transaction_id,omitempty"`
	BookingReference     string `json:"booking_reference,omitempty"`
	Actor                string `json:"actor,omitempty"`
	Notes                string `json:"notes,omitempty"`
	CreatedAt            string `json:"created_at"`
}

func toTransactionDTO(tx portal.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                   tx.ID,
		Type:                 string(tx.Type),
		ProgramName:          tx.ProgramName,
		Quantity:             tx.Quantity,
		Value:                tx.Value.StringFixed(2),
		OriginalQuantity:     tx.OriginalQuantity,
		CancelledQuantity:    tx.CancelledQuantity,
		Status:               string(tx.Status),
		RelatedTransactionID: tx.RelatedTransactionID,
		BookingReference:     tx.BookingReference,
		Actor:                tx.Actor,
		Notes:                tx.Notes,
		CreatedAt:            tx.CreatedAt.Format(time.RFC3339Nano),
	}
}

type CorrectionResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	TransactionID     string `json:"transaction_id"`
	AuditTransaction  string `json:"audit_transaction_id"`
	Quantity          int    `json:"quantity"`
	CancelledQuantity int    `json:"cancelled_quantity"`
	Status            string `json:"status"`
	NewBalance        int    `json:"new_balance"`
}

type BalancesResponse struct {
	OrganizationID        string         `json:"organization_id"`
	TrainingFundBalance   string         `json:"training_fund_balance"`
	ProgramTicketBalances map[string]int `json:"program_ticket_balances"`
	PurchaseOrderEnabled  bool           `json:"purchase_order_enabled"`
}
