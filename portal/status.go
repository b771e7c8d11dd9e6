package portal

import "fmt"

// =============================================================================
// LEDGER ROW TYPES
// =============================================================================

type TransactionType string

const (
	TxPurchase          TransactionType = "purchase"
	TxUsage             TransactionType = "usage"
	TxRefund            TransactionType = "refund"
	TxVoucher           TransactionType = "voucher"
	TxTrainingFundUsage TransactionType = "training_fund_usage"
	TxAccountCharge     TransactionType = "account_charge"
	TxCancellationVoid  TransactionType = "cancellation_void"
	TxReinstatement     TransactionType = "reinstatement"
)

type TransactionStatus string

const (
	TxActive    TransactionStatus = "active"
	TxCancelled TransactionStatus = "cancelled"
)

// =============================================================================
// BOOKING STATUS - Closed enumeration with a transition table
// =============================================================================

type BookingStatus string

const (
	BookingPending              BookingStatus = "pending"
	BookingConfirmed            BookingStatus = "confirmed"
	BookingPendingBackstageSync BookingStatus = "pending_backstage_sync"
	BookingPendingZoomSync      BookingStatus = "pending_zoom_sync"
	BookingCancelled            BookingStatus = "cancelled"
)

// bookingTransitions lists every allowed status change. Anything not listed
// is rejected, including staying in a terminal state.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:              {BookingConfirmed, BookingPendingBackstageSync, BookingPendingZoomSync, BookingCancelled},
	BookingPendingBackstageSync: {BookingConfirmed, BookingCancelled},
	BookingPendingZoomSync:      {BookingConfirmed, BookingCancelled},
	BookingConfirmed:            {BookingCancelled},
	BookingCancelled:            nil,
}

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// Degraded reports whether the booking is waiting on a platform sync.
func (s BookingStatus) Degraded() bool {
	return s == BookingPendingBackstageSync || s == BookingPendingZoomSync
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns to when the move is allowed, or an error naming both ends.
func Transition(from, to BookingStatus) (BookingStatus, error) {
	if !CanTransition(from, to) {
		return from, &ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("booking cannot move from %s to %s", from, to),
		}
	}
	return to, nil
}
