package booking

import (
	"context"
	"fmt"
	"log"

	"github.com/warp/member-portal/portal"
)

// ConfirmResult is a booking after its confirmation link was used.
type ConfirmResult struct {
	Booking *portal.Booking
	Warning string
}

// Confirm reserves the attendee behind a link-mode confirmation token.
// It also retries a booking left in a pending_*_sync status.
func (o *Orchestrator) Confirm(ctx context.Context, token string) (*ConfirmResult, error) {
	b, err := o.repo.GetBookingByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	switch {
	case b.Status == portal.BookingConfirmed:
		return nil, portal.Invalid("token", "booking is already confirmed")
	case b.Status == portal.BookingCancelled:
		return nil, portal.Invalid("token", "booking was cancelled")
	}

	event, err := o.repo.GetEvent(ctx, b.EventID)
	if err != nil {
		return nil, err
	}
	target := o.reservations.Resolve(ctx, event)
	outcome := o.reservations.Reserve(ctx, target, b.Attendee)
	next := outcome.Status(target)

	res := &ConfirmResult{Booking: b}
	if !outcome.Success {
		res.Warning = fmt.Sprintf("%s could not be registered on %s and is pending sync", b.Attendee.Email, target.Platform())
	}
	if next == b.Status {
		log.Printf("[Booking] %s confirm %s: still %s", b.BookingReference, b.Attendee.Email, b.Status)
		return res, nil
	}

	if err := o.repo.UpdateBookingStatus(ctx, b.ID, b.Status, next, outcome.ExternalID); err != nil {
		return nil, err
	}
	log.Printf("[Booking] %s confirm %s: %s -> %s external=%q",
		b.BookingReference, b.Attendee.Email, b.Status, next, outcome.ExternalID)

	b.Status = next
	if outcome.ExternalID != "" {
		b.ExternalReservationID = outcome.ExternalID
	}
	return res, nil
}

// Lookup returns every attendee row of a booking reference.
func (o *Orchestrator) Lookup(ctx context.Context, reference string) ([]portal.Booking, error) {
	bookings, err := o.repo.ListBookingsByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, portal.NotFound("booking", reference)
	}
	return bookings, nil
}
