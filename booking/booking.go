package booking

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/allocation"
	"github.com/warp/member-portal/events"
	"github.com/warp/member-portal/ledger"
	"github.com/warp/member-portal/portal"
	"github.com/warp/member-portal/pricing"
	"github.com/warp/member-portal/reservation"
)

// Registration modes.
const (
	ModeDirect = "direct" // attendees are reserved on the platform now
	ModeLink   = "link"   // attendees confirm later through a token link
)

// Request books attendees onto an event.
type Request struct {
	EventID          string
	OrganizationID   string
	MemberID         string
	Actor            string
	Attendees        []portal.Attendee
	RegistrationMode string
	TicketsRequired  int // defaults to one per attendee
	ProgramTag       string
	Payment          *Payment // required when the event has a price
}

// Result is a persisted booking.
type Result struct {
	Reference          string
	UsageTransactionID string
	Bookings           []portal.Booking
	RemainingBalance   int
	Payment            portal.PaymentBreakdown
	Invoice            *portal.Invoice
	Warning            string
}

func (req *Request) validate() error {
	if req.EventID == "" {
		return portal.Invalid("eventId", "event is required")
	}
	if req.ProgramTag == "" {
		return portal.Invalid("programTag", "program is required")
	}
	if len(req.Attendees) == 0 {
		return portal.Invalid("attendees", "at least one attendee is required")
	}

	seen := make(map[string]bool, len(req.Attendees))
	for _, a := range req.Attendees {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" {
			return portal.Invalid("attendees", "every attendee needs an email")
		}
		if seen[email] {
			return portal.Invalid("attendees", "attendee %s is listed twice", a.Email)
		}
		seen[email] = true
	}

	switch req.RegistrationMode {
	case "":
		req.RegistrationMode = ModeDirect
	case ModeDirect, ModeLink:
	default:
		return portal.Invalid("registrationMode", "unknown registration mode %q", req.RegistrationMode)
	}

	if req.TicketsRequired == 0 {
		req.TicketsRequired = len(req.Attendees)
	}
	if req.TicketsRequired < 0 {
		return portal.Invalid("ticketsRequired", "tickets required cannot be negative")
	}
	return nil
}

// Book runs the booking saga.
func (o *Orchestrator) Book(ctx context.Context, req Request) (*Result, error) {
	ref := newReference("BK")
	o.stage(ref, StageReceived, "event=%s org=%s member=%s attendees=%d mode=%s",
		req.EventID, req.OrganizationID, req.MemberID, len(req.Attendees), req.RegistrationMode)

	if err := req.validate(); err != nil {
		return nil, o.abort(ref, err)
	}

	org, err := o.repo.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		return nil, o.abort(ref, err)
	}
	if _, err := o.repo.GetProgram(ctx, req.ProgramTag); err != nil {
		return nil, o.abort(ref, err)
	}
	event, err := o.repo.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, o.abort(ref, err)
	}
	if err := ledger.New(o.repo).CheckAndReserve(ctx, org.ID, req.ProgramTag, req.TicketsRequired); err != nil {
		return nil, o.abort(ref, err)
	}
	target := o.reservations.Resolve(ctx, event)

	n := len(req.Attendees)
	total := portal.Pence(event.Price.Mul(decimal.NewFromInt(int64(n))))
	o.stage(ref, StagePriced, "tickets=%d target=%s price=%s", req.TicketsRequired, target.Platform(), total.StringFixed(2))

	var (
		plan  = &pricing.VoucherPlan{Total: decimal.Zero}
		alloc = zeroAllocation()
	)
	if total.IsPositive() {
		if req.Payment == nil {
			return nil, o.abort(ref, portal.Invalid("payment", "this event costs %s and needs a payment", total.StringFixed(2)))
		}
		if plan, alloc, err = o.authorize(ctx, org, total, *req.Payment); err != nil {
			return nil, o.abort(ref, err)
		}
	}
	o.stage(ref, StageAllocationValidated, "voucher=%s fund=%s account=%s card=%s",
		alloc.Voucher.StringFixed(2), alloc.TrainingFund.StringFixed(2),
		alloc.Account.StringFixed(2), alloc.Card.StringFixed(2))

	if err := o.reservations.Precheck(ctx, event.ID, target, req.Attendees); err != nil {
		return nil, o.abort(ref, err)
	}

	var (
		usage   *portal.Transaction
		balance int
	)
	err = o.repo.WithTx(ctx, func(r portal.Repository) error {
		var err error
		usage, balance, err = ledger.New(r).CommitUsage(ctx, org.ID, req.ProgramTag, req.TicketsRequired, ref, req.Actor)
		if err != nil {
			return err
		}
		return settle(ctx, r, org, req.ProgramTag, plan, alloc, ref, usage.ID, req.Actor)
	})
	if err != nil {
		return nil, o.abort(ref, err)
	}
	o.stage(ref, StageBalanceReserved, "usage=%s balance=%d", usage.ID, balance)

	bookings := o.buildBookings(ctx, req, ref, target, alloc)

	notes := outcomeNotes(bookings)
	err = o.repo.WithTx(ctx, func(r portal.Repository) error {
		if err := r.CreateBookings(ctx, bookings); err != nil {
			return err
		}
		return ledger.New(r).Annotate(ctx, usage.ID, notes)
	})
	if err != nil {
		log.Printf("[Booking] %s persisting bookings failed after usage %s committed: attendees=%s external=%s: %v",
			ref, usage.ID, attendeeEmails(bookings), externalIDs(bookings), err)
		return nil, fmt.Errorf("booking %s: tickets were debited but bookings could not be saved: %w", ref, err)
	}
	usage.Notes = notes
	o.stage(ref, StagePersisted, "rows=%d outcome=%q", len(bookings), notes)

	res := &Result{
		Reference:          ref,
		UsageTransactionID: usage.ID,
		Bookings:           bookings,
		RemainingBalance:   balance,
		Payment:            alloc.PaymentBreakdown,
	}

	var reserveWarning string
	if failed := degraded(bookings); failed > 0 {
		reserveWarning = fmt.Sprintf("%d of %d attendees could not be registered on %s and are pending sync",
			failed, n, target.Platform())
	}
	var invoiceWarning string
	res.Invoice, invoiceWarning = o.invoice(ctx, org, ref, alloc, []portal.InvoiceLine{{
		Description: fmt.Sprintf("%s x%d attendees", event.Title, n),
		Quantity:    1,
		UnitAmount:  alloc.Account,
	}})
	res.Warning = joinWarnings(reserveWarning, invoiceWarning)

	o.publish(ctx, events.BookingCreated, map[string]any{
		"booking_reference": ref,
		"event_id":          event.ID,
		"organization_id":   org.ID,
		"member_id":         req.MemberID,
		"attendees":         n,
		"tickets":           req.TicketsRequired,
		"degraded":          degraded(bookings),
	})
	o.stage(ref, StageDone, "balance=%d warning=%q", balance, res.Warning)
	return res, nil
}

// buildBookings reserves attendees (direct mode) and builds one row each.
func (o *Orchestrator) buildBookings(ctx context.Context, req Request, ref string, target reservation.Target, alloc *allocation.Allocation) []portal.Booking {
	n := len(req.Attendees)
	voucher := split(alloc.Voucher, n)
	fund := split(alloc.TrainingFund, n)
	account := split(alloc.Account, n)
	card := split(alloc.Card, n)

	var outcomes []reservation.Outcome
	if req.RegistrationMode == ModeDirect {
		outcomes = o.reservations.ReserveAll(ctx, target, req.Attendees)
		o.stage(ref, StageAttendeesReserved, "platform=%s failed=%d", target.Platform(), reservation.Failures(outcomes))
	} else {
		o.stage(ref, StageAttendeesReserved, "link mode, reservations deferred")
	}

	bookings := make([]portal.Booking, n)
	for i, a := range req.Attendees {
		b := portal.Booking{
			EventID:            req.EventID,
			MemberID:           req.MemberID,
			OrganizationID:     req.OrganizationID,
			Attendee:           a,
			BookingReference:   ref,
			VoucherAmount:      voucher[i],
			TrainingFundAmount: fund[i],
			AccountAmount:      account[i],
			CardAmount:         card[i],
		}
		if outcomes == nil {
			b.Status = portal.BookingPending
			b.ConfirmationToken = uuid.NewString()
		} else {
			b.Status = outcomes[i].Status(target)
			b.ExternalReservationID = outcomes[i].ExternalID
			log.Printf("[Booking] %s attendee %s: %s external=%q", ref, a.Email, b.Status, b.ExternalReservationID)
		}
		bookings[i] = b
	}
	return bookings
}

func zeroAllocation() *allocation.Allocation {
	return &allocation.Allocation{PaymentBreakdown: portal.PaymentBreakdown{
		Voucher:      decimal.Zero,
		TrainingFund: decimal.Zero,
		Account:      decimal.Zero,
		Card:         decimal.Zero,
	}}
}

// split divides total into n shares of whole pence; the last share takes
// the remainder.
func split(total decimal.Decimal, n int) []decimal.Decimal {
	parts := make([]decimal.Decimal, n)
	share := total.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	rest := total
	for i := 0; i < n-1; i++ {
		parts[i] = share
		rest = rest.Sub(share)
	}
	parts[n-1] = rest
	return parts
}

func degraded(bookings []portal.Booking) int {
	count := 0
	for _, b := range bookings {
		if b.Status.Degraded() {
			count++
		}
	}
	return count
}

func attendeeEmails(bookings []portal.Booking) string {
	emails := make([]string, len(bookings))
	for i, b := range bookings {
		emails[i] = b.Attendee.Email
	}
	return strings.Join(emails, ",")
}

func externalIDs(bookings []portal.Booking) string {
	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		if b.ExternalReservationID != "" {
			ids = append(ids, b.ExternalReservationID)
		}
	}
	return strings.Join(ids, ",")
}

// outcomeNotes summarizes the reservation outcome for the usage row, e.g.
// "confirmed=2 pending_backstage_sync=1; pending sync: b@x.com; external: ord-1,ord-2".
func outcomeNotes(bookings []portal.Booking) string {
	counts := map[portal.BookingStatus]int{}
	var order []portal.BookingStatus
	var pending []string
	for _, b := range bookings {
		if counts[b.Status] == 0 {
			order = append(order, b.Status)
		}
		counts[b.Status]++
		if b.Status.Degraded() {
			pending = append(pending, b.Attendee.Email)
		}
	}

	parts := make([]string, len(order))
	for i, st := range order {
		parts[i] = fmt.Sprintf("%s=%d", st, counts[st])
	}
	notes := strings.Join(parts, " ")
	if len(pending) > 0 {
		notes += "; pending sync: " + strings.Join(pending, ",")
	}
	if ids := externalIDs(bookings); ids != "" {
		notes += "; external: " + ids
	}
	return notes
}
