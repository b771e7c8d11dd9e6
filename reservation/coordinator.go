/*
Package reservation places attendees on the external event platforms.

PURPOSE:
  A booking's attendees are registered on whichever platform hosts the
  event: the ticketing platform (Backstage) when the event carries an
  external event id, or the webinar platform (Zoom) when the event's
  location is a Zoom join link for a webinar that requires registration.
  Anything else needs no external reservation.

FAILURE MODEL:
  1. Duplicate pre-check: any attendee already on the platform rejects the
     whole batch before anything is mutated
  2. Per-attendee reservation: failures are recorded, never fatal
  3. Platform "already registered" responses count as success

STATUS MAPPING:
  success or no target     → confirmed
  failed ticketing         → pending_backstage_sync
  failed webinar           → pending_zoom_sync

SEE ALSO:
  - platform/backstage.go, platform/zoom.go: Real clients
  - booking/booking.go: The saga that calls this package
*/
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/warp/member-portal/portal"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// PLATFORM INTERFACES
// =============================================================================

// Ticketing is the ticketing platform as the coordinator needs it.
type Ticketing interface {
	CreateOrder(ctx context.Context, eventID, ticketClassID string, attendee portal.Attendee) (string, error)
	ListOrderEmails(ctx context.Context, eventID string) ([]string, error)
}

// WebinarInfo is the part of a webinar the coordinator reads.
type WebinarInfo struct {
	ID                   string
	Topic                string
	RegistrationRequired bool
}

// Webinars is the webinar platform as the coordinator needs it.
type Webinars interface {
	GetWebinar(ctx context.Context, webinarID string) (*WebinarInfo, error)
	Register(ctx context.Context, webinarID string, attendee portal.Attendee) (string, error)
	ListRegistrantEmails(ctx context.Context, webinarID string) ([]string, error)
}

// =============================================================================
// TARGETS & OUTCOMES
// =============================================================================

type TargetKind string

const (
	TargetNone      TargetKind = "none"
	TargetTicketing TargetKind = "ticketing"
	TargetWebinar   TargetKind = "webinar"
)

// Target is where an event's attendees are reserved.
type Target struct {
	Kind          TargetKind
	EventID       string // ticketing event id
	TicketClassID string
	WebinarID     string
}

// Platform names the platform for logs and errors.
func (t Target) Platform() string {
	switch t.Kind {
	case TargetTicketing:
		return "backstage"
	case TargetWebinar:
		return "zoom"
	default:
		return "none"
	}
}

// Outcome is the result of reserving one attendee.
type Outcome struct {
	Attendee   portal.Attendee
	Success    bool
	ExternalID string
	Err        error
}

// Status maps an outcome on target to the booking status it implies.
func (o Outcome) Status(target Target) portal.BookingStatus {
	if o.Success || target.Kind == TargetNone {
		return portal.BookingConfirmed
	}
	if target.Kind == TargetWebinar {
		return portal.BookingPendingZoomSync
	}
	return portal.BookingPendingBackstageSync
}

// =============================================================================
// COORDINATOR
// =============================================================================

// zoomJoinURL matches Zoom meeting and webinar join links and captures the id.
var zoomJoinURL = regexp.MustCompile(`https://(?:[\w-]+\.)?zoom\.us/(?:j|w)/(\d+)`)

// DefaultConcurrency bounds parallel reservations within one batch.
const DefaultConcurrency = 4

// Coordinator reserves attendees on the external platforms.
type Coordinator struct {
	ticketing Ticketing
	webinars  Webinars
	limit     int
}

// NewCoordinator creates a coordinator. Either platform may be nil when it is
// not configured; reservations against it then fail and degrade the booking.
func NewCoordinator(ticketing Ticketing, webinars Webinars) *Coordinator {
	return &Coordinator{ticketing: ticketing, webinars: webinars, limit: DefaultConcurrency}
}

// WithConcurrency overrides how many reservations run in parallel.
func (c *Coordinator) WithConcurrency(n int) *Coordinator {
	if n > 0 {
		c.limit = n
	}
	return c
}

// WebinarID extracts the webinar id from a Zoom join link.
func WebinarID(location string) (string, bool) {
	m := zoomJoinURL.FindStringSubmatch(location)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Resolve decides where an event's attendees are reserved.
func (c *Coordinator) Resolve(ctx context.Context, event *portal.Event) Target {
	if event.ExternalEventID != "" {
		return Target{Kind: TargetTicketing, EventID: event.ExternalEventID, TicketClassID: event.TicketClassID}
	}

	webinarID, ok := WebinarID(event.Location)
	if !ok {
		return Target{Kind: TargetNone}
	}
	if c.webinars == nil {
		log.Printf("[Reservation] event %s links webinar %s but no webinar platform is configured", event.ID, webinarID)
		return Target{Kind: TargetWebinar, WebinarID: webinarID}
	}

	info, err := c.webinars.GetWebinar(ctx, webinarID)
	if err != nil {
		// Unknown registration settings: reserve anyway.
		log.Printf("[Reservation] failed to read webinar %s, assuming registration is required: %v", webinarID, err)
		return Target{Kind: TargetWebinar, WebinarID: webinarID}
	}
	if !info.RegistrationRequired {
		return Target{Kind: TargetNone}
	}
	return Target{Kind: TargetWebinar, WebinarID: webinarID}
}

// Precheck rejects the batch when any attendee is already registered on the
// platform. A failing platform listing is logged and the batch proceeds.
func (c *Coordinator) Precheck(ctx context.Context, eventID string, target Target, attendees []portal.Attendee) error {
	var (
		existing []string
		err      error
	)
	switch target.Kind {
	case TargetTicketing:
		if c.ticketing == nil {
			return nil
		}
		existing, err = c.ticketing.ListOrderEmails(ctx, target.EventID)
	case TargetWebinar:
		if c.webinars == nil {
			return nil
		}
		existing, err = c.webinars.ListRegistrantEmails(ctx, target.WebinarID)
	default:
		return nil
	}
	if err != nil {
		log.Printf("[Reservation] duplicate pre-check on %s failed, continuing: %v", target.Platform(), err)
		return nil
	}

	registered := make(map[string]bool, len(existing))
	for _, email := range existing {
		registered[normalizeEmail(email)] = true
	}

	var dups []string
	for _, a := range attendees {
		if registered[normalizeEmail(a.Email)] {
			dups = append(dups, a.Email)
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return &portal.DuplicateRegistrationError{EventID: eventID, Emails: dups}
	}
	return nil
}

// Reserve places one attendee on target.
func (c *Coordinator) Reserve(ctx context.Context, target Target, attendee portal.Attendee) Outcome {
	out := Outcome{Attendee: attendee}

	var (
		id  string
		err error
	)
	switch target.Kind {
	case TargetNone:
		out.Success = true
		return out
	case TargetTicketing:
		if c.ticketing == nil {
			err = errors.New("ticketing platform not configured")
			break
		}
		id, err = c.ticketing.CreateOrder(ctx, target.EventID, target.TicketClassID, attendee)
	case TargetWebinar:
		if c.webinars == nil {
			err = errors.New("webinar platform not configured")
			break
		}
		id, err = c.webinars.Register(ctx, target.WebinarID, attendee)
	default:
		err = fmt.Errorf("unknown reservation target %q", target.Kind)
	}

	switch {
	case err == nil:
		out.Success = true
		out.ExternalID = id
	case errors.Is(err, portal.ErrAlreadyRegistered):
		out.Success = true
		out.ExternalID = id
		log.Printf("[Reservation] %s already registered on %s, treating as success", attendee.Email, target.Platform())
	default:
		out.Err = &portal.ExternalError{Platform: target.Platform(), Operation: "reserve " + attendee.Email, Err: err}
		log.Printf("[Reservation] %v", out.Err)
	}
	return out
}

// ReserveAll reserves every attendee with bounded concurrency. Outcomes are
// returned in attendee order; a failure never stops the others.
func (c *Coordinator) ReserveAll(ctx context.Context, target Target, attendees []portal.Attendee) []Outcome {
	outcomes := make([]Outcome, len(attendees))

	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, a := range attendees {
		g.Go(func() error {
			outcomes[i] = c.Reserve(ctx, target, a)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Failures counts outcomes that did not succeed.
func Failures(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.Success {
			n++
		}
	}
	return n
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
