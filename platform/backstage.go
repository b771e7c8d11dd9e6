package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/warp/member-portal/portal"
	"github.com/warp/member-portal/reservation"
)

const defaultBackstageBaseURL = "https://api.backstage.example/v1"

// Backstage is the ticketing platform client.
type Backstage struct {
	BaseURL    string
	Tokens     Tokens
	HTTPClient *http.Client
}

var _ reservation.Ticketing = (*Backstage)(nil)

// NewBackstage creates a ticketing client. An empty baseURL uses the default.
func NewBackstage(baseURL string, tokens Tokens) *Backstage {
	if baseURL == "" {
		baseURL = defaultBackstageBaseURL
	}
	return &Backstage{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Tokens:     tokens,
		HTTPClient: newHTTPClient(),
	}
}

type backstageAttendee struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type backstageOrderRequest struct {
	TicketClassID string            `json:"ticket_class_id,omitempty"`
	Attendee      backstageAttendee `json:"attendee"`
}

type backstageOrder struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type backstageOrderPage struct {
	Orders     []backstageOrder `json:"orders"`
	Pagination struct {
		HasMoreItems bool   `json:"has_more_items"`
		Continuation string `json:"continuation"`
	} `json:"pagination"`
}

// CreateOrder registers one attendee. A 409 means the attendee already holds
// an order and is reported as portal.ErrAlreadyRegistered.
func (b *Backstage) CreateOrder(ctx context.Context, eventID, ticketClassID string, a portal.Attendee) (string, error) {
	req := backstageOrderRequest{
		TicketClassID: ticketClassID,
		Attendee:      backstageAttendee{FirstName: a.FirstName, LastName: a.LastName, Email: a.Email},
	}
	var order backstageOrder
	endpoint := fmt.Sprintf("%s/events/%s/orders", b.BaseURL, url.PathEscape(eventID))
	err := doJSON(ctx, b.HTTPClient, b.Tokens, http.MethodPost, endpoint, nil, req, &order)

	var se *statusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return "", fmt.Errorf("backstage order for %s: %w", a.Email, portal.ErrAlreadyRegistered)
	}
	if err != nil {
		return "", err
	}
	return order.ID, nil
}

// ListOrderEmails returns the attendee email of every order on the event.
func (b *Backstage) ListOrderEmails(ctx context.Context, eventID string) ([]string, error) {
	var (
		emails       []string
		continuation string
	)
	for {
		endpoint := fmt.Sprintf("%s/events/%s/orders", b.BaseURL, url.PathEscape(eventID))
		if continuation != "" {
			endpoint += "?continuation=" + url.QueryEscape(continuation)
		}

		var page backstageOrderPage
		if err := doJSON(ctx, b.HTTPClient, b.Tokens, http.MethodGet, endpoint, nil, nil, &page); err != nil {
			return nil, &portal.ExternalError{Platform: "backstage", Operation: "list orders", Err: err}
		}
		for _, o := range page.Orders {
			emails = append(emails, o.Email)
		}
		if !page.Pagination.HasMoreItems || page.Pagination.Continuation == "" {
			return emails, nil
		}
		continuation = page.Pagination.Continuation
	}
}
