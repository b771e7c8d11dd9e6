package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/warp/member-portal/portal"
	"github.com/warp/member-portal/reservation"
)

const (
	defaultZoomBaseURL  = "https://api.zoom.us/v2"
	DefaultZoomTokenURL = "https://zoom.us/oauth/token"

	// zoomNoRegistration is the approval_type of webinars without registration.
	zoomNoRegistration = 2
	// zoomRegistrantExists is Zoom's error code for a duplicate registrant.
	zoomRegistrantExists = 3027
)

// Zoom is the webinar platform client.
type Zoom struct {
	BaseURL    string
	Tokens     Tokens
	HTTPClient *http.Client
}

var _ reservation.Webinars = (*Zoom)(nil)

// NewZoom creates a webinar client. An empty baseURL uses the default.
func NewZoom(baseURL string, tokens Tokens) *Zoom {
	if baseURL == "" {
		baseURL = defaultZoomBaseURL
	}
	return &Zoom{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Tokens:     tokens,
		HTTPClient: newHTTPClient(),
	}
}

// ZoomAccountParams are the token endpoint parameters for a Zoom
// server-to-server app.
func ZoomAccountParams(accountID string) url.Values {
	return url.Values{
		"grant_type": {"account_credentials"},
		"account_id": {accountID},
	}
}

type zoomWebinar struct {
	ID       json.Number `json:"id"`
	Topic    string      `json:"topic"`
	Settings struct {
		ApprovalType int `json:"approval_type"`
	} `json:"settings"`
}

type zoomRegistrant struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
}

type zoomRegistrantCreated struct {
	RegistrantID string `json:"registrant_id"`
	JoinURL      string `json:"join_url"`
}

type zoomRegistrantPage struct {
	Registrants   []zoomRegistrant `json:"registrants"`
	NextPageToken string           `json:"next_page_token"`
}

type zoomError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GetWebinar reads a webinar's registration settings.
func (z *Zoom) GetWebinar(ctx context.Context, webinarID string) (*reservation.WebinarInfo, error) {
	var w zoomWebinar
	endpoint := fmt.Sprintf("%s/webinars/%s", z.BaseURL, url.PathEscape(webinarID))
	if err := doJSON(ctx, z.HTTPClient, z.Tokens, http.MethodGet, endpoint, nil, nil, &w); err != nil {
		return nil, &portal.ExternalError{Platform: "zoom", Operation: "get webinar", Err: err}
	}
	return &reservation.WebinarInfo{
		ID:                   w.ID.String(),
		Topic:                w.Topic,
		RegistrationRequired: w.Settings.ApprovalType != zoomNoRegistration,
	}, nil
}

// Register adds a registrant. Zoom's duplicate-registrant response is
// reported as portal.ErrAlreadyRegistered.
func (z *Zoom) Register(ctx context.Context, webinarID string, a portal.Attendee) (string, error) {
	req := zoomRegistrant{Email: a.Email, FirstName: a.FirstName, LastName: a.LastName}
	var created zoomRegistrantCreated
	endpoint := fmt.Sprintf("%s/webinars/%s/registrants", z.BaseURL, url.PathEscape(webinarID))
	err := doJSON(ctx, z.HTTPClient, z.Tokens, http.MethodPost, endpoint, nil, req, &created)

	var se *statusError
	if errors.As(err, &se) {
		var ze zoomError
		_ = json.Unmarshal([]byte(se.Body), &ze)
		if se.Status == http.StatusConflict || ze.Code == zoomRegistrantExists {
			return "", fmt.Errorf("zoom registrant %s: %w", a.Email, portal.ErrAlreadyRegistered)
		}
	}
	if err != nil {
		return "", err
	}
	return created.RegistrantID, nil
}

// ListRegistrantEmails returns every registrant email on the webinar.
func (z *Zoom) ListRegistrantEmails(ctx context.Context, webinarID string) ([]string, error) {
	var (
		emails []string
		token  string
	)
	for {
		q := url.Values{"page_size": {"300"}}
		if token != "" {
			q.Set("next_page_token", token)
		}
		endpoint := fmt.Sprintf("%s/webinars/%s/registrants?%s", z.BaseURL, url.PathEscape(webinarID), q.Encode())

		var page zoomRegistrantPage
		if err := doJSON(ctx, z.HTTPClient, z.Tokens, http.MethodGet, endpoint, nil, nil, &page); err != nil {
			return nil, &portal.ExternalError{Platform: "zoom", Operation: "list registrants", Err: err}
		}
		for _, r := range page.Registrants {
			emails = append(emails, r.Email)
		}
		if page.NextPageToken == "" {
			return emails, nil
		}
		token = page.NextPageToken
	}
}
