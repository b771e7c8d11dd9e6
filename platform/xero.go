package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

const (
	defaultXeroBaseURL  = "https://api.xero.com/api.xro/2.0"
	DefaultXeroTokenURL = "https://identity.xero.com/connect/token"
)

// Xero is the accounting platform client.
type Xero struct {
	BaseURL     string
	TenantID    string
	AccountCode string
	Tokens      Tokens
	HTTPClient  *http.Client
}

// NewXero creates an accounting client. An empty baseURL uses the default.
func NewXero(baseURL, tenantID, accountCode string, tokens Tokens) *Xero {
	if baseURL == "" {
		baseURL = defaultXeroBaseURL
	}
	if accountCode == "" {
		accountCode = "200"
	}
	return &Xero{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		TenantID:    tenantID,
		AccountCode: accountCode,
		Tokens:      tokens,
		HTTPClient:  newHTTPClient(),
	}
}

type xeroContact struct {
	ContactID string `json:"ContactID,omitempty"`
	Name      string `json:"Name"`
}

type xeroContacts struct {
	Contacts []xeroContact `json:"Contacts"`
}

type xeroLineItem struct {
	Description string      `json:"Description"`
	Quantity    int         `json:"Quantity"`
	UnitAmount  json.Number `json:"UnitAmount"` // exact pence, never a float
	AccountCode string      `json:"AccountCode"`
}

type xeroInvoice struct {
	InvoiceID     string         `json:"InvoiceID,omitempty"`
	InvoiceNumber string         `json:"InvoiceNumber,omitempty"`
	Type          string         `json:"Type,omitempty"`
	Status        string         `json:"Status,omitempty"`
	Reference     string         `json:"Reference,omitempty"`
	Contact       *xeroContact   `json:"Contact,omitempty"`
	LineItems     []xeroLineItem `json:"LineItems,omitempty"`
	Total         json.Number    `json:"Total,omitempty"`
}

type xeroInvoices struct {
	Invoices []xeroInvoice `json:"Invoices"`
}

func (x *Xero) headers() map[string]string {
	return map[string]string{"Xero-tenant-id": x.TenantID}
}

// FindOrCreateContact returns the id of the contact with this exact name,
// creating it when absent.
func (x *Xero) FindOrCreateContact(ctx context.Context, name string) (string, error) {
	where := fmt.Sprintf(`Name=="%s"`, strings.ReplaceAll(name, `"`, `\"`))
	endpoint := x.BaseURL + "/Contacts?where=" + url.QueryEscape(where)

	var found xeroContacts
	if err := doJSON(ctx, x.HTTPClient, x.Tokens, http.MethodGet, endpoint, x.headers(), nil, &found); err != nil {
		return "", &portal.ExternalError{Platform: "xero", Operation: "find contact", Err: err}
	}
	if len(found.Contacts) > 0 {
		return found.Contacts[0].ContactID, nil
	}

	var created xeroContacts
	body := xeroContacts{Contacts: []xeroContact{{Name: name}}}
	if err := doJSON(ctx, x.HTTPClient, x.Tokens, http.MethodPost, x.BaseURL+"/Contacts", x.headers(), body, &created); err != nil {
		return "", &portal.ExternalError{Platform: "xero", Operation: "create contact", Err: err}
	}
	if len(created.Contacts) == 0 {
		return "", &portal.ExternalError{Platform: "xero", Operation: "create contact", Err: fmt.Errorf("empty response")}
	}
	return created.Contacts[0].ContactID, nil
}

// CreateInvoice raises an authorised sales invoice.
func (x *Xero) CreateInvoice(ctx context.Context, req portal.InvoiceRequest) (*portal.Invoice, error) {
	reference := req.Reference
	if req.PurchaseOrderNumber != "" {
		reference = req.PurchaseOrderNumber + " / " + req.Reference
	}

	inv := xeroInvoice{
		Type:      "ACCREC",
		Status:    "AUTHORISED",
		Reference: reference,
		Contact:   &xeroContact{ContactID: req.ContactID},
	}
	for _, l := range req.Lines {
		inv.LineItems = append(inv.LineItems, xeroLineItem{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitAmount:  json.Number(l.UnitAmount.StringFixed(2)),
			AccountCode: x.AccountCode,
		})
	}

	var created xeroInvoices
	body := xeroInvoices{Invoices: []xeroInvoice{inv}}
	if err := doJSON(ctx, x.HTTPClient, x.Tokens, http.MethodPost, x.BaseURL+"/Invoices", x.headers(), body, &created); err != nil {
		return nil, &portal.ExternalError{Platform: "xero", Operation: "create invoice", Err: err}
	}
	if len(created.Invoices) == 0 {
		return nil, &portal.ExternalError{Platform: "xero", Operation: "create invoice", Err: fmt.Errorf("empty response")}
	}
	out := created.Invoices[0]
	total, err := decimal.NewFromString(string(out.Total))
	if err != nil {
		total = decimal.Zero
	}
	return &portal.Invoice{
		ID:     out.InvoiceID,
		Number: out.InvoiceNumber,
		Total:  total.StringFixed(2),
	}, nil
}
