package portal

import "github.com/shopspring/decimal"

// InvoiceLine is one billed line.
type InvoiceLine struct {
	Description string
	Quantity    int
	UnitAmount  decimal.Decimal
}

// InvoiceRequest asks the accounting platform to bill an organization.
type InvoiceRequest struct {
	ContactID           string
	Reference           string // booking reference or purchase transaction id
	PurchaseOrderNumber string
	Lines               []InvoiceLine
}

// Invoice is what the accounting platform created.
type Invoice struct {
	ID     string `json:"invoice_id"`
	Number string `json:"invoice_number"`
	Total  string `json:"total"`
}
