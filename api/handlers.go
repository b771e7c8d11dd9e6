/*
handlers.go - HTTP API handlers for the member portal

PURPOSE:
  Exposes the booking core over REST. Handlers decode and validate the
  body, take the member from the JWT claims, call the orchestrator or the
  cancellation manager, and map results and errors to JSON.

ENDPOINTS:
  Purchases & bookings (member token):
    POST   /purchase                       Buy program tickets
    POST   /booking                        Book attendees onto an event
    GET    /bookings/{reference}           Rows of one booking

  Link confirmation (public, the token is the credential):
    POST   /bookings/confirm/{token}       Reserve a link-mode attendee

  Corrections (member token, admin capability):
    POST   /transactions/{id}/cancel       Cancel part of a purchase
    POST   /transactions/{id}/reinstate    Undo cancellations

  Organization (member token, own organization only):
    GET    /organizations/{id}/transactions
    GET    /organizations/{id}/balances

ERROR HANDLING:
  Every error body is {success:false, error}. statusFor maps the error
  taxonomy to codes:
  - 400: Validation, allocation mismatch, insufficient balance, over-cancel
  - 403: Authorization
  - 404: Missing organization, program, event, transaction or booking
  - 409: Duplicate registrations (with duplicateEmails), lost races
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Member token middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/member-portal/booking"
	"github.com/warp/member-portal/cancellation"
	"github.com/warp/member-portal/portal"
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler holds the dependencies of every endpoint.
type Handler struct {
	Store         portal.Repository
	Orchestrator  *booking.Orchestrator
	Cancellations *cancellation.Manager

	validate *validator.Validate
}

// NewHandler creates a handler.
func NewHandler(store portal.Repository, orch *booking.Orchestrator, cancellations *cancellation.Manager) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Store:         store,
		Orchestrator:  orch,
		Cancellations: cancellations,
		validate:      v,
	}
}

// =============================================================================
// PURCHASE & BOOKING
// =============================================================================

// Purchase buys program tickets for the member's organization.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	member, _ := MemberFrom(r.Context())

	var req PurchaseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.Orchestrator.Purchase(r.Context(), booking.PurchaseRequest{
		OrganizationID: member.OrganizationID,
		Actor:          actorOf(member),
		ProgramTag:     req.ProgramName,
		Quantity:       req.Quantity,
		DiscountCodeID: req.AppliedDiscountID,
		Payment:        req.toPayment(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PurchaseResponse{
		Success:              true,
		TransactionID:        res.TransactionID,
		Reference:            res.Reference,
		TotalTicketsReceived: res.TotalTicketsReceived,
		TotalCost:            res.TotalCost.StringFixed(2),
		DiscountApplied:      res.DiscountApplied,
		DiscountDetails:      res.DiscountDetails,
		PaymentBreakdown:     toBreakdownDTO(res.Payment),
		RemainingBalance:     res.Balance,
		XeroInvoice:          res.Invoice,
		Warning:              res.Warning,
	})
}

// Book books attendees onto an event.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	member, _ := MemberFrom(r.Context())

	var req BookingRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	attendees := make([]portal.Attendee, len(req.Attendees))
	for i, a := range req.Attendees {
		attendees[i] = portal.Attendee{
			FirstName: strings.TrimSpace(a.FirstName),
			LastName:  strings.TrimSpace(a.LastName),
			Email:     strings.TrimSpace(a.Email),
		}
	}
	var payment *booking.Payment
	if req.Payment != nil {
		p := req.Payment.toPayment()
		payment = &p
	}

	res, err := h.Orchestrator.Book(r.Context(), booking.Request{
		EventID:          req.EventID,
		OrganizationID:   member.OrganizationID,
		MemberID:         member.ID,
		Actor:            actorOf(member),
		Attendees:        attendees,
		RegistrationMode: req.RegistrationMode,
		TicketsRequired:  req.TicketsRequired,
		ProgramTag:       req.ProgramTag,
		Payment:          payment,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BookingResponse{
		Success:          true,
		BookingReference: res.Reference,
		Bookings:         toBookingDTOs(res.Bookings),
		RemainingBalance: res.RemainingBalance,
		PaymentBreakdown: toBreakdownDTO(res.Payment),
		XeroInvoice:      res.Invoice,
		Warning:          res.Warning,
	})
}

// GetBooking lists the rows of one of the member organization's bookings.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	member, _ := MemberFrom(r.Context())
	ref := chi.URLParam(r, "reference")

	bookings, err := h.Orchestrator.Lookup(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	if bookings[0].OrganizationID != member.OrganizationID {
		writeError(w, portal.NotFound("booking", ref))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"booking_reference": ref,
		"bookings":          toBookingDTOs(bookings),
	})
}

// ConfirmBooking completes a link-mode registration.
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	res, err := h.Orchestrator.Confirm(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfirmResponse{
		Success: true,
		Booking: toBookingDTO(*res.Booking),
		Warning: res.Warning,
	})
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// CancelTransaction cancels part or all of a purchase.
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	admin, err := adminOf(r, req.AdminEmail)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.Cancellations.Cancel(r.Context(), chi.URLParam(r, "id"), req.QuantityToCancel, admin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCorrectionResponse(out))
}

// ReinstateTransaction restores every cancelled ticket of a purchase.
func (h *Handler) ReinstateTransaction(w http.ResponseWriter, r *http.Request) {
	var req ReinstateRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	admin, err := adminOf(r, req.AdminEmail)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.Cancellations.Reinstate(r.Context(), chi.URLParam(r, "id"), admin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCorrectionResponse(out))
}

func toCorrectionResponse(out *cancellation.Outcome) CorrectionResponse {
	return CorrectionResponse{
		Success:           true,
		Message:           out.Message,
		TransactionID:     out.TransactionID,
		AuditTransaction:  out.AuditRowID,
		Quantity:          out.Quantity,
		CancelledQuantity: out.CancelledQuantity,
		Status:            string(out.Status),
		NewBalance:        out.Balance,
	}
}

// adminOf is the acting admin: the token's email. A body adminEmail must
// name the same person.
func adminOf(r *http.Request, bodyEmail string) (string, error) {
	member, _ := MemberFrom(r.Context())
	if bodyEmail != "" && !strings.EqualFold(strings.TrimSpace(bodyEmail), member.Email) {
		return "", &portal.AuthorizationError{Actor: member.Email, Capability: "act as " + bodyEmail}
	}
	return member.Email, nil
}

// =============================================================================
// ORGANIZATION
// =============================================================================

// ListTransactions returns the organization's ledger, oldest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ownOrganization(w, r)
	if !ok {
		return
	}
	if _, err := h.Store.GetOrganization(r.Context(), orgID); err != nil {
		writeError(w, err)
		return
	}

	txs, err := h.Store.ListTransactions(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalances returns the organization's ticket and training fund balances.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ownOrganization(w, r)
	if !ok {
		return
	}
	org, err := h.Store.GetOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}

	balances := org.ProgramTicketBalances
	if balances == nil {
		balances = map[string]int{}
	}
	writeJSON(w, http.StatusOK, BalancesResponse{
		OrganizationID:        org.ID,
		TrainingFundBalance:   org.TrainingFundBalance.StringFixed(2),
		ProgramTicketBalances: balances,
		PurchaseOrderEnabled:  org.PurchaseOrderEnabled,
	})
}

func ownOrganization(w http.ResponseWriter, r *http.Request) (string, bool) {
	member, _ := MemberFrom(r.Context())
	orgID := chi.URLParam(r, "id")
	if orgID != member.OrganizationID {
		writeError(w, &portal.AuthorizationError{Actor: member.ID, Capability: "read organization " + orgID})
		return "", false
	}
	return orgID, true
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return portal.Invalid("body", "invalid request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return portal.Invalid(fe.Field(), "%s is invalid (%s)", fe.Namespace(), fe.Tag())
		}
		return portal.Invalid("body", "%v", err)
	}
	return nil
}

func actorOf(m Member) string {
	if m.Email != "" {
		return m.Email
	}
	return m.ID
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, portal.ErrDuplicateRegistration):
		return http.StatusConflict
	case errors.Is(err, portal.ErrUnauthorized):
		return http.StatusForbidden
	case portal.IsNotFound(err):
		return http.StatusNotFound
	case portal.IsClientError(err):
		return http.StatusBadRequest
	case portal.IsRetryable(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var verr *portal.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	var dup *portal.DuplicateRegistrationError
	if errors.As(err, &dup) {
		resp.DuplicateEmails = dup.Emails
	}
	switch {
	case status == http.StatusConflict && portal.IsRetryable(err):
		resp.Error = "the request conflicted with a concurrent change, please retry"
	case status == http.StatusInternalServerError:
		log.Printf("[API] internal error: %v", err)
		if !errors.Is(err, portal.ErrExternal) {
			resp.Error = "internal error"
		}
	}
	writeJSON(w, status, resp)
}
