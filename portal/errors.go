/*
errors.go - Centralized error types for the booking core

PURPOSE:
  All error types in one place. Packages return these (or wrap them) and
  the HTTP layer maps them to status codes with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation      - bad input, allocation mismatch (400)
  2. Insufficient    - balance, voucher or training fund too low (400)
  3. Authorization   - non-admin on admin operations (403)
  4. Not found       - organization, program, event, transaction (404)
  5. Consistency     - cancelling tickets that were already spent (400)
  6. Duplicate       - attendee already registered externally (409)
  7. Concurrency     - a conditional update lost a race (retryable)
  8. External        - platform call failed (folded into warnings by callers)

USAGE:
  if errors.Is(err, portal.ErrInsufficientBalance) { ... }

  var dup *portal.DuplicateRegistrationError
  if errors.As(err, &dup) { return dup.Emails }

SEE ALSO:
  - api/handlers.go: statusFor maps these to HTTP codes
*/
package portal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation             = errors.New("validation failed")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrUnauthorized           = errors.New("not authorized")
	ErrNotFound               = errors.New("not found")
	ErrConsistency            = errors.New("consistency violation")
	ErrDuplicateRegistration  = errors.New("attendee already registered")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrExternal               = errors.New("external platform failure")

	// ErrAlreadyRegistered is returned by platform clients when the platform
	// reports the attendee as already registered. Reservation treats it as success.
	ErrAlreadyRegistered = errors.New("already registered on platform")

	// ErrAllocationMismatch is the allocation sum check failure.
	ErrAllocationMismatch = &ValidationError{Field: "payment", Message: "payment allocation does not match total cost"}
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError rejects input before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError with a formatted message.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientBalanceError reports a resource shortfall.
type InsufficientBalanceError struct {
	Resource  string // program tag, "training fund", "voucher <id>"
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s, requested %s",
		e.Resource, e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// UnallocatedTicketsError is returned when a cancellation asks for more
// tickets than the organization still holds unspent.
type UnallocatedTicketsError struct {
	Program     string
	Requested   int
	Unallocated int
}

func (e *UnallocatedTicketsError) Error() string {
	return fmt.Sprintf("cannot cancel %d tickets: only %d %s tickets remain unallocated, so at most %d can be cancelled",
		e.Requested, e.Unallocated, e.Program, e.Unallocated)
}

func (e *UnallocatedTicketsError) Unwrap() error { return ErrConsistency }

// DuplicateRegistrationError lists attendees already registered for an event.
type DuplicateRegistrationError struct {
	EventID string
	Emails  []string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("already registered for event %s: %s", e.EventID, strings.Join(e.Emails, ", "))
}

func (e *DuplicateRegistrationError) Unwrap() error { return ErrDuplicateRegistration }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// AuthorizationError rejects an actor lacking a capability.
type AuthorizationError struct {
	Actor      string
	Capability string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s does not hold the %s capability", e.Actor, e.Capability)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

// ExternalError wraps a platform failure with the platform and operation.
type ExternalError struct {
	Platform  string
	Operation string
	Err       error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Operation, e.Err)
}

func (e *ExternalError) Unwrap() []error { return []error{ErrExternal, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrConsistency)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
