/*
Package cancellation lets admins cancel and reinstate ticket purchases.

PURPOSE:
  Wraps ledger.Cancel and ledger.Reinstate with the admin capability check
  and turns their results into the messages shown to the admin. Rows are
  never deleted: every action is an audit row plus a counter update on the
  original purchase.

SEE ALSO:
  - ledger/ledger.go: The balance rules themselves
  - api/handlers.go: POST /transactions/{id}/cancel and /reinstate
*/
package cancellation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/warp/member-portal/ledger"
	"github.com/warp/member-portal/portal"
)

// CapabilityAdmin is required for every operation in this package.
const CapabilityAdmin = "admin"

// Outcome is what an admin sees after a successful action.
type Outcome struct {
	TransactionID     string
	AuditRowID        string
	Quantity          int
	CancelledQuantity int
	Status            portal.TransactionStatus
	Balance           int
	Message           string
}

// Manager runs admin-only ledger corrections.
type Manager struct {
	repo portal.Repository
}

func NewManager(repo portal.Repository) *Manager {
	return &Manager{repo: repo}
}

func (m *Manager) authorize(ctx context.Context, adminEmail string) error {
	email := strings.TrimSpace(adminEmail)
	if email == "" {
		return &portal.AuthorizationError{Actor: "anonymous", Capability: CapabilityAdmin}
	}
	ok, err := m.repo.IsAdmin(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("[Cancellation] %s denied: not an admin", email)
		return &portal.AuthorizationError{Actor: email, Capability: CapabilityAdmin}
	}
	return nil
}

// Cancel voids quantity tickets of a purchase on behalf of adminEmail.
func (m *Manager) Cancel(ctx context.Context, transactionID string, quantity int, adminEmail string) (*Outcome, error) {
	if err := m.authorize(ctx, adminEmail); err != nil {
		return nil, err
	}

	res, err := ledger.New(m.repo).Cancel(ctx, transactionID, quantity, adminEmail)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Cancelled %d %s tickets. %d of %d tickets on this purchase are now cancelled; the organization has %d remaining.",
		res.Cancelled, res.Original.ProgramName, res.Original.CancelledQuantity, res.Original.OriginalQuantity, res.Balance)
	if res.Original.Status == portal.TxCancelled {
		msg = fmt.Sprintf("Cancelled the remaining %d %s tickets; this purchase is now fully cancelled. The organization has %d remaining.",
			res.Cancelled, res.Original.ProgramName, res.Balance)
	}

	return &Outcome{
		TransactionID:     res.Original.ID,
		AuditRowID:        res.Void.ID,
		Quantity:          res.Cancelled,
		CancelledQuantity: res.Original.CancelledQuantity,
		Status:            res.Original.Status,
		Balance:           res.Balance,
		Message:           msg,
	}, nil
}

// Reinstate restores everything cancelled on a purchase.
func (m *Manager) Reinstate(ctx context.Context, transactionID, adminEmail string) (*Outcome, error) {
	if err := m.authorize(ctx, adminEmail); err != nil {
		return nil, err
	}

	res, err := ledger.New(m.repo).Reinstate(ctx, transactionID, adminEmail)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		TransactionID:     res.Original.ID,
		AuditRowID:        res.Reinstatement.ID,
		Quantity:          res.Reinstated,
		CancelledQuantity: 0,
		Status:            res.Original.Status,
		Balance:           res.Balance,
		Message: fmt.Sprintf("Reinstated %d %s tickets. The organization now has %d.",
			res.Reinstated, res.Original.ProgramName, res.Balance),
	}, nil
}
