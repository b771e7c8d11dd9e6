package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

// =============================================================================
// ORGANIZATIONS & BALANCES
// =============================================================================

// SaveOrganization upserts an organization and replaces its program balances.
// Administrative seeding only; the booking core never calls it.
func (s *Store) SaveOrganization(ctx context.Context, org portal.Organization) error {
	return s.WithTx(ctx, func(r portal.Repository) error {
		ts := r.(*Store)
		_, err := ts.q.ExecContext(ctx, `
			INSERT INTO organizations (id, name, crm_id, training_fund_balance, purchase_order_enabled, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				crm_id = excluded.crm_id,
				training_fund_balance = excluded.training_fund_balance,
				purchase_order_enabled = excluded.purchase_order_enabled
		`, org.ID, org.Name, nullString(org.CRMID), org.TrainingFundBalance.String(),
			boolInt(org.PurchaseOrderEnabled), formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to save organization: %w", err)
		}

		if _, err := ts.q.ExecContext(ctx, `DELETE FROM program_balances WHERE organization_id = ?`, org.ID); err != nil {
			return fmt.Errorf("failed to reset balances: %w", err)
		}
		for program, balance := range org.ProgramTicketBalances {
			if _, err := ts.q.ExecContext(ctx,
				`INSERT INTO program_balances (organization_id, program, balance) VALUES (?, ?, ?)`,
				org.ID, program, balance,
			); err != nil {
				return fmt.Errorf("failed to save balance for %s: %w", program, err)
			}
		}
		return nil
	})
}

// GetOrganization returns an organization with all program balances.
func (s *Store) GetOrganization(ctx context.Context, id string) (*portal.Organization, error) {
	var (
		org     portal.Organization
		crmID   sql.NullString
		tfValue string
		poFlag  int
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, crm_id, training_fund_balance, purchase_order_enabled
		FROM organizations WHERE id = ?
	`, id).Scan(&org.ID, &org.Name, &crmID, &tfValue, &poFlag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, portal.NotFound("organization", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.CRMID = crmID.String
	org.TrainingFundBalance = portal.MustParseDecimal(tfValue)
	org.PurchaseOrderEnabled = poFlag == 1

	rows, err := s.q.QueryContext(ctx,
		`SELECT program, balance FROM program_balances WHERE organization_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	defer rows.Close()

	org.ProgramTicketBalances = make(map[string]int)
	for rows.Next() {
		var program string
		var balance int
		if err := rows.Scan(&program, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		org.ProgramTicketBalances[program] = balance
	}
	return &org, rows.Err()
}

// ProgramBalance returns the current ticket balance, zero when no row exists.
func (s *Store) ProgramBalance(ctx context.Context, organizationID, program string) (int, error) {
	var balance int
	err := s.q.QueryRowContext(ctx,
		`SELECT balance FROM program_balances WHERE organization_id = ? AND program = ?`,
		organizationID, program,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// AdjustProgramBalance adds delta to a program balance and returns the new value.
// A negative delta only applies if the balance stays non-negative.
func (s *Store) AdjustProgramBalance(ctx context.Context, organizationID, program string, delta int) (int, error) {
	if delta >= 0 {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO program_balances (organization_id, program, balance) VALUES (?, ?, ?)
			ON CONFLICT(organization_id, program) DO UPDATE SET balance = balance + excluded.balance
		`, organizationID, program, delta)
		if err != nil {
			return 0, fmt.Errorf("failed to credit balance: %w", err)
		}
		return s.ProgramBalance(ctx, organizationID, program)
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE program_balances SET balance = balance + ?
		WHERE organization_id = ? AND program = ? AND balance >= ?
	`, delta, organizationID, program, -delta)
	if err != nil {
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		current, err := s.ProgramBalance(ctx, organizationID, program)
		if err != nil {
			return 0, err
		}
		return current, &portal.InsufficientBalanceError{
			Resource:  program,
			Available: decimal.NewFromInt(int64(current)),
			Requested: decimal.NewFromInt(int64(-delta)),
		}
	}
	return s.ProgramBalance(ctx, organizationID, program)
}

// DebitTrainingFund subtracts amount from the training fund with a
// compare-and-set on the value just read.
func (s *Store) DebitTrainingFund(ctx context.Context, organizationID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var raw string
	err := s.q.QueryRowContext(ctx,
		`SELECT training_fund_balance FROM organizations WHERE id = ?`, organizationID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, portal.NotFound("organization", organizationID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read training fund: %w", err)
	}

	current := portal.MustParseDecimal(raw)
	if !amount.IsPositive() {
		return current, nil
	}
	if current.LessThan(amount) {
		return current, &portal.InsufficientBalanceError{Resource: "training fund", Available: current, Requested: amount}
	}

	next := current.Sub(amount)
	res, err := s.q.ExecContext(ctx,
		`UPDATE organizations SET training_fund_balance = ? WHERE id = ? AND training_fund_balance = ?`,
		next.String(), organizationID, raw,
	)
	if err != nil {
		return current, fmt.Errorf("failed to debit training fund: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return current, err
	}
	if n == 0 {
		return current, portal.ErrConcurrentModification
	}
	return next, nil
}

// =============================================================================
// PROGRAMS
// =============================================================================

// SaveProgram upserts a program definition.
func (s *Store) SaveProgram(ctx context.Context, p portal.Program) error {
	offerJSON, err := json.Marshal(p.Offer)
	if err != nil {
		return fmt.Errorf("failed to encode offer: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO programs (id, tag, name, unit_price, offer_json) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tag = excluded.tag, name = excluded.name,
			unit_price = excluded.unit_price, offer_json = excluded.offer_json
	`, p.ID, p.Tag, p.Name, p.UnitPrice.String(), string(offerJSON))
	if err != nil {
		return fmt.Errorf("failed to save program: %w", err)
	}
	return nil
}

// GetProgram returns a program by tag.
func (s *Store) GetProgram(ctx context.Context, tag string) (*portal.Program, error) {
	var (
		p         portal.Program
		unitPrice string
		offerJSON sql.NullString
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, tag, name, unit_price, offer_json FROM programs WHERE tag = ?`, tag,
	).Scan(&p.ID, &p.Tag, &p.Name, &unitPrice, &offerJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, portal.NotFound("program", tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}
	p.UnitPrice = portal.MustParseDecimal(unitPrice)
	p.Offer = portal.Offer{Type: portal.OfferNone}
	if offerJSON.Valid && offerJSON.String != "" {
		if err := json.Unmarshal([]byte(offerJSON.String), &p.Offer); err != nil {
			return nil, fmt.Errorf("program %s has malformed offer: %w", tag, err)
		}
	}
	return &p, nil
}

// =============================================================================
// EVENTS & ADMINS (collaborator tables)
// =============================================================================

// SaveEvent upserts an event.
func (s *Store) SaveEvent(ctx context.Context, e portal.Event) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO events (id, title, location, starts_at, external_event_id, ticket_class_id, price)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, location = excluded.location, starts_at = excluded.starts_at,
			external_event_id = excluded.external_event_id, ticket_class_id = excluded.ticket_class_id,
			price = excluded.price
	`, e.ID, e.Title, nullString(e.Location), formatTime(e.StartsAt),
		nullString(e.ExternalEventID), nullString(e.TicketClassID), e.Price.String())
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvent returns an event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*portal.Event, error) {
	var (
		e                         portal.Event
		location, startsAt        sql.NullString
		externalID, ticketClassID sql.NullString
		price                     string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, title, location, starts_at, external_event_id, ticket_class_id, price
		FROM events WHERE id = ?
	`, id).Scan(&e.ID, &e.Title, &location, &startsAt, &externalID, &ticketClassID, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, portal.NotFound("event", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	e.Location = location.String
	e.StartsAt = parseTime(startsAt.String)
	e.ExternalEventID = externalID.String
	e.TicketClassID = ticketClassID.String
	e.Price = portal.MustParseDecimal(price)
	return &e, nil
}

// SaveAdmin grants the admin capability to an email.
func (s *Store) SaveAdmin(ctx context.Context, email string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO admins (email) VALUES (?) ON CONFLICT(email) DO NOTHING`,
		strings.TrimSpace(email))
	return err
}

// IsAdmin is a point lookup on the admins table.
func (s *Store) IsAdmin(ctx context.Context, email string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return false, nil
	}
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admins WHERE email = ?`, email,
	).Scan(&count)
	return count > 0, err
}
