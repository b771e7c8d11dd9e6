package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

// =============================================================================
// PROGRAM TICKET TRANSACTIONS
// =============================================================================

const transactionColumns = `id, organization_id, program_name, transaction_type, quantity, value,
	original_quantity, cancelled_quantity, status, related_transaction_id,
	booking_reference, actor, notes, created_at`

// AppendTransaction inserts a ledger row. ID, status and created_at are
// filled in when empty.
func (s *Store) AppendTransaction(ctx context.Context, tx *portal.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Status == "" {
		tx.Status = portal.TxActive
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO program_ticket_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.OrganizationID, tx.ProgramName, tx.Type, tx.Quantity, tx.Value.String(),
		tx.OriginalQuantity, tx.CancelledQuantity, tx.Status,
		nullString(tx.RelatedTransactionID), nullString(tx.BookingReference),
		nullString(tx.Actor), nullString(tx.Notes), formatTime(tx.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// GetTransaction returns a single ledger row.
func (s *Store) GetTransaction(ctx context.Context, id string) (*portal.Transaction, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM program_ticket_transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, portal.NotFound("transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// UpdateTransactionCounters sets cancelled_quantity and status on a purchase
// row, provided nobody changed cancelled_quantity since it was read.
func (s *Store) UpdateTransactionCounters(ctx context.Context, id string, expectedCancelled, cancelled int, status portal.TransactionStatus) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE program_ticket_transactions SET cancelled_quantity = ?, status = ?
		WHERE id = ? AND cancelled_quantity = ?
	`, cancelled, status, id, expectedCancelled)
	if err != nil {
		return fmt.Errorf("failed to update transaction counters: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, portal.ErrConcurrentModification)
	}
	return nil
}

// AnnotateTransaction replaces the notes of a ledger row.
func (s *Store) AnnotateTransaction(ctx context.Context, id, notes string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE program_ticket_transactions SET notes = ? WHERE id = ?`, nullString(notes), id)
	if err != nil {
		return fmt.Errorf("failed to annotate transaction: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return portal.NotFound("transaction", id)
	}
	return nil
}

// ListTransactions returns an organization's ledger, oldest first.
func (s *Store) ListTransactions(ctx context.Context, organizationID string) ([]portal.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM program_ticket_transactions
		WHERE organization_id = ?
		ORDER BY created_at, id
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []portal.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*portal.Transaction, error) {
	var (
		tx                               portal.Transaction
		value, createdAt                 string
		related, reference, actor, notes sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.OrganizationID, &tx.ProgramName, &tx.Type, &tx.Quantity, &value,
		&tx.OriginalQuantity, &tx.CancelledQuantity, &tx.Status, &related,
		&reference, &actor, &notes, &createdAt)
	if err != nil {
		return nil, err
	}
	tx.Value = portal.MustParseDecimal(value)
	tx.RelatedTransactionID = related.String
	tx.BookingReference = reference.String
	tx.Actor = actor.String
	tx.Notes = notes.String
	tx.CreatedAt = parseTime(createdAt)
	return &tx, nil
}

// =============================================================================
// PAYMENT INTENTS
// =============================================================================

// ClaimPaymentIntent records intentID as spent. A second claim of the same
// intent inserts nothing and is rejected.
func (s *Store) ClaimPaymentIntent(ctx context.Context, intentID, organizationID, reference string, amount decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO payment_intents (id, organization_id, booking_reference, amount, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, intentID, organizationID, reference, amount.String(), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to claim payment intent: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return portal.Invalid("stripePaymentIntentId", "payment %s has already been used", intentID)
	}
	return nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `id, event_id, member_id, organization_id, first_name, last_name, email,
	booking_reference, status, external_reservation_id, voucher_amount,
	training_fund_amount, account_amount, card_amount, confirmation_token, created_at`

// CreateBookings inserts one row per attendee.
func (s *Store) CreateBookings(ctx context.Context, bookings []portal.Booking) error {
	for i := range bookings {
		b := &bookings[i]
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = time.Now().UTC()
		}
		if !b.Status.Valid() {
			return portal.Invalid("status", "unknown booking status %q", b.Status)
		}

		_, err := s.q.ExecContext(ctx, `
			INSERT INTO bookings (`+bookingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.EventID, b.MemberID, b.OrganizationID,
			nullString(b.Attendee.FirstName), nullString(b.Attendee.LastName), b.Attendee.Email,
			b.BookingReference, b.Status, nullString(b.ExternalReservationID),
			b.VoucherAmount.String(), b.TrainingFundAmount.String(),
			b.AccountAmount.String(), b.CardAmount.String(),
			nullString(b.ConfirmationToken), formatTime(b.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to create booking for %s: %w", b.Attendee.Email, err)
		}
	}
	return nil
}

// GetBookingByToken finds the booking a confirmation link points at.
func (s *Store) GetBookingByToken(ctx context.Context, token string) (*portal.Booking, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE confirmation_token = ?`, token)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, portal.NotFound("booking", token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// ListBookingsByReference returns every attendee row of one booking.
func (s *Store) ListBookingsByReference(ctx context.Context, reference string) ([]portal.Booking, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE booking_reference = ?
		ORDER BY created_at, email
	`, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []portal.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// UpdateBookingStatus moves a booking from one status to another. The
// transition must be allowed and the row must still be in the from status.
// A non-empty externalID replaces the stored reservation id.
func (s *Store) UpdateBookingStatus(ctx context.Context, id string, from, to portal.BookingStatus, externalID string) error {
	if _, err := portal.Transition(from, to); err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, external_reservation_id = COALESCE(?, external_reservation_id)
		WHERE id = ? AND status = ?
	`, to, nullString(externalID), id, from)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("booking %s: %w", id, portal.ErrConcurrentModification)
	}
	return nil
}

func scanBooking(row scanner) (*portal.Booking, error) {
	var (
		b                                     portal.Booking
		first, last, externalID, token        sql.NullString
		voucher, fund, account, card, created string
	)
	err := row.Scan(&b.ID, &b.EventID, &b.MemberID, &b.OrganizationID, &first, &last,
		&b.Attendee.Email, &b.BookingReference, &b.Status, &externalID,
		&voucher, &fund, &account, &card, &token, &created)
	if err != nil {
		return nil, err
	}
	b.Attendee.FirstName = first.String
	b.Attendee.LastName = last.String
	b.ExternalReservationID = externalID.String
	b.VoucherAmount = portal.MustParseDecimal(voucher)
	b.TrainingFundAmount = portal.MustParseDecimal(fund)
	b.AccountAmount = portal.MustParseDecimal(account)
	b.CardAmount = portal.MustParseDecimal(card)
	b.ConfirmationToken = token.String
	b.CreatedAt = parseTime(created)
	return &b, nil
}
