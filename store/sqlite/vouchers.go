package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/member-portal/portal"
)

// =============================================================================
// VOUCHERS
// =============================================================================

// SaveVoucher upserts a voucher.
func (s *Store) SaveVoucher(ctx context.Context, v portal.Voucher) error {
	status := v.Status
	if status == "" {
		status = portal.VoucherActive
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO vouchers (id, organization_id, remaining_value, status, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id, remaining_value = excluded.remaining_value,
			status = excluded.status, expires_at = excluded.expires_at
	`, v.ID, v.OrganizationID, v.RemainingValue.String(), status, formatTime(v.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to save voucher: %w", err)
	}
	return nil
}

// GetVouchers loads vouchers by id. Every id must exist.
func (s *Store) GetVouchers(ctx context.Context, ids []string) ([]portal.Voucher, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, organization_id, remaining_value, status, expires_at
		FROM vouchers WHERE id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vouchers: %w", err)
	}
	defer rows.Close()

	found := make(map[string]portal.Voucher, len(ids))
	for rows.Next() {
		var (
			v                portal.Voucher
			remaining, expAt string
		)
		if err := rows.Scan(&v.ID, &v.OrganizationID, &remaining, &v.Status, &expAt); err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		v.RemainingValue = portal.MustParseDecimal(remaining)
		v.ExpiresAt = parseTime(expAt)
		found[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vouchers := make([]portal.Voucher, 0, len(ids))
	for _, id := range ids {
		v, ok := found[id]
		if !ok {
			return nil, portal.NotFound("voucher", id)
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, nil
}

// ConsumeVoucher takes amount off a voucher whose remaining value is still
// expectedRemaining. The voucher flips to used when it reaches zero.
func (s *Store) ConsumeVoucher(ctx context.Context, id string, expectedRemaining, amount decimal.Decimal) (*portal.Voucher, error) {
	next := expectedRemaining.Sub(amount)
	if next.IsNegative() {
		return nil, &portal.InsufficientBalanceError{Resource: "voucher " + id, Available: expectedRemaining, Requested: amount}
	}

	// Compare-and-set against the stored text, which may be formatted
	// differently from expectedRemaining.String().
	var raw string
	err := s.q.QueryRowContext(ctx, `SELECT remaining_value FROM vouchers WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, portal.NotFound("voucher", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read voucher: %w", err)
	}
	if !portal.MustParseDecimal(raw).Equal(expectedRemaining) {
		return nil, fmt.Errorf("voucher %s: %w", id, portal.ErrConcurrentModification)
	}

	status := portal.VoucherActive
	if next.IsZero() {
		status = portal.VoucherUsed
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE vouchers SET remaining_value = ?, status = ?
		WHERE id = ? AND status = 'active' AND remaining_value = ?
	`, next.String(), status, id, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to consume voucher: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("voucher %s: %w", id, portal.ErrConcurrentModification)
	}

	vs, err := s.GetVouchers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return &vs[0], nil
}

// ExpireVouchers flips active vouchers past their expiry to expired.
func (s *Store) ExpireVouchers(ctx context.Context, now time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE vouchers SET status = 'expired' WHERE status = 'active' AND expires_at < ?`,
		formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to expire vouchers: %w", err)
	}
	n, err := affected(res)
	return int(n), err
}

// =============================================================================
// DISCOUNT CODES
// =============================================================================

// SaveDiscountCode upserts a discount code.
func (s *Store) SaveDiscountCode(ctx context.Context, d portal.DiscountCode) error {
	var expiresAt sql.NullString
	if d.ExpiresAt != nil {
		expiresAt = nullString(formatTime(*d.ExpiresAt))
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO discount_codes
		(id, code, discount_type, value, program_tag, organization_id, min_purchase,
		 max_usage, usage_count, active, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code, discount_type = excluded.discount_type, value = excluded.value,
			program_tag = excluded.program_tag, organization_id = excluded.organization_id,
			min_purchase = excluded.min_purchase, max_usage = excluded.max_usage,
			usage_count = excluded.usage_count, active = excluded.active, expires_at = excluded.expires_at
	`, d.ID, d.Code, d.Type, d.Value.String(), nullString(d.ProgramTag), nullString(d.OrganizationID),
		d.MinPurchase.String(), d.MaxUsage, d.UsageCount, boolInt(d.Active), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save discount code: %w", err)
	}
	return nil
}

// GetDiscountCode returns a discount code by id.
func (s *Store) GetDiscountCode(ctx context.Context, id string) (*portal.DiscountCode, error) {
	var (
		d                       portal.DiscountCode
		value, minPurchase      string
		programTag, orgID, expA sql.NullString
		active                  int
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, code, discount_type, value, program_tag, organization_id, min_purchase,
		       max_usage, usage_count, active, expires_at
		FROM discount_codes WHERE id = ?
	`, id).Scan(&d.ID, &d.Code, &d.Type, &value, &programTag, &orgID, &minPurchase,
		&d.MaxUsage, &d.UsageCount, &active, &expA)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, portal.NotFound("discount code", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discount code: %w", err)
	}
	d.Value = portal.MustParseDecimal(value)
	d.MinPurchase = portal.MustParseDecimal(minPurchase)
	d.ProgramTag = programTag.String
	d.OrganizationID = orgID.String
	d.Active = active == 1
	if expA.Valid {
		t := parseTime(expA.String)
		d.ExpiresAt = &t
	}
	return &d, nil
}

// DiscountUsage returns how often organizationID has used the code.
func (s *Store) DiscountUsage(ctx context.Context, codeID, organizationID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT usage_count FROM discount_code_usages WHERE code_id = ? AND organization_id = ?`,
		codeID, organizationID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// IncrementDiscountUsage records one use of the code. The increment only
// applies while usage is below max_usage (per organization for
// organization-restricted codes, globally otherwise).
func (s *Store) IncrementDiscountUsage(ctx context.Context, code *portal.DiscountCode, organizationID string) error {
	if code.PerOrganization() {
		res, err := s.q.ExecContext(ctx, `
			INSERT INTO discount_code_usages (code_id, organization_id, usage_count) VALUES (?, ?, 1)
			ON CONFLICT(code_id, organization_id) DO UPDATE SET usage_count = usage_count + 1
			WHERE ? = 0 OR discount_code_usages.usage_count < ?
		`, code.ID, organizationID, code.MaxUsage, code.MaxUsage)
		if err != nil {
			return fmt.Errorf("failed to record discount usage: %w", err)
		}
		if n, err := affected(res); err != nil {
			return err
		} else if n == 0 {
			return portal.Invalid("appliedDiscountId", "discount code %s has reached its usage limit", code.Code)
		}
		_, err = s.q.ExecContext(ctx,
			`UPDATE discount_codes SET usage_count = usage_count + 1 WHERE id = ?`, code.ID)
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE discount_codes SET usage_count = usage_count + 1
		WHERE id = ? AND (max_usage = 0 OR usage_count < max_usage)
	`, code.ID)
	if err != nil {
		return fmt.Errorf("failed to record discount usage: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return portal.Invalid("appliedDiscountId", "discount code %s has reached its usage limit", code.Code)
	}
	return nil
}
