package store

import (
	"context"
	"database/sql"
	"fmt"

	"store-service/internal/models"
)

// GetMembership retrieves a membership by code
func (s *Store) GetMembership(ctx context.Context, code string) (*models.Membership, error) {
	var membership models.Membership
	err := s.db.GetContext(ctx, &membership, "SELECT * FROM memberships WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("membership not found: %s", code)
	}
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// GetMembershipPoints retrieves only the points balance for a membership
func (s *Store) GetMembershipPoints(ctx context.Context, code string) (int64, error) {
	var points int64
	err := s.db.GetContext(ctx, &points, "SELECT points FROM memberships WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("membership not found: %s", code)
	}
	return points, err
}

// ListMemberships retrieves a page of memberships
func (s *Store) ListMemberships(ctx context.Context, limit, offset int) ([]models.Membership, error) {
	var memberships []models.Membership
	err := s.db.SelectContext(ctx, &memberships,
		"SELECT * FROM memberships ORDER BY registration_date, code LIMIT $1 OFFSET $2", limit, offset)
	return memberships, err
}

// CountMemberships counts all memberships
func (s *Store) CountMemberships(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM memberships")
	return count, err
}

// CreateMembership inserts a new membership
func (s *Store) CreateMembership(ctx context.Context, membership *models.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (code, registration_date, points, active, last_purchase, purchase_history)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		membership.Code, membership.RegistrationDate, membership.Points,
		membership.Active, membership.LastPurchase, membership.PurchaseHistory)
	return err
}

// SetMembershipActive flips the active flag
func (s *Store) SetMembershipActive(ctx context.Context, code string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE memberships SET active = $1 WHERE code = $2", active, code)
	if err != nil {
		return err
	}
	return requireMatch(res)
}

// AdjustMembershipPoints applies a points delta as one atomic update. The
// predicate keeps the balance from ever going negative; ErrNoMatch means the
// membership is missing or the debit exceeds the balance.
func (s *Store) AdjustMembershipPoints(ctx context.Context, code string, delta int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE memberships SET points = points + $1 WHERE code = $2 AND points + $1 >= 0",
		delta, code)
	if err != nil {
		return err
	}
	return requireMatch(res)
}

// AppendPurchaseHistory appends one entry to the membership's purchase history
// and advances last_purchase, in a single statement.
func (s *Store) AppendPurchaseHistory(ctx context.Context, code string, entry models.PurchaseEntry) error {
	doc, err := models.PurchaseHistory{entry}.Value()
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memberships
		SET purchase_history = purchase_history || $1::jsonb, last_purchase = $2
		WHERE code = $3`,
		doc, entry.Date, code)
	if err != nil {
		return err
	}
	return requireMatch(res)
}

// RemovePurchaseHistory removes every history entry referencing the given sale
func (s *Store) RemovePurchaseHistory(ctx context.Context, code, saleID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memberships
		SET purchase_history = COALESCE(
			(SELECT jsonb_agg(entry)
			 FROM jsonb_array_elements(purchase_history) AS entry
			 WHERE entry->>'saleId' <> $1),
			'[]'::jsonb)
		WHERE code = $2`,
		saleID, code)
	if err != nil {
		return err
	}
	return requireMatch(res)
}

// DeleteMembership deletes a membership by code
func (s *Store) DeleteMembership(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memberships WHERE code = $1", code)
	if err != nil {
		return err
	}
	return requireMatch(res)
}
