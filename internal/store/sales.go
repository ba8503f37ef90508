package store

import (
	"context"
	"database/sql"
	"fmt"

	"store-service/internal/models"
)

// CreateSale inserts a new sale
func (s *Store) CreateSale(ctx context.Context, sale *models.Sale) error {
	query := `
		INSERT INTO sales (id, kind, sale_date, membership_code, products, total_amount, points_used, points, is_cancelled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		sale.ID, sale.Kind, sale.SaleDate, sale.MembershipCode, sale.Products,
		sale.TotalAmount, sale.PointsUsed, sale.Points, sale.IsCancelled)
	return row.Scan(&sale.CreatedAt, &sale.UpdatedAt)
}

// GetSale retrieves a sale by ID
func (s *Store) GetSale(ctx context.Context, id string) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.GetContext(ctx, &sale, "SELECT * FROM sales WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// ListSales retrieves a page of sales
func (s *Store) ListSales(ctx context.Context, limit, offset int) ([]models.Sale, error) {
	var sales []models.Sale
	err := s.db.SelectContext(ctx, &sales,
		"SELECT * FROM sales ORDER BY created_at DESC, id LIMIT $1 OFFSET $2", limit, offset)
	return sales, err
}

// CountSales counts all sales
func (s *Store) CountSales(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM sales")
	return count, err
}

// MarkSaleCancelled flips is_cancelled on an active sale. The predicate makes
// concurrent double-cancellation a no-match instead of a double reversal.
func (s *Store) MarkSaleCancelled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sales SET is_cancelled = TRUE, updated_at = NOW() WHERE id = $1 AND is_cancelled = FALSE",
		id)
	if err != nil {
		return err
	}
	return requireMatch(res)
}
