package store

import (
	"context"
	"database/sql"
	"fmt"

	"store-service/internal/models"
)

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves a page of products
func (s *Store) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products ORDER BY created_at, id LIMIT $1 OFFSET $2", limit, offset)
	return products, err
}

// CountProducts counts all products
func (s *Store) CountProducts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM products")
	return count, err
}

// CreateProduct inserts a new product
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (id, name, quantity, price, points_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	return s.db.GetContext(ctx, &product.CreatedAt, query,
		product.ID, product.Name, product.Quantity, product.Price, product.PointsPrice)
}

// UpdateProduct replaces the mutable fields of a product
func (s *Store) UpdateProduct(ctx context.Context, product *models.Product) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET name = $1, quantity = $2, price = $3, points_price = $4 WHERE id = $5",
		product.Name, product.Quantity, product.Price, product.PointsPrice, product.ID)
	if err != nil {
		return err
	}
	return requireMatch(res)
}

// AdjustProductQuantity applies a quantity delta as one atomic update. The
// predicate keeps quantity from ever going negative; ErrNoMatch means the
// product is missing or has insufficient stock.
func (s *Store) AdjustProductQuantity(ctx context.Context, id string, delta int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET quantity = quantity + $1 WHERE id = $2 AND quantity + $1 >= 0",
		delta, id)
	if err != nil {
		return err
	}
	return requireMatch(res)
}

// DeleteProduct deletes a product by ID
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return err
	}
	return requireMatch(res)
}

// requireMatch maps a zero-row update to ErrNoMatch, the document-store
// matchedCount contract.
func requireMatch(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoMatch
	}
	return nil
}
