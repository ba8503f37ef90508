package store

import (
	"context"
	"database/sql"
	"fmt"

	"store-service/internal/models"
)

// GetCustomer retrieves a customer by ID
func (s *Store) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer, "SELECT * FROM customers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("customer not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetCustomerMembershipCode retrieves the membership code linked to a customer,
// empty when the customer has no membership.
func (s *Store) GetCustomerMembershipCode(ctx context.Context, id string) (string, error) {
	var code string
	err := s.db.GetContext(ctx, &code,
		"SELECT membership_code FROM customers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("customer not found: %s", id)
	}
	return code, err
}

// ListCustomers retrieves a page of customers
func (s *Store) ListCustomers(ctx context.Context, limit, offset int) ([]models.Customer, error) {
	var customers []models.Customer
	err := s.db.SelectContext(ctx, &customers,
		"SELECT * FROM customers ORDER BY created_at, id LIMIT $1 OFFSET $2", limit, offset)
	return customers, err
}

// CountCustomers counts all customers
func (s *Store) CountCustomers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM customers")
	return count, err
}

// CreateCustomer inserts a new customer
func (s *Store) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	query := `
		INSERT INTO customers (id, name, email, phone, membership_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	return s.db.GetContext(ctx, &customer.CreatedAt, query,
		customer.ID, customer.Name, customer.Email, customer.Phone, customer.MembershipCode)
}

// UpdateCustomer replaces the mutable fields of a customer
func (s *Store) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE customers SET name = $1, email = $2, phone = $3 WHERE id = $4",
		customer.Name, customer.Email, customer.Phone, customer.ID)
	if err != nil {
		return err
	}
	return requireMatch(res)
}

// SetCustomerMembershipCode links or unlinks a customer's membership
func (s *Store) SetCustomerMembershipCode(ctx context.Context, id, code string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE customers SET membership_code = $1 WHERE id = $2", code, id)
	if err != nil {
		return err
	}
	return requireMatch(res)
}

// DeleteCustomer deletes a customer by ID
func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM customers WHERE id = $1", id)
	if err != nil {
		return err
	}
	return requireMatch(res)
}
