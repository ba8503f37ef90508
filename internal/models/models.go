package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product
type Product struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Quantity    int             `db:"quantity" json:"quantity"`
	Price       decimal.Decimal `db:"price" json:"price"`
	PointsPrice int64           `db:"points_price" json:"pointsPrice"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Customer represents a store customer
type Customer struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	Phone          string    `db:"phone" json:"phone,omitempty"`
	MembershipCode string    `db:"membership_code" json:"membershipCode,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PurchaseEntry is one membership purchase-history record. Exactly one of
// Amount / PointsUsed is meaningful, matching the sale it references.
type PurchaseEntry struct {
	SaleID     string          `json:"saleId"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	PointsUsed int64           `json:"pointsUsed,omitempty"`
}

// PurchaseHistory is stored as a JSONB column.
type PurchaseHistory []PurchaseEntry

// Value implements driver.Valuer for JSONB storage
func (h PurchaseHistory) Value() (driver.Value, error) {
	if h == nil {
		h = PurchaseHistory{}
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner for JSONB storage
func (h *PurchaseHistory) Scan(src interface{}) error {
	if src == nil {
		*h = PurchaseHistory{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unexpected purchase history type %T", src)
	}
	return json.Unmarshal(b, h)
}

// Membership represents a loyalty account
type Membership struct {
	Code             string          `db:"code" json:"code"`
	RegistrationDate time.Time       `db:"registration_date" json:"registrationDate"`
	Points           int64           `db:"points" json:"points"`
	Active           bool            `db:"active" json:"active"`
	LastPurchase     *time.Time      `db:"last_purchase" json:"lastPurchase,omitempty"`
	PurchaseHistory  PurchaseHistory `db:"purchase_history" json:"purchaseHistory"`
}

// SaleLine is one product line on a sale. Price is the unit price captured at
// purchase time on cash sales; Points is the unit points price on points sales.
type SaleLine struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Points      int64           `json:"points,omitempty"`
}

// SaleLines is stored as a JSONB column.
type SaleLines []SaleLine

// Value implements driver.Valuer for JSONB storage
func (l SaleLines) Value() (driver.Value, error) {
	if l == nil {
		l = SaleLines{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB storage
func (l *SaleLines) Scan(src interface{}) error {
	if src == nil {
		*l = SaleLines{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unexpected sale lines type %T", src)
	}
	return json.Unmarshal(b, l)
}

// Sale kinds. The kind is fixed at creation; cancellation branches on it
// instead of sniffing which optional fields are populated.
const (
	SaleKindCash           = "CASH"
	SaleKindCashMembership = "CASH_MEMBERSHIP"
	SaleKindPoints         = "POINTS"
)

// Sale represents a persisted sale. TotalAmount and Points are meaningful on
// cash sales, PointsUsed on points sales; the zero values are stored otherwise.
type Sale struct {
	ID             string          `db:"id" json:"id"`
	Kind           string          `db:"kind" json:"kind"`
	SaleDate       time.Time       `db:"sale_date" json:"saleDate"`
	MembershipCode string          `db:"membership_code" json:"membershipCode,omitempty"`
	Products       SaleLines       `db:"products" json:"products"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"totalAmount"`
	PointsUsed     int64           `db:"points_used" json:"pointsUsed"`
	Points         int64           `db:"points" json:"points"`
	IsCancelled    bool            `db:"is_cancelled" json:"isCancelled"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// HasMembership reports whether the sale touched a loyalty account.
func (s *Sale) HasMembership() bool {
	return s.Kind == SaleKindCashMembership || s.Kind == SaleKindPoints
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
