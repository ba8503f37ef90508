package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSaleCreated    = "SALE_CREATED"
	EventTypeSaleCancelled  = "SALE_CANCELLED"
	EventTypePointsAccrued  = "POINTS_ACCRUED"
	EventTypePointsRedeemed = "POINTS_REDEEMED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleLineData represents line data carried on sale events
type SaleLineData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// SaleCreatedEvent published after a sale is persisted
type SaleCreatedEvent struct {
	BaseEvent
	SaleID         string          `json:"sale_id"`
	Kind           string          `json:"kind"`
	MembershipCode string          `json:"membership_code,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PointsUsed     int64           `json:"points_used"`
	Items          []SaleLineData  `json:"items"`
}

// SaleCancelledEvent published after a sale reversal completes
type SaleCancelledEvent struct {
	BaseEvent
	SaleID         string         `json:"sale_id"`
	Kind           string         `json:"kind"`
	MembershipCode string         `json:"membership_code,omitempty"`
	Items          []SaleLineData `json:"items"`
}

// PointsAccruedEvent published when a cash sale awards loyalty points
type PointsAccruedEvent struct {
	BaseEvent
	SaleID         string `json:"sale_id"`
	MembershipCode string `json:"membership_code"`
	Points         int64  `json:"points"`
}

// PointsRedeemedEvent published when a points sale debits a loyalty account
type PointsRedeemedEvent struct {
	BaseEvent
	SaleID         string `json:"sale_id"`
	MembershipCode string `json:"membership_code"`
	Points         int64  `json:"points"`
}
