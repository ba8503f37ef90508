package engine

import (
	"context"
	"fmt"
	"time"

	"store-service/internal/models"
	"store-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductLedger is the product collection contract the engine depends on.
// Quantity mutations are deltas applied atomically by the ledger.
type ProductLedger interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	AdjustProductQuantity(ctx context.Context, id string, delta int) error
}

// MembershipLedger is the loyalty-account collection contract.
type MembershipLedger interface {
	GetMembershipPoints(ctx context.Context, code string) (int64, error)
	AdjustMembershipPoints(ctx context.Context, code string, delta int64) error
	AppendPurchaseHistory(ctx context.Context, code string, entry models.PurchaseEntry) error
	RemovePurchaseHistory(ctx context.Context, code, saleID string) error
}

// SaleLedger is the sale collection contract.
type SaleLedger interface {
	CreateSale(ctx context.Context, sale *models.Sale) error
	GetSale(ctx context.Context, id string) (*models.Sale, error)
	MarkSaleCancelled(ctx context.Context, id string) error
}

// EventSink publishes domain events after engine writes commit. Publishing is
// best effort: failures are logged, never propagated.
type EventSink interface {
	PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error
	PublishSaleCancelled(ctx context.Context, event *models.SaleCancelledEvent) error
	PublishPointsAccrued(ctx context.Context, event *models.PointsAccruedEvent) error
	PublishPointsRedeemed(ctx context.Context, event *models.PointsRedeemedEvent) error
}

// LineItem is one requested cart line. Field validation happens upstream;
// the engine assumes quantity >= 1.
type LineItem struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// Engine orchestrates the multi-entity state changes behind sale creation,
// points redemption and cancellation. Each write is an independent atomic
// round-trip to its ledger; there is no multi-document transaction. A write
// that matches nothing signals a stale read and aborts the remaining steps
// without rolling back the ones already applied.
type Engine struct {
	products       ProductLedger
	memberships    MembershipLedger
	sales          SaleLedger
	events         EventSink
	conversionRate int64
	logger         *zap.Logger

	now   func() time.Time
	newID func() string
}

// New creates a sale transaction engine. events may be nil.
func New(
	products ProductLedger,
	memberships MembershipLedger,
	sales SaleLedger,
	events EventSink,
	conversionRate int64,
) *Engine {
	if conversionRate <= 0 {
		conversionRate = 10
	}
	return &Engine{
		products:       products,
		memberships:    memberships,
		sales:          sales,
		events:         events,
		conversionRate: conversionRate,
		logger:         util.GetLogger(),
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// pointsFor converts a cash total into awarded loyalty points:
// floor(total / conversionRate).
func (e *Engine) pointsFor(total decimal.Decimal) int64 {
	return total.Div(decimal.NewFromInt(e.conversionRate)).IntPart()
}

// saleDate truncates the clock to the calendar day, the granularity sales are
// recorded at.
func (e *Engine) saleDate() time.Time {
	y, m, d := e.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ProcessSale creates a cash sale: deducts each cart line from inventory in
// input order, persists the sale, and, when a membership code is supplied,
// accrues points and appends a purchase-history entry.
func (e *Engine) ProcessSale(ctx context.Context, items []LineItem, membershipCode string) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "Engine.ProcessSale")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SaleProcessingLatency.WithLabelValues("sale").Observe(time.Since(start).Seconds())
	}()

	date := e.saleDate()
	total := decimal.Zero
	lines := make(models.SaleLines, 0, len(items))

	for _, item := range items {
		product, err := e.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			util.SalesFailedTotal.WithLabelValues("product_read").Inc()
			return nil, fmt.Errorf("failed to read product %s: %w", item.ProductID, err)
		}

		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		lines = append(lines, models.SaleLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			Price:       product.Price,
		})

		if err := e.products.AdjustProductQuantity(ctx, item.ProductID, -item.Quantity); err != nil {
			util.SalesFailedTotal.WithLabelValues("inventory").Inc()
			return nil, fmt.Errorf("failed to update inventory for product %s: %w", item.ProductID, err)
		}
	}

	sale := &models.Sale{
		ID:       e.newID(),
		Kind:     models.SaleKindCash,
		SaleDate: date,
		Products: lines,
	}
	sale.TotalAmount = total

	if membershipCode != "" {
		sale.Kind = models.SaleKindCashMembership
		sale.MembershipCode = membershipCode
		sale.Points = e.pointsFor(total)
	}

	if err := e.sales.CreateSale(ctx, sale); err != nil {
		util.SalesFailedTotal.WithLabelValues("sale_insert").Inc()
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}

	if membershipCode != "" {
		if err := e.memberships.AdjustMembershipPoints(ctx, membershipCode, sale.Points); err != nil {
			util.SalesFailedTotal.WithLabelValues("points").Inc()
			return nil, fmt.Errorf("failed to add points to membership %s: %w", membershipCode, err)
		}

		entry := models.PurchaseEntry{SaleID: sale.ID, Date: date, Amount: total}
		if err := e.memberships.AppendPurchaseHistory(ctx, membershipCode, entry); err != nil {
			util.SalesFailedTotal.WithLabelValues("history").Inc()
			return nil, fmt.Errorf("failed to update purchase history for membership %s: %w", membershipCode, err)
		}

		util.PointsAccruedTotal.Add(float64(sale.Points))
		e.publishPointsAccrued(ctx, sale)
	}

	util.SalesCreatedTotal.WithLabelValues(sale.Kind).Inc()
	e.logger.Info("Sale created",
		zap.String("sale_id", sale.ID),
		zap.String("kind", sale.Kind),
		zap.String("total_amount", sale.TotalAmount.String()),
		zap.Int64("points", sale.Points))

	e.publishSaleCreated(ctx, sale)
	return sale, nil
}

// ProcessSaleWithPoints creates a points-redemption sale. The full points cost
// is computed against the membership balance before anything mutates; an
// insufficient balance is rejected with no state change.
func (e *Engine) ProcessSaleWithPoints(ctx context.Context, items []LineItem, membershipCode string) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "Engine.ProcessSaleWithPoints")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SaleProcessingLatency.WithLabelValues("points_sale").Observe(time.Since(start).Seconds())
	}()

	balance, err := e.memberships.GetMembershipPoints(ctx, membershipCode)
	if err != nil {
		return nil, fmt.Errorf("failed to read membership %s: %w", membershipCode, err)
	}

	var totalPoints int64
	products := make([]*models.Product, 0, len(items))
	for _, item := range items {
		product, err := e.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to read product %s: %w", item.ProductID, err)
		}
		totalPoints += int64(item.Quantity) * product.PointsPrice
		products = append(products, product)
	}

	if balance < totalPoints {
		util.SalesRejectedTotal.WithLabelValues("insufficient_points").Inc()
		e.logger.Info("Points sale rejected",
			zap.String("membership_code", membershipCode),
			zap.Int64("balance", balance),
			zap.Int64("required", totalPoints))
		return nil, ErrInsufficientPoints
	}

	date := e.saleDate()
	lines := make(models.SaleLines, 0, len(items))

	for i, item := range items {
		product := products[i]
		lines = append(lines, models.SaleLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			Points:      product.PointsPrice,
		})

		if err := e.products.AdjustProductQuantity(ctx, item.ProductID, -item.Quantity); err != nil {
			util.SalesFailedTotal.WithLabelValues("inventory").Inc()
			return nil, fmt.Errorf("failed to update inventory for product %s: %w", item.ProductID, err)
		}
	}

	sale := &models.Sale{
		ID:             e.newID(),
		Kind:           models.SaleKindPoints,
		SaleDate:       date,
		MembershipCode: membershipCode,
		Products:       lines,
		PointsUsed:     totalPoints,
	}

	if err := e.sales.CreateSale(ctx, sale); err != nil {
		util.SalesFailedTotal.WithLabelValues("sale_insert").Inc()
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}

	if err := e.memberships.AdjustMembershipPoints(ctx, membershipCode, -totalPoints); err != nil {
		util.SalesFailedTotal.WithLabelValues("points").Inc()
		return nil, fmt.Errorf("failed to remove points from membership %s: %w", membershipCode, err)
	}

	entry := models.PurchaseEntry{SaleID: sale.ID, Date: date, PointsUsed: totalPoints}
	if err := e.memberships.AppendPurchaseHistory(ctx, membershipCode, entry); err != nil {
		util.SalesFailedTotal.WithLabelValues("history").Inc()
		return nil, fmt.Errorf("failed to update purchase history for membership %s: %w", membershipCode, err)
	}

	util.PointsRedeemedTotal.Add(float64(totalPoints))
	util.SalesCreatedTotal.WithLabelValues(sale.Kind).Inc()
	e.logger.Info("Points sale created",
		zap.String("sale_id", sale.ID),
		zap.String("membership_code", membershipCode),
		zap.Int64("points_used", totalPoints))

	e.publishSaleCreated(ctx, sale)
	e.publishPointsRedeemed(ctx, sale)
	return sale, nil
}

// ProcessCancellation drives the sale's cancellation state machine. The only
// allowed transition is active -> cancelled; every other combination is a
// business rejection. Reversal restores inventory, flips the flag, and undoes
// the loyalty effect recorded on the sale.
func (e *Engine) ProcessCancellation(ctx context.Context, saleID string, cancel bool) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "Engine.ProcessCancellation")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SaleProcessingLatency.WithLabelValues("cancellation").Observe(time.Since(start).Seconds())
	}()

	sale, err := e.sales.GetSale(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sale %s: %w", saleID, err)
	}

	switch {
	case sale.IsCancelled && !cancel:
		util.SalesRejectedTotal.WithLabelValues("undo_cancellation").Inc()
		return nil, ErrUndoCancellation
	case !sale.IsCancelled && !cancel:
		util.SalesRejectedTotal.WithLabelValues("already_valid").Inc()
		return nil, ErrSaleAlreadyValid
	case sale.IsCancelled && cancel:
		util.SalesRejectedTotal.WithLabelValues("already_cancelled").Inc()
		return nil, ErrSaleAlreadyCancelled
	}

	for _, line := range sale.Products {
		if err := e.products.AdjustProductQuantity(ctx, line.ProductID, line.Quantity); err != nil {
			util.SalesFailedTotal.WithLabelValues("inventory").Inc()
			return nil, fmt.Errorf("failed to restore inventory for product %s: %w", line.ProductID, err)
		}
	}

	if err := e.sales.MarkSaleCancelled(ctx, saleID); err != nil {
		util.SalesFailedTotal.WithLabelValues("sale_update").Inc()
		return nil, fmt.Errorf("failed to cancel sale %s: %w", saleID, err)
	}
	sale.IsCancelled = true

	switch sale.Kind {
	case models.SaleKindPoints:
		// Refund the points recorded on the sale, not a recomputation from
		// current catalog prices.
		if err := e.memberships.AdjustMembershipPoints(ctx, sale.MembershipCode, sale.PointsUsed); err != nil {
			util.SalesFailedTotal.WithLabelValues("points").Inc()
			return nil, fmt.Errorf("failed to refund points to membership %s: %w", sale.MembershipCode, err)
		}
	case models.SaleKindCashMembership:
		if err := e.memberships.AdjustMembershipPoints(ctx, sale.MembershipCode, -sale.Points); err != nil {
			util.SalesFailedTotal.WithLabelValues("points").Inc()
			return nil, fmt.Errorf("failed to revoke points from membership %s: %w", sale.MembershipCode, err)
		}
	}

	if sale.HasMembership() {
		if err := e.memberships.RemovePurchaseHistory(ctx, sale.MembershipCode, sale.ID); err != nil {
			util.SalesFailedTotal.WithLabelValues("history").Inc()
			return nil, fmt.Errorf("failed to update purchase history for membership %s: %w", sale.MembershipCode, err)
		}
	}

	util.SalesCancelledTotal.WithLabelValues(sale.Kind).Inc()
	e.logger.Info("Sale cancelled",
		zap.String("sale_id", sale.ID),
		zap.String("kind", sale.Kind))

	e.publishSaleCancelled(ctx, sale)
	return sale, nil
}

func (e *Engine) publishSaleCreated(ctx context.Context, sale *models.Sale) {
	if e.events == nil {
		return
	}
	event := &models.SaleCreatedEvent{
		BaseEvent:      e.baseEvent(models.EventTypeSaleCreated),
		SaleID:         sale.ID,
		Kind:           sale.Kind,
		MembershipCode: sale.MembershipCode,
		TotalAmount:    sale.TotalAmount,
		PointsUsed:     sale.PointsUsed,
		Items:          saleLineData(sale.Products),
	}
	if err := e.events.PublishSaleCreated(ctx, event); err != nil {
		e.logger.Error("Failed to publish SaleCreated event", zap.Error(err))
	}
}

func (e *Engine) publishSaleCancelled(ctx context.Context, sale *models.Sale) {
	if e.events == nil {
		return
	}
	event := &models.SaleCancelledEvent{
		BaseEvent:      e.baseEvent(models.EventTypeSaleCancelled),
		SaleID:         sale.ID,
		Kind:           sale.Kind,
		MembershipCode: sale.MembershipCode,
		Items:          saleLineData(sale.Products),
	}
	if err := e.events.PublishSaleCancelled(ctx, event); err != nil {
		e.logger.Error("Failed to publish SaleCancelled event", zap.Error(err))
	}
}

func (e *Engine) publishPointsAccrued(ctx context.Context, sale *models.Sale) {
	if e.events == nil {
		return
	}
	event := &models.PointsAccruedEvent{
		BaseEvent:      e.baseEvent(models.EventTypePointsAccrued),
		SaleID:         sale.ID,
		MembershipCode: sale.MembershipCode,
		Points:         sale.Points,
	}
	if err := e.events.PublishPointsAccrued(ctx, event); err != nil {
		e.logger.Error("Failed to publish PointsAccrued event", zap.Error(err))
	}
}

func (e *Engine) publishPointsRedeemed(ctx context.Context, sale *models.Sale) {
	if e.events == nil {
		return
	}
	event := &models.PointsRedeemedEvent{
		BaseEvent:      e.baseEvent(models.EventTypePointsRedeemed),
		SaleID:         sale.ID,
		MembershipCode: sale.MembershipCode,
		Points:         sale.PointsUsed,
	}
	if err := e.events.PublishPointsRedeemed(ctx, event); err != nil {
		e.logger.Error("Failed to publish PointsRedeemed event", zap.Error(err))
	}
}

func (e *Engine) baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: e.now(),
	}
}

func saleLineData(lines models.SaleLines) []models.SaleLineData {
	data := make([]models.SaleLineData, 0, len(lines))
	for _, line := range lines {
		data = append(data, models.SaleLineData{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return data
}
