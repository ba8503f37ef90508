package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"store-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSaleCreated publishes SaleCreated event
func (ep *EventPublisher) PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishSaleCancelled publishes SaleCancelled event
func (ep *EventPublisher) PublishSaleCancelled(ctx context.Context, event *models.SaleCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishPointsAccrued publishes PointsAccrued event
func (ep *EventPublisher) PublishPointsAccrued(ctx context.Context, event *models.PointsAccruedEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishPointsRedeemed publishes PointsRedeemed event
func (ep *EventPublisher) PublishPointsRedeemed(ctx context.Context, event *models.PointsRedeemedEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

func saleKey(saleID string) string {
	return fmt.Sprintf("sale-%s", saleID)
}

// EventHandler routes incoming sale events to registered callbacks
type EventHandler struct {
	onSaleCreated   func(context.Context, *models.SaleCreatedEvent) error
	onSaleCancelled func(context.Context, *models.SaleCancelledEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnSaleCreated registers a handler for SaleCreated events
func (eh *EventHandler) OnSaleCreated(handler func(context.Context, *models.SaleCreatedEvent) error) {
	eh.onSaleCreated = handler
}

// OnSaleCancelled registers a handler for SaleCancelled events
func (eh *EventHandler) OnSaleCancelled(handler func(context.Context, *models.SaleCancelledEvent) error) {
	eh.onSaleCancelled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeSaleCreated:
		if eh.onSaleCreated != nil {
			var event models.SaleCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleCreated event: %w", err)
			}
			return eh.onSaleCreated(ctx, &event)
		}

	case models.EventTypeSaleCancelled:
		if eh.onSaleCancelled != nil {
			var event models.SaleCancelledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleCancelled event: %w", err)
			}
			return eh.onSaleCancelled(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
