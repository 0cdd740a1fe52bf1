package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"commerce-sync/internal/models"
	"commerce-sync/internal/util"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishEscrowStatusObserved publishes a chain escrow status observation
func (ep *EventPublisher) PublishEscrowStatusObserved(ctx context.Context, event *models.EscrowStatusObservedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderReleased publishes OrderReleased event
func (ep *EventPublisher) PublishOrderReleased(ctx context.Context, event *models.OrderReleasedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderRefunded publishes OrderRefunded event
func (ep *EventPublisher) PublishOrderRefunded(ctx context.Context, event *models.OrderRefundedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishProductRegistered publishes ProductRegistered event
func (ep *EventPublisher) PublishProductRegistered(ctx context.Context, event *models.ProductRegisteredEvent) error {
	return ep.producer.PublishEvent(ctx, productKey(event.ProductID), event)
}

// PublishProductUpdated publishes ProductUpdated event
func (ep *EventPublisher) PublishProductUpdated(ctx context.Context, event *models.ProductUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, productKey(event.ProductID), event)
}

func orderKey(orderID string) string {
	return fmt.Sprintf("order-%s", orderID)
}

func productKey(productID string) string {
	return fmt.Sprintf("product-%s", productID)
}

// EventHandler handles incoming events
type EventHandler struct {
	onEscrowStatusObserved func(context.Context, *models.EscrowStatusObservedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnEscrowStatusObserved registers a handler for EscrowStatusObserved events
func (eh *EventHandler) OnEscrowStatusObserved(handler func(context.Context, *models.EscrowStatusObservedEvent) error) {
	eh.onEscrowStatusObserved = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	util.GetLogger().Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeEscrowStatusObserved:
		if eh.onEscrowStatusObserved != nil {
			var event models.EscrowStatusObservedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal EscrowStatusObserved event: %w", err)
			}
			return eh.onEscrowStatusObserved(ctx, &event)
		}

	default:
		util.GetLogger().Warn("Unhandled event type",
			zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
