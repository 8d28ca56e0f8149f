package events

import (
	"context"
	"sync"
	"time"

	"fulfillment-service/internal/domain"

	"go.uber.org/zap"
)

// EventPublisher defines the interface for the notification dispatcher.
// Publishing is fire-and-forget relative to order transitions: a failed
// publish is logged by the caller, never rolled into the transaction.
type EventPublisher interface {
	Publish(ctx context.Context, event interface{}) error
}

// OrderCompletedEvent signals that an order reached COMPLETED and its stock
// was consumed.
type OrderCompletedEvent struct {
	OrderID    string             `json:"order_id"`
	Lines      []domain.OrderLine `json:"lines"`
	Actor      string             `json:"actor"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// OrderCancelledEvent signals that an order was cancelled and any
// reservation was given back.
type OrderCancelledEvent struct {
	OrderID    string    `json:"order_id"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// InMemoryEventPublisher collects events in memory. Used as the fallback
// when the broker is unreachable and as a capture point in tests.
type InMemoryEventPublisher struct {
	logger *zap.Logger
	mu     sync.Mutex
	events []interface{}
}

func NewEventPublisher() *InMemoryEventPublisher {
	return &InMemoryEventPublisher{
		logger: zap.NewNop(),
		events: make([]interface{}, 0),
	}
}

func (p *InMemoryEventPublisher) Publish(ctx context.Context, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.logger.Info("Event published (in-memory)", zap.Any("event", event))
	return nil
}

// Events returns a snapshot of everything published so far.
func (p *InMemoryEventPublisher) Events() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]interface{}, len(p.events))
	copy(out, p.events)
	return out
}
