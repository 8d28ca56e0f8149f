package lifecycle

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/internal/domain"
	"fulfillment-service/internal/events"
	"fulfillment-service/internal/repository"

	"go.uber.org/zap"
)

// InventoryOps is the slice of the inventory engine the lifecycle engine
// drives for transition side effects.
type InventoryOps interface {
	Reserve(ctx context.Context, variantID string, qty int, reference, actor string) (*domain.StockRecord, error)
	Release(ctx context.Context, variantID string, qty int, reference, actor string) (*domain.StockRecord, error)
	ConfirmSale(ctx context.Context, variantID string, qty int, reference, actor string) (*domain.StockRecord, error)
	Return(ctx context.Context, variantID string, qty int, reference, actor, reason string) (*domain.StockRecord, error)
}

// OrderStore is the persistence surface for orders and their history.
// Satisfied by repository.OrderRepository.
type OrderStore interface {
	Create(ctx context.Context, orderID string, lines []domain.OrderLine) (*domain.Order, error)
	FindByID(ctx context.Context, orderID string) (*domain.Order, error)
	TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, actor, reason string) (*domain.StatusHistoryEntry, error)
	History(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error)
}

// Engine is the order-fulfillment state machine. It validates transitions,
// drives the inventory side effects each transition implies, and persists the
// new state plus a history entry. A failed line is compensated before the
// call returns; a failure after inventory committed is escalated to
// ReconciliationRequired instead of being reversed a second time.
type Engine struct {
	orders    OrderStore
	inventory InventoryOps
	publisher events.EventPublisher
	logger    *zap.Logger
}

func NewEngine(orders OrderStore, inventory InventoryOps, publisher events.EventPublisher, logger *zap.Logger) *Engine {
	return &Engine{
		orders:    orders,
		inventory: inventory,
		publisher: publisher,
		logger:    logger,
	}
}

// RegisterOrder ingests a materialized order from the checkout collaborator.
// The order starts in PENDING_CONFIRMATION; no stock moves yet.
func (e *Engine) RegisterOrder(ctx context.Context, orderID string, lines []domain.OrderLine) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, domain.NewInvalidQuantity("", 0)
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, domain.NewInvalidQuantity(line.VariantID, line.Quantity)
		}
	}

	order, err := e.orders.Create(ctx, orderID, lines)
	if err != nil {
		return nil, err
	}

	e.logger.Info("order registered",
		zap.String("order_id", order.ID),
		zap.Int("lines", len(order.Lines)),
	)
	return order, nil
}

// GetOrder loads an order with its lines.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.orders.FindByID(ctx, orderID)
}

// GetHistory returns the order's status history in chronological order.
func (e *Engine) GetHistory(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error) {
	if _, err := e.orders.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	return e.orders.History(ctx, orderID)
}

// ChangeStatus moves an order to the target status. Legality is checked
// before any side effect runs; the order is left in its prior status unless
// every line's inventory operation and the status write all succeed.
func (e *Engine) ChangeStatus(ctx context.Context, orderID string, target domain.OrderStatus, actor, reason string) (*domain.Order, error) {
	order, err := e.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	effect, legal := domain.TransitionEffect(order.Status, target)
	if !legal {
		return nil, domain.NewInvalidTransition(orderID, order.Status, target)
	}

	// Step 3: per-line inventory side effects. On a line failure the lines
	// already processed in this attempt are reversed before returning.
	applied, err := e.applyEffect(ctx, order, effect, actor)
	if err != nil {
		if compErr := e.compensate(ctx, order, effect, applied, actor); compErr != nil {
			e.logReconciliation(orderID, compErr)
			return nil, domain.NewReconciliationRequired(orderID, compErr)
		}
		e.logger.Warn("transition side effect failed, compensated",
			zap.String("order_id", orderID),
			zap.String("target", string(target)),
			zap.Int("lines_compensated", len(applied)),
			zap.Error(err),
		)
		return nil, err
	}

	// Steps 5-6: status write plus history append, one transaction.
	entry, err := e.orders.TransitionStatus(ctx, orderID, order.Status, target, actor, reason)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			// A concurrent transition won. Undo this attempt's inventory
			// work and report against the now-current status.
			if compErr := e.compensate(ctx, order, effect, applied, actor); compErr != nil {
				e.logReconciliation(orderID, compErr)
				return nil, domain.NewReconciliationRequired(orderID, compErr)
			}
			current, findErr := e.orders.FindByID(ctx, orderID)
			if findErr != nil {
				return nil, findErr
			}
			return nil, domain.NewInvalidTransition(orderID, current.Status, target)
		}
		if len(applied) == 0 {
			return nil, err
		}
		// Inventory committed but the state write failed. Compensating now
		// risks double reversal if the write actually landed, so this is
		// surfaced for reconciliation instead.
		e.logReconciliation(orderID, err)
		return nil, domain.NewReconciliationRequired(orderID, err)
	}

	order.Status = target
	order.UpdatedAt = entry.ChangedAt
	e.logger.Info("order transitioned",
		zap.String("order_id", orderID),
		zap.String("status", string(target)),
		zap.String("actor", actor),
	)

	e.notify(ctx, order, actor, reason, entry.ChangedAt)
	return order, nil
}

// applyEffect runs the side effect for every line and returns the lines it
// managed to apply, whether or not it ultimately failed.
func (e *Engine) applyEffect(ctx context.Context, order *domain.Order, effect domain.SideEffect, actor string) ([]domain.OrderLine, error) {
	applied := make([]domain.OrderLine, 0, len(order.Lines))
	if effect == domain.EffectNone {
		return applied, nil
	}

	for _, line := range order.Lines {
		var err error
		switch effect {
		case domain.EffectReserve:
			_, err = e.inventory.Reserve(ctx, line.VariantID, line.Quantity, order.ID, actor)
		case domain.EffectRelease:
			_, err = e.inventory.Release(ctx, line.VariantID, line.Quantity, order.ID, actor)
		case domain.EffectConfirmSale:
			_, err = e.inventory.ConfirmSale(ctx, line.VariantID, line.Quantity, order.ID, actor)
		}
		if err != nil {
			return applied, err
		}
		applied = append(applied, line)
	}
	return applied, nil
}

// compensate reverses already-applied lines in reverse order with the
// best-effort inverse of the original operation.
func (e *Engine) compensate(ctx context.Context, order *domain.Order, effect domain.SideEffect, applied []domain.OrderLine, actor string) error {
	for i := len(applied) - 1; i >= 0; i-- {
		line := applied[i]
		var err error
		switch effect {
		case domain.EffectReserve:
			_, err = e.inventory.Release(ctx, line.VariantID, line.Quantity, order.ID, actor)
		case domain.EffectRelease:
			_, err = e.inventory.Reserve(ctx, line.VariantID, line.Quantity, order.ID, actor)
		case domain.EffectConfirmSale:
			_, err = e.inventory.Return(ctx, line.VariantID, line.Quantity, order.ID, actor, "transition compensation")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// notify emits the fire-and-forget signal for terminal transitions,
// timestamped with the transition that triggered it. A failed publish never
// rolls the transition back.
func (e *Engine) notify(ctx context.Context, order *domain.Order, actor, reason string, occurredAt time.Time) {
	var event interface{}
	switch order.Status {
	case domain.StatusCompleted:
		event = events.OrderCompletedEvent{
			OrderID:    order.ID,
			Lines:      order.Lines,
			Actor:      actor,
			OccurredAt: occurredAt,
		}
	case domain.StatusCancelled:
		event = events.OrderCancelledEvent{
			OrderID:    order.ID,
			Actor:      actor,
			Reason:     reason,
			OccurredAt: occurredAt,
		}
	default:
		return
	}

	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish order notification",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
			zap.Error(err),
		)
	}
}

func (e *Engine) logReconciliation(orderID string, cause error) {
	// Logged at Error with a dedicated field so it can be alerted on apart
	// from ordinary business failures.
	e.logger.Error("order requires reconciliation",
		zap.String("order_id", orderID),
		zap.Bool("reconciliation_required", true),
		zap.Error(cause),
	)
}
