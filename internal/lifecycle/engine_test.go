package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fulfillment-service/internal/domain"
	"fulfillment-service/internal/events"
	"fulfillment-service/internal/inventory"
	"fulfillment-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testHarness struct {
	orders    *Engine
	inventory *inventory.Engine
	publisher *events.InMemoryEventPublisher
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := repository.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	invEngine := inventory.NewEngine(repository.NewStockRepository(db), zap.NewNop())
	publisher := events.NewEventPublisher()
	orderEngine := NewEngine(repository.NewOrderRepository(db), invEngine, publisher, zap.NewNop())

	return &testHarness{orders: orderEngine, inventory: invEngine, publisher: publisher}
}

func (h *testHarness) seedStock(t *testing.T, variantID string, qty int) {
	t.Helper()
	_, err := h.inventory.EnsureRecord(context.Background(), variantID, qty, 0, "catalog")
	require.NoError(t, err)
}

func (h *testHarness) stockOf(t *testing.T, variantID string) int {
	t.Helper()
	record, err := h.inventory.GetStock(context.Background(), variantID)
	require.NoError(t, err)
	return record.QuantityOnHand
}

func TestRegisterOrder_Success(t *testing.T) {
	h := newHarness(t)

	order, err := h.orders.RegisterOrder(context.Background(), "ord-1", []domain.OrderLine{
		{VariantID: "var-1", Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, order.Status)
}

func TestRegisterOrder_RejectsEmptyAndInvalidLines(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orders.RegisterOrder(ctx, "ord-1", nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInvalidQuantity))

	_, err = h.orders.RegisterOrder(ctx, "ord-2", []domain.OrderLine{{VariantID: "var-1", Quantity: 0}})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInvalidQuantity))
}

func TestChangeStatus_HappyPath_FullLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedStock(t, "var-1", 10)
	_, err := h.orders.RegisterOrder(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 3}})
	require.NoError(t, err)

	// Confirmation reserves the stock.
	order, err := h.orders.ChangeStatus(ctx, "ord-1", domain.StatusConfirmed, "seller", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, order.Status)
	assert.Equal(t, 7, h.stockOf(t, "var-1"))

	// Intermediate steps move no stock.
	_, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusPreparing, "warehouse", "")
	require.NoError(t, err)
	_, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusShipping, "carrier", "")
	require.NoError(t, err)
	assert.Equal(t, 7, h.stockOf(t, "var-1"))

	// Completion confirms the sale.
	order, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusCompleted, "carrier", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, order.Status)
	assert.Equal(t, 4, h.stockOf(t, "var-1"))

	history, err := h.orders.GetHistory(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, domain.StatusCompleted, history[3].StatusAfter)

	// Exactly one completion event.
	published := h.publisher.Events()
	require.Len(t, published, 1)
	completed, ok := published[0].(events.OrderCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "ord-1", completed.OrderID)
	assert.Equal(t, "carrier", completed.Actor)

	// Ledger for the variant: reserve then sale confirmation, both
	// referencing the order.
	ledger, err := h.inventory.GetLedger(ctx, "var-1", 0)
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	assert.Equal(t, domain.TxReserve, ledger[1].TransactionKind)
	assert.Equal(t, domain.TxSaleConfirmed, ledger[2].TransactionKind)
	assert.Equal(t, "ord-1", ledger[1].ReferenceID)
	assert.Equal(t, "ord-1", ledger[2].ReferenceID)
}

func TestChangeStatus_IllegalTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedStock(t, "var-1", 10)
	_, err := h.orders.RegisterOrder(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)

	// PENDING_CONFIRMATION cannot skip straight to SHIPPING.
	_, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusShipping, "seller", "")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInvalidTransition))
	assert.Equal(t, 10, h.stockOf(t, "var-1"))

	history, err := h.orders.GetHistory(ctx, "ord-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChangeStatus_CancelFromConfirmed_ReleasesReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedStock(t, "var-1", 10)
	_, err := h.orders.RegisterOrder(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 4}})
	require.NoError(t, err)
	_, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusConfirmed, "seller", "")
	require.NoError(t, err)
	require.Equal(t, 6, h.stockOf(t, "var-1"))

	order, err := h.orders.ChangeStatus(ctx, "ord-1", domain.StatusCancelled, "customer", "changed mind")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, order.Status)
	assert.Equal(t, 10, h.stockOf(t, "var-1"))

	published := h.publisher.Events()
	require.Len(t, published, 1)
	cancelled, ok := published[0].(events.OrderCancelledEvent)
	require.True(t, ok)
	assert.Equal(t, "changed mind", cancelled.Reason)
}

func TestChangeStatus_CancelFromPending_NoStockMovement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedStock(t, "var-1", 10)
	_, err := h.orders.RegisterOrder(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 4}})
	require.NoError(t, err)

	_, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusCancelled, "customer", "")
	require.NoError(t, err)
	assert.Equal(t, 10, h.stockOf(t, "var-1"))

	ledger, err := h.inventory.GetLedger(ctx, "var-1", 0)
	require.NoError(t, err)
	assert.Len(t, ledger, 1, "only the initial import entry")
}

// A multi-line confirmation where the second line lacks stock: the first
// line's reservation must be rolled back and the order must stay put.
func TestChangeStatus_PartialLineFailure_Compensates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedStock(t, "var-x", 10)
	h.seedStock(t, "var-y", 1)
	_, err := h.orders.RegisterOrder(ctx, "ord-1", []domain.OrderLine{
		{VariantID: "var-x", Quantity: 3},
		{VariantID: "var-y", Quantity: 100},
	})
	require.NoError(t, err)

	_, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusConfirmed, "seller", "")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInsufficientStock))

	// var-x went down and back up; var-y never moved.
	assert.Equal(t, 10, h.stockOf(t, "var-x"))
	assert.Equal(t, 1, h.stockOf(t, "var-y"))

	order, err := h.orders.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, order.Status)

	// The reversal is visible in the ledger, not erased from it.
	ledger, err := h.inventory.GetLedger(ctx, "var-x", 0)
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	assert.Equal(t, domain.TxReserve, ledger[1].TransactionKind)
	assert.Equal(t, domain.TxRelease, ledger[2].TransactionKind)

	// No terminal event for a failed transition.
	assert.Empty(t, h.publisher.Events())
}

func TestChangeStatus_ConcurrentTransitions_ExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedStock(t, "var-1", 10)
	_, err := h.orders.RegisterOrder(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 4}})
	require.NoError(t, err)

	// Two callers race to confirm the same order. Whether the loser loses
	// the optimistic status check or re-reads CONFIRMED first, it must come
	// back with an invalid transition and leave no trace.
	var wg sync.WaitGroup
	results := make([]error, 2)

	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusConfirmed, "seller", "")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.True(t, domain.IsKind(err, domain.KindInvalidTransition),
				"loser must see an invalid transition, got: %v", err)
		}
	}
	assert.Equal(t, 1, winners)

	order, err := h.orders.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, order.Status)

	history, err := h.orders.GetHistory(ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// Exactly one reservation survives; the loser's attempt, if it got as
	// far as reserving, was compensated.
	assert.Equal(t, 6, h.stockOf(t, "var-1"))
}

// failingTransitionStore wraps the real repository but fails the status
// write with an infrastructure error, after the inventory work committed.
type failingTransitionStore struct {
	*repository.OrderRepository
	transitionErr error
}

func (s *failingTransitionStore) TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, actor, reason string) (*domain.StatusHistoryEntry, error) {
	return nil, s.transitionErr
}

// An infrastructure failure of the status write after the inventory side
// effects committed must escalate to reconciliation, not reverse the
// inventory a second time: the write may in fact have landed.
func TestChangeStatus_StatusWriteFails_ReconciliationRequired(t *testing.T) {
	db, err := repository.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	orderRepo := repository.NewOrderRepository(db)
	invEngine := inventory.NewEngine(repository.NewStockRepository(db), zap.NewNop())
	publisher := events.NewEventPublisher()
	ctx := context.Background()

	_, err = invEngine.EnsureRecord(ctx, "var-1", 10, 0, "catalog")
	require.NoError(t, err)
	_, err = orderRepo.Create(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 4}})
	require.NoError(t, err)

	store := &failingTransitionStore{
		OrderRepository: orderRepo,
		transitionErr:   errors.New("disk I/O error"),
	}
	engine := NewEngine(store, invEngine, publisher, zap.NewNop())

	_, err = engine.ChangeStatus(ctx, "ord-1", domain.StatusConfirmed, "seller", "")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindReconciliationRequired))

	// The reservation stays committed: no second reversal.
	record, err := invEngine.GetStock(ctx, "var-1")
	require.NoError(t, err)
	assert.Equal(t, 6, record.QuantityOnHand)

	// No terminal event for an escalated transition.
	assert.Empty(t, publisher.Events())
}

func TestChangeStatus_TerminalEventTimestampMatchesTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedStock(t, "var-1", 10)
	_, err := h.orders.RegisterOrder(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 2}})
	require.NoError(t, err)
	_, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusConfirmed, "seller", "")
	require.NoError(t, err)
	_, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusCancelled, "customer", "changed mind")
	require.NoError(t, err)

	history, err := h.orders.GetHistory(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	published := h.publisher.Events()
	require.Len(t, published, 1)
	cancelled, ok := published[0].(events.OrderCancelledEvent)
	require.True(t, ok)

	// The event carries the cancellation's timestamp, not an earlier one.
	assert.True(t, cancelled.OccurredAt.Equal(history[1].ChangedAt))
}

func TestChangeStatus_TerminalStatusIsFinal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedStock(t, "var-1", 10)
	_, err := h.orders.RegisterOrder(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)
	_, err = h.orders.ChangeStatus(ctx, "ord-1", domain.StatusCancelled, "customer", "")
	require.NoError(t, err)

	for _, target := range []domain.OrderStatus{
		domain.StatusConfirmed, domain.StatusPendingConfirmation, domain.StatusCompleted,
	} {
		_, err := h.orders.ChangeStatus(ctx, "ord-1", target, "seller", "")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindInvalidTransition))
	}
}

func TestChangeStatus_UnknownOrder(t *testing.T) {
	h := newHarness(t)

	_, err := h.orders.ChangeStatus(context.Background(), "ghost", domain.StatusConfirmed, "seller", "")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestGetHistory_UnknownOrder(t *testing.T) {
	h := newHarness(t)

	_, err := h.orders.GetHistory(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}
