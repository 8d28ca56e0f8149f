package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCreate_Success(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	ctx := context.Background()

	lines := []domain.OrderLine{
		{VariantID: "var-1", Quantity: 2},
		{VariantID: "var-2", Quantity: 1},
	}

	order, err := repo.Create(ctx, "ord-1", lines)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, order.Status)
	assert.Len(t, order.Lines, 2)

	found, err := repo.FindByID(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, found.Status)
	assert.Equal(t, lines, found.Lines)
}

func TestOrderCreate_Duplicate(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)

	_, err = repo.Create(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-2", Quantity: 3}})
	assert.ErrorIs(t, err, ErrOrderExists)
}

func TestFindByID_NotFound(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))

	_, err := repo.FindByID(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestTransitionStatus_Success_AppendsHistory(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)

	entry, err := repo.TransitionStatus(ctx, "ord-1", domain.StatusPendingConfirmation, domain.StatusConfirmed, "seller", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, entry.StatusBefore)
	assert.Equal(t, domain.StatusConfirmed, entry.StatusAfter)
	assert.Equal(t, "seller", entry.Actor)

	order, err := repo.FindByID(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, order.Status)

	history, err := repo.History(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusConfirmed, history[0].StatusAfter)
}

func TestTransitionStatus_StaleExpectedStatus(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)

	_, err = repo.TransitionStatus(ctx, "ord-1", domain.StatusPendingConfirmation, domain.StatusCancelled, "customer", "changed mind")
	require.NoError(t, err)

	// A second caller still expecting PENDING_CONFIRMATION must lose.
	_, err = repo.TransitionStatus(ctx, "ord-1", domain.StatusPendingConfirmation, domain.StatusConfirmed, "seller", "")
	assert.ErrorIs(t, err, ErrStatusConflict)

	// The failed transition must not leave a history entry behind.
	history, err := repo.History(ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTransitionStatus_UnknownOrder(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))

	_, err := repo.TransitionStatus(context.Background(), "ghost", domain.StatusPendingConfirmation, domain.StatusConfirmed, "seller", "")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestTransitionStatus_ConcurrentCallers_ExactlyOneWins(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = repo.TransitionStatus(ctx, "ord-1", domain.StatusPendingConfirmation, domain.StatusConfirmed, "seller", "")
	}()
	go func() {
		defer wg.Done()
		_, results[1] = repo.TransitionStatus(ctx, "ord-1", domain.StatusPendingConfirmation, domain.StatusCancelled, "customer", "")
	}()
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrStatusConflict)
		}
	}
	assert.Equal(t, 1, winners)

	history, err := repo.History(ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestListByStatus(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"ord-1", "ord-2", "ord-3"} {
		_, err := repo.Create(ctx, id, []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
		require.NoError(t, err)
	}
	_, err := repo.TransitionStatus(ctx, "ord-2", domain.StatusPendingConfirmation, domain.StatusConfirmed, "seller", "")
	require.NoError(t, err)

	pending, err := repo.ListByStatus(ctx, domain.StatusPendingConfirmation)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	confirmed, err := repo.ListByStatus(ctx, domain.StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "ord-2", confirmed[0].ID)
}

func TestListNeedingAttention(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, "ord-stale", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)
	_, err = repo.TransitionStatus(ctx, "ord-stale", domain.StatusPendingConfirmation, domain.StatusConfirmed, "seller", "")
	require.NoError(t, err)

	_, err = repo.Create(ctx, "ord-fresh", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)
	_, err = repo.TransitionStatus(ctx, "ord-fresh", domain.StatusPendingConfirmation, domain.StatusConfirmed, "seller", "")
	require.NoError(t, err)

	// Terminal orders are never flagged, no matter how old.
	_, err = repo.Create(ctx, "ord-done", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)
	_, err = repo.TransitionStatus(ctx, "ord-done", domain.StatusPendingConfirmation, domain.StatusCancelled, "customer", "")
	require.NoError(t, err)

	// Backdate ord-stale and ord-done beyond the threshold.
	old := time.Now().UTC().Add(-72 * time.Hour).Format(time.RFC3339Nano)
	for _, id := range []string{"ord-stale", "ord-done"} {
		_, err = db.db.ExecContext(ctx, `UPDATE orders SET updated_at = ? WHERE id = ?`, old, id)
		require.NoError(t, err)
	}

	stuck, err := repo.ListNeedingAttention(ctx, 48*time.Hour)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "ord-stale", stuck[0].ID)
}

func TestHistory_ChronologicalOrder(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "ord-1", []domain.OrderLine{{VariantID: "var-1", Quantity: 1}})
	require.NoError(t, err)

	steps := []domain.OrderStatus{
		domain.StatusConfirmed, domain.StatusPreparing,
		domain.StatusShipping, domain.StatusCompleted,
	}
	from := domain.StatusPendingConfirmation
	for _, to := range steps {
		_, err := repo.TransitionStatus(ctx, "ord-1", from, to, "seller", "")
		require.NoError(t, err)
		from = to
	}

	history, err := repo.History(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, entry := range history {
		assert.Equal(t, steps[i], entry.StatusAfter, "entry %d", i)
		if i > 0 {
			assert.Equal(t, history[i-1].StatusAfter, entry.StatusBefore)
			assert.False(t, entry.ChangedAt.Before(history[i-1].ChangedAt))
		}
	}
}
