package repository

import (
	"context"
	"sync"
	"testing"

	"fulfillment-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreate_NewRecord_WritesInitialImportEntry(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))
	ctx := context.Background()

	record, err := repo.Create(ctx, "var-1", 100, 5, "catalog")
	require.NoError(t, err)
	assert.Equal(t, 100, record.QuantityOnHand)
	assert.Equal(t, 5, record.MinimumThreshold)

	entries, err := repo.ListLedger(ctx, "var-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TxImport, entries[0].TransactionKind)
	assert.Equal(t, 0, entries[0].QuantityBefore)
	assert.Equal(t, 100, entries[0].QuantityAfter)
}

func TestCreate_ZeroInitialQuantity_NoLedgerEntry(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "var-1", 0, 5, "catalog")
	require.NoError(t, err)

	entries, err := repo.ListLedger(ctx, "var-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreate_Existing_RefreshesThresholdOnly(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "var-1", 100, 5, "catalog")
	require.NoError(t, err)

	record, err := repo.Create(ctx, "var-1", 999, 10, "catalog")
	require.NoError(t, err)
	assert.Equal(t, 100, record.QuantityOnHand, "quantity must not change on re-create")
	assert.Equal(t, 10, record.MinimumThreshold)

	entries, err := repo.ListLedger(ctx, "var-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no extra ledger entry on re-create")
}

func TestCompareAndAdjust_Success(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "var-1", 10, 0, "catalog")
	require.NoError(t, err)

	record, err := repo.CompareAndAdjust(ctx, "var-1", -3, 0, domain.TxReserve, "ord-1", "", "seller")
	require.NoError(t, err)
	assert.Equal(t, 7, record.QuantityOnHand)

	entries, err := repo.ListLedger(ctx, "var-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	last := entries[1]
	assert.Equal(t, domain.TxReserve, last.TransactionKind)
	assert.Equal(t, 10, last.QuantityBefore)
	assert.Equal(t, -3, last.Delta)
	assert.Equal(t, 7, last.QuantityAfter)
	assert.Equal(t, "ord-1", last.ReferenceID)
}

func TestCompareAndAdjust_InsufficientStock(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "var-1", 2, 0, "catalog")
	require.NoError(t, err)

	_, err = repo.CompareAndAdjust(ctx, "var-1", -5, 0, domain.TxExport, "", "", "seller")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInsufficientStock))

	// No partial decrement, no ledger entry for the failed attempt.
	record, err := repo.FindByVariantID(ctx, "var-1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.QuantityOnHand)

	entries, err := repo.ListLedger(ctx, "var-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCompareAndAdjust_UnknownVariant(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))

	_, err := repo.CompareAndAdjust(context.Background(), "ghost", 5, 0, domain.TxImport, "", "", "seller")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestCompareAndAdjust_ConcurrentReservations_NeverOversell(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))
	ctx := context.Background()

	const initial = 50
	_, err := repo.Create(ctx, "var-1", initial, 0, "catalog")
	require.NoError(t, err)

	// 100 goroutines each try to reserve 1 unit; only 50 can win.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CompareAndAdjust(ctx, "var-1", -1, 0, domain.TxReserve, "race", "", "seller")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, initial, succeeded)

	record, err := repo.FindByVariantID(ctx, "var-1")
	require.NoError(t, err)
	assert.Equal(t, 0, record.QuantityOnHand)

	// Sum of ledger deltas equals the net quantity change.
	entries, err := repo.ListLedger(ctx, "var-1", 200)
	require.NoError(t, err)
	sum := 0
	for _, entry := range entries {
		sum += entry.Delta
	}
	assert.Equal(t, record.QuantityOnHand, sum)
}

func TestLedger_Telescopes(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "var-1", 20, 0, "catalog")
	require.NoError(t, err)

	_, err = repo.CompareAndAdjust(ctx, "var-1", -8, 0, domain.TxReserve, "ord-1", "", "seller")
	require.NoError(t, err)
	_, err = repo.CompareAndAdjust(ctx, "var-1", 8, 0, domain.TxRelease, "ord-1", "", "seller")
	require.NoError(t, err)
	_, err = repo.CompareAndAdjust(ctx, "var-1", -5, 0, domain.TxSaleConfirmed, "ord-2", "", "seller")
	require.NoError(t, err)
	_, err = repo.SetQuantity(ctx, "var-1", 40, "stock count", "auditor")
	require.NoError(t, err)

	entries, err := repo.ListLedger(ctx, "var-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	for i, entry := range entries {
		assert.True(t, entry.Balanced(), "entry %d arithmetic", i)
		if i > 0 {
			assert.Equal(t, entries[i-1].QuantityAfter, entry.QuantityBefore,
				"entry %d must continue where entry %d left off", i, i-1)
		}
	}

	record, err := repo.FindByVariantID(ctx, "var-1")
	require.NoError(t, err)
	assert.Equal(t, entries[len(entries)-1].QuantityAfter, record.QuantityOnHand)
}

func TestSetQuantity_UnknownVariant(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))

	_, err := repo.SetQuantity(context.Background(), "ghost", 10, "count", "auditor")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestListLowStock_And_OutOfStock(t *testing.T) {
	repo := NewStockRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, "var-low", 3, 5, "catalog")
	require.NoError(t, err)
	_, err = repo.Create(ctx, "var-edge", 5, 5, "catalog")
	require.NoError(t, err)
	_, err = repo.Create(ctx, "var-ok", 50, 5, "catalog")
	require.NoError(t, err)
	_, err = repo.Create(ctx, "var-out", 0, 5, "catalog")
	require.NoError(t, err)

	low, err := repo.ListLowStock(ctx)
	require.NoError(t, err)
	lowIDs := make([]string, 0, len(low))
	for _, r := range low {
		lowIDs = append(lowIDs, r.VariantID)
	}
	assert.ElementsMatch(t, []string{"var-low", "var-edge", "var-out"}, lowIDs)

	out, err := repo.ListOutOfStock(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "var-out", out[0].VariantID)
}
