package inventory

import (
	"context"

	"fulfillment-service/internal/domain"

	"go.uber.org/zap"
)

// StockStore is the persistence surface the engine needs. Satisfied by
// repository.StockRepository.
type StockStore interface {
	Create(ctx context.Context, variantID string, initialQty, threshold int, actor string) (*domain.StockRecord, error)
	CompareAndAdjust(ctx context.Context, variantID string, delta, minResulting int, kind domain.TransactionKind, referenceID, reason, actor string) (*domain.StockRecord, error)
	SetQuantity(ctx context.Context, variantID string, newQty int, reason, actor string) (*domain.StockRecord, error)
	FindByVariantID(ctx context.Context, variantID string) (*domain.StockRecord, error)
	ListLowStock(ctx context.Context) ([]domain.StockRecord, error)
	ListOutOfStock(ctx context.Context) ([]domain.StockRecord, error)
	ListLedger(ctx context.Context, variantID string, limit int) ([]domain.LedgerEntry, error)
}

// Engine is the only code path permitted to change quantity on hand. Every
// operation is atomic against concurrent callers and appends exactly one
// ledger entry. Operations are not idempotent: callers must carry a
// deduplication key instead of retrying blindly.
type Engine struct {
	store  StockStore
	logger *zap.Logger
}

func NewEngine(store StockStore, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// EnsureRecord creates the stock record for a newly created variant, on
// behalf of the catalog collaborator.
func (e *Engine) EnsureRecord(ctx context.Context, variantID string, initialQty, threshold int, actor string) (*domain.StockRecord, error) {
	if initialQty < 0 || threshold < 0 {
		return nil, domain.NewInvalidQuantity(variantID, initialQty)
	}
	return e.store.Create(ctx, variantID, initialQty, threshold, actor)
}

// Import increases stock by qty, e.g. a supplier delivery.
func (e *Engine) Import(ctx context.Context, variantID string, qty int, actor, reason, supplierID string) (*domain.StockRecord, error) {
	if qty <= 0 {
		return nil, domain.NewInvalidQuantity(variantID, qty)
	}
	record, err := e.store.CompareAndAdjust(ctx, variantID, qty, 0, domain.TxImport, supplierID, reason, actor)
	if err != nil {
		return nil, err
	}
	e.logMutation("stock imported", record, qty, actor)
	return record, nil
}

// Export decreases stock by qty only if enough is on hand. No partial
// decrement on failure.
func (e *Engine) Export(ctx context.Context, variantID string, qty int, reference, actor, reason string) (*domain.StockRecord, error) {
	if qty <= 0 {
		return nil, domain.NewInvalidQuantity(variantID, qty)
	}
	record, err := e.store.CompareAndAdjust(ctx, variantID, -qty, 0, domain.TxExport, reference, reason, actor)
	if err != nil {
		return nil, err
	}
	e.logMutation("stock exported", record, -qty, actor)
	return record, nil
}

// Reserve earmarks qty units for an order by decrementing the single
// quantity counter directly. Reversible via Release.
func (e *Engine) Reserve(ctx context.Context, variantID string, qty int, reference, actor string) (*domain.StockRecord, error) {
	if qty <= 0 {
		return nil, domain.NewInvalidQuantity(variantID, qty)
	}
	record, err := e.store.CompareAndAdjust(ctx, variantID, -qty, 0, domain.TxReserve, reference, "", actor)
	if err != nil {
		return nil, err
	}
	e.logMutation("stock reserved", record, -qty, actor)
	return record, nil
}

// Release reverses a prior Reserve. Callers must not release more than they
// reserved; that contract is not re-validated against ledger history.
func (e *Engine) Release(ctx context.Context, variantID string, qty int, reference, actor string) (*domain.StockRecord, error) {
	if qty <= 0 {
		return nil, domain.NewInvalidQuantity(variantID, qty)
	}
	record, err := e.store.CompareAndAdjust(ctx, variantID, qty, 0, domain.TxRelease, reference, "", actor)
	if err != nil {
		return nil, err
	}
	e.logMutation("stock released", record, qty, actor)
	return record, nil
}

// ConfirmSale consumes stock at order completion, independent of any
// earlier reservation.
func (e *Engine) ConfirmSale(ctx context.Context, variantID string, qty int, reference, actor string) (*domain.StockRecord, error) {
	if qty <= 0 {
		return nil, domain.NewInvalidQuantity(variantID, qty)
	}
	record, err := e.store.CompareAndAdjust(ctx, variantID, -qty, 0, domain.TxSaleConfirmed, reference, "", actor)
	if err != nil {
		return nil, err
	}
	e.logMutation("sale confirmed", record, -qty, actor)
	return record, nil
}

// Return puts returned units back on hand.
func (e *Engine) Return(ctx context.Context, variantID string, qty int, reference, actor, reason string) (*domain.StockRecord, error) {
	if qty <= 0 {
		return nil, domain.NewInvalidQuantity(variantID, qty)
	}
	record, err := e.store.CompareAndAdjust(ctx, variantID, qty, 0, domain.TxReturn, reference, reason, actor)
	if err != nil {
		return nil, err
	}
	e.logMutation("stock returned", record, qty, actor)
	return record, nil
}

// AdjustTo sets the quantity outright after a physical stock count. The
// ledger delta is computed from the quantity being replaced.
func (e *Engine) AdjustTo(ctx context.Context, variantID string, newQty int, reason, actor string) (*domain.StockRecord, error) {
	if newQty < 0 {
		return nil, domain.NewInvalidQuantity(variantID, newQty)
	}
	record, err := e.store.SetQuantity(ctx, variantID, newQty, reason, actor)
	if err != nil {
		return nil, err
	}
	e.logger.Info("stock adjusted",
		zap.String("variant_id", record.VariantID),
		zap.Int("quantity_on_hand", record.QuantityOnHand),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	return record, nil
}

// GetStock returns the current record for a variant.
func (e *Engine) GetStock(ctx context.Context, variantID string) (*domain.StockRecord, error) {
	return e.store.FindByVariantID(ctx, variantID)
}

// GetLowStock returns a snapshot of records at or below their threshold.
func (e *Engine) GetLowStock(ctx context.Context) ([]domain.StockRecord, error) {
	return e.store.ListLowStock(ctx)
}

// GetOutOfStock returns a snapshot of records with nothing on hand.
func (e *Engine) GetOutOfStock(ctx context.Context) ([]domain.StockRecord, error) {
	return e.store.ListOutOfStock(ctx)
}

// GetLedger returns the audit trail for a variant.
func (e *Engine) GetLedger(ctx context.Context, variantID string, limit int) ([]domain.LedgerEntry, error) {
	return e.store.ListLedger(ctx, variantID, limit)
}

func (e *Engine) logMutation(msg string, record *domain.StockRecord, delta int, actor string) {
	e.logger.Info(msg,
		zap.String("variant_id", record.VariantID),
		zap.Int("delta", delta),
		zap.Int("quantity_on_hand", record.QuantityOnHand),
		zap.String("status_tag", string(record.StatusTag())),
		zap.String("actor", actor),
	)
}
