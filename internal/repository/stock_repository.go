package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/domain"

	"github.com/google/uuid"
)

// StockRepository is the only code path that touches stock_records and
// stock_ledger. The quantity check, the mutation and the ledger append
// happen in one transaction; there is no read-then-write pair anywhere.
type StockRepository struct {
	db *DB
}

func NewStockRepository(db *DB) *StockRepository {
	return &StockRepository{db: db}
}

// Create ensures a stock record exists for the variant. Called on behalf of
// the catalog collaborator when a variant is created. When the record is new
// and the initial quantity is positive, an import ledger entry is written in
// the same transaction so the ledger telescopes from zero. An existing
// record only has its threshold refreshed; its quantity is never touched here.
func (r *StockRepository) Create(ctx context.Context, variantID string, initialQty, threshold int, actor string) (*domain.StockRecord, error) {
	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT quantity_on_hand FROM stock_records WHERE variant_id = ?`, variantID,
	).Scan(&existing)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_records (variant_id, quantity_on_hand, minimum_threshold, updated_at)
			VALUES (?, ?, ?, ?)`,
			variantID, initialQty, threshold, now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("insert stock record: %w", err)
		}
		if initialQty > 0 {
			if err := insertLedgerEntry(ctx, tx, domain.LedgerEntry{
				ID:              uuid.New().String(),
				VariantID:       variantID,
				QuantityBefore:  0,
				Delta:           initialQty,
				QuantityAfter:   initialQty,
				TransactionKind: domain.TxImport,
				Reason:          "initial stock",
				Actor:           actor,
				OccurredAt:      now,
			}); err != nil {
				return nil, err
			}
		}
	case err != nil:
		return nil, fmt.Errorf("query stock record: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_records SET minimum_threshold = ?, updated_at = ?
			WHERE variant_id = ?`,
			threshold, now.Format(time.RFC3339Nano), variantID,
		)
		if err != nil {
			return nil, fmt.Errorf("update threshold: %w", err)
		}
	}

	record, err := scanRecordTx(ctx, tx, variantID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return record, nil
}

// CompareAndAdjust applies delta to the variant's quantity only if the
// resulting quantity would be at least minResulting, and appends the ledger
// entry in the same transaction. This is the single safe building block every
// inventory operation is built from: the check and the mutation are one
// conditional UPDATE, so concurrent callers racing on the same variant can
// never produce a lost update or a negative quantity.
func (r *StockRepository) CompareAndAdjust(ctx context.Context, variantID string, delta, minResulting int, kind domain.TransactionKind, referenceID, reason, actor string) (*domain.StockRecord, error) {
	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx, `
		UPDATE stock_records
		SET quantity_on_hand = quantity_on_hand + ?, updated_at = ?
		WHERE variant_id = ? AND quantity_on_hand + ? >= ?`,
		delta, now.Format(time.RFC3339Nano), variantID, delta, minResulting,
	)
	if err != nil {
		return nil, fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish unknown variant from insufficient stock.
		var available int
		err := tx.QueryRowContext(ctx,
			`SELECT quantity_on_hand FROM stock_records WHERE variant_id = ?`, variantID,
		).Scan(&available)
		if err == sql.ErrNoRows {
			return nil, domain.NewVariantNotFound(variantID)
		}
		if err != nil {
			return nil, fmt.Errorf("query stock: %w", err)
		}
		return nil, domain.NewInsufficientStock(variantID, -delta, available)
	}

	record, err := scanRecordTx(ctx, tx, variantID)
	if err != nil {
		return nil, err
	}

	// Ledger append rides the same transaction: if it fails, the quantity
	// mutation rolls back with it. No mutation without an audit record.
	if err := insertLedgerEntry(ctx, tx, domain.LedgerEntry{
		ID:              uuid.New().String(),
		VariantID:       variantID,
		QuantityBefore:  record.QuantityOnHand - delta,
		Delta:           delta,
		QuantityAfter:   record.QuantityOnHand,
		TransactionKind: kind,
		ReferenceID:     referenceID,
		Reason:          reason,
		Actor:           actor,
		OccurredAt:      now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return record, nil
}

// SetQuantity overwrites the quantity outright (stock count correction).
// The read and the write share the transaction on the single-writer
// connection, so the computed delta cannot go stale.
func (r *StockRepository) SetQuantity(ctx context.Context, variantID string, newQty int, reason, actor string) (*domain.StockRecord, error) {
	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT quantity_on_hand FROM stock_records WHERE variant_id = ?`, variantID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, domain.NewVariantNotFound(variantID)
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE stock_records SET quantity_on_hand = ?, updated_at = ?
		WHERE variant_id = ?`,
		newQty, now.Format(time.RFC3339Nano), variantID,
	)
	if err != nil {
		return nil, fmt.Errorf("update stock: %w", err)
	}

	if err := insertLedgerEntry(ctx, tx, domain.LedgerEntry{
		ID:              uuid.New().String(),
		VariantID:       variantID,
		QuantityBefore:  current,
		Delta:           newQty - current,
		QuantityAfter:   newQty,
		TransactionKind: domain.TxAdjustment,
		Reason:          reason,
		Actor:           actor,
		OccurredAt:      now,
	}); err != nil {
		return nil, err
	}

	record, err := scanRecordTx(ctx, tx, variantID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return record, nil
}

// FindByVariantID returns the current stock record for a variant.
func (r *StockRepository) FindByVariantID(ctx context.Context, variantID string) (*domain.StockRecord, error) {
	var record domain.StockRecord
	var updatedAtStr string

	err := r.db.db.QueryRowContext(ctx, `
		SELECT variant_id, quantity_on_hand, minimum_threshold, updated_at
		FROM stock_records WHERE variant_id = ?`, variantID,
	).Scan(&record.VariantID, &record.QuantityOnHand, &record.MinimumThreshold, &updatedAtStr)

	if err == sql.ErrNoRows {
		return nil, domain.NewVariantNotFound(variantID)
	}
	if err != nil {
		return nil, fmt.Errorf("query stock record: %w", err)
	}

	record.UpdatedAt = parseTime(updatedAtStr)
	return &record, nil
}

// ListLowStock returns records at or below their minimum threshold.
func (r *StockRepository) ListLowStock(ctx context.Context) ([]domain.StockRecord, error) {
	return r.listRecords(ctx, `
		SELECT variant_id, quantity_on_hand, minimum_threshold, updated_at
		FROM stock_records
		WHERE quantity_on_hand <= minimum_threshold
		ORDER BY variant_id`)
}

// ListOutOfStock returns records with nothing on hand.
func (r *StockRepository) ListOutOfStock(ctx context.Context) ([]domain.StockRecord, error) {
	return r.listRecords(ctx, `
		SELECT variant_id, quantity_on_hand, minimum_threshold, updated_at
		FROM stock_records
		WHERE quantity_on_hand <= 0
		ORDER BY variant_id`)
}

func (r *StockRepository) listRecords(ctx context.Context, query string) ([]domain.StockRecord, error) {
	rows, err := r.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StockRecord, 0)
	for rows.Next() {
		var record domain.StockRecord
		var updatedAtStr string

		if err := rows.Scan(&record.VariantID, &record.QuantityOnHand, &record.MinimumThreshold, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan stock record: %w", err)
		}
		record.UpdatedAt = parseTime(updatedAtStr)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock records: %w", err)
	}
	return records, nil
}

// ListLedger returns the ledger entries for a variant in chronological order.
func (r *StockRepository) ListLedger(ctx context.Context, variantID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.db.QueryContext(ctx, `
		SELECT id, variant_id, quantity_before, delta, quantity_after,
		       transaction_kind, reference_id, reason, actor, occurred_at
		FROM stock_ledger
		WHERE variant_id = ?
		ORDER BY occurred_at, rowid
		LIMIT ?`, variantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var entry domain.LedgerEntry
		var referenceID, reason sql.NullString
		var occurredAtStr string

		if err := rows.Scan(
			&entry.ID, &entry.VariantID, &entry.QuantityBefore, &entry.Delta,
			&entry.QuantityAfter, &entry.TransactionKind, &referenceID,
			&reason, &entry.Actor, &occurredAtStr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.ReferenceID = referenceID.String
		entry.Reason = reason.String
		entry.OccurredAt = parseTime(occurredAtStr)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger: %w", err)
	}
	return entries, nil
}

func insertLedgerEntry(ctx context.Context, tx *sql.Tx, entry domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_ledger (id, variant_id, quantity_before, delta, quantity_after,
		                          transaction_kind, reference_id, reason, actor, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.VariantID, entry.QuantityBefore, entry.Delta, entry.QuantityAfter,
		string(entry.TransactionKind), nullable(entry.ReferenceID), nullable(entry.Reason),
		entry.Actor, entry.OccurredAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func scanRecordTx(ctx context.Context, tx *sql.Tx, variantID string) (*domain.StockRecord, error) {
	var record domain.StockRecord
	var updatedAtStr string

	err := tx.QueryRowContext(ctx, `
		SELECT variant_id, quantity_on_hand, minimum_threshold, updated_at
		FROM stock_records WHERE variant_id = ?`, variantID,
	).Scan(&record.VariantID, &record.QuantityOnHand, &record.MinimumThreshold, &updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("query stock record: %w", err)
	}

	record.UpdatedAt = parseTime(updatedAtStr)
	return &record, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}
