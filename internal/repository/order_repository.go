package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/domain"

	"github.com/google/uuid"
)

// ErrStatusConflict signals a lost optimistic check on the order status:
// another transition committed between the caller's read and this write.
var ErrStatusConflict = errors.New("order status changed concurrently")

// ErrOrderExists signals that the order ID has already been registered.
var ErrOrderExists = errors.New("order already exists")

// OrderRepository owns the orders, order_lines and order_status_history
// tables. Only the lifecycle engine writes the status column.
type OrderRepository struct {
	db *DB
}

func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create registers a materialized order from the checkout collaborator in
// PENDING_CONFIRMATION with its lines.
func (r *OrderRepository) Create(ctx context.Context, orderID string, lines []domain.OrderLine) (*domain.Order, error) {
	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, orderID).Scan(&exists)
	if err == nil {
		return nil, ErrOrderExists
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query order: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		orderID, string(domain.StatusPendingConfirmation), nowStr, nowStr,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for _, line := range lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, variant_id, quantity)
			VALUES (?, ?, ?)`,
			orderID, line.VariantID, line.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("insert order line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &domain.Order{
		ID:        orderID,
		Status:    domain.StatusPendingConfirmation,
		Lines:     lines,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// FindByID loads an order with its lines.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	var createdAtStr, updatedAtStr string

	err := r.db.db.QueryRowContext(ctx, `
		SELECT id, status, created_at, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&order.ID, &order.Status, &createdAtStr, &updatedAtStr)

	if err == sql.ErrNoRows {
		return nil, domain.NewOrderNotFound(orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	order.CreatedAt = parseTime(createdAtStr)
	order.UpdatedAt = parseTime(updatedAtStr)

	rows, err := r.db.db.QueryContext(ctx, `
		SELECT variant_id, quantity FROM order_lines
		WHERE order_id = ? ORDER BY variant_id`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	order.Lines = make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.VariantID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order lines: %w", err)
	}

	return &order, nil
}

// TransitionStatus persists the new status and appends the history entry in
// one transaction. The status write carries an optimistic check on the
// expected current status, so two racing transitions on the same order can
// never both commit: the loser gets ErrStatusConflict.
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, actor, reason string) (*domain.StatusHistoryEntry, error) {
	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), now.Format(time.RFC3339Nano), orderID, string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, orderID).Scan(&exists)
		if err == sql.ErrNoRows {
			return nil, domain.NewOrderNotFound(orderID)
		}
		if err != nil {
			return nil, fmt.Errorf("query order: %w", err)
		}
		return nil, ErrStatusConflict
	}

	entry := domain.StatusHistoryEntry{
		ID:           uuid.New().String(),
		OrderID:      orderID,
		StatusBefore: from,
		StatusAfter:  to,
		Actor:        actor,
		Reason:       reason,
		ChangedAt:    now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (id, order_id, status_before, status_after, actor, reason, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrderID, string(entry.StatusBefore), string(entry.StatusAfter),
		entry.Actor, nullable(entry.Reason), entry.ChangedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert history entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &entry, nil
}

// ListByStatus returns orders currently in the given status.
func (r *OrderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return r.listOrders(ctx, `
		SELECT id, status, created_at, updated_at FROM orders
		WHERE status = ? ORDER BY created_at`, string(status))
}

// ListNeedingAttention returns orders stuck in an in-flight status with no
// transition for longer than the operational threshold.
func (r *OrderRepository) ListNeedingAttention(ctx context.Context, olderThan time.Duration) ([]domain.Order, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	return r.listOrders(ctx, `
		SELECT id, status, created_at, updated_at FROM orders
		WHERE status IN ('CONFIRMED', 'PREPARING', 'SHIPPING') AND updated_at <= ?
		ORDER BY updated_at`, cutoff)
}

func (r *OrderRepository) listOrders(ctx context.Context, query string, args ...interface{}) ([]domain.Order, error) {
	rows, err := r.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var order domain.Order
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&order.ID, &order.Status, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		order.CreatedAt = parseTime(createdAtStr)
		order.UpdatedAt = parseTime(updatedAtStr)
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// History returns the status history for one order in chronological order.
func (r *OrderRepository) History(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error) {
	return r.listHistory(ctx, `
		SELECT id, order_id, status_before, status_after, actor, reason, changed_at
		FROM order_status_history
		WHERE order_id = ?
		ORDER BY changed_at, rowid`, orderID)
}

// AllHistory returns every history entry grouped by order, for the
// processing-time statistics projection.
func (r *OrderRepository) AllHistory(ctx context.Context) ([]domain.StatusHistoryEntry, error) {
	return r.listHistory(ctx, `
		SELECT id, order_id, status_before, status_after, actor, reason, changed_at
		FROM order_status_history
		ORDER BY order_id, changed_at, rowid`)
}

func (r *OrderRepository) listHistory(ctx context.Context, query string, args ...interface{}) ([]domain.StatusHistoryEntry, error) {
	rows, err := r.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.StatusHistoryEntry, 0)
	for rows.Next() {
		var entry domain.StatusHistoryEntry
		var reason sql.NullString
		var changedAtStr string

		if err := rows.Scan(
			&entry.ID, &entry.OrderID, &entry.StatusBefore, &entry.StatusAfter,
			&entry.Actor, &reason, &changedAtStr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.Reason = reason.String
		entry.ChangedAt = parseTime(changedAtStr)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}
