package repository

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DB wraps the SQLite connection with Single Writer Principle settings.
// All mutations funnel through one connection so the conditional updates in
// the stock repository serialize per row without explicit locking in Go.
type DB struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates the database connection and initializes the schema.
func Open(path string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db, logger: logger}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// initSchema creates the database schema
func (d *DB) initSchema() error {
	schema := `
	-- Stock records: authoritative current quantity per variant.
	-- quantity_on_hand is mutated only through the inventory engine.
	CREATE TABLE IF NOT EXISTS stock_records (
		variant_id TEXT PRIMARY KEY,
		quantity_on_hand INTEGER NOT NULL DEFAULT 0,
		minimum_threshold INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		CHECK(quantity_on_hand >= 0),
		CHECK(minimum_threshold >= 0)
	);

	-- Stock ledger: append-only record of every quantity change.
	-- No UPDATE or DELETE path exists in the repository API.
	CREATE TABLE IF NOT EXISTS stock_ledger (
		id TEXT PRIMARY KEY,
		variant_id TEXT NOT NULL,
		quantity_before INTEGER NOT NULL,
		delta INTEGER NOT NULL,
		quantity_after INTEGER NOT NULL,
		transaction_kind TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		actor TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		FOREIGN KEY (variant_id) REFERENCES stock_records(variant_id),
		CHECK(quantity_after = quantity_before + delta),
		CHECK(transaction_kind IN ('import', 'export', 'reserve', 'release', 'sale_confirmed', 'return', 'adjustment'))
	);

	-- Orders: this core owns only the status column; everything else belongs
	-- to the checkout collaborator.
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'PENDING_CONFIRMATION',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK(status IN ('PENDING_CONFIRMATION', 'CONFIRMED', 'PREPARING', 'SHIPPING', 'COMPLETED', 'CANCELLED'))
	);

	CREATE TABLE IF NOT EXISTS order_lines (
		order_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		PRIMARY KEY (order_id, variant_id),
		FOREIGN KEY (order_id) REFERENCES orders(id),
		CHECK(quantity > 0)
	);

	-- Order status history: append-only record of every transition.
	CREATE TABLE IF NOT EXISTS order_status_history (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		status_before TEXT NOT NULL,
		status_after TEXT NOT NULL,
		actor TEXT NOT NULL,
		reason TEXT,
		changed_at TEXT NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id)
	);

	-- Indexes for performance
	CREATE INDEX IF NOT EXISTS idx_stock_ledger_variant_id ON stock_ledger(variant_id);
	CREATE INDEX IF NOT EXISTS idx_stock_ledger_occurred_at ON stock_ledger(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_order_status_history_order_id ON order_status_history(order_id);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	d.logger.Info("Database schema initialized")
	return nil
}
