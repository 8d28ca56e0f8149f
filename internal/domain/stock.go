package domain

import (
	"time"
)

// StatusTag is the derived stock classification. It is computed from the
// current quantity against the minimum threshold and is never stored.
type StatusTag string

const (
	StatusInStock    StatusTag = "IN_STOCK"
	StatusLowStock   StatusTag = "LOW_STOCK"
	StatusOutOfStock StatusTag = "OUT_OF_STOCK"
)

// TransactionKind identifies why a stock quantity changed.
type TransactionKind string

const (
	TxImport        TransactionKind = "import"
	TxExport        TransactionKind = "export"
	TxReserve       TransactionKind = "reserve"
	TxRelease       TransactionKind = "release"
	TxSaleConfirmed TransactionKind = "sale_confirmed"
	TxReturn        TransactionKind = "return"
	TxAdjustment    TransactionKind = "adjustment"
)

// StockRecord is the authoritative current-quantity row for a variant.
// QuantityOnHand is the only mutable field; every change to it goes through
// the inventory engine and carries exactly one ledger entry.
type StockRecord struct {
	VariantID        string    `json:"variant_id"`
	QuantityOnHand   int       `json:"quantity_on_hand"`
	MinimumThreshold int       `json:"minimum_threshold"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StatusTag classifies the record: out of stock at zero, low stock at or
// below the minimum threshold (inclusive), in stock otherwise.
func (r *StockRecord) StatusTag() StatusTag {
	switch {
	case r.QuantityOnHand <= 0:
		return StatusOutOfStock
	case r.QuantityOnHand <= r.MinimumThreshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// LedgerEntry is one append-only record of a stock quantity change.
// Immutable once written: the repository exposes no update or delete path.
type LedgerEntry struct {
	ID              string          `json:"id"`
	VariantID       string          `json:"variant_id"`
	QuantityBefore  int             `json:"quantity_before"`
	Delta           int             `json:"delta"`
	QuantityAfter   int             `json:"quantity_after"`
	TransactionKind TransactionKind `json:"transaction_kind"`
	ReferenceID     string          `json:"reference_id,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Actor           string          `json:"actor"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// Balanced reports whether the entry's before/delta/after arithmetic holds.
func (e *LedgerEntry) Balanced() bool {
	return e.QuantityAfter == e.QuantityBefore+e.Delta
}
