package domain

import (
	"time"
)

// OrderStatus is one of the fixed fulfillment states. COMPLETED and
// CANCELLED are terminal.
type OrderStatus string

const (
	StatusPendingConfirmation OrderStatus = "PENDING_CONFIRMATION"
	StatusConfirmed           OrderStatus = "CONFIRMED"
	StatusPreparing           OrderStatus = "PREPARING"
	StatusShipping            OrderStatus = "SHIPPING"
	StatusCompleted           OrderStatus = "COMPLETED"
	StatusCancelled           OrderStatus = "CANCELLED"
)

// ValidStatus reports whether s is a known order status.
func ValidStatus(s OrderStatus) bool {
	switch s {
	case StatusPendingConfirmation, StatusConfirmed, StatusPreparing,
		StatusShipping, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// SideEffect is the inventory operation a transition implies for every
// order line.
type SideEffect int

const (
	EffectNone SideEffect = iota
	EffectReserve
	EffectRelease
	EffectConfirmSale
)

// transitions is the full legality table. A missing entry means the
// transition is illegal. Cancelling from PENDING_CONFIRMATION carries no
// side effect because nothing has been reserved yet; cancelling from
// CONFIRMED or PREPARING must give the reservation back.
var transitions = map[OrderStatus]map[OrderStatus]SideEffect{
	StatusPendingConfirmation: {
		StatusConfirmed: EffectReserve,
		StatusCancelled: EffectNone,
	},
	StatusConfirmed: {
		StatusPreparing: EffectNone,
		StatusCancelled: EffectRelease,
	},
	StatusPreparing: {
		StatusShipping:  EffectNone,
		StatusCancelled: EffectRelease,
	},
	StatusShipping: {
		StatusCompleted: EffectConfirmSale,
	},
}

// TransitionEffect returns the side effect for (from, to) and whether the
// transition is legal at all.
func TransitionEffect(from, to OrderStatus) (SideEffect, bool) {
	targets, ok := transitions[from]
	if !ok {
		return EffectNone, false
	}
	effect, ok := targets[to]
	return effect, ok
}

// Terminal reports whether no transition leaves the status.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// OrderLine is one variant/quantity pair on an order.
type OrderLine struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// Order is the materialized order this core operates on. The checkout
// collaborator owns everything else about it; this core only mutates the
// status field and reads the lines.
type Order struct {
	ID        string      `json:"id"`
	Status    OrderStatus `json:"status"`
	Lines     []OrderLine `json:"lines"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StatusHistoryEntry is one append-only record of an order state change.
type StatusHistoryEntry struct {
	ID           string      `json:"id"`
	OrderID      string      `json:"order_id"`
	StatusBefore OrderStatus `json:"status_before"`
	StatusAfter  OrderStatus `json:"status_after"`
	Actor        string      `json:"actor"`
	Reason       string      `json:"reason,omitempty"`
	ChangedAt    time.Time   `json:"changed_at"`
}
