package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain failure so callers can branch on it as data
// instead of unwinding through the stack.
type ErrorKind string

const (
	KindNotFound               ErrorKind = "NotFound"
	KindInvalidQuantity        ErrorKind = "InvalidQuantity"
	KindInsufficientStock      ErrorKind = "InsufficientStock"
	KindInvalidTransition      ErrorKind = "InvalidTransition"
	KindReconciliationRequired ErrorKind = "ReconciliationRequired"
)

// Error is the domain-level error type. Every business failure produced by
// the inventory engine or the lifecycle engine is one of these; infrastructure
// failures stay plain wrapped errors.
type Error struct {
	Kind      ErrorKind
	Message   string
	VariantID string
	OrderID   string
	Requested int
	Available int
}

func (e *Error) Error() string {
	return e.Message
}

// IsKind reports whether err is a domain Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

func NewVariantNotFound(variantID string) *Error {
	return &Error{
		Kind:      KindNotFound,
		Message:   fmt.Sprintf("variant %s not found", variantID),
		VariantID: variantID,
	}
}

func NewOrderNotFound(orderID string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("order %s not found", orderID),
		OrderID: orderID,
	}
}

func NewInvalidQuantity(variantID string, requested int) *Error {
	return &Error{
		Kind:      KindInvalidQuantity,
		Message:   fmt.Sprintf("quantity must be positive, got %d", requested),
		VariantID: variantID,
		Requested: requested,
	}
}

func NewInsufficientStock(variantID string, requested, available int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d", variantID, requested, available),
		VariantID: variantID,
		Requested: requested,
		Available: available,
	}
}

func NewInvalidTransition(orderID string, from, to OrderStatus) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("order %s cannot move from %s to %s", orderID, from, to),
		OrderID: orderID,
	}
}

// NewReconciliationRequired marks the window where inventory side effects
// committed but the order state write failed afterward. This is an invariant
// violation, not a business outcome; it must never be silently retried.
func NewReconciliationRequired(orderID string, cause error) *Error {
	return &Error{
		Kind:    KindReconciliationRequired,
		Message: fmt.Sprintf("order %s requires reconciliation: %v", orderID, cause),
		OrderID: orderID,
	}
}
