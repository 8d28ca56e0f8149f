package errors

import (
	"fmt"
	"net/http"

	"fulfillment-service/internal/domain"
)

// StandardError represents a standardized error response
type StandardError struct {
	Code    string `json:"error"`   // Error code/type (e.g., "NotFound", "InsufficientStock")
	Message string `json:"message"` // Human-readable error message
	Details string `json:"details"` // Additional details (variant, quantities, etc.)
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return e.Message
}

// HTTPStatus returns the appropriate HTTP status code for the error
func (e *StandardError) HTTPStatus() int {
	switch e.Code {
	case "InvalidRequest", "ValidationError", "InvalidQuantity":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "InvalidTransition", "Conflict", "DuplicateOrder":
		return http.StatusConflict
	case "InsufficientStock":
		return http.StatusConflict
	case "BrokerConnectionError", "ServiceUnavailable":
		return http.StatusServiceUnavailable
	case "ReconciliationRequired", "DatabaseError", "InternalError":
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewStandardError creates a new StandardError
func NewStandardError(errorCode, message, details string) *StandardError {
	return &StandardError{
		Code:    errorCode,
		Message: message,
		Details: details,
	}
}

// FromDomain converts a domain error into its HTTP representation.
func FromDomain(err *domain.Error) *StandardError {
	details := ""
	switch {
	case err.Kind == domain.KindInsufficientStock:
		details = fmt.Sprintf("Variant: %s, Requested: %d, Available: %d", err.VariantID, err.Requested, err.Available)
	case err.VariantID != "":
		details = fmt.Sprintf("Variant: %s", err.VariantID)
	case err.OrderID != "":
		details = fmt.Sprintf("Order: %s", err.OrderID)
	}
	return NewStandardError(string(err.Kind), err.Message, details)
}

// Common error constructors
func NewInvalidRequest(message, details string) *StandardError {
	return NewStandardError("InvalidRequest", message, details)
}

func NewValidationError(message, field string) *StandardError {
	return NewStandardError("ValidationError", message, fmt.Sprintf("Field: %s", field))
}

func NewDuplicateOrder(orderID string) *StandardError {
	return NewStandardError("DuplicateOrder", "order already registered", fmt.Sprintf("Order: %s", orderID))
}

func NewDatabaseError(operation string, err error) *StandardError {
	return NewStandardError("DatabaseError", fmt.Sprintf("database operation failed: %s", operation), err.Error())
}

func NewInternalError(message string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewStandardError("InternalError", message, details)
}
