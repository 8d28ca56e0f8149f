package handlers

import (
	"time"

	"fulfillment-service/internal/domain"
)

// Request/response models for the HTTP surface. Kept here so the swagger
// definitions have concrete types to point at.

// EnsureStockRequest creates or refreshes a stock record for a variant.
type EnsureStockRequest struct {
	InitialQuantity  int `json:"initial_quantity" binding:"min=0" example:"100"`
	MinimumThreshold int `json:"minimum_threshold" binding:"min=0" example:"5"`
}

// StockMutationRequest is the shared body for import/export/reserve/release/
// confirm-sale/return operations.
type StockMutationRequest struct {
	Quantity    int    `json:"quantity" binding:"required,min=1" example:"3"`
	ReferenceID string `json:"reference_id" example:"ord-1042"`
	Reason      string `json:"reason" example:"supplier delivery"`
}

// AdjustStockRequest sets the quantity outright after a stock count.
type AdjustStockRequest struct {
	NewQuantity int    `json:"new_quantity" binding:"min=0" example:"42"`
	Reason      string `json:"reason" binding:"required" example:"annual stock count"`
}

// StockResponse mirrors a stock record with its derived status tag.
type StockResponse struct {
	VariantID        string           `json:"variant_id"`
	QuantityOnHand   int              `json:"quantity_on_hand"`
	MinimumThreshold int              `json:"minimum_threshold"`
	StatusTag        domain.StatusTag `json:"status_tag"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func toStockResponse(r *domain.StockRecord) StockResponse {
	return StockResponse{
		VariantID:        r.VariantID,
		QuantityOnHand:   r.QuantityOnHand,
		MinimumThreshold: r.MinimumThreshold,
		StatusTag:        r.StatusTag(),
		UpdatedAt:        r.UpdatedAt,
	}
}

func toStockResponses(records []domain.StockRecord) []StockResponse {
	out := make([]StockResponse, 0, len(records))
	for i := range records {
		out = append(out, toStockResponse(&records[i]))
	}
	return out
}

// RegisterOrderRequest ingests a materialized order from checkout.
type RegisterOrderRequest struct {
	OrderID string             `json:"order_id" binding:"required" example:"ord-1042"`
	Lines   []OrderLineRequest `json:"lines" binding:"required,min=1,dive"`
}

type OrderLineRequest struct {
	VariantID string `json:"variant_id" binding:"required" example:"var-7"`
	Quantity  int    `json:"quantity" binding:"required,min=1" example:"2"`
}

// ChangeStatusRequest asks for one transition on an order.
type ChangeStatusRequest struct {
	TargetStatus string `json:"target_status" binding:"required" example:"CONFIRMED"`
	Reason       string `json:"reason" example:"payment received"`
}

// ErrorResponse documents the error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details"`
}
