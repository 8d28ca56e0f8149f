package handlers

import (
	"errors"
	"net/http"

	"fulfillment-service/internal/domain"
	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/query"
	"fulfillment-service/internal/repository"
	apierrors "fulfillment-service/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OrderHandler exposes the order lifecycle engine and its query surface.
type OrderHandler struct {
	logger  *zap.Logger
	engine  *lifecycle.Engine
	queries *query.Service
}

func NewOrderHandler(logger *zap.Logger, engine *lifecycle.Engine, queries *query.Service) *OrderHandler {
	return &OrderHandler{
		logger:  logger,
		engine:  engine,
		queries: queries,
	}
}

// RegisterOrder handles POST /api/v1/orders
// @Summary      Register a materialized order
// @Description  Ingest point for the checkout collaborator. The order starts in PENDING_CONFIRMATION; no stock moves until it is confirmed.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        request  body      RegisterOrderRequest  true  "Order with its lines"
// @Success      201      {object}  domain.Order
// @Failure      400      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse  "Order already registered"
// @Router       /orders [post]
func (h *OrderHandler) RegisterOrder(c *gin.Context) {
	var req RegisterOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest("invalid request body", err.Error()))
		return
	}

	lines := make([]domain.OrderLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.OrderLine{VariantID: line.VariantID, Quantity: line.Quantity})
	}

	order, err := h.engine.RegisterOrder(c.Request.Context(), req.OrderID, lines)
	if err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			stdErr := apierrors.NewDuplicateOrder(req.OrderID)
			c.JSON(stdErr.HTTPStatus(), stdErr)
			return
		}
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// ChangeStatus handles POST /api/v1/orders/:orderId/status
// @Summary      Transition an order
// @Description  Validates the transition, drives the implied inventory side effects for every line, and persists the new status with a history entry. A failed line leaves the order untouched.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        orderId  path      string               true  "Order ID"
// @Param        request  body      ChangeStatusRequest  true  "Target status and reason"
// @Success      200      {object}  domain.Order
// @Failure      404      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse  "Illegal transition or insufficient stock"
// @Router       /orders/{orderId}/status [post]
func (h *OrderHandler) ChangeStatus(c *gin.Context) {
	var req ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest("invalid request body", err.Error()))
		return
	}

	target := domain.OrderStatus(req.TargetStatus)
	if !domain.ValidStatus(target) {
		c.JSON(http.StatusBadRequest, apierrors.NewValidationError("unknown order status", "target_status"))
		return
	}

	order, err := h.engine.ChangeStatus(c.Request.Context(), c.Param("orderId"), target, actorFrom(c), req.Reason)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetOrder handles GET /api/v1/orders/:orderId
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.engine.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetHistory handles GET /api/v1/orders/:orderId/history
// @Summary      Order status history
// @Tags         orders
// @Produce      json
// @Param        orderId  path      string  true  "Order ID"
// @Success      200      {object}  map[string]interface{}
// @Failure      404      {object}  ErrorResponse
// @Router       /orders/{orderId}/history [get]
func (h *OrderHandler) GetHistory(c *gin.Context) {
	entries, err := h.engine.GetHistory(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id": c.Param("orderId"),
		"history":  entries,
	})
}

// ListOrders handles GET /api/v1/orders?status=
func (h *OrderHandler) ListOrders(c *gin.Context) {
	status := domain.OrderStatus(c.Query("status"))
	if status == "" {
		c.JSON(http.StatusBadRequest, apierrors.NewValidationError("status query parameter is required", "status"))
		return
	}

	orders, err := h.queries.OrdersByStatus(c.Request.Context(), status)
	if err != nil {
		if !domain.ValidStatus(status) {
			c.JSON(http.StatusBadRequest, apierrors.NewValidationError("unknown order status", "status"))
			return
		}
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"orders": orders,
	})
}

// NeedingAttention handles GET /api/v1/orders/attention
// @Summary      Orders stuck in flight
// @Description  Orders in CONFIRMED, PREPARING or SHIPPING with no transition for longer than the configured threshold.
// @Tags         orders
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /orders/attention [get]
func (h *OrderHandler) NeedingAttention(c *gin.Context) {
	orders, err := h.queries.OrdersNeedingAttention(c.Request.Context())
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// ProcessingStats handles GET /api/v1/orders/stats
func (h *OrderHandler) ProcessingStats(c *gin.Context) {
	stats, err := h.queries.ProcessingStats(c.Request.Context())
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
