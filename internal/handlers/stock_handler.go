package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"fulfillment-service/internal/domain"
	"fulfillment-service/internal/inventory"
	"fulfillment-service/internal/query"
	apierrors "fulfillment-service/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActorHeader carries the identity of the caller, established by the
// authentication layer in front of this service.
const ActorHeader = "X-Actor"

// StockHandler exposes the inventory engine over HTTP.
type StockHandler struct {
	logger  *zap.Logger
	engine  *inventory.Engine
	queries *query.Service
}

func NewStockHandler(logger *zap.Logger, engine *inventory.Engine, queries *query.Service) *StockHandler {
	return &StockHandler{
		logger:  logger,
		engine:  engine,
		queries: queries,
	}
}

func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader(ActorHeader); actor != "" {
		return actor
	}
	return "system"
}

// respondDomainError maps engine failures onto the error envelope. Business
// failures keep their taxonomy code; anything else is a database error.
func respondDomainError(c *gin.Context, logger *zap.Logger, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		stdErr := apierrors.FromDomain(de)
		c.JSON(stdErr.HTTPStatus(), stdErr)
		return
	}
	logger.Error("storage failure", zap.Error(err))
	stdErr := apierrors.NewDatabaseError(c.Request.Method+" "+c.FullPath(), err)
	c.JSON(stdErr.HTTPStatus(), stdErr)
}

// EnsureStock handles PUT /api/v1/stock/:variantId
// @Summary      Create or refresh a stock record
// @Description  Called on behalf of the catalog collaborator when a variant is created or its threshold changes. Never mutates the quantity of an existing record.
// @Tags         stock
// @Accept       json
// @Produce      json
// @Param        variantId  path      string              true  "Variant ID"
// @Param        request    body      EnsureStockRequest  true  "Initial quantity and threshold"
// @Success      200        {object}  StockResponse
// @Failure      400        {object}  ErrorResponse
// @Router       /stock/{variantId} [put]
func (h *StockHandler) EnsureStock(c *gin.Context) {
	var req EnsureStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest("invalid request body", err.Error()))
		return
	}

	record, err := h.engine.EnsureRecord(c.Request.Context(), c.Param("variantId"), req.InitialQuantity, req.MinimumThreshold, actorFrom(c))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toStockResponse(record))
}

// Import handles POST /api/v1/stock/:variantId/import
// @Summary      Import stock
// @Tags         stock
// @Accept       json
// @Produce      json
// @Param        variantId  path      string                true  "Variant ID"
// @Param        request    body      StockMutationRequest  true  "Quantity, supplier reference, reason"
// @Success      200        {object}  StockResponse
// @Failure      404        {object}  ErrorResponse
// @Router       /stock/{variantId}/import [post]
func (h *StockHandler) Import(c *gin.Context) {
	h.mutate(c, func(req StockMutationRequest) (*domain.StockRecord, error) {
		return h.engine.Import(c.Request.Context(), c.Param("variantId"), req.Quantity, actorFrom(c), req.Reason, req.ReferenceID)
	})
}

// Export handles POST /api/v1/stock/:variantId/export
// @Summary      Export stock
// @Description  Decrements only if enough is on hand; there is no partial decrement.
// @Tags         stock
// @Accept       json
// @Produce      json
// @Param        variantId  path      string                true  "Variant ID"
// @Param        request    body      StockMutationRequest  true  "Quantity, reference, reason"
// @Success      200        {object}  StockResponse
// @Failure      404        {object}  ErrorResponse
// @Failure      409        {object}  ErrorResponse  "Insufficient stock"
// @Router       /stock/{variantId}/export [post]
func (h *StockHandler) Export(c *gin.Context) {
	h.mutate(c, func(req StockMutationRequest) (*domain.StockRecord, error) {
		return h.engine.Export(c.Request.Context(), c.Param("variantId"), req.Quantity, req.ReferenceID, actorFrom(c), req.Reason)
	})
}

// Reserve handles POST /api/v1/stock/:variantId/reserve
func (h *StockHandler) Reserve(c *gin.Context) {
	h.mutate(c, func(req StockMutationRequest) (*domain.StockRecord, error) {
		return h.engine.Reserve(c.Request.Context(), c.Param("variantId"), req.Quantity, req.ReferenceID, actorFrom(c))
	})
}

// Release handles POST /api/v1/stock/:variantId/release
func (h *StockHandler) Release(c *gin.Context) {
	h.mutate(c, func(req StockMutationRequest) (*domain.StockRecord, error) {
		return h.engine.Release(c.Request.Context(), c.Param("variantId"), req.Quantity, req.ReferenceID, actorFrom(c))
	})
}

// ConfirmSale handles POST /api/v1/stock/:variantId/confirm-sale
func (h *StockHandler) ConfirmSale(c *gin.Context) {
	h.mutate(c, func(req StockMutationRequest) (*domain.StockRecord, error) {
		return h.engine.ConfirmSale(c.Request.Context(), c.Param("variantId"), req.Quantity, req.ReferenceID, actorFrom(c))
	})
}

// Return handles POST /api/v1/stock/:variantId/return
func (h *StockHandler) Return(c *gin.Context) {
	h.mutate(c, func(req StockMutationRequest) (*domain.StockRecord, error) {
		return h.engine.Return(c.Request.Context(), c.Param("variantId"), req.Quantity, req.ReferenceID, actorFrom(c), req.Reason)
	})
}

func (h *StockHandler) mutate(c *gin.Context, op func(StockMutationRequest) (*domain.StockRecord, error)) {
	var req StockMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest("invalid request body", err.Error()))
		return
	}

	record, err := op(req)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toStockResponse(record))
}

// Adjust handles POST /api/v1/stock/:variantId/adjust
// @Summary      Adjust stock to an absolute quantity
// @Description  Stock count correction. The ledger delta is computed from the replaced quantity.
// @Tags         stock
// @Accept       json
// @Produce      json
// @Param        variantId  path      string              true  "Variant ID"
// @Param        request    body      AdjustStockRequest  true  "New quantity and reason"
// @Success      200        {object}  StockResponse
// @Failure      404        {object}  ErrorResponse
// @Router       /stock/{variantId}/adjust [post]
func (h *StockHandler) Adjust(c *gin.Context) {
	var req AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest("invalid request body", err.Error()))
		return
	}

	record, err := h.engine.AdjustTo(c.Request.Context(), c.Param("variantId"), req.NewQuantity, req.Reason, actorFrom(c))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toStockResponse(record))
}

// GetStock handles GET /api/v1/stock/:variantId
func (h *StockHandler) GetStock(c *gin.Context) {
	record, err := h.engine.GetStock(c.Request.Context(), c.Param("variantId"))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toStockResponse(record))
}

// GetLedger handles GET /api/v1/stock/:variantId/ledger
// @Summary      Variant audit trail
// @Tags         stock
// @Produce      json
// @Param        variantId  path      string  true   "Variant ID"
// @Param        limit      query     int     false  "Max entries (default 100)"
// @Success      200        {object}  map[string]interface{}
// @Router       /stock/{variantId}/ledger [get]
func (h *StockHandler) GetLedger(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	// The ledger read does not check variant existence separately; an
	// unknown variant simply has no entries.
	entries, err := h.engine.GetLedger(c.Request.Context(), c.Param("variantId"), limit)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"variant_id": c.Param("variantId"),
		"entries":    entries,
	})
}

// LowStock handles GET /api/v1/stock/low
// @Summary      Low-stock snapshot
// @Description  Records at or below their minimum threshold (inclusive).
// @Tags         stock
// @Produce      json
// @Success      200  {array}  StockResponse
// @Router       /stock/low [get]
func (h *StockHandler) LowStock(c *gin.Context) {
	records, err := h.queries.LowStock(c.Request.Context())
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toStockResponses(records))
}

// OutOfStock handles GET /api/v1/stock/out
func (h *StockHandler) OutOfStock(c *gin.Context) {
	records, err := h.queries.OutOfStock(c.Request.Context())
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toStockResponses(records))
}
