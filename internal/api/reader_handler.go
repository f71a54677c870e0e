package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"reservation-service/internal/interfaces"
)

// ReaderHandler exposes the read-only HTTP surface for reader replicas.
// Reader instances never mutate stock; writes belong to the main service.
type ReaderHandler struct {
	query interfaces.QueryService
}

// NewReaderHandler creates a new reader API handler
func NewReaderHandler(query interfaces.QueryService) *ReaderHandler {
	return &ReaderHandler{query: query}
}

// SetupReaderRoutes sets up the HTTP routes for the reader service
func (h *ReaderHandler) SetupReaderRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/health", h.healthCheck)

	api := r.Group("/api/v1")
	{
		api.GET("/products/:id", h.getProduct)
		api.GET("/products/:id/availability", h.checkAvailability)
		api.GET("/stock/low", h.listLowStock)
		api.GET("/stock/out", h.listOutOfStock)
		api.POST("/stock/bulk-availability", h.bulkAvailability)
	}

	return r
}

func (h *ReaderHandler) getProduct(c *gin.Context) {
	productID := c.Param("id")
	if productID == "" {
		Response.ValidationError(c, "id", "Product ID is required")
		return
	}

	product, err := h.query.GetProduct(c.Request.Context(), productID)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, product)
}

func (h *ReaderHandler) checkAvailability(c *gin.Context) {
	productID := c.Param("id")
	if productID == "" {
		Response.ValidationError(c, "id", "Product ID is required")
		return
	}

	qty := 1
	if qtyStr := c.Query("qty"); qtyStr != "" {
		parsed, err := strconv.Atoi(qtyStr)
		if err != nil || parsed <= 0 {
			Response.ValidationError(c, "qty", "Quantity must be a positive integer")
			return
		}
		qty = parsed
	}

	availability, err := h.query.CheckAvailability(c.Request.Context(), productID, qty)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, availability)
}

func (h *ReaderHandler) listLowStock(c *gin.Context) {
	var threshold *int
	if thresholdStr := c.Query("threshold"); thresholdStr != "" {
		parsed, err := strconv.Atoi(thresholdStr)
		if err != nil || parsed < 0 {
			Response.ValidationError(c, "threshold", "Threshold must be a non-negative integer")
			return
		}
		threshold = &parsed
	}

	products, err := h.query.ListLowStock(c.Request.Context(), threshold)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, gin.H{"products": products, "count": len(products)})
}

func (h *ReaderHandler) listOutOfStock(c *gin.Context) {
	products, err := h.query.ListOutOfStock(c.Request.Context())
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, gin.H{"products": products, "count": len(products)})
}

func (h *ReaderHandler) bulkAvailability(c *gin.Context) {
	var req struct {
		ProductIDs []string `json:"product_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		Response.BindError(c, err)
		return
	}

	availability, err := h.query.BulkCheckAvailability(c.Request.Context(), req.ProductIDs)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, availability)
}

func (h *ReaderHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "reservation-reader",
	})
}
