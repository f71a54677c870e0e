package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reservation-service/internal/interfaces"
	"reservation-service/internal/models"
)

// ServerHandler exposes the full read/write HTTP surface of the service
type ServerHandler struct {
	manager interfaces.ReservationManager
	query   interfaces.QueryService
}

// NewServerHandler creates a new API handler
func NewServerHandler(manager interfaces.ReservationManager, query interfaces.QueryService) *ServerHandler {
	return &ServerHandler{
		manager: manager,
		query:   query,
	}
}

// SetupRoutes sets up the HTTP routes
func (h *ServerHandler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(h.corsMiddleware())

	r.GET("/health", h.healthCheck)

	api := r.Group("/api/v1")
	{
		api.POST("/products", h.registerProduct)
		api.GET("/products/:id", h.getProduct)
		api.GET("/products/:id/availability", h.checkAvailability)
		api.POST("/products/:id/adjust", h.adjustStock)
		api.POST("/products/:id/reserve", h.reserve)

		api.GET("/reservations/:id", h.getReservation)
		api.POST("/reservations/:id/confirm", h.confirmReservation)
		api.POST("/reservations/:id/release", h.releaseReservation)

		api.GET("/orders/:id/reservations", h.listOrderReservations)
		api.POST("/orders/:id/release", h.releaseOrder)

		api.GET("/stock/low", h.listLowStock)
		api.GET("/stock/out", h.listOutOfStock)
		api.POST("/stock/bulk-availability", h.bulkAvailability)

		api.GET("/admin/reconcile", h.reconcile)
	}

	return r
}

// registerProduct creates the stock record for a new product
func (h *ServerHandler) registerProduct(c *gin.Context) {
	var req models.RegisterProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind register request")
		Response.BindError(c, err)
		return
	}

	product, err := h.manager.RegisterProduct(c.Request.Context(), &req)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Created(c, product)
}

// getProduct returns the full ledger record for a product
func (h *ServerHandler) getProduct(c *gin.Context) {
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

// checkAvailability reports whether qty units can be reserved right now
func (h *ServerHandler) checkAvailability(c *gin.Context) {
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

// adjustStock applies a physical stock correction
func (h *ServerHandler) adjustStock(c *gin.Context) {
	productID := c.Param("id")
	if productID == "" {
		Response.ValidationError(c, "id", "Product ID is required")
		return
	}

	var req models.AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind adjust request")
		Response.BindError(c, err)
		return
	}

	product, err := h.manager.AdjustStock(c.Request.Context(), productID, &req)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, product)
}

// reserve places a hold on stock for an order
func (h *ServerHandler) reserve(c *gin.Context) {
	productID := c.Param("id")
	if productID == "" {
		Response.ValidationError(c, "id", "Product ID is required")
		return
	}

	var req models.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind reserve request")
		Response.BindError(c, err)
		return
	}

	response, err := h.manager.Reserve(c.Request.Context(), productID, &req)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Created(c, response)
}

// getReservation returns a reservation record, terminal or not
func (h *ServerHandler) getReservation(c *gin.Context) {
	reservationID, ok := h.parseReservationID(c)
	if !ok {
		return
	}

	reservation, err := h.query.GetReservation(c.Request.Context(), reservationID)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, reservation)
}

// listOrderReservations returns every reservation correlated with an order
func (h *ServerHandler) listOrderReservations(c *gin.Context) {
	orderID := c.Param("id")
	if orderID == "" {
		Response.ValidationError(c, "id", "Order ID is required")
		return
	}

	reservations, err := h.query.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		Response.Error(c, err)
		return
	}
	if reservations == nil {
		reservations = []models.Reservation{}
	}

	Response.Success(c, gin.H{"order_id": orderID, "reservations": reservations, "count": len(reservations)})
}

// confirmReservation converts a hold into permanent consumption
func (h *ServerHandler) confirmReservation(c *gin.Context) {
	reservationID, ok := h.parseReservationID(c)
	if !ok {
		return
	}

	response, err := h.manager.Confirm(c.Request.Context(), reservationID)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, response)
}

// releaseReservation returns a hold to the available pool
func (h *ServerHandler) releaseReservation(c *gin.Context) {
	reservationID, ok := h.parseReservationID(c)
	if !ok {
		return
	}

	var req models.ReleaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Error().Err(err).Msg("Failed to bind release request")
			Response.BindError(c, err)
			return
		}
	}

	response, err := h.manager.Release(c.Request.Context(), reservationID, &req)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, response)
}

// releaseOrder releases every active reservation correlated with an order
func (h *ServerHandler) releaseOrder(c *gin.Context) {
	orderID := c.Param("id")
	if orderID == "" {
		Response.ValidationError(c, "id", "Order ID is required")
		return
	}

	var req models.ReleaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Error().Err(err).Msg("Failed to bind release request")
			Response.BindError(c, err)
			return
		}
	}

	responses, err := h.manager.ReleaseByOrder(c.Request.Context(), orderID, req.Reason)
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, gin.H{"order_id": orderID, "reservations": responses})
}

// listLowStock returns products at or below their low-stock threshold
func (h *ServerHandler) listLowStock(c *gin.Context) {
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

// listOutOfStock returns products with no physical stock left
func (h *ServerHandler) listOutOfStock(c *gin.Context) {
	products, err := h.query.ListOutOfStock(c.Request.Context())
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, gin.H{"products": products, "count": len(products)})
}

// bulkAvailability reports single-unit availability for several products
func (h *ServerHandler) bulkAvailability(c *gin.Context) {
	var req models.BulkAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind bulk availability request")
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

// reconcile audits reserved counters against active reservations
func (h *ServerHandler) reconcile(c *gin.Context) {
	mismatches, err := h.query.Reconcile(c.Request.Context())
	if err != nil {
		Response.Error(c, err)
		return
	}

	Response.Success(c, gin.H{
		"consistent": len(mismatches) == 0,
		"mismatches": mismatches,
	})
}

// healthCheck handles health check requests
func (h *ServerHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "reservation-service",
	})
}

func (h *ServerHandler) parseReservationID(c *gin.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	if idStr == "" {
		Response.ValidationError(c, "id", "Reservation ID is required")
		return uuid.Nil, false
	}

	reservationID, err := uuid.Parse(idStr)
	if err != nil {
		Response.ValidationError(c, "id", "Invalid reservation ID format")
		return uuid.Nil, false
	}

	return reservationID, true
}

// corsMiddleware handles CORS headers
func (h *ServerHandler) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
