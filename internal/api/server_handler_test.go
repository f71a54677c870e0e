package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservation-service/internal/manager"
	"reservation-service/internal/models"
	"reservation-service/internal/query"
	"reservation-service/internal/repository"
)

func newTestRouter(t *testing.T) (*gin.Engine, *manager.Manager) {
	t.Helper()

	store := repository.NewMemoryStore()
	mgr, err := manager.NewManager(store, nil, manager.Config{
		DefaultTTL:        15 * time.Minute,
		MaxReservationQty: 1000,
		LockTimeout:       2 * time.Second,
	})
	require.NoError(t, err)

	handler := NewServerHandler(mgr, query.NewService(store, nil))
	return handler.SetupRoutes(), mgr
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerViaAPI(t *testing.T, router *gin.Engine, productID string, qty int) {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/products", models.RegisterProductRequest{
		ProductID:  productID,
		CurrentQty: qty,
		MinQty:     5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestRegisterProduct_API(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/products", models.RegisterProductRequest{
		ProductID:  "SKU-001",
		CurrentQty: 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var product models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))
	assert.Equal(t, "SKU-001", product.ProductID)
	assert.Equal(t, 100, product.CurrentQty)

	// Duplicate registration conflicts
	rec = doJSON(t, router, http.MethodPost, "/api/v1/products", models.RegisterProductRequest{
		ProductID:  "SKU-001",
		CurrentQty: 100,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterProduct_BindValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/products", map[string]interface{}{
		"current_qty": 10,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeValidationError, problem.Type)
}

func TestReserve_API(t *testing.T) {
	router, _ := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/products/SKU-001/reserve", models.ReserveRequest{
		Qty:     4,
		OrderID: "order-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.ReserveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ReservationStatusActive, resp.Status)
	assert.NotEqual(t, uuid.Nil, resp.ReservationID)

	// La respuesta incluye el request id para trazabilidad
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReserve_API_InsufficientStock(t *testing.T) {
	router, _ := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/products/SKU-001/reserve", models.ReserveRequest{
		Qty:     11,
		OrderID: "order-1",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, string(models.ErrorCodeInsufficientStock), problem.Code)
}

func TestReserve_API_UnknownProduct(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/products/SKU-missing/reserve", models.ReserveRequest{
		Qty:     1,
		OrderID: "order-1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmAndRelease_API(t *testing.T) {
	router, mgr := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)

	first, err := mgr.Reserve(context.Background(), "SKU-001", &models.ReserveRequest{Qty: 2, OrderID: "order-1"})
	require.NoError(t, err)
	second, err := mgr.Reserve(context.Background(), "SKU-001", &models.ReserveRequest{Qty: 3, OrderID: "order-2"})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%s/confirm", first.ReservationID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var confirmResp models.ReleaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmResp))
	assert.Equal(t, models.ReservationStatusConfirmed, confirmResp.Status)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%s/release", second.ReservationID),
		models.ReleaseRequest{Reason: "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)

	var releaseResp models.ReleaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &releaseResp))
	assert.Equal(t, models.ReservationStatusReleased, releaseResp.Status)

	// Confirming the released reservation is rejected
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%s/confirm", second.ReservationID), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetReservation_API(t *testing.T) {
	router, mgr := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)

	created, err := mgr.Reserve(context.Background(), "SKU-001", &models.ReserveRequest{Qty: 4, OrderID: "order-1"})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/reservations/%s", created.ReservationID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reservation models.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reservation))
	assert.Equal(t, created.ReservationID, reservation.ReservationID)
	assert.Equal(t, "order-1", reservation.OrderID)
	assert.Equal(t, models.ReservationStatusActive, reservation.Status)

	// Unknown IDs produce a not-found problem, invalid ones a validation problem
	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/reservations/%s", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/reservations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderReservations_API(t *testing.T) {
	router, mgr := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)
	registerViaAPI(t, router, "SKU-002", 10)

	first, err := mgr.Reserve(context.Background(), "SKU-001", &models.ReserveRequest{Qty: 2, OrderID: "order-1"})
	require.NoError(t, err)
	_, err = mgr.Reserve(context.Background(), "SKU-002", &models.ReserveRequest{Qty: 3, OrderID: "order-1"})
	require.NoError(t, err)

	_, err = mgr.Release(context.Background(), first.ReservationID, &models.ReleaseRequest{Reason: "cancelled"})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/orders/order-1/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OrderID      string               `json:"order_id"`
		Reservations []models.Reservation `json:"reservations"`
		Count        int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "order-1", resp.OrderID)
	require.Equal(t, 2, resp.Count)

	// Las liberadas siguen visibles en el listado por orden
	statuses := make(map[models.ReservationStatus]int)
	for _, r := range resp.Reservations {
		statuses[r.Status]++
	}
	assert.Equal(t, 1, statuses[models.ReservationStatusActive])
	assert.Equal(t, 1, statuses[models.ReservationStatusReleased])

	// An order nobody reserved for lists as empty
	rec = doJSON(t, router, http.MethodGet, "/api/v1/orders/order-unknown/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Reservations)
}

func TestRelease_API_InvalidID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations/not-a-uuid/release", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseOrder_API(t *testing.T) {
	router, mgr := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)
	registerViaAPI(t, router, "SKU-002", 10)

	_, err := mgr.Reserve(context.Background(), "SKU-001", &models.ReserveRequest{Qty: 2, OrderID: "order-1"})
	require.NoError(t, err)
	_, err = mgr.Reserve(context.Background(), "SKU-002", &models.ReserveRequest{Qty: 3, OrderID: "order-1"})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders/order-1/release", models.ReleaseRequest{Reason: "order cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OrderID      string                   `json:"order_id"`
		Reservations []models.ReleaseResponse `json:"reservations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "order-1", resp.OrderID)
	require.Len(t, resp.Reservations, 2)
	for _, r := range resp.Reservations {
		assert.Equal(t, models.ReservationStatusReleased, r.Status)
	}
}

func TestGetProductAndAvailability_API(t *testing.T) {
	router, mgr := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)

	_, err := mgr.Reserve(context.Background(), "SKU-001", &models.ReserveRequest{Qty: 4, OrderID: "order-1"})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/products/SKU-001", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var product models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))
	assert.Equal(t, 4, product.ReservedQty)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/products/SKU-001/availability?qty=6", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var availability models.AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &availability))
	assert.True(t, availability.Available)
	assert.Equal(t, 6, availability.AvailableQty)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/products/SKU-001/availability?qty=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &availability))
	assert.False(t, availability.Available)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/products/SKU-001/availability?qty=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStockListings_API(t *testing.T) {
	router, _ := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 3)  // below min of 5
	registerViaAPI(t, router, "SKU-002", 50) // healthy
	registerViaAPI(t, router, "SKU-003", 0)  // agotado

	rec := doJSON(t, router, http.MethodGet, "/api/v1/stock/low", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Products []models.Product `json:"products"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 2, listing.Count)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/stock/out", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "SKU-003", listing.Products[0].ProductID)
}

func TestBulkAvailability_API(t *testing.T) {
	router, _ := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)
	registerViaAPI(t, router, "SKU-002", 0)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/stock/bulk-availability", models.BulkAvailabilityRequest{
		ProductIDs: []string{"SKU-001", "SKU-002"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]models.AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result, 2)
	assert.True(t, result["SKU-001"].Available)
	assert.False(t, result["SKU-002"].Available)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/stock/bulk-availability", models.BulkAvailabilityRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdjustStock_API(t *testing.T) {
	router, _ := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/products/SKU-001/adjust", models.AdjustStockRequest{
		Delta:  5,
		Reason: "goods received",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var product models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))
	assert.Equal(t, 15, product.CurrentQty)
}

func TestReconcile_API(t *testing.T) {
	router, mgr := newTestRouter(t)
	registerViaAPI(t, router, "SKU-001", 10)

	_, err := mgr.Reserve(context.Background(), "SKU-001", &models.ReserveRequest{Qty: 2, OrderID: "order-1"})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/admin/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Consistent bool                            `json:"consistent"`
		Mismatches []models.ReconciliationMismatch `json:"mismatches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Consistent)
	assert.Empty(t, resp.Mismatches)
}
