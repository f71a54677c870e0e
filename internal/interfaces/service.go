package interfaces

import (
	"context"

	"github.com/google/uuid"

	"reservation-service/internal/models"
)

// ReservationManager defines the contract for the write-path operations
type ReservationManager interface {
	RegisterProduct(ctx context.Context, req *models.RegisterProductRequest) (*models.Product, error)
	AdjustStock(ctx context.Context, productID string, req *models.AdjustStockRequest) (*models.Product, error)

	Reserve(ctx context.Context, productID string, req *models.ReserveRequest) (*models.ReserveResponse, error)
	Release(ctx context.Context, reservationID uuid.UUID, req *models.ReleaseRequest) (*models.ReleaseResponse, error)
	ReleaseByOrder(ctx context.Context, orderID, reason string) ([]models.ReleaseResponse, error)
	Confirm(ctx context.Context, reservationID uuid.UUID) (*models.ReleaseResponse, error)
	Expire(ctx context.Context, reservationID uuid.UUID) (*models.ReleaseResponse, error)
}

// QueryService defines the read-only projections over the stock ledger and
// the reservation store
type QueryService interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	BulkGet(ctx context.Context, productIDs []string) (map[string]*models.Product, error)
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error)
	ListByOrder(ctx context.Context, orderID string) ([]models.Reservation, error)
	CheckAvailability(ctx context.Context, productID string, qty int) (*models.AvailabilityResponse, error)
	BulkCheckAvailability(ctx context.Context, productIDs []string) (map[string]*models.AvailabilityResponse, error)
	ListLowStock(ctx context.Context, threshold *int) ([]models.Product, error)
	ListOutOfStock(ctx context.Context) ([]models.Product, error)
	Reconcile(ctx context.Context) ([]models.ReconciliationMismatch, error)
}
