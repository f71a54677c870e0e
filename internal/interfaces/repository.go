package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"reservation-service/internal/models"
)

// Tx is an open storage transaction. Write operations that span the stock
// ledger and the reservation store pass the same Tx so the mutation commits
// or rolls back as one unit.
type Tx interface {
	Commit() error
	Rollback() error
}

// Store defines the contract for the durable product and reservation state.
// Implementations must provide row-level locking (or an equivalent) through
// GetProductForUpdate so concurrent writers on the same product serialize.
type Store interface {
	// Transaction management
	BeginTx(ctx context.Context) (Tx, error)

	// Product stock operations
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	GetProductForUpdate(ctx context.Context, tx Tx, productID string) (*models.Product, error)
	CreateProduct(ctx context.Context, tx Tx, product *models.Product) error
	UpdateProduct(ctx context.Context, tx Tx, product *models.Product) error
	BulkGetProducts(ctx context.Context, productIDs []string) (map[string]*models.Product, error)
	ListLowStock(ctx context.Context, threshold *int) ([]models.Product, error)
	ListOutOfStock(ctx context.Context) ([]models.Product, error)

	// Reservation operations
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error)
	GetReservationForUpdate(ctx context.Context, tx Tx, reservationID uuid.UUID) (*models.Reservation, error)
	GetActiveReservation(ctx context.Context, tx Tx, orderID, productID string) (*models.Reservation, error)
	CreateReservation(ctx context.Context, tx Tx, reservation *models.Reservation) error
	TransitionReservation(ctx context.Context, tx Tx, reservationID uuid.UUID, status models.ReservationStatus, reason string) (bool, error)
	FindByOrderID(ctx context.Context, orderID string) ([]models.Reservation, error)
	FindByProductID(ctx context.Context, productID string) ([]models.Reservation, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)

	// Reconciliation
	Reconcile(ctx context.Context) ([]models.ReconciliationMismatch, error)

	// Outbox operations
	CreateOutboxEvent(ctx context.Context, tx Tx, eventType, key string, payload interface{}) error
}

// CacheRepository defines the contract for the product read cache
type CacheRepository interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	SetProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, productID string) error
	UpdateProductFromState(ctx context.Context, state *models.StockState) error
	Close() error
}
