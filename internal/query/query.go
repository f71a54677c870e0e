// Package query serves the read-only projections over the stock ledger.
// Reads prefer the Redis cache and fall back to the database; the write path
// invalidates cache entries, so a miss simply costs one extra round trip.
package query

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reservation-service/internal/interfaces"
	"reservation-service/internal/ledger"
	"reservation-service/internal/models"
)

// Service answers availability and stock-level queries
type Service struct {
	store interfaces.Store
	cache interfaces.CacheRepository
}

// NewService creates a new query service. The cache may be nil, in which case
// every read goes to the store.
func NewService(store interfaces.Store, cache interfaces.CacheRepository) *Service {
	return &Service{store: store, cache: cache}
}

// GetProduct returns the current ledger record for a product
func (s *Service) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	product, _, err := s.getProduct(ctx, productID)
	return product, err
}

// getProduct resolves a product cache-first and reports whether it was a hit
func (s *Service) getProduct(ctx context.Context, productID string) (*models.Product, bool, error) {
	if productID == "" {
		return nil, false, models.NewValidationError("product_id", "product ID is required", productID)
	}

	if s.cache != nil {
		cached, err := s.cache.GetProduct(ctx, productID)
		if err != nil {
			log.Warn().Err(err).Str("product_id", productID).Msg("Cache read failed, falling back to database")
		} else if cached != nil {
			return cached, true, nil
		}
	}

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, false, err
	}
	if product == nil {
		return nil, false, models.NewNotFoundError("product", productID)
	}

	s.warmCache(product)
	return product, false, nil
}

// BulkGet returns ledger records for several products at once. Unknown IDs
// are simply absent from the result map.
func (s *Service) BulkGet(ctx context.Context, productIDs []string) (map[string]*models.Product, error) {
	if len(productIDs) == 0 {
		return nil, models.NewValidationError("product_ids", "at least one product ID is required", productIDs)
	}

	result := make(map[string]*models.Product, len(productIDs))
	missing := make([]string, 0, len(productIDs))

	if s.cache != nil {
		for _, id := range productIDs {
			cached, err := s.cache.GetProduct(ctx, id)
			if err == nil && cached != nil {
				result[id] = cached
				continue
			}
			missing = append(missing, id)
		}
	} else {
		missing = productIDs
	}

	if len(missing) > 0 {
		fromStore, err := s.store.BulkGetProducts(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, p := range fromStore {
			result[id] = p
			s.warmCache(p)
		}
	}

	return result, nil
}

// CheckAvailability reports whether qty units can be reserved right now
func (s *Service) CheckAvailability(ctx context.Context, productID string, qty int) (*models.AvailabilityResponse, error) {
	if qty <= 0 {
		return nil, models.NewValidationError("qty", "quantity must be positive", qty)
	}

	product, cacheHit, err := s.getProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	return buildAvailability(product, qty, cacheHit), nil
}

// BulkCheckAvailability reports single-unit availability for several products
func (s *Service) BulkCheckAvailability(ctx context.Context, productIDs []string) (map[string]*models.AvailabilityResponse, error) {
	products, err := s.BulkGet(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*models.AvailabilityResponse, len(products))
	for id, p := range products {
		result[id] = buildAvailability(p, 1, false)
	}
	return result, nil
}

// ListLowStock returns products whose current quantity is at or below the
// threshold. With no explicit threshold each product's own min_qty applies.
func (s *Service) ListLowStock(ctx context.Context, threshold *int) ([]models.Product, error) {
	if threshold != nil && *threshold < 0 {
		return nil, models.NewValidationError("threshold", "threshold must not be negative", *threshold)
	}
	return s.store.ListLowStock(ctx, threshold)
}

// GetReservation returns a reservation record by ID, terminal or not
func (s *Service) GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error) {
	reservation, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, models.NewNotFoundError("reservation", reservationID.String())
	}
	return reservation, nil
}

// ListByOrder returns every reservation correlated with an order, oldest
// first. An order with no reservations yields an empty slice, not an error.
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]models.Reservation, error) {
	if orderID == "" {
		return nil, models.NewValidationError("order_id", "order ID is required", orderID)
	}
	return s.store.FindByOrderID(ctx, orderID)
}

// ListOutOfStock returns products with no physical stock left
func (s *Service) ListOutOfStock(ctx context.Context) ([]models.Product, error) {
	return s.store.ListOutOfStock(ctx)
}

// Reconcile audits reserved counters against active reservations on demand
func (s *Service) Reconcile(ctx context.Context) ([]models.ReconciliationMismatch, error) {
	return s.store.Reconcile(ctx)
}

func (s *Service) warmCache(product *models.Product) {
	if s.cache == nil || product == nil {
		return
	}
	p := *product
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.cache.SetProduct(ctx, &p); err != nil {
			log.Warn().Err(err).Str("product_id", p.ProductID).Msg("Failed to warm cache")
		}
	}()
}

func buildAvailability(p *models.Product, qty int, cacheHit bool) *models.AvailabilityResponse {
	return &models.AvailabilityResponse{
		ProductID:    p.ProductID,
		Available:    ledger.CheckAvailability(p, qty),
		AvailableQty: p.AvailableQty(),
		CurrentQty:   p.CurrentQty,
		ReservedQty:  p.ReservedQty,
		CacheHit:     cacheHit,
		LastUpdated:  p.UpdatedAt,
	}
}
