// Package manager implements the reservation write path. Every operation
// that touches stock runs as one atomic unit: take the per-product lock,
// open a storage transaction, re-read the product row under the transaction,
// mutate ledger and reservation together, commit. Partial application of the
// ledger without the reservation row (or vice versa) is the failure mode this
// discipline exists to prevent.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reservation-service/internal/interfaces"
	"reservation-service/internal/ledger"
	"reservation-service/internal/locker"
	"reservation-service/internal/metrics"
	"reservation-service/internal/models"
)

// Config holds the reservation manager policy knobs
type Config struct {
	DefaultTTL        time.Duration // applied when the caller omits ttl_seconds
	MaxReservationQty int           // upper bound on a single reservation
	LockTimeout       time.Duration // per-product lock acquisition timeout
}

// Validate validates the manager configuration
func (c Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default reservation TTL must be positive, got %v", c.DefaultTTL)
	}
	if c.MaxReservationQty < 1 {
		return fmt.Errorf("max reservation quantity must be positive, got %d", c.MaxReservationQty)
	}
	if c.LockTimeout < time.Millisecond {
		return fmt.Errorf("lock timeout must be at least 1ms, got %v", c.LockTimeout)
	}
	return nil
}

// Manager orchestrates reserve, release, confirm and expire against the
// stock ledger and the reservation store
type Manager struct {
	store  interfaces.Store
	cache  interfaces.CacheRepository
	locks  *locker.ProductLocker
	config Config
	now    func() time.Time
}

// NewManager creates a new reservation manager
func NewManager(store interfaces.Store, cache interfaces.CacheRepository, config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manager configuration: %w", err)
	}

	return &Manager{
		store:  store,
		cache:  cache,
		locks:  locker.NewProductLocker(config.LockTimeout),
		config: config,
		now:    time.Now,
	}, nil
}

// RegisterProduct creates the stock record for a new product
func (m *Manager) RegisterProduct(ctx context.Context, req *models.RegisterProductRequest) (*models.Product, error) {
	if req.ProductID == "" {
		return nil, models.NewValidationError("product_id", "product ID is required", req.ProductID)
	}
	if req.CurrentQty < 0 {
		return nil, models.NewValidationError("current_qty", "initial stock must not be negative", req.CurrentQty)
	}
	if req.MaxQty > 0 && req.MaxQty < req.MinQty {
		return nil, models.NewValidationError("max_qty", "maximum stock must not be below minimum stock", req.MaxQty)
	}

	product := &models.Product{
		ProductID:  req.ProductID,
		CurrentQty: req.CurrentQty,
		MinQty:     req.MinQty,
		MaxQty:     req.MaxQty,
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := m.store.CreateProduct(ctx, tx, product); err != nil {
		return nil, err
	}

	if err := m.appendStateEvent(ctx, tx, product); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Str("product_id", product.ProductID).
		Int("current_qty", product.CurrentQty).
		Msg("Registered product")

	return product, nil
}

// AdjustStock applies a physical stock correction (receiving, manual fix)
func (m *Manager) AdjustStock(ctx context.Context, productID string, req *models.AdjustStockRequest) (*models.Product, error) {
	if productID == "" {
		return nil, models.NewValidationError("product_id", "product ID is required", productID)
	}
	if req.Delta == 0 {
		return nil, models.NewValidationError("delta", "delta must not be zero", req.Delta)
	}
	if req.Reason == "" {
		return nil, models.NewValidationError("reason", "reason is required", req.Reason)
	}

	release, err := m.locks.Acquire(ctx, productID)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	product, err := m.store.GetProductForUpdate(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, models.NewNotFoundError("product", productID)
	}

	if err := ledger.AdjustCurrent(product, req.Delta); err != nil {
		// A delta that would strand reserved units or go negative is caller
		// error, not ledger corruption.
		if models.IsInvariantViolation(err) {
			return nil, models.NewBusinessError(models.ErrorCodeInvalidState, err.Error(), nil)
		}
		return nil, err
	}

	if err := m.store.UpdateProduct(ctx, tx, product); err != nil {
		return nil, err
	}

	event := m.newStockEvent(models.EventTypeStockAdjusted, product.ProductID, req.Delta, nil)
	event.Reason = req.Reason
	if err := m.store.CreateOutboxEvent(ctx, tx, event.EventType, product.ProductID, event); err != nil {
		return nil, err
	}
	if err := m.appendStateEvent(ctx, tx, product); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.invalidateCache(product.ProductID)

	log.Info().
		Str("product_id", productID).
		Int("delta", req.Delta).
		Str("reason", req.Reason).
		Int("current_qty", product.CurrentQty).
		Msg("Adjusted stock")

	return product, nil
}

// Reserve places a time-bounded exclusive hold on stock for an order.
// Retried calls for the same (order, product) pair return the existing
// ACTIVE reservation unchanged.
func (m *Manager) Reserve(ctx context.Context, productID string, req *models.ReserveRequest) (*models.ReserveResponse, error) {
	if err := m.validateReserveRequest(productID, req); err != nil {
		metrics.Operations.WithLabelValues("reserve", metrics.ResultError).Inc()
		return nil, err
	}

	ttl := m.config.DefaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	release, err := m.locks.Acquire(ctx, productID)
	if err != nil {
		metrics.Operations.WithLabelValues("reserve", metrics.ResultBusy).Inc()
		return nil, err
	}
	defer release()

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Idempotency: a retried reserve for the same (order, product) pair
	// returns the existing hold instead of double-reserving.
	existing, err := m.store.GetActiveReservation(ctx, tx, req.OrderID, productID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if existing != nil {
		log.Debug().
			Str("order_id", req.OrderID).
			Str("product_id", productID).
			Str("reservation_id", existing.ReservationID.String()).
			Msg("Reserve replay, returning existing reservation")
		metrics.Operations.WithLabelValues("reserve", metrics.ResultIdempotentReplay).Inc()
		return buildReserveResponse(existing), nil
	}

	product, err := m.store.GetProductForUpdate(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		metrics.Operations.WithLabelValues("reserve", metrics.ResultNotFound).Inc()
		return nil, models.NewNotFoundError("product", productID)
	}

	if !ledger.CheckAvailability(product, req.Qty) {
		log.Debug().
			Str("product_id", productID).
			Int("requested", req.Qty).
			Int("available", product.AvailableQty()).
			Msg("Insufficient stock for reservation")
		metrics.Operations.WithLabelValues("reserve", metrics.ResultInsufficientStock).Inc()
		return nil, models.NewBusinessError(models.ErrorCodeInsufficientStock,
			fmt.Sprintf("insufficient stock: requested %d, available %d", req.Qty, product.AvailableQty()),
			map[string]int{"requested": req.Qty, "available": product.AvailableQty()})
	}

	if err := ledger.IncrementReserved(product, req.Qty); err != nil {
		return nil, m.reportLedgerError(productID, err)
	}

	if err := m.store.UpdateProduct(ctx, tx, product); err != nil {
		return nil, err
	}

	reservation := &models.Reservation{
		ReservationID: uuid.New(),
		OrderID:       req.OrderID,
		CustomerID:    req.CustomerID,
		ProductID:     productID,
		Qty:           req.Qty,
		Status:        models.ReservationStatusActive,
		ExpiresAt:     m.now().Add(ttl),
	}

	if err := m.store.CreateReservation(ctx, tx, reservation); err != nil {
		if models.BusinessErrorCode(err) == models.ErrorCodeDuplicateRequest {
			// Another instance inserted the hold between our idempotency
			// check and this insert; the unique-active guard rejected our
			// row. Roll back and return the winner.
			return m.replayWinningReservation(ctx, tx, req.OrderID, productID, err)
		}
		return nil, err
	}

	event := m.newStockEvent(models.EventTypeStockReserved, productID, req.Qty, reservation)
	if err := m.store.CreateOutboxEvent(ctx, tx, event.EventType, productID, event); err != nil {
		return nil, err
	}
	if err := m.appendStateEvent(ctx, tx, product); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.invalidateCache(productID)
	metrics.Operations.WithLabelValues("reserve", metrics.ResultOK).Inc()

	log.Info().
		Str("reservation_id", reservation.ReservationID.String()).
		Str("product_id", productID).
		Str("order_id", req.OrderID).
		Int("qty", req.Qty).
		Time("expires_at", reservation.ExpiresAt).
		Msg("Reserved stock")

	return buildReserveResponse(reservation), nil
}

// replayWinningReservation resolves a lost insert race against another
// instance. The in-transaction idempotency check saw nothing, but the
// unique-active guard on (order, product) rejected our row, so an ACTIVE hold
// must exist. Re-read it outside the failed transaction and return it.
func (m *Manager) replayWinningReservation(ctx context.Context, tx interfaces.Tx, orderID, productID string, cause error) (*models.ReserveResponse, error) {
	if err := tx.Rollback(); err != nil {
		log.Warn().Err(err).Msg("Rollback after duplicate reservation failed")
	}

	readTx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer readTx.Rollback()

	existing, err := m.store.GetActiveReservation(ctx, readTx, orderID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch winning reservation: %w", err)
	}
	if existing == nil {
		// El ganador ya pasó a un estado terminal, que el cliente reintente
		return nil, cause
	}

	log.Debug().
		Str("order_id", orderID).
		Str("product_id", productID).
		Str("reservation_id", existing.ReservationID.String()).
		Msg("Reserve lost insert race, returning existing reservation")
	metrics.Operations.WithLabelValues("reserve", metrics.ResultIdempotentReplay).Inc()
	return buildReserveResponse(existing), nil
}

// Release returns a hold to the available pool. Releasing an already-terminal
// reservation is a no-op success reporting the current status; explicit
// callers and the sweeper may race on the same record.
func (m *Manager) Release(ctx context.Context, reservationID uuid.UUID, req *models.ReleaseRequest) (*models.ReleaseResponse, error) {
	reason := ""
	if req != nil {
		reason = req.Reason
	}
	return m.terminate(ctx, "release", reservationID, models.ReservationStatusReleased, reason, models.EventTypeStockReleased)
}

// Expire is invoked by the sweeper for holds past their deadline. Same ledger
// effect as Release; the terminal status records that the hold timed out
// rather than being cancelled.
func (m *Manager) Expire(ctx context.Context, reservationID uuid.UUID) (*models.ReleaseResponse, error) {
	return m.terminate(ctx, "expire", reservationID, models.ReservationStatusExpired, "reservation TTL elapsed", models.EventTypeStockExpired)
}

// ReleaseByOrder releases every ACTIVE reservation correlated with an order,
// used by order cancellation flows
func (m *Manager) ReleaseByOrder(ctx context.Context, orderID, reason string) ([]models.ReleaseResponse, error) {
	if orderID == "" {
		return nil, models.NewValidationError("order_id", "order ID is required", orderID)
	}

	reservations, err := m.store.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(reservations) == 0 {
		return nil, models.NewNotFoundError("reservations for order", orderID)
	}

	responses := make([]models.ReleaseResponse, 0, len(reservations))
	for _, r := range reservations {
		if r.Status != models.ReservationStatusActive {
			responses = append(responses, models.ReleaseResponse{ReservationID: r.ReservationID, Status: r.Status})
			continue
		}
		resp, err := m.Release(ctx, r.ReservationID, &models.ReleaseRequest{Reason: reason})
		if err != nil {
			return nil, err
		}
		responses = append(responses, *resp)
	}

	return responses, nil
}

// Confirm converts a hold into permanent consumption: current and reserved
// both drop by the held quantity, leaving available stock unchanged. Only an
// ACTIVE, unexpired reservation can be confirmed.
func (m *Manager) Confirm(ctx context.Context, reservationID uuid.UUID) (*models.ReleaseResponse, error) {
	reservation, err := m.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		metrics.Operations.WithLabelValues("confirm", metrics.ResultNotFound).Inc()
		return nil, models.NewNotFoundError("reservation", reservationID.String())
	}
	if reservation.Status != models.ReservationStatusActive {
		metrics.Operations.WithLabelValues("confirm", metrics.ResultInvalidState).Inc()
		return nil, models.NewBusinessError(models.ErrorCodeInvalidState,
			fmt.Sprintf("cannot confirm reservation in status %s", reservation.Status), nil)
	}

	release, err := m.locks.Acquire(ctx, reservation.ProductID)
	if err != nil {
		metrics.Operations.WithLabelValues("confirm", metrics.ResultBusy).Inc()
		return nil, err
	}
	defer release()

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	reservation, err = m.store.GetReservationForUpdate(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, models.NewNotFoundError("reservation", reservationID.String())
	}
	if reservation.Status != models.ReservationStatusActive {
		metrics.Operations.WithLabelValues("confirm", metrics.ResultInvalidState).Inc()
		return nil, models.NewBusinessError(models.ErrorCodeInvalidState,
			fmt.Sprintf("cannot confirm reservation in status %s", reservation.Status), nil)
	}
	if m.now().After(reservation.ExpiresAt) {
		// The sweeper will reclaim this hold; the caller must re-reserve.
		metrics.Operations.WithLabelValues("confirm", metrics.ResultInvalidState).Inc()
		return nil, models.NewBusinessError(models.ErrorCodeReservationExpired,
			"reservation has expired and cannot be confirmed", nil)
	}

	product, err := m.store.GetProductForUpdate(ctx, tx, reservation.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, m.reportLedgerError(reservation.ProductID,
			models.NewInvariantViolation(reservation.ProductID, "active reservation references missing product"))
	}

	if err := ledger.ConsumeReserved(product, reservation.Qty); err != nil {
		return nil, m.reportLedgerError(reservation.ProductID, err)
	}

	if err := m.store.UpdateProduct(ctx, tx, product); err != nil {
		return nil, err
	}

	transitioned, err := m.store.TransitionReservation(ctx, tx, reservationID, models.ReservationStatusConfirmed, "")
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return nil, models.NewBusinessError(models.ErrorCodeInvalidState,
			"reservation is no longer active", nil)
	}

	event := m.newStockEvent(models.EventTypeStockConfirmed, product.ProductID, reservation.Qty, reservation)
	event.Status = models.ReservationStatusConfirmed
	if err := m.store.CreateOutboxEvent(ctx, tx, event.EventType, product.ProductID, event); err != nil {
		return nil, err
	}
	if err := m.appendStateEvent(ctx, tx, product); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.invalidateCache(product.ProductID)
	metrics.Operations.WithLabelValues("confirm", metrics.ResultOK).Inc()

	log.Info().
		Str("reservation_id", reservationID.String()).
		Str("product_id", product.ProductID).
		Int("qty", reservation.Qty).
		Msg("Confirmed reservation")

	return &models.ReleaseResponse{ReservationID: reservationID, Status: models.ReservationStatusConfirmed}, nil
}

// terminate is the shared release/expire path: transition the record to the
// terminal status and hand the held quantity back to the available pool.
func (m *Manager) terminate(ctx context.Context, operation string, reservationID uuid.UUID, status models.ReservationStatus, reason, eventType string) (*models.ReleaseResponse, error) {
	reservation, err := m.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		metrics.Operations.WithLabelValues(operation, metrics.ResultNotFound).Inc()
		return nil, models.NewNotFoundError("reservation", reservationID.String())
	}
	if reservation.Status != models.ReservationStatusActive {
		log.Debug().
			Str("reservation_id", reservationID.String()).
			Str("status", string(reservation.Status)).
			Str("operation", operation).
			Msg("Reservation already terminal, no-op")
		metrics.Operations.WithLabelValues(operation, metrics.ResultIdempotentReplay).Inc()
		return &models.ReleaseResponse{ReservationID: reservationID, Status: reservation.Status}, nil
	}

	release, err := m.locks.Acquire(ctx, reservation.ProductID)
	if err != nil {
		metrics.Operations.WithLabelValues(operation, metrics.ResultBusy).Inc()
		return nil, err
	}
	defer release()

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-read under the transaction: a racing release or sweep may have won
	// between the unlocked read and the lock acquisition.
	reservation, err = m.store.GetReservationForUpdate(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, models.NewNotFoundError("reservation", reservationID.String())
	}
	if reservation.Status != models.ReservationStatusActive {
		metrics.Operations.WithLabelValues(operation, metrics.ResultIdempotentReplay).Inc()
		return &models.ReleaseResponse{ReservationID: reservationID, Status: reservation.Status}, nil
	}

	product, err := m.store.GetProductForUpdate(ctx, tx, reservation.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, m.reportLedgerError(reservation.ProductID,
			models.NewInvariantViolation(reservation.ProductID, "active reservation references missing product"))
	}

	if err := ledger.DecrementReserved(product, reservation.Qty); err != nil {
		return nil, m.reportLedgerError(reservation.ProductID, err)
	}

	if err := m.store.UpdateProduct(ctx, tx, product); err != nil {
		return nil, err
	}

	transitioned, err := m.store.TransitionReservation(ctx, tx, reservationID, status, reason)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		metrics.Operations.WithLabelValues(operation, metrics.ResultIdempotentReplay).Inc()
		return &models.ReleaseResponse{ReservationID: reservationID, Status: reservation.Status}, nil
	}

	event := m.newStockEvent(eventType, product.ProductID, reservation.Qty, reservation)
	event.Status = status
	event.Reason = reason
	if err := m.store.CreateOutboxEvent(ctx, tx, event.EventType, product.ProductID, event); err != nil {
		return nil, err
	}
	if err := m.appendStateEvent(ctx, tx, product); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.invalidateCache(product.ProductID)
	metrics.Operations.WithLabelValues(operation, metrics.ResultOK).Inc()

	log.Info().
		Str("reservation_id", reservationID.String()).
		Str("product_id", product.ProductID).
		Str("status", string(status)).
		Int("qty", reservation.Qty).
		Msg("Terminated reservation")

	return &models.ReleaseResponse{ReservationID: reservationID, Status: status}, nil
}

func (m *Manager) validateReserveRequest(productID string, req *models.ReserveRequest) error {
	if productID == "" {
		return models.NewValidationError("product_id", "product ID is required", productID)
	}
	if req.Qty <= 0 {
		return models.NewValidationError("qty", "quantity must be positive", req.Qty)
	}
	if req.Qty > m.config.MaxReservationQty {
		return models.NewValidationError("qty",
			fmt.Sprintf("quantity %d exceeds maximum allowed %d", req.Qty, m.config.MaxReservationQty), req.Qty)
	}
	if req.OrderID == "" {
		return models.NewValidationError("order_id", "order ID is required", req.OrderID)
	}
	if req.TTLSeconds < 0 {
		return models.NewValidationError("ttl_seconds", "TTL must not be negative", req.TTLSeconds)
	}
	return nil
}

// reportLedgerError surfaces invariant violations loudly; ordinary validation
// errors pass through unchanged.
func (m *Manager) reportLedgerError(productID string, err error) error {
	if models.IsInvariantViolation(err) {
		metrics.InvariantViolations.Inc()
		log.Error().
			Err(err).
			Str("product_id", productID).
			Msg("Ledger invariant violated, aborting operation")
	}
	return err
}

func (m *Manager) newStockEvent(eventType, productID string, qty int, reservation *models.Reservation) *models.StockEvent {
	event := &models.StockEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		ProductID: productID,
		Qty:       qty,
		Timestamp: m.now(),
	}
	if reservation != nil {
		event.ReservationID = &reservation.ReservationID
		event.OrderID = reservation.OrderID
		event.Status = reservation.Status
	}
	return event
}

func (m *Manager) appendStateEvent(ctx context.Context, tx interfaces.Tx, product *models.Product) error {
	state := &models.StockState{
		ProductID:   product.ProductID,
		CurrentQty:  product.CurrentQty,
		ReservedQty: product.ReservedQty,
		MinQty:      product.MinQty,
		MaxQty:      product.MaxQty,
		Version:     product.Version,
		UpdatedAt:   product.UpdatedAt,
	}
	return m.store.CreateOutboxEvent(ctx, tx, models.EventTypeStockState, product.ProductID, state)
}

func (m *Manager) invalidateCache(productID string) {
	if m.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := m.cache.DeleteProduct(ctx, productID); err != nil {
			log.Error().Err(err).Str("product_id", productID).Msg("Failed to invalidate cache")
		}
	}()
}

func buildReserveResponse(reservation *models.Reservation) *models.ReserveResponse {
	return &models.ReserveResponse{
		ReservationID: reservation.ReservationID,
		ProductID:     reservation.ProductID,
		OrderID:       reservation.OrderID,
		Qty:           reservation.Qty,
		Status:        reservation.Status,
		ExpiresAt:     reservation.ExpiresAt,
	}
}
