package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"reservation-service/internal/interfaces"
	"reservation-service/internal/models"
)

// PostgresStore implements the Store contract on top of Postgres. Per-product
// serialization on the write path relies on SELECT ... FOR UPDATE; the version
// column is an additional optimistic guard against lost updates.
type PostgresStore struct {
	db         *sqlx.DB
	outboxRepo *OutboxRepository
}

// NewPostgresStore creates a new Postgres-backed store
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:         db,
		outboxRepo: NewOutboxRepository(db),
	}
}

// BeginTx starts a new database transaction
func (s *PostgresStore) BeginTx(ctx context.Context) (interfaces.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func sqlxTx(tx interfaces.Tx) (*sqlx.Tx, error) {
	t, ok := tx.(*sqlx.Tx)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction type %T", tx)
	}
	return t, nil
}

// GetProduct retrieves a product stock record by id
func (s *PostgresStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var product models.Product
	query := `SELECT product_id, current_qty, reserved_qty, min_qty, max_qty, version, updated_at
			  FROM product_stock WHERE product_id = $1`

	err := s.db.GetContext(ctx, &product, query, productID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to get product")
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &product, nil
}

// GetProductForUpdate retrieves a product stock record with a row lock
func (s *PostgresStore) GetProductForUpdate(ctx context.Context, tx interfaces.Tx, productID string) (*models.Product, error) {
	t, err := sqlxTx(tx)
	if err != nil {
		return nil, err
	}

	var product models.Product
	query := `SELECT product_id, current_qty, reserved_qty, min_qty, max_qty, version, updated_at
			  FROM product_stock WHERE product_id = $1 FOR UPDATE`

	err = t.GetContext(ctx, &product, query, productID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to get product for update")
		return nil, fmt.Errorf("failed to get product for update: %w", err)
	}

	return &product, nil
}

// CreateProduct creates a new product stock record
func (s *PostgresStore) CreateProduct(ctx context.Context, tx interfaces.Tx, product *models.Product) error {
	t, err := sqlxTx(tx)
	if err != nil {
		return err
	}

	query := `INSERT INTO product_stock (product_id, current_qty, reserved_qty, min_qty, max_qty, version, updated_at)
			  VALUES ($1, $2, $3, $4, $5, 1, NOW())`

	_, err = t.ExecContext(ctx, query, product.ProductID, product.CurrentQty, product.ReservedQty, product.MinQty, product.MaxQty)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return models.NewBusinessError(models.ErrorCodeDuplicateRequest,
				fmt.Sprintf("product %s is already registered", product.ProductID), nil)
		}
		log.Error().Err(err).Str("product_id", product.ProductID).Msg("Failed to create product")
		return fmt.Errorf("failed to create product: %w", err)
	}

	product.Version = 1
	product.UpdatedAt = time.Now()

	return nil
}

// UpdateProduct updates product quantities and bumps the version
func (s *PostgresStore) UpdateProduct(ctx context.Context, tx interfaces.Tx, product *models.Product) error {
	t, err := sqlxTx(tx)
	if err != nil {
		return err
	}

	query := `UPDATE product_stock
			  SET current_qty = $2, reserved_qty = $3, min_qty = $4, max_qty = $5, version = version + 1, updated_at = NOW()
			  WHERE product_id = $1 AND version = $6`

	result, err := t.ExecContext(ctx, query, product.ProductID, product.CurrentQty, product.ReservedQty,
		product.MinQty, product.MaxQty, product.Version)
	if err != nil {
		log.Error().Err(err).Str("product_id", product.ProductID).Msg("Failed to update product")
		return fmt.Errorf("failed to update product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed: product version mismatch for %s", product.ProductID)
	}

	product.Version++
	product.UpdatedAt = time.Now()

	return nil
}

// BulkGetProducts retrieves several product stock records at once. Unknown
// ids are simply absent from the result.
func (s *PostgresStore) BulkGetProducts(ctx context.Context, productIDs []string) (map[string]*models.Product, error) {
	if len(productIDs) == 0 {
		return map[string]*models.Product{}, nil
	}

	var products []models.Product
	query := `SELECT product_id, current_qty, reserved_qty, min_qty, max_qty, version, updated_at
			  FROM product_stock WHERE product_id = ANY($1)`

	err := s.db.SelectContext(ctx, &products, query, pq.Array(productIDs))
	if err != nil {
		log.Error().Err(err).Msg("Failed to bulk get products")
		return nil, fmt.Errorf("failed to bulk get products: %w", err)
	}

	result := make(map[string]*models.Product, len(products))
	for i := range products {
		result[products[i].ProductID] = &products[i]
	}
	return result, nil
}

// ListLowStock lists products at or below the low-stock threshold. A nil
// threshold uses each product's own minimum.
func (s *PostgresStore) ListLowStock(ctx context.Context, threshold *int) ([]models.Product, error) {
	var products []models.Product
	var err error

	if threshold == nil {
		query := `SELECT product_id, current_qty, reserved_qty, min_qty, max_qty, version, updated_at
				  FROM product_stock WHERE current_qty <= min_qty ORDER BY product_id`
		err = s.db.SelectContext(ctx, &products, query)
	} else {
		query := `SELECT product_id, current_qty, reserved_qty, min_qty, max_qty, version, updated_at
				  FROM product_stock WHERE current_qty <= $1 ORDER BY product_id`
		err = s.db.SelectContext(ctx, &products, query, *threshold)
	}

	if err != nil {
		log.Error().Err(err).Msg("Failed to list low stock products")
		return nil, fmt.Errorf("failed to list low stock products: %w", err)
	}

	return products, nil
}

// ListOutOfStock lists products with no physical stock left
func (s *PostgresStore) ListOutOfStock(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	query := `SELECT product_id, current_qty, reserved_qty, min_qty, max_qty, version, updated_at
			  FROM product_stock WHERE current_qty = 0 ORDER BY product_id`

	err := s.db.SelectContext(ctx, &products, query)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list out of stock products")
		return nil, fmt.Errorf("failed to list out of stock products: %w", err)
	}

	return products, nil
}

const reservationColumns = `reservation_id, order_id, customer_id, product_id, qty, status, reason, expires_at, created_at, updated_at`

// GetReservation retrieves a reservation by id
func (s *PostgresStore) GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservation WHERE reservation_id = $1`

	err := s.db.GetContext(ctx, &reservation, query, reservationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("reservation_id", reservationID.String()).Msg("Failed to get reservation")
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	return &reservation, nil
}

// GetReservationForUpdate retrieves a reservation with a row lock
func (s *PostgresStore) GetReservationForUpdate(ctx context.Context, tx interfaces.Tx, reservationID uuid.UUID) (*models.Reservation, error) {
	t, err := sqlxTx(tx)
	if err != nil {
		return nil, err
	}

	var reservation models.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservation WHERE reservation_id = $1 FOR UPDATE`

	err = t.GetContext(ctx, &reservation, query, reservationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("reservation_id", reservationID.String()).Msg("Failed to get reservation for update")
		return nil, fmt.Errorf("failed to get reservation for update: %w", err)
	}

	return &reservation, nil
}

// GetActiveReservation retrieves the ACTIVE reservation for an (order, product)
// pair, if any. This is the idempotency lookup for retried reserve calls.
func (s *PostgresStore) GetActiveReservation(ctx context.Context, tx interfaces.Tx, orderID, productID string) (*models.Reservation, error) {
	t, err := sqlxTx(tx)
	if err != nil {
		return nil, err
	}

	var reservation models.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservation
			  WHERE order_id = $1 AND product_id = $2 AND status = 'ACTIVE'`

	err = t.GetContext(ctx, &reservation, query, orderID, productID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("order_id", orderID).Str("product_id", productID).Msg("Failed to get active reservation")
		return nil, fmt.Errorf("failed to get active reservation: %w", err)
	}

	return &reservation, nil
}

// CreateReservation creates a new reservation. The partial unique index on
// (order_id, product_id) WHERE status = 'ACTIVE' is the backstop for the
// idempotency check the manager performs under the product lock.
func (s *PostgresStore) CreateReservation(ctx context.Context, tx interfaces.Tx, reservation *models.Reservation) error {
	t, err := sqlxTx(tx)
	if err != nil {
		return err
	}

	query := `INSERT INTO reservation (` + reservationColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`

	_, err = t.ExecContext(ctx, query, reservation.ReservationID, reservation.OrderID, reservation.CustomerID,
		reservation.ProductID, reservation.Qty, reservation.Status, reservation.Reason, reservation.ExpiresAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return models.NewBusinessError(models.ErrorCodeDuplicateRequest,
				fmt.Sprintf("active reservation already exists for order %s, product %s",
					reservation.OrderID, reservation.ProductID), nil)
		}
		log.Error().Err(err).Str("reservation_id", reservation.ReservationID.String()).Msg("Failed to create reservation")
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	now := time.Now()
	reservation.CreatedAt = now
	reservation.UpdatedAt = now

	return nil
}

// TransitionReservation moves a reservation from ACTIVE to a terminal status.
// Returns false when the record was not ACTIVE anymore; the guarded UPDATE
// makes racing release/expire calls resolve to exactly one winner.
func (s *PostgresStore) TransitionReservation(ctx context.Context, tx interfaces.Tx, reservationID uuid.UUID, status models.ReservationStatus, reason string) (bool, error) {
	if !models.ReservationStatusActive.CanTransitionTo(status) {
		return false, models.NewBusinessError(models.ErrorCodeInvalidState,
			fmt.Sprintf("illegal reservation transition to %s", status), nil)
	}

	t, err := sqlxTx(tx)
	if err != nil {
		return false, err
	}

	query := `UPDATE reservation SET status = $2, reason = $3, updated_at = NOW()
			  WHERE reservation_id = $1 AND status = 'ACTIVE'`

	result, err := t.ExecContext(ctx, query, reservationID, status, reason)
	if err != nil {
		log.Error().Err(err).Str("reservation_id", reservationID.String()).Msg("Failed to transition reservation")
		return false, fmt.Errorf("failed to transition reservation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rowsAffected > 0, nil
}

// FindByOrderID retrieves all reservations correlated with an order
func (s *PostgresStore) FindByOrderID(ctx context.Context, orderID string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservation WHERE order_id = $1 ORDER BY created_at`

	err := s.db.SelectContext(ctx, &reservations, query, orderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to find reservations by order")
		return nil, fmt.Errorf("failed to find reservations by order: %w", err)
	}

	return reservations, nil
}

// FindByProductID retrieves all reservations referencing a product
func (s *PostgresStore) FindByProductID(ctx context.Context, productID string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservation WHERE product_id = $1 ORDER BY created_at`

	err := s.db.SelectContext(ctx, &reservations, query, productID)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to find reservations by product")
		return nil, fmt.Errorf("failed to find reservations by product: %w", err)
	}

	return reservations, nil
}

// FindExpired retrieves ACTIVE reservations past their deadline, oldest first
func (s *PostgresStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var reservations []models.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservation
			  WHERE status = 'ACTIVE' AND expires_at < $1
			  ORDER BY expires_at ASC
			  LIMIT $2`

	err := s.db.SelectContext(ctx, &reservations, query, now, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to find expired reservations")
		return nil, fmt.Errorf("failed to find expired reservations: %w", err)
	}

	return reservations, nil
}

// Reconcile compares each product's reserved quantity against the sum of its
// ACTIVE reservations. Any row returned is a data-integrity bug.
func (s *PostgresStore) Reconcile(ctx context.Context) ([]models.ReconciliationMismatch, error) {
	var mismatches []models.ReconciliationMismatch
	query := `SELECT p.product_id,
			         p.reserved_qty AS ledger_reserved,
			         COALESCE(SUM(r.qty), 0) AS active_reserved
			  FROM product_stock p
			  LEFT JOIN reservation r ON r.product_id = p.product_id AND r.status = 'ACTIVE'
			  GROUP BY p.product_id, p.reserved_qty
			  HAVING p.reserved_qty <> COALESCE(SUM(r.qty), 0)`

	err := s.db.SelectContext(ctx, &mismatches, query)
	if err != nil {
		log.Error().Err(err).Msg("Failed to run ledger reconciliation")
		return nil, fmt.Errorf("failed to run ledger reconciliation: %w", err)
	}

	return mismatches, nil
}

// CreateOutboxEvent appends an event row to the outbox inside the transaction
func (s *PostgresStore) CreateOutboxEvent(ctx context.Context, tx interfaces.Tx, eventType, key string, payload interface{}) error {
	t, err := sqlxTx(tx)
	if err != nil {
		return err
	}
	return s.outboxRepo.InsertOutboxEvent(ctx, t, eventType, key, payload)
}
