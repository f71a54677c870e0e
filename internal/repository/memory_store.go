package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reservation-service/internal/interfaces"
	"reservation-service/internal/models"
)

// MemoryStore is an in-memory Store implementation used by tests and local
// development. Transactions are single-writer: BeginTx blocks until the
// previous transaction finishes, which gives the same serialization the
// Postgres store gets from row locks. Reads outside a transaction only take
// the data lock, so query-path reads never wait on the write path.
type MemoryStore struct {
	txMu sync.Mutex

	dataMu       sync.RWMutex
	products     map[string]*models.Product
	reservations map[uuid.UUID]*models.Reservation
	outbox       []models.OutboxEvent
	nextOutboxID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*models.Product),
		reservations: make(map[uuid.UUID]*models.Reservation),
		nextOutboxID: 1,
	}
}

// memTx stages writes until Commit. Reads inside the transaction see staged
// state first, then committed state.
type memTx struct {
	store    *MemoryStore
	products map[string]*models.Product
	created  map[uuid.UUID]*models.Reservation
	updated  map[uuid.UUID]*models.Reservation
	outbox   []models.OutboxEvent
	done     bool
}

// BeginTx starts a transaction, waiting for any in-flight one to finish
func (s *MemoryStore) BeginTx(ctx context.Context) (interfaces.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	return &memTx{
		store:    s,
		products: make(map[string]*models.Product),
		created:  make(map[uuid.UUID]*models.Reservation),
		updated:  make(map[uuid.UUID]*models.Reservation),
	}, nil
}

func (t *memTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true

	s := t.store
	s.dataMu.Lock()
	for id, p := range t.products {
		cp := *p
		s.products[id] = &cp
	}
	for id, r := range t.created {
		cp := *r
		s.reservations[id] = &cp
	}
	for id, r := range t.updated {
		cp := *r
		s.reservations[id] = &cp
	}
	for _, e := range t.outbox {
		e.ID = s.nextOutboxID
		s.nextOutboxID++
		s.outbox = append(s.outbox, e)
	}
	s.dataMu.Unlock()

	s.txMu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

func (s *MemoryStore) memTx(tx interfaces.Tx) (*memTx, error) {
	t, ok := tx.(*memTx)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction type %T", tx)
	}
	return t, nil
}

// GetProduct retrieves a committed product stock record
func (s *MemoryStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// GetProductForUpdate retrieves a product inside the transaction
func (s *MemoryStore) GetProductForUpdate(ctx context.Context, tx interfaces.Tx, productID string) (*models.Product, error) {
	t, err := s.memTx(tx)
	if err != nil {
		return nil, err
	}

	if p, ok := t.products[productID]; ok {
		cp := *p
		return &cp, nil
	}

	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// CreateProduct stages a new product stock record
func (s *MemoryStore) CreateProduct(ctx context.Context, tx interfaces.Tx, product *models.Product) error {
	t, err := s.memTx(tx)
	if err != nil {
		return err
	}

	if _, ok := t.products[product.ProductID]; !ok {
		s.dataMu.RLock()
		_, exists := s.products[product.ProductID]
		s.dataMu.RUnlock()
		if !exists {
			product.Version = 1
			product.UpdatedAt = time.Now()
			cp := *product
			t.products[product.ProductID] = &cp
			return nil
		}
	}

	return models.NewBusinessError(models.ErrorCodeDuplicateRequest,
		fmt.Sprintf("product %s is already registered", product.ProductID), nil)
}

// UpdateProduct stages an update to a product stock record
func (s *MemoryStore) UpdateProduct(ctx context.Context, tx interfaces.Tx, product *models.Product) error {
	t, err := s.memTx(tx)
	if err != nil {
		return err
	}

	current, err := s.GetProductForUpdate(ctx, tx, product.ProductID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("product %s not found", product.ProductID)
	}
	if current.Version != product.Version {
		return fmt.Errorf("optimistic lock failed: product version mismatch for %s", product.ProductID)
	}

	product.Version++
	product.UpdatedAt = time.Now()
	cp := *product
	t.products[product.ProductID] = &cp
	return nil
}

// BulkGetProducts retrieves several committed product records at once
func (s *MemoryStore) BulkGetProducts(ctx context.Context, productIDs []string) (map[string]*models.Product, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	result := make(map[string]*models.Product)
	for _, id := range productIDs {
		if p, ok := s.products[id]; ok {
			cp := *p
			result[id] = &cp
		}
	}
	return result, nil
}

// ListLowStock lists products at or below the low-stock threshold
func (s *MemoryStore) ListLowStock(ctx context.Context, threshold *int) ([]models.Product, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	var out []models.Product
	for _, p := range s.products {
		limit := p.MinQty
		if threshold != nil {
			limit = *threshold
		}
		if p.CurrentQty <= limit {
			out = append(out, *p)
		}
	}
	sortProducts(out)
	return out, nil
}

// ListOutOfStock lists products with no physical stock left
func (s *MemoryStore) ListOutOfStock(ctx context.Context) ([]models.Product, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	var out []models.Product
	for _, p := range s.products {
		if p.CurrentQty == 0 {
			out = append(out, *p)
		}
	}
	sortProducts(out)
	return out, nil
}

// GetReservation retrieves a committed reservation by id
func (s *MemoryStore) GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// GetReservationForUpdate retrieves a reservation inside the transaction
func (s *MemoryStore) GetReservationForUpdate(ctx context.Context, tx interfaces.Tx, reservationID uuid.UUID) (*models.Reservation, error) {
	t, err := s.memTx(tx)
	if err != nil {
		return nil, err
	}

	if r, ok := t.updated[reservationID]; ok {
		cp := *r
		return &cp, nil
	}
	if r, ok := t.created[reservationID]; ok {
		cp := *r
		return &cp, nil
	}
	return s.GetReservation(ctx, reservationID)
}

// GetActiveReservation retrieves the ACTIVE reservation for an (order, product) pair
func (s *MemoryStore) GetActiveReservation(ctx context.Context, tx interfaces.Tx, orderID, productID string) (*models.Reservation, error) {
	t, err := s.memTx(tx)
	if err != nil {
		return nil, err
	}

	match := func(r *models.Reservation) bool {
		return r.OrderID == orderID && r.ProductID == productID && r.Status == models.ReservationStatusActive
	}

	for _, r := range t.created {
		if match(r) {
			cp := *r
			return &cp, nil
		}
	}

	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	for id, r := range s.reservations {
		if staged, ok := t.updated[id]; ok {
			r = staged
		}
		if match(r) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateReservation stages a new reservation, enforcing the unique-active
// (order, product) guard
func (s *MemoryStore) CreateReservation(ctx context.Context, tx interfaces.Tx, reservation *models.Reservation) error {
	t, err := s.memTx(tx)
	if err != nil {
		return err
	}

	existing, err := s.GetActiveReservation(ctx, tx, reservation.OrderID, reservation.ProductID)
	if err != nil {
		return err
	}
	if existing != nil && reservation.Status == models.ReservationStatusActive {
		return models.NewBusinessError(models.ErrorCodeDuplicateRequest,
			fmt.Sprintf("active reservation already exists for order %s, product %s",
				reservation.OrderID, reservation.ProductID), nil)
	}

	now := time.Now()
	reservation.CreatedAt = now
	reservation.UpdatedAt = now
	cp := *reservation
	t.created[reservation.ReservationID] = &cp
	return nil
}

// TransitionReservation stages an ACTIVE -> terminal transition. Returns
// false when the record is not ACTIVE anymore.
func (s *MemoryStore) TransitionReservation(ctx context.Context, tx interfaces.Tx, reservationID uuid.UUID, status models.ReservationStatus, reason string) (bool, error) {
	t, err := s.memTx(tx)
	if err != nil {
		return false, err
	}

	if !models.ReservationStatusActive.CanTransitionTo(status) {
		return false, models.NewBusinessError(models.ErrorCodeInvalidState,
			fmt.Sprintf("illegal reservation transition to %s", status), nil)
	}

	r, err := s.GetReservationForUpdate(ctx, tx, reservationID)
	if err != nil {
		return false, err
	}
	if r == nil || r.Status != models.ReservationStatusActive {
		return false, nil
	}

	r.Status = status
	r.Reason = reason
	r.UpdatedAt = time.Now()
	t.updated[reservationID] = r
	return true, nil
}

// FindByOrderID retrieves all committed reservations for an order
func (s *MemoryStore) FindByOrderID(ctx context.Context, orderID string) ([]models.Reservation, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	var out []models.Reservation
	for _, r := range s.reservations {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	sortReservations(out)
	return out, nil
}

// FindByProductID retrieves all committed reservations for a product
func (s *MemoryStore) FindByProductID(ctx context.Context, productID string) ([]models.Reservation, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	var out []models.Reservation
	for _, r := range s.reservations {
		if r.ProductID == productID {
			out = append(out, *r)
		}
	}
	sortReservations(out)
	return out, nil
}

// FindExpired retrieves ACTIVE reservations past their deadline, oldest first
func (s *MemoryStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	var out []models.Reservation
	for _, r := range s.reservations {
		if r.Status == models.ReservationStatusActive && r.ExpiresAt.Before(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reconcile compares each product's reserved quantity against the sum of its
// ACTIVE reservations
func (s *MemoryStore) Reconcile(ctx context.Context) ([]models.ReconciliationMismatch, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	active := make(map[string]int)
	for _, r := range s.reservations {
		if r.Status == models.ReservationStatusActive {
			active[r.ProductID] += r.Qty
		}
	}

	var out []models.ReconciliationMismatch
	for id, p := range s.products {
		if p.ReservedQty != active[id] {
			out = append(out, models.ReconciliationMismatch{
				ProductID:      id,
				LedgerReserved: p.ReservedQty,
				ActiveReserved: active[id],
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// CreateOutboxEvent stages an outbox row
func (s *MemoryStore) CreateOutboxEvent(ctx context.Context, tx interfaces.Tx, eventType, key string, payload interface{}) error {
	t, err := s.memTx(tx)
	if err != nil {
		return err
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	t.outbox = append(t.outbox, models.OutboxEvent{
		EventType: eventType,
		Key:       key,
		Payload:   string(payloadJSON),
		CreatedAt: time.Now(),
	})
	return nil
}

// OutboxEvents returns a snapshot of the committed outbox rows
func (s *MemoryStore) OutboxEvents() []models.OutboxEvent {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	out := make([]models.OutboxEvent, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func sortProducts(products []models.Product) {
	sort.Slice(products, func(i, j int) bool { return products[i].ProductID < products[j].ProductID })
}

func sortReservations(reservations []models.Reservation) {
	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].CreatedAt.Before(reservations[j].CreatedAt)
	})
}
