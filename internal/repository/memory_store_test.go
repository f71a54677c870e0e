package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservation-service/internal/models"
)

func seedProduct(t *testing.T, s *MemoryStore, productID string, current, reserved int) {
	t.Helper()

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.CreateProduct(context.Background(), tx, &models.Product{
		ProductID:  productID,
		CurrentQty: current,
	}))
	require.NoError(t, tx.Commit())

	if reserved > 0 {
		tx, err = s.BeginTx(context.Background())
		require.NoError(t, err)
		p, err := s.GetProductForUpdate(context.Background(), tx, productID)
		require.NoError(t, err)
		p.ReservedQty = reserved
		require.NoError(t, s.UpdateProduct(context.Background(), tx, p))
		require.NoError(t, tx.Commit())
	}
}

func seedReservation(t *testing.T, s *MemoryStore, r *models.Reservation) {
	t.Helper()

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.CreateReservation(context.Background(), tx, r))
	require.NoError(t, tx.Commit())
}

func TestMemoryStore_RollbackDiscardsStagedWrites(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "SKU-001", 10, 0)

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)

	p, err := s.GetProductForUpdate(context.Background(), tx, "SKU-001")
	require.NoError(t, err)
	p.ReservedQty = 5
	require.NoError(t, s.UpdateProduct(context.Background(), tx, p))
	require.NoError(t, tx.Rollback())

	committed, err := s.GetProduct(context.Background(), "SKU-001")
	require.NoError(t, err)
	assert.Equal(t, 0, committed.ReservedQty)
}

func TestMemoryStore_TransactionSeesOwnStagedWrites(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "SKU-001", 10, 0)

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	p, err := s.GetProductForUpdate(context.Background(), tx, "SKU-001")
	require.NoError(t, err)
	p.ReservedQty = 5
	require.NoError(t, s.UpdateProduct(context.Background(), tx, p))

	staged, err := s.GetProductForUpdate(context.Background(), tx, "SKU-001")
	require.NoError(t, err)
	assert.Equal(t, 5, staged.ReservedQty)

	// Outside the transaction the committed state is unchanged
	committed, err := s.GetProduct(context.Background(), "SKU-001")
	require.NoError(t, err)
	assert.Equal(t, 0, committed.ReservedQty)
}

func TestMemoryStore_UpdateProductBumpsVersion(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "SKU-001", 10, 0)

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	p, err := s.GetProductForUpdate(context.Background(), tx, "SKU-001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)

	require.NoError(t, s.UpdateProduct(context.Background(), tx, p))
	require.NoError(t, tx.Commit())

	updated, err := s.GetProduct(context.Background(), "SKU-001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
}

func TestMemoryStore_UpdateProductStaleVersionFails(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "SKU-001", 10, 0)

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	stale := &models.Product{ProductID: "SKU-001", CurrentQty: 10, Version: 99}
	err = s.UpdateProduct(context.Background(), tx, stale)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version mismatch")
}

func TestMemoryStore_UniqueActiveReservationGuard(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "SKU-001", 10, 0)

	first := &models.Reservation{
		ReservationID: uuid.New(),
		OrderID:       "order-1",
		ProductID:     "SKU-001",
		Qty:           2,
		Status:        models.ReservationStatusActive,
		ExpiresAt:     time.Now().Add(time.Minute),
	}
	seedReservation(t, s, first)

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	dup := &models.Reservation{
		ReservationID: uuid.New(),
		OrderID:       "order-1",
		ProductID:     "SKU-001",
		Qty:           2,
		Status:        models.ReservationStatusActive,
		ExpiresAt:     time.Now().Add(time.Minute),
	}
	err = s.CreateReservation(context.Background(), tx, dup)
	require.Error(t, err)
	assert.Equal(t, models.ErrorCodeDuplicateRequest, models.BusinessErrorCode(err))
}

func TestMemoryStore_TransitionReservation(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "SKU-001", 10, 0)

	r := &models.Reservation{
		ReservationID: uuid.New(),
		OrderID:       "order-1",
		ProductID:     "SKU-001",
		Qty:           2,
		Status:        models.ReservationStatusActive,
		ExpiresAt:     time.Now().Add(time.Minute),
	}
	seedReservation(t, s, r)

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	ok, err := s.TransitionReservation(context.Background(), tx, r.ReservationID, models.ReservationStatusReleased, "cancelled")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit())

	// Una segunda transición sobre un registro terminal no gana
	tx, err = s.BeginTx(context.Background())
	require.NoError(t, err)
	ok, err = s.TransitionReservation(context.Background(), tx, r.ReservationID, models.ReservationStatusExpired, "")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Rollback())

	stored, err := s.GetReservation(context.Background(), r.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusReleased, stored.Status)
	assert.Equal(t, "cancelled", stored.Reason)
}

func TestMemoryStore_TransitionRejectsIllegalTarget(t *testing.T) {
	s := NewMemoryStore()

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = s.TransitionReservation(context.Background(), tx, uuid.New(), models.ReservationStatusActive, "")
	require.Error(t, err)
	assert.Equal(t, models.ErrorCodeInvalidState, models.BusinessErrorCode(err))
}

func TestMemoryStore_FindExpired(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "SKU-001", 10, 0)

	now := time.Now()
	newest := &models.Reservation{
		ReservationID: uuid.New(),
		OrderID:       "order-1",
		ProductID:     "SKU-001",
		Qty:           1,
		Status:        models.ReservationStatusActive,
		ExpiresAt:     now.Add(-time.Minute),
	}
	oldest := &models.Reservation{
		ReservationID: uuid.New(),
		OrderID:       "order-2",
		ProductID:     "SKU-001",
		Qty:           1,
		Status:        models.ReservationStatusActive,
		ExpiresAt:     now.Add(-time.Hour),
	}
	future := &models.Reservation{
		ReservationID: uuid.New(),
		OrderID:       "order-3",
		ProductID:     "SKU-001",
		Qty:           1,
		Status:        models.ReservationStatusActive,
		ExpiresAt:     now.Add(time.Hour),
	}
	for _, r := range []*models.Reservation{newest, oldest, future} {
		seedReservation(t, s, r)
	}

	expired, err := s.FindExpired(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	// Más antiguo primero
	assert.Equal(t, oldest.ReservationID, expired[0].ReservationID)
	assert.Equal(t, newest.ReservationID, expired[1].ReservationID)

	limited, err := s.FindExpired(context.Background(), now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, oldest.ReservationID, limited[0].ReservationID)
}

func TestMemoryStore_ReconcileDetectsDrift(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "SKU-001", 10, 5)

	// Sin reservas activas el contador de 5 es una desviación
	mismatches, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "SKU-001", mismatches[0].ProductID)
	assert.Equal(t, 5, mismatches[0].LedgerReserved)
	assert.Equal(t, 0, mismatches[0].ActiveReserved)
}

func TestMemoryStore_OutboxCommitSemantics(t *testing.T) {
	s := NewMemoryStore()

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.CreateOutboxEvent(context.Background(), tx, models.EventTypeStockReserved, "SKU-001", map[string]int{"qty": 2}))
	require.NoError(t, tx.Rollback())

	// Rolled back events never surface
	assert.Empty(t, s.OutboxEvents())

	tx, err = s.BeginTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.CreateOutboxEvent(context.Background(), tx, models.EventTypeStockReserved, "SKU-001", map[string]int{"qty": 2}))
	require.NoError(t, tx.Commit())

	events := s.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeStockReserved, events[0].EventType)
	assert.Equal(t, "SKU-001", events[0].Key)
	assert.JSONEq(t, `{"qty": 2}`, events[0].Payload)
}
