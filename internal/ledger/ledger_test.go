package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservation-service/internal/models"
)

func product(current, reserved int) *models.Product {
	return &models.Product{
		ProductID:   "SKU-001",
		CurrentQty:  current,
		ReservedQty: reserved,
		MinQty:      5,
	}
}

func TestCheckAvailability(t *testing.T) {
	p := product(10, 4)

	assert.True(t, CheckAvailability(p, 6))
	assert.True(t, CheckAvailability(p, 1))
	assert.False(t, CheckAvailability(p, 7))
}

func TestIncrementReserved(t *testing.T) {
	p := product(10, 4)

	require.NoError(t, IncrementReserved(p, 6))
	assert.Equal(t, 10, p.ReservedQty)
	assert.Equal(t, 0, p.AvailableQty())
}

func TestIncrementReserved_AboveCurrentIsViolation(t *testing.T) {
	p := product(10, 4)

	err := IncrementReserved(p, 7)
	require.Error(t, err)
	assert.True(t, models.IsInvariantViolation(err))
	// Registro sin cambios
	assert.Equal(t, 4, p.ReservedQty)
}

func TestIncrementReserved_NonPositiveQty(t *testing.T) {
	p := product(10, 0)

	assert.True(t, models.IsValidationError(IncrementReserved(p, 0)))
	assert.True(t, models.IsValidationError(IncrementReserved(p, -3)))
}

func TestDecrementReserved(t *testing.T) {
	p := product(10, 4)

	require.NoError(t, DecrementReserved(p, 4))
	assert.Equal(t, 0, p.ReservedQty)
	assert.Equal(t, 10, p.AvailableQty())
}

func TestDecrementReserved_BelowZeroIsViolation(t *testing.T) {
	p := product(10, 4)

	err := DecrementReserved(p, 5)
	require.Error(t, err)
	assert.True(t, models.IsInvariantViolation(err))
	assert.Equal(t, 4, p.ReservedQty)
}

func TestConsumeReserved(t *testing.T) {
	p := product(10, 4)

	require.NoError(t, ConsumeReserved(p, 3))
	assert.Equal(t, 7, p.CurrentQty)
	assert.Equal(t, 1, p.ReservedQty)
	// Confirmar no cambia la disponibilidad
	assert.Equal(t, 6, p.AvailableQty())
}

func TestConsumeReserved_MoreThanReserved(t *testing.T) {
	p := product(10, 2)

	err := ConsumeReserved(p, 3)
	require.Error(t, err)
	assert.True(t, models.IsInvariantViolation(err))
	assert.Equal(t, 10, p.CurrentQty)
	assert.Equal(t, 2, p.ReservedQty)
}

func TestAdjustCurrent(t *testing.T) {
	p := product(10, 4)

	require.NoError(t, AdjustCurrent(p, 15))
	assert.Equal(t, 25, p.CurrentQty)

	require.NoError(t, AdjustCurrent(p, -21))
	assert.Equal(t, 4, p.CurrentQty)
}

func TestAdjustCurrent_BelowReservedIsViolation(t *testing.T) {
	p := product(10, 4)

	err := AdjustCurrent(p, -7)
	require.Error(t, err)
	assert.True(t, models.IsInvariantViolation(err))
	assert.Equal(t, 10, p.CurrentQty)
}

func TestAdjustCurrent_BelowZeroIsViolation(t *testing.T) {
	p := product(3, 0)

	err := AdjustCurrent(p, -4)
	require.Error(t, err)
	assert.True(t, models.IsInvariantViolation(err))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(product(10, 0)))
	assert.NoError(t, Validate(product(10, 10)))
	assert.Error(t, Validate(product(10, 11)))
	assert.Error(t, Validate(&models.Product{ProductID: "SKU-001", CurrentQty: 10, ReservedQty: -1}))
}

func TestIsLowStock(t *testing.T) {
	p := product(5, 0) // min_qty = 5

	assert.True(t, IsLowStock(p, nil))

	p.CurrentQty = 6
	assert.False(t, IsLowStock(p, nil))

	threshold := 10
	assert.True(t, IsLowStock(p, &threshold))
}

func TestIsOutOfStock(t *testing.T) {
	assert.True(t, IsOutOfStock(product(0, 0)))
	assert.False(t, IsOutOfStock(product(1, 0)))
}
