package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservationStatus_IsTerminal(t *testing.T) {
	assert.False(t, ReservationStatusActive.IsTerminal())
	assert.True(t, ReservationStatusConfirmed.IsTerminal())
	assert.True(t, ReservationStatusReleased.IsTerminal())
	assert.True(t, ReservationStatusExpired.IsTerminal())
}

func TestReservationStatus_CanTransitionTo(t *testing.T) {
	// Transiciones válidas: ACTIVE hacia cualquier estado terminal
	assert.True(t, ReservationStatusActive.CanTransitionTo(ReservationStatusConfirmed))
	assert.True(t, ReservationStatusActive.CanTransitionTo(ReservationStatusReleased))
	assert.True(t, ReservationStatusActive.CanTransitionTo(ReservationStatusExpired))

	// Los estados terminales nunca transicionan
	assert.False(t, ReservationStatusConfirmed.CanTransitionTo(ReservationStatusReleased))
	assert.False(t, ReservationStatusReleased.CanTransitionTo(ReservationStatusActive))
	assert.False(t, ReservationStatusExpired.CanTransitionTo(ReservationStatusConfirmed))

	// ACTIVE no es un destino
	assert.False(t, ReservationStatusActive.CanTransitionTo(ReservationStatusActive))
}

func TestProduct_AvailableQty(t *testing.T) {
	p := &Product{CurrentQty: 10, ReservedQty: 4}
	assert.Equal(t, 6, p.AvailableQty())

	p.ReservedQty = 10
	assert.Equal(t, 0, p.AvailableQty())
}

func TestErrorTypeGuards(t *testing.T) {
	assert.True(t, IsValidationError(NewValidationError("qty", "must be positive", 0)))
	assert.True(t, IsBusinessError(NewBusinessError(ErrorCodeInsufficientStock, "no stock", nil)))
	assert.True(t, IsNotFoundError(NewNotFoundError("product", "SKU-001")))
	assert.True(t, IsBusyError(NewBusyError("SKU-001")))
	assert.True(t, IsInvariantViolation(NewInvariantViolation("SKU-001", "reserved exceeds current")))

	assert.False(t, IsBusinessError(NewValidationError("qty", "must be positive", 0)))
	assert.False(t, IsInvariantViolation(NewBusinessError(ErrorCodeInvalidState, "terminal", nil)))
}

func TestBusinessErrorCode(t *testing.T) {
	assert.Equal(t, ErrorCodeInsufficientStock, BusinessErrorCode(NewBusinessError(ErrorCodeInsufficientStock, "no stock", nil)))
	assert.Equal(t, ErrorCode(""), BusinessErrorCode(NewValidationError("qty", "bad", 0)))
}

func TestProblemDetails(t *testing.T) {
	problem := NewValidationProblem("qty", "Quantity must be positive", ErrorCodeInvalidField)
	assert.Equal(t, 400, problem.Status)
	assert.Equal(t, ProblemTypeValidationError, problem.Type)
	assert.Equal(t, "qty", problem.Field)

	problem = NewBusinessLogicProblem(409, "Insufficient Stock", "requested 5, available 2", ErrorCodeInsufficientStock)
	assert.Equal(t, 409, problem.Status)
	assert.Equal(t, string(ErrorCodeInsufficientStock), problem.Code)

	problem = NewNotFoundProblem("product")
	assert.Equal(t, 404, problem.Status)

	problem = NewBusyProblem("product 'SKU-001' is busy, retry later")
	assert.Equal(t, 503, problem.Status)
	assert.Equal(t, string(ErrorCodeProductBusy), problem.Code)
}
