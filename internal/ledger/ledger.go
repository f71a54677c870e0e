// Package ledger holds the pure quantity arithmetic for a product's stock
// record. Functions here mutate the in-memory record only; callers are
// responsible for persisting the result inside their own transaction.
package ledger

import (
	"fmt"

	"reservation-service/internal/models"
)

// CheckAvailability reports whether the product can cover qty more reserved units.
func CheckAvailability(p *models.Product, qty int) bool {
	return p.AvailableQty() >= qty
}

// IncrementReserved adds qty to the reserved quantity. Pushing reserved above
// current is an invariant violation and leaves the record untouched.
func IncrementReserved(p *models.Product, qty int) error {
	if qty <= 0 {
		return models.NewValidationError("qty", "quantity must be positive", qty)
	}
	if p.ReservedQty+qty > p.CurrentQty {
		return models.NewInvariantViolation(p.ProductID,
			fmt.Sprintf("reserved %d + %d would exceed current %d", p.ReservedQty, qty, p.CurrentQty))
	}
	p.ReservedQty += qty
	return nil
}

// DecrementReserved removes qty from the reserved quantity. Pushing reserved
// below zero is an invariant violation and leaves the record untouched.
func DecrementReserved(p *models.Product, qty int) error {
	if qty <= 0 {
		return models.NewValidationError("qty", "quantity must be positive", qty)
	}
	if p.ReservedQty-qty < 0 {
		return models.NewInvariantViolation(p.ProductID,
			fmt.Sprintf("reserved %d - %d would drop below zero", p.ReservedQty, qty))
	}
	p.ReservedQty -= qty
	return nil
}

// ConsumeReserved converts a hold into permanent consumption: both current
// and reserved drop by qty, so available stock is unchanged.
func ConsumeReserved(p *models.Product, qty int) error {
	if qty <= 0 {
		return models.NewValidationError("qty", "quantity must be positive", qty)
	}
	if p.ReservedQty-qty < 0 {
		return models.NewInvariantViolation(p.ProductID,
			fmt.Sprintf("reserved %d - %d would drop below zero", p.ReservedQty, qty))
	}
	if p.CurrentQty-qty < 0 {
		return models.NewInvariantViolation(p.ProductID,
			fmt.Sprintf("current %d - %d would drop below zero", p.CurrentQty, qty))
	}
	p.CurrentQty -= qty
	p.ReservedQty -= qty
	return nil
}

// AdjustCurrent applies a physical stock correction (receiving, manual fix).
// Current stock may never drop below the reserved quantity or below zero.
func AdjustCurrent(p *models.Product, delta int) error {
	next := p.CurrentQty + delta
	if next < 0 {
		return models.NewInvariantViolation(p.ProductID,
			fmt.Sprintf("current %d + %d would drop below zero", p.CurrentQty, delta))
	}
	if next < p.ReservedQty {
		return models.NewInvariantViolation(p.ProductID,
			fmt.Sprintf("current %d + %d would drop below reserved %d", p.CurrentQty, delta, p.ReservedQty))
	}
	p.CurrentQty = next
	return nil
}

// Validate checks the record's standing invariant: 0 <= reserved <= current.
func Validate(p *models.Product) error {
	if p.ReservedQty < 0 {
		return models.NewInvariantViolation(p.ProductID,
			fmt.Sprintf("reserved %d is negative", p.ReservedQty))
	}
	if p.ReservedQty > p.CurrentQty {
		return models.NewInvariantViolation(p.ProductID,
			fmt.Sprintf("reserved %d exceeds current %d", p.ReservedQty, p.CurrentQty))
	}
	return nil
}

// IsLowStock reports whether the product sits at or below its low-stock
// threshold. A nil threshold falls back to the product's own minimum.
func IsLowStock(p *models.Product, threshold *int) bool {
	limit := p.MinQty
	if threshold != nil {
		limit = *threshold
	}
	return p.CurrentQty <= limit
}

// IsOutOfStock reports whether the product has no physical stock left.
func IsOutOfStock(p *models.Product) bool {
	return p.CurrentQty == 0
}
