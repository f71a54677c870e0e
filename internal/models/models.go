package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus represents the state of a reservation
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// IsTerminal reports whether the status is final. Terminal records are kept
// for audit and never transition again.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationStatusConfirmed, ReservationStatusReleased, ReservationStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether a transition from s to target is legal.
// The only legal transitions are ACTIVE -> {CONFIRMED, RELEASED, EXPIRED}.
func (s ReservationStatus) CanTransitionTo(target ReservationStatus) bool {
	return s == ReservationStatusActive && target.IsTerminal()
}

// Event types for Kafka messages
const (
	EventTypeStockReserved  = "stock_reserved"
	EventTypeStockReleased  = "stock_released"
	EventTypeStockConfirmed = "stock_confirmed"
	EventTypeStockExpired   = "stock_expired"
	EventTypeStockAdjusted  = "stock_adjusted"
	EventTypeStockState     = "stock_state"
)

// Domain Models

// Product represents the product_stock table structure. AvailableQty is
// derived, never stored: available = current - reserved.
type Product struct {
	ProductID   string    `db:"product_id" json:"product_id"`
	CurrentQty  int       `db:"current_qty" json:"current_qty"`
	ReservedQty int       `db:"reserved_qty" json:"reserved_qty"`
	MinQty      int       `db:"min_qty" json:"min_qty"`
	MaxQty      int       `db:"max_qty" json:"max_qty"`
	Version     int64     `db:"version" json:"version"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AvailableQty returns the units not held by active reservations.
func (p *Product) AvailableQty() int {
	return p.CurrentQty - p.ReservedQty
}

// Reservation represents the reservation table structure. A reservation holds
// only the product and order ids, never embedded copies of those records.
type Reservation struct {
	ReservationID uuid.UUID         `db:"reservation_id" json:"reservation_id"`
	OrderID       string            `db:"order_id" json:"order_id"`
	CustomerID    string            `db:"customer_id" json:"customer_id,omitempty"`
	ProductID     string            `db:"product_id" json:"product_id"`
	Qty           int               `db:"qty" json:"qty"`
	Status        ReservationStatus `db:"status" json:"status"`
	Reason        string            `db:"reason" json:"reason,omitempty"`
	ExpiresAt     time.Time         `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// OutboxEvent represents the outbox pattern table for reliable event publishing
type OutboxEvent struct {
	ID              int64     `db:"id" json:"id"`
	EventType       string    `db:"event_type" json:"event_type"`
	Key             string    `db:"key" json:"key"`
	Payload         string    `db:"payload" json:"payload"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	Published       bool      `db:"published" json:"published"`
	PublishAttempts int       `db:"publish_attempts" json:"publish_attempts"`
	LastError       *string   `db:"last_error" json:"last_error,omitempty"`
}

// StockEvent represents reservation lifecycle events published to Kafka
type StockEvent struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	ProductID     string            `json:"product_id"`
	OrderID       string            `json:"order_id,omitempty"`
	Qty           int               `json:"qty"`
	ReservationID *uuid.UUID        `json:"reservation_id,omitempty"`
	Status        ReservationStatus `json:"status,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// StockState represents the current ledger state published to the state topic
type StockState struct {
	ProductID   string    `json:"product_id"`
	CurrentQty  int       `json:"current_qty"`
	ReservedQty int       `json:"reserved_qty"`
	MinQty      int       `json:"min_qty"`
	MaxQty      int       `json:"max_qty"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReconciliationMismatch reports a product whose reserved quantity diverged
// from the sum of its ACTIVE reservations.
type ReconciliationMismatch struct {
	ProductID      string `db:"product_id" json:"product_id"`
	LedgerReserved int    `db:"ledger_reserved" json:"ledger_reserved"`
	ActiveReserved int    `db:"active_reserved" json:"active_reserved"`
}

// API Request Models

// RegisterProductRequest registers a product with its initial stock record
type RegisterProductRequest struct {
	ProductID  string `json:"product_id" binding:"required" validate:"required"`
	CurrentQty int    `json:"current_qty" binding:"min=0" validate:"min=0"`
	MinQty     int    `json:"min_qty" binding:"min=0" validate:"min=0"`
	MaxQty     int    `json:"max_qty" binding:"min=0" validate:"min=0"`
}

// ReserveRequest represents a request to reserve stock for an order
type ReserveRequest struct {
	Qty        int    `json:"qty" binding:"required,min=1" validate:"required,min=1"`
	OrderID    string `json:"order_id" binding:"required" validate:"required"`
	CustomerID string `json:"customer_id"`
	TTLSeconds int    `json:"ttl_seconds" binding:"min=0" validate:"min=0"`
}

// ReleaseRequest represents a request to release a reservation
type ReleaseRequest struct {
	Reason string `json:"reason"`
}

// AdjustStockRequest represents a physical stock correction
type AdjustStockRequest struct {
	Delta  int    `json:"delta" binding:"required" validate:"required"`
	Reason string `json:"reason" binding:"required" validate:"required"`
}

// BulkAvailabilityRequest asks for availability of several products at once
type BulkAvailabilityRequest struct {
	ProductIDs []string `json:"product_ids" binding:"required,min=1" validate:"required,min=1"`
}

// API Response Models

// ReserveResponse represents the response after creating a reservation
type ReserveResponse struct {
	ReservationID uuid.UUID         `json:"reservation_id"`
	ProductID     string            `json:"product_id"`
	OrderID       string            `json:"order_id"`
	Qty           int               `json:"qty"`
	Status        ReservationStatus `json:"status"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// ReleaseResponse reports the status of a reservation after a release,
// confirm or expire call. Idempotent replays return the terminal status
// the record already carries.
type ReleaseResponse struct {
	ReservationID uuid.UUID         `json:"reservation_id"`
	Status        ReservationStatus `json:"status"`
}

// AvailabilityResponse represents the response for a stock availability check
type AvailabilityResponse struct {
	ProductID    string    `json:"product_id"`
	Available    bool      `json:"available"`
	AvailableQty int       `json:"available_qty"`
	CurrentQty   int       `json:"current_qty"`
	ReservedQty  int       `json:"reserved_qty"`
	CacheHit     bool      `json:"cache_hit"`
	LastUpdated  time.Time `json:"last_updated"`
}
