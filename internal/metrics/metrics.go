package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Operation results recorded on the write path
const (
	ResultOK                = "ok"
	ResultInsufficientStock = "insufficient_stock"
	ResultIdempotentReplay  = "idempotent_replay"
	ResultInvalidState      = "invalid_state"
	ResultBusy              = "busy"
	ResultNotFound          = "not_found"
	ResultError             = "error"
)

var (
	// Operations counts manager write operations by operation and result
	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_operations_total",
			Help: "Reservation manager operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// SweptReservations counts reservations expired by the sweeper
	SweptReservations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reservation_sweeper_expired_total",
			Help: "Reservations transitioned to EXPIRED by the sweeper.",
		},
	)

	// SweepDuration observes how long a full sweep pass takes
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reservation_sweep_duration_seconds",
			Help:    "Duration of expiration sweep passes.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// InvariantViolations counts detected ledger corruption. Any increase
	// should trip an operational alert.
	InvariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reservation_invariant_violations_total",
			Help: "Ledger invariant violations detected by writes or reconciliation.",
		},
	)
)

// Register registers all collectors on the given registry
func Register(reg prometheus.Registerer) {
	reg.MustRegister(Operations, SweptReservations, SweepDuration, InvariantViolations)
}
