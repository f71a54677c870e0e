// Package sweeper reclaims reservations whose TTL elapsed without an explicit
// confirm or release. Missed ticks are harmless: the next pass picks up
// whatever is overdue, so downtime only delays reclamation.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"reservation-service/internal/interfaces"
	"reservation-service/internal/metrics"
	"reservation-service/internal/models"
)

// Config holds the sweeper cadence knobs
type Config struct {
	SweepInterval     time.Duration // how often to scan for expired holds
	BatchSize         int           // max reservations reclaimed per pass
	ReconcileInterval time.Duration // how often to audit ledger vs reservations, 0 disables
}

// Sweeper periodically expires overdue reservations and audits the ledger
type Sweeper struct {
	store   interfaces.Store
	manager interfaces.ReservationManager
	config  Config
	now     func() time.Time
}

// NewSweeper creates a new expiration sweeper
func NewSweeper(store interfaces.Store, manager interfaces.ReservationManager, config Config) *Sweeper {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Sweeper{
		store:   store,
		manager: manager,
		config:  config,
		now:     time.Now,
	}
}

// Run blocks sweeping until the context is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().
		Dur("sweep_interval", s.config.SweepInterval).
		Int("batch_size", s.config.BatchSize).
		Dur("reconcile_interval", s.config.ReconcileInterval).
		Msg("Starting expiration sweeper")

	sweepTicker := time.NewTicker(s.config.SweepInterval)
	defer sweepTicker.Stop()

	var reconcileCh <-chan time.Time
	if s.config.ReconcileInterval > 0 {
		reconcileTicker := time.NewTicker(s.config.ReconcileInterval)
		defer reconcileTicker.Stop()
		reconcileCh = reconcileTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping expiration sweeper")
			return
		case <-sweepTicker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Sweep pass failed")
			}
		case <-reconcileCh:
			s.reconcile(ctx)
		}
	}
}

// SweepOnce expires every overdue ACTIVE reservation up to the batch size and
// returns how many it reclaimed. Reservations that turned terminal between the
// scan and the expire call count as already handled, not failures.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := s.now()

	expired, err := s.store.FindExpired(ctx, start, s.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	swept := 0
	for _, r := range expired {
		resp, err := s.manager.Expire(ctx, r.ReservationID)
		if err != nil {
			// Busy products are retried on the next pass rather than
			// blocking the rest of the batch.
			log.Warn().
				Err(err).
				Str("reservation_id", r.ReservationID.String()).
				Str("product_id", r.ProductID).
				Msg("Failed to expire reservation, will retry next pass")
			continue
		}
		if resp.Status == models.ReservationStatusExpired {
			swept++
		}
	}

	metrics.SweptReservations.Add(float64(swept))
	metrics.SweepDuration.Observe(s.now().Sub(start).Seconds())

	log.Info().
		Int("found", len(expired)).
		Int("swept", swept).
		Msg("Sweep pass completed")

	return swept, nil
}

// reconcile compares each product's reserved counter against the sum of its
// ACTIVE reservations. A mismatch means an atomicity bug somewhere in the
// write path and is reported loudly, never silently repaired.
func (s *Sweeper) reconcile(ctx context.Context) {
	mismatches, err := s.store.Reconcile(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Reconciliation query failed")
		return
	}

	if len(mismatches) == 0 {
		log.Debug().Msg("Reconciliation clean")
		return
	}

	for _, m := range mismatches {
		metrics.InvariantViolations.Inc()
		log.Error().
			Str("product_id", m.ProductID).
			Int("ledger_reserved", m.LedgerReserved).
			Int("active_reserved", m.ActiveReserved).
			Msg("Reconciliation mismatch between ledger and active reservations")
	}
}
