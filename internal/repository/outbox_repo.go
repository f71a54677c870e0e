package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"reservation-service/internal/models"
)

// OutboxRepository handles outbox operations with advisory locking. Stock
// events are never published inline; the manager appends rows here in the
// same transaction as the ledger mutation and a worker drains them.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// TryAcquireOutboxLock attempts to acquire a PostgreSQL advisory lock.
// Returns true if lock was acquired, false if another worker has it.
func (r *OutboxRepository) TryAcquireOutboxLock(ctx context.Context, lockKey int64) (bool, error) {
	var acquired bool
	query := "SELECT pg_try_advisory_lock($1)"

	err := r.db.QueryRowContext(ctx, query, lockKey).Scan(&acquired)
	if err != nil && err != sql.ErrNoRows {
		log.Error().Err(err).Int64("lock_key", lockKey).Msg("Failed to acquire advisory lock")
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}

	return acquired, nil
}

// ReleaseOutboxLock releases the PostgreSQL advisory lock
func (r *OutboxRepository) ReleaseOutboxLock(ctx context.Context, lockKey int64) error {
	query := "SELECT pg_advisory_unlock($1)"

	var released bool
	err := r.db.QueryRowContext(ctx, query, lockKey).Scan(&released)
	if err != nil {
		log.Error().Err(err).Int64("lock_key", lockKey).Msg("Failed to release advisory lock")
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}

	if !released {
		log.Warn().Int64("lock_key", lockKey).Msg("Advisory lock was not held when trying to release")
	}

	return nil
}

// FetchOutboxBatchOrdered fetches unpublished events in insertion order.
// Uses FOR UPDATE SKIP LOCKED to prevent conflicts between workers.
func (r *OutboxRepository) FetchOutboxBatchOrdered(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	query := `
		SELECT id, event_type, key, payload, created_at, published, publish_attempts, last_error
		FROM outbox
		WHERE published = false
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}()

	var events []models.OutboxEvent
	if err := tx.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query outbox events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return events, nil
}

// MarkOutboxPublished marks events as successfully published
func (r *OutboxRepository) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE outbox
		SET published = true,
		    published_at = NOW()
		WHERE id = ANY($1)
	`

	_, err := r.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		log.Error().Err(err).Interface("ids", ids).Msg("Failed to mark outbox events as published")
		return fmt.Errorf("failed to mark outbox events as published: %w", err)
	}

	return nil
}

// IncrementPublishAttempts increments the publish attempts counter and records the error
func (r *OutboxRepository) IncrementPublishAttempts(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE outbox
		SET publish_attempts = publish_attempts + 1,
		    last_error = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, lastError)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("Failed to increment publish attempts")
		return fmt.Errorf("failed to increment publish attempts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rowsAffected == 0 {
		log.Warn().Int64("id", id).Msg("No outbox event found to increment attempts")
	}

	return nil
}

// InsertOutboxEvent inserts a new event into the outbox
func (r *OutboxRepository) InsertOutboxEvent(ctx context.Context, tx *sqlx.Tx, eventType, key string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO outbox (event_type, key, payload, created_at)
		VALUES ($1, $2, $3, NOW())
	`

	var executor interface {
		ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	}

	if tx != nil {
		executor = tx
	} else {
		executor = r.db
	}

	_, err = executor.ExecContext(ctx, query, eventType, key, string(payloadJSON))
	if err != nil {
		log.Error().Err(err).
			Str("event_type", eventType).
			Str("key", key).
			Msg("Failed to insert outbox event")
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}
