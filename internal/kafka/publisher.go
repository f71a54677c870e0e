package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"reservation-service/internal/models"
	"reservation-service/internal/repository"
)

// Publisher handles publishing messages to Kafka
type Publisher struct {
	eventsWriter *kafka.Writer
	stateWriter  *kafka.Writer
}

// OutboxConfig holds the outbox publisher loop settings
type OutboxConfig struct {
	LockKey      int64
	BatchSize    int
	PollInterval time.Duration
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(brokers []string, eventsTopic, stateTopic string) *Publisher {
	// Hash balancer so messages with the same key (product ID) land on the
	// same partition and per-product ordering is preserved.
	eventsWriter := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  eventsTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,

		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	stateWriter := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  stateTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,

		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	return &Publisher{
		eventsWriter: eventsWriter,
		stateWriter:  stateWriter,
	}
}

// PublishEvent publishes a reservation lifecycle event to the events topic
func (p *Publisher) PublishEvent(ctx context.Context, event *models.StockEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.ProductID), // Partition by product for ordering
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.EventType)},
			{Key: "event-id", Value: []byte(event.EventID)},
		},
	}

	err = p.eventsWriter.WriteMessages(ctx, message)
	if err != nil {
		log.Error().Err(err).
			Str("event_type", event.EventType).
			Str("product_id", event.ProductID).
			Str("event_id", event.EventID).
			Msg("Failed to publish event")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Info().
		Str("event_type", event.EventType).
		Str("product_id", event.ProductID).
		Str("event_id", event.EventID).
		Msg("Published event")

	return nil
}

// PublishState publishes the current stock state to the state topic
func (p *Publisher) PublishState(ctx context.Context, state *models.StockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(state.ProductID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(models.EventTypeStockState)},
			{Key: "product-id", Value: []byte(state.ProductID)},
		},
	}

	err = p.stateWriter.WriteMessages(ctx, message)
	if err != nil {
		log.Error().Err(err).
			Str("product_id", state.ProductID).
			Msg("Failed to publish state")
		return fmt.Errorf("failed to publish state: %w", err)
	}

	log.Debug().
		Str("product_id", state.ProductID).
		Int("current_qty", state.CurrentQty).
		Int("reserved_qty", state.ReservedQty).
		Msg("Published state")

	return nil
}

// Close closes the Kafka writers
func (p *Publisher) Close() error {
	var errs []error

	if err := p.eventsWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close events writer: %w", err))
	}

	if err := p.stateWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close state writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing publishers: %v", errs)
	}

	return nil
}

// RunOutboxPublisher drains the outbox table into Kafka under an advisory
// lock so only one worker publishes at a time. Blocks until the context is
// cancelled.
func (p *Publisher) RunOutboxPublisher(ctx context.Context, outboxRepo *repository.OutboxRepository, cfg OutboxConfig) {
	log.Info().
		Int64("lock_key", cfg.LockKey).
		Int("batch_size", cfg.BatchSize).
		Dur("poll_interval", cfg.PollInterval).
		Msg("Starting outbox publisher")

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping outbox publisher")
			return
		case <-ticker.C:
			if err := p.processOutboxBatch(ctx, outboxRepo, cfg.LockKey, cfg.BatchSize); err != nil {
				log.Error().Err(err).Msg("Failed to process outbox batch")
			}
		}
	}
}

// processOutboxBatch processes a single batch of outbox events
func (p *Publisher) processOutboxBatch(ctx context.Context, outboxRepo *repository.OutboxRepository, lockKey int64, batchSize int) error {
	acquired, err := outboxRepo.TryAcquireOutboxLock(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		// Another worker holds the lock, skip this cycle
		log.Debug().Msg("Lock held by another worker, skipping batch")
		return nil
	}

	defer func() {
		if err := outboxRepo.ReleaseOutboxLock(ctx, lockKey); err != nil {
			log.Error().Err(err).Msg("Failed to release outbox lock")
		}
	}()

	events, err := outboxRepo.FetchOutboxBatchOrdered(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch outbox batch: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	log.Debug().Int("count", len(events)).Msg("Processing outbox batch")

	var successfulIDs []int64
	for _, event := range events {
		if err := p.publishOutboxEvent(ctx, &event); err != nil {
			log.Error().
				Err(err).
				Int64("outbox_id", event.ID).
				Str("event_type", event.EventType).
				Str("key", event.Key).
				Msg("Failed to publish outbox event")

			if incrementErr := outboxRepo.IncrementPublishAttempts(ctx, event.ID, err.Error()); incrementErr != nil {
				log.Error().Err(incrementErr).Int64("outbox_id", event.ID).Msg("Failed to increment publish attempts")
			}
			continue
		}

		successfulIDs = append(successfulIDs, event.ID)
	}

	if len(successfulIDs) > 0 {
		if err := outboxRepo.MarkOutboxPublished(ctx, successfulIDs); err != nil {
			return fmt.Errorf("failed to mark events as published: %w", err)
		}
		log.Info().
			Int("published_count", len(successfulIDs)).
			Int("total_count", len(events)).
			Msg("Outbox batch processed")
	}

	return nil
}

// publishOutboxEvent routes a single outbox row to the right topic
func (p *Publisher) publishOutboxEvent(ctx context.Context, outboxEvent *models.OutboxEvent) error {
	message := kafka.Message{
		Key:   []byte(outboxEvent.Key),
		Value: []byte(outboxEvent.Payload),
		Time:  time.Now(),
	}

	writer := p.eventsWriter
	if outboxEvent.EventType == models.EventTypeStockState {
		writer = p.stateWriter
	}

	if err := writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	return nil
}
