package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"reservation-service/internal/interfaces"
	"reservation-service/internal/models"
)

// Consumer tails the stock state topic. Read replicas use it to keep their
// cache warm without touching the database.
type Consumer struct {
	stateReader *kafka.Reader
}

// NewConsumer creates a new Kafka state consumer
func NewConsumer(brokers []string, consumerGroup, stateTopic string) *Consumer {
	stateReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   stateTopic,
		GroupID: consumerGroup + "-state",

		MinBytes:       1,
		MaxBytes:       10e6, // 10MB max message size
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
		MaxWait:        1 * time.Second,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka state reader error: "+msg, args...)
		}),
	})

	return &Consumer{
		stateReader: stateReader,
	}
}

// ConsumeState processes state updates with the provided handler until the
// context is cancelled. State messages are snapshots keyed by product, so a
// failed apply is safe to skip: the next snapshot for that product supersedes
// it.
func (c *Consumer) ConsumeState(ctx context.Context, handler interfaces.StateHandler) error {
	log.Info().Msg("Starting to consume stock state updates")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping state consumption")
			return ctx.Err()
		default:
			message, err := c.stateReader.FetchMessage(ctx)
			if err != nil {
				if err == context.Canceled {
					return nil
				}
				log.Error().Err(err).Msg("Failed to fetch state message")
				time.Sleep(time.Second) // Backoff on error
				continue
			}

			var state models.StockState
			if err := json.Unmarshal(message.Value, &state); err != nil {
				log.Error().Err(err).
					Str("topic", message.Topic).
					Int("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("Failed to unmarshal state")

				// Commit the message to skip it
				if commitErr := c.stateReader.CommitMessages(ctx, message); commitErr != nil {
					log.Error().Err(commitErr).Msg("Failed to commit invalid state message")
				}
				continue
			}

			if err := handler.HandleState(ctx, &state); err != nil {
				log.Error().Err(err).
					Str("product_id", state.ProductID).
					Msg("Failed to handle state update")
			}

			if err := c.stateReader.CommitMessages(ctx, message); err != nil {
				log.Error().Err(err).Msg("Failed to commit state message")
			} else {
				log.Debug().
					Str("product_id", state.ProductID).
					Msg("Processed state update")
			}
		}
	}
}

// Close closes the Kafka reader
func (c *Consumer) Close() error {
	if err := c.stateReader.Close(); err != nil {
		return fmt.Errorf("failed to close state reader: %w", err)
	}
	return nil
}
