package interfaces

import (
	"context"

	"reservation-service/internal/models"
)

// MessagePublisher defines the contract for publishing stock events
type MessagePublisher interface {
	PublishEvent(ctx context.Context, event *models.StockEvent) error
	PublishState(ctx context.Context, state *models.StockState) error
	Close() error
}

// StateHandler consumes stock state snapshots from the state topic
type StateHandler interface {
	HandleState(ctx context.Context, state *models.StockState) error
}

// MessageConsumer defines the contract for consuming the state topic
type MessageConsumer interface {
	ConsumeState(ctx context.Context, handler StateHandler) error
	Close() error
}
