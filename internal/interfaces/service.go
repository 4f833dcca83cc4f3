package interfaces

import (
	"context"

	"github.com/google/uuid"

	"order-service/internal/models"
)

// OrderService defines the contract for order creation and lookup
type OrderService interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// EventService defines the contract for idempotent event processing
type EventService interface {
	HandlePaymentEvent(ctx context.Context, event *models.PaymentEvent) (*models.WebhookAckResponse, error)
	SweepStaleOrders(ctx context.Context) error
}

// DeadLetterService defines the contract for dead-letter inspection and replay
type DeadLetterService interface {
	List(ctx context.Context) ([]models.DeadLetter, error)
	Get(ctx context.Context, taskID uuid.UUID) (*models.DeadLetter, error)
	Retry(ctx context.Context, taskID uuid.UUID) error
	RetryAll(ctx context.Context) (int, error)
}
