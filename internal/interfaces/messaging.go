package interfaces

import (
	"context"

	"order-service/internal/models"
)

// MessagePublisher defines the contract for publishing order events
type MessagePublisher interface {
	PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
	Close() error
}

// PaymentEventHandler processes a single payment event from any transport
type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, event *models.PaymentEvent) (*models.WebhookAckResponse, error)
}

// EmailSender defines the contract for outbound order emails
type EmailSender interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order) error
	SendStatusUpdate(ctx context.Context, order *models.Order) error
}
