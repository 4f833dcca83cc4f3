package email

import (
	"context"

	"github.com/rs/zerolog/log"

	"order-service/internal/models"
)

// LogSender writes outbound emails to the structured log instead of a real
// delivery provider. Deployments with an SMTP relay swap in their own
// implementation of interfaces.EmailSender.
type LogSender struct {
	fromAddress string
}

// NewLogSender creates a log-backed email sender
func NewLogSender(fromAddress string) *LogSender {
	return &LogSender{fromAddress: fromAddress}
}

// SendOrderConfirmation emits the confirmation email for a newly placed order
func (s *LogSender) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	log.Info().
		Str("from", s.fromAddress).
		Str("buyer_id", order.BuyerID).
		Str("order_id", order.ID.String()).
		Str("payment_reference", order.PaymentReference).
		Int64("total_cents", order.TotalCents).
		Msg("Sending order confirmation email")
	return nil
}

// SendStatusUpdate emits the status change email for an order
func (s *LogSender) SendStatusUpdate(ctx context.Context, order *models.Order) error {
	log.Info().
		Str("from", s.fromAddress).
		Str("buyer_id", order.BuyerID).
		Str("order_id", order.ID.String()).
		Str("status", string(order.Status)).
		Str("payment_status", string(order.PaymentStatus)).
		Msg("Sending order status email")
	return nil
}
