package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"order-service/internal/interfaces"
	"order-service/internal/models"
)

// Consumer reads payment events from the payments topic and feeds them into
// the same idempotent processor the webhook endpoint uses.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a new Kafka consumer for the payments topic
func NewConsumer(brokers []string, consumerGroup, paymentsTopic string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   paymentsTopic,
		GroupID: consumerGroup,

		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 5 * time.Second,
		StartOffset:    kafka.LastOffset,
		MaxWait:        1 * time.Second,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka payments reader error: "+msg, args...)
		}),
	})

	return &Consumer{reader: reader}
}

// ConsumePaymentEvents reads payment events until the context is cancelled.
// Offsets are committed only after successful processing; a failed event is
// left uncommitted for redelivery. Duplicate deliveries are harmless because
// the handler is idempotent on event id.
func (c *Consumer) ConsumePaymentEvents(ctx context.Context, handler interfaces.PaymentEventHandler) error {
	log.Info().Msg("Starting to consume payment events")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping payment event consumption")
			return ctx.Err()
		default:
			message, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if isShutdown(err) {
					return nil
				}
				log.Error().Err(err).Msg("Failed to fetch payment message")
				time.Sleep(time.Second)
				continue
			}

			var event models.PaymentEvent
			if err := json.Unmarshal(message.Value, &event); err != nil {
				log.Error().Err(err).
					Str("topic", message.Topic).
					Int("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("Failed to unmarshal payment event")

				// Malformed messages can never succeed; commit to skip
				if commitErr := c.reader.CommitMessages(ctx, message); commitErr != nil {
					log.Error().Err(commitErr).Msg("Failed to commit invalid message")
				}
				continue
			}

			if err := c.processWithRetry(ctx, handler, &event, 3); err != nil {
				log.Error().Err(err).
					Str("event_id", event.EventID).
					Str("order_reference", event.OrderReference).
					Msg("Failed to handle payment event after retries")

				// No commit: Kafka redelivers the message
				continue
			}

			if err := c.reader.CommitMessages(ctx, message); err != nil {
				log.Error().Err(err).
					Str("event_id", event.EventID).
					Msg("Failed to commit payment message")
			} else {
				log.Debug().
					Str("event_id", event.EventID).
					Str("order_reference", event.OrderReference).
					Msg("Successfully processed and committed payment event")
			}
		}
	}
}

// isShutdown reports whether a fetch error is context-driven shutdown rather
// than a broker fault. The reader may return the context error wrapped.
func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// processWithRetry retries transient failures with exponential backoff.
// Rejections (unknown order, bad payload) are terminal and returned as
// success so the offset advances; the idempotency record already captured
// the outcome.
func (c *Consumer) processWithRetry(ctx context.Context, handler interfaces.PaymentEventHandler, event *models.PaymentEvent, maxRetries int) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := handler.HandlePaymentEvent(ctx, event)
		if err == nil {
			return nil
		}

		if models.IsTerminal(err) {
			log.Warn().Err(err).
				Str("event_id", event.EventID).
				Msg("Non-retryable payment event, skipping")
			return nil
		}

		if attempt < maxRetries {
			backoff := time.Duration(100*(1<<attempt)) * time.Millisecond
			log.Warn().Err(err).
				Str("event_id", event.EventID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Payment event processing failed, retrying after backoff")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("payment event processing failed after %d attempts", maxRetries+1)
}

// Close closes the Kafka reader
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close payments reader: %w", err)
	}
	return nil
}
