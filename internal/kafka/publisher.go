package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"order-service/internal/config"
	"order-service/internal/interfaces"
	"order-service/internal/models"
)

// Publisher handles publishing order events to Kafka
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a new Kafka publisher for the order events topic.
// The hash balancer routes messages with the same key (order id) to the
// same partition so per-order ordering is preserved.
func NewPublisher(brokers []string, eventsTopic string) *Publisher {
	writer := &kafka.Writer{
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

	return &Publisher{writer: writer}
}

// PublishOutboxEvent publishes a single outbox row to Kafka. The payload was
// serialized at insert time; it is forwarded as-is.
func (p *Publisher) PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	message := kafka.Message{
		Key:   []byte(event.Key),
		Value: []byte(event.Payload),
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		log.Error().Err(err).
			Str("event_type", event.EventType).
			Str("key", event.Key).
			Msg("Failed to publish event")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka writer
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close events writer: %w", err)
	}
	return nil
}

// RunOutboxPublisher runs the outbox publisher loop. A PostgreSQL advisory
// lock serializes replicas so only one instance drains the outbox at a time.
func (p *Publisher) RunOutboxPublisher(ctx context.Context, outboxRepo interfaces.OutboxRepository, cfg *config.Config) {
	log.Info().
		Int64("lock_key", cfg.OutboxAdvisoryLock).
		Int("batch_size", cfg.OutboxBatchSize).
		Dur("poll_interval", cfg.OutboxPollInterval).
		Msg("Starting outbox publisher")

	ticker := time.NewTicker(cfg.OutboxPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping outbox publisher")
			return
		case <-ticker.C:
			if err := p.processOutboxBatch(ctx, outboxRepo, cfg.OutboxAdvisoryLock, cfg.OutboxBatchSize); err != nil {
				log.Error().Err(err).Msg("Failed to process outbox batch")
			}
		}
	}
}

// processOutboxBatch drains one batch of unpublished events
func (p *Publisher) processOutboxBatch(ctx context.Context, outboxRepo interfaces.OutboxRepository, lockKey int64, batchSize int) error {
	acquired, err := outboxRepo.TryAcquirePublishLock(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		// Another replica holds the lock, skip this cycle
		log.Debug().Msg("Publish lock held by another replica, skipping batch")
		return nil
	}

	defer func() {
		if err := outboxRepo.ReleasePublishLock(ctx, lockKey); err != nil {
			log.Error().Err(err).Msg("Failed to release publish lock")
		}
	}()

	events, err := outboxRepo.FetchBatchOrdered(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch outbox batch: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	var publishedIDs []int64
	for i := range events {
		event := &events[i]
		if err := p.PublishOutboxEvent(ctx, event); err != nil {
			if incErr := outboxRepo.IncrementPublishAttempts(ctx, event.ID, err.Error()); incErr != nil {
				log.Error().Err(incErr).Int64("outbox_id", event.ID).Msg("Failed to increment publish attempts")
			}
			continue
		}
		publishedIDs = append(publishedIDs, event.ID)
	}

	if len(publishedIDs) > 0 {
		if err := outboxRepo.MarkPublished(ctx, publishedIDs); err != nil {
			return fmt.Errorf("failed to mark events as published: %w", err)
		}
		log.Info().
			Int("published_count", len(publishedIDs)).
			Int("total_count", len(events)).
			Msg("Outbox batch processed")
	}

	return nil
}
