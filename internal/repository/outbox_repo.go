package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"order-service/internal/models"
)

// OutboxRepository handles the transactional outbox for order events with
// advisory locking between publisher replicas
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Insert writes an event into the outbox, joining the caller's transaction so
// the event commits atomically with the business write that produced it.
func (r *OutboxRepository) Insert(ctx context.Context, tx *sqlx.Tx, eventType, key string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `INSERT INTO outbox (event_type, key, payload, created_at)
			  VALUES ($1, $2, $3, NOW())`

	_, err = execer(tx, r.db).ExecContext(ctx, query, eventType, key, string(payloadJSON))
	if err != nil {
		log.Error().Err(err).
			Str("event_type", eventType).
			Str("key", key).
			Msg("Failed to insert outbox event")
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	log.Debug().
		Str("event_type", eventType).
		Str("key", key).
		Msg("Inserted outbox event")

	return nil
}

// TryAcquirePublishLock attempts to take the PostgreSQL advisory lock that
// serializes publisher replicas. Returns false if another replica holds it.
func (r *OutboxRepository) TryAcquirePublishLock(ctx context.Context, lockKey int64) (bool, error) {
	var acquired bool
	query := "SELECT pg_try_advisory_lock($1)"

	err := r.db.QueryRowContext(ctx, query, lockKey).Scan(&acquired)
	if err != nil && err != sql.ErrNoRows {
		log.Error().Err(err).Int64("lock_key", lockKey).Msg("Failed to acquire advisory lock")
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}

	return acquired, nil
}

// ReleasePublishLock releases the advisory lock
func (r *OutboxRepository) ReleasePublishLock(ctx context.Context, lockKey int64) error {
	var released bool
	query := "SELECT pg_advisory_unlock($1)"

	if err := r.db.QueryRowContext(ctx, query, lockKey).Scan(&released); err != nil {
		log.Error().Err(err).Int64("lock_key", lockKey).Msg("Failed to release advisory lock")
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}

	if !released {
		log.Warn().Int64("lock_key", lockKey).Msg("Advisory lock was not held when trying to release")
	}
	return nil
}

// FetchBatchOrdered fetches unpublished events in insertion order.
// FOR UPDATE SKIP LOCKED prevents conflicts between workers.
func (r *OutboxRepository) FetchBatchOrdered(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	query := `
		SELECT id, event_type, key, payload, created_at, published, publish_attempts, last_error
		FROM outbox
		WHERE published = FALSE
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1`

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

// MarkPublished marks events as successfully published
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE outbox SET published = TRUE, published_at = NOW() WHERE id = ANY($1)`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		log.Error().Err(err).Interface("ids", ids).Msg("Failed to mark outbox events as published")
		return fmt.Errorf("failed to mark outbox events as published: %w", err)
	}

	log.Debug().Int("count", len(ids)).Msg("Marked outbox events as published")
	return nil
}

// IncrementPublishAttempts increments the attempt counter and records the error
func (r *OutboxRepository) IncrementPublishAttempts(ctx context.Context, id int64, lastError string) error {
	query := `UPDATE outbox
			  SET publish_attempts = publish_attempts + 1, last_error = $2
			  WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, lastError); err != nil {
		log.Error().Err(err).Int64("id", id).Msg("Failed to increment publish attempts")
		return fmt.Errorf("failed to increment publish attempts: %w", err)
	}
	return nil
}
