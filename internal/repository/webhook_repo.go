package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"order-service/internal/models"
)

// WebhookEventRepository is the idempotency store: a durable record of
// event id -> outcome used to detect and short-circuit duplicate processing.
// Records are append/update-only and never deleted by normal operation.
type WebhookEventRepository struct {
	db *sqlx.DB
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// CheckAndReserve atomically test-and-marks the event id as in flight. The
// insert-if-absent guarantees two concurrent deliveries of the same event id
// cannot both proceed: the second caller gets fresh=false with the existing
// record and must not execute side effects.
//
// A record left in a failed state is re-armed to in flight so a legitimate
// retry delivery is reattempted; a succeeded outcome is never re-applied.
func (r *WebhookEventRepository) CheckAndReserve(ctx context.Context, eventID, eventType, payload string) (*models.WebhookEvent, bool, error) {
	insert := `INSERT INTO webhook_events (event_id, event_type, status, payload, first_seen_at)
			   VALUES ($1, $2, $3, $4, NOW())
			   ON CONFLICT (event_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, insert, eventID, eventType, models.WebhookStatusInFlight, payload)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("Failed to reserve webhook event")
		return nil, false, &models.BackendUnavailableError{Component: "database", Cause: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected > 0 {
		log.Debug().Str("event_id", eventID).Msg("Reserved fresh webhook event")
		return nil, true, nil
	}

	existing, err := r.Get(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Insert conflicted but the row is gone; treat as infrastructure fault
		return nil, false, &models.BackendUnavailableError{Component: "database",
			Cause: fmt.Errorf("webhook event %s vanished after conflict", eventID)}
	}

	if existing.Status == models.WebhookStatusFailed {
		rearm := `UPDATE webhook_events
				  SET status = $2, processed_at = NULL
				  WHERE event_id = $1 AND status = $3`

		result, err := r.db.ExecContext(ctx, rearm, eventID, models.WebhookStatusInFlight, models.WebhookStatusFailed)
		if err != nil {
			log.Error().Err(err).Str("event_id", eventID).Msg("Failed to re-arm failed webhook event")
			return nil, false, &models.BackendUnavailableError{Component: "database", Cause: err}
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rowsAffected > 0 {
			log.Info().Str("event_id", eventID).Msg("Retrying previously failed webhook event")
			return existing, true, nil
		}
		// Lost the re-arm race to a concurrent delivery
		existing, err = r.Get(ctx, eventID)
		if err != nil {
			return nil, false, err
		}
	}

	log.Warn().
		Str("event_id", eventID).
		Str("status", string(existing.Status)).
		Msg("Duplicate webhook event")

	return existing, false, nil
}

// RecordOutcome finalizes the record after processing: a failed/unresolved
// state is persisted rather than leaving the record perpetually in flight.
func (r *WebhookEventRepository) RecordOutcome(ctx context.Context, eventID string, status models.WebhookStatus, outcome string) error {
	query := `UPDATE webhook_events
			  SET status = $2, outcome = $3, processed_at = NOW()
			  WHERE event_id = $1`

	result, err := r.db.ExecContext(ctx, query, eventID, status, outcome)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("Failed to record webhook outcome")
		return fmt.Errorf("failed to record webhook outcome: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return &models.NotFoundError{Resource: "webhook event", ID: eventID}
	}

	log.Debug().
		Str("event_id", eventID).
		Str("status", string(status)).
		Msg("Recorded webhook outcome")

	return nil
}

// Get retrieves the idempotency record for an event id
func (r *WebhookEventRepository) Get(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	query := `SELECT event_id, event_type, status, payload, outcome, first_seen_at, processed_at
			  FROM webhook_events WHERE event_id = $1`

	err := r.db.GetContext(ctx, &event, query, eventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("event_id", eventID).Msg("Failed to get webhook event")
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return &event, nil
}
