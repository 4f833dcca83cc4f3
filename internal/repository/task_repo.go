package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"order-service/internal/models"
)

// TaskRepository handles the durable task queue and its dead-letter records
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// BeginTx starts a new database transaction
func (r *TaskRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// Enqueue inserts a scheduled task, joining the caller's transaction when one
// is given so task creation commits atomically with the triggering write.
func (r *TaskRepository) Enqueue(ctx context.Context, tx *sqlx.Tx, task *models.Task) error {
	query := `INSERT INTO tasks (id, type, payload, status, attempt_count, max_attempts, next_retry_at, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`

	_, err := execer(tx, r.db).ExecContext(ctx, query, task.ID, task.Type, task.Payload,
		task.Status, task.AttemptCount, task.MaxAttempts, task.NextRetryAt)
	if err != nil {
		log.Error().Err(err).
			Str("task_id", task.ID.String()).
			Str("type", task.Type).
			Msg("Failed to enqueue task")
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Debug().
		Str("task_id", task.ID.String()).
		Str("type", task.Type).
		Msg("Enqueued task")

	return nil
}

// ClaimBatch atomically claims due scheduled tasks for this worker. The
// FOR UPDATE SKIP LOCKED subquery keeps concurrent workers from claiming the
// same task without blocking each other.
func (r *TaskRepository) ClaimBatch(ctx context.Context, limit int) ([]models.Task, error) {
	query := `
		UPDATE tasks SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = $2 AND next_retry_at <= NOW()
			ORDER BY next_retry_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		RETURNING id, type, payload, status, attempt_count, max_attempts, next_retry_at, last_error, created_at, updated_at`

	var tasks []models.Task
	err := r.db.SelectContext(ctx, &tasks, query, models.TaskStatusRunning, models.TaskStatusScheduled, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim task batch")
		return nil, fmt.Errorf("failed to claim task batch: %w", err)
	}

	if len(tasks) > 0 {
		log.Debug().Int("count", len(tasks)).Msg("Claimed task batch")
	}
	return tasks, nil
}

// MarkSucceeded finalizes a task after a successful run
func (r *TaskRepository) MarkSucceeded(ctx context.Context, taskID uuid.UUID) error {
	query := `UPDATE tasks SET status = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, taskID, models.TaskStatusSucceeded); err != nil {
		log.Error().Err(err).Str("task_id", taskID.String()).Msg("Failed to mark task succeeded")
		return fmt.Errorf("failed to mark task succeeded: %w", err)
	}
	return nil
}

// Reschedule puts a retryable failure back on the queue with its next attempt
// time and failure context.
func (r *TaskRepository) Reschedule(ctx context.Context, taskID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastError string) error {
	query := `UPDATE tasks
			  SET status = $2, attempt_count = $3, next_retry_at = $4, last_error = $5, updated_at = NOW()
			  WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, taskID, models.TaskStatusScheduled, attemptCount, nextRetryAt, lastError)
	if err != nil {
		log.Error().Err(err).Str("task_id", taskID.String()).Msg("Failed to reschedule task")
		return fmt.Errorf("failed to reschedule task: %w", err)
	}
	return nil
}

// MarkDead transitions the task to dead and persists the dead-letter record
// with its failure history in one transaction, so the task is dead-lettered
// exactly once.
func (r *TaskRepository) MarkDead(ctx context.Context, task *models.Task, attemptCount int, lastError string) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	update := `UPDATE tasks
			   SET status = $2, attempt_count = $3, last_error = $4, updated_at = NOW()
			   WHERE id = $1 AND status <> $2`

	result, err := tx.ExecContext(ctx, update, task.ID, models.TaskStatusDead, attemptCount, lastError)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID.String()).Msg("Failed to mark task dead")
		return fmt.Errorf("failed to mark task dead: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		// Already dead-lettered by another worker
		return tx.Commit()
	}

	insert := `INSERT INTO dead_letters (task_id, task_type, payload, attempt_count, last_error, status, created_at, updated_at)
			   VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	if _, err := tx.ExecContext(ctx, insert, task.ID, task.Type, task.Payload, attemptCount, lastError, models.DeadLetterStatusDead); err != nil {
		log.Error().Err(err).Str("task_id", task.ID.String()).Msg("Failed to insert dead letter")
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Warn().
		Str("task_id", task.ID.String()).
		Str("type", task.Type).
		Int("attempts", attemptCount).
		Str("last_error", lastError).
		Msg("Task dead-lettered")

	return nil
}

// Requeue resets a dead task to a fresh attempt cycle and marks its
// dead-letter record retried. Used by manual replay only.
func (r *TaskRepository) Requeue(ctx context.Context, taskID uuid.UUID) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	update := `UPDATE tasks
			   SET status = $2, attempt_count = 0, next_retry_at = NOW(), last_error = NULL, updated_at = NOW()
			   WHERE id = $1 AND status = $3`

	result, err := tx.ExecContext(ctx, update, taskID, models.TaskStatusScheduled, models.TaskStatusDead)
	if err != nil {
		log.Error().Err(err).Str("task_id", taskID.String()).Msg("Failed to requeue task")
		return fmt.Errorf("failed to requeue task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return &models.NotFoundError{Resource: "dead task", ID: taskID.String()}
	}

	mark := `UPDATE dead_letters SET status = $2, updated_at = NOW() WHERE task_id = $1 AND status = $3`
	if _, err := tx.ExecContext(ctx, mark, taskID, models.DeadLetterStatusRetried, models.DeadLetterStatusDead); err != nil {
		return fmt.Errorf("failed to mark dead letter retried: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().Str("task_id", taskID.String()).Msg("Requeued dead task for manual retry")
	return nil
}

// ResolveDeadLetter marks a retried dead letter resolved once the replayed
// task eventually succeeds. Returns false when no retried record exists.
func (r *TaskRepository) ResolveDeadLetter(ctx context.Context, taskID uuid.UUID) (bool, error) {
	query := `UPDATE dead_letters SET status = $2, updated_at = NOW() WHERE task_id = $1 AND status = $3`

	result, err := r.db.ExecContext(ctx, query, taskID, models.DeadLetterStatusResolved, models.DeadLetterStatusRetried)
	if err != nil {
		log.Error().Err(err).Str("task_id", taskID.String()).Msg("Failed to resolve dead letter")
		return false, fmt.Errorf("failed to resolve dead letter: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListDeadLetters returns unresolved dead letters, oldest first
func (r *TaskRepository) ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	var letters []models.DeadLetter
	query := `SELECT id, task_id, task_type, payload, attempt_count, last_error, status, created_at, updated_at
			  FROM dead_letters
			  WHERE status = $1
			  ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &letters, query, models.DeadLetterStatusDead); err != nil {
		log.Error().Err(err).Msg("Failed to list dead letters")
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return letters, nil
}

// GetDeadLetterByTaskID retrieves a dead-letter record by its task id
func (r *TaskRepository) GetDeadLetterByTaskID(ctx context.Context, taskID uuid.UUID) (*models.DeadLetter, error) {
	var letter models.DeadLetter
	query := `SELECT id, task_id, task_type, payload, attempt_count, last_error, status, created_at, updated_at
			  FROM dead_letters WHERE task_id = $1`

	err := r.db.GetContext(ctx, &letter, query, taskID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("task_id", taskID.String()).Msg("Failed to get dead letter")
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return &letter, nil
}

// CountUnresolvedDeadLetters counts dead letters not yet resolved
func (r *TaskRepository) CountUnresolvedDeadLetters(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM dead_letters WHERE status <> $1`

	if err := r.db.GetContext(ctx, &count, query, models.DeadLetterStatusResolved); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}
