package tasks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"order-service/internal/interfaces"
	"order-service/internal/metrics"
	"order-service/internal/models"
)

// Coordinator exposes manual dead-letter management: listing dead tasks and
// putting them back on the queue with a fresh retry budget.
type Coordinator struct {
	taskRepo interfaces.TaskRepository
}

// NewCoordinator creates a dead-letter coordinator
func NewCoordinator(taskRepo interfaces.TaskRepository) *Coordinator {
	return &Coordinator{taskRepo: taskRepo}
}

// List returns all unresolved dead-letter records, oldest first
func (c *Coordinator) List(ctx context.Context) ([]models.DeadLetter, error) {
	return c.taskRepo.ListDeadLetters(ctx)
}

// Get returns the dead-letter record for a single task
func (c *Coordinator) Get(ctx context.Context, taskID uuid.UUID) (*models.DeadLetter, error) {
	letter, err := c.taskRepo.GetDeadLetterByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if letter == nil {
		return nil, &models.NotFoundError{Resource: "dead letter", ID: taskID.String()}
	}
	return letter, nil
}

// Retry requeues a single dead task. Returns a not-found error when the task
// does not exist or is not dead.
func (c *Coordinator) Retry(ctx context.Context, taskID uuid.UUID) error {
	if err := c.taskRepo.Requeue(ctx, taskID); err != nil {
		return err
	}

	c.refreshGauge(ctx)
	log.Info().Str("task_id", taskID.String()).Msg("Requeued dead task")
	return nil
}

// RetryAll requeues every unresolved dead task and returns how many were
// requeued. Individual failures are logged and skipped so one broken record
// does not block the rest.
func (c *Coordinator) RetryAll(ctx context.Context) (int, error) {
	deadLetters, err := c.taskRepo.ListDeadLetters(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list dead letters: %w", err)
	}

	requeued := 0
	for _, dl := range deadLetters {
		if err := c.taskRepo.Requeue(ctx, dl.TaskID); err != nil {
			log.Error().Err(err).Str("task_id", dl.TaskID.String()).Msg("Failed to requeue dead task")
			continue
		}
		requeued++
	}

	if requeued > 0 {
		c.refreshGauge(ctx)
	}

	log.Info().
		Int("requeued", requeued).
		Int("total", len(deadLetters)).
		Msg("Requeued dead tasks")

	return requeued, nil
}

func (c *Coordinator) refreshGauge(ctx context.Context) {
	count, err := c.taskRepo.CountUnresolvedDeadLetters(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count unresolved dead letters")
		return
	}
	metrics.DeadLetters.Set(float64(count))
}
