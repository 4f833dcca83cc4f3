package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"order-service/internal/interfaces"
	"order-service/internal/metrics"
	"order-service/internal/models"
)

// Handler executes one task. A returned error marks the attempt as failed;
// wrap with models.Terminal to skip the remaining retry budget.
type Handler func(ctx context.Context, task *models.Task) error

// RunnerConfig controls claim batching, concurrency and the retry schedule
type RunnerConfig struct {
	BatchSize    int
	PollInterval time.Duration
	Concurrency  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// Runner polls the task queue, dispatches claimed tasks to a bounded worker
// pool and applies the retry and dead-letter policy.
type Runner struct {
	taskRepo interfaces.TaskRepository
	handlers map[string]Handler
	cfg      RunnerConfig
}

// NewRunner creates a task runner with no registered handlers
func NewRunner(taskRepo interfaces.TaskRepository, cfg RunnerConfig) *Runner {
	return &Runner{
		taskRepo: taskRepo,
		handlers: make(map[string]Handler),
		cfg:      cfg,
	}
}

// Register binds a handler to a task type. Registration is not safe for
// concurrent use with Run; register everything before starting the loop.
func (r *Runner) Register(taskType string, handler Handler) {
	r.handlers[taskType] = handler
}

// Run polls for due tasks until the context is cancelled. In-flight tasks
// finish before Run returns.
func (r *Runner) Run(ctx context.Context) {
	log.Info().
		Int("batch_size", r.cfg.BatchSize).
		Int("concurrency", r.cfg.Concurrency).
		Dur("poll_interval", r.cfg.PollInterval).
		Msg("Starting task runner")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping task runner")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to claim task batch")
			}
		}
	}
}

// RunOnce claims one batch of due tasks and executes them on a bounded worker
// pool, returning once every claimed task has settled. It reports how many
// tasks were claimed.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	tasks, err := r.taskRepo.ClaimBatch(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := range tasks {
		task := tasks[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.execute(ctx, &task)
		}()
	}
	wg.Wait()

	return len(tasks), nil
}

// execute runs one claimed task and settles its outcome
func (r *Runner) execute(ctx context.Context, task *models.Task) {
	handler, ok := r.handlers[task.Type]
	if !ok {
		// No handler can ever succeed for this type; dead-letter immediately
		r.deadLetter(ctx, task, task.AttemptCount+1, fmt.Sprintf("no handler registered for task type %q", task.Type))
		return
	}

	start := time.Now()
	err := handler(ctx, task)
	metrics.TaskDuration.WithLabelValues(task.Type).Observe(time.Since(start).Seconds())

	if err == nil {
		if markErr := r.taskRepo.MarkSucceeded(ctx, task.ID); markErr != nil {
			log.Error().Err(markErr).Str("task_id", task.ID.String()).Msg("Failed to mark task succeeded")
			return
		}
		// A requeued dead task that now succeeds closes its dead-letter record
		if resolved, resolveErr := r.taskRepo.ResolveDeadLetter(ctx, task.ID); resolveErr != nil {
			log.Error().Err(resolveErr).Str("task_id", task.ID.String()).Msg("Failed to resolve dead letter")
		} else if resolved {
			r.refreshDeadLetterGauge(ctx)
		}
		metrics.TaskExecutions.WithLabelValues(task.Type, "succeeded").Inc()
		log.Debug().
			Str("task_id", task.ID.String()).
			Str("task_type", task.Type).
			Msg("Task succeeded")
		return
	}

	attempt := task.AttemptCount + 1

	if models.IsTerminal(err) {
		log.Warn().Err(err).
			Str("task_id", task.ID.String()).
			Str("task_type", task.Type).
			Msg("Terminal task failure, skipping retries")
		r.deadLetter(ctx, task, attempt, err.Error())
		return
	}

	if attempt >= task.MaxAttempts {
		r.deadLetter(ctx, task, attempt, err.Error())
		return
	}

	nextRetryAt := time.Now().Add(r.backoff(attempt))
	if reschedErr := r.taskRepo.Reschedule(ctx, task.ID, attempt, nextRetryAt, err.Error()); reschedErr != nil {
		log.Error().Err(reschedErr).Str("task_id", task.ID.String()).Msg("Failed to reschedule task")
		return
	}

	metrics.TaskExecutions.WithLabelValues(task.Type, "retried").Inc()
	log.Warn().Err(err).
		Str("task_id", task.ID.String()).
		Str("task_type", task.Type).
		Int("attempt", attempt).
		Int("max_attempts", task.MaxAttempts).
		Time("next_retry_at", nextRetryAt).
		Msg("Task failed, scheduled for retry")
}

// backoff returns base * 2^(attempt-1) capped at the configured ceiling
func (r *Runner) backoff(attempt int) time.Duration {
	d := r.cfg.BackoffBase << (attempt - 1)
	if d > r.cfg.BackoffCap || d <= 0 {
		d = r.cfg.BackoffCap
	}
	return d
}

func (r *Runner) deadLetter(ctx context.Context, task *models.Task, attempt int, lastError string) {
	if err := r.taskRepo.MarkDead(ctx, task, attempt, lastError); err != nil {
		log.Error().Err(err).Str("task_id", task.ID.String()).Msg("Failed to dead-letter task")
		return
	}

	metrics.TaskExecutions.WithLabelValues(task.Type, "dead").Inc()
	r.refreshDeadLetterGauge(ctx)

	log.Error().
		Str("task_id", task.ID.String()).
		Str("task_type", task.Type).
		Int("attempt_count", attempt).
		Str("last_error", lastError).
		Msg("Task moved to dead letter queue")
}

func (r *Runner) refreshDeadLetterGauge(ctx context.Context) {
	count, err := r.taskRepo.CountUnresolvedDeadLetters(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count unresolved dead letters")
		return
	}
	metrics.DeadLetters.Set(float64(count))
}
