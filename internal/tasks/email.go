package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"order-service/internal/interfaces"
	"order-service/internal/models"
)

// EmailTaskPayload is the serialized payload of both email task types
type EmailTaskPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

// NewEmailTask builds a scheduled email task for the given order. The task is
// due immediately; the runner owns the retry schedule after that.
func NewEmailTask(taskType string, orderID uuid.UUID, maxAttempts int) (*models.Task, error) {
	payload, err := json.Marshal(EmailTaskPayload{OrderID: orderID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email task payload: %w", err)
	}

	return &models.Task{
		ID:          uuid.New(),
		Type:        taskType,
		Payload:     string(payload),
		Status:      models.TaskStatusScheduled,
		MaxAttempts: maxAttempts,
		NextRetryAt: time.Now(),
	}, nil
}

// EmailHandlers executes the email task types. The email_log table guards
// against duplicate sends when a task is retried past a partial failure.
type EmailHandlers struct {
	orderRepo interfaces.OrderRepository
	sender    interfaces.EmailSender
}

// NewEmailHandlers creates the email task handlers
func NewEmailHandlers(orderRepo interfaces.OrderRepository, sender interfaces.EmailSender) *EmailHandlers {
	return &EmailHandlers{orderRepo: orderRepo, sender: sender}
}

// RegisterWith binds both email task types on the runner
func (h *EmailHandlers) RegisterWith(runner *Runner) {
	runner.Register(models.TaskTypeConfirmationEmail, h.HandleConfirmationEmail)
	runner.Register(models.TaskTypeStatusEmail, h.HandleStatusEmail)
}

// HandleConfirmationEmail sends the order confirmation email exactly once
func (h *EmailHandlers) HandleConfirmationEmail(ctx context.Context, task *models.Task) error {
	return h.sendGuarded(ctx, task, models.TaskTypeConfirmationEmail, h.sender.SendOrderConfirmation)
}

// HandleStatusEmail sends the order status update email exactly once per
// enqueued status change
func (h *EmailHandlers) HandleStatusEmail(ctx context.Context, task *models.Task) error {
	return h.sendGuarded(ctx, task, models.TaskTypeStatusEmail, h.sender.SendStatusUpdate)
}

func (h *EmailHandlers) sendGuarded(ctx context.Context, task *models.Task, emailType string, send func(context.Context, *models.Order) error) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return models.Terminal(fmt.Errorf("invalid email task payload: %w", err))
	}

	order, err := h.orderRepo.GetOrder(ctx, payload.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil {
		return models.Terminal(&models.NotFoundError{Resource: "order", ID: payload.OrderID.String()})
	}

	inserted, err := h.orderRepo.InsertEmailLog(ctx, order.ID, emailType)
	if err != nil {
		return fmt.Errorf("failed to record email dispatch: %w", err)
	}
	if !inserted {
		// A previous attempt already sent this email
		log.Debug().
			Str("order_id", order.ID.String()).
			Str("email_type", emailType).
			Msg("Email already sent, skipping")
		return nil
	}

	if err := send(ctx, order); err != nil {
		return fmt.Errorf("failed to send %s email: %w", emailType, err)
	}
	return nil
}
