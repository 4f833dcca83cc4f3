package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"order-service/internal/interfaces"
	"order-service/internal/metrics"
	"order-service/internal/models"
	"order-service/internal/tasks"
)

// Webhook acknowledgement results
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
)

// EventService processes payment events idempotently and runs the stale
// order sweeper. Every event is settled exactly once: the idempotency store
// filters duplicates and an order-level lock serializes concurrent settlers
// of the same order.
type EventService struct {
	orderRepo   interfaces.OrderRepository
	productRepo interfaces.ProductRepository
	taskRepo    interfaces.TaskRepository
	outboxRepo  interfaces.OutboxRepository
	webhookRepo interfaces.WebhookEventRepository
	locks       interfaces.LockManager

	taskMaxAttempts int
	staleOrderAge   time.Duration
	sweepBatchSize  int
}

// NewEventService creates a new event service
func NewEventService(
	orderRepo interfaces.OrderRepository,
	productRepo interfaces.ProductRepository,
	taskRepo interfaces.TaskRepository,
	outboxRepo interfaces.OutboxRepository,
	webhookRepo interfaces.WebhookEventRepository,
	locks interfaces.LockManager,
	taskMaxAttempts int,
	staleOrderAge time.Duration,
	sweepBatchSize int,
) *EventService {
	return &EventService{
		orderRepo:       orderRepo,
		productRepo:     productRepo,
		taskRepo:        taskRepo,
		outboxRepo:      outboxRepo,
		webhookRepo:     webhookRepo,
		locks:           locks,
		taskMaxAttempts: taskMaxAttempts,
		staleOrderAge:   staleOrderAge,
		sweepBatchSize:  sweepBatchSize,
	}
}

// HandlePaymentEvent applies a payment event to its order at most once.
// Duplicates are acknowledged without re-applying. Rejections (unknown
// order, amount mismatch) record a failed outcome and return a terminal
// error; transient failures record a failed outcome so a redelivery can
// retry them.
func (s *EventService) HandlePaymentEvent(ctx context.Context, event *models.PaymentEvent) (*models.WebhookAckResponse, error) {
	if err := validatePaymentEvent(event); err != nil {
		metrics.PaymentWebhooksProcessed.WithLabelValues(ResultRejected).Inc()
		return nil, models.Terminal(err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment event: %w", err)
	}

	record, fresh, err := s.webhookRepo.CheckAndReserve(ctx, event.EventID, "payment."+event.Status, string(payload))
	if err != nil {
		return nil, err
	}
	if !fresh {
		metrics.PaymentWebhooksProcessed.WithLabelValues(ResultDuplicate).Inc()
		log.Info().
			Str("event_id", event.EventID).
			Str("status", string(record.Status)).
			Msg("Duplicate payment event, skipping")

		ack := &models.WebhookAckResponse{EventID: event.EventID, Result: ResultDuplicate}
		if record.Outcome != nil {
			ack.Status = *record.Outcome
		}
		return ack, nil
	}

	outcome, err := s.applyPaymentEvent(ctx, event)
	if err != nil {
		if recErr := s.webhookRepo.RecordOutcome(ctx, event.EventID, models.WebhookStatusFailed, err.Error()); recErr != nil {
			log.Error().Err(recErr).Str("event_id", event.EventID).Msg("Failed to record event outcome")
		}
		if models.IsTerminal(err) {
			metrics.PaymentWebhooksProcessed.WithLabelValues(ResultRejected).Inc()
		}
		return nil, err
	}

	if recErr := s.webhookRepo.RecordOutcome(ctx, event.EventID, models.WebhookStatusSucceeded, outcome); recErr != nil {
		log.Error().Err(recErr).Str("event_id", event.EventID).Msg("Failed to record event outcome")
	}

	metrics.PaymentWebhooksProcessed.WithLabelValues(event.Status).Inc()
	return &models.WebhookAckResponse{EventID: event.EventID, Result: ResultApplied, Status: outcome}, nil
}

// applyPaymentEvent settles the referenced order for one reserved event
func (s *EventService) applyPaymentEvent(ctx context.Context, event *models.PaymentEvent) (string, error) {
	order, err := s.orderRepo.GetOrderByPaymentReference(ctx, event.OrderReference)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", models.Terminal(&models.NotFoundError{Resource: "order", ID: event.OrderReference})
	}

	if event.Status == models.PaymentEventSuccess && event.AmountCents != order.TotalCents {
		return "", models.Terminal(&models.ValidationError{
			Field:   "amount_cents",
			Message: fmt.Sprintf("amount %d does not match order total %d", event.AmountCents, order.TotalCents),
		})
	}

	switch event.Status {
	case models.PaymentEventSuccess:
		return s.settleOrder(ctx, order, models.OrderStatusConfirmed, models.PaymentStatusPaid, models.EventTypeOrderConfirmed, false)
	default:
		return s.settleOrder(ctx, order, models.OrderStatusFailed, models.PaymentStatusFailed, models.EventTypeOrderFailed, true)
	}
}

// settleOrder transitions a pending order to its terminal state. The order
// lock serializes the webhook path against the stale order sweeper; the
// status is re-read under the lock so only one settler wins. Restocking
// happens under per-product locks before the status flips.
func (s *EventService) settleOrder(ctx context.Context, order *models.Order, status models.OrderStatus, paymentStatus models.PaymentStatus, eventType string, restock bool) (string, error) {
	orderKey := "order:" + order.ID.String()
	token, err := s.locks.AcquireWithRetry(ctx, orderKey)
	if err != nil {
		return "", fmt.Errorf("failed to lock order %s: %w", order.ID, err)
	}
	defer func() {
		if relErr := s.locks.Release(ctx, orderKey, token); relErr != nil {
			log.Warn().Err(relErr).Str("key", orderKey).Msg("Failed to release order lock")
		}
	}()

	current, err := s.orderRepo.GetOrder(ctx, order.ID)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", models.Terminal(&models.NotFoundError{Resource: "order", ID: order.ID.String()})
	}
	if current.Status != models.OrderStatusPending {
		log.Info().
			Str("order_id", current.ID.String()).
			Str("status", string(current.Status)).
			Msg("Order already settled, skipping")
		return "already_" + string(current.Status), nil
	}

	if restock {
		if err := s.restockOrder(ctx, current); err != nil {
			return "", err
		}
	}

	if err := s.commitSettlement(ctx, current, status, paymentStatus, eventType); err != nil {
		return "", err
	}

	log.Info().
		Str("order_id", current.ID.String()).
		Str("status", string(status)).
		Str("payment_status", string(paymentStatus)).
		Bool("restocked", restock).
		Msg("Order settled")

	return string(status), nil
}

// restockOrder returns every reserved line to stock under per-product locks,
// taken in ascending product id order
func (s *EventService) restockOrder(ctx context.Context, order *models.Order) error {
	items := make([]models.OrderItem, len(order.Items))
	copy(items, order.Items)
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].ProductID[:], items[j].ProductID[:]) < 0
	})

	for _, item := range items {
		key := productLockKey(item.ProductID)
		token, err := s.locks.AcquireWithRetry(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to lock product %s: %w", item.ProductID, err)
		}

		restoreErr := s.productRepo.Restore(ctx, item.ProductID, item.Quantity)

		if relErr := s.locks.Release(ctx, key, token); relErr != nil {
			log.Warn().Err(relErr).Str("key", key).Msg("Failed to release product lock")
		}
		if restoreErr != nil {
			return restoreErr
		}
	}
	return nil
}

// commitSettlement writes the status change, the status email task and the
// outbox event in one transaction
func (s *EventService) commitSettlement(ctx context.Context, order *models.Order, status models.OrderStatus, paymentStatus models.PaymentStatus, eventType string) error {
	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}()

	if err := s.orderRepo.UpdateOrderStatus(ctx, tx, order.ID, status, paymentStatus); err != nil {
		return err
	}

	emailTask, err := tasks.NewEmailTask(models.TaskTypeStatusEmail, order.ID, s.taskMaxAttempts)
	if err != nil {
		return err
	}
	if err := s.taskRepo.Enqueue(ctx, tx, emailTask); err != nil {
		return err
	}

	settled := *order
	settled.Status = status
	event := orderEventFor(eventType, &settled)
	if err := s.outboxRepo.Insert(ctx, tx, event.EventType, order.ID.String(), event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

// SweepStaleOrders cancels pending orders whose payment never arrived. Each
// order is guarded by a deterministic idempotency id so overlapping sweeper
// instances cancel it at most once.
func (s *EventService) SweepStaleOrders(ctx context.Context) error {
	orders, err := s.orderRepo.GetStaleOrders(ctx, s.staleOrderAge, s.sweepBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list stale orders: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}

	cancelled := 0
	for i := range orders {
		order := &orders[i]

		eventID := "stale-order-sweep:" + order.ID.String()
		payload, _ := json.Marshal(map[string]string{"order_id": order.ID.String()})

		_, fresh, err := s.webhookRepo.CheckAndReserve(ctx, eventID, "job.stale_order_sweep", string(payload))
		if err != nil {
			log.Error().Err(err).Str("order_id", order.ID.String()).Msg("Failed to reserve sweep record")
			continue
		}
		if !fresh {
			continue
		}

		outcome, err := s.settleOrder(ctx, order, models.OrderStatusCancelled, models.PaymentStatusPending, models.EventTypeOrderCancelled, true)
		if err != nil {
			log.Error().Err(err).Str("order_id", order.ID.String()).Msg("Failed to cancel stale order")
			if recErr := s.webhookRepo.RecordOutcome(ctx, eventID, models.WebhookStatusFailed, err.Error()); recErr != nil {
				log.Error().Err(recErr).Str("event_id", eventID).Msg("Failed to record sweep outcome")
			}
			continue
		}

		if recErr := s.webhookRepo.RecordOutcome(ctx, eventID, models.WebhookStatusSucceeded, outcome); recErr != nil {
			log.Error().Err(recErr).Str("event_id", eventID).Msg("Failed to record sweep outcome")
		}
		cancelled++
	}

	log.Info().
		Int("cancelled", cancelled).
		Int("candidates", len(orders)).
		Msg("Stale order sweep completed")

	return nil
}

// RunStaleOrderSweeper runs the sweep on an interval until the context is
// cancelled. It also refreshes the low stock gauge each cycle.
func (s *EventService) RunStaleOrderSweeper(ctx context.Context, interval time.Duration) {
	log.Info().
		Dur("interval", interval).
		Dur("stale_age", s.staleOrderAge).
		Msg("Starting stale order sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping stale order sweeper")
			return
		case <-ticker.C:
			if err := s.SweepStaleOrders(ctx); err != nil {
				log.Error().Err(err).Msg("Stale order sweep failed")
			}
			if err := s.productRepo.RefreshLowStockGauge(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to refresh low stock gauge")
			}
		}
	}
}

func validatePaymentEvent(event *models.PaymentEvent) error {
	if event.EventID == "" {
		return &models.ValidationError{Field: "event_id", Message: "is required"}
	}
	if event.OrderReference == "" {
		return &models.ValidationError{Field: "order_reference", Message: "is required"}
	}
	if event.Status != models.PaymentEventSuccess && event.Status != models.PaymentEventFailure {
		return &models.ValidationError{Field: "status", Message: "must be success or failure"}
	}
	return nil
}
