package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"order-service/internal/interfaces"
	"order-service/internal/lock"
	"order-service/internal/metrics"
	"order-service/internal/models"
	"order-service/internal/tasks"
)

// OrderService assembles orders: it validates the request, reserves stock for
// every line under per-product locks and persists the pending order with its
// follow-up work in one transaction.
type OrderService struct {
	orderRepo   interfaces.OrderRepository
	productRepo interfaces.ProductRepository
	taskRepo    interfaces.TaskRepository
	outboxRepo  interfaces.OutboxRepository
	locks       interfaces.LockManager

	taskMaxAttempts int
}

// NewOrderService creates a new order service
func NewOrderService(
	orderRepo interfaces.OrderRepository,
	productRepo interfaces.ProductRepository,
	taskRepo interfaces.TaskRepository,
	outboxRepo interfaces.OutboxRepository,
	locks interfaces.LockManager,
	taskMaxAttempts int,
) *OrderService {
	return &OrderService{
		orderRepo:       orderRepo,
		productRepo:     productRepo,
		taskRepo:        taskRepo,
		outboxRepo:      outboxRepo,
		locks:           locks,
		taskMaxAttempts: taskMaxAttempts,
	}
}

// heldLock is a lease taken during order assembly
type heldLock struct {
	key   string
	token string
}

// CreateOrder validates and places an order. Product locks are always taken
// in ascending product id order so two concurrent orders over the same
// products cannot deadlock. Reserved stock is restored in reverse order if a
// later line cannot be fulfilled.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	start := time.Now()

	order, err := s.createOrder(ctx, req)

	status := "created"
	if err != nil {
		status = "failed"
	}
	metrics.OrdersCreated.WithLabelValues(status).Inc()
	metrics.OrderCreationDuration.Observe(time.Since(start).Seconds())

	return order, err
}

func (s *OrderService) createOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	lines, err := normalizeLines(req.Items)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := s.productRepo.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	for _, line := range lines {
		if _, ok := products[line.ProductID]; !ok {
			return nil, &models.NotFoundError{Resource: "product", ID: line.ProductID.String()}
		}
	}

	// Lock every product for the duration of the reservation
	held := make([]heldLock, 0, len(lines))
	defer func() {
		// Release in reverse acquisition order
		for i := len(held) - 1; i >= 0; i-- {
			if relErr := s.locks.Release(ctx, held[i].key, held[i].token); relErr != nil {
				log.Warn().Err(relErr).Str("key", held[i].key).Msg("Failed to release product lock")
			}
		}
	}()

	for _, line := range lines {
		key := productLockKey(line.ProductID)
		token, lockErr := s.locks.AcquireWithRetry(ctx, key)
		if lockErr != nil {
			if errors.Is(lockErr, lock.ErrLockTimeout) || errors.Is(lockErr, lock.ErrLockBusy) {
				return nil, &models.ConflictError{
					Resource: "product " + line.ProductID.String(),
					Reason:   "stock lock contention",
					Cause:    lockErr,
				}
			}
			return nil, fmt.Errorf("failed to lock product %s: %w", line.ProductID, lockErr)
		}
		held = append(held, heldLock{key: key, token: token})
	}

	// Reserve line by line; roll back already-reserved lines on failure
	reserved := make([]models.LineItem, 0, len(lines))
	for _, line := range lines {
		if resErr := s.productRepo.Reserve(ctx, line.ProductID, line.Quantity); resErr != nil {
			s.restoreReserved(ctx, reserved)
			return nil, resErr
		}
		reserved = append(reserved, line)
	}

	// Reservation may have consumed most of the lease; refresh every lock to
	// a full TTL before the persist transaction
	for _, hl := range held {
		if extErr := s.locks.Extend(ctx, hl.key, hl.token, s.locks.TTL()); extErr != nil {
			log.Warn().Err(extErr).Str("key", hl.key).Msg("Failed to extend product lock")
		}
	}

	order := s.buildOrder(req.BuyerID, lines, products)

	if err := s.persistOrder(ctx, order); err != nil {
		// The stock decrement already committed; compensate before failing
		s.restoreReserved(ctx, reserved)
		return nil, err
	}

	log.Info().
		Str("order_id", order.ID.String()).
		Str("buyer_id", order.BuyerID).
		Str("payment_reference", order.PaymentReference).
		Int64("total_cents", order.TotalCents).
		Int("items", len(order.Items)).
		Msg("Order created")

	return order, nil
}

// GetOrder returns an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, &models.NotFoundError{Resource: "order", ID: orderID.String()}
	}
	return order, nil
}

// normalizeLines parses, merges and sorts the requested items. Duplicate
// product lines are merged by summing quantities.
func normalizeLines(items []models.CreateOrderItemInput) ([]models.LineItem, error) {
	if len(items) == 0 {
		return nil, &models.ValidationError{Field: "items", Message: "must contain at least one item"}
	}

	merged := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, &models.ValidationError{Field: "product_id", Message: "must be a valid UUID"}
		}
		if item.Quantity < 1 {
			return nil, &models.ValidationError{Field: "quantity", Message: "must be at least 1"}
		}
		merged[productID] += item.Quantity
	}

	lines := make([]models.LineItem, 0, len(merged))
	for productID, qty := range merged {
		lines = append(lines, models.LineItem{ProductID: productID, Quantity: qty})
	}

	sort.Slice(lines, func(i, j int) bool {
		return bytes.Compare(lines[i].ProductID[:], lines[j].ProductID[:]) < 0
	})

	return lines, nil
}

// buildOrder snapshots current prices into order items
func (s *OrderService) buildOrder(buyerID string, lines []models.LineItem, products map[uuid.UUID]*models.Product) *models.Order {
	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          buyerID,
		Status:           models.OrderStatusPending,
		PaymentStatus:    models.PaymentStatusPending,
		PaymentReference: models.NewPaymentReference(),
	}

	for _, line := range lines {
		product := products[line.ProductID]
		item := models.OrderItem{
			OrderID:        order.ID,
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: product.PriceCents,
		}
		order.Items = append(order.Items, item)
		order.TotalCents += item.Subtotal()
	}

	return order
}

// persistOrder writes the order, its confirmation email task and the
// order.created outbox event in one transaction
func (s *OrderService) persistOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}()

	if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
		return err
	}

	emailTask, err := tasks.NewEmailTask(models.TaskTypeConfirmationEmail, order.ID, s.taskMaxAttempts)
	if err != nil {
		return err
	}
	if err := s.taskRepo.Enqueue(ctx, tx, emailTask); err != nil {
		return err
	}

	event := orderEventFor(models.EventTypeOrderCreated, order)
	if err := s.outboxRepo.Insert(ctx, tx, event.EventType, order.ID.String(), event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

// restoreReserved compensates committed reservations, newest first. Failures
// are logged, not returned; the caller is already on an error path.
func (s *OrderService) restoreReserved(ctx context.Context, reserved []models.LineItem) {
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if err := s.productRepo.Restore(ctx, line.ProductID, line.Quantity); err != nil {
			log.Error().Err(err).
				Str("product_id", line.ProductID.String()).
				Int("quantity", line.Quantity).
				Msg("Failed to restore reserved stock")
		}
	}
}

func productLockKey(productID uuid.UUID) string {
	return "product:" + productID.String()
}

func orderEventFor(eventType string, order *models.Order) *models.OrderEvent {
	return &models.OrderEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		Status:     order.Status,
		TotalCents: order.TotalCents,
		Timestamp:  time.Now().UTC(),
	}
}
