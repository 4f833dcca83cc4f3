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

// OrderRepository handles database operations for orders
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// BeginTx starts a new database transaction
func (r *OrderRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// CreateOrder inserts the order and its line items
func (r *OrderRepository) CreateOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `INSERT INTO orders (id, buyer_id, status, payment_status, payment_reference, total_cents, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, err := tx.ExecContext(ctx, query, order.ID, order.BuyerID, order.Status,
		order.PaymentStatus, order.PaymentReference, order.TotalCents)
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID.String()).Msg("Failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents)
				  VALUES ($1, $2, $3, $4)`
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if _, err := tx.ExecContext(ctx, itemQuery, item.OrderID, item.ProductID, item.Quantity, item.UnitPriceCents); err != nil {
			log.Error().Err(err).
				Str("order_id", order.ID.String()).
				Str("product_id", item.ProductID.String()).
				Msg("Failed to create order item")
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now

	return nil
}

// GetOrder retrieves an order with its line items
func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	query := `SELECT id, buyer_id, status, payment_status, payment_reference, total_cents, created_at, updated_at
			  FROM orders WHERE id = $1`

	err := r.db.GetContext(ctx, &order, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("order_id", id.String()).Msg("Failed to get order")
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if err := r.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByPaymentReference resolves the order a payment event refers to
func (r *OrderRepository) GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	query := `SELECT id, buyer_id, status, payment_status, payment_reference, total_cents, created_at, updated_at
			  FROM orders WHERE payment_reference = $1`

	err := r.db.GetContext(ctx, &order, query, reference)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("payment_reference", reference).Msg("Failed to get order by payment reference")
		return nil, fmt.Errorf("failed to get order by payment reference: %w", err)
	}

	if err := r.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus transitions an order's status and payment status
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, status models.OrderStatus, paymentStatus models.PaymentStatus) error {
	query := `UPDATE orders SET status = $2, payment_status = $3, updated_at = NOW() WHERE id = $1`

	result, err := execer(tx, r.db).ExecContext(ctx, query, orderID, status, paymentStatus)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to update order status")
		return fmt.Errorf("failed to update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return &models.NotFoundError{Resource: "order", ID: orderID.String()}
	}

	return nil
}

// GetStaleOrders retrieves pending orders older than the given age. Used by
// the stale-order sweeper to cancel abandoned checkouts.
func (r *OrderRepository) GetStaleOrders(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := `SELECT id, buyer_id, status, payment_status, payment_reference, total_cents, created_at, updated_at
			  FROM orders
			  WHERE status = $1 AND created_at < NOW() - $2::interval
			  ORDER BY created_at ASC
			  LIMIT $3`

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	err := r.db.SelectContext(ctx, &orders, query, models.OrderStatusPending, interval, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get stale orders")
		return nil, fmt.Errorf("failed to get stale orders: %w", err)
	}

	for i := range orders {
		if err := r.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// InsertEmailLog records that an email of the given type was sent for the
// order. Returns false without error when a log already exists, so email
// dispatch stays idempotent per (order, type) even if the task layer
// redelivers.
func (r *OrderRepository) InsertEmailLog(ctx context.Context, orderID uuid.UUID, emailType string) (bool, error) {
	query := `INSERT INTO email_logs (order_id, email_type, sent_at)
			  VALUES ($1, $2, NOW())
			  ON CONFLICT (order_id, email_type) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, orderID, emailType)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to insert email log")
		return false, fmt.Errorf("failed to insert email log: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rowsAffected > 0, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, order *models.Order) error {
	query := `SELECT id, order_id, product_id, quantity, unit_price_cents
			  FROM order_items WHERE order_id = $1 ORDER BY id ASC`

	if err := r.db.SelectContext(ctx, &order.Items, query, order.ID); err != nil {
		log.Error().Err(err).Str("order_id", order.ID.String()).Msg("Failed to load order items")
		return fmt.Errorf("failed to load order items: %w", err)
	}
	return nil
}

// execer returns the transaction when one is in progress, the pool otherwise
func execer(tx *sqlx.Tx, db *sqlx.DB) sqlx.ExecerContext {
	if tx != nil {
		return tx
	}
	return db
}
