package models

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// PaymentStatus represents the payment state of an order
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Event types published through the outbox to Kafka
const (
	EventTypeOrderCreated   = "order.created"
	EventTypeOrderConfirmed = "order.confirmed"
	EventTypeOrderCancelled = "order.cancelled"
	EventTypeOrderFailed    = "order.failed"
)

// Payment webhook statuses as delivered by the payment provider
const (
	PaymentEventSuccess = "success"
	PaymentEventFailure = "failure"
)

// Task types executed by the background worker
const (
	TaskTypeConfirmationEmail = "order.confirmation_email"
	TaskTypeStatusEmail       = "order.status_email"
)

// TaskStatus represents the state of a queued background task
type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusDead      TaskStatus = "dead"
)

// DeadLetterStatus represents the state of a dead-letter record
type DeadLetterStatus string

const (
	DeadLetterStatusDead     DeadLetterStatus = "dead"
	DeadLetterStatusRetried  DeadLetterStatus = "retried"
	DeadLetterStatusResolved DeadLetterStatus = "resolved"
)

// WebhookStatus represents the processing state of an idempotency record
type WebhookStatus string

const (
	WebhookStatusInFlight  WebhookStatus = "in_flight"
	WebhookStatusSucceeded WebhookStatus = "succeeded"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// Domain Models

// Product represents the product table structure. StockQuantity is the
// authoritative available quantity; it is only mutated through the stock
// repository while the caller holds the product lock.
type Product struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	PriceCents        int64     `db:"price_cents" json:"price_cents"`
	StockQuantity     int       `db:"stock_quantity" json:"stock_quantity"`
	LowStockThreshold int       `db:"low_stock_threshold" json:"low_stock_threshold"`
	IsActive          bool      `db:"is_active" json:"is_active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents the order table structure
type Order struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	BuyerID          string        `db:"buyer_id" json:"buyer_id"`
	Status           OrderStatus   `db:"status" json:"status"`
	PaymentStatus    PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentReference string        `db:"payment_reference" json:"payment_reference"`
	TotalCents       int64         `db:"total_cents" json:"total_cents"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem represents a single line of an order. UnitPriceCents is a
// snapshot of the product price at reservation time; later price changes do
// not affect an already-placed order.
type OrderItem struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        uuid.UUID `db:"order_id" json:"order_id"`
	ProductID      uuid.UUID `db:"product_id" json:"product_id"`
	Quantity       int       `db:"quantity" json:"quantity"`
	UnitPriceCents int64     `db:"unit_price_cents" json:"unit_price_cents"`
}

// Subtotal returns quantity * unit price for the line
func (i OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// LineItem is a requested order line before reservation
type LineItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// PaymentEvent is the deserialized payment webhook payload. EventID is
// supplied by the external provider and is the idempotency key.
type PaymentEvent struct {
	EventID        string `json:"event_id"`
	OrderReference string `json:"order_reference"`
	Status         string `json:"status"`
	AmountCents    int64  `json:"amount_cents"`
}

// WebhookEvent represents the idempotency record for an external event id
type WebhookEvent struct {
	EventID     string        `db:"event_id" json:"event_id"`
	EventType   string        `db:"event_type" json:"event_type"`
	Status      WebhookStatus `db:"status" json:"status"`
	Payload     string        `db:"payload" json:"payload"`
	Outcome     *string       `db:"outcome" json:"outcome,omitempty"`
	FirstSeenAt time.Time     `db:"first_seen_at" json:"first_seen_at"`
	ProcessedAt *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
}

// Task represents a durable background task with retry state
type Task struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Type         string     `db:"type" json:"type"`
	Payload      string     `db:"payload" json:"payload"`
	Status       TaskStatus `db:"status" json:"status"`
	AttemptCount int        `db:"attempt_count" json:"attempt_count"`
	MaxAttempts  int        `db:"max_attempts" json:"max_attempts"`
	NextRetryAt  time.Time  `db:"next_retry_at" json:"next_retry_at"`
	LastError    *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// DeadLetter represents a task that exhausted its retry budget
type DeadLetter struct {
	ID           int64            `db:"id" json:"id"`
	TaskID       uuid.UUID        `db:"task_id" json:"task_id"`
	TaskType     string           `db:"task_type" json:"task_type"`
	Payload      string           `db:"payload" json:"payload"`
	AttemptCount int              `db:"attempt_count" json:"attempt_count"`
	LastError    string           `db:"last_error" json:"last_error"`
	Status       DeadLetterStatus `db:"status" json:"status"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// EmailLog guards per-order email dispatch; unique on (order_id, email_type)
type EmailLog struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   uuid.UUID `db:"order_id" json:"order_id"`
	EmailType string    `db:"email_type" json:"email_type"`
	SentAt    time.Time `db:"sent_at" json:"sent_at"`
}

// OutboxEvent represents the outbox pattern table for reliable event publishing
type OutboxEvent struct {
	ID              int64     `db:"id" json:"id"`
	EventType       string    `db:"event_type" json:"event_type"`
	Key             string    `db:"key" json:"key"`
	Payload         string    `db:"payload" json:"payload"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	Published       bool      `db:"published" json:"published"`
	PublishAttempts int       `db:"publish_attempts" json:"publish_attempts"`
	LastError       *string   `db:"last_error" json:"last_error,omitempty"`
}

// OrderEvent is the domain event published to Kafka via the outbox
type OrderEvent struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	OrderID    uuid.UUID   `json:"order_id"`
	BuyerID    string      `json:"buyer_id"`
	Status     OrderStatus `json:"status"`
	TotalCents int64       `json:"total_cents"`
	Timestamp  time.Time   `json:"timestamp"`
}

// API Request Models

// CreateOrderRequest is the inbound order creation payload
type CreateOrderRequest struct {
	BuyerID string                 `json:"buyer_id" binding:"required" validate:"required"`
	Items   []CreateOrderItemInput `json:"items" binding:"required,min=1,dive" validate:"required,min=1,dive"`
}

// CreateOrderItemInput is a single requested line
type CreateOrderItemInput struct {
	ProductID string `json:"product_id" binding:"required,uuid" validate:"required,uuid"`
	Quantity  int    `json:"quantity" binding:"required,min=1" validate:"required,min=1"`
}

// PaymentWebhookRequest is the inbound webhook payload
type PaymentWebhookRequest struct {
	EventID        string `json:"event_id" binding:"required" validate:"required"`
	OrderReference string `json:"order_reference" binding:"required" validate:"required"`
	Status         string `json:"status" binding:"required,oneof=success failure" validate:"required,oneof=success failure"`
	AmountCents    int64  `json:"amount_cents"`
}

// API Response Models

// OrderResponse is the committed order returned to the caller
type OrderResponse struct {
	ID               uuid.UUID     `json:"id"`
	BuyerID          string        `json:"buyer_id"`
	Status           OrderStatus   `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentReference string        `json:"payment_reference"`
	TotalCents       int64         `json:"total_cents"`
	Items            []OrderItem   `json:"items"`
	CreatedAt        time.Time     `json:"created_at"`
}

// WebhookAckResponse is returned to the payment provider
type WebhookAckResponse struct {
	EventID string `json:"event_id"`
	Result  string `json:"result"`
	Status  string `json:"status,omitempty"`
}

// NewPaymentReference generates an external payment reference in the
// ORD-<12 hex> format expected by the payment provider.
func NewPaymentReference() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is unrecoverable; fall back to uuid entropy
		return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
	}
	return "ORD-" + strings.ToUpper(hex.EncodeToString(buf))
}

// OrderResponseFrom builds the API representation of a committed order
func OrderResponseFrom(order *Order) *OrderResponse {
	return &OrderResponse{
		ID:               order.ID,
		BuyerID:          order.BuyerID,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		PaymentReference: order.PaymentReference,
		TotalCents:       order.TotalCents,
		Items:            order.Items,
		CreatedAt:        order.CreatedAt,
	}
}
