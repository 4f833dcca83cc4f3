package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"order-service/internal/models"
)

// OrderRepository defines the contract for order persistence
type OrderRepository interface {
	// Transaction management
	BeginTx(ctx context.Context) (*sqlx.Tx, error)

	// Order operations
	CreateOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, status models.OrderStatus, paymentStatus models.PaymentStatus) error
	GetStaleOrders(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)

	// Email dispatch guard
	InsertEmailLog(ctx context.Context, orderID uuid.UUID, emailType string) (bool, error)
}

// ProductRepository defines the contract for stock operations. Implementations
// do not lock; callers serialize access through the lock manager.
type ProductRepository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error)
	Reserve(ctx context.Context, productID uuid.UUID, qty int) error
	Restore(ctx context.Context, productID uuid.UUID, qty int) error
	RefreshLowStockGauge(ctx context.Context) error
}

// WebhookEventRepository defines the contract for event idempotency records
type WebhookEventRepository interface {
	CheckAndReserve(ctx context.Context, eventID, eventType, payload string) (*models.WebhookEvent, bool, error)
	RecordOutcome(ctx context.Context, eventID string, status models.WebhookStatus, outcome string) error
	Get(ctx context.Context, eventID string) (*models.WebhookEvent, error)
}

// TaskRepository defines the contract for the durable task queue and its
// dead-letter store
type TaskRepository interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)

	Enqueue(ctx context.Context, tx *sqlx.Tx, task *models.Task) error
	ClaimBatch(ctx context.Context, limit int) ([]models.Task, error)
	MarkSucceeded(ctx context.Context, taskID uuid.UUID) error
	Reschedule(ctx context.Context, taskID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastError string) error
	MarkDead(ctx context.Context, task *models.Task, attemptCount int, lastError string) error

	// Dead-letter management
	Requeue(ctx context.Context, taskID uuid.UUID) error
	ResolveDeadLetter(ctx context.Context, taskID uuid.UUID) (bool, error)
	ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error)
	GetDeadLetterByTaskID(ctx context.Context, taskID uuid.UUID) (*models.DeadLetter, error)
	CountUnresolvedDeadLetters(ctx context.Context) (int, error)
}

// OutboxRepository defines the contract for the transactional outbox
type OutboxRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, eventType, key string, payload interface{}) error
	TryAcquirePublishLock(ctx context.Context, lockKey int64) (bool, error)
	ReleasePublishLock(ctx context.Context, lockKey int64) error
	FetchBatchOrdered(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, ids []int64) error
	IncrementPublishAttempts(ctx context.Context, id int64, lastError string) error
}

// LockManager defines the contract for distributed mutual exclusion on
// resource keys
type LockManager interface {
	Acquire(ctx context.Context, key string) (string, error)
	AcquireWithRetry(ctx context.Context, key string) (string, error)
	Release(ctx context.Context, key, token string) error
	Extend(ctx context.Context, key, token string, ttl time.Duration) error
	TTL() time.Duration
}
