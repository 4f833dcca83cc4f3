package test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"order-service/internal/models"
)

// MockOrderRepository implements the order repository interface for testing
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqlx.Tx), args.Error(1)
}

func (m *MockOrderRepository) CreateOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderRepository) GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderRepository) UpdateOrderStatus(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, status models.OrderStatus, paymentStatus models.PaymentStatus) error {
	args := m.Called(ctx, tx, orderID, status, paymentStatus)
	return args.Error(0)
}

func (m *MockOrderRepository) GetStaleOrders(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *MockOrderRepository) InsertEmailLog(ctx context.Context, orderID uuid.UUID, emailType string) (bool, error) {
	args := m.Called(ctx, orderID, emailType)
	return args.Bool(0), args.Error(1)
}

// MockProductRepository implements the product repository interface for testing
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockProductRepository) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]*models.Product), args.Error(1)
}

func (m *MockProductRepository) Reserve(ctx context.Context, productID uuid.UUID, qty int) error {
	args := m.Called(ctx, productID, qty)
	return args.Error(0)
}

func (m *MockProductRepository) Restore(ctx context.Context, productID uuid.UUID, qty int) error {
	args := m.Called(ctx, productID, qty)
	return args.Error(0)
}

func (m *MockProductRepository) RefreshLowStockGauge(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockTaskRepository implements the task repository interface for testing
type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqlx.Tx), args.Error(1)
}

func (m *MockTaskRepository) Enqueue(ctx context.Context, tx *sqlx.Tx, task *models.Task) error {
	args := m.Called(ctx, tx, task)
	return args.Error(0)
}

func (m *MockTaskRepository) ClaimBatch(ctx context.Context, limit int) ([]models.Task, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.Task), args.Error(1)
}

func (m *MockTaskRepository) MarkSucceeded(ctx context.Context, taskID uuid.UUID) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (m *MockTaskRepository) Reschedule(ctx context.Context, taskID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastError string) error {
	args := m.Called(ctx, taskID, attemptCount, nextRetryAt, lastError)
	return args.Error(0)
}

func (m *MockTaskRepository) MarkDead(ctx context.Context, task *models.Task, attemptCount int, lastError string) error {
	args := m.Called(ctx, task, attemptCount, lastError)
	return args.Error(0)
}

func (m *MockTaskRepository) Requeue(ctx context.Context, taskID uuid.UUID) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (m *MockTaskRepository) ResolveDeadLetter(ctx context.Context, taskID uuid.UUID) (bool, error) {
	args := m.Called(ctx, taskID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTaskRepository) ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.DeadLetter), args.Error(1)
}

func (m *MockTaskRepository) GetDeadLetterByTaskID(ctx context.Context, taskID uuid.UUID) (*models.DeadLetter, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DeadLetter), args.Error(1)
}

func (m *MockTaskRepository) CountUnresolvedDeadLetters(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockOutboxRepository implements the outbox repository interface for testing
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Insert(ctx context.Context, tx *sqlx.Tx, eventType, key string, payload interface{}) error {
	args := m.Called(ctx, tx, eventType, key, payload)
	return args.Error(0)
}

func (m *MockOutboxRepository) TryAcquirePublishLock(ctx context.Context, lockKey int64) (bool, error) {
	args := m.Called(ctx, lockKey)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboxRepository) ReleasePublishLock(ctx context.Context, lockKey int64) error {
	args := m.Called(ctx, lockKey)
	return args.Error(0)
}

func (m *MockOutboxRepository) FetchBatchOrdered(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockOutboxRepository) IncrementPublishAttempts(ctx context.Context, id int64, lastError string) error {
	args := m.Called(ctx, id, lastError)
	return args.Error(0)
}

// MockWebhookEventRepository implements the idempotency store interface for testing
type MockWebhookEventRepository struct {
	mock.Mock
}

func (m *MockWebhookEventRepository) CheckAndReserve(ctx context.Context, eventID, eventType, payload string) (*models.WebhookEvent, bool, error) {
	args := m.Called(ctx, eventID, eventType, payload)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.WebhookEvent), args.Bool(1), args.Error(2)
}

func (m *MockWebhookEventRepository) RecordOutcome(ctx context.Context, eventID string, status models.WebhookStatus, outcome string) error {
	args := m.Called(ctx, eventID, status, outcome)
	return args.Error(0)
}

func (m *MockWebhookEventRepository) Get(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WebhookEvent), args.Error(1)
}

// MockLockManager implements the lock manager interface for testing
type MockLockManager struct {
	mock.Mock
}

func (m *MockLockManager) Acquire(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockLockManager) AcquireWithRetry(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockLockManager) Release(ctx context.Context, key, token string) error {
	args := m.Called(ctx, key, token)
	return args.Error(0)
}

func (m *MockLockManager) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	args := m.Called(ctx, key, token, ttl)
	return args.Error(0)
}

func (m *MockLockManager) TTL() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

// MockEmailSender implements the email sender interface for testing
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockEmailSender) SendStatusUpdate(ctx context.Context, order *models.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}
