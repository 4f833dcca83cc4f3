package test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"order-service/internal/lock"
	"order-service/internal/models"
	"order-service/internal/service"
)

var (
	productA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	productB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func testProducts() map[uuid.UUID]*models.Product {
	return map[uuid.UUID]*models.Product{
		productA: {ID: productA, Name: "Widget", PriceCents: 1500, StockQuantity: 10, IsActive: true},
		productB: {ID: productB, Name: "Gadget", PriceCents: 2500, StockQuantity: 5, IsActive: true},
	}
}

// newMockTx returns a transaction whose Commit succeeds
func newMockTx(t *testing.T) *sqlx.Tx {
	db, smock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	smock.ExpectBegin()
	smock.ExpectCommit()

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	tx, err := sqlxDB.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	return tx
}

func TestOrderService_CreateOrder_Success(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderRepository)
	mockProducts := new(MockProductRepository)
	mockTasks := new(MockTaskRepository)
	mockOutbox := new(MockOutboxRepository)
	mockLocks := new(MockLockManager)

	svc := service.NewOrderService(mockOrders, mockProducts, mockTasks, mockOutbox, mockLocks, 3)

	mockProducts.On("GetProducts", mock.Anything, mock.Anything).Return(testProducts(), nil)

	mockLocks.On("AcquireWithRetry", mock.Anything, "product:"+productA.String()).Return("token-a", nil)
	mockLocks.On("AcquireWithRetry", mock.Anything, "product:"+productB.String()).Return("token-b", nil)
	mockLocks.On("TTL").Return(10 * time.Second)
	mockLocks.On("Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockLocks.On("Release", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	mockProducts.On("Reserve", mock.Anything, productA, 2).Return(nil)
	mockProducts.On("Reserve", mock.Anything, productB, 1).Return(nil)

	tx := newMockTx(t)
	mockOrders.On("BeginTx", mock.Anything).Return(tx, nil)
	mockOrders.On("CreateOrder", mock.Anything, tx, mock.Anything).Return(nil)
	mockTasks.On("Enqueue", mock.Anything, tx, mock.Anything).Return(nil)
	mockOutbox.On("Insert", mock.Anything, tx, models.EventTypeOrderCreated, mock.Anything, mock.Anything).Return(nil)

	req := &models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items: []models.CreateOrderItemInput{
			{ProductID: productB.String(), Quantity: 1},
			{ProductID: productA.String(), Quantity: 2},
		},
	}

	// Act
	order, err := svc.CreateOrder(context.Background(), req)

	// Assert
	assert.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.True(t, strings.HasPrefix(order.PaymentReference, "ORD-"))
	assert.Len(t, order.Items, 2)

	// Lines are sorted ascending by product id with prices snapshotted
	assert.Equal(t, productA, order.Items[0].ProductID)
	assert.Equal(t, int64(1500), order.Items[0].UnitPriceCents)
	assert.Equal(t, productB, order.Items[1].ProductID)
	assert.Equal(t, int64(2500), order.Items[1].UnitPriceCents)
	assert.Equal(t, int64(2*1500+1*2500), order.TotalCents)

	mockProducts.AssertExpectations(t)
	mockLocks.AssertExpectations(t)
	mockOrders.AssertExpectations(t)
	mockTasks.AssertExpectations(t)
	mockOutbox.AssertExpectations(t)
}

func TestOrderService_CreateOrder_MergesDuplicateLines(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderRepository)
	mockProducts := new(MockProductRepository)
	mockTasks := new(MockTaskRepository)
	mockOutbox := new(MockOutboxRepository)
	mockLocks := new(MockLockManager)

	svc := service.NewOrderService(mockOrders, mockProducts, mockTasks, mockOutbox, mockLocks, 3)

	mockProducts.On("GetProducts", mock.Anything, mock.Anything).Return(testProducts(), nil)
	mockLocks.On("AcquireWithRetry", mock.Anything, "product:"+productA.String()).Return("token-a", nil)
	mockLocks.On("TTL").Return(10 * time.Second)
	mockLocks.On("Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockLocks.On("Release", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// The duplicate lines collapse into one reservation for the summed qty
	mockProducts.On("Reserve", mock.Anything, productA, 3).Return(nil)

	tx := newMockTx(t)
	mockOrders.On("BeginTx", mock.Anything).Return(tx, nil)
	mockOrders.On("CreateOrder", mock.Anything, tx, mock.Anything).Return(nil)
	mockTasks.On("Enqueue", mock.Anything, tx, mock.Anything).Return(nil)
	mockOutbox.On("Insert", mock.Anything, tx, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	req := &models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items: []models.CreateOrderItemInput{
			{ProductID: productA.String(), Quantity: 1},
			{ProductID: productA.String(), Quantity: 2},
		},
	}

	// Act
	order, err := svc.CreateOrder(context.Background(), req)

	// Assert
	assert.NoError(t, err)
	require.NotNil(t, order)
	assert.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)

	mockProducts.AssertExpectations(t)
}

func TestOrderService_CreateOrder_InsufficientStockRollsBack(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderRepository)
	mockProducts := new(MockProductRepository)
	mockTasks := new(MockTaskRepository)
	mockOutbox := new(MockOutboxRepository)
	mockLocks := new(MockLockManager)

	svc := service.NewOrderService(mockOrders, mockProducts, mockTasks, mockOutbox, mockLocks, 3)

	mockProducts.On("GetProducts", mock.Anything, mock.Anything).Return(testProducts(), nil)
	mockLocks.On("AcquireWithRetry", mock.Anything, mock.Anything).Return("token", nil)
	mockLocks.On("Release", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	mockProducts.On("Reserve", mock.Anything, productA, 2).Return(nil)
	mockProducts.On("Reserve", mock.Anything, productB, 9).Return(&models.InsufficientStockError{
		ProductID: productB, Requested: 9, Available: 5,
	})

	// The earlier reservation must be compensated
	mockProducts.On("Restore", mock.Anything, productA, 2).Return(nil)

	req := &models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items: []models.CreateOrderItemInput{
			{ProductID: productA.String(), Quantity: 2},
			{ProductID: productB.String(), Quantity: 9},
		},
	}

	// Act
	order, err := svc.CreateOrder(context.Background(), req)

	// Assert
	assert.Nil(t, order)
	assert.True(t, models.IsInsufficientStockError(err))

	mockProducts.AssertExpectations(t)
	mockOrders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderService_CreateOrder_LockTimeout(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderRepository)
	mockProducts := new(MockProductRepository)
	mockTasks := new(MockTaskRepository)
	mockOutbox := new(MockOutboxRepository)
	mockLocks := new(MockLockManager)

	svc := service.NewOrderService(mockOrders, mockProducts, mockTasks, mockOutbox, mockLocks, 3)

	mockProducts.On("GetProducts", mock.Anything, mock.Anything).Return(testProducts(), nil)
	mockLocks.On("AcquireWithRetry", mock.Anything, "product:"+productA.String()).Return("", lock.ErrLockTimeout)

	req := &models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items:   []models.CreateOrderItemInput{{ProductID: productA.String(), Quantity: 1}},
	}

	// Act
	order, err := svc.CreateOrder(context.Background(), req)

	// Assert
	assert.Nil(t, order)
	assert.True(t, models.IsConflictError(err))
	assert.True(t, errors.Is(err, lock.ErrLockTimeout))

	mockProducts.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderService_CreateOrder_UnknownProduct(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderRepository)
	mockProducts := new(MockProductRepository)
	mockTasks := new(MockTaskRepository)
	mockOutbox := new(MockOutboxRepository)
	mockLocks := new(MockLockManager)

	svc := service.NewOrderService(mockOrders, mockProducts, mockTasks, mockOutbox, mockLocks, 3)

	mockProducts.On("GetProducts", mock.Anything, mock.Anything).
		Return(map[uuid.UUID]*models.Product{}, nil)

	req := &models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items:   []models.CreateOrderItemInput{{ProductID: productA.String(), Quantity: 1}},
	}

	// Act
	order, err := svc.CreateOrder(context.Background(), req)

	// Assert
	assert.Nil(t, order)
	assert.True(t, models.IsNotFoundError(err))
	mockLocks.AssertNotCalled(t, "AcquireWithRetry", mock.Anything, mock.Anything)
}

func TestOrderService_CreateOrder_EmptyItemsRejected(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderRepository)
	mockProducts := new(MockProductRepository)
	mockTasks := new(MockTaskRepository)
	mockOutbox := new(MockOutboxRepository)
	mockLocks := new(MockLockManager)

	svc := service.NewOrderService(mockOrders, mockProducts, mockTasks, mockOutbox, mockLocks, 3)

	// Act: no items at all, not even an empty slice
	order, err := svc.CreateOrder(context.Background(), &models.CreateOrderRequest{BuyerID: "buyer-1", Items: nil})

	// Assert: rejected before any lock, stock or persistence work
	assert.Nil(t, order)
	assert.True(t, models.IsValidationError(err))
	mockProducts.AssertNotCalled(t, "GetProducts", mock.Anything, mock.Anything)
	mockLocks.AssertNotCalled(t, "AcquireWithRetry", mock.Anything, mock.Anything)
	mockOrders.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestOrderService_CreateOrder_InvalidQuantity(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderRepository)
	mockProducts := new(MockProductRepository)
	mockTasks := new(MockTaskRepository)
	mockOutbox := new(MockOutboxRepository)
	mockLocks := new(MockLockManager)

	svc := service.NewOrderService(mockOrders, mockProducts, mockTasks, mockOutbox, mockLocks, 3)

	req := &models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items:   []models.CreateOrderItemInput{{ProductID: productA.String(), Quantity: 0}},
	}

	// Act
	order, err := svc.CreateOrder(context.Background(), req)

	// Assert
	assert.Nil(t, order)
	assert.True(t, models.IsValidationError(err))
	mockProducts.AssertNotCalled(t, "GetProducts", mock.Anything, mock.Anything)
}

func TestOrderService_CreateOrder_PersistFailureRestoresStock(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderRepository)
	mockProducts := new(MockProductRepository)
	mockTasks := new(MockTaskRepository)
	mockOutbox := new(MockOutboxRepository)
	mockLocks := new(MockLockManager)

	svc := service.NewOrderService(mockOrders, mockProducts, mockTasks, mockOutbox, mockLocks, 3)

	mockProducts.On("GetProducts", mock.Anything, mock.Anything).Return(testProducts(), nil)
	mockLocks.On("AcquireWithRetry", mock.Anything, mock.Anything).Return("token", nil)
	mockLocks.On("TTL").Return(10 * time.Second)
	mockLocks.On("Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockLocks.On("Release", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	mockProducts.On("Reserve", mock.Anything, productA, 1).Return(nil)
	mockOrders.On("BeginTx", mock.Anything).Return(nil, assert.AnError)

	// The committed reservation is compensated when persistence fails
	mockProducts.On("Restore", mock.Anything, productA, 1).Return(nil)

	req := &models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items:   []models.CreateOrderItemInput{{ProductID: productA.String(), Quantity: 1}},
	}

	// Act
	order, err := svc.CreateOrder(context.Background(), req)

	// Assert
	assert.Nil(t, order)
	assert.Error(t, err)
	mockProducts.AssertExpectations(t)
}

func TestOrderService_GetOrder_NotFound(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderRepository)
	svc := service.NewOrderService(mockOrders, nil, nil, nil, nil, 3)

	orderID := uuid.New()
	mockOrders.On("GetOrder", mock.Anything, orderID).Return(nil, nil)

	// Act
	order, err := svc.GetOrder(context.Background(), orderID)

	// Assert
	assert.Nil(t, order)
	assert.True(t, models.IsNotFoundError(err))
}
