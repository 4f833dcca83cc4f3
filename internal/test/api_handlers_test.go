package test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"order-service/internal/api"
	"order-service/internal/lock"
	"order-service/internal/models"
)

// MockOrderService implements the order service interface for testing
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

// MockEventService implements the event service interface for testing
type MockEventService struct {
	mock.Mock
}

func (m *MockEventService) HandlePaymentEvent(ctx context.Context, event *models.PaymentEvent) (*models.WebhookAckResponse, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WebhookAckResponse), args.Error(1)
}

func (m *MockEventService) SweepStaleOrders(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockDeadLetterService implements the dead-letter service interface for testing
type MockDeadLetterService struct {
	mock.Mock
}

func (m *MockDeadLetterService) List(ctx context.Context) ([]models.DeadLetter, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.DeadLetter), args.Error(1)
}

func (m *MockDeadLetterService) Get(ctx context.Context, taskID uuid.UUID) (*models.DeadLetter, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DeadLetter), args.Error(1)
}

func (m *MockDeadLetterService) Retry(ctx context.Context, taskID uuid.UUID) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (m *MockDeadLetterService) RetryAll(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func setupTestRouter(orders *MockOrderService, events *MockEventService, deadLetters *MockDeadLetterService) http.Handler {
	handler := api.NewOrderHandler(orders, events, deadLetters, "order-service-test")
	return handler.SetupRoutes()
}

func TestCreateOrderEndpoint_Success(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderService)
	mockEvents := new(MockEventService)
	mockDLQ := new(MockDeadLetterService)
	router := setupTestRouter(mockOrders, mockEvents, mockDLQ)

	order := pendingOrder()
	mockOrders.On("CreateOrder", mock.Anything, mock.Anything).Return(order, nil)

	body, _ := json.Marshal(models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items:   []models.CreateOrderItemInput{{ProductID: productA.String(), Quantity: 2}},
	})

	// Act
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp models.OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, order.ID, resp.ID)
	assert.Equal(t, models.OrderStatusPending, resp.Status)
}

func TestCreateOrderEndpoint_MissingItemsRejected(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderService)
	router := setupTestRouter(mockOrders, new(MockEventService), new(MockDeadLetterService))

	body := []byte(`{"buyer_id":"buyer-1","items":[]}`)

	// Act
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockOrders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestCreateOrderEndpoint_InsufficientStockReturns409(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderService)
	router := setupTestRouter(mockOrders, new(MockEventService), new(MockDeadLetterService))

	mockOrders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, &models.InsufficientStockError{
		ProductID: productA, Requested: 5, Available: 2,
	})

	body, _ := json.Marshal(models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items:   []models.CreateOrderItemInput{{ProductID: productA.String(), Quantity: 5}},
	})

	// Act
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusConflict, w.Code)

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, string(models.ErrorCodeInsufficientStock), problem.Code)
}

func TestCreateOrderEndpoint_LockTimeoutReturns409(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderService)
	router := setupTestRouter(mockOrders, new(MockEventService), new(MockDeadLetterService))

	mockOrders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, lock.ErrLockTimeout)

	body, _ := json.Marshal(models.CreateOrderRequest{
		BuyerID: "buyer-1",
		Items:   []models.CreateOrderItemInput{{ProductID: productA.String(), Quantity: 1}},
	})

	// Act
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetOrderEndpoint_NotFound(t *testing.T) {
	// Arrange
	mockOrders := new(MockOrderService)
	router := setupTestRouter(mockOrders, new(MockEventService), new(MockDeadLetterService))

	orderID := uuid.New()
	mockOrders.On("GetOrder", mock.Anything, orderID).
		Return(nil, &models.NotFoundError{Resource: "order", ID: orderID.String()})

	// Act
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil)
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentWebhookEndpoint_AppliesEvent(t *testing.T) {
	// Arrange
	mockEvents := new(MockEventService)
	router := setupTestRouter(new(MockOrderService), mockEvents, new(MockDeadLetterService))

	ack := &models.WebhookAckResponse{EventID: "evt-1", Result: "applied", Status: "confirmed"}
	mockEvents.On("HandlePaymentEvent", mock.Anything, mock.MatchedBy(func(e *models.PaymentEvent) bool {
		return e.EventID == "evt-1" && e.Status == "success"
	})).Return(ack, nil)

	body := []byte(`{"event_id":"evt-1","order_reference":"ORD-AAAABBBBCCCC","status":"success","amount_cents":5500}`)

	// Act
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.WebhookAckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "applied", resp.Result)
}

func TestPaymentWebhookEndpoint_InvalidStatusRejected(t *testing.T) {
	// Arrange
	mockEvents := new(MockEventService)
	router := setupTestRouter(new(MockOrderService), mockEvents, new(MockDeadLetterService))

	body := []byte(`{"event_id":"evt-1","order_reference":"ORD-AAAABBBBCCCC","status":"refunded"}`)

	// Act
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockEvents.AssertNotCalled(t, "HandlePaymentEvent", mock.Anything, mock.Anything)
}

func TestDeadLetterEndpoints(t *testing.T) {
	// Arrange
	mockDLQ := new(MockDeadLetterService)
	router := setupTestRouter(new(MockOrderService), new(MockEventService), mockDLQ)

	taskID := uuid.New()
	deadLetter := models.DeadLetter{TaskID: taskID, TaskType: models.TaskTypeConfirmationEmail, Status: models.DeadLetterStatusDead}
	mockDLQ.On("List", mock.Anything).Return([]models.DeadLetter{deadLetter}, nil)
	mockDLQ.On("Get", mock.Anything, taskID).Return(&deadLetter, nil)
	mockDLQ.On("Retry", mock.Anything, taskID).Return(nil)
	mockDLQ.On("RetryAll", mock.Anything).Return(1, nil)

	// Act + Assert: list
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/dead-letters", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), taskID.String())

	// Act + Assert: get one
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/dead-letters/"+taskID.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.TaskTypeConfirmationEmail)

	// Act + Assert: retry one
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/dead-letters/"+taskID.String()+"/retry", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Act + Assert: retry all
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/dead-letters/retry-all", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	mockDLQ.AssertExpectations(t)
}

func TestGetDeadLetterEndpoint_NotFound(t *testing.T) {
	// Arrange
	mockDLQ := new(MockDeadLetterService)
	router := setupTestRouter(new(MockOrderService), new(MockEventService), mockDLQ)

	taskID := uuid.New()
	mockDLQ.On("Get", mock.Anything, taskID).
		Return(nil, &models.NotFoundError{Resource: "dead letter", ID: taskID.String()})

	// Act
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/dead-letters/"+taskID.String(), nil))

	// Assert
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := setupTestRouter(new(MockOrderService), new(MockEventService), new(MockDeadLetterService))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
