package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"order-service/internal/interfaces"
	"order-service/internal/models"
)

// OrderHandler handles the public HTTP surface: order creation and lookup,
// payment webhooks and dead-letter administration.
type OrderHandler struct {
	orderService      interfaces.OrderService
	eventService      interfaces.EventService
	deadLetterService interfaces.DeadLetterService
	serviceName       string
}

// NewOrderHandler creates a new HTTP handler
func NewOrderHandler(
	orderService interfaces.OrderService,
	eventService interfaces.EventService,
	deadLetterService interfaces.DeadLetterService,
	serviceName string,
) *OrderHandler {
	return &OrderHandler{
		orderService:      orderService,
		eventService:      eventService,
		deadLetterService: deadLetterService,
		serviceName:       serviceName,
	}
}

// SetupRoutes sets up the HTTP routes
func (h *OrderHandler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/health", h.healthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/orders", h.createOrder)
		api.GET("/orders/:id", h.getOrder)
		api.POST("/webhooks/payment", h.paymentWebhook)

		admin := api.Group("/admin")
		{
			admin.GET("/dead-letters", h.listDeadLetters)
			admin.GET("/dead-letters/:task_id", h.getDeadLetter)
			admin.POST("/dead-letters/:task_id/retry", h.retryDeadLetter)
			admin.POST("/dead-letters/retry-all", h.retryAllDeadLetters)
		}
	}

	return r
}

// createOrder places a new order
func (h *OrderHandler) createOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Failed to bind order request")
		writeBindingError(c, err)
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		log.Error().Err(err).Str("buyer_id", req.BuyerID).Msg("Failed to create order")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.OrderResponseFrom(order))
}

// getOrder returns an order with its items
func (h *OrderHandler) getOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(400, models.NewValidationProblem("id", "Invalid order ID format"))
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.OrderResponseFrom(order))
}

// paymentWebhook ingests a payment provider event. Duplicates are
// acknowledged with 200 so the provider stops retrying.
func (h *OrderHandler) paymentWebhook(c *gin.Context) {
	var req models.PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Failed to bind webhook request")
		writeBindingError(c, err)
		return
	}

	event := &models.PaymentEvent{
		EventID:        req.EventID,
		OrderReference: req.OrderReference,
		Status:         req.Status,
		AmountCents:    req.AmountCents,
	}

	ack, err := h.eventService.HandlePaymentEvent(c.Request.Context(), event)
	if err != nil {
		log.Error().Err(err).
			Str("event_id", req.EventID).
			Str("order_reference", req.OrderReference).
			Msg("Failed to process payment webhook")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}

// listDeadLetters returns all unresolved dead-letter records
func (h *OrderHandler) listDeadLetters(c *gin.Context) {
	deadLetters, err := h.deadLetterService.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dead_letters": deadLetters,
		"count":        len(deadLetters),
	})
}

// getDeadLetter returns the dead-letter record for one task
func (h *OrderHandler) getDeadLetter(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		c.JSON(400, models.NewValidationProblem("task_id", "Invalid task ID format"))
		return
	}

	letter, err := h.deadLetterService.Get(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, letter)
}

// retryDeadLetter requeues a single dead task
func (h *OrderHandler) retryDeadLetter(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		c.JSON(400, models.NewValidationProblem("task_id", "Invalid task ID format"))
		return
	}

	if err := h.deadLetterService.Retry(c.Request.Context(), taskID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": "requeued"})
}

// retryAllDeadLetters requeues every unresolved dead task
func (h *OrderHandler) retryAllDeadLetters(c *gin.Context) {
	requeued, err := h.deadLetterService.RetryAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requeued": requeued})
}

// healthCheck reports service liveness
func (h *OrderHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}
