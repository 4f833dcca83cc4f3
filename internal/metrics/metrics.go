package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersCreated counts order creation outcomes by status
	// (created, validation_failed, insufficient_stock, conflict, error)
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of order creation attempts by outcome",
	}, []string{"status"})

	// OrderCreationDuration observes end-to-end order creation latency
	OrderCreationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_creation_duration_seconds",
		Help:    "Time taken to create an order",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	// PaymentWebhooksProcessed counts webhook outcomes
	// (accepted, duplicate, rejected, error)
	PaymentWebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_processed_total",
		Help: "Total payment webhooks processed by outcome",
	}, []string{"status"})

	// LockAcquisitions counts lock manager outcomes (acquired, timeout)
	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_lock_acquisitions_total",
		Help: "Total Redis lock acquisitions by outcome",
	}, []string{"status"})

	// TaskExecutions counts task runner outcomes by task type
	// (succeeded, retried, dead, terminal)
	TaskExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_executions_total",
		Help: "Total background task executions by task type and outcome",
	}, []string{"task_type", "status"})

	// TaskDuration observes task handler execution time
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_duration_seconds",
		Help:    "Background task execution time",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	}, []string{"task_type"})

	// DeadLetters tracks the number of unresolved dead-letter records
	DeadLetters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dead_letters_total",
		Help: "Current number of unresolved dead-letter tasks",
	})

	// LowStockProducts tracks products at or below their low-stock threshold
	LowStockProducts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "low_stock_products_total",
		Help: "Current number of low stock products",
	})
)
