package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"order-service/internal/config"
	"order-service/internal/email"
	"order-service/internal/kafka"
	"order-service/internal/lock"
	"order-service/internal/repository"
	"order-service/internal/service"
	"order-service/internal/tasks"
)

// setupLogging configures structured logging
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// initializeDatabase sets up and tests the database connection
func initializeDatabase(cfg *config.Config) *sqlx.DB {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	log.Info().Msg("Database connection established")
	return db
}

// initializeLocks sets up the Redis lock manager
func initializeLocks(cfg *config.Config) *lock.Manager {
	locks := lock.NewManager(
		cfg.RedisAddrs,
		cfg.RedisPassword,
		cfg.RedisClusterMode,
		cfg.RedisPoolSize,
		cfg.RedisKeyPrefix,
		cfg.LockTTL,
		lock.RetryPolicy{
			MaxAttempts: cfg.LockMaxAttempts,
			Backoff:     cfg.LockRetryBackoff,
			MaxWait:     cfg.LockMaxWait,
		},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := locks.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	log.Info().Msg("Redis connection established")

	return locks
}

// startMetricsServer exposes /metrics and /health for the worker
func startMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	server := &http.Server{
		Addr:    cfg.ServerAddr + ":" + cfg.ServerPort,
		Handler: mux,
	}

	go func() {
		log.Info().Str("address", server.Addr).Msg("Worker metrics server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
	}()

	return server
}

func main() {
	setupLogging()
	log.Info().Msg("Starting Order Worker...")

	cfg := config.LoadConfig()

	db := initializeDatabase(cfg)
	defer db.Close()

	locks := initializeLocks(cfg)
	defer locks.Close()

	orderRepo := repository.NewOrderRepository(db)
	productRepo := repository.NewProductRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)

	eventService := service.NewEventService(orderRepo, productRepo, taskRepo, outboxRepo, webhookRepo, locks,
		cfg.TaskMaxAttempts, cfg.StaleOrderAge, cfg.TaskBatchSize)

	publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
	defer publisher.Close()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaPaymentsTopic)
	defer consumer.Close()

	runner := tasks.NewRunner(taskRepo, tasks.RunnerConfig{
		BatchSize:    cfg.TaskBatchSize,
		PollInterval: cfg.TaskPollInterval,
		Concurrency:  cfg.WorkerConcurrency,
		BackoffBase:  cfg.TaskBackoffBase,
		BackoffCap:   cfg.TaskBackoffCap,
	})
	emailHandlers := tasks.NewEmailHandlers(orderRepo, email.NewLogSender("orders@example.com"))
	emailHandlers.RegisterWith(runner)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		publisher.RunOutboxPublisher(ctx, outboxRepo, cfg)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.ConsumePaymentEvents(ctx, eventService); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Payment consumer stopped with error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		eventService.RunStaleOrderSweeper(ctx, cfg.StaleOrderSweepInterval)
	}()

	metricsServer := startMetricsServer(cfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Order Worker...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server forced to shutdown")
	}

	log.Info().Msg("Order Worker stopped")
}
