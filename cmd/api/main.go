package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"order-service/internal/api"
	"order-service/internal/config"
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

// startHTTPServer starts the HTTP server
func startHTTPServer(cfg *config.Config, handler *api.OrderHandler) *http.Server {
	router := handler.SetupRoutes()

	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Order API server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// gracefulShutdown blocks until SIGINT/SIGTERM and drains the server
func gracefulShutdown(server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Order API...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Order API stopped")
}

func main() {
	setupLogging()
	log.Info().Msg("Starting Order API...")

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

	orderService := service.NewOrderService(orderRepo, productRepo, taskRepo, outboxRepo, locks, cfg.TaskMaxAttempts)
	eventService := service.NewEventService(orderRepo, productRepo, taskRepo, outboxRepo, webhookRepo, locks,
		cfg.TaskMaxAttempts, cfg.StaleOrderAge, cfg.TaskBatchSize)
	coordinator := tasks.NewCoordinator(taskRepo)

	handler := api.NewOrderHandler(orderService, eventService, coordinator, cfg.ServiceName)
	server := startHTTPServer(cfg, handler)

	gracefulShutdown(server)
}
