// Package main provides the dispatch server executable with HTTP API and background pipeline.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coregx/dispatch"
	natsadapter "github.com/coregx/dispatch/adapters/nats"
	"github.com/coregx/dispatch/adapters/relica"
	"github.com/coregx/dispatch/cmd/dispatch-server/internal/api"
	"github.com/coregx/dispatch/cmd/dispatch-server/internal/config"
	"github.com/coregx/dispatch/retry"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// retryPolicy builds the inline delivery policy from configuration.
func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		Interval:       cfg.Dispatch.RetryInterval,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
	}
}

// recoveryPolicy builds the recovery loop policy from configuration.
func recoveryPolicy(cfg *config.Config) retry.RecoveryPolicy {
	return retry.RecoveryPolicy{
		Interval:       cfg.Dispatch.RecoveryInterval,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
		BatchSize:      cfg.Dispatch.RecoveryBatch,
	}
}

// SimpleLogger implements dispatch.Logger for standard logging.
type SimpleLogger struct{}

func (l *SimpleLogger) Debugf(format string, args ...interface{}) {
	log.Printf("[DEBUG] "+format, args...)
}
func (l *SimpleLogger) Infof(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}
func (l *SimpleLogger) Warnf(format string, args ...interface{}) {
	log.Printf("[WARN] "+format, args...)
}
func (l *SimpleLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}
func (l *SimpleLogger) Info(message string) {
	log.Printf("[INFO] %s", message)
}

func main() {
	log.Println("Starting Dispatch Server v0.1.0...")

	// Optional .env file for local development
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Configuration loaded:")
	log.Printf("   Server: %s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("   Database: %s (%s:%d)", cfg.Database.Driver, cfg.Database.Host, cfg.Database.Port)
	log.Printf("   Broker: %s (stream %s)", cfg.Broker.URL, cfg.Broker.Stream)
	log.Printf("   Buckets: %d, workers: %d, max attempts: %d",
		cfg.Dispatch.Buckets, cfg.Dispatch.Workers, cfg.Dispatch.MaxAttempts)

	// Connect to database
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("Failed to close database: %v", closeErr)
		}
	}()
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Database connection established")

	logger := &SimpleLogger{}

	// Create repositories using Relica adapters
	var repos *relica.Repositories
	if cfg.Database.Prefix != "" {
		repos = relica.NewRepositoriesWithPrefix(db, cfg.Database.Driver, cfg.Database.Prefix)
	} else {
		repos = relica.NewRepositories(db, cfg.Database.Driver)
	}
	log.Println("Repositories initialized (Relica adapters)")

	// Connect the broker
	broker, err := natsadapter.NewGateway(natsadapter.Config{
		URL:     cfg.Broker.URL,
		Stream:  cfg.Broker.Stream,
		Subject: cfg.Broker.Subject,
		Durable: cfg.Broker.Durable,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	log.Println("Broker gateway connected")

	// Delivery transports
	transmitter, err := dispatch.NewTransmitter(
		dispatch.NewHTTPWebhookGateway(cfg.Dispatch.AttemptTimeout),
		dispatch.NewLoggingEmailGateway(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create transmitter: %v", err)
	}

	// Create the dispatch service
	service, err := dispatch.NewDispatchService(
		dispatch.WithServiceBroker(broker),
		dispatch.WithServiceStores(repos.Subscription, repos.Notification,
			repos.Recovery, repos.Series, repos.EventLedger),
		dispatch.WithServiceTransmitter(transmitter),
		dispatch.WithServiceMigrations(db, cfg.Database.Driver),
		dispatch.WithServiceBuckets(cfg.Dispatch.Buckets),
		dispatch.WithServiceQueueSize(cfg.Dispatch.QueueSize),
		dispatch.WithServiceWorkers(cfg.Dispatch.Workers),
		dispatch.WithServicePolicy(retryPolicy(cfg)),
		dispatch.WithServiceRecoveryPolicy(recoveryPolicy(cfg)),
		dispatch.WithServicePollInterval(cfg.Dispatch.PollInterval),
		dispatch.WithServiceReapInterval(cfg.Dispatch.ReapInterval),
		dispatch.WithServiceMonitor(dispatch.NewLoggingMonitor(logger)),
		dispatch.WithServiceLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create dispatch service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Init(ctx); err != nil {
		log.Fatalf("Failed to initialize dispatch service: %v", err)
	}
	log.Println("Dispatch service initialized (migrations applied)")

	if err := service.StartWorkers(); err != nil {
		log.Fatalf("Failed to start delivery workers: %v", err)
	}
	if err := service.StartReaper(); err != nil {
		log.Fatalf("Failed to start reaper: %v", err)
	}

	go func() {
		if err := service.Run(ctx); err != nil {
			log.Fatalf("Dispatch service failed: %v", err)
		}
	}()
	log.Println("Dispatch pipeline running")

	// Create the exposed entry points
	publisher, err := dispatch.NewEventPublisher(broker, logger)
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}
	subscriptionManager, err := dispatch.NewSubscriptionManager(
		dispatch.WithSubscriptionStore(repos.Subscription),
		dispatch.WithSubscriptionMonitor(dispatch.NewLoggingMonitor(logger)),
		dispatch.WithSubscriptionLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create subscription manager: %v", err)
	}

	handler := api.NewHandler(publisher, subscriptionManager, service, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	cancel() // Stop consuming
	if err := service.Shutdown(30 * time.Second); err != nil {
		log.Printf("Dispatch service shutdown error: %v", err)
	}
	log.Println("Server stopped gracefully")
}
