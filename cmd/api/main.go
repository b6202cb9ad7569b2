package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/relaycrm/messaging-gateway/cmd/mainconfig"
	"github.com/relaycrm/messaging-gateway/internal/accounts"
	"github.com/relaycrm/messaging-gateway/internal/api/router"
	"github.com/relaycrm/messaging-gateway/internal/channels/instagram"
	"github.com/relaycrm/messaging-gateway/internal/channels/whatsapp"
	appconfig "github.com/relaycrm/messaging-gateway/internal/config"
	"github.com/relaycrm/messaging-gateway/internal/conversations"
	"github.com/relaycrm/messaging-gateway/internal/crm"
	"github.com/relaycrm/messaging-gateway/internal/events"
	"github.com/relaycrm/messaging-gateway/internal/http/handlers"
	"github.com/relaycrm/messaging-gateway/internal/leads"
	"github.com/relaycrm/messaging-gateway/internal/messages"
	"github.com/relaycrm/messaging-gateway/internal/observability/metrics"
	"github.com/relaycrm/messaging-gateway/internal/outbound"
	"github.com/relaycrm/messaging-gateway/internal/queue"
	deliveryworker "github.com/relaycrm/messaging-gateway/internal/worker/delivery"
	"github.com/relaycrm/messaging-gateway/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting messaging gateway API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	cipher, err := accounts.NewTokenCipher(cfg.TokenEncryptionKey)
	if err != nil {
		logger.Error("failed to initialize token cipher", "error", err)
		os.Exit(1)
	}

	// Initialize stores
	accountStore := accounts.NewStore(pool, cipher)
	conversationStore := conversations.NewStore(pool)
	messageStore := messages.NewStore(pool)
	processedStore := events.NewProcessedStore(pool)

	// Delivery queue: SQS in deployed environments, in-memory for local dev
	var deliveryQueue queue.Queue
	if cfg.UseMemoryQueue {
		deliveryQueue = queue.NewMemoryQueue(0)
	} else {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		sqsQueue, err := queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.DeliveryQueueURL)
		if err != nil {
			logger.Error("failed to configure delivery queue", "error", err)
			os.Exit(1)
		}
		deliveryQueue = sqsQueue
	}

	gwMetrics := metrics.NewGatewayMetrics(nil)

	// Provider clients and the outbound pipeline
	waClient := whatsapp.New(whatsapp.Config{
		BaseURL:    cfg.GraphAPIBaseURL,
		Timeout:    cfg.GraphAPITimeout,
		MaxRetries: cfg.GraphAPIRetries,
		Logger:     logger.Logger,
	})
	igClient := instagram.NewClient(cfg.GraphAPIBaseURL, nil)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "provider-send",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	dispatcher := outbound.NewDispatcher(pool, messageStore, conversationStore, accountStore, deliveryQueue, logger).
		RegisterSender("whatsapp", outbound.NewWhatsAppSender(waClient)).
		RegisterSender("instagram", outbound.NewInstagramSender(igClient)).
		WithLimiter(rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendBurst)).
		WithBreaker(breaker).
		WithMaxAttempts(cfg.SendMaxAttempts).
		WithBaseDelay(cfg.SendBaseDelay)

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(handlers.WebhookConfig{
		Accounts:        accountStore,
		Processed:       processedStore,
		Queue:           deliveryQueue,
		Logger:          logger,
		Metrics:         gwMetrics,
		VerifyToken:     cfg.WebhookVerifyToken,
		AllowUnverified: cfg.WebhookAllowUnverified,
	})
	conversationHandler := handlers.NewConversationHandler(conversationStore, messageStore, dispatcher, logger)

	// An in-memory queue never leaves this process, so the delivery
	// pipeline has to run here for enqueued jobs to go anywhere.
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory queue, running delivery pipeline in-process")
		processor := deliveryworker.NewProcessor(pool, conversationStore, messageStore, leads.NewPostgresRepository(pool), dispatcher, logger).
			WithMetrics(gwMetrics).
			WithCountryCode(cfg.DefaultCountryCode)
		worker := deliveryworker.NewWorker(deliveryQueue, processor, logger).
			WithWorkers(cfg.WorkerCount)
		go worker.Start(ctx)

		retrySender := deliveryworker.NewRetrySender(messageStore, dispatcher, logger).
			WithInterval(cfg.RetryInterval).
			WithMaxAttempts(cfg.SendMaxAttempts)
		go retrySender.Start(ctx)

		projector := crm.NewActivityProjector(pool, logger)
		deliverer := events.NewDeliverer(events.NewOutboxStore(pool), projector, logger).
			WithInterval(cfg.OutboxInterval)
		go deliverer.Start(ctx)
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:         logger,
		Webhooks:       webhookHandler,
		Conversations:  conversationHandler,
		APIJWTSecret:   cfg.APIJWTSecret,
		APIRatePerSec:  cfg.APIRatePerSec,
		APIRateBurst:   cfg.APIRateBurst,
		MetricsHandler: promhttp.Handler(),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
