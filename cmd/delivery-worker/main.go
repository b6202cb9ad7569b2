package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/relaycrm/messaging-gateway/cmd/mainconfig"
	"github.com/relaycrm/messaging-gateway/internal/accounts"
	"github.com/relaycrm/messaging-gateway/internal/channels/instagram"
	"github.com/relaycrm/messaging-gateway/internal/channels/whatsapp"
	appconfig "github.com/relaycrm/messaging-gateway/internal/config"
	"github.com/relaycrm/messaging-gateway/internal/conversations"
	"github.com/relaycrm/messaging-gateway/internal/crm"
	"github.com/relaycrm/messaging-gateway/internal/events"
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

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting delivery worker", "env", cfg.Env, "workers", cfg.WorkerCount)

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

	accountStore := accounts.NewStore(pool, cipher)
	conversationStore := conversations.NewStore(pool)
	messageStore := messages.NewStore(pool)
	leadsRepo := leads.NewPostgresRepository(pool)

	// The worker is a separate process, so an in-memory queue would
	// never see the API's jobs. SQS is the only queue that works here.
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	deliveryQueue, err := queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.DeliveryQueueURL)
	if err != nil {
		logger.Error("failed to configure delivery queue", "error", err)
		os.Exit(1)
	}

	gwMetrics := metrics.NewGatewayMetrics(nil)

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

	processor := deliveryworker.NewProcessor(pool, conversationStore, messageStore, leadsRepo, dispatcher, logger).
		WithMetrics(gwMetrics).
		WithCountryCode(cfg.DefaultCountryCode)

	worker := deliveryworker.NewWorker(deliveryQueue, processor, logger).
		WithWorkers(cfg.WorkerCount)

	retrySender := deliveryworker.NewRetrySender(messageStore, dispatcher, logger).
		WithInterval(cfg.RetryInterval).
		WithMaxAttempts(cfg.SendMaxAttempts)

	projector := crm.NewActivityProjector(pool, logger)
	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), projector, logger).
		WithInterval(cfg.OutboxInterval)

	workerDone := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(workerDone)
	}()
	go retrySender.Start(ctx)
	go deliverer.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down delivery worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	select {
	case <-workerDone:
		logger.Info("delivery worker stopped")
	case <-doneCtx.Done():
		logger.Error("delivery worker shutdown timed out", "error", doneCtx.Err())
	}
}
