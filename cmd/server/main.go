package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-payments/config"
	"marketplace-payments/internal/api"
	"marketplace-payments/internal/broker"
	"marketplace-payments/internal/processor"
	"marketplace-payments/internal/push"
	"marketplace-payments/internal/redisclient"
	"marketplace-payments/internal/secrets"
	"marketplace-payments/internal/service"
	"marketplace-payments/internal/store"
	"marketplace-payments/internal/util"
	"marketplace-payments/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace payments service")

	tp, err := util.InitTracer("marketplace-payments", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	box, err := secrets.NewBox(cfg.Processor.CredentialKey)
	if err != nil {
		log.Fatalf("Failed to load credential encryption key: %v", err)
	}

	clientFactory := func(accountID, secretKey string) processor.API {
		return processor.NewClient(cfg.Processor.BaseURL, accountID, secretKey, cfg.Processor.Timeout)
	}

	feeCalculator := service.NewFeeCalculator(cfg.Business.FeeBasisPoints)
	credentialService := service.NewCredentialService(db, box, clientFactory)
	notifier := service.NewNotifier(db, eventPublisher, cfg.Business.OperatorID)
	stateMachine := service.NewStateMachine(db, redisClient, notifier, cfg.Business.TransitionRetries)
	reconciler := service.NewReconciler(db, db, db, stateMachine, notifier, cfg.Processor.WebhookSecret)
	intentService := service.NewIntentService(db, credentialService, feeCalculator, cfg.Business.Currency)
	orderService := service.NewOrderService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	transport := push.NewWebPushTransport(
		cfg.Push.VAPIDPublicKey,
		cfg.Push.VAPIDPrivateKey,
		cfg.Push.Subject,
		cfg.Push.Timeout,
	)
	if !transport.Configured() {
		logger.Warn("VAPID keys not configured, push delivery disabled")
	}

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, redisClient, transport)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(
		orderService,
		intentService,
		reconciler,
		stateMachine,
		credentialService,
		db,
		redisClient,
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
