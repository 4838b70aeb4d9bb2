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

	"payment-reconciler/config"
	"payment-reconciler/internal/api"
	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/broker"
	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/redisclient"
	"payment-reconciler/internal/service"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/util"
	"payment-reconciler/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment reconciler")

	tp, err := util.InitTracer("payment-reconciler", cfg.Observ.JaegerEndpoint)
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

	httpClient := gateway.NewHTTPClient()
	registry := gateway.NewRegistry(httpClient)
	credentials := buildCredentialSource(cfg)

	notifier := service.NewNotifier(httpClient, service.NotifierConfig{
		URL:         cfg.Notification.URL,
		MaxAttempts: cfg.Notification.MaxAttempts,
		Timeout:     cfg.Notification.Timeout,
		RetryDelay:  cfg.Notification.RetryDelay,
	}, db)

	resolver := service.NewResolver(db, redisClient)
	reconciler := service.NewReconciler(db, registry, resolver, eventPublisher, notifier, credentials, service.ReconcilerConfig{
		SyncMaxAge:  time.Duration(cfg.Sync.MaxAgeHours) * time.Hour,
		SyncLimit:   cfg.Sync.Limit,
		Throttle:    cfg.Sync.Throttle,
		CallTimeout: cfg.Sync.CallTimeout,
	})
	paymentService := service.NewPaymentService(db, registry, reconciler, credentials, cfg.Sync.CallTimeout)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	syncWorker := worker.NewSyncWorker(reconciler, cfg.Sync.Interval, time.Duration(cfg.Sync.MaxAgeHours)*time.Hour, cfg.Sync.Limit)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil {
			log.Printf("Sync worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reconciler, paymentService)
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
	syncWorker.Stop()

	log.Println("Server exited")
}

// buildCredentialSource maps gateway ids to the credentials loaded from the
// environment. Credentials flow into adapter calls as parameters only; they
// are never attached to loggers or persisted.
func buildCredentialSource(cfg *config.Config) service.CredentialSource {
	byID := map[string]gateway.Credentials{
		"cielo": {
			BaseURL:      cfg.Gateways.Cielo.BaseURL,
			ClientID:     cfg.Gateways.Cielo.ClientID,
			ClientSecret: cfg.Gateways.Cielo.ClientSecret,
		},
		"mercadopago": {
			BaseURL: cfg.Gateways.MercadoPago.BaseURL,
			Token:   cfg.Gateways.MercadoPago.Token,
		},
		"stripe": {
			BaseURL:       cfg.Gateways.Stripe.BaseURL,
			Token:         cfg.Gateways.Stripe.Token,
			WebhookSecret: cfg.Gateways.Stripe.WebhookSecret,
		},
		"legacy": {
			WebhookSecret: cfg.Gateways.Legacy.WebhookSecret,
		},
	}
	return func(gatewayID string) (gateway.Credentials, error) {
		creds, ok := byID[gatewayID]
		if !ok {
			return gateway.Credentials{}, apperr.Validation("unknown gateway: %s", gatewayID)
		}
		return creds, nil
	}
}
