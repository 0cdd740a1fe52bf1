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

	"commerce-sync/config"
	"commerce-sync/internal/api"
	"commerce-sync/internal/broker"
	"commerce-sync/internal/chain"
	"commerce-sync/internal/redisclient"
	"commerce-sync/internal/service"
	"commerce-sync/internal/store"
	"commerce-sync/internal/util"
	"commerce-sync/internal/worker"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting commerce sync service")

	tp, err := util.InitTracer("commerce-sync", cfg.Observ.JaegerEndpoint)
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

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 15*time.Second)
	gateway, err := chain.Dial(dialCtx,
		cfg.Chain.RPCURL,
		common.HexToAddress(cfg.Chain.RegistryAddress),
		common.HexToAddress(cfg.Chain.EscrowAddress),
		common.HexToAddress(cfg.Chain.SubmitterAddress),
		time.Duration(cfg.Chain.CallTimeoutSeconds)*time.Second,
	)
	if err != nil {
		dialCancel()
		log.Fatalf("Failed to connect to chain: %v", err)
	}
	submitter, err := chain.NewSubmitter(dialCtx, gateway, cfg.Chain.SubmitterKey,
		time.Duration(cfg.Chain.ReceiptTimeoutSeconds)*time.Second)
	dialCancel()
	if err != nil {
		log.Fatalf("Failed to initialize transaction submitter: %v", err)
	}
	submitter.SetMargin(cfg.Chain.GasMarginNumerator, cfg.Chain.GasMarginDenominator)
	log.Println("Chain gateway connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEscrow)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	orderReconciler := service.NewOrderReconciler(db)
	catalogReconciler := service.NewCatalogReconciler(db, gateway, submitter, eventPublisher, redisClient)
	orchestrator := service.NewDeliveryOrchestrator(db, gateway, submitter, orderReconciler, eventPublisher)
	checkout := service.NewCheckoutService(db, gateway, submitter, common.HexToAddress(cfg.Chain.SellerAddress))
	carts := service.NewSessionCarts(db)
	rewards := service.NewRewardsService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	reconcileWorker := worker.NewReconcileWorker(catalogReconciler, redisClient,
		time.Duration(cfg.Reconcile.IntervalSeconds)*time.Second)
	go func() {
		if err := reconcileWorker.Start(workerCtx); err != nil {
			log.Printf("Reconcile worker error: %v", err)
		}
	}()

	escrowPoller := worker.NewEscrowPoller(db, gateway, eventPublisher,
		time.Duration(cfg.Reconcile.EscrowPollSeconds)*time.Second)
	go func() {
		if err := escrowPoller.Start(workerCtx); err != nil {
			log.Printf("Escrow poller error: %v", err)
		}
	}()

	syncConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEscrow, cfg.Kafka.ConsumerGroup)
	syncWorker := worker.NewSyncWorker(syncConsumer, db, orderReconciler)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil {
			log.Printf("Sync worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(db, redisClient, checkout, orchestrator, catalogReconciler, carts, rewards)
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
