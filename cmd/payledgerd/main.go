package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renlav/payledger/internal/infra/gateway/ledgerd"
	"github.com/renlav/payledger/internal/infra/gateway/relay"
	"github.com/renlav/payledger/internal/infra/postgres"
	infraRedis "github.com/renlav/payledger/internal/infra/redis"
	"github.com/renlav/payledger/internal/platform/events"
	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/internal/platform/processing"
	"github.com/renlav/payledger/internal/platform/reconcile"
	"github.com/renlav/payledger/internal/transport/httpapi"
	"github.com/renlav/payledger/internal/transport/httpapi/handler"
	"github.com/renlav/payledger/internal/transport/httpapi/middleware"
	"github.com/renlav/payledger/pkg/config"
	"github.com/renlav/payledger/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.Env)
	log.Info("Starting payledger daemon",
		"env", cfg.Env,
		"port", cfg.Port,
		"primary_device", cfg.PrimaryDevice,
	)

	// Retry and reconciliation policy
	policy := config.DefaultPolicy()
	if cfg.PolicyPath != "" {
		policy, err = config.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			log.Error("Failed to load policy", "error", err)
			os.Exit(1)
		}
		log.Info("Loaded policy", "path", cfg.PolicyPath)
	}

	// Database connection pool
	db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Redis holds the balance cache and the reconciliation snapshot
	redisClient, err := infraRedis.NewClient(ctx, cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("Redis connection established")

	balanceCache := infraRedis.NewBalanceCache(redisClient, log)
	snapshots := infraRedis.NewSnapshotStore(redisClient, log)

	// External gateways
	ledgerClient := ledgerd.NewClient(cfg.LedgerURL, log)
	relayClient := relay.NewClient(cfg.RelayURL, cfg.RelayToken, log)
	if cfg.RelayURL == "" {
		log.Warn("RELAY_URL not configured, notification sends will fail until it is set")
	}

	// Domain services
	bus := events.NewBus()
	recordRepo := postgres.NewRecordRepository(db.Pool)
	paymentSvc := payment.NewService(recordRepo, bus, log)
	processingSvc := processing.NewService(recordRepo, paymentSvc, ledgerClient, relayClient, balanceCache, bus, policy, log)
	reconcileSvc := reconcile.NewService(recordRepo, ledgerClient, snapshots, bus, policy, cfg.PrimaryDevice, log)

	// Device API
	jwtSvc := middleware.NewJWTService(cfg.JWTSecret)
	jwtMiddleware := middleware.JWTMiddleware(jwtSvc)

	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	reconcileHandler := handler.NewReconcileHandler(bus)
	balanceHandler := handler.NewBalanceHandler(ledgerClient, balanceCache, log)
	eventHandler := handler.NewEventHandler(bus, processingSvc)
	healthHandler := handler.NewHealthHandler(db)

	allowedOrigins := []string{"http://localhost:5173"}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		allowedOrigins = []string{origins}
	}

	r := httpapi.NewRouter(httpapi.Config{
		Logger:           log,
		AllowedOrigins:   allowedOrigins,
		PaymentHandler:   paymentHandler,
		ReconcileHandler: reconcileHandler,
		BalanceHandler:   balanceHandler,
		EventHandler:     eventHandler,
		HealthHandler:    healthHandler,
		JWTMiddleware:    jwtMiddleware,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background loops. Processing blocks in Run; reconcile spawns its own
	// goroutine.
	go processingSvc.Run(ctx)
	log.Info("Payment processing started")

	reconcileSvc.Run(ctx)
	log.Info("Reconciliation loop started")

	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}

	reconcileSvc.Stop()
	processingSvc.Stop()
	log.Info("Shutdown complete")
}
