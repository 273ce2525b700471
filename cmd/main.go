package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/db"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/handlers"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/ledger"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/logger"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/metrics"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/services"
)

func main() {
	// Load .env
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Error loading .env: %s", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.Development())
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Ledger: MongoDB when configured, otherwise process memory
	var store ledger.Store
	if cfg.MongoURI != "" {
		client, err := db.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Disconnect(client, 10*time.Second); err != nil {
				zl.Warn("error disconnecting from MongoDB", zap.Error(err))
			}
		}()

		mongoStore := ledger.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			return err
		}
		store = mongoStore
		zl.Info("using MongoDB ledger", zap.String("database", cfg.MongoDatabase))
	} else {
		store = ledger.NewMemoryStore()
		zl.Warn("MONGOURI not set; ledger entries are kept in memory and lost on restart")
	}

	// Initialize services and handlers
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	shopify := services.NewShopifyClient(cfg.Shopify, httpClient, zl)
	settler := services.NewSettler(store, shopify, m, zl)
	daraja := services.NewDarajaClient(cfg.Daraja, httpClient, zl)

	var providers []services.Provider
	for _, kind := range cfg.Providers {
		switch kind {
		case config.KindMpesaExpress:
			providers = append(providers, services.NewExpressProvider(cfg.Express, daraja, settler, zl))
		case config.KindMpesaC2B:
			providers = append(providers, services.NewC2BProvider(cfg.C2B, cfg.SandboxSimulate, daraja, store, settler, zl))
		case config.KindJenga:
			providers = append(providers, services.NewJengaProvider(cfg.Jenga, httpClient, settler, zl))
		}
	}
	orchestrator := services.NewOrchestrator(zl, m, providers...)

	router := handlers.NewRouter(handlers.RouterConfig{
		Orders:         handlers.NewOrderHandler(orchestrator, zl),
		Callbacks:      handlers.NewCallbackHandler(orchestrator, cfg.CallbackTimeout, zl),
		Limiter:        handlers.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		MetricsHandler: promhttp.Handler(),
		Metrics:        m,
		Log:            zl,
	})

	// Start server
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.CallbackTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("server running",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Environment),
			zap.Any("providers", cfg.Providers),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// In-flight callbacks are allowed to finish before the ledger closes.
	zl.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
