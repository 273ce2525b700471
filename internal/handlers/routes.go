package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/metrics"
)

type RouterConfig struct {
	Orders    *OrderHandler
	Callbacks *CallbackHandler
	// Limiter guards order creation; nil disables rate limiting.
	Limiter *RateLimiter
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Metrics        *metrics.Metrics
	Log            *zap.Logger
}

func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestID, AccessLog(cfg.Log, cfg.Metrics), Recover(cfg.Log))

	var create http.Handler = http.HandlerFunc(cfg.Orders.CreateOrder)
	if cfg.Limiter != nil {
		create = cfg.Limiter.Middleware(create)
	}
	router.Handle("/order/create", create).Methods("POST")

	router.HandleFunc("/order/express/callback", cfg.Callbacks.Handle(config.KindMpesaExpress)).Methods("POST")
	// Unknown or missing C2B sub-paths still reach the orchestrator, which
	// answers them in Daraja's result format.
	c2b := cfg.Callbacks.Handle(config.KindMpesaC2B)
	router.HandleFunc("/order/c2b/callback", c2b).Methods("POST")
	router.HandleFunc("/order/c2b/callback/{sub:.*}", c2b).Methods("POST")
	router.HandleFunc("/order/jenga/callback", cfg.Callbacks.Handle(config.KindJenga)).Methods("POST")

	router.HandleFunc("/health", Health).Methods("GET", "HEAD")
	router.HandleFunc("/providers", cfg.Orders.Providers).Methods("GET")
	if cfg.MetricsHandler != nil {
		router.Handle("/metrics", cfg.MetricsHandler).Methods("GET")
	}
	return router
}
