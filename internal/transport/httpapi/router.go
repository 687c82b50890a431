package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/renlav/payledger/internal/transport/httpapi/handler"
	"github.com/renlav/payledger/internal/transport/httpapi/middleware"
	"github.com/renlav/payledger/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger           *logger.Logger
	AllowedOrigins   []string
	PaymentHandler   *handler.PaymentHandler
	ReconcileHandler *handler.ReconcileHandler
	BalanceHandler   *handler.BalanceHandler
	EventHandler     *handler.EventHandler
	HealthHandler    *handler.HealthHandler
	JWTMiddleware    func(http.Handler) http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.RateLimit()) // Rate limiting: 100 req/s with burst of 20

	// Health check endpoints (no authentication required)
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	// API routes (require device JWT authentication)
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTMiddleware != nil {
			r.Group(func(r chi.Router) {
				r.Use(cfg.JWTMiddleware)

				// Payment record routes
				if cfg.PaymentHandler != nil {
					r.Post("/payments", cfg.PaymentHandler.CreatePayment)
					r.Get("/payments", cfg.PaymentHandler.GetPayments)
					r.Get("/payments/{id}", cfg.PaymentHandler.GetPayment)
					r.Post("/payments/{id}/read", cfg.PaymentHandler.MarkPaymentRead)
					r.Post("/notifications", cfg.PaymentHandler.CreateNotification)
					r.Post("/archived", cfg.PaymentHandler.ImportArchived)
				}

				// Reconciliation routes
				if cfg.ReconcileHandler != nil {
					r.Post("/reconcile", cfg.ReconcileHandler.TriggerReconcile)
				}

				// Balance routes
				if cfg.BalanceHandler != nil {
					r.Get("/balance", cfg.BalanceHandler.GetBalance)
				}

				// Lifecycle event routes
				if cfg.EventHandler != nil {
					r.Post("/events", cfg.EventHandler.PostEvent)
					r.Get("/settings/payments-enabled", cfg.EventHandler.GetPaymentsEnabled)
					r.Put("/settings/payments-enabled", cfg.EventHandler.SetPaymentsEnabled)
				}
			})
		}
	})

	return r
}
