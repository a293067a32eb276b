/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request; also seeds the audit trace id
  2. RealIP:     Resolve client IP behind proxies for provenance
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/users/*         Balance, ledger, withdrawal queries
  /api/purchases       External payment credits
  /api/transfers       User-to-user transfers
  /api/marketplace/*   Marketplace purchases
  /api/royalties       Creator payouts
  /api/reversals       Entry reversals
  /api/withdrawals/*   Withdrawal state machine
  /api/webhooks/*      Payment processor events
  /api/audit           Forensic records

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// User queries
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/ledger", h.GetLedger)
			r.Get("/withdrawals", h.GetUserWithdrawals)
		})

		// Economic operations
		r.Post("/purchases", h.CreatePurchase)
		r.Post("/transfers", h.CreateTransfer)
		r.Post("/marketplace/purchases", h.CreateMarketplacePurchase)
		r.Post("/royalties", h.CreateRoyaltyPayout)
		r.Post("/reversals", h.CreateReversal)

		// Withdrawal state machine
		r.Route("/withdrawals", func(r chi.Router) {
			r.Post("/", h.CreateWithdrawal)
			r.Get("/{id}", h.GetWithdrawal)
			r.Post("/{id}/approve", h.ApproveWithdrawal)
			r.Post("/{id}/process", h.ProcessWithdrawal)
			r.Post("/{id}/cancel", h.CancelWithdrawal)
		})

		// External events
		r.Post("/webhooks/payments", h.HandlePaymentEvent)

		// Audit
		r.Get("/audit", h.QueryAudit)
	})

	return r
}
