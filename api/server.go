/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the agent app
  5. Auth:       levy.Actor from bearer token (under /api only)
  6. Permission: Role table check per route

ROUTE GROUPS:
  /healthz              Liveness (no auth)
  /api/collections/*    Quote and confirm
  /api/agents/*         Agents and dashboards
  /api/traders/*        Trader directory and payment history
  /api/caretakers/*     Caretakers
  /api/rates/*          Rate registry
  /api/audit            Audit trail
  /api/scenarios/*      Demo scenarios (admin)

SEE ALSO:
  - handlers.go, collections.go: Handler implementations
  - auth.go: Authentication
  - cmd/levyd/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/levy-engine/levy"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		// Collection routes
		r.Route("/collections", func(r chi.Router) {
			r.With(requirePermission(levy.ActionQuote)).Post("/quote", h.Quote)
			r.With(requirePermission(levy.ActionConfirm)).Post("/confirm", h.Confirm)
		})

		// Agent routes
		r.Route("/agents", func(r chi.Router) {
			r.With(requirePermission(levy.ActionViewDirectory)).Get("/", h.ListAgents)
			r.With(requirePermission(levy.ActionManageDirectory)).Post("/", h.CreateAgent)
			r.With(requirePermission(levy.ActionViewDashboard)).Get("/{id}/dashboard", h.Dashboard)
		})

		// Trader routes
		r.Route("/traders", func(r chi.Router) {
			r.With(requirePermission(levy.ActionViewDirectory)).Get("/", h.ListTraders)
			r.With(requirePermission(levy.ActionManageDirectory)).Post("/", h.CreateTrader)
			r.With(requirePermission(levy.ActionViewDirectory)).Get("/{id}", h.GetTrader)
			r.With(requirePermission(levy.ActionManageDirectory)).Put("/{id}", h.UpdateTrader)
			r.With(requirePermission(levy.ActionManageDirectory)).Delete("/{id}", h.DeleteTrader)
			r.With(requirePermission(levy.ActionViewHistory)).Get("/{id}/payments", h.GetPayments)
		})

		// Caretaker routes
		r.Route("/caretakers", func(r chi.Router) {
			r.With(requirePermission(levy.ActionViewDirectory)).Get("/", h.ListCaretakers)
			r.With(requirePermission(levy.ActionManageDirectory)).Post("/", h.CreateCaretaker)
		})

		// Rate routes
		r.Route("/rates", func(r chi.Router) {
			r.With(requirePermission(levy.ActionViewRates)).Get("/", h.ListRates)
			r.With(requirePermission(levy.ActionManageRates)).Post("/", h.ActivateRate)
			r.With(requirePermission(levy.ActionViewRates)).Get("/history", h.RateHistory)
		})

		r.With(requirePermission(levy.ActionViewAudit)).Get("/audit", h.ListAuditEvents)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Use(requirePermission(levy.ActionLoadScenario))
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
