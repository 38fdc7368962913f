/**
 * @description
 * HTTP router for the rent service. Public routes, deal and payment routes, whistleblower
 * listings and the admin outbox and reward routes all share one middleware stack.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: CORS headers from the configured origins.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the chi router and registers every route.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, http.StatusNotFound, codeNotFound, "Route "+r.URL.Path+" not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, http.StatusMethodNotAllowed, codeValidation, "Method "+r.Method+" not allowed on "+r.URL.Path, nil)
	})

	r.Get("/health", h.HealthHandler)
	r.Get("/soroban/config", h.SorobanConfigHandler)

	r.Route("/api", func(r chi.Router) {
		r.Route("/deals", func(r chi.Router) {
			r.Post("/", h.CreateDealHandler)
			r.Get("/", h.ListDealsHandler)
			r.Get("/{dealID}", h.GetDealHandler)
			r.Patch("/{dealID}/status", h.UpdateDealStatusHandler)
			r.Patch("/{dealID}/schedule/{period}", h.UpdateScheduleItemHandler)
		})

		r.Post("/payments/confirm", h.ConfirmPaymentHandler)

		r.Route("/whistleblower/listings", func(r chi.Router) {
			r.Post("/", h.CreateListingHandler)
			r.Get("/", h.ListListingsHandler)
			r.Get("/{listingID}", h.GetListingHandler)
		})

		r.Route("/balance/{account}", func(r chi.Router) {
			r.Get("/", h.GetBalanceHandler)
			r.Post("/credit", h.CreditBalanceHandler)
			r.Post("/debit", h.DebitBalanceHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/rewards", h.CreateRewardHandler)
			r.Get("/rewards", h.ListRewardsHandler)
			r.Patch("/rewards/{rewardID}/status", h.UpdateRewardStatusHandler)
			r.Post("/rewards/{rewardID}/mark-paid", h.MarkRewardPaidHandler)

			r.Get("/outbox", h.ListOutboxHandler)
			r.Post("/outbox/retry-all", h.RetryAllOutboxHandler)
			r.Post("/outbox/{outboxID}/retry", h.RetryOutboxHandler)
		})
	})

	return r
}
