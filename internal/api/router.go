/**
 * @description
 * This file sets up the HTTP router for the escrow-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * middleware for authentication, logging, panic recovery and timeouts.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns a new router for the escrow service.
func PaymentRoutes(h *PaymentHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Payment intent lifecycle
		r.Post("/intent", h.CreatePaymentIntentHandler)
		r.Get("/intent/{externalIntentId}/confirm", h.ConfirmPaymentIntentHandler)

		// Payment lookups
		r.Get("/history", h.GetPaymentHistoryHandler)
		r.Get("/{paymentId}", h.GetPaymentHandler)

		// Escrow account onboarding and payout methods
		r.Post("/escrow-account", h.CreateEscrowAccountHandler)
		r.Get("/escrow-account", h.GetEscrowAccountHandler)
		r.Post("/escrow-account/payout-methods", h.AddPayoutMethodHandler)

		// Money movement
		r.Post("/payout", h.RequestPayoutHandler)
		r.Post("/{paymentId}/release", h.ReleaseEscrowHandler)
		r.Post("/{paymentId}/refund", h.RefundPaymentHandler)

		// Admin-only consistency tooling
		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/admin/consistency/validate", h.ValidateConsistencyHandler)
			r.Post("/admin/consistency/fix", h.FixConsistencyHandler)
		})
	})

	return r
}
