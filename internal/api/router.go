/**
 * @description
 * This file sets up the HTTP router for the transfer-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
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

// TransferRoutes creates and returns a new router for the transfer service.
func TransferRoutes(h *TransferHandlers, jwtSecret, internalAPIKey string) http.Handler {
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
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/transfers", h.CreateTransferHandler)
		r.Get("/transfers", h.ListTransfersHandler)
		r.Get("/accounts/{id}/balance", h.GetBalanceHandler)

		// Notification feed and preference endpoints
		r.Get("/notifications", h.ListNotificationsHandler)
		r.Post("/notifications/{id}/read", h.MarkNotificationReadHandler)
		r.Get("/preferences", h.GetPreferencesHandler)
		r.Put("/preferences", h.UpdatePreferencesHandler)
	})

	// Service-to-service surface guarded by the shared internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/internal/reconcile/stale-transfers", h.ReconcileStaleTransfersHandler)
	})

	return r
}
