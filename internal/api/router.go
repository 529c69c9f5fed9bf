/**
 * @description
 * This file sets up the HTTP router for the chatpay-service. It defines the API
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

// ChatPayRoutes creates and returns a new router for the chatpay service.
func ChatPayRoutes(h *ChatPayHandlers, webhooks *WebhookHandlers, jwksURL, internalAPIKey string) http.Handler {
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

	// Provider webhooks authenticate with an HMAC signature, not a key.
	r.Post("/webhooks/payments", webhooks.PaymentWebhookHandler)

	// Service-to-service endpoints guarded by the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/chat/messages", h.ChatMessageHandler)
		r.Post("/internal/users/{userID}/kyc/approve", h.ApproveKYCHandler)
		r.Post("/internal/users/{userID}/pin/unlock", h.UnlockPINHandler)
	})

	// User-facing read endpoints guarded by JWT authentication.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwksURL))

		r.Get("/accounts/balance", h.BalanceHandler)
		r.Get("/transactions", h.TransactionsHandler)
	})

	return r
}
