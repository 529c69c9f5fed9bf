/**
 * @description
 * This file contains the handler for incoming-payment webhooks from the
 * virtual account provider. The raw body is authenticated with an HMAC-SHA256
 * signature before any parsing; processing is idempotent on the provider's
 * payment reference, so redeliveries are safe.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: Signature verification.
 * - internal/app, internal/domain: Deposit processing.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/kudipay/chatpay-service/internal/app"
	"github.com/kudipay/chatpay-service/internal/domain"
)

// signatureHeader carries the hex-encoded HMAC-SHA256 of the raw body.
const signatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds the body read to keep a misbehaving sender from
// exhausting memory.
const maxWebhookBody = 1 << 20

// WebhookHandlers holds the dependencies for webhook endpoints.
type WebhookHandlers struct {
	service *app.Service
	secret  string
}

// NewWebhookHandlers creates a new instance of WebhookHandlers.
func NewWebhookHandlers(service *app.Service, secret string) *WebhookHandlers {
	return &WebhookHandlers{service: service, secret: secret}
}

// PaymentWebhookHandler processes one incoming-payment notification. A 200
// response acknowledges the delivery; the provider retries anything else.
func (h *WebhookHandlers) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		log.Printf("level=error component=webhook msg=\"webhook secret is not configured; rejecting\"")
		http.Error(w, "Webhook secret not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Unable to read body", http.StatusBadRequest)
		return
	}

	if !h.validSignature(body, r.Header.Get(signatureHeader)) {
		log.Printf("level=warn component=webhook msg=\"invalid webhook signature\" remote_addr=%s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.PaymentWebhook
	if err := json.Unmarshal(body, &event); err != nil {
		// Authenticated but malformed: acknowledge so the provider does not
		// retry a payload we can never parse.
		log.Printf("level=error component=webhook msg=\"malformed webhook payload; acknowledging\" err=%v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.service.ProcessPaymentWebhook(r.Context(), event); err != nil {
		log.Printf("level=error component=webhook msg=\"webhook processing failed\" provider_reference=%s err=%v", event.ProviderReference, err)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandlers) validSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
