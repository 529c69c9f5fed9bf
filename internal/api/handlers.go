/**
 * @description
 * This file contains the HTTP handlers for the chatpay-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/store: For service logic and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kudipay/chatpay-service/internal/app"
	"github.com/kudipay/chatpay-service/internal/domain"
	"github.com/kudipay/chatpay-service/internal/store"
)

// ChatPayHandlers holds the application service that handlers will use.
type ChatPayHandlers struct {
	service *app.Service
}

// NewChatPayHandlers creates a new instance of ChatPayHandlers.
func NewChatPayHandlers(service *app.Service) *ChatPayHandlers {
	return &ChatPayHandlers{service: service}
}

type chatMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type chatMessageResponse struct {
	Reply string `json:"reply"`
}

// ChatMessageHandler receives one inbound chat message from the transport
// service and returns the agent's reply.
func (h *ChatPayHandlers) ChatMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		h.writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}

	reply, err := h.service.HandleChatMessage(r.Context(), req.ChatID, req.Text)
	if err != nil {
		log.Printf("level=error component=api endpoint=chat_message msg=\"message handling failed\" chat_id=%s err=%v", req.ChatID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to process message")
		return
	}

	h.writeJSON(w, http.StatusOK, chatMessageResponse{Reply: reply})
}

type balanceResponse struct {
	Balance  int64  `json:"balance"` // kobo
	Currency string `json:"currency"`
}

// BalanceHandler returns the authenticated user's wallet balance.
func (h *ChatPayHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveAuthenticatedUser(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetWalletBalance(r.Context(), user.ID)
	if err != nil {
		log.Printf("level=error component=api endpoint=balance msg=\"balance fetch failed\" user_id=%s err=%v", user.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch balance")
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{Balance: balance, Currency: "NGN"})
}

// TransactionsHandler returns the authenticated user's recent ledger entries.
func (h *ChatPayHandlers) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveAuthenticatedUser(w, r)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	transactions, err := h.service.ListTransactions(r.Context(), user.ID, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=transactions msg=\"transaction list failed\" user_id=%s err=%v", user.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch transactions")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": transactions})
}

// ApproveKYCHandler marks a user's identity verification as approved. It is an
// internal admin endpoint driven by the KYC review tooling.
func (h *ChatPayHandlers) ApproveKYCHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUserIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.ApproveKYC(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("level=error component=api endpoint=approve_kyc msg=\"kyc approval failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to approve KYC")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// UnlockPINHandler clears a user's transaction PIN lockout. It is an internal
// admin endpoint used after support has verified the user's identity.
func (h *ChatPayHandlers) UnlockPINHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUserIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.UnlockTransactionPIN(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("level=error component=api endpoint=unlock_pin msg=\"pin unlock failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to unlock PIN")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (h *ChatPayHandlers) resolveAuthenticatedUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	chatID, found := GetAuthChatID(r.Context())
	if !found {
		h.writeError(w, http.StatusInternalServerError, "Could not get user identity from context")
		return nil, false
	}

	user, err := h.service.FindUserByChatID(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
			return nil, false
		}
		log.Printf("level=error component=api msg=\"user resolution failed\" chat_id=%s err=%v", chatID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve user")
		return nil, false
	}
	return user, true
}

func (h *ChatPayHandlers) parseUserIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// writeJSON is a helper for writing JSON responses.
func (h *ChatPayHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *ChatPayHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
