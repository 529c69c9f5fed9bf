/**
 * @description
 * This file defines the conversational session model. A session is the unit of
 * state for one in-progress flow (airtime, data, bank transfer): it records
 * which step the user is on and the validated fields collected so far.
 *
 * @notes
 * - At most one live session exists per user. Sessions are stored in Redis
 *   under a per-user key with a server-side TTL, so expiry is enforced both by
 *   the store and by the `ExpiresAt` check in the engine.
 * - Only validated values ever enter the `Fields` map.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// FlowType identifies one guided transaction type.
type FlowType string

const (
	FlowAirtime      FlowType = "airtime"
	FlowData         FlowType = "data"
	FlowBankTransfer FlowType = "bank_transfer"
)

// Well-known session field names. Handlers only store values under these keys
// after validation has passed.
const (
	FieldAmount        = "amount" // kobo, decimal string
	FieldFee           = "fee"    // kobo, decimal string
	FieldNetwork       = "network"
	FieldPhoneNumber   = "phone_number"
	FieldValidity      = "validity"
	FieldPlanID        = "plan_id"
	FieldPlanLabel     = "plan_label"
	FieldBankCode      = "bank_code"
	FieldBankName      = "bank_name"
	FieldAccountNumber = "account_number"
	FieldAccountName   = "account_name"
)

// Session holds the state of one in-progress flow for a user.
type Session struct {
	UserID         uuid.UUID         `json:"user_id"`
	Flow           FlowType          `json:"flow"`
	Step           string            `json:"step"`
	Fields         map[string]string `json:"fields"`
	TransactionRef string            `json:"transaction_ref,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// NewSession starts a session at the first step of the given flow.
func NewSession(userID uuid.UUID, flow FlowType, firstStep string, ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		UserID:    userID,
		Flow:      flow,
		Step:      firstStep,
		Fields:    make(map[string]string),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the session has outlived its TTL.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Touch extends the session deadline after an accepted step.
func (s *Session) Touch(ttl time.Duration) {
	s.ExpiresAt = time.Now().UTC().Add(ttl)
}
