/**
 * @description
 * This file defines the user model for the chatpay-service. A user is created
 * lazily on first contact from the chat transport and carries the wallet
 * balance, KYC state, and transaction PIN security metadata.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (kobo), which
 *   avoids floating-point inaccuracies with financial data.
 * - The PIN is never stored in clear text; only a bcrypt hash is persisted.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// KYC status values for a user.
const (
	KYCStatusPending  = "pending"
	KYCStatusApproved = "approved"
	KYCStatusRejected = "rejected"
)

// User represents a chat user with a wallet. This struct maps directly to the
// `users` table in the database.
type User struct {
	ID              uuid.UUID `json:"id"`
	ChatID          string    `json:"chat_id"`
	FullName        *string   `json:"full_name,omitempty"`
	WalletBalance   int64     `json:"wallet_balance"` // in kobo, never negative
	KYCStatus       string    `json:"kyc_status"`
	PINHash         *string   `json:"-"`
	PINFailureCount int       `json:"pin_failure_count"`
	PINLocked       bool      `json:"pin_locked"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasPIN reports whether the user has completed transaction PIN setup.
func (u *User) HasPIN() bool {
	return u.PINHash != nil && *u.PINHash != ""
}

// VirtualAccount represents the dedicated funding account provisioned for a
// user. Incoming payment webhooks are resolved to a user through the account
// number.
type VirtualAccount struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	AccountReference string    `json:"account_reference"`
	AccountNumber    string    `json:"account_number"`
	BankName         string    `json:"bank_name"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}
