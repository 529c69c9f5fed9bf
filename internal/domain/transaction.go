/**
 * @description
 * This file defines the transaction ledger model for the chatpay-service.
 * Every attempted money movement — airtime purchase, data purchase, bank
 * transfer, wallet deposit, refund — produces exactly one ledger row keyed by
 * a unique reference generated before any external call is made.
 *
 * @notes
 * - The ledger is append-only: corrections are new rows (e.g. refunds or admin
 *   credits), never edits of amounts on existing rows.
 * - Status transitions are monotone; stale downgrades delivered by replayed
 *   provider events are ignored.
 * - Amounts are stored as `int64` kobo.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTransactionReference generates a globally unique ledger reference. It is
// assigned exactly once, at the moment the user confirms a transaction, and is
// never reused.
func NewTransactionReference() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "CP-" + strings.ToUpper(raw)
}

// Transaction kinds.
const (
	KindAirtime      = "airtime"
	KindData         = "data"
	KindBankTransfer = "bank_transfer"
	KindDeposit      = "deposit"
	KindRefund       = "refund"
	KindAdminCredit  = "admin_credit"
)

// Transaction status values, ordered by the settlement state machine:
// pending -> {completed, failed, processing}, processing -> pending_otp,
// pending_otp -> {completed, failed}.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPendingOTP = "pending_otp"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// TerminalStatus reports whether a status can no longer change.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Transaction is the central ledger record. This struct maps directly to the
// `transactions` table in the database.
type Transaction struct {
	ID                uuid.UUID  `json:"id"`
	Reference         string     `json:"reference"`
	UserID            uuid.UUID  `json:"user_id"`
	Kind              string     `json:"kind"`
	Status            string     `json:"status"`
	Amount            int64      `json:"amount"` // in kobo
	Fee               int64      `json:"fee"`    // in kobo
	TotalAmount       int64      `json:"total_amount"`
	Recipient         string     `json:"recipient"` // phone number or masked account
	Narration         string     `json:"narration"`
	ProviderReference *string    `json:"provider_reference,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// TransactionStatusUpdate carries the mutable fields applied to a ledger row
// as gateway responses or asynchronous status events arrive.
type TransactionStatusUpdate struct {
	Status            *string
	ProviderReference *string
	FailureReason     *string
}
