/**
 * @description
 * This file defines the `Repository` and `SessionStore` interfaces, which
 * specify the contract for all data access the chatpay-service needs. The
 * session engine, settlement logic, and wallet ledger depend only on these
 * interfaces, never on a concrete storage technology.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kudipay/chatpay-service/internal/domain"
)

// Sentinel errors returned by repository implementations.
var (
	ErrUserNotFound           = errors.New("user not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrDuplicateReference     = errors.New("transaction reference already exists")
	ErrVirtualAccountNotFound = errors.New("virtual account not found")
	ErrSessionNotFound        = errors.New("session not found")
	ErrTransactionPINNotSet   = errors.New("transaction pin not set")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	FindUserByChatID(ctx context.Context, chatID string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	UpdateKYCStatus(ctx context.Context, userID uuid.UUID, status string) error

	// Wallet ledger methods. DebitWallet is a single atomic check-and-subtract
	// and returns ErrInsufficientFunds without partial effect.
	DebitWallet(ctx context.Context, userID uuid.UUID, amount int64) error
	CreditWallet(ctx context.Context, userID uuid.UUID, amount int64) error
	GetWalletBalance(ctx context.Context, userID uuid.UUID) (int64, error)

	// Transaction PIN methods
	SetTransactionPINHash(ctx context.Context, userID uuid.UUID, pinHash string) error
	RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int) (failures int, locked bool, err error)
	ResetPINFailureState(ctx context.Context, userID uuid.UUID) error
	UnlockTransactionPIN(ctx context.Context, userID uuid.UUID) error

	// Transaction ledger methods. Reference is the idempotency key:
	// CreateTransaction returns ErrDuplicateReference instead of inserting a
	// second row for the same reference.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	UpdateTransactionStatus(ctx context.Context, reference string, update domain.TransactionStatusUpdate) error

	// FailTransferWithRefund marks a non-terminal transfer failed and credits
	// the full debit (total amount) back to the wallet in one database
	// transaction, so the status flip and the refund commit or roll back
	// together. It returns refunded=false with no effect when the row is
	// already terminal, which is what makes a redelivered failure event a
	// no-op instead of a second refund.
	FailTransferWithRefund(ctx context.Context, reference string, providerReference, failureReason *string) (refunded bool, err error)

	// DebitAndCompleteTransaction debits the wallet and marks the ledger row
	// completed in one database transaction. An insufficient balance returns
	// ErrInsufficientFunds and leaves both the wallet and the row untouched.
	DebitAndCompleteTransaction(ctx context.Context, userID uuid.UUID, amount int64, reference string, providerReference *string) error

	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	FindTransactionByProviderReference(ctx context.Context, providerReference string) (*domain.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error)

	// Deposit intake. RecordDeposit atomically credits the wallet and inserts
	// the deposit ledger row; a replayed providerReference returns
	// created=false with no second credit.
	RecordDeposit(ctx context.Context, userID uuid.UUID, amount int64, providerReference, narration string) (tx *domain.Transaction, created bool, err error)

	// Virtual account methods
	CreateVirtualAccount(ctx context.Context, account *domain.VirtualAccount) error
	FindVirtualAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.VirtualAccount, error)
	FindVirtualAccountByNumber(ctx context.Context, accountNumber string) (*domain.VirtualAccount, error)
}

// SessionStore holds the single live conversational session per user.
type SessionStore interface {
	// Get returns ErrSessionNotFound when the user has no live session.
	Get(ctx context.Context, userID uuid.UUID) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session, ttl time.Duration) error
	Delete(ctx context.Context, userID uuid.UUID) error
}
