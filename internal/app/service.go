/**
 * @description
 * This file defines the core application `Service` for the chatpay-service and
 * the collaborator interfaces it depends on. The Service owns the session
 * engine, the PIN guard, settlement, and deposit intake, coordinating between
 * the database repository, the Redis session store, the gateway clients, and
 * the message broker.
 *
 * Key features:
 * - Dependencies are injected as interfaces so business logic never touches a
 *   concrete storage technology or wire format.
 * - One message per user is processed at a time: a keyed in-process mutex
 *   around the engine plus the one-session-per-user invariant guarantees a
 *   single in-flight settlement per user.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access contracts.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kudipay/chatpay-service/internal/domain"
	"github.com/kudipay/chatpay-service/internal/store"
)

// Sentinel errors surfaced by the application layer.
var (
	ErrTransactionPINLocked = errors.New("transaction pin is locked")
	ErrKYCNotApproved       = errors.New("kyc not approved")
)

// PINAttemptError reports an incorrect PIN together with the number of
// attempts left before the account locks.
type PINAttemptError struct {
	Remaining int
}

func (e *PINAttemptError) Error() string {
	return fmt.Sprintf("incorrect transaction pin (%d attempts remaining)", e.Remaining)
}

// VTUGateway is the telco disbursement capability (airtime and data) plus the
// read-only plan catalog the data flow selects from.
type VTUGateway interface {
	PurchaseAirtime(ctx context.Context, network, phoneNumber string, amount int64, requestID string) (*domain.GatewayOutcome, error)
	PurchaseData(ctx context.Context, network, phoneNumber, planID, requestID string) (*domain.GatewayOutcome, error)
	ListNetworks(ctx context.Context) ([]domain.Network, error)
	ListValidities(ctx context.Context, network string) ([]string, error)
	ListPlans(ctx context.Context, network, validity string) ([]domain.DataPlan, error)
}

// BankGateway is the bank disbursement capability: transfers with optional OTP
// validation, account name resolution, the bank list, and virtual account
// provisioning for the deposit path.
type BankGateway interface {
	InitiateTransfer(ctx context.Context, amount int64, reference, accountNumber, bankCode, narration string) (*domain.GatewayOutcome, error)
	ValidateTransferOTP(ctx context.Context, reference, code string) (*domain.GatewayOutcome, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*domain.ResolvedAccount, error)
	ListBanks(ctx context.Context) ([]domain.Bank, error)
	CreateVirtualAccount(ctx context.Context, accountReference, customerName string) (*domain.VirtualAccount, error)
}

// Notifier delivers fire-and-forget messages to a user's chat. Failures are
// logged and never block settlement.
type Notifier interface {
	NotifyUser(ctx context.Context, chatID, message string) error
}

// RateLimiter applies a fixed-window limit per scope and subject. A nil
// limiter disables limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Settings carries the tunable limits and fees for the flows.
type Settings struct {
	SessionTTL             time.Duration
	PINMaxAttempts         int
	AirtimeMinKobo         int64
	AirtimeMaxKobo         int64
	TransferMinKobo        int64
	TransferMaxKobo        int64
	TransferFeeBPS         int64 // basis points of the amount, e.g. 150 = 1.5%
	DataServiceFeeKobo     int64
	ChatRateLimitPerMinute int
}

func (s *Settings) applyDefaults() {
	if s.SessionTTL <= 0 {
		s.SessionTTL = 30 * time.Minute
	}
	if s.PINMaxAttempts <= 0 {
		s.PINMaxAttempts = 3
	}
	if s.AirtimeMinKobo <= 0 {
		s.AirtimeMinKobo = 50_00
	}
	if s.AirtimeMaxKobo <= 0 {
		s.AirtimeMaxKobo = 50_000_00
	}
	if s.TransferMinKobo <= 0 {
		s.TransferMinKobo = 100_00
	}
	if s.TransferMaxKobo <= 0 {
		s.TransferMaxKobo = 5_000_000_00
	}
	if s.TransferFeeBPS < 0 {
		s.TransferFeeBPS = 0
	}
	if s.DataServiceFeeKobo < 0 {
		s.DataServiceFeeKobo = 0
	}
}

// Service provides the core business logic for the conversational agent.
type Service struct {
	repo     store.Repository
	sessions store.SessionStore
	vtu      VTUGateway
	bank     BankGateway
	notifier Notifier
	limiter  RateLimiter
	settings Settings

	flows map[domain.FlowType]*flowDef

	userLocks sync.Map // chatID -> *sync.Mutex
}

// NewService creates the application service with its dependencies.
func NewService(repo store.Repository, sessions store.SessionStore, vtu VTUGateway, bank BankGateway, notifier Notifier, settings Settings) *Service {
	settings.applyDefaults()
	s := &Service{
		repo:     repo,
		sessions: sessions,
		vtu:      vtu,
		bank:     bank,
		notifier: notifier,
		settings: settings,
	}
	s.flows = buildFlowTable()
	return s
}

// SetRateLimiter attaches an optional chat rate limiter.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// lockUser serializes message handling per chat user. A new message for a user
// is not processed until the previous one's handler has completed.
func (s *Service) lockUser(chatID string) func() {
	value, _ := s.userLocks.LoadOrStore(chatID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// findOrCreateUser resolves the chat identifier to a user, creating one with a
// zero balance and pending KYC on first contact.
func (s *Service) findOrCreateUser(ctx context.Context, chatID string) (*domain.User, error) {
	user, err := s.repo.FindUserByChatID(ctx, chatID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user = &domain.User{
		ID:        uuid.New(),
		ChatID:    chatID,
		KYCStatus: domain.KYCStatusPending,
		Active:    true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		// A concurrent first message may have created the user already.
		if existing, findErr := s.repo.FindUserByChatID(ctx, chatID); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	log.Printf("level=info component=service msg=\"user created\" user_id=%s", user.ID)
	return user, nil
}

// notify sends a chat message without blocking the caller's outcome.
func (s *Service) notify(ctx context.Context, chatID, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyUser(ctx, chatID, message); err != nil {
		log.Printf("level=warn component=service msg=\"notification failed\" chat_id=%s err=%v", chatID, err)
	}
}

// ApproveKYC marks a user's KYC as approved (driven by the admin endpoint).
func (s *Service) ApproveKYC(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.UpdateKYCStatus(ctx, userID, domain.KYCStatusApproved); err != nil {
		return err
	}
	if user, err := s.repo.FindUserByID(ctx, userID); err == nil {
		s.notify(ctx, user.ChatID, "Your identity verification has been approved. You can now transact.")
	}
	return nil
}

// UnlockTransactionPIN clears a PIN lockout (driven by the admin endpoint).
func (s *Service) UnlockTransactionPIN(ctx context.Context, userID uuid.UUID) error {
	return s.repo.UnlockTransactionPIN(ctx, userID)
}

// GetWalletBalance returns the user's wallet balance in kobo.
func (s *Service) GetWalletBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.GetWalletBalance(ctx, userID)
}

// ListTransactions returns the user's recent ledger entries.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	return s.repo.ListTransactionsByUser(ctx, userID, limit)
}

// FindUserByChatID exposes user lookup for the API layer.
func (s *Service) FindUserByChatID(ctx context.Context, chatID string) (*domain.User, error) {
	return s.repo.FindUserByChatID(ctx, chatID)
}

// formatNaira renders a kobo amount as a human-readable naira string.
func formatNaira(kobo int64) string {
	sign := ""
	if kobo < 0 {
		sign = "-"
		kobo = -kobo
	}
	naira := kobo / 100
	rem := kobo % 100
	if rem == 0 {
		return fmt.Sprintf("%s₦%s", sign, groupThousands(naira))
	}
	return fmt.Sprintf("%s₦%s.%02d", sign, groupThousands(naira), rem)
}

func groupThousands(n int64) string {
	raw := fmt.Sprintf("%d", n)
	if len(raw) <= 3 {
		return raw
	}
	var b strings.Builder
	lead := len(raw) % 3
	if lead > 0 {
		b.WriteString(raw[:lead])
	}
	for i := lead; i < len(raw); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(raw[i : i+3])
	}
	return b.String()
}

// maskAccountNumber hides all but the last four digits of an account number
// before it enters the ledger or a chat message.
func maskAccountNumber(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return strings.Repeat("*", len(accountNumber)-4) + accountNumber[len(accountNumber)-4:]
}
