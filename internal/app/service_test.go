package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kudipay/chatpay-service/internal/domain"
	"github.com/kudipay/chatpay-service/internal/store"
)

// memRepo is an in-memory store.Repository used by the service tests.
type memRepo struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*domain.User
	byChat   map[string]uuid.UUID
	txs      map[string]*domain.Transaction
	deposits map[string]string // provider reference -> ledger reference
	accounts map[uuid.UUID]*domain.VirtualAccount
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:    make(map[uuid.UUID]*domain.User),
		byChat:   make(map[string]uuid.UUID),
		txs:      make(map[string]*domain.Transaction),
		deposits: make(map[string]string),
		accounts: make(map[uuid.UUID]*domain.VirtualAccount),
	}
}

func (r *memRepo) addUser(user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	r.byChat[user.ChatID] = user.ID
}

func (r *memRepo) FindUserByChatID(_ context.Context, chatID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byChat[chatID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	copied := *r.users[id]
	return &copied, nil
}

func (r *memRepo) FindUserByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *memRepo) CreateUser(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byChat[user.ChatID]; exists {
		return errors.New("duplicate chat id")
	}
	copied := *user
	copied.CreatedAt = time.Now().UTC()
	r.users[user.ID] = &copied
	r.byChat[user.ChatID] = user.ID
	return nil
}

func (r *memRepo) UpdateKYCStatus(_ context.Context, userID uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	user.KYCStatus = status
	return nil
}

func (r *memRepo) DebitWallet(_ context.Context, userID uuid.UUID, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	if user.WalletBalance < amount {
		return store.ErrInsufficientFunds
	}
	user.WalletBalance -= amount
	return nil
}

func (r *memRepo) CreditWallet(_ context.Context, userID uuid.UUID, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	user.WalletBalance += amount
	return nil
}

func (r *memRepo) GetWalletBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return 0, store.ErrUserNotFound
	}
	return user.WalletBalance, nil
}

func (r *memRepo) SetTransactionPINHash(_ context.Context, userID uuid.UUID, pinHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	user.PINHash = &pinHash
	user.PINFailureCount = 0
	user.PINLocked = false
	return nil
}

func (r *memRepo) RecordFailedPINAttempt(_ context.Context, userID uuid.UUID, maxAttempts int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return 0, false, store.ErrUserNotFound
	}
	user.PINFailureCount++
	if user.PINFailureCount >= maxAttempts {
		user.PINLocked = true
	}
	return user.PINFailureCount, user.PINLocked, nil
}

func (r *memRepo) ResetPINFailureState(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	user.PINFailureCount = 0
	return nil
}

func (r *memRepo) UnlockTransactionPIN(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	user.PINFailureCount = 0
	user.PINLocked = false
	return nil
}

func (r *memRepo) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.txs[tx.Reference]; exists {
		return store.ErrDuplicateReference
	}
	copied := *tx
	copied.CreatedAt = time.Now().UTC()
	r.txs[tx.Reference] = &copied
	return nil
}

func (r *memRepo) UpdateTransactionStatus(_ context.Context, reference string, update domain.TransactionStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[reference]
	if !ok {
		return store.ErrTransactionNotFound
	}
	if domain.TerminalStatus(tx.Status) {
		return nil
	}
	if update.Status != nil {
		tx.Status = *update.Status
		if domain.TerminalStatus(tx.Status) {
			now := time.Now().UTC()
			tx.CompletedAt = &now
		}
	}
	if update.ProviderReference != nil {
		tx.ProviderReference = update.ProviderReference
	}
	if update.FailureReason != nil {
		tx.FailureReason = update.FailureReason
	}
	return nil
}

func (r *memRepo) FailTransferWithRefund(_ context.Context, reference string, providerReference, failureReason *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[reference]
	if !ok {
		return false, store.ErrTransactionNotFound
	}
	if domain.TerminalStatus(tx.Status) {
		return false, nil
	}
	user, ok := r.users[tx.UserID]
	if !ok {
		return false, store.ErrUserNotFound
	}
	tx.Status = domain.StatusFailed
	if providerReference != nil {
		tx.ProviderReference = providerReference
	}
	if failureReason != nil {
		tx.FailureReason = failureReason
	}
	now := time.Now().UTC()
	tx.CompletedAt = &now
	user.WalletBalance += tx.TotalAmount
	return true, nil
}

func (r *memRepo) DebitAndCompleteTransaction(_ context.Context, userID uuid.UUID, amount int64, reference string, providerReference *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	tx, ok := r.txs[reference]
	if !ok || domain.TerminalStatus(tx.Status) {
		return store.ErrTransactionNotFound
	}
	if user.WalletBalance < amount {
		return store.ErrInsufficientFunds
	}
	user.WalletBalance -= amount
	tx.Status = domain.StatusCompleted
	if providerReference != nil {
		tx.ProviderReference = providerReference
	}
	now := time.Now().UTC()
	tx.CompletedAt = &now
	return nil
}

func (r *memRepo) FindTransactionByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[reference]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (r *memRepo) FindTransactionByProviderReference(_ context.Context, providerReference string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.ProviderReference != nil && *tx.ProviderReference == providerReference {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (r *memRepo) ListTransactionsByUser(_ context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.txs {
		if tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) RecordDeposit(_ context.Context, userID uuid.UUID, amount int64, providerReference, narration string) (*domain.Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, seen := r.deposits[providerReference]; seen {
		copied := *r.txs[ref]
		return &copied, false, nil
	}
	user, ok := r.users[userID]
	if !ok {
		return nil, false, store.ErrUserNotFound
	}
	user.WalletBalance += amount
	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:                uuid.New(),
		Reference:         domain.NewTransactionReference(),
		UserID:            userID,
		Kind:              domain.KindDeposit,
		Status:            domain.StatusCompleted,
		Amount:            amount,
		TotalAmount:       amount,
		Narration:         narration,
		ProviderReference: &providerReference,
		CreatedAt:         now,
		CompletedAt:       &now,
	}
	r.txs[tx.Reference] = tx
	r.deposits[providerReference] = tx.Reference
	copied := *tx
	return &copied, true, nil
}

func (r *memRepo) CreateVirtualAccount(_ context.Context, account *domain.VirtualAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[account.UserID]; exists {
		return errors.New("duplicate virtual account")
	}
	copied := *account
	r.accounts[account.UserID] = &copied
	return nil
}

func (r *memRepo) FindVirtualAccountByUserID(_ context.Context, userID uuid.UUID) (*domain.VirtualAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[userID]
	if !ok {
		return nil, store.ErrVirtualAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *memRepo) FindVirtualAccountByNumber(_ context.Context, accountNumber string) (*domain.VirtualAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.AccountNumber == accountNumber {
			copied := *account
			return &copied, nil
		}
	}
	return nil, store.ErrVirtualAccountNotFound
}

// memSessions is an in-memory store.SessionStore.
type memSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[uuid.UUID]*domain.Session)}
}

func (s *memSessions) Get(_ context.Context, userID uuid.UUID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[userID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	copied := *session
	copied.Fields = make(map[string]string, len(session.Fields))
	for k, v := range session.Fields {
		copied.Fields[k] = v
	}
	return &copied, nil
}

func (s *memSessions) Save(_ context.Context, session *domain.Session, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	copied.Fields = make(map[string]string, len(session.Fields))
	for k, v := range session.Fields {
		copied.Fields[k] = v
	}
	s.sessions[session.UserID] = &copied
	return nil
}

func (s *memSessions) Delete(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *memSessions) has(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[userID]
	return ok
}

// stubVTU is a canned VTUGateway with overridable purchase behavior.
type stubVTU struct {
	airtimeFn func(ctx context.Context, network, phone string, amount int64, requestID string) (*domain.GatewayOutcome, error)
	dataFn    func(ctx context.Context, network, phone, planID, requestID string) (*domain.GatewayOutcome, error)
}

func (v *stubVTU) PurchaseAirtime(ctx context.Context, network, phone string, amount int64, requestID string) (*domain.GatewayOutcome, error) {
	if v.airtimeFn != nil {
		return v.airtimeFn(ctx, network, phone, amount, requestID)
	}
	return &domain.GatewayOutcome{Status: domain.OutcomeSuccess, ProviderReference: "vtu-" + requestID}, nil
}

func (v *stubVTU) PurchaseData(ctx context.Context, network, phone, planID, requestID string) (*domain.GatewayOutcome, error) {
	if v.dataFn != nil {
		return v.dataFn(ctx, network, phone, planID, requestID)
	}
	return &domain.GatewayOutcome{Status: domain.OutcomeSuccess, ProviderReference: "vtu-" + requestID}, nil
}

func (v *stubVTU) ListNetworks(context.Context) ([]domain.Network, error) {
	return []domain.Network{{Code: "mtn", Name: "MTN"}, {Code: "glo", Name: "Glo"}}, nil
}

func (v *stubVTU) ListValidities(_ context.Context, network string) ([]string, error) {
	return []string{"7 days", "30 days"}, nil
}

func (v *stubVTU) ListPlans(_ context.Context, network, validity string) ([]domain.DataPlan, error) {
	if validity == "30 days" {
		return []domain.DataPlan{
			{ID: "p-1gb-30", Network: network, Validity: validity, Label: "1GB", Price: 30_000},   // ₦300
			{ID: "p-5gb-30", Network: network, Validity: validity, Label: "5GB", Price: 120_000}, // ₦1,200
		}, nil
	}
	return []domain.DataPlan{
		{ID: "p-500mb-7", Network: network, Validity: validity, Label: "500MB", Price: 15_000},
	}, nil
}

// stubBank is a canned BankGateway with overridable behavior.
type stubBank struct {
	initiateFn func(ctx context.Context, amount int64, reference, accountNumber, bankCode, narration string) (*domain.GatewayOutcome, error)
	otpFn      func(ctx context.Context, reference, code string) (*domain.GatewayOutcome, error)
	resolveFn  func(ctx context.Context, accountNumber, bankCode string) (*domain.ResolvedAccount, error)
}

func (b *stubBank) InitiateTransfer(ctx context.Context, amount int64, reference, accountNumber, bankCode, narration string) (*domain.GatewayOutcome, error) {
	if b.initiateFn != nil {
		return b.initiateFn(ctx, amount, reference, accountNumber, bankCode, narration)
	}
	return &domain.GatewayOutcome{Status: domain.OutcomeSuccess, ProviderReference: "bank-" + reference}, nil
}

func (b *stubBank) ValidateTransferOTP(ctx context.Context, reference, code string) (*domain.GatewayOutcome, error) {
	if b.otpFn != nil {
		return b.otpFn(ctx, reference, code)
	}
	return &domain.GatewayOutcome{Status: domain.OutcomeSuccess}, nil
}

func (b *stubBank) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*domain.ResolvedAccount, error) {
	if b.resolveFn != nil {
		return b.resolveFn(ctx, accountNumber, bankCode)
	}
	return &domain.ResolvedAccount{AccountName: "ADAEZE OKONKWO", BankName: "GTBank"}, nil
}

func (b *stubBank) ListBanks(context.Context) ([]domain.Bank, error) {
	return []domain.Bank{
		{Code: "058", Name: "GTBank"},
		{Code: "044", Name: "Access Bank"},
		{Code: "057", Name: "Zenith Bank"},
	}, nil
}

func (b *stubBank) CreateVirtualAccount(_ context.Context, accountReference, customerName string) (*domain.VirtualAccount, error) {
	return &domain.VirtualAccount{
		AccountReference: accountReference,
		AccountNumber:    "9900112233",
		BankName:         "Providus Bank",
	}, nil
}

// recordingNotifier captures NotifyUser calls.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) NotifyUser(_ context.Context, chatID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func (n *recordingNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1]
}

type testEnv struct {
	svc      *Service
	repo     *memRepo
	sessions *memSessions
	vtu      *stubVTU
	bank     *stubBank
	notifier *recordingNotifier
	user     *domain.User
}

// newTestEnv builds a service with an approved user holding the given balance
// and the transaction PIN "4821".
func newTestEnv(t *testing.T, balanceKobo int64) *testEnv {
	t.Helper()

	repo := newMemRepo()
	sessions := newMemSessions()
	vtu := &stubVTU{}
	bank := &stubBank{}
	notifier := &recordingNotifier{}

	svc := NewService(repo, sessions, vtu, bank, notifier, Settings{
		TransferFeeBPS:     150, // 1.5%
		DataServiceFeeKobo: 5_000,
	})

	user := &domain.User{
		ID:            uuid.New(),
		ChatID:        "chat-1",
		WalletBalance: balanceKobo,
		KYCStatus:     domain.KYCStatusApproved,
		Active:        true,
	}
	repo.addUser(user)
	if err := svc.SetTransactionPIN(context.Background(), user.ID, "4821"); err != nil {
		t.Fatalf("failed to set test pin: %v", err)
	}

	return &testEnv{svc: svc, repo: repo, sessions: sessions, vtu: vtu, bank: bank, notifier: notifier, user: user}
}

// send pushes one chat message through the engine and fails the test on error.
func (e *testEnv) send(t *testing.T, text string) string {
	t.Helper()
	reply, err := e.svc.HandleChatMessage(context.Background(), e.user.ChatID, text)
	if err != nil {
		t.Fatalf("HandleChatMessage(%q) returned error: %v", text, err)
	}
	return reply
}

func (e *testEnv) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := e.repo.GetWalletBalance(context.Background(), e.user.ID)
	if err != nil {
		t.Fatalf("failed to read balance: %v", err)
	}
	return balance
}

// onlyTransaction returns the single non-deposit ledger row, failing if there
// is not exactly one.
func (e *testEnv) onlyTransaction(t *testing.T) *domain.Transaction {
	t.Helper()
	txs, err := e.repo.ListTransactionsByUser(context.Background(), e.user.ID, 0)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(txs))
	}
	return &txs[0]
}
