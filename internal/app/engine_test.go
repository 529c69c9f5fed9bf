package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kudipay/chatpay-service/internal/domain"
)

func TestAirtimePurchaseWalkthrough(t *testing.T) {
	env := newTestEnv(t, 200_000) // ₦2,000

	reply := env.send(t, "airtime")
	if !strings.Contains(reply, "Which network") {
		t.Fatalf("expected network prompt, got %q", reply)
	}

	reply = env.send(t, "mtn")
	if !strings.Contains(reply, "How much airtime") {
		t.Fatalf("expected amount prompt, got %q", reply)
	}

	// Below the ₦50 minimum: re-prompts the same step.
	reply = env.send(t, "30")
	if !strings.Contains(reply, "minimum is ₦50") {
		t.Fatalf("expected minimum rejection, got %q", reply)
	}

	reply = env.send(t, "500")
	if !strings.Contains(reply, "phone number") {
		t.Fatalf("expected phone prompt, got %q", reply)
	}

	reply = env.send(t, "0803 123 4567")
	if !strings.Contains(reply, "₦500") || !strings.Contains(reply, "PIN") {
		t.Fatalf("expected confirmation summary, got %q", reply)
	}

	// Two wrong PINs consume attempts without advancing.
	reply = env.send(t, "1111")
	if !strings.Contains(reply, "2 attempt(s) remaining") {
		t.Fatalf("expected first wrong-pin reply, got %q", reply)
	}
	reply = env.send(t, "2222")
	if !strings.Contains(reply, "1 attempt(s) remaining") {
		t.Fatalf("expected second wrong-pin reply, got %q", reply)
	}

	reply = env.send(t, "4821")
	if !strings.Contains(reply, "Done!") {
		t.Fatalf("expected success reply, got %q", reply)
	}

	if got := env.balance(t); got != 150_000 {
		t.Fatalf("expected balance 150000 after ₦500 purchase, got %d", got)
	}
	tx := env.onlyTransaction(t)
	if tx.Kind != domain.KindAirtime || tx.Status != domain.StatusCompleted {
		t.Fatalf("unexpected ledger row: kind=%s status=%s", tx.Kind, tx.Status)
	}
	if tx.Recipient != "08031234567" {
		t.Fatalf("expected normalized recipient, got %q", tx.Recipient)
	}
	if !strings.HasPrefix(tx.Reference, "CP-") {
		t.Fatalf("expected CP- reference, got %q", tx.Reference)
	}
	if env.sessions.has(env.user.ID) {
		t.Fatal("session should be destroyed after settlement")
	}
}

func TestDataFlowRejectsUnaffordablePlan(t *testing.T) {
	env := newTestEnv(t, 50_000) // ₦500: 1GB (₦300+₦50 fee) affordable, 5GB is not

	env.send(t, "data")
	env.send(t, "mtn")
	reply := env.send(t, "30 days")
	if !strings.Contains(reply, "1. 1GB") || !strings.Contains(reply, "2. 5GB") {
		t.Fatalf("expected plan menu, got %q", reply)
	}

	// 5GB costs ₦1,250 including the fee; the wallet holds ₦500.
	reply = env.send(t, "2")
	if !strings.Contains(reply, "your balance is ₦500") {
		t.Fatalf("expected affordability rejection, got %q", reply)
	}

	// The step did not advance, so a valid pick still works.
	reply = env.send(t, "1")
	if !strings.Contains(reply, "phone number") {
		t.Fatalf("expected phone prompt after valid pick, got %q", reply)
	}

	env.send(t, "08031234567")
	reply = env.send(t, "4821")
	if !strings.Contains(reply, "Done!") {
		t.Fatalf("expected success reply, got %q", reply)
	}
	// ₦300 plan + ₦50 service fee
	if got := env.balance(t); got != 15_000 {
		t.Fatalf("expected balance 15000, got %d", got)
	}
	tx := env.onlyTransaction(t)
	if tx.Kind != domain.KindData || tx.Fee != 5_000 || tx.TotalAmount != 35_000 {
		t.Fatalf("unexpected ledger row: kind=%s fee=%d total=%d", tx.Kind, tx.Fee, tx.TotalAmount)
	}
}

func TestBankTransferWithOTPWalkthrough(t *testing.T) {
	env := newTestEnv(t, 200_000) // ₦2,000

	env.bank.initiateFn = func(_ context.Context, amount int64, reference, accountNumber, bankCode, narration string) (*domain.GatewayOutcome, error) {
		if amount != 100_000 {
			t.Fatalf("expected transfer amount 100000, got %d", amount)
		}
		if bankCode != "058" {
			t.Fatalf("expected GTBank code, got %q", bankCode)
		}
		return &domain.GatewayOutcome{Status: domain.OutcomeOTPRequired, ProviderReference: "bank-otp-1"}, nil
	}
	env.bank.otpFn = func(_ context.Context, reference, code string) (*domain.GatewayOutcome, error) {
		if code == "123456" {
			return &domain.GatewayOutcome{Status: domain.OutcomeSuccess, ProviderReference: "bank-otp-1"}, nil
		}
		return &domain.GatewayOutcome{Status: domain.OutcomeFailed, Message: "invalid otp"}, nil
	}

	env.send(t, "send")
	env.send(t, "1000")
	reply := env.send(t, "gtbank")
	if !strings.Contains(reply, "10-digit account number") {
		t.Fatalf("expected account prompt, got %q", reply)
	}

	reply = env.send(t, "0123456789")
	if !strings.Contains(reply, "ADAEZE OKONKWO") || !strings.Contains(reply, "Fee: ₦15") {
		t.Fatalf("expected summary with resolved name and 1.5%% fee, got %q", reply)
	}

	reply = env.send(t, "4821")
	if !strings.Contains(reply, "6-digit code") {
		t.Fatalf("expected otp prompt, got %q", reply)
	}
	// Funds are locked while the OTP is outstanding.
	if got := env.balance(t); got != 98_500 {
		t.Fatalf("expected balance 98500 with debit held, got %d", got)
	}
	tx := env.onlyTransaction(t)
	if tx.Status != domain.StatusPendingOTP {
		t.Fatalf("expected pending_otp status, got %s", tx.Status)
	}

	// A wrong code allows retry without touching the wallet.
	reply = env.send(t, "000000")
	if !strings.Contains(reply, "not accepted") {
		t.Fatalf("expected otp rejection, got %q", reply)
	}
	if got := env.balance(t); got != 98_500 {
		t.Fatalf("balance changed on rejected otp: %d", got)
	}

	reply = env.send(t, "123456")
	if !strings.Contains(reply, "confirmed") {
		t.Fatalf("expected confirmation, got %q", reply)
	}
	tx = env.onlyTransaction(t)
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %s", tx.Status)
	}
	if got := env.balance(t); got != 98_500 {
		t.Fatalf("expected final balance 98500, got %d", got)
	}
	if env.sessions.has(env.user.ID) {
		t.Fatal("session should be destroyed after otp success")
	}
}

func TestTransferManualNameFallback(t *testing.T) {
	env := newTestEnv(t, 200_000)
	env.bank.resolveFn = func(context.Context, string, string) (*domain.ResolvedAccount, error) {
		return nil, domain.ErrAccountNotResolvable
	}

	env.send(t, "send")
	env.send(t, "1000")
	env.send(t, "zenith")
	reply := env.send(t, "0123456789")
	if !strings.Contains(reply, "account holder's name") {
		t.Fatalf("expected manual name prompt, got %q", reply)
	}

	reply = env.send(t, "Chinedu Obi")
	if !strings.Contains(reply, "Chinedu Obi") || !strings.Contains(reply, "PIN") {
		t.Fatalf("expected summary with manual name, got %q", reply)
	}
}

func TestKYCGateBlocksFlows(t *testing.T) {
	env := newTestEnv(t, 200_000)
	if err := env.repo.UpdateKYCStatus(context.Background(), env.user.ID, domain.KYCStatusPending); err != nil {
		t.Fatalf("failed to reset kyc: %v", err)
	}

	reply := env.send(t, "airtime")
	if !strings.Contains(reply, "verification is not complete") {
		t.Fatalf("expected kyc rejection, got %q", reply)
	}
	if env.sessions.has(env.user.ID) {
		t.Fatal("no session should be created for unapproved user")
	}
}

func TestCancelClearsSession(t *testing.T) {
	env := newTestEnv(t, 200_000)

	env.send(t, "airtime")
	env.send(t, "mtn")
	reply := env.send(t, "cancel")
	if !strings.Contains(reply, "cancelled") {
		t.Fatalf("expected cancel acknowledgment, got %q", reply)
	}
	if env.sessions.has(env.user.ID) {
		t.Fatal("session should be deleted on cancel")
	}

	reply = env.send(t, "500")
	if !strings.Contains(reply, "not sure what you mean") {
		t.Fatalf("expected help fallback after cancel, got %q", reply)
	}
}

func TestExpiredSessionIsRejected(t *testing.T) {
	env := newTestEnv(t, 200_000)

	env.send(t, "airtime")
	session, err := env.sessions.Get(context.Background(), env.user.ID)
	if err != nil {
		t.Fatalf("expected live session: %v", err)
	}
	session.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := env.sessions.Save(context.Background(), session, time.Minute); err != nil {
		t.Fatalf("failed to save expired session: %v", err)
	}

	reply := env.send(t, "mtn")
	if !strings.Contains(reply, "expired") {
		t.Fatalf("expected expiry message, got %q", reply)
	}
	if env.sessions.has(env.user.ID) {
		t.Fatal("expired session should be deleted")
	}
}

func TestStartingNewFlowReplacesSession(t *testing.T) {
	env := newTestEnv(t, 200_000)

	env.send(t, "airtime")
	env.send(t, "mtn")
	env.send(t, "send") // starts the transfer flow mid-airtime

	reply := env.send(t, "1000")
	if !strings.Contains(reply, "Which bank") {
		t.Fatalf("expected transfer flow to own the session, got %q", reply)
	}
}

func TestBalanceAndHistoryCommands(t *testing.T) {
	env := newTestEnv(t, 123_456)

	reply := env.send(t, "balance")
	if !strings.Contains(reply, "₦1,234.56") {
		t.Fatalf("expected formatted balance, got %q", reply)
	}

	reply = env.send(t, "history")
	if !strings.Contains(reply, "no transactions") {
		t.Fatalf("expected empty history, got %q", reply)
	}
}

func TestUnknownUserIsCreatedOnFirstContact(t *testing.T) {
	env := newTestEnv(t, 0)

	reply, err := env.svc.HandleChatMessage(context.Background(), "chat-new", "hello")
	if err != nil {
		t.Fatalf("HandleChatMessage returned error: %v", err)
	}
	if !strings.Contains(reply, "Here's what I can do") {
		t.Fatalf("expected help message, got %q", reply)
	}

	user, err := env.repo.FindUserByChatID(context.Background(), "chat-new")
	if err != nil {
		t.Fatalf("expected user to be created: %v", err)
	}
	if user.KYCStatus != domain.KYCStatusPending || user.WalletBalance != 0 {
		t.Fatalf("unexpected new user state: kyc=%s balance=%d", user.KYCStatus, user.WalletBalance)
	}
}

func TestSetPINCommand(t *testing.T) {
	env := newTestEnv(t, 0)

	reply := env.send(t, "setpin 12")
	if !strings.Contains(reply, "4 digits") {
		t.Fatalf("expected format hint, got %q", reply)
	}

	reply = env.send(t, "setpin 9876")
	if !strings.Contains(reply, "has been set") {
		t.Fatalf("expected confirmation, got %q", reply)
	}
	if err := env.svc.VerifyTransactionPIN(context.Background(), env.user.ID, "9876"); err != nil {
		t.Fatalf("new pin should verify: %v", err)
	}
}
