package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kudipay/chatpay-service/internal/domain"
)

// seedProcessingTransfer creates a debited, in-flight transfer as settlement
// leaves it when the gateway answer was indeterminate.
func seedProcessingTransfer(t *testing.T, env *testEnv) *domain.Transaction {
	t.Helper()
	ctx := context.Background()

	if err := env.repo.DebitWallet(ctx, env.user.ID, 101_500); err != nil {
		t.Fatalf("failed to seed debit: %v", err)
	}
	tx := &domain.Transaction{
		ID:          uuid.New(),
		Reference:   domain.NewTransactionReference(),
		UserID:      env.user.ID,
		Kind:        domain.KindBankTransfer,
		Status:      domain.StatusProcessing,
		Amount:      100_000,
		Fee:         1_500,
		TotalAmount: 101_500,
		Recipient:   "******6789 GTBank",
	}
	if err := env.repo.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("failed to seed transaction: %v", err)
	}
	return tx
}

func eventBody(t *testing.T, event domain.TransferStatusEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func TestConsumerFailedEventRefundsOnce(t *testing.T) {
	env := newTestEnv(t, 200_000)
	tx := seedProcessingTransfer(t, env)
	consumer := NewTransferStatusConsumer(env.svc)

	body := eventBody(t, domain.TransferStatusEvent{
		Reference: tx.Reference,
		Status:    "failed",
		Reason:    "beneficiary bank unavailable",
	})

	if !consumer.HandleMessage(body) {
		t.Fatal("expected ack for failed event")
	}
	if got := env.balance(t); got != 200_000 {
		t.Fatalf("expected full refund to 200000, got %d", got)
	}
	updated, err := env.repo.FindTransactionByReference(context.Background(), tx.Reference)
	if err != nil {
		t.Fatalf("transaction lookup failed: %v", err)
	}
	if updated.Status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %s", updated.Status)
	}
	if !strings.Contains(env.notifier.last(), "refunded") {
		t.Fatalf("expected refund notification, got %q", env.notifier.last())
	}

	// A replayed delivery is acknowledged without a second refund.
	if !consumer.HandleMessage(body) {
		t.Fatal("expected ack for replayed event")
	}
	if got := env.balance(t); got != 200_000 {
		t.Fatalf("replay refunded twice: %d", got)
	}
}

// flakyRefundRepo fails the fail-and-refund unit a set number of times before
// delegating, standing in for a transient database error.
type flakyRefundRepo struct {
	*memRepo
	failures int
}

func (r *flakyRefundRepo) FailTransferWithRefund(ctx context.Context, reference string, providerReference, failureReason *string) (bool, error) {
	if r.failures > 0 {
		r.failures--
		return false, errors.New("connection reset")
	}
	return r.memRepo.FailTransferWithRefund(ctx, reference, providerReference, failureReason)
}

func TestConsumerRefundRetriesAfterTransientError(t *testing.T) {
	env := newTestEnv(t, 200_000)
	tx := seedProcessingTransfer(t, env)

	flaky := &flakyRefundRepo{memRepo: env.repo, failures: 1}
	svc := NewService(flaky, env.sessions, env.vtu, env.bank, env.notifier, Settings{
		TransferFeeBPS:     150,
		DataServiceFeeKobo: 5_000,
	})
	consumer := NewTransferStatusConsumer(svc)

	body := eventBody(t, domain.TransferStatusEvent{
		Reference: tx.Reference,
		Status:    "failed",
		Reason:    "beneficiary bank unavailable",
	})

	if consumer.HandleMessage(body) {
		t.Fatal("expected requeue while the refund cannot commit")
	}
	// Nothing moved: the row is still open, so the redelivery can retry the
	// whole status-flip-plus-refund unit.
	updated, err := env.repo.FindTransactionByReference(context.Background(), tx.Reference)
	if err != nil {
		t.Fatalf("transaction lookup failed: %v", err)
	}
	if updated.Status != domain.StatusProcessing {
		t.Fatalf("row went terminal without a refund: %s", updated.Status)
	}
	if got := env.balance(t); got != 98_500 {
		t.Fatalf("balance changed on failed refund attempt: %d", got)
	}

	// The redelivery completes the unit.
	if !consumer.HandleMessage(body) {
		t.Fatal("expected ack on redelivery")
	}
	updated, _ = env.repo.FindTransactionByReference(context.Background(), tx.Reference)
	if updated.Status != domain.StatusFailed {
		t.Fatalf("expected failed status after redelivery, got %s", updated.Status)
	}
	if got := env.balance(t); got != 200_000 {
		t.Fatalf("expected refunded balance 200000 after redelivery, got %d", got)
	}
}

func TestConsumerCompletedEventConfirms(t *testing.T) {
	env := newTestEnv(t, 200_000)
	tx := seedProcessingTransfer(t, env)
	consumer := NewTransferStatusConsumer(env.svc)

	body := eventBody(t, domain.TransferStatusEvent{
		Reference:         tx.Reference,
		ProviderReference: "bank-async-1",
		Status:            "completed",
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected ack for completed event")
	}

	updated, err := env.repo.FindTransactionByReference(context.Background(), tx.Reference)
	if err != nil {
		t.Fatalf("transaction lookup failed: %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %s", updated.Status)
	}
	// No refund: the debit already paid for the transfer.
	if got := env.balance(t); got != 98_500 {
		t.Fatalf("expected balance 98500, got %d", got)
	}
	if env.notifier.count() != 1 || !strings.Contains(env.notifier.last(), "confirmed") {
		t.Fatalf("expected confirmation notification, got %q", env.notifier.last())
	}

	// A stale failure after completion is ignored.
	stale := eventBody(t, domain.TransferStatusEvent{Reference: tx.Reference, Status: "failed"})
	if !consumer.HandleMessage(stale) {
		t.Fatal("expected ack for stale downgrade")
	}
	updated, _ = env.repo.FindTransactionByReference(context.Background(), tx.Reference)
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("stale event downgraded status to %s", updated.Status)
	}
	if got := env.balance(t); got != 98_500 {
		t.Fatalf("stale event moved funds: %d", got)
	}
}

func TestConsumerResolvesByProviderReference(t *testing.T) {
	env := newTestEnv(t, 200_000)
	tx := seedProcessingTransfer(t, env)
	providerRef := "bank-prov-77"
	status := domain.StatusProcessing
	if err := env.repo.UpdateTransactionStatus(context.Background(), tx.Reference, domain.TransactionStatusUpdate{
		Status:            &status,
		ProviderReference: &providerRef,
	}); err != nil {
		t.Fatalf("failed to attach provider reference: %v", err)
	}
	consumer := NewTransferStatusConsumer(env.svc)

	body := eventBody(t, domain.TransferStatusEvent{
		ProviderReference: providerRef,
		Status:            "completed",
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected ack")
	}
	updated, _ := env.repo.FindTransactionByReference(context.Background(), tx.Reference)
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("expected completed via provider reference, got %s", updated.Status)
	}
}

func TestConsumerDropsUnknownAndMalformed(t *testing.T) {
	env := newTestEnv(t, 200_000)
	consumer := NewTransferStatusConsumer(env.svc)

	unknown := eventBody(t, domain.TransferStatusEvent{Reference: "CP-DOESNOTEXIST", Status: "failed"})
	if !consumer.HandleMessage(unknown) {
		t.Fatal("unknown reference should be acked and dropped")
	}
	if !consumer.HandleMessage([]byte("{not json")) {
		t.Fatal("malformed body should be acked and dropped")
	}
	if got := env.balance(t); got != 200_000 {
		t.Fatalf("balance changed: %d", got)
	}
}

func TestConsumerIgnoresIntermediateStatus(t *testing.T) {
	env := newTestEnv(t, 200_000)
	tx := seedProcessingTransfer(t, env)
	consumer := NewTransferStatusConsumer(env.svc)

	body := eventBody(t, domain.TransferStatusEvent{Reference: tx.Reference, Status: "in_transit"})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected ack for intermediate status")
	}
	updated, _ := env.repo.FindTransactionByReference(context.Background(), tx.Reference)
	if updated.Status != domain.StatusProcessing {
		t.Fatalf("intermediate status changed the row to %s", updated.Status)
	}
}
