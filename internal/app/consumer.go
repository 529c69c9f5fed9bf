/**
 * @description
 * Asynchronous transfer status consumer. Bank transfers that ended the
 * synchronous settlement call in `processing` (provider accepted, outcome
 * unknown) are resolved here when the gateway's webhook relay publishes a
 * terminal status over RabbitMQ.
 *
 * Key behaviors:
 * - Events for unknown references are acknowledged and dropped; the relay
 *   fans out statuses for more than one consumer.
 * - Replays and stale downgrades of already-terminal rows are ignored, which
 *   with the debit-before policy guarantees at most one refund per transfer.
 * - A `failed` status refunds the full debit (amount plus fee) and tells the
 *   user; `completed` just confirms, since the funds already left the wallet.
 *
 * @dependencies
 * - internal/domain, internal/store: Ledger access and event payloads.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kudipay/chatpay-service/internal/domain"
	"github.com/kudipay/chatpay-service/internal/store"
)

// TransferStatusRoutingKey is the binding for transfer status events.
const TransferStatusRoutingKey = "transfer.status.updated"

const consumerTimeout = 15 * time.Second

// TransferStatusConsumer applies asynchronous transfer outcomes to the ledger.
type TransferStatusConsumer struct {
	svc *Service
}

// NewTransferStatusConsumer creates the consumer around the application service.
func NewTransferStatusConsumer(svc *Service) *TransferStatusConsumer {
	return &TransferStatusConsumer{svc: svc}
}

// HandleMessage processes one raw event body. It returns true to acknowledge
// the message and false to requeue it for redelivery.
func (c *TransferStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.TransferStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=transfer_consumer msg=\"malformed event; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("level=error component=transfer_consumer msg=\"event processing failed; re-queuing\" reference=%s provider_reference=%s err=%v",
			event.Reference, event.ProviderReference, err)
		return false
	}
	return true
}

func (c *TransferStatusConsumer) processEvent(ctx context.Context, event domain.TransferStatusEvent) error {
	tx, err := c.findTransaction(ctx, event)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			log.Printf("level=warn component=transfer_consumer msg=\"event for unknown transfer; dropping\" reference=%s provider_reference=%s",
				event.Reference, event.ProviderReference)
			return nil
		}
		return err
	}

	if tx.Kind != domain.KindBankTransfer {
		log.Printf("level=warn component=transfer_consumer msg=\"event for non-transfer ledger row; dropping\" reference=%s kind=%s", tx.Reference, tx.Kind)
		return nil
	}
	if domain.TerminalStatus(tx.Status) {
		log.Printf("level=info component=transfer_consumer msg=\"stale event for terminal transfer; dropping\" reference=%s status=%s event_status=%s",
			tx.Reference, tx.Status, event.Status)
		return nil
	}

	switch event.Status {
	case "completed", "success", "successful":
		return c.applyCompleted(ctx, tx, event)
	case "failed", "reversed", "declined":
		return c.applyFailed(ctx, tx, event)
	default:
		// Intermediate provider states keep the row in processing.
		log.Printf("level=info component=transfer_consumer msg=\"non-terminal status; no change\" reference=%s event_status=%s", tx.Reference, event.Status)
		return nil
	}
}

func (c *TransferStatusConsumer) findTransaction(ctx context.Context, event domain.TransferStatusEvent) (*domain.Transaction, error) {
	if event.Reference != "" {
		return c.svc.repo.FindTransactionByReference(ctx, event.Reference)
	}
	if event.ProviderReference != "" {
		return c.svc.repo.FindTransactionByProviderReference(ctx, event.ProviderReference)
	}
	return nil, store.ErrTransactionNotFound
}

func (c *TransferStatusConsumer) applyCompleted(ctx context.Context, tx *domain.Transaction, event domain.TransferStatusEvent) error {
	status := domain.StatusCompleted
	update := domain.TransactionStatusUpdate{
		Status:            &status,
		ProviderReference: optionalString(event.ProviderReference),
	}
	if err := c.svc.repo.UpdateTransactionStatus(ctx, tx.Reference, update); err != nil {
		return fmt.Errorf("failed to mark transfer completed: %w", err)
	}
	log.Printf("level=info component=transfer_consumer msg=\"transfer completed\" reference=%s", tx.Reference)

	if user, err := c.svc.repo.FindUserByID(ctx, tx.UserID); err == nil {
		c.svc.notify(ctx, user.ChatID, fmt.Sprintf("Your transfer of %s to %s is confirmed. Reference: %s",
			formatNaira(tx.Amount), tx.Recipient, tx.Reference))
	}
	return nil
}

func (c *TransferStatusConsumer) applyFailed(ctx context.Context, tx *domain.Transaction, event domain.TransferStatusEvent) error {
	reason := event.Reason
	if reason == "" {
		reason = "the bank reported a failure"
	}

	// The wallet was debited before the gateway call; a terminal failure
	// returns the full amount plus fee. The status flip and the refund commit
	// as one unit: a transient error leaves the row non-terminal, so the
	// requeued delivery retries the whole thing instead of finding a failed
	// row whose refund never landed.
	refunded, err := c.svc.repo.FailTransferWithRefund(ctx, tx.Reference, optionalString(event.ProviderReference), &reason)
	if err != nil {
		return fmt.Errorf("failed to fail and refund transfer: %w", err)
	}
	if !refunded {
		log.Printf("level=info component=transfer_consumer msg=\"transfer already terminal; no refund applied\" reference=%s", tx.Reference)
		return nil
	}
	log.Printf("level=info component=transfer_consumer msg=\"transfer failed; wallet refunded\" reference=%s amount=%d", tx.Reference, tx.TotalAmount)

	if user, err := c.svc.repo.FindUserByID(ctx, tx.UserID); err == nil {
		c.svc.notify(ctx, user.ChatID, fmt.Sprintf("Your transfer of %s to %s failed (%s). Your wallet has been refunded %s.",
			formatNaira(tx.Amount), tx.Recipient, reason, formatNaira(tx.TotalAmount)))
	}
	return nil
}
