/**
 * @description
 * This file implements the deposit path: lazily provisioning a dedicated
 * virtual funding account for a user, and crediting the wallet when the
 * payment provider delivers an incoming-payment webhook.
 *
 * Key features:
 * - Virtual accounts are provisioned on first "deposit" request and reused
 *   afterwards.
 * - Webhook processing is idempotent on the provider's payment reference, so
 *   replayed deliveries credit the wallet exactly once.
 *
 * @dependencies
 * - internal/domain, internal/store: Deposit ledger and virtual account data.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/kudipay/chatpay-service/internal/domain"
	"github.com/kudipay/chatpay-service/internal/store"
)

// depositReply answers the "deposit" command with the user's dedicated funding
// account, provisioning one through the bank gateway on first use.
func (s *Service) depositReply(ctx context.Context, user *domain.User) (string, error) {
	account, err := s.repo.FindVirtualAccountByUserID(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, store.ErrVirtualAccountNotFound) {
			return "", fmt.Errorf("failed to look up virtual account: %w", err)
		}
		account, err = s.provisionVirtualAccount(ctx, user)
		if err != nil {
			log.Printf("level=error component=deposit msg=\"virtual account provisioning failed\" user_id=%s err=%v", user.ID, err)
			return "I couldn't set up your funding account right now. Please try again in a few minutes.", nil
		}
	}

	return fmt.Sprintf("To fund your wallet, transfer any amount to your dedicated account:\n\n%s\nAccount: %s\n\nYour wallet is credited automatically once the payment lands.",
		account.BankName, account.AccountNumber), nil
}

func (s *Service) provisionVirtualAccount(ctx context.Context, user *domain.User) (*domain.VirtualAccount, error) {
	customerName := "ChatPay Customer"
	if user.FullName != nil && *user.FullName != "" {
		customerName = *user.FullName
	}

	// The account reference ties the provider-side account back to our user.
	accountReference := "chatpay-" + user.ID.String()
	provisioned, err := s.bank.CreateVirtualAccount(ctx, accountReference, customerName)
	if err != nil {
		return nil, fmt.Errorf("bank gateway provisioning failed: %w", err)
	}

	account := &domain.VirtualAccount{
		ID:               uuid.New(),
		UserID:           user.ID,
		AccountReference: accountReference,
		AccountNumber:    provisioned.AccountNumber,
		BankName:         provisioned.BankName,
		Active:           true,
	}
	if err := s.repo.CreateVirtualAccount(ctx, account); err != nil {
		// A concurrent deposit request may have provisioned one already.
		if existing, findErr := s.repo.FindVirtualAccountByUserID(ctx, user.ID); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to persist virtual account: %w", err)
	}
	log.Printf("level=info component=deposit msg=\"virtual account provisioned\" user_id=%s account_number=%s", user.ID, account.AccountNumber)
	return account, nil
}

// ProcessPaymentWebhook credits the wallet for an incoming payment delivered
// by the provider. It is safe to call multiple times with the same event: the
// provider reference keys the deposit, and replays are acknowledged without a
// second credit.
func (s *Service) ProcessPaymentWebhook(ctx context.Context, event domain.PaymentWebhook) error {
	if event.ProviderReference == "" {
		return fmt.Errorf("payment webhook missing provider reference")
	}
	if event.Amount <= 0 {
		return fmt.Errorf("payment webhook has non-positive amount %d", event.Amount)
	}

	account, err := s.repo.FindVirtualAccountByNumber(ctx, event.AccountNumber)
	if err != nil {
		if errors.Is(err, store.ErrVirtualAccountNotFound) {
			// Not ours; acknowledge so the provider stops retrying.
			log.Printf("level=warn component=deposit msg=\"payment for unknown account\" account_number=%s provider_reference=%s", event.AccountNumber, event.ProviderReference)
			return nil
		}
		return fmt.Errorf("failed to resolve virtual account: %w", err)
	}

	narration := event.Narration
	if narration == "" {
		narration = "Wallet deposit"
	}
	if event.PayerName != "" {
		narration = fmt.Sprintf("%s from %s", narration, event.PayerName)
	}

	_, created, err := s.repo.RecordDeposit(ctx, account.UserID, event.Amount, event.ProviderReference, narration)
	if err != nil {
		return fmt.Errorf("failed to record deposit: %w", err)
	}
	if !created {
		log.Printf("level=info component=deposit msg=\"replayed payment webhook ignored\" provider_reference=%s", event.ProviderReference)
		return nil
	}

	log.Printf("level=info component=deposit msg=\"wallet credited\" user_id=%s amount=%d provider_reference=%s", account.UserID, event.Amount, event.ProviderReference)

	if user, findErr := s.repo.FindUserByID(ctx, account.UserID); findErr == nil {
		balance, balErr := s.repo.GetWalletBalance(ctx, user.ID)
		if balErr != nil {
			s.notify(ctx, user.ChatID, fmt.Sprintf("Your wallet has been credited with %s.", formatNaira(event.Amount)))
		} else {
			s.notify(ctx, user.ChatID, fmt.Sprintf("Your wallet has been credited with %s. New balance: %s.", formatNaira(event.Amount), formatNaira(balance)))
		}
	}
	return nil
}
