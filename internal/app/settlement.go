/**
 * @description
 * This file implements settlement: the point at which wallet funds move and
 * the external gateway is invoked, executed synchronously once the PIN step
 * passes. It encodes the deliberate debit-policy asymmetry between the flows:
 *
 * - airtime/data debit AFTER a confirmed success response, so ambiguous or
 *   failed outcomes never need a refund;
 * - bank transfers debit BEFORE the gateway call to lock funds, so an
 *   explicit failure refunds amount+fee and an ambiguous outcome keeps the
 *   debit until the asynchronous status consumer resolves it.
 *
 * Every settlement attempt produces exactly one ledger row, keyed by a
 * reference generated here before any external call.
 *
 * @notes
 * - Gateway transport errors are indeterminate outcomes, never silent: they
 *   always update the ledger and produce a user-safe message, and are never
 *   propagated past this boundary.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"
	"github.com/kudipay/chatpay-service/internal/domain"
	"github.com/kudipay/chatpay-service/internal/store"
)

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// gatewayCall abstracts the provider invocation for the debit-after-success
// (prepaid) settlement path.
type gatewayCall func(ctx context.Context, reference string) (*domain.GatewayOutcome, error)

// settleAirtime settles an airtime purchase (no fee, debit after success).
func (s *Service) settleAirtime(ctx context.Context, fc *flowContext) (string, error) {
	amount, _ := strconv.ParseInt(fc.get(domain.FieldAmount), 10, 64)
	network := fc.get(domain.FieldNetwork)
	phone := fc.get(domain.FieldPhoneNumber)
	narration := fmt.Sprintf("%s airtime for %s", network, phone)

	return s.settlePrepaid(ctx, fc, domain.KindAirtime, amount, 0, phone, narration,
		func(ctx context.Context, reference string) (*domain.GatewayOutcome, error) {
			return s.vtu.PurchaseAirtime(ctx, network, phone, amount, reference)
		})
}

// settleData settles a data bundle purchase (catalog price plus service fee,
// debit after success).
func (s *Service) settleData(ctx context.Context, fc *flowContext) (string, error) {
	amount, _ := strconv.ParseInt(fc.get(domain.FieldAmount), 10, 64)
	fee, _ := strconv.ParseInt(fc.get(domain.FieldFee), 10, 64)
	network := fc.get(domain.FieldNetwork)
	phone := fc.get(domain.FieldPhoneNumber)
	planID := fc.get(domain.FieldPlanID)
	narration := fmt.Sprintf("%s (%s) for %s", fc.get(domain.FieldPlanLabel), network, phone)

	return s.settlePrepaid(ctx, fc, domain.KindData, amount, fee, phone, narration,
		func(ctx context.Context, reference string) (*domain.GatewayOutcome, error) {
			return s.vtu.PurchaseData(ctx, network, phone, planID, reference)
		})
}

// settlePrepaid is the shared debit-after-success settlement used by the
// airtime and data flows. The wallet is only touched once the provider has
// confirmed delivery; pending and failed outcomes leave the balance intact.
func (s *Service) settlePrepaid(ctx context.Context, fc *flowContext, kind string, amount, fee int64, recipient, narration string, call gatewayCall) (string, error) {
	fc.finish() // every prepaid path destroys the session

	total := amount + fee
	balance, err := s.repo.GetWalletBalance(ctx, fc.user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch balance: %w", err)
	}
	if balance < total {
		return fmt.Sprintf("You no longer have enough funds for this purchase (total %s, balance %s). Please start again.",
			formatNaira(total), formatNaira(balance)), nil
	}

	reference := domain.NewTransactionReference()
	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		Reference:   reference,
		UserID:      fc.user.ID,
		Kind:        kind,
		Status:      domain.StatusPending,
		Amount:      amount,
		Fee:         fee,
		TotalAmount: total,
		Recipient:   recipient,
		Narration:   narration,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		return "", fmt.Errorf("failed to create transaction record: %w", err)
	}

	outcome, err := call(ctx, reference)
	if err != nil {
		// Indeterminate: the provider may or may not deliver. No debit was
		// taken, so the user's funds are safe either way.
		log.Printf("level=warn component=settlement msg=\"gateway call failed\" kind=%s reference=%s err=%v", kind, reference, err)
		s.recordOutcome(ctx, reference, domain.StatusFailed, "", "provider unreachable: "+err.Error())
		return "I couldn't reach the provider, so you have NOT been charged. Please try again in a few minutes. Reference: " + reference, nil
	}

	switch outcome.Status {
	case domain.OutcomeSuccess:
		// The debit and the completed status commit as one unit, so the wallet
		// can never end up charged with the row still pending.
		if err := s.repo.DebitAndCompleteTransaction(ctx, fc.user.ID, total, reference, optionalString(outcome.ProviderReference)); err != nil {
			// Delivery happened but the debit did not. Never record success
			// without the matching debit.
			log.Printf("level=error component=settlement msg=\"CRITICAL: wallet debit failed after confirmed delivery\" user_id=%s reference=%s err=%v", fc.user.ID, reference, err)
			s.recordOutcome(ctx, reference, domain.StatusFailed, outcome.ProviderReference, "wallet debit failed after delivery")
			return "Something went wrong completing that purchase. Please contact support with reference " + reference + ".", nil
		}
		return fmt.Sprintf("Done! %s delivered to %s. New balance: %s. Reference: %s",
			formatNaira(amount), recipient, formatNaira(balance-total), reference), nil

	case domain.OutcomePending:
		// Deliberate asymmetry: an ambiguous provider response does not debit,
		// avoiding a double loss if the provider later fails silently.
		reason := outcome.Message
		if reason == "" {
			reason = "provider reported a delayed response"
		}
		s.recordOutcome(ctx, reference, domain.StatusPending, outcome.ProviderReference, reason)
		return "The provider is taking longer than usual. Your funds are safe and you have not been charged. Reference: " + reference, nil

	default: // failed
		reason := outcome.Message
		if reason == "" {
			reason = "provider declined the request"
		}
		s.recordOutcome(ctx, reference, domain.StatusFailed, outcome.ProviderReference, reason)
		return "The purchase failed (" + reason + "). You have not been charged.", nil
	}
}

// settleTransfer settles a bank transfer (percentage fee, debit before call).
func (s *Service) settleTransfer(ctx context.Context, fc *flowContext) (string, error) {
	amount, _ := strconv.ParseInt(fc.get(domain.FieldAmount), 10, 64)
	fee := transferFee(amount, s.settings.TransferFeeBPS)
	total := amount + fee

	accountNumber := fc.get(domain.FieldAccountNumber)
	bankCode := fc.get(domain.FieldBankCode)
	accountName := fc.get(domain.FieldAccountName)
	narration := "Transfer to " + accountName

	// Debit first to lock funds; any later failure path must refund exactly
	// this amount.
	if err := s.repo.DebitWallet(ctx, fc.user.ID, total); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			fc.finish()
			return fmt.Sprintf("You don't have enough funds for this transfer: total %s including the %s fee. Please start again.",
				formatNaira(total), formatNaira(fee)), nil
		}
		return "", fmt.Errorf("failed to debit wallet: %w", err)
	}

	reference := domain.NewTransactionReference()
	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		Reference:   reference,
		UserID:      fc.user.ID,
		Kind:        domain.KindBankTransfer,
		Status:      domain.StatusPending,
		Amount:      amount,
		Fee:         fee,
		TotalAmount: total,
		Recipient:   maskAccountNumber(accountNumber) + " " + fc.get(domain.FieldBankName),
		Narration:   narration,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		if refundErr := s.repo.CreditWallet(ctx, fc.user.ID, total); refundErr != nil {
			log.Printf("level=error component=settlement msg=\"CRITICAL: refund failed after transaction creation failure\" user_id=%s err=%v", fc.user.ID, refundErr)
		}
		return "", fmt.Errorf("failed to create transaction record: %w", err)
	}

	outcome, err := s.bank.InitiateTransfer(ctx, amount, reference, accountNumber, bankCode, narration)
	if err != nil {
		// Indeterminate: the transfer may still complete. Keep the debit and
		// let the status consumer reconcile the final outcome.
		log.Printf("level=warn component=settlement msg=\"transfer gateway call failed\" reference=%s err=%v", reference, err)
		s.recordOutcome(ctx, reference, domain.StatusProcessing, "", "provider unreachable: "+err.Error())
		fc.finish()
		return "Your transfer is being processed. I'll let you know as soon as the bank confirms it. Reference: " + reference, nil
	}

	switch outcome.Status {
	case domain.OutcomeOTPRequired:
		s.recordOutcome(ctx, reference, domain.StatusPendingOTP, outcome.ProviderReference, "")
		fc.session.TransactionRef = reference
		fc.advance(stepOTP)
		return "The bank needs to confirm it's you. Enter the 6-digit code sent to your phone.", nil

	case domain.OutcomeFailed:
		reason := outcome.Message
		if reason == "" {
			reason = "the bank declined the transfer"
		}
		// Status flip and refund commit together; a failure here leaves the
		// row pending for the status consumer to retry the same unit.
		if _, refundErr := s.repo.FailTransferWithRefund(ctx, reference, optionalString(outcome.ProviderReference), &reason); refundErr != nil {
			log.Printf("level=error component=settlement msg=\"CRITICAL: refund failed after transfer failure\" user_id=%s reference=%s err=%v", fc.user.ID, reference, refundErr)
		}
		fc.finish()
		return "The transfer failed (" + reason + "). Your wallet has been refunded " + formatNaira(total) + ".", nil

	case domain.OutcomeSuccess:
		s.recordOutcome(ctx, reference, domain.StatusCompleted, outcome.ProviderReference, "")
		fc.finish()
		balance, balErr := s.repo.GetWalletBalance(ctx, fc.user.ID)
		if balErr != nil {
			log.Printf("level=warn component=settlement msg=\"balance fetch failed after transfer\" user_id=%s err=%v", fc.user.ID, balErr)
			return "Transfer sent to " + accountName + ". Reference: " + reference, nil
		}
		return fmt.Sprintf("Transfer of %s sent to %s. New balance: %s. Reference: %s",
			formatNaira(amount), accountName, formatNaira(balance), reference), nil

	default: // pending/processing
		s.recordOutcome(ctx, reference, domain.StatusProcessing, outcome.ProviderReference, outcome.Message)
		fc.finish()
		return "Your transfer is being processed. I'll let you know as soon as the bank confirms it. Reference: " + reference, nil
	}
}

// markTransferCompleted moves a pending-OTP transfer to completed after a
// successful OTP exchange. The wallet was already debited, so no balance
// change accompanies this.
func (s *Service) markTransferCompleted(ctx context.Context, reference, providerReference string) error {
	status := domain.StatusCompleted
	update := domain.TransactionStatusUpdate{
		Status:            &status,
		ProviderReference: optionalString(providerReference),
	}
	if err := s.repo.UpdateTransactionStatus(ctx, reference, update); err != nil {
		return fmt.Errorf("failed to complete transfer %s: %w", reference, err)
	}
	return nil
}

// recordOutcome persists a settlement outcome on the ledger row. Recording
// must never be skipped: failures here are loud but do not change the user
// message already decided by the caller.
func (s *Service) recordOutcome(ctx context.Context, reference, status, providerReference, reason string) {
	update := domain.TransactionStatusUpdate{
		Status:            &status,
		ProviderReference: optionalString(providerReference),
		FailureReason:     optionalString(reason),
	}
	if err := s.repo.UpdateTransactionStatus(ctx, reference, update); err != nil {
		log.Printf("level=error component=settlement msg=\"failed to record outcome\" reference=%s status=%s err=%v", reference, status, err)
	}
}
