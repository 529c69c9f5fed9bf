/**
 * @description
 * This file defines the three conversational flows — airtime purchase, data
 * purchase, and bank transfer — as ordered step tables over one generic
 * engine. Each step validates its input before the session advances; the
 * final PIN step hands over to settlement.
 *
 * Flow shapes:
 * - airtime:       network -> amount -> phone -> pin
 * - data:          network -> validity -> plan -> phone -> pin
 * - bank_transfer: amount -> bank -> account [-> account_name] -> pin [-> otp]
 *
 * @notes
 * - The data flow fixes the amount at plan selection (catalog price plus the
 *   service fee) and rejects plans the wallet cannot cover before the phone
 *   step is ever reached.
 * - Account name resolution failure falls back to manual name entry instead
 *   of blocking the transfer.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/kudipay/chatpay-service/internal/domain"
)

// Step names used in the state machine tables.
const (
	stepNetwork     = "network"
	stepAmount      = "amount"
	stepValidity    = "validity"
	stepPlan        = "plan"
	stepPhone       = "phone"
	stepBank        = "bank"
	stepAccount     = "account"
	stepAccountName = "account_name"
	stepPIN         = "pin"
	stepOTP         = "otp"
)

func buildFlowTable() map[domain.FlowType]*flowDef {
	return map[domain.FlowType]*flowDef{
		domain.FlowAirtime: {
			flow: domain.FlowAirtime,
			steps: []stepDef{
				{stepNetwork, handleAirtimeNetwork},
				{stepAmount, handleAirtimeAmount},
				{stepPhone, handleAirtimePhone},
				{stepPIN, makePINStep((*Service).settleAirtime)},
			},
		},
		domain.FlowData: {
			flow: domain.FlowData,
			steps: []stepDef{
				{stepNetwork, handleDataNetwork},
				{stepValidity, handleDataValidity},
				{stepPlan, handleDataPlan},
				{stepPhone, handleDataPhone},
				{stepPIN, makePINStep((*Service).settleData)},
			},
		},
		domain.FlowBankTransfer: {
			flow: domain.FlowBankTransfer,
			steps: []stepDef{
				{stepAmount, handleTransferAmount},
				{stepBank, handleTransferBank},
				{stepAccount, handleTransferAccount},
				{stepAccountName, handleTransferAccountName},
				{stepPIN, makePINStep((*Service).settleTransfer)},
				{stepOTP, handleTransferOTP},
			},
		},
	}
}

// firstPrompt renders the opening message for a freshly created session.
func (s *Service) firstPrompt(ctx context.Context, session *domain.Session) (string, error) {
	switch session.Flow {
	case domain.FlowAirtime, domain.FlowData:
		networks, err := s.vtu.ListNetworks(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list networks: %w", err)
		}
		if len(networks) == 0 {
			return "", errors.New("network catalog is empty")
		}
		var names []string
		for _, n := range networks {
			names = append(names, n.Name)
		}
		what := "airtime"
		if session.Flow == domain.FlowData {
			what = "a data bundle"
		}
		return fmt.Sprintf("Let's buy %s. Which network? (%s)", what, strings.Join(names, ", ")), nil

	case domain.FlowBankTransfer:
		return fmt.Sprintf("How much would you like to send? (%s to %s)",
			formatNaira(s.settings.TransferMinKobo), formatNaira(s.settings.TransferMaxKobo)), nil
	}
	return "", fmt.Errorf("unknown flow %q", session.Flow)
}

// matchNetwork validates a network selection against the provider catalog.
func (s *Service) matchNetwork(ctx context.Context, input string) (*domain.Network, []domain.Network, error) {
	networks, err := s.vtu.ListNetworks(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list networks: %w", err)
	}
	needle := strings.ToLower(strings.TrimSpace(input))
	for i := range networks {
		if strings.ToLower(networks[i].Code) == needle || strings.ToLower(networks[i].Name) == needle {
			return &networks[i], networks, nil
		}
	}
	return nil, networks, nil
}

func networkNames(networks []domain.Network) string {
	var names []string
	for _, n := range networks {
		names = append(names, n.Name)
	}
	return strings.Join(names, ", ")
}

// --- airtime flow ---

func handleAirtimeNetwork(ctx context.Context, fc *flowContext, input string) (string, error) {
	network, networks, err := fc.svc.matchNetwork(ctx, input)
	if err != nil {
		return "", err
	}
	if network == nil {
		return fmt.Sprintf("I don't recognise that network. Please pick one of: %s", networkNames(networks)), nil
	}
	fc.set(domain.FieldNetwork, network.Code)
	fc.advance(stepAmount)
	return fmt.Sprintf("How much airtime? (%s to %s)",
		formatNaira(fc.svc.settings.AirtimeMinKobo), formatNaira(fc.svc.settings.AirtimeMaxKobo)), nil
}

func handleAirtimeAmount(ctx context.Context, fc *flowContext, input string) (string, error) {
	amount, err := parseAmountKobo(input, fc.svc.settings.AirtimeMinKobo, fc.svc.settings.AirtimeMaxKobo)
	if err != nil {
		return err.Error() + ". Try again, or type cancel.", nil
	}

	balance, err := fc.svc.repo.GetWalletBalance(ctx, fc.user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch balance: %w", err)
	}
	if amount > balance {
		return fmt.Sprintf("You don't have enough funds: your balance is %s. Enter a smaller amount, or type cancel.", formatNaira(balance)), nil
	}

	fc.set(domain.FieldAmount, strconv.FormatInt(amount, 10))
	fc.advance(stepPhone)
	return "Which phone number should receive the airtime?", nil
}

func handleAirtimePhone(ctx context.Context, fc *flowContext, input string) (string, error) {
	phone, err := normalizePhoneNumber(input)
	if err != nil {
		return err.Error(), nil
	}
	fc.set(domain.FieldPhoneNumber, phone)
	fc.advance(stepPIN)

	amount, _ := strconv.ParseInt(fc.get(domain.FieldAmount), 10, 64)
	balance, balErr := fc.svc.repo.GetWalletBalance(ctx, fc.user.ID)
	if balErr != nil {
		return "", fmt.Errorf("failed to fetch balance: %w", balErr)
	}
	return fmt.Sprintf("You're buying %s airtime for %s.\nBalance after: %s.\nEnter your 4-digit PIN to confirm, or type cancel.",
		formatNaira(amount), phone, formatNaira(balance-amount)), nil
}

// --- data flow ---

func handleDataNetwork(ctx context.Context, fc *flowContext, input string) (string, error) {
	network, networks, err := fc.svc.matchNetwork(ctx, input)
	if err != nil {
		return "", err
	}
	if network == nil {
		return fmt.Sprintf("I don't recognise that network. Please pick one of: %s", networkNames(networks)), nil
	}

	validities, err := fc.svc.vtu.ListValidities(ctx, network.Code)
	if err != nil {
		return "", fmt.Errorf("failed to list validities: %w", err)
	}
	if len(validities) == 0 {
		fc.finish()
		return "No data plans are available for that network right now. Please try again later.", nil
	}

	fc.set(domain.FieldNetwork, network.Code)
	fc.advance(stepValidity)
	return fmt.Sprintf("Which validity? (%s)", strings.Join(validities, ", ")), nil
}

func handleDataValidity(ctx context.Context, fc *flowContext, input string) (string, error) {
	network := fc.get(domain.FieldNetwork)
	validities, err := fc.svc.vtu.ListValidities(ctx, network)
	if err != nil {
		return "", fmt.Errorf("failed to list validities: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(input))
	var chosen string
	for _, v := range validities {
		if strings.ToLower(v) == needle {
			chosen = v
			break
		}
	}
	if chosen == "" {
		return fmt.Sprintf("Please pick one of: %s", strings.Join(validities, ", ")), nil
	}

	plans, err := fc.svc.vtu.ListPlans(ctx, network, chosen)
	if err != nil {
		return "", fmt.Errorf("failed to list plans: %w", err)
	}
	if len(plans) == 0 {
		return "No plans are available for that validity. Pick a different one, or type cancel.", nil
	}

	fc.set(domain.FieldValidity, chosen)
	fc.advance(stepPlan)
	return renderPlanMenu(plans, fc.svc.settings.DataServiceFeeKobo), nil
}

func renderPlanMenu(plans []domain.DataPlan, serviceFee int64) string {
	var b strings.Builder
	b.WriteString("Pick a plan by number:\n")
	for i, p := range plans {
		b.WriteString(fmt.Sprintf("%d. %s — %s\n", i+1, p.Label, formatNaira(p.Price+serviceFee)))
	}
	b.WriteString("(prices include the service fee)")
	return b.String()
}

func handleDataPlan(ctx context.Context, fc *flowContext, input string) (string, error) {
	network := fc.get(domain.FieldNetwork)
	validity := fc.get(domain.FieldValidity)
	plans, err := fc.svc.vtu.ListPlans(ctx, network, validity)
	if err != nil {
		return "", fmt.Errorf("failed to list plans: %w", err)
	}

	index, convErr := strconv.Atoi(strings.TrimSpace(input))
	if convErr != nil || index < 1 || index > len(plans) {
		return fmt.Sprintf("Please reply with a number between 1 and %d, or type cancel.", len(plans)), nil
	}
	plan := plans[index-1]

	fee := fc.svc.settings.DataServiceFeeKobo
	total := plan.Price + fee
	balance, err := fc.svc.repo.GetWalletBalance(ctx, fc.user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch balance: %w", err)
	}
	if total > balance {
		return fmt.Sprintf("That plan costs %s but your balance is %s. Pick a cheaper plan, fund your wallet, or type cancel.",
			formatNaira(total), formatNaira(balance)), nil
	}

	fc.set(domain.FieldPlanID, plan.ID)
	fc.set(domain.FieldPlanLabel, plan.Label)
	fc.set(domain.FieldAmount, strconv.FormatInt(plan.Price, 10))
	fc.set(domain.FieldFee, strconv.FormatInt(fee, 10))
	fc.advance(stepPhone)
	return "Which phone number should receive the bundle?", nil
}

func handleDataPhone(ctx context.Context, fc *flowContext, input string) (string, error) {
	phone, err := normalizePhoneNumber(input)
	if err != nil {
		return err.Error(), nil
	}
	fc.set(domain.FieldPhoneNumber, phone)
	fc.advance(stepPIN)

	amount, _ := strconv.ParseInt(fc.get(domain.FieldAmount), 10, 64)
	fee, _ := strconv.ParseInt(fc.get(domain.FieldFee), 10, 64)
	balance, balErr := fc.svc.repo.GetWalletBalance(ctx, fc.user.ID)
	if balErr != nil {
		return "", fmt.Errorf("failed to fetch balance: %w", balErr)
	}
	total := amount + fee
	return fmt.Sprintf("You're buying %s (%s) for %s.\nTotal: %s (includes %s fee).\nBalance after: %s.\nEnter your 4-digit PIN to confirm, or type cancel.",
		fc.get(domain.FieldPlanLabel), fc.get(domain.FieldValidity), phone,
		formatNaira(total), formatNaira(fee), formatNaira(balance-total)), nil
}

// --- bank transfer flow ---

func handleTransferAmount(ctx context.Context, fc *flowContext, input string) (string, error) {
	amount, err := parseAmountKobo(input, fc.svc.settings.TransferMinKobo, fc.svc.settings.TransferMaxKobo)
	if err != nil {
		return err.Error() + ". Try again, or type cancel.", nil
	}

	// The percentage fee is applied at settlement; here the amount alone is
	// checked against the balance, and affordability of amount+fee is
	// re-checked before the debit.
	balance, err := fc.svc.repo.GetWalletBalance(ctx, fc.user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch balance: %w", err)
	}
	if amount > balance {
		return fmt.Sprintf("You don't have enough funds: your balance is %s. Enter a smaller amount, or type cancel.", formatNaira(balance)), nil
	}

	fc.set(domain.FieldAmount, strconv.FormatInt(amount, 10))
	fc.advance(stepBank)
	return "Which bank is the recipient's account with? (type the bank name)", nil
}

func handleTransferBank(ctx context.Context, fc *flowContext, input string) (string, error) {
	banks, err := fc.svc.bank.ListBanks(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list banks: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(input))
	var matches []domain.Bank
	for _, b := range banks {
		name := strings.ToLower(b.Name)
		if b.Code == needle || name == needle || strings.Contains(name, needle) {
			matches = append(matches, b)
		}
	}
	switch {
	case len(matches) == 0:
		return "I couldn't find that bank. Please type the bank's name again.", nil
	case len(matches) > 1 && needle != strings.ToLower(matches[0].Name):
		var names []string
		for i, m := range matches {
			if i >= 5 {
				break
			}
			names = append(names, m.Name)
		}
		return fmt.Sprintf("Did you mean one of these? %s", strings.Join(names, ", ")), nil
	}

	fc.set(domain.FieldBankCode, matches[0].Code)
	fc.set(domain.FieldBankName, matches[0].Name)
	fc.advance(stepAccount)
	return fmt.Sprintf("What's the 10-digit account number at %s?", matches[0].Name), nil
}

func handleTransferAccount(ctx context.Context, fc *flowContext, input string) (string, error) {
	account := strings.TrimSpace(input)
	if !validAccountNumber(account) {
		return "An account number is exactly 10 digits. Please try again.", nil
	}
	fc.set(domain.FieldAccountNumber, account)

	resolved, err := fc.svc.bank.ResolveAccount(ctx, account, fc.get(domain.FieldBankCode))
	if err != nil {
		if !errors.Is(err, domain.ErrAccountNotResolvable) {
			log.Printf("level=warn component=engine msg=\"account resolution error; falling back to manual name\" err=%v", err)
		}
		// Manual fallback rather than blocking the flow.
		fc.advance(stepAccountName)
		return "I couldn't automatically verify that account name. Please type the account holder's name as it appears on the account.", nil
	}

	fc.set(domain.FieldAccountName, resolved.AccountName)
	fc.advance(stepPIN)
	return fc.svc.transferSummary(ctx, fc)
}

func handleTransferAccountName(ctx context.Context, fc *flowContext, input string) (string, error) {
	name := strings.TrimSpace(input)
	if len(name) < 3 {
		return "That name looks too short. Please type the account holder's full name.", nil
	}
	fc.set(domain.FieldAccountName, name)
	fc.advance(stepPIN)
	return fc.svc.transferSummary(ctx, fc)
}

// transferSummary renders the confirmation message shown before the PIN step.
func (s *Service) transferSummary(ctx context.Context, fc *flowContext) (string, error) {
	amount, _ := strconv.ParseInt(fc.get(domain.FieldAmount), 10, 64)
	fee := transferFee(amount, s.settings.TransferFeeBPS)
	total := amount + fee

	balance, err := s.repo.GetWalletBalance(ctx, fc.user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch balance: %w", err)
	}

	return fmt.Sprintf("You're sending %s to %s (%s, %s).\nFee: %s. Total: %s.\nBalance after: %s.\nEnter your 4-digit PIN to confirm, or type cancel.",
		formatNaira(amount), fc.get(domain.FieldAccountName),
		maskAccountNumber(fc.get(domain.FieldAccountNumber)), fc.get(domain.FieldBankName),
		formatNaira(fee), formatNaira(total), formatNaira(balance-total)), nil
}

// transferFee computes the percentage fee in kobo from basis points.
func transferFee(amount, bps int64) int64 {
	return amount * bps / 10000
}

// makePINStep builds the shared PIN confirmation step: it gates settlement on
// the PIN guard and maps guard outcomes to session behavior.
func makePINStep(settle func(*Service, context.Context, *flowContext) (string, error)) stepHandler {
	return func(ctx context.Context, fc *flowContext, input string) (string, error) {
		if !validPINFormat(input) {
			return "Your PIN is 4 digits. Please try again, or type cancel.", nil
		}

		err := fc.svc.VerifyTransactionPIN(ctx, fc.user.ID, strings.TrimSpace(input))
		if err == nil {
			return settle(fc.svc, ctx, fc)
		}

		if IsPINNotSet(err) {
			fc.finish()
			return "You haven't set a transaction PIN yet. Send \"setpin\" followed by 4 digits, then start again.", nil
		}
		if errors.Is(err, ErrTransactionPINLocked) {
			fc.finish()
			return "Your PIN has been locked after too many incorrect attempts. Please contact support to unlock it.", nil
		}
		var attempt *PINAttemptError
		if errors.As(err, &attempt) {
			return fmt.Sprintf("That PIN is incorrect. You have %d attempt(s) remaining.", attempt.Remaining), nil
		}
		return "", err
	}
}

// handleTransferOTP completes a transfer the gateway flagged for OTP
// validation. A wrong code allows retry without touching the wallet.
func handleTransferOTP(ctx context.Context, fc *flowContext, input string) (string, error) {
	if !validOTPFormat(input) {
		return "The code is 6 digits. Please check the SMS and try again, or type cancel.", nil
	}

	outcome, err := fc.svc.bank.ValidateTransferOTP(ctx, fc.session.TransactionRef, strings.TrimSpace(input))
	if err != nil {
		log.Printf("level=warn component=engine msg=\"otp validation transport error\" reference=%s err=%v", fc.session.TransactionRef, err)
		return "I couldn't reach the bank just now. Please try the code again in a moment.", nil
	}

	switch outcome.Status {
	case domain.OutcomeSuccess:
		if err := fc.svc.markTransferCompleted(ctx, fc.session.TransactionRef, outcome.ProviderReference); err != nil {
			return "", err
		}
		fc.finish()
		return "Transfer confirmed and on its way. Reference: " + fc.session.TransactionRef, nil
	case domain.OutcomeFailed:
		// The provider rejected the code itself; the transfer (and the debit)
		// stay pending so the user can retry with a fresh code.
		return "That code was not accepted. Please check the SMS and try again, or type cancel.", nil
	default:
		return "The bank is still confirming the code. Please wait a moment and try again.", nil
	}
}
