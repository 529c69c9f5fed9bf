/**
 * @description
 * This file implements the conversational session engine: the entry point for
 * every inbound chat message. Non-flow actions (balance, history, deposit,
 * cancel, setpin, help) go through a stateless command router; everything else
 * is dispatched to the (flow, step) handler of the user's live session through
 * an explicit state machine table.
 *
 * Key behaviors:
 * - At most one live session per user; starting a new flow replaces the old
 *   session.
 * - Every step handler first checks session expiry; stale input is rejected
 *   and the user must restart the flow.
 * - Validation failures re-prompt the same step and never advance it.
 *
 * @dependencies
 * - internal/domain, internal/store: Session model and session store contract.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kudipay/chatpay-service/internal/domain"
	"github.com/kudipay/chatpay-service/internal/store"
)

const helpMessage = `Here's what I can do:
- "airtime" — buy mobile airtime
- "data" — buy a data bundle
- "send" — transfer money to a bank account
- "deposit" — fund your wallet by bank transfer
- "balance" — check your wallet balance
- "history" — see recent transactions
- "setpin 1234" — set your 4-digit transaction PIN
- "cancel" — abandon what we're doing`

// flowContext carries the state one step handler operates on.
type flowContext struct {
	svc     *Service
	user    *domain.User
	session *domain.Session
	// done marks the session for destruction after the handler returns.
	done bool
}

func (fc *flowContext) set(field, value string) {
	fc.session.Fields[field] = value
}

func (fc *flowContext) get(field string) string {
	return fc.session.Fields[field]
}

func (fc *flowContext) advance(step string) {
	fc.session.Step = step
}

func (fc *flowContext) finish() {
	fc.done = true
}

// stepHandler consumes one user input for one step and returns the reply.
type stepHandler func(ctx context.Context, fc *flowContext, input string) (string, error)

type stepDef struct {
	name   string
	handle stepHandler
}

type flowDef struct {
	flow  domain.FlowType
	steps []stepDef
}

func (f *flowDef) handlerFor(step string) stepHandler {
	for _, s := range f.steps {
		if s.name == step {
			return s.handle
		}
	}
	return nil
}

// HandleChatMessage routes one inbound message and returns the reply text the
// transport should post back to the chat.
func (s *Service) HandleChatMessage(ctx context.Context, chatID, text string) (string, error) {
	if s.limiter != nil && s.settings.ChatRateLimitPerMinute > 0 {
		count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "chat", chatID, s.settings.ChatRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Printf("level=warn component=engine msg=\"rate limiter unavailable\" err=%v", err)
		} else if count > s.settings.ChatRateLimitPerMinute {
			return fmt.Sprintf("You're sending messages too quickly. Please wait %d seconds.", retryAfter), nil
		}
	}

	unlock := s.lockUser(chatID)
	defer unlock()

	user, err := s.findOrCreateUser(ctx, chatID)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return helpMessage, nil
	}

	if reply, handled, err := s.routeCommand(ctx, user, trimmed); handled || err != nil {
		return reply, err
	}

	return s.dispatchToSession(ctx, user, trimmed)
}

// routeCommand handles the stateless non-flow commands and flow starters.
func (s *Service) routeCommand(ctx context.Context, user *domain.User, text string) (string, bool, error) {
	fields := strings.Fields(strings.ToLower(text))
	command := fields[0]

	switch command {
	case "help", "start", "hi", "hello", "menu":
		return helpMessage, true, nil

	case "cancel", "stop":
		if err := s.sessions.Delete(ctx, user.ID); err != nil {
			log.Printf("level=warn component=engine msg=\"session delete failed\" user_id=%s err=%v", user.ID, err)
		}
		return "Okay, I've cancelled that. Type \"help\" to see what I can do.", true, nil

	case "balance":
		balance, err := s.repo.GetWalletBalance(ctx, user.ID)
		if err != nil {
			return "", true, fmt.Errorf("failed to fetch balance: %w", err)
		}
		return fmt.Sprintf("Your wallet balance is %s.", formatNaira(balance)), true, nil

	case "history":
		return s.historyReply(ctx, user)

	case "deposit", "fund":
		reply, err := s.depositReply(ctx, user)
		return reply, true, err

	case "setpin":
		if len(fields) != 2 || !validPINFormat(fields[1]) {
			return "To set your transaction PIN, send: setpin followed by 4 digits, e.g. \"setpin 4821\".", true, nil
		}
		if user.PINLocked {
			return "Your PIN is locked after too many incorrect attempts. Please contact support to unlock it.", true, nil
		}
		if err := s.SetTransactionPIN(ctx, user.ID, fields[1]); err != nil {
			return "", true, fmt.Errorf("failed to set pin: %w", err)
		}
		return "Your transaction PIN has been set.", true, nil

	case "airtime":
		reply, err := s.startFlow(ctx, user, domain.FlowAirtime)
		return reply, true, err

	case "data":
		reply, err := s.startFlow(ctx, user, domain.FlowData)
		return reply, true, err

	case "send", "transfer":
		reply, err := s.startFlow(ctx, user, domain.FlowBankTransfer)
		return reply, true, err
	}

	return "", false, nil
}

func (s *Service) historyReply(ctx context.Context, user *domain.User) (string, bool, error) {
	transactions, err := s.repo.ListTransactionsByUser(ctx, user.ID, 5)
	if err != nil {
		return "", true, fmt.Errorf("failed to list transactions: %w", err)
	}
	if len(transactions) == 0 {
		return "You have no transactions yet.", true, nil
	}
	var b strings.Builder
	b.WriteString("Your recent transactions:\n")
	for _, tx := range transactions {
		b.WriteString(fmt.Sprintf("- %s %s %s (%s) ref %s\n",
			tx.CreatedAt.Format("02 Jan"), tx.Kind, formatNaira(tx.TotalAmount), tx.Status, tx.Reference))
	}
	return strings.TrimRight(b.String(), "\n"), true, nil
}

// startFlow begins a new session for the given flow, replacing any existing
// session. Every flow is gated on approved KYC.
func (s *Service) startFlow(ctx context.Context, user *domain.User, flow domain.FlowType) (string, error) {
	if user.KYCStatus != domain.KYCStatusApproved {
		return "Your identity verification is not complete yet, so I can't process transactions for you. You'll be notified once it's approved.", nil
	}

	def, ok := s.flows[flow]
	if !ok || len(def.steps) == 0 {
		return "", fmt.Errorf("unknown flow %q", flow)
	}

	session := domain.NewSession(user.ID, flow, def.steps[0].name, s.settings.SessionTTL)
	prompt, err := s.firstPrompt(ctx, session)
	if err != nil {
		// Catalog or bank list unavailable: abort before any state is written.
		log.Printf("level=error component=engine msg=\"flow start failed\" flow=%s user_id=%s err=%v", flow, user.ID, err)
		return "That service is temporarily unavailable. Please try again in a few minutes.", nil
	}

	if err := s.sessions.Save(ctx, session, s.settings.SessionTTL); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return prompt, nil
}

// dispatchToSession routes a non-command message to the live session's step.
func (s *Service) dispatchToSession(ctx context.Context, user *domain.User, input string) (string, error) {
	session, err := s.sessions.Get(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return "I'm not sure what you mean.\n\n" + helpMessage, nil
		}
		return "", fmt.Errorf("failed to load session: %w", err)
	}

	if session.Expired(time.Now().UTC()) {
		if err := s.sessions.Delete(ctx, user.ID); err != nil {
			log.Printf("level=warn component=engine msg=\"expired session delete failed\" user_id=%s err=%v", user.ID, err)
		}
		return "That session has expired. Please start again.", nil
	}

	def, ok := s.flows[session.Flow]
	if !ok {
		_ = s.sessions.Delete(ctx, user.ID)
		return "Something went wrong with that session. Please start again.", nil
	}
	handler := def.handlerFor(session.Step)
	if handler == nil {
		_ = s.sessions.Delete(ctx, user.ID)
		log.Printf("level=error component=engine msg=\"no handler for step\" flow=%s step=%s", session.Flow, session.Step)
		return "Something went wrong with that session. Please start again.", nil
	}

	fc := &flowContext{svc: s, user: user, session: session}
	reply, err := handler(ctx, fc, strings.TrimSpace(input))
	if err != nil {
		return "", err
	}

	if fc.done {
		if delErr := s.sessions.Delete(ctx, user.ID); delErr != nil {
			log.Printf("level=warn component=engine msg=\"session delete failed\" user_id=%s err=%v", user.ID, delErr)
		}
		return reply, nil
	}

	session.Touch(s.settings.SessionTTL)
	if saveErr := s.sessions.Save(ctx, session, s.settings.SessionTTL); saveErr != nil {
		return "", fmt.Errorf("failed to save session: %w", saveErr)
	}
	return reply, nil
}
