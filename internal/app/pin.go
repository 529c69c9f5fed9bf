/**
 * @description
 * This file implements the transaction PIN guard. It validates a submitted
 * PIN against the stored bcrypt hash, tracks consecutive failures, and latches
 * a lockout after the configured number of attempts. The lock only clears
 * through the admin unlock endpoint.
 *
 * @notes
 * - A locked account or an unset PIN rejects verification outright without
 *   consuming an attempt.
 * - The failure counter resets to zero on any correct entry.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: PIN hashing and constant-time comparison.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/kudipay/chatpay-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// SetTransactionPIN hashes and stores a new 4-digit transaction PIN. Setting a
// PIN also clears any previous failure state.
func (s *Service) SetTransactionPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	if !validPINFormat(pin) {
		return fmt.Errorf("transaction pin must be exactly 4 digits")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash transaction pin: %w", err)
	}
	return s.repo.SetTransactionPINHash(ctx, userID, string(hash))
}

// VerifyTransactionPIN checks a submitted PIN. It returns nil on success,
// store.ErrTransactionPINNotSet when no PIN exists, ErrTransactionPINLocked
// when the account is (or just became) locked, and *PINAttemptError for an
// incorrect entry with attempts remaining.
func (s *Service) VerifyTransactionPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user for pin check: %w", err)
	}

	if user.PINLocked {
		return ErrTransactionPINLocked
	}
	if !user.HasPIN() {
		return store.ErrTransactionPINNotSet
	}

	if bcrypt.CompareHashAndPassword([]byte(*user.PINHash), []byte(pin)) == nil {
		if err := s.repo.ResetPINFailureState(ctx, userID); err != nil {
			log.Printf("level=warn component=pin_guard msg=\"failed to reset pin failure count\" user_id=%s err=%v", userID, err)
		}
		return nil
	}

	failures, locked, err := s.repo.RecordFailedPINAttempt(ctx, userID, s.settings.PINMaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to record pin attempt: %w", err)
	}
	if locked {
		log.Printf("level=warn component=pin_guard msg=\"transaction pin locked\" user_id=%s failures=%d", userID, failures)
		return ErrTransactionPINLocked
	}

	remaining := s.settings.PINMaxAttempts - failures
	if remaining < 0 {
		remaining = 0
	}
	return &PINAttemptError{Remaining: remaining}
}

// IsPINNotSet reports whether the error is the unset-PIN sentinel.
func IsPINNotSet(err error) bool {
	return errors.Is(err, store.ErrTransactionPINNotSet)
}
