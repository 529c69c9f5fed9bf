/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface using the pgx driver. It contains all the SQL for users, the
 * wallet ledger, the transaction ledger, and virtual accounts.
 *
 * Key features:
 * - Wallet debits lock the user row with `SELECT ... FOR UPDATE` and perform
 *   the insufficient-funds check and subtraction inside one transaction, so
 *   two concurrent flows can never both spend the same balance.
 * - Ledger status updates are guarded in SQL so terminal states are never
 *   downgraded by replayed events.
 * - Deposit recording credits the wallet and inserts the ledger row in one
 *   database transaction, keyed by the provider reference for idempotency.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5 and pgxpool: The PostgreSQL driver and pool.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kudipay/chatpay-service/internal/domain"
)

// PostgresRepository is the PostgreSQL implementation of the Repository interface.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `
	id, chat_id, full_name, wallet_balance, kyc_status, pin_hash,
	pin_failure_count, pin_locked, active, created_at, updated_at
`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.ChatID, &u.FullName, &u.WalletBalance, &u.KYCStatus,
		&u.PINHash, &u.PINFailureCount, &u.PINLocked, &u.Active,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindUserByChatID looks up a user by the opaque chat transport identifier.
func (r *PostgresRepository) FindUserByChatID(ctx context.Context, chatID string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE chat_id = $1 AND active = TRUE`, chatID)
	return scanUser(row)
}

// FindUserByID looks up a user by internal UUID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// CreateUser inserts a new user with default balance and pending KYC.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, chat_id, full_name, wallet_balance, kyc_status, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`
	_, err := r.db.Exec(ctx, query, user.ID, user.ChatID, user.FullName, user.WalletBalance, user.KYCStatus)
	return err
}

// UpdateKYCStatus sets the user's KYC status.
func (r *PostgresRepository) UpdateKYCStatus(ctx context.Context, userID uuid.UUID, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET kyc_status = $1, updated_at = NOW() WHERE id = $2`, status, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DebitWallet performs an atomic debit operation on a user's wallet.
func (r *PostgresRepository) DebitWallet(ctx context.Context, userID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, `SELECT wallet_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}

	if balance < amount {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `UPDATE users SET wallet_balance = wallet_balance - $1, updated_at = NOW() WHERE id = $2`, amount, userID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreditWallet performs an atomic credit operation on a user's wallet.
func (r *PostgresRepository) CreditWallet(ctx context.Context, userID uuid.UUID, amount int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET wallet_balance = wallet_balance + $1, updated_at = NOW() WHERE id = $2`, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetWalletBalance returns the current wallet balance in kobo.
func (r *PostgresRepository) GetWalletBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT wallet_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return balance, nil
}

// SetTransactionPINHash stores the bcrypt hash of a freshly set PIN and clears
// any previous failure state.
func (r *PostgresRepository) SetTransactionPINHash(ctx context.Context, userID uuid.UUID, pinHash string) error {
	query := `
		UPDATE users
		SET pin_hash = $1, pin_failure_count = 0, pin_locked = FALSE, updated_at = NOW()
		WHERE id = $2
	`
	tag, err := r.db.Exec(ctx, query, pinHash, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordFailedPINAttempt increments the consecutive failure counter and
// latches the lock once the counter reaches maxAttempts. The update and the
// latch decision happen in one statement so concurrent attempts cannot skip
// the lock.
func (r *PostgresRepository) RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int) (int, bool, error) {
	query := `
		UPDATE users
		SET pin_failure_count = pin_failure_count + 1,
		    pin_locked = (pin_failure_count + 1 >= $1) OR pin_locked,
		    updated_at = NOW()
		WHERE id = $2
		RETURNING pin_failure_count, pin_locked
	`
	var failures int
	var locked bool
	err := r.db.QueryRow(ctx, query, maxAttempts, userID).Scan(&failures, &locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrUserNotFound
		}
		return 0, false, err
	}
	return failures, locked, nil
}

// ResetPINFailureState clears the consecutive failure counter after a correct
// PIN entry. It never clears the lock; that requires an admin unlock.
func (r *PostgresRepository) ResetPINFailureState(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET pin_failure_count = 0, updated_at = NOW() WHERE id = $1`, userID)
	return err
}

// UnlockTransactionPIN clears the lock and failure counter (admin action).
func (r *PostgresRepository) UnlockTransactionPIN(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET pin_locked = FALSE, pin_failure_count = 0, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateTransaction inserts a new ledger row. The unique index on `reference`
// makes this the idempotency barrier for settlement retries.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, reference, user_id, kind, status, amount, fee, total_amount,
			recipient, narration, provider_reference, failure_reason
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.Reference, tx.UserID, tx.Kind, tx.Status, tx.Amount, tx.Fee,
		tx.TotalAmount, tx.Recipient, tx.Narration, tx.ProviderReference, tx.FailureReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

// UpdateTransactionStatus applies a status update to a ledger row. Terminal
// states are immutable: the WHERE clause refuses to move a completed or
// failed transaction, so replayed provider events cannot downgrade them.
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, reference string, update domain.TransactionStatusUpdate) error {
	query := `
		UPDATE transactions
		SET status = COALESCE($2, status),
		    provider_reference = COALESCE($3, provider_reference),
		    failure_reason = COALESCE($4, failure_reason),
		    completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
		WHERE reference = $1 AND status NOT IN ('completed', 'failed')
	`
	tag, err := r.db.Exec(ctx, query, reference, update.Status, update.ProviderReference, update.FailureReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the row does not exist or it is already terminal. Distinguish
		// so callers can log replays without treating them as errors.
		var exists bool
		if scanErr := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE reference = $1)`, reference).Scan(&exists); scanErr != nil {
			return scanErr
		}
		if !exists {
			return ErrTransactionNotFound
		}
	}
	return nil
}

// FailTransferWithRefund flips a non-terminal transfer to failed and returns
// the debited total to the wallet inside one database transaction. A row that
// is already terminal is left alone and reported as refunded=false, so
// redelivered failure events cannot refund twice.
func (r *PostgresRepository) FailTransferWithRefund(ctx context.Context, reference string, providerReference, failureReason *string) (bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback(ctx)

	var userID uuid.UUID
	var total int64
	err = dbTx.QueryRow(ctx, `
		UPDATE transactions
		SET status = 'failed',
		    provider_reference = COALESCE($2, provider_reference),
		    failure_reason = COALESCE($3, failure_reason),
		    completed_at = NOW()
		WHERE reference = $1 AND status NOT IN ('completed', 'failed')
		RETURNING user_id, total_amount
	`, reference, providerReference, failureReason).Scan(&userID, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if scanErr := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE reference = $1)`, reference).Scan(&exists); scanErr != nil {
				return false, scanErr
			}
			if !exists {
				return false, ErrTransactionNotFound
			}
			return false, nil
		}
		return false, err
	}

	tag, err := dbTx.Exec(ctx, `UPDATE users SET wallet_balance = wallet_balance + $1, updated_at = NOW() WHERE id = $2`, total, userID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, ErrUserNotFound
	}

	if err := dbTx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// DebitAndCompleteTransaction performs the debit and the completed status
// write as one unit: the wallet can never end up debited with the row still
// open, and a failed debit leaves the row for the caller to mark failed.
func (r *PostgresRepository) DebitAndCompleteTransaction(ctx context.Context, userID uuid.UUID, amount int64, reference string, providerReference *string) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx)

	var balance int64
	err = dbTx.QueryRow(ctx, `SELECT wallet_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	if balance < amount {
		return ErrInsufficientFunds
	}

	if _, err := dbTx.Exec(ctx, `UPDATE users SET wallet_balance = wallet_balance - $1, updated_at = NOW() WHERE id = $2`, amount, userID); err != nil {
		return err
	}

	tag, err := dbTx.Exec(ctx, `
		UPDATE transactions
		SET status = 'completed',
		    provider_reference = COALESCE($2, provider_reference),
		    completed_at = NOW()
		WHERE reference = $1 AND status NOT IN ('completed', 'failed')
	`, reference, providerReference)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}

	return dbTx.Commit(ctx)
}

const transactionColumns = `
	id, reference, user_id, kind, status, amount, fee, total_amount,
	recipient, narration, provider_reference, failure_reason, created_at, completed_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.Reference, &t.UserID, &t.Kind, &t.Status, &t.Amount, &t.Fee,
		&t.TotalAmount, &t.Recipient, &t.Narration, &t.ProviderReference,
		&t.FailureReason, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// FindTransactionByReference fetches a ledger row by our reference.
func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
	return scanTransaction(row)
}

// FindTransactionByProviderReference fetches a ledger row by the external
// provider's reference, used by the async status consumer.
func (r *PostgresRepository) FindTransactionByProviderReference(ctx context.Context, providerReference string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE provider_reference = $1`, providerReference)
	return scanTransaction(row)
}

// ListTransactionsByUser returns the user's most recent ledger rows.
func (r *PostgresRepository) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// RecordDeposit credits the wallet and writes the deposit ledger row in one
// database transaction. The provider reference is the idempotency key: a
// replayed webhook finds the existing row and performs no second credit.
func (r *PostgresRepository) RecordDeposit(ctx context.Context, userID uuid.UUID, amount int64, providerReference, narration string) (*domain.Transaction, bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer dbTx.Rollback(ctx)

	// Check for an earlier delivery of the same provider reference first.
	existing := dbTx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE provider_reference = $1 AND kind = $2`, providerReference, domain.KindDeposit)
	if t, scanErr := scanTransaction(existing); scanErr == nil {
		return t, false, nil
	} else if !errors.Is(scanErr, ErrTransactionNotFound) {
		return nil, false, scanErr
	}

	deposit := &domain.Transaction{
		ID:                uuid.New(),
		Reference:         domain.NewTransactionReference(),
		UserID:            userID,
		Kind:              domain.KindDeposit,
		Status:            domain.StatusCompleted,
		Amount:            amount,
		TotalAmount:       amount,
		Narration:         narration,
		ProviderReference: &providerReference,
	}

	_, err = dbTx.Exec(ctx, `
		INSERT INTO transactions (
			id, reference, user_id, kind, status, amount, fee, total_amount,
			recipient, narration, provider_reference, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, '', $8, $9, NOW())`,
		deposit.ID, deposit.Reference, deposit.UserID, deposit.Kind, deposit.Status,
		deposit.Amount, deposit.TotalAmount, deposit.Narration, providerReference,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Concurrent delivery of the same webhook won the race.
			return nil, false, nil
		}
		return nil, false, err
	}

	tag, err := dbTx.Exec(ctx, `UPDATE users SET wallet_balance = wallet_balance + $1, updated_at = NOW() WHERE id = $2`, amount, userID)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		return nil, false, ErrUserNotFound
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return deposit, true, nil
}

// CreateVirtualAccount inserts the user's dedicated funding account.
func (r *PostgresRepository) CreateVirtualAccount(ctx context.Context, account *domain.VirtualAccount) error {
	query := `
		INSERT INTO virtual_accounts (id, user_id, account_reference, account_number, bank_name, active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		account.ID, account.UserID, account.AccountReference,
		account.AccountNumber, account.BankName, account.Active,
	)
	return err
}

func scanVirtualAccount(row pgx.Row) (*domain.VirtualAccount, error) {
	var va domain.VirtualAccount
	err := row.Scan(&va.ID, &va.UserID, &va.AccountReference, &va.AccountNumber, &va.BankName, &va.Active, &va.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVirtualAccountNotFound
		}
		return nil, err
	}
	return &va, nil
}

const virtualAccountColumns = `id, user_id, account_reference, account_number, bank_name, active, created_at`

// FindVirtualAccountByUserID fetches the user's funding account.
func (r *PostgresRepository) FindVirtualAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.VirtualAccount, error) {
	row := r.db.QueryRow(ctx, `SELECT `+virtualAccountColumns+` FROM virtual_accounts WHERE user_id = $1 AND active = TRUE`, userID)
	return scanVirtualAccount(row)
}

// FindVirtualAccountByNumber resolves an incoming payment to a funding account.
func (r *PostgresRepository) FindVirtualAccountByNumber(ctx context.Context, accountNumber string) (*domain.VirtualAccount, error) {
	row := r.db.QueryRow(ctx, `SELECT `+virtualAccountColumns+` FROM virtual_accounts WHERE account_number = $1 AND active = TRUE`, accountNumber)
	return scanVirtualAccount(row)
}
