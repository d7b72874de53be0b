package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/flowforge/backend/internal/audit"
	"github.com/flowforge/backend/internal/models"
)

// LedgerService is the single writer of user_credits and
// credit_transactions. Every mutation runs as one SQL transaction:
// lock the balance row, update it, append the transaction record.
type LedgerService struct {
	db    *sql.DB
	audit *audit.Logger
}

const (
	lockRetryAttempts = 3
	lockRetryBackoff  = 25 * time.Millisecond
)

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: audit.NewLogger(),
	}
}

// GetBalance returns the current balance, 0 when the account has never
// been touched by the ledger. Read-only, never blocks writers.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM user_credits WHERE user_id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

// Credit increases the balance by amount and appends a transaction of
// the given type (admin_credit or seed_credit). Returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, accountID string, amount int64, txType models.TransactionType, description, actor string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.mutate(ctx, accountID, amount, txType, description, actor)
}

// Debit decreases the balance by amount. A debit that exceeds the
// locked balance rolls back with InsufficientBalanceError and leaves
// no transaction record.
func (s *LedgerService) Debit(ctx context.Context, accountID string, amount int64, txType models.TransactionType, description, actor string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.mutate(ctx, accountID, -amount, txType, description, actor)
}

// UseCredits is the self-service debit path: usage_debit, no actor.
func (s *LedgerService) UseCredits(ctx context.Context, accountID string, amount int64, description string) (int64, error) {
	return s.Debit(ctx, accountID, amount, models.TxUsageDebit, description, "")
}

// Seed credits the account with an opening balance exactly once. If a
// seed_credit already exists for the account the call is a no-op and
// returns the current balance with seeded=false. The existence check
// runs under the same row lock as the mutation, so concurrent seeds
// cannot double-apply.
func (s *LedgerService) Seed(ctx context.Context, accountID string, amount int64) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, ErrInvalidAmount
	}

	var lastErr error
	for attempt := 1; attempt <= lockRetryAttempts; attempt++ {
		balance, seeded, err := s.seedOnce(ctx, accountID, amount)
		if err == nil || !isSerializationFailure(err) {
			return balance, seeded, err
		}
		lastErr = err
		time.Sleep(lockRetryBackoff * time.Duration(attempt))
	}
	s.audit.LogError(accountID, lastErr)
	return 0, false, ErrTransientFailure
}

func (s *LedgerService) seedOnce(ctx context.Context, accountID string, amount int64) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	balance, err := lockBalanceRow(ctx, tx, accountID)
	if err != nil {
		return 0, false, err
	}

	var alreadySeeded bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM credit_transactions WHERE user_id = $1 AND transaction_type = $2)`,
		accountID, models.TxSeedCredit).Scan(&alreadySeeded)
	if err != nil {
		return 0, false, fmt.Errorf("check seed: %w", err)
	}
	if alreadySeeded {
		return balance, false, tx.Commit()
	}

	newBalance := balance + amount
	txID, err := applyMutation(ctx, tx, accountID, amount, newBalance, models.TxSeedCredit, "Initial balance", "")
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit seed: %w", err)
	}

	s.audit.LogMutation(txID, accountID, amount, newBalance, string(models.TxSeedCredit), "")
	return newBalance, true, nil
}

// mutate applies a signed delta under the per-account row lock,
// retrying a bounded number of times on serialization conflicts.
// Invalid-amount and insufficient-balance are terminal, never retried.
func (s *LedgerService) mutate(ctx context.Context, accountID string, delta int64, txType models.TransactionType, description, actor string) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= lockRetryAttempts; attempt++ {
		newBalance, err := s.mutateOnce(ctx, accountID, delta, txType, description, actor)
		if err == nil {
			return newBalance, nil
		}
		var insufficient *InsufficientBalanceError
		if errors.As(err, &insufficient) {
			s.audit.LogRejected(accountID, -delta, insufficient.Balance)
			return 0, err
		}
		if !isSerializationFailure(err) {
			s.audit.LogError(accountID, err)
			return 0, err
		}
		lastErr = err
		time.Sleep(lockRetryBackoff * time.Duration(attempt))
	}

	s.audit.LogError(accountID, lastErr)
	return 0, ErrTransientFailure
}

func (s *LedgerService) mutateOnce(ctx context.Context, accountID string, delta int64, txType models.TransactionType, description, actor string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin mutation: %w", err)
	}
	defer tx.Rollback()

	balance, err := lockBalanceRow(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return 0, &InsufficientBalanceError{Balance: balance}
	}

	txID, err := applyMutation(ctx, tx, accountID, delta, newBalance, txType, description, actor)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit mutation: %w", err)
	}

	s.audit.LogMutation(txID, accountID, delta, newBalance, string(txType), actor)
	return newBalance, nil
}

// lockBalanceRow creates the zero row on first touch, then takes the
// per-account row lock. The lock serializes concurrent mutations on
// the same account; unrelated accounts do not contend.
func lockBalanceRow(ctx context.Context, tx *sql.Tx, accountID string) (int64, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_credits (user_id, balance, updated_at) VALUES ($1, 0, NOW())
		 ON CONFLICT (user_id) DO NOTHING`, accountID)
	if err != nil {
		return 0, fmt.Errorf("ensure balance row: %w", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM user_credits WHERE user_id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("lock balance row: %w", err)
	}
	return balance, nil
}

// applyMutation writes the new balance and appends the transaction
// record inside the caller's SQL transaction. balance_after is the
// value written in the same atomic step, never a stale read.
func applyMutation(ctx context.Context, tx *sql.Tx, accountID string, amount, newBalance int64, txType models.TransactionType, description, actor string) (string, error) {
	_, err := tx.ExecContext(ctx,
		`UPDATE user_credits SET balance = $1, updated_at = NOW() WHERE user_id = $2`,
		newBalance, accountID)
	if err != nil {
		return "", fmt.Errorf("update balance: %w", err)
	}

	txID := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount, balance_after, transaction_type, description, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		txID, accountID, amount, newBalance, txType, nullableString(description), nullableString(actor))
	if err != nil {
		return "", fmt.Errorf("append transaction: %w", err)
	}
	return txID, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Postgres serialization_failure and deadlock_detected.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
