package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/backend/internal/models"
)

const testAccountID = "5a0f4c63-93e8-4a37-9c3f-2d1b6a7e8f90"

func expectBalanceLock(mock sqlmock.Sqlmock, accountID string, balance int64) {
	mock.ExpectExec("INSERT INTO user_credits").
		WithArgs(accountID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT balance FROM user_credits WHERE user_id = \\$1 FOR UPDATE").
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(balance))
}

func expectMutationWrite(mock sqlmock.Sqlmock, accountID string, amount, newBalance int64, txType models.TransactionType, description, actor any) {
	mock.ExpectExec("UPDATE user_credits SET balance = \\$1").
		WithArgs(newBalance, accountID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(sqlmock.AnyArg(), accountID, amount, newBalance, string(txType), description, actor).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestLedgerService_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("existing row", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM user_credits WHERE user_id = \\$1").
			WithArgs(testAccountID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(42))

		balance, err := service.GetBalance(context.Background(), testAccountID)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), balance)
	})

	t.Run("no row means zero", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM user_credits WHERE user_id = \\$1").
			WithArgs(testAccountID).
			WillReturnError(sql.ErrNoRows)

		balance, err := service.GetBalance(context.Background(), testAccountID)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})
}

func TestLedgerService_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful credit", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 50)
		expectMutationWrite(mock, testAccountID, 100, 150, models.TxAdminCredit, "Admin credit addition", "admin-1")
		mock.ExpectCommit()

		newBalance, err := service.Credit(context.Background(), testAccountID, 100, models.TxAdminCredit, "Admin credit addition", "admin-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(150), newBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("first credit creates the zero row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO user_credits").
			WithArgs(testAccountID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT balance FROM user_credits WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(testAccountID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0))
		expectMutationWrite(mock, testAccountID, 100, 100, models.TxAdminCredit, "Seed", "admin-1")
		mock.ExpectCommit()

		newBalance, err := service.Credit(context.Background(), testAccountID, 100, models.TxAdminCredit, "Seed", "admin-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(100), newBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero amount rejected without touching storage", func(t *testing.T) {
		_, err := service.Credit(context.Background(), testAccountID, 0, models.TxAdminCredit, "", "admin-1")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		_, err := service.Credit(context.Background(), testAccountID, -10, models.TxAdminCredit, "", "admin-1")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestLedgerService_Debit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful debit", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 150)
		expectMutationWrite(mock, testAccountID, -30, 120, models.TxAdminDebit, "Correction", "admin-1")
		mock.ExpectCommit()

		newBalance, err := service.Debit(context.Background(), testAccountID, 30, models.TxAdminDebit, "Correction", "admin-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(120), newBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance rolls back with no transaction record", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 99)
		mock.ExpectRollback()

		_, err := service.Debit(context.Background(), testAccountID, 500, models.TxAdminDebit, "bad admin action", "admin-1")

		var insufficient *InsufficientBalanceError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(99), insufficient.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit to exactly zero succeeds", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 1)
		expectMutationWrite(mock, testAccountID, -1, 0, models.TxUsageDebit, "Wizard usage", nil)
		mock.ExpectCommit()

		newBalance, err := service.UseCredits(context.Background(), testAccountID, 1, "Wizard usage")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), newBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid amount rejected", func(t *testing.T) {
		_, err := service.Debit(context.Background(), testAccountID, 0, models.TxAdminDebit, "", "admin-1")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestLedgerService_UseCredits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("usage debit carries no actor", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 100)
		expectMutationWrite(mock, testAccountID, -1, 99, models.TxUsageDebit, "Wizard usage", nil)
		mock.ExpectCommit()

		newBalance, err := service.UseCredits(context.Background(), testAccountID, 1, "Wizard usage")
		assert.NoError(t, err)
		assert.Equal(t, int64(99), newBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("competing debit sees the committed balance", func(t *testing.T) {
		// Two unit debits against a balance of exactly 1: the first
		// commits at 0, the second locks the post-commit row and fails.
		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 1)
		expectMutationWrite(mock, testAccountID, -1, 0, models.TxUsageDebit, "Wizard usage", nil)
		mock.ExpectCommit()

		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 0)
		mock.ExpectRollback()

		first, err := service.UseCredits(context.Background(), testAccountID, 1, "Wizard usage")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), first)

		_, err = service.UseCredits(context.Background(), testAccountID, 1, "Wizard usage")
		var insufficient *InsufficientBalanceError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(0), insufficient.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_TransientRetry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("serialization conflict retried then succeeds", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO user_credits").
			WithArgs(testAccountID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT balance FROM user_credits WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(testAccountID).
			WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()

		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 10)
		expectMutationWrite(mock, testAccountID, 5, 15, models.TxAdminCredit, "retry", "admin-1")
		mock.ExpectCommit()

		newBalance, err := service.Credit(context.Background(), testAccountID, 5, models.TxAdminCredit, "retry", "admin-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(15), newBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("persistent conflict surfaces transient failure", func(t *testing.T) {
		for i := 0; i < lockRetryAttempts; i++ {
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO user_credits").
				WithArgs(testAccountID).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery("SELECT balance FROM user_credits WHERE user_id = \\$1 FOR UPDATE").
				WithArgs(testAccountID).
				WillReturnError(&pq.Error{Code: "40P01"})
			mock.ExpectRollback()
		}

		_, err := service.Credit(context.Background(), testAccountID, 5, models.TxAdminCredit, "retry", "admin-1")
		assert.ErrorIs(t, err, ErrTransientFailure)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-transient storage error not retried", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO user_credits").
			WithArgs(testAccountID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT balance FROM user_credits WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(testAccountID).
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		_, err := service.Credit(context.Background(), testAccountID, 5, models.TxAdminCredit, "oops", "admin-1")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrTransientFailure)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Seed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("first seed credits the opening balance", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 0)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(testAccountID, string(models.TxSeedCredit)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		expectMutationWrite(mock, testAccountID, 1000, 1000, models.TxSeedCredit, "Initial balance", nil)
		mock.ExpectCommit()

		balance, seeded, err := service.Seed(context.Background(), testAccountID, 1000)
		assert.NoError(t, err)
		assert.True(t, seeded)
		assert.Equal(t, int64(1000), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeat seed is a no-op", func(t *testing.T) {
		mock.ExpectBegin()
		expectBalanceLock(mock, testAccountID, 640)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(testAccountID, string(models.TxSeedCredit)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectCommit()

		balance, seeded, err := service.Seed(context.Background(), testAccountID, 1000)
		assert.NoError(t, err)
		assert.False(t, seeded)
		assert.Equal(t, int64(640), balance) // partially spent balance untouched
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive opening amount rejected", func(t *testing.T) {
		_, _, err := service.Seed(context.Background(), testAccountID, 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestLedgerService_Lifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	// credit 100, use 1, then a 500 debit that must fail and change nothing
	mock.ExpectBegin()
	expectBalanceLock(mock, testAccountID, 0)
	expectMutationWrite(mock, testAccountID, 100, 100, models.TxAdminCredit, "seed", "admin-1")
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectBalanceLock(mock, testAccountID, 100)
	expectMutationWrite(mock, testAccountID, -1, 99, models.TxUsageDebit, "wizard run", nil)
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectBalanceLock(mock, testAccountID, 99)
	mock.ExpectRollback()

	balance, err := service.Credit(context.Background(), testAccountID, 100, models.TxAdminCredit, "seed", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	balance, err = service.UseCredits(context.Background(), testAccountID, 1, "wizard run")
	require.NoError(t, err)
	assert.Equal(t, int64(99), balance)

	_, err = service.Debit(context.Background(), testAccountID, 500, models.TxAdminDebit, "bad admin action", "admin-1")
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(99), insufficient.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}
