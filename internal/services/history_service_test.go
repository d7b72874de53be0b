package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/backend/internal/models"
)

func TestHistoryService_ListTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewHistoryService(db)
	userID := "44444444-4444-4444-8444-444444444444"
	now := time.Now()

	columns := []string{"id", "user_id", "amount", "balance_after", "transaction_type", "description", "created_by", "created_at"}

	t.Run("returns rows most recent first", func(t *testing.T) {
		mock.ExpectQuery("ORDER BY created_at DESC, id DESC").
			WithArgs(userID, 50).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("tx-2", userID, -1, 99, "usage_debit", "Wizard usage", nil, now).
				AddRow("tx-1", userID, 100, 100, "admin_credit", "Admin credit addition", "admin-1", now.Add(-time.Minute)))

		transactions, err := service.ListTransactions(context.Background(), userID, 0)
		assert.NoError(t, err)
		require.Len(t, transactions, 2)

		assert.Equal(t, "tx-2", transactions[0].ID)
		assert.Equal(t, models.TxUsageDebit, transactions[0].TransactionType)
		assert.Equal(t, int64(-1), transactions[0].Amount)
		assert.Empty(t, transactions[0].CreatedBy)

		assert.Equal(t, "tx-1", transactions[1].ID)
		assert.Equal(t, "admin-1", transactions[1].CreatedBy)
		assert.Equal(t, int64(100), transactions[1].BalanceAfter)
	})

	t.Run("empty history is an empty slice, not an error", func(t *testing.T) {
		mock.ExpectQuery("ORDER BY created_at DESC, id DESC").
			WithArgs(userID, 50).
			WillReturnRows(sqlmock.NewRows(columns))

		transactions, err := service.ListTransactions(context.Background(), userID, 0)
		assert.NoError(t, err)
		assert.NotNil(t, transactions)
		assert.Empty(t, transactions)
	})

	t.Run("limit passed through when in range", func(t *testing.T) {
		mock.ExpectQuery("ORDER BY created_at DESC, id DESC").
			WithArgs(userID, 10).
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := service.ListTransactions(context.Background(), userID, 10)
		assert.NoError(t, err)
	})

	t.Run("oversized limit clamped to the cap", func(t *testing.T) {
		mock.ExpectQuery("ORDER BY created_at DESC, id DESC").
			WithArgs(userID, MaxHistoryLimit).
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := service.ListTransactions(context.Background(), userID, 500)
		assert.NoError(t, err)
	})

	t.Run("negative limit clamped to the cap", func(t *testing.T) {
		mock.ExpectQuery("ORDER BY created_at DESC, id DESC").
			WithArgs(userID, MaxHistoryLimit).
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := service.ListTransactions(context.Background(), userID, -3)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
