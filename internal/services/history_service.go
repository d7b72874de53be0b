package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowforge/backend/internal/models"
)

// MaxHistoryLimit caps a single history page.
const MaxHistoryLimit = 50

// HistoryService serves the read-only transaction history for display.
// It has no mutation capability.
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// ListTransactions returns an account's transactions most-recent-first,
// at most limit records. A zero or out-of-range limit falls back to
// the cap. Ties on created_at break by id descending so repeated
// queries stay stable.
func (s *HistoryService) ListTransactions(ctx context.Context, accountID string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, amount, balance_after, transaction_type, description, created_by, created_at
		 FROM credit_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.CreditTransaction{}
	for rows.Next() {
		var tx models.CreditTransaction
		var description, createdBy sql.NullString
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.BalanceAfter, &tx.TransactionType, &description, &createdBy, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Description = description.String
		tx.CreatedBy = createdBy.String
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return transactions, nil
}
