package models

import "time"

type TransactionType string

const (
	TxUsageDebit  TransactionType = "usage_debit"
	TxAdminCredit TransactionType = "admin_credit"
	TxAdminDebit  TransactionType = "admin_debit"
	TxSeedCredit  TransactionType = "seed_credit"
)

// LedgerBalance is the derived current balance for one account.
// Only the ledger service writes this row.
type LedgerBalance struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"` // smallest credit increment, never negative
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreditTransaction is an immutable ledger record. Positive amounts
// are credits, negative amounts are debits.
type CreditTransaction struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	Amount          int64           `json:"amount" db:"amount"`
	BalanceAfter    int64           `json:"balance_after" db:"balance_after"`
	TransactionType TransactionType `json:"transaction_type" db:"transaction_type"`
	Description     string          `json:"description,omitempty" db:"description"`
	CreatedBy       string          `json:"created_by,omitempty" db:"created_by"` // admin id, empty for self-service
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
