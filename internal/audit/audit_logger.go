package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	AccountID     string    `json:"account_id"`
	Amount        int64     `json:"amount,omitempty"`
	BalanceAfter  int64     `json:"balance_after,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

// LogMutation records a committed balance change.
func (a *Logger) LogMutation(transactionID, accountID string, amount, balanceAfter int64, txType, actor string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     txType,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Status:        "COMMITTED",
	}
	if actor != "" {
		event.Details = map[string]string{"created_by": actor}
	}
	a.log(event)
}

// LogRejected records a debit refused for insufficient funds. Rejected
// debits leave no transaction row, so the audit line is the only trace.
func (a *Logger) LogRejected(accountID string, amount, balance int64) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "debit_rejected",
		AccountID: accountID,
		Amount:    amount,
		Status:    "REJECTED",
		Details:   map[string]int64{"available": balance},
	}
	a.log(event)
}

func (a *Logger) LogError(accountID string, err error) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
