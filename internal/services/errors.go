package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned for non-positive credit or debit amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrUnauthorized means no valid caller identity was presented.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the caller is known but lacks the required
	// capability or approval state.
	ErrForbidden = errors.New("forbidden")

	// ErrTransientFailure is surfaced after the ledger exhausts its
	// internal retries on storage contention. The whole operation is
	// safe to retry: a failed attempt never partially commits.
	ErrTransientFailure = errors.New("transient storage failure, retry the operation")
)

// InsufficientBalanceError rejects a debit that exceeds the available
// balance. It carries the balance observed under lock so callers can
// display it. No state change accompanies this error.
type InsufficientBalanceError struct {
	Balance int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %d available", e.Balance)
}
