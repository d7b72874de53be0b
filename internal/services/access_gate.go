package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowforge/backend/internal/models"
)

// Decision is a tagged authorization result. Every ledger entry point
// consults the gate instead of checking role flags at the call site.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionForbidden
	DecisionUnauthorized
)

// AccessGate decides whether a caller may invoke a ledger operation.
// Account state is fetched fresh at decision time, never cached.
type AccessGate struct {
	db *sql.DB
}

func NewAccessGate(db *sql.DB) *AccessGate {
	return &AccessGate{db: db}
}

// AuthorizeSelf permits a self-service credit operation: the caller
// must be the account owner, approved, and not disabled.
func (g *AccessGate) AuthorizeSelf(ctx context.Context, callerID, accountID string) (Decision, error) {
	if callerID == "" {
		return DecisionUnauthorized, nil
	}

	caller, err := g.fetchAccount(ctx, callerID)
	if err == sql.ErrNoRows {
		return DecisionUnauthorized, nil
	}
	if err != nil {
		return DecisionForbidden, err
	}

	if callerID != accountID {
		return DecisionForbidden, nil
	}
	if caller.IsDisabled {
		return DecisionForbidden, nil
	}
	if caller.ApprovalStatus != models.ApprovalApproved {
		return DecisionForbidden, nil
	}
	return DecisionAllow, nil
}

// AuthorizeAdmin permits an administrative ledger operation. The
// target account's approval or disabled state never blocks an admin:
// corrective adjustments must work on any account.
func (g *AccessGate) AuthorizeAdmin(ctx context.Context, callerID string) (Decision, error) {
	if callerID == "" {
		return DecisionUnauthorized, nil
	}

	caller, err := g.fetchAccount(ctx, callerID)
	if err == sql.ErrNoRows {
		return DecisionUnauthorized, nil
	}
	if err != nil {
		return DecisionForbidden, err
	}

	if !caller.IsAdmin || caller.IsDisabled {
		return DecisionForbidden, nil
	}
	return DecisionAllow, nil
}

// Err maps a decision to its sentinel error, nil for Allow.
func (d Decision) Err() error {
	switch d {
	case DecisionAllow:
		return nil
	case DecisionUnauthorized:
		return ErrUnauthorized
	default:
		return ErrForbidden
	}
}

func (g *AccessGate) fetchAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := g.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, approval_status, is_admin, is_disabled
		 FROM users WHERE id = $1`, id).
		Scan(&account.ID, &account.Email, &account.FullName, &account.ApprovalStatus, &account.IsAdmin, &account.IsDisabled)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", id, err)
	}
	return &account, nil
}
