package models

import "time"

// ApprovalStatus is the account lifecycle gate controlling whether
// self-service credit operations are permitted.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type Account struct {
	ID             string         `json:"id" db:"id"`
	Email          string         `json:"email" db:"email"`
	FullName       string         `json:"full_name" db:"full_name"`
	ApprovalStatus ApprovalStatus `json:"approval_status" db:"approval_status"`
	IsAdmin        bool           `json:"is_admin" db:"is_admin"`
	IsDisabled     bool           `json:"is_disabled" db:"is_disabled"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}
