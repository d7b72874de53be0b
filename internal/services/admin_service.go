package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/flowforge/backend/internal/config"
	"github.com/flowforge/backend/internal/models"
)

// AdminService exposes the administrative ledger surface: credit
// adjustments, any-account history, user listing and lifecycle flags,
// and the one-time admin bootstrap. Every entry point goes through the
// access gate; none of them writes balances directly.
type AdminService struct {
	db        *sql.DB
	ledger    *LedgerService
	gate      *AccessGate
	history   *HistoryService
	cache     *BalanceCache
	cfg       *config.CreditsConfig
	validator *ValidationHelper
}

func NewAdminService(db *sql.DB, ledger *LedgerService, gate *AccessGate, history *HistoryService, cache *BalanceCache, cfg *config.CreditsConfig) *AdminService {
	return &AdminService{
		db:        db,
		ledger:    ledger,
		gate:      gate,
		history:   history,
		cache:     cache,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

type adjustCreditsRequest struct {
	UserID      string `json:"userId" validate:"required,uuid4"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=200"`
}

// AddCredits credits a target account
// @Summary Add credits to an account
// @Description Credit any account with the given amount, attributed to the calling admin
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body adjustCreditsRequest true "Credit adjustment"
// @Success 200 {object} object{success=bool,newBalance=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/credits/add [post]
func (s *AdminService) AddCredits(w http.ResponseWriter, r *http.Request) {
	callerID, req, ok := s.authorizeAdjustment(w, r)
	if !ok {
		return
	}

	description := req.Description
	if description == "" {
		description = "Admin credit addition"
	}

	newBalance, err := s.ledger.Credit(r.Context(), req.UserID, req.Amount, models.TxAdminCredit, description, callerID)
	if err != nil {
		log.Printf("[ADMIN] Credit failed for %s by %s: %v", req.UserID, callerID, err)
		WriteLedgerError(w, err)
		return
	}
	s.cache.Invalidate(r.Context(), req.UserID)

	log.Printf("[ADMIN] %s credited %d to %s", callerID, req.Amount, req.UserID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"newBalance": newBalance,
	})
}

// DeductCredits debits a target account
// @Summary Deduct credits from an account
// @Description Debit any account; rejected when the amount exceeds the current balance
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body adjustCreditsRequest true "Debit adjustment"
// @Success 200 {object} object{success=bool,newBalance=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/credits/deduct [post]
func (s *AdminService) DeductCredits(w http.ResponseWriter, r *http.Request) {
	callerID, req, ok := s.authorizeAdjustment(w, r)
	if !ok {
		return
	}

	description := req.Description
	if description == "" {
		description = "Admin credit deduction"
	}

	newBalance, err := s.ledger.Debit(r.Context(), req.UserID, req.Amount, models.TxAdminDebit, description, callerID)
	if err != nil {
		log.Printf("[ADMIN] Debit failed for %s by %s: %v", req.UserID, callerID, err)
		WriteLedgerError(w, err)
		return
	}
	s.cache.Invalidate(r.Context(), req.UserID)

	log.Printf("[ADMIN] %s debited %d from %s", callerID, req.Amount, req.UserID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"newBalance": newBalance,
	})
}

// ListUserTransactions returns any account's transaction history
// @Summary List an account's transactions
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param userId query string true "Target account ID"
// @Param limit query int false "Page size, capped at 50"
// @Success 200 {object} object{transactions=[]models.CreditTransaction}
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/credits/transactions [get]
func (s *AdminService) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}

	targetID := r.URL.Query().Get("userId")
	if targetID == "" {
		SendErrorResponse(w, "userId is required", http.StatusBadRequest, nil)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	transactions, err := s.history.ListTransactions(r.Context(), targetID, limit)
	if err != nil {
		log.Printf("[ADMIN] History query failed for %s by %s: %v", targetID, callerID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"transactions": transactions})
}

// ListUsers returns all users joined with their balances
// @Summary List users with balances
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{users=[]object}
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/users [get]
func (s *AdminService) ListUsers(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT u.id, u.email, u.full_name, u.approval_status, u.is_admin, u.is_disabled, COALESCE(c.balance, 0)
		 FROM users u
		 LEFT JOIN user_credits c ON c.user_id = u.id
		 ORDER BY u.created_at DESC`)
	if err != nil {
		log.Printf("[ADMIN] User listing failed for %s: %v", callerID, err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	type userWithBalance struct {
		ID             string                `json:"id"`
		Email          string                `json:"email"`
		FullName       string                `json:"fullName"`
		ApprovalStatus models.ApprovalStatus `json:"approvalStatus"`
		IsAdmin        bool                  `json:"isAdmin"`
		IsDisabled     bool                  `json:"isDisabled"`
		Balance        int64                 `json:"balance"`
	}

	users := []userWithBalance{}
	for rows.Next() {
		var u userWithBalance
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.ApprovalStatus, &u.IsAdmin, &u.IsDisabled, &u.Balance); err != nil {
			SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"users": users})
}

// SetApproval updates a user's approval status
// @Summary Approve or reject a user
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userId path string true "Target user ID"
// @Param request body object{status=string} true "New approval status"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/users/{userId}/approval [put]
func (s *AdminService) SetApproval(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}

	targetID := chi.URLParam(r, "userId")

	var req struct {
		Status models.ApprovalStatus `json:"status" validate:"required,oneof=pending approved rejected"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.db.ExecContext(r.Context(),
		`UPDATE users SET approval_status = $1, updated_at = NOW() WHERE id = $2`, req.Status, targetID)
	if err != nil {
		log.Printf("[ADMIN] Approval update failed for %s by %s: %v", targetID, callerID, err)
		SendErrorResponse(w, "Failed to update approval status", http.StatusInternalServerError, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ADMIN] %s set approval_status=%s for %s", callerID, req.Status, targetID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// SetDisabled enables or disables a user
// @Summary Disable or enable a user
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userId path string true "Target user ID"
// @Param request body object{disabled=bool} true "Disabled flag"
// @Success 200 {object} object{success=bool}
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/users/{userId}/disabled [put]
func (s *AdminService) SetDisabled(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}

	targetID := chi.URLParam(r, "userId")

	var req struct {
		Disabled *bool `json:"disabled" validate:"required"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.db.ExecContext(r.Context(),
		`UPDATE users SET is_disabled = $1, updated_at = NOW() WHERE id = $2`, *req.Disabled, targetID)
	if err != nil {
		log.Printf("[ADMIN] Disabled update failed for %s by %s: %v", targetID, callerID, err)
		SendErrorResponse(w, "Failed to update user", http.StatusInternalServerError, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ADMIN] %s set is_disabled=%v for %s", callerID, *req.Disabled, targetID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

type bootstrapRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
	FullName  string `json:"fullName" validate:"required,min=2"`
	SecretKey string `json:"secretKey" validate:"required"`
}

// Bootstrap creates or promotes the environment's admin account
// @Summary Bootstrap an admin account
// @Description Guarded by the bootstrap secret; creates (or promotes) an approved admin and seeds its opening balance exactly once
// @Tags admin
// @Accept json
// @Produce json
// @Param request body bootstrapRequest true "Bootstrap request"
// @Success 200 {object} object{success=bool,userId=string,balance=int64,seeded=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /admin/bootstrap [post]
func (s *AdminService) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	expectedSecret := viper.GetString("bootstrap.secret")
	if expectedSecret == "" || req.SecretKey != expectedSecret {
		log.Printf("[ADMIN] Bootstrap rejected - bad secret from %s", r.RemoteAddr)
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	email := strings.ToLower(req.Email)

	var userID string
	err := s.db.QueryRowContext(r.Context(), `SELECT id FROM users WHERE email = $1`, email).Scan(&userID)
	switch {
	case err == sql.ErrNoRows:
		hashedPassword, hashErr := hashPassword(req.Password)
		if hashErr != nil {
			SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
			return
		}
		userID = uuid.NewString()
		_, err = s.db.ExecContext(r.Context(),
			`INSERT INTO users (id, email, password, full_name, approval_status, is_admin) VALUES ($1, $2, $3, $4, $5, TRUE)`,
			userID, email, hashedPassword, req.FullName, models.ApprovalApproved)
		if err != nil {
			log.Printf("[ADMIN] Bootstrap user creation failed: %v", err)
			SendErrorResponse(w, "Failed to create admin", http.StatusInternalServerError, nil)
			return
		}
		log.Printf("[ADMIN] Bootstrap created admin %s", userID)
	case err != nil:
		log.Printf("[ADMIN] Bootstrap lookup failed: %v", err)
		SendErrorResponse(w, "Failed to bootstrap admin", http.StatusInternalServerError, nil)
		return
	default:
		_, err = s.db.ExecContext(r.Context(),
			`UPDATE users SET is_admin = TRUE, approval_status = $1, updated_at = NOW() WHERE id = $2`,
			models.ApprovalApproved, userID)
		if err != nil {
			log.Printf("[ADMIN] Bootstrap promotion failed: %v", err)
			SendErrorResponse(w, "Failed to bootstrap admin", http.StatusInternalServerError, nil)
			return
		}
		log.Printf("[ADMIN] Bootstrap promoted existing user %s", userID)
	}

	// Seeding is idempotent-once: a second bootstrap never resets or
	// tops up a partially spent balance.
	balance, seeded, err := s.ledger.Seed(r.Context(), userID, s.cfg.AdminOpeningBalance)
	if err != nil {
		log.Printf("[ADMIN] Bootstrap seed failed for %s: %v", userID, err)
		WriteLedgerError(w, err)
		return
	}
	s.cache.Invalidate(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"userId":  userID,
		"balance": balance,
		"seeded":  seeded,
	})
}

// authorizeAdjustment gates and decodes a credit/debit adjustment.
func (s *AdminService) authorizeAdjustment(w http.ResponseWriter, r *http.Request) (string, *adjustCreditsRequest, bool) {
	callerID, ok := s.requireAdmin(w, r)
	if !ok {
		return "", nil, false
	}

	var req adjustCreditsRequest
	if !s.decodeBody(w, r, &req) {
		return "", nil, false
	}
	return callerID, &req, true
}

func (s *AdminService) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID, _ := r.Context().Value("userID").(string)

	decision, err := s.gate.AuthorizeAdmin(r.Context(), callerID)
	if err != nil {
		log.Printf("[ADMIN] Gate check failed for %s: %v", callerID, err)
		SendErrorResponse(w, "Authorization check failed", http.StatusInternalServerError, nil)
		return "", false
	}
	if decision != DecisionAllow {
		WriteLedgerError(w, decision.Err())
		return "", false
	}
	return callerID, true
}

func (s *AdminService) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := s.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// WriteLedgerError maps the ledger error taxonomy onto HTTP statuses.
// Insufficient balance carries the available balance for display.
func WriteLedgerError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   "Insufficient balance",
			"balance": insufficient.Balance,
		})
	case errors.Is(err, ErrInvalidAmount):
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
	case errors.Is(err, ErrUnauthorized):
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	case errors.Is(err, ErrForbidden):
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
	case errors.Is(err, ErrTransientFailure):
		SendErrorResponse(w, "Temporarily unavailable, please retry", http.StatusServiceUnavailable, nil)
	default:
		SendErrorResponse(w, "Failed to process ledger operation", http.StatusInternalServerError, nil)
	}
}
