package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/flowforge/backend/internal/config"
	"github.com/flowforge/backend/internal/services"
)

// CreditsHandler is the self-service credit surface: own balance, own
// history, and the usage debit taken when a credit is spent.
type CreditsHandler struct {
	ledger    *services.LedgerService
	gate      *services.AccessGate
	history   *services.HistoryService
	cache     *services.BalanceCache
	cfg       *config.CreditsConfig
	validator *services.ValidationHelper
}

func NewCreditsHandler(ledger *services.LedgerService, gate *services.AccessGate, history *services.HistoryService, cache *services.BalanceCache, cfg *config.CreditsConfig) *CreditsHandler {
	return &CreditsHandler{
		ledger:    ledger,
		gate:      gate,
		history:   history,
		cache:     cache,
		cfg:       cfg,
		validator: services.NewValidationHelper(),
	}
}

// GetBalance returns the caller's current balance
// @Summary Get credit balance
// @Description Get the caller's own balance; served from a short-lived cache that every mutation invalidates
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64}
// @Failure 401 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /credits/balance [get]
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	if balance, hit := h.cache.Get(r.Context(), userID); hit {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"balance": balance})
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		log.Printf("[CREDITS] Balance query failed for %s: %v", userID, err)
		services.SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}
	h.cache.Set(r.Context(), userID, balance)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"balance": balance})
}

// UseCredits spends credits from the caller's own balance
// @Summary Use credits
// @Description Debit the caller's balance; amount defaults to the per-action cost of one credit
// @Tags credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,description=string} false "Usage request"
// @Success 200 {object} object{success=bool,newBalance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /credits/use [post]
func (h *CreditsHandler) UseCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount      int64  `json:"amount" validate:"gte=0"`
		Description string `json:"description" validate:"max=200"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil && err != io.EOF {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount := req.Amount
	if amount == 0 {
		amount = h.cfg.CostPerUse
	}
	description := req.Description
	if description == "" {
		description = "Wizard usage"
	}

	newBalance, err := h.ledger.UseCredits(r.Context(), userID, amount, description)
	if err != nil {
		log.Printf("[CREDITS] Usage debit failed for %s: %v", userID, err)
		services.WriteLedgerError(w, err)
		return
	}
	h.cache.Invalidate(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"newBalance": newBalance,
	})
}

// ListTransactions returns the caller's own transaction history
// @Summary List own transactions
// @Description Most-recent-first transaction history, capped at 50 records
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size, capped at 50"
// @Success 200 {object} object{transactions=[]models.CreditTransaction}
// @Failure 401 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /credits/transactions [get]
func (h *CreditsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	transactions, err := h.history.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		log.Printf("[CREDITS] History query failed for %s: %v", userID, err)
		services.SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"transactions": transactions})
}

func (h *CreditsHandler) requireSelf(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, _ := r.Context().Value("userID").(string)

	decision, err := h.gate.AuthorizeSelf(r.Context(), userID, userID)
	if err != nil {
		log.Printf("[CREDITS] Gate check failed for %s: %v", userID, err)
		services.SendErrorResponse(w, "Authorization check failed", http.StatusInternalServerError, nil)
		return "", false
	}
	if decision != services.DecisionAllow {
		services.WriteLedgerError(w, decision.Err())
		return "", false
	}
	return userID, true
}
