package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/flowforge/backend/internal/config"
	"github.com/flowforge/backend/internal/services"
)

// WorkflowHandler is the privileged product action: generating a
// workflow costs one credit, debited before the document is built.
type WorkflowHandler struct {
	workflows *services.WorkflowService
	ledger    *services.LedgerService
	gate      *services.AccessGate
	cache     *services.BalanceCache
	cfg       *config.CreditsConfig
	validator *services.ValidationHelper
}

func NewWorkflowHandler(workflows *services.WorkflowService, ledger *services.LedgerService, gate *services.AccessGate, cache *services.BalanceCache, cfg *config.CreditsConfig) *WorkflowHandler {
	return &WorkflowHandler{
		workflows: workflows,
		ledger:    ledger,
		gate:      gate,
		cache:     cache,
		cfg:       cfg,
		validator: services.NewValidationHelper(),
	}
}

// Generate builds a workflow document, consuming one credit
// @Summary Generate a workflow
// @Description Debit the per-action cost from the caller's balance and return a templated workflow document
// @Tags workflows
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.WorkflowRequest true "Wizard input"
// @Success 200 {object} object{success=bool,newBalance=int64,workflow=services.WorkflowDocument}
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /workflows/generate [post]
func (h *WorkflowHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)

	decision, err := h.gate.AuthorizeSelf(r.Context(), userID, userID)
	if err != nil {
		log.Printf("[WORKFLOW] Gate check failed for %s: %v", userID, err)
		services.SendErrorResponse(w, "Authorization check failed", http.StatusInternalServerError, nil)
		return
	}
	if decision != services.DecisionAllow {
		services.WriteLedgerError(w, decision.Err())
		return
	}

	var req services.WorkflowRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// Debit first: no credit, no workflow. The debit is atomic, so a
	// generation that never returns still leaves a consistent ledger.
	newBalance, err := h.ledger.UseCredits(r.Context(), userID, h.cfg.CostPerUse, "Workflow generation")
	if err != nil {
		log.Printf("[WORKFLOW] Debit failed for %s: %v", userID, err)
		services.WriteLedgerError(w, err)
		return
	}
	h.cache.Invalidate(r.Context(), userID)

	workflow := h.workflows.BuildWorkflow(&req)
	log.Printf("[WORKFLOW] Generated workflow %s for %s", workflow.ID, userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"newBalance": newBalance,
		"workflow":   workflow,
	})
}
