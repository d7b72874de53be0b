package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkflowService builds importable n8n-style workflow documents from
// wizard input. Generation itself is free of side effects; the caller
// is responsible for debiting the credit before invoking it.
type WorkflowService struct{}

func NewWorkflowService() *WorkflowService {
	return &WorkflowService{}
}

type WorkflowRequest struct {
	WorkflowName    string `json:"workflowName" validate:"required,min=2,max=100"`
	Description     string `json:"description" validate:"max=500"`
	TriggerType     string `json:"triggerType" validate:"required,oneof=webhook schedule manual"`
	Actions         string `json:"actions" validate:"max=500"`
	Integrations    string `json:"integrations" validate:"max=500"`
	ComplianceLevel string `json:"complianceLevel" validate:"omitempty,oneof=standard strict"`
}

type WorkflowNode struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion int            `json:"typeVersion"`
	Position    [2]int         `json:"position"`
	Parameters  map[string]any `json:"parameters"`
	Notes       string         `json:"notes,omitempty"`
}

type WorkflowConnection struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type WorkflowDocument struct {
	ID          string                            `json:"id"`
	Name        string                            `json:"name"`
	Nodes       []WorkflowNode                    `json:"nodes"`
	Connections map[string][][]WorkflowConnection `json:"connections"`
	Settings    map[string]any                    `json:"settings"`
	Tags        []string                          `json:"tags"`
	GeneratedAt time.Time                         `json:"generatedAt"`
}

// BuildWorkflow produces a trigger -> validate -> action -> notify
// pipeline from the wizard input.
func (s *WorkflowService) BuildWorkflow(req *WorkflowRequest) *WorkflowDocument {
	triggerName := fmt.Sprintf("%s Trigger", strings.ToUpper(req.TriggerType[:1])+req.TriggerType[1:])
	triggerType := "n8n-nodes-base.webhook"
	if req.TriggerType != "webhook" {
		triggerType = fmt.Sprintf("n8n-nodes-base.%sTrigger", req.TriggerType)
	}

	nodes := []WorkflowNode{
		{
			ID:          "trigger-1",
			Name:        triggerName,
			Type:        triggerType,
			TypeVersion: 1,
			Position:    [2]int{250, 300},
			Parameters:  map[string]any{},
			Notes:       "Entry point - validates incoming requests",
		},
		{
			ID:          "validate-1",
			Name:        "Validate Input",
			Type:        "n8n-nodes-base.if",
			TypeVersion: 1,
			Position:    [2]int{450, 300},
			Parameters: map[string]any{
				"conditions": map[string]any{"string": []any{}},
			},
			Notes: "Schema validation before any action runs",
		},
		{
			ID:          "action-1",
			Name:        "Execute Actions",
			Type:        "n8n-nodes-base.function",
			TypeVersion: 1,
			Position:    [2]int{650, 300},
			Parameters: map[string]any{
				"functionCode": fmt.Sprintf("// %s\nreturn items;", req.Actions),
			},
		},
		{
			ID:          "notify-1",
			Name:        "Notify Completion",
			Type:        "n8n-nodes-base.noOp",
			TypeVersion: 1,
			Position:    [2]int{850, 300},
			Parameters:  map[string]any{},
		},
	}

	connections := map[string][][]WorkflowConnection{
		"trigger-1":  {{{Node: "validate-1", Type: "main", Index: 0}}},
		"validate-1": {{{Node: "action-1", Type: "main", Index: 0}}},
		"action-1":   {{{Node: "notify-1", Type: "main", Index: 0}}},
	}

	compliance := req.ComplianceLevel
	if compliance == "" {
		compliance = "standard"
	}

	return &WorkflowDocument{
		ID:          uuid.NewString(),
		Name:        req.WorkflowName,
		Nodes:       nodes,
		Connections: connections,
		Settings: map[string]any{
			"executionOrder":   "v1",
			"saveExecutionLog": true,
			"integrations":     req.Integrations,
			"description":      req.Description,
		},
		Tags:        []string{"flowforge", "production", compliance},
		GeneratedAt: time.Now(),
	}
}
