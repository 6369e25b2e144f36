// Package decision implements the verdict engine: cheap declarative
// rules first, model judgment for everything uncovered, and a per-risk
// confidence gate deciding whether a human must approve.
package decision

import (
	"time"

	"github.com/aegisflow/aegis/internal/memory"
	"github.com/aegisflow/aegis/internal/rules"
)

// Action classifies the verdict for a proposed task.
type Action string

const (
	ActionExecute         Action = "execute"
	ActionRequestApproval Action = "request_approval"
	ActionReject          Action = "reject"
)

// knownActions is the closed set of verdict actions.
var knownActions = map[Action]bool{
	ActionExecute:         true,
	ActionRequestApproval: true,
	ActionReject:          true,
}

// RiskLevel is a coarse ordinal driving the approval threshold.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// knownRiskLevels is the closed set of risk levels.
var knownRiskLevels = map[RiskLevel]bool{
	RiskLow:      true,
	RiskMedium:   true,
	RiskHigh:     true,
	RiskCritical: true,
}

// Task is an externally defined unit of work an agent may execute.
// Treated as immutable input.
type Task struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	RequestedBy string         `json:"requested_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Context carries everything one evaluation needs. Constructed fresh
// per evaluation; never persisted.
type Context struct {
	Task         Task
	AgentID      string
	History      []memory.Entry
	Rules        []rules.Rule
	Capabilities []string
}

// EstimatedImpact describes what executing the task could cost.
type EstimatedImpact struct {
	Monetary     *float64 `json:"monetary,omitempty"`
	Reputational string   `json:"reputational,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// Alternative is a safer option the model proposed instead.
type Alternative struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
}

// Result is the engine's verdict for one evaluation. Ephemeral: it is
// persisted as a decision_outcome memory entry and optionally forwarded
// to the approval queue.
type Result struct {
	Action           Action          `json:"action"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	EstimatedImpact  EstimatedImpact `json:"estimated_impact"`
	Alternatives     []Alternative   `json:"alternatives,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
}
