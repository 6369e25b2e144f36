// Package rules provides the deterministic, auditable override layer of
// the decision engine: declarative conditions matched against task
// payloads, always evaluated before any model judgment.
package rules

// Action is the rule outcome for a matching task.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require_approval"
)

// knownActions is the closed set of accepted rule actions.
var knownActions = map[Action]bool{
	ActionAllow:           true,
	ActionDeny:            true,
	ActionRequireApproval: true,
}

// Rule is one declarative decision rule. Rules are configuration data:
// loaded at start, mutable through explicit add/update operations.
type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action"`
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
}

// Patch describes a partial rule update. Nil fields are left unchanged.
type Patch struct {
	Name      *string    `json:"name,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
	Action    *Action    `json:"action,omitempty"`
	Priority  *int       `json:"priority,omitempty"`
	Enabled   *bool      `json:"enabled,omitempty"`
}
