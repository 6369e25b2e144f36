// Package approval is the human-review queue: requests the engine
// could not clear on its own wait here for a decision.
package approval

import (
	"time"

	"github.com/aegisflow/aegis/internal/decision"
)

// Status of an approval request. pending is the only non-terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusModified Status = "modified"
	StatusExpired  Status = "expired"
)

// Request is one queued review item.
type Request struct {
	ID              string                   `json:"id"`
	TaskID          string                   `json:"task_id"`
	TaskType        string                   `json:"task_type"`
	Description     string                   `json:"description"`
	Reasoning       string                   `json:"reasoning"`
	RiskLevel       decision.RiskLevel       `json:"risk_level"`
	EstimatedImpact decision.EstimatedImpact `json:"estimated_impact"`
	Alternatives    []decision.Alternative   `json:"alternatives,omitempty"`
	Status          Status                   `json:"status"`
	RequestedAt     time.Time                `json:"requested_at"`
	ExpiresAt       time.Time                `json:"expires_at"`
	DecidedAt       *time.Time               `json:"decided_at,omitempty"`
	DecidedBy       string                   `json:"decided_by,omitempty"`
	Decision        string                   `json:"decision,omitempty"`
	Feedback        string                   `json:"feedback,omitempty"`
	Modification    map[string]any           `json:"modification,omitempty"`
}

// CreateInput is what a caller supplies to enqueue a request.
type CreateInput struct {
	TaskID          string
	TaskType        string
	Description     string
	Reasoning       string
	RiskLevel       decision.RiskLevel
	EstimatedImpact decision.EstimatedImpact
	Alternatives    []decision.Alternative
	TTL             time.Duration // zero means the service default
}

// Response is a human decision on a pending request.
type Response struct {
	RequestID    string         `json:"request_id"`
	Decision     Status         `json:"decision"` // approved | rejected | modified
	RespondedBy  string         `json:"responded_by"`
	Feedback     string         `json:"feedback,omitempty"`
	Modification map[string]any `json:"modification,omitempty"`
}

// HistoryQuery filters past requests.
type HistoryQuery struct {
	Status   Status
	TaskType string
	Since    time.Time
	Limit    int
}

// StatusReport is an aggregate snapshot of the queue.
type StatusReport struct {
	PendingCount    int            `json:"pending_count"`
	ExpiredCount    int            `json:"expired_count"`
	OldestPending   *time.Time     `json:"oldest_pending,omitempty"`
	AvgResponseTime time.Duration  `json:"avg_response_time"`
	ByStatus        map[Status]int `json:"by_status"`
}
