// Package memory provides the durable record store of past executions,
// decisions, feedback, and errors that feeds the decision engine with
// historical context.
package memory

import "time"

// EntryType classifies a memory entry.
type EntryType string

const (
	TypeTaskExecution   EntryType = "task_execution"
	TypeUserFeedback    EntryType = "user_feedback"
	TypeDecisionOutcome EntryType = "decision_outcome"
	TypeSystemState     EntryType = "system_state"
	TypeLearnedPattern  EntryType = "learned_pattern"
	TypeError           EntryType = "error"
)

// knownTypes is the closed set of accepted entry types.
var knownTypes = map[EntryType]bool{
	TypeTaskExecution:   true,
	TypeUserFeedback:    true,
	TypeDecisionOutcome: true,
	TypeSystemState:     true,
	TypeLearnedPattern:  true,
	TypeError:           true,
}

// Entry is a durable trace left by any component.
// Only Importance may change after creation.
type Entry struct {
	ID         string         `json:"id"`
	Type       EntryType      `json:"type"`
	Content    map[string]any `json:"content"`
	AgentID    string         `json:"agent_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Importance float64        `json:"importance"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SortKey selects the ordering column for queries.
type SortKey string

const (
	SortByCreatedAt  SortKey = "created_at"
	SortByImportance SortKey = "importance"
)

// SortOrder selects ascending or descending ordering.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Query filters memory entries. Zero values mean "no filter".
type Query struct {
	Type          EntryType
	AgentID       string
	TaskID        string
	Tags          []string // any-match
	MinImportance float64
	Since         time.Time
	SortBy        SortKey   // default created_at
	SortOrder     SortOrder // default desc
	Limit         int
}

// TaskContext is the combined read path used by the decision engine.
type TaskContext struct {
	TaskID               string  `json:"task_id"`
	RelatedMemories      []Entry `json:"related_memories"`
	PreviousSimilarTasks []Entry `json:"previous_similar_tasks"`
	ApplicablePatterns   []Entry `json:"applicable_patterns"`
}

// Stats aggregates store contents since a point in time.
type Stats struct {
	TotalEntries  int               `json:"total_entries"`
	CountByType   map[EntryType]int `json:"count_by_type"`
	AvgImportance float64           `json:"avg_importance"`
	OldestEntry   time.Time         `json:"oldest_entry"`
	NewestEntry   time.Time         `json:"newest_entry"`
}
