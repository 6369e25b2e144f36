package memory

import (
	"context"
	"time"
)

// Store defines the contract for memory operations.
// Implementations must be safe for concurrent use.
type Store interface {
	// Store persists a new entry and returns its id. A missing id or
	// timestamp is assigned; importance must be within [0,1].
	Store(ctx context.Context, entry Entry) (string, error)

	// Query returns entries matching the filters, sorted and limited.
	Query(ctx context.Context, q Query) ([]Entry, error)

	// GetTaskContext assembles the bounded historical context for one task:
	// entries tagged with the task id, recent executions of the same task
	// type, and learned patterns whose tags intersect the task type.
	GetTaskContext(ctx context.Context, taskID, taskType string) (*TaskContext, error)

	// UpdateImportance replaces the importance of an existing entry.
	UpdateImportance(ctx context.Context, id string, importance float64) error

	// Prune deletes entries that are both older than olderThan and at or
	// below maxImportance, returning the number removed.
	Prune(ctx context.Context, olderThan time.Time, maxImportance float64) (int, error)

	// GetStats aggregates counts over entries created at or after since.
	GetStats(ctx context.Context, since time.Time) (*Stats, error)

	// Close releases any resources held by the store.
	Close() error
}

// contextBound caps each TaskContext list to keep prompt construction
// cost predictable.
const contextBound = 10
