// Package quota enforces per-agent daily task ceilings. The counter is
// keyed by (agent id, UTC calendar day), so a "reset" is just the day
// rolling over; there is no state to reset.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aegisflow/aegis/internal/fault"
)

// ErrExceeded marks the typed quota-exceeded condition for errors.Is.
var ErrExceeded = errors.New("daily task quota exceeded")

// Counter is the per-agent daily counter backed by SQLite.
type Counter struct {
	db  *sql.DB
	now func() time.Time
}

// NewCounter opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewCounter(ctx context.Context, dbPath string) (*Counter, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fault.Integration("quota.open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fault.Integration("quota.open", err)
	}

	c := &Counter{db: db, now: time.Now}
	if err := c.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Counter) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_quota (
			agent_id TEXT NOT NULL,
			day TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (agent_id, day)
		);
	`
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fault.Integration("quota.schema", err)
	}
	return nil
}

// Increment counts one task for the agent today and returns the new
// count. When the agent is already at the ceiling it returns a
// validation error wrapping ErrExceeded and leaves the count unchanged.
// A limit <= 0 means unlimited.
//
// The increment is a single guarded upsert: the ceiling check lives in
// the DO UPDATE clause, so concurrent callers serialize on the write
// lock (busy_timeout applies) instead of racing a read-then-write.
func (c *Counter) Increment(ctx context.Context, agentID string, limit int) (int, error) {
	if strings.TrimSpace(agentID) == "" {
		return 0, fault.Validation("quota.increment", "agent id is required")
	}
	day := c.day()

	query := `
		INSERT INTO agent_quota (agent_id, day, count) VALUES (?, ?, 1)
		ON CONFLICT(agent_id, day) DO UPDATE SET count = count + 1
		RETURNING count`
	args := []any{agentID, day}
	if limit > 0 {
		query = `
		INSERT INTO agent_quota (agent_id, day, count) VALUES (?, ?, 1)
		ON CONFLICT(agent_id, day) DO UPDATE SET count = count + 1
			WHERE agent_quota.count < ?
		RETURNING count`
		args = append(args, limit)
	}

	var count int
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// The WHERE clause suppressed the update: already at the ceiling.
		current, countErr := c.Count(ctx, agentID)
		if countErr != nil {
			return 0, countErr
		}
		return current, fault.Validation("quota.increment",
			fmt.Sprintf("agent %s reached its daily limit of %d tasks", agentID, limit)).Wrap(ErrExceeded)
	}
	if err != nil {
		return 0, fault.Integration("quota.increment", err)
	}
	return count, nil
}

// Count returns how many tasks the agent has used today.
func (c *Counter) Count(ctx context.Context, agentID string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT count FROM agent_quota WHERE agent_id = ? AND day = ?`,
		agentID, c.day()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fault.Integration("quota.count", err)
	}
	return count, nil
}

// Close releases the database handle.
func (c *Counter) Close() error {
	return c.db.Close()
}

func (c *Counter) day() string {
	return c.now().UTC().Format("2006-01-02")
}
