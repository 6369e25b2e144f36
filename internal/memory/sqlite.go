package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aegisflow/aegis/internal/fault"
)

// SQLiteStore implements Store using an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures
// the schema exists. Use ":memory:" for an in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fault.Integration("memory.open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fault.Integration("memory.open", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS memory (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			importance REAL NOT NULL,
			content TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memory_type_created ON memory(type, created_at);
		CREATE INDEX IF NOT EXISTS idx_memory_task ON memory(task_id);
		CREATE INDEX IF NOT EXISTS idx_memory_agent ON memory(agent_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fault.Integration("memory.schema", err)
	}
	return nil
}

// Store persists a new entry and returns its id.
func (s *SQLiteStore) Store(ctx context.Context, entry Entry) (string, error) {
	if err := validateEntry(&entry); err != nil {
		return "", err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	tags, err := json.Marshal(normalizeTags(entry.Tags))
	if err != nil {
		return "", fault.Integration("memory.store", err)
	}
	content := []byte("{}")
	if entry.Content != nil {
		content, err = json.Marshal(entry.Content)
		if err != nil {
			return "", fault.Integration("memory.store", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory (id, type, agent_id, task_id, tags, importance, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Type), entry.AgentID, entry.TaskID,
		string(tags), entry.Importance, string(content), formatTime(entry.CreatedAt),
	)
	if err != nil {
		return "", fault.Integration("memory.store", err).WithTask(entry.TaskID)
	}
	return entry.ID, nil
}

// Query returns entries matching q.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(q.Type))
	}
	if q.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, q.TaskID)
	}
	if q.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, q.MinImportance)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(q.Since))
	}
	if len(q.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Tags)), ",")
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(memory.tags) WHERE json_each.value IN (%s))", placeholders))
		for _, tag := range q.Tags {
			args = append(args, tag)
		}
	}

	query := "SELECT id, type, agent_id, task_id, tags, importance, content, created_at FROM memory"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderClause(q.SortBy, q.SortOrder)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Integration("memory.query", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetTaskContext assembles the bounded decision context for one task.
func (s *SQLiteStore) GetTaskContext(ctx context.Context, taskID, taskType string) (*TaskContext, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fault.Validation("memory.context", "task id is required")
	}

	related, err := s.Query(ctx, Query{Tags: []string{taskID}, Limit: contextBound})
	if err != nil {
		return nil, err
	}

	// Entries keyed directly by task id also count as related.
	direct, err := s.Query(ctx, Query{TaskID: taskID, Limit: contextBound})
	if err != nil {
		return nil, err
	}
	related = mergeEntries(related, direct, contextBound)

	var similar, patterns []Entry
	if taskType != "" {
		similar, err = s.Query(ctx, Query{
			Type: TypeTaskExecution,
			Tags: []string{taskType},
			Limit: contextBound,
		})
		if err != nil {
			return nil, err
		}
		patterns, err = s.Query(ctx, Query{
			Type: TypeLearnedPattern,
			Tags: []string{taskType},
			Limit: contextBound,
		})
		if err != nil {
			return nil, err
		}
	}

	return &TaskContext{
		TaskID:               taskID,
		RelatedMemories:      related,
		PreviousSimilarTasks: similar,
		ApplicablePatterns:   patterns,
	}, nil
}

// UpdateImportance replaces the importance of one entry.
func (s *SQLiteStore) UpdateImportance(ctx context.Context, id string, importance float64) error {
	if importance < 0 || importance > 1 {
		return fault.Validation("memory.update_importance", "importance must be within [0,1]")
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE memory SET importance = ? WHERE id = ?", importance, id)
	if err != nil {
		return fault.Integration("memory.update_importance", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fault.Integration("memory.update_importance", err)
	}
	if affected == 0 {
		return fault.NotFound("memory.update_importance", fmt.Sprintf("unknown entry %s", id))
	}
	return nil
}

// Prune deletes entries matching both the age and importance ceilings.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time, maxImportance float64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memory WHERE created_at < ? AND importance <= ?",
		formatTime(olderThan), maxImportance)
	if err != nil {
		return 0, fault.Integration("memory.prune", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fault.Integration("memory.prune", err)
	}
	return int(affected), nil
}

// GetStats aggregates counts over entries created at or after since.
func (s *SQLiteStore) GetStats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{CountByType: map[EntryType]int{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM memory WHERE created_at >= ? GROUP BY type`,
		formatTime(since))
	if err != nil {
		return nil, fault.Integration("memory.stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entryType string
			count     int
		)
		if err := rows.Scan(&entryType, &count); err != nil {
			return nil, fault.Integration("memory.stats", err)
		}
		stats.CountByType[EntryType(entryType)] = count
		stats.TotalEntries += count
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Integration("memory.stats", err)
	}

	var (
		avg            sql.NullFloat64
		oldest, newest sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(importance), MIN(created_at), MAX(created_at)
		FROM memory WHERE created_at >= ?`,
		formatTime(since)).Scan(&avg, &oldest, &newest)
	if err != nil {
		return nil, fault.Integration("memory.stats", err)
	}
	if avg.Valid {
		stats.AvgImportance = avg.Float64
	}
	if oldest.Valid {
		stats.OldestEntry, _ = parseTime(oldest.String)
	}
	if newest.Valid {
		stats.NewestEntry, _ = parseTime(newest.String)
	}
	return stats, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

func validateEntry(entry *Entry) error {
	if !knownTypes[entry.Type] {
		return fault.Validation("memory.store", fmt.Sprintf("unknown entry type %q", entry.Type))
	}
	if entry.Importance < 0 || entry.Importance > 1 {
		return fault.Validation("memory.store", "importance must be within [0,1]")
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func orderClause(key SortKey, order SortOrder) string {
	column := "created_at"
	if key == SortByImportance {
		column = "importance"
	}
	direction := "DESC"
	if order == OrderAsc {
		direction = "ASC"
	}
	return column + " " + direction
}

// formatTime stores timestamps as RFC3339Nano UTC so lexicographic
// comparison matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows rowScanner) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			entry                    Entry
			entryType, tags, content string
			createdAt                string
		)
		if err := rows.Scan(&entry.ID, &entryType, &entry.AgentID, &entry.TaskID,
			&tags, &entry.Importance, &content, &createdAt); err != nil {
			return nil, fault.Integration("memory.scan", err)
		}
		entry.Type = EntryType(entryType)
		if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
			return nil, fault.Integration("memory.scan", err)
		}
		if err := json.Unmarshal([]byte(content), &entry.Content); err != nil {
			return nil, fault.Integration("memory.scan", err)
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, fault.Integration("memory.scan", err)
		}
		entry.CreatedAt = ts
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Integration("memory.scan", err)
	}
	return entries, nil
}

func mergeEntries(a, b []Entry, limit int) []Entry {
	seen := make(map[string]bool, len(a))
	out := make([]Entry, 0, len(a)+len(b))
	for _, e := range a {
		seen[e.ID] = true
		out = append(out, e)
	}
	for _, e := range b {
		if seen[e.ID] {
			continue
		}
		out = append(out, e)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
