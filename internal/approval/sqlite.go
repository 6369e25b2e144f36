package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aegisflow/aegis/internal/decision"
	"github.com/aegisflow/aegis/internal/fault"
)

// Store persists approval requests.
type Store interface {
	Create(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (*Request, error)
	ListPending(ctx context.Context) ([]Request, error)
	// Decide moves a pending request to a terminal status. It reports
	// whether the transition happened; false with a nil error means the
	// request exists but was no longer pending.
	Decide(ctx context.Context, id string, resp Response, decidedAt time.Time) (bool, error)
	History(ctx context.Context, q HistoryQuery) ([]Request, error)
	// ExpirePending transitions every pending request whose deadline has
	// passed and returns how many rows changed.
	ExpirePending(ctx context.Context, now time.Time) (int, error)
	Report(ctx context.Context) (*StatusReport, error)
	Close() error
}

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fault.Integration("approval.open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fault.Integration("approval.open", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			task_type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			risk_level TEXT NOT NULL,
			impact TEXT NOT NULL DEFAULT '{}',
			alternatives TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			requested_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			decided_at TEXT,
			decided_by TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL DEFAULT '',
			feedback TEXT NOT NULL DEFAULT '',
			modification TEXT NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status, requested_at);
		CREATE INDEX IF NOT EXISTS idx_approvals_expires ON approvals(status, expires_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fault.Integration("approval.schema", err)
	}
	return nil
}

// Create inserts a new request row.
func (s *SQLiteStore) Create(ctx context.Context, req Request) error {
	impact, err := json.Marshal(req.EstimatedImpact)
	if err != nil {
		return fault.Integration("approval.create", err).WithRequest(req.ID)
	}
	alts, err := json.Marshal(req.Alternatives)
	if err != nil {
		return fault.Integration("approval.create", err).WithRequest(req.ID)
	}
	if req.Alternatives == nil {
		alts = []byte("[]")
	}
	mod := []byte("{}")
	if req.Modification != nil {
		mod, err = json.Marshal(req.Modification)
		if err != nil {
			return fault.Integration("approval.create", err).WithRequest(req.ID)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (
			id, task_id, task_type, description, reasoning, risk_level,
			impact, alternatives, status, requested_at, expires_at,
			decided_by, decision, feedback, modification
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', '', ?)`,
		req.ID, req.TaskID, req.TaskType, req.Description, req.Reasoning,
		string(req.RiskLevel), string(impact), string(alts), string(req.Status),
		formatTime(req.RequestedAt), formatTime(req.ExpiresAt), string(mod))
	if err != nil {
		return fault.Integration("approval.create", err).WithRequest(req.ID)
	}
	return nil
}

// Get returns the request by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Request, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM approvals WHERE id = ?`, id)
	if err != nil {
		return nil, fault.Integration("approval.get", err).WithRequest(id)
	}
	defer rows.Close()

	reqs, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, fault.NotFound("approval.get", fmt.Sprintf("approval request %s not found", id)).WithRequest(id)
	}
	return &reqs[0], nil
}

// ListPending returns pending requests oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM approvals WHERE status = ? ORDER BY requested_at ASC`,
		string(StatusPending))
	if err != nil {
		return nil, fault.Integration("approval.pending", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// Decide performs the guarded pending-to-terminal transition. The WHERE
// clause on status makes concurrent responses race safely: exactly one
// UPDATE affects a row.
func (s *SQLiteStore) Decide(ctx context.Context, id string, resp Response, decidedAt time.Time) (bool, error) {
	mod := []byte("{}")
	if resp.Modification != nil {
		var err error
		mod, err = json.Marshal(resp.Modification)
		if err != nil {
			return false, fault.Integration("approval.decide", err).WithRequest(id)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, decided_at = ?, decided_by = ?, decision = ?, feedback = ?, modification = ?
		WHERE id = ? AND status = ?`,
		string(resp.Decision), formatTime(decidedAt), resp.RespondedBy,
		string(resp.Decision), resp.Feedback, string(mod),
		id, string(StatusPending))
	if err != nil {
		return false, fault.Integration("approval.decide", err).WithRequest(id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.Integration("approval.decide", err).WithRequest(id)
	}
	return n == 1, nil
}

// History returns past requests newest first, filtered by q.
func (s *SQLiteStore) History(ctx context.Context, q HistoryQuery) ([]Request, error) {
	var (
		where []string
		args  []any
	)
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.TaskType != "" {
		where = append(where, "task_type = ?")
		args = append(args, q.TaskType)
	}
	if !q.Since.IsZero() {
		where = append(where, "requested_at >= ?")
		args = append(args, formatTime(q.Since))
	}

	query := selectColumns + ` FROM approvals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY requested_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Integration("approval.history", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// ExpirePending marks overdue pending rows expired.
func (s *SQLiteStore) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, decided_at = ?
		WHERE status = ? AND expires_at <= ?`,
		string(StatusExpired), formatTime(now), string(StatusPending), formatTime(now))
	if err != nil {
		return 0, fault.Integration("approval.expire", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fault.Integration("approval.expire", err)
	}
	return int(n), nil
}

// Report aggregates queue statistics.
func (s *SQLiteStore) Report(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{ByStatus: make(map[Status]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM approvals GROUP BY status`)
	if err != nil {
		return nil, fault.Integration("approval.report", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fault.Integration("approval.report", err)
		}
		report.ByStatus[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Integration("approval.report", err)
	}
	report.PendingCount = report.ByStatus[StatusPending]
	report.ExpiredCount = report.ByStatus[StatusExpired]

	var oldest sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(requested_at) FROM approvals WHERE status = ?`,
		string(StatusPending)).Scan(&oldest)
	if err != nil {
		return nil, fault.Integration("approval.report", err)
	}
	if oldest.Valid {
		t, err := parseTime(oldest.String)
		if err == nil {
			report.OldestPending = &t
		}
	}

	// Average human response time over decided requests. SQLite has no
	// duration type, so compute from unixepoch seconds.
	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(unixepoch(decided_at) - unixepoch(requested_at))
		FROM approvals
		WHERE decided_at IS NOT NULL AND status IN (?, ?, ?)`,
		string(StatusApproved), string(StatusRejected), string(StatusModified)).Scan(&avg)
	if err != nil {
		return nil, fault.Integration("approval.report", err)
	}
	if avg.Valid {
		report.AvgResponseTime = time.Duration(avg.Float64 * float64(time.Second))
	}
	return report, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `
	SELECT id, task_id, task_type, description, reasoning, risk_level,
	       impact, alternatives, status, requested_at, expires_at,
	       decided_at, decided_by, decision, feedback, modification`

func scanRequests(rows *sql.Rows) ([]Request, error) {
	var reqs []Request
	for rows.Next() {
		var (
			r                          Request
			risk, impact, alts, mod    string
			requestedAt, expiresAt     string
			decidedAt                  sql.NullString
			status                     string
		)
		err := rows.Scan(&r.ID, &r.TaskID, &r.TaskType, &r.Description,
			&r.Reasoning, &risk, &impact, &alts, &status,
			&requestedAt, &expiresAt, &decidedAt,
			&r.DecidedBy, &r.Decision, &r.Feedback, &mod)
		if err != nil {
			return nil, fault.Integration("approval.scan", err)
		}

		r.RiskLevel = decision.RiskLevel(risk)
		r.Status = Status(status)
		if err := json.Unmarshal([]byte(impact), &r.EstimatedImpact); err != nil {
			return nil, fault.Integration("approval.scan", err).WithRequest(r.ID)
		}
		if err := json.Unmarshal([]byte(alts), &r.Alternatives); err != nil {
			return nil, fault.Integration("approval.scan", err).WithRequest(r.ID)
		}
		if mod != "" && mod != "{}" {
			if err := json.Unmarshal([]byte(mod), &r.Modification); err != nil {
				return nil, fault.Integration("approval.scan", err).WithRequest(r.ID)
			}
		}
		if r.RequestedAt, err = parseTime(requestedAt); err != nil {
			return nil, fault.Integration("approval.scan", err).WithRequest(r.ID)
		}
		if r.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, fault.Integration("approval.scan", err).WithRequest(r.ID)
		}
		if decidedAt.Valid {
			t, err := parseTime(decidedAt.String)
			if err != nil {
				return nil, fault.Integration("approval.scan", err).WithRequest(r.ID)
			}
			r.DecidedAt = &t
		}
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Integration("approval.scan", err)
	}
	return reqs, nil
}

// formatTime stores timestamps as RFC3339Nano UTC so lexicographic
// comparison matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
