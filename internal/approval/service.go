package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegisflow/aegis/internal/audit"
	"github.com/aegisflow/aegis/internal/fault"
)

const defaultTTL = 24 * time.Hour

// Notifier fans a new request out to the configured channels. Delivery
// failures are the notifier's problem; the queue never depends on them.
type Notifier interface {
	Dispatch(ctx context.Context, req *Request)
}

// Service owns the approval queue lifecycle.
type Service struct {
	store    Store
	notifier Notifier
	audit    *audit.Writer
	ttl      time.Duration
	now      func() time.Time
}

// NewService wires the queue. notifier may be nil.
func NewService(store Store, notifier Notifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		ttl:      defaultTTL,
		now:      time.Now,
	}
}

// SetTTL overrides the default time-to-live for new requests.
func (s *Service) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// SetAuditWriter attaches an audit trail.
func (s *Service) SetAuditWriter(w *audit.Writer) { s.audit = w }

// RequestApproval validates the input, persists a pending request, then
// notifies the channels. The request is durable and discoverable even
// when every channel fails.
func (s *Service) RequestApproval(ctx context.Context, in CreateInput) (*Request, error) {
	if strings.TrimSpace(in.TaskID) == "" {
		return nil, fault.Validation("approval.request", "task id is required")
	}
	if in.RiskLevel == "" {
		return nil, fault.Validation("approval.request", "risk level is required").WithTask(in.TaskID)
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC()
	req := Request{
		ID:              uuid.NewString(),
		TaskID:          in.TaskID,
		TaskType:        in.TaskType,
		Description:     in.Description,
		Reasoning:       in.Reasoning,
		RiskLevel:       in.RiskLevel,
		EstimatedImpact: in.EstimatedImpact,
		Alternatives:    in.Alternatives,
		Status:          StatusPending,
		RequestedAt:     now,
		ExpiresAt:       now.Add(ttl),
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}
	s.appendAudit(audit.Event{
		Type:      "approval_requested",
		TaskID:    req.TaskID,
		RequestID: req.ID,
		RiskLevel: string(req.RiskLevel),
	})

	if s.notifier != nil {
		s.notifier.Dispatch(ctx, &req)
	}
	return &req, nil
}

// Get returns a single request by id.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fault.Validation("approval.get", "request id is required")
	}
	return s.store.Get(ctx, id)
}

// GetPending lists pending requests oldest first. Overdue requests stay
// pending until ProcessExpired runs.
func (s *Service) GetPending(ctx context.Context) ([]Request, error) {
	return s.store.ListPending(ctx)
}

// Respond applies a human decision to a pending request. Exactly one
// concurrent responder wins; the rest get a validation error carrying
// the settled status.
func (s *Service) Respond(ctx context.Context, resp Response) (*Request, error) {
	switch resp.Decision {
	case StatusApproved, StatusRejected, StatusModified:
	default:
		return nil, fault.Validation("approval.respond",
			fmt.Sprintf("invalid decision %q: must be approved, rejected, or modified", resp.Decision)).
			WithRequest(resp.RequestID)
	}
	if resp.Decision == StatusModified && len(resp.Modification) == 0 {
		return nil, fault.Validation("approval.respond",
			"modified decision requires a modification payload").WithRequest(resp.RequestID)
	}

	ok, err := s.store.Decide(ctx, resp.RequestID, resp, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Either the id is unknown or the request already left pending.
		current, err := s.store.Get(ctx, resp.RequestID)
		if err != nil {
			return nil, err
		}
		return nil, fault.Validation("approval.respond",
			fmt.Sprintf("request is not pending (status %s)", current.Status)).
			WithRequest(resp.RequestID)
	}

	req, err := s.store.Get(ctx, resp.RequestID)
	if err != nil {
		return nil, err
	}
	s.appendAudit(audit.Event{
		Type:      "approval_decided",
		TaskID:    req.TaskID,
		RequestID: req.ID,
		RiskLevel: string(req.RiskLevel),
		Result:    string(req.Status),
	})
	return req, nil
}

// GetHistory returns past requests, newest first.
func (s *Service) GetHistory(ctx context.Context, q HistoryQuery) ([]Request, error) {
	return s.store.History(ctx, q)
}

// ProcessExpired sweeps overdue pending requests into the expired state
// and returns how many it moved. Safe to call repeatedly.
func (s *Service) ProcessExpired(ctx context.Context) (int, error) {
	n, err := s.store.ExpirePending(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("expired approval requests", "count", n)
		s.appendAudit(audit.Event{
			Type:   "approvals_expired",
			Result: fmt.Sprintf("%d", n),
		})
	}
	return n, nil
}

// GetStatus returns the aggregate queue snapshot.
func (s *Service) GetStatus(ctx context.Context) (*StatusReport, error) {
	return s.store.Report(ctx)
}

func (s *Service) appendAudit(ev audit.Event) {
	if s.audit == nil {
		return
	}
	ev.Time = s.now().UTC()
	if err := s.audit.Append(ev); err != nil {
		slog.Warn("audit append failed", "error", err)
	}
}
