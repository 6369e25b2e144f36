package guard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aegisflow/aegis/internal/approval"
	"github.com/aegisflow/aegis/internal/decision"
	"github.com/aegisflow/aegis/internal/fault"
	"github.com/aegisflow/aegis/internal/memory"
	"github.com/aegisflow/aegis/internal/quota"
	"github.com/aegisflow/aegis/internal/rules"
)

type stubCompleter struct {
	verdict *decision.Verdict
	err     error
}

func (c *stubCompleter) Complete(ctx context.Context, req decision.CompletionRequest) (*decision.Verdict, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.verdict, nil
}

type fixture struct {
	guard     *Guard
	completer *stubCompleter
	approvals *approval.Service
	store     memory.Store
}

func newFixture(t *testing.T, ruleList []rules.Rule, dailyMax int) *fixture {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := memory.NewSQLiteStore(ctx, filepath.Join(dir, "mem.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	approvalStore, err := approval.NewSQLiteStore(ctx, filepath.Join(dir, "approvals.db"))
	if err != nil {
		t.Fatalf("approval.NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { _ = approvalStore.Close() })

	counter, err := quota.NewCounter(ctx, filepath.Join(dir, "quota.db"))
	if err != nil {
		t.Fatalf("quota.NewCounter error: %v", err)
	}
	t.Cleanup(func() { _ = counter.Close() })

	set, err := rules.NewSet(ruleList)
	if err != nil {
		t.Fatalf("NewSet error: %v", err)
	}

	completer := &stubCompleter{}
	engine := decision.NewEngine(store, completer, set)
	approvals := approval.NewService(approvalStore, nil)

	return &fixture{
		guard:     New(engine, approvals, store, counter, dailyMax),
		completer: completer,
		approvals: approvals,
		store:     store,
	}
}

func task(id string) decision.Task {
	return decision.Task{
		ID:          id,
		Type:        "report",
		Payload:     map[string]any{"amount": float64(5)},
		RequestedBy: "agent-1",
	}
}

func confidentVerdict() *decision.Verdict {
	return &decision.Verdict{
		Action:     decision.ActionExecute,
		Confidence: 0.95,
		Reasoning:  "routine",
		RiskLevel:  decision.RiskLow,
	}
}

func TestRunExecutesClearedTask(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.completer.verdict = confidentVerdict()

	ran := false
	result, err := f.guard.Run(context.Background(), "agent-1", task("task-1"),
		func(ctx context.Context, tk decision.Task) (any, error) {
			ran = true
			return "done", nil
		})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !ran {
		t.Fatal("executor did not run")
	}
	if result.Status != StatusExecuted || result.Output != "done" {
		t.Fatalf("unexpected result: %+v", result)
	}

	traces, err := f.store.Query(context.Background(), memory.Query{
		Type:   memory.TypeTaskExecution,
		TaskID: "task-1",
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(traces) != 1 || traces[0].Content["outcome"] != "succeeded" {
		t.Fatalf("expected success trace, got %+v", traces)
	}
}

func TestRunEnqueuesWhenApprovalRequired(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.completer.verdict = &decision.Verdict{
		Action:     decision.ActionRequestApproval,
		Confidence: 0.6,
		Reasoning:  "irreversible deletion",
		RiskLevel:  decision.RiskHigh,
	}

	result, err := f.guard.Run(context.Background(), "agent-1", task("task-2"),
		func(ctx context.Context, tk decision.Task) (any, error) {
			t.Fatal("executor must not run before approval")
			return nil, nil
		})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Status != StatusAwaitingApproval || result.RequestID == "" {
		t.Fatalf("expected awaiting approval, got %+v", result)
	}

	pending, err := f.approvals.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != result.RequestID {
		t.Fatalf("expected queued request %s, got %+v", result.RequestID, pending)
	}
}

func TestRunRejectsDeniedTask(t *testing.T) {
	denyRule := rules.Rule{
		ID:        "deny-report",
		Name:      "deny all reports",
		Condition: rules.Condition{Field: "type", Op: rules.OpEq, Value: "report"},
		Action:    rules.ActionDeny,
		Priority:  10,
		Enabled:   true,
	}
	f := newFixture(t, []rules.Rule{denyRule}, 10)

	result, err := f.guard.Run(context.Background(), "agent-1", task("task-3"),
		func(ctx context.Context, tk decision.Task) (any, error) {
			t.Fatal("executor must not run for a denied task")
			return nil, nil
		})
	if !fault.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if result == nil || result.Status != StatusRejected {
		t.Fatalf("expected rejected result, got %+v", result)
	}
}

func TestRunQuotaExceeded(t *testing.T) {
	f := newFixture(t, nil, 1)
	f.completer.verdict = confidentVerdict()

	noop := func(ctx context.Context, tk decision.Task) (any, error) { return nil, nil }
	if _, err := f.guard.Run(context.Background(), "agent-1", task("task-4"), noop); err != nil {
		t.Fatalf("first run should pass: %v", err)
	}
	_, err := f.guard.Run(context.Background(), "agent-1", task("task-5"), noop)
	if !errors.Is(err, quota.ErrExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
}

func TestRunExecutorFailureRecorded(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.completer.verdict = confidentVerdict()

	_, err := f.guard.Run(context.Background(), "agent-1", task("task-6"),
		func(ctx context.Context, tk decision.Task) (any, error) {
			return nil, errors.New("disk full")
		})
	if !fault.IsIntegration(err) {
		t.Fatalf("expected integration error, got %v", err)
	}

	traces, err := f.store.Query(context.Background(), memory.Query{
		Type:   memory.TypeTaskExecution,
		TaskID: "task-6",
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(traces) != 1 || traces[0].Content["outcome"] != "failed" {
		t.Fatalf("expected failure trace, got %+v", traces)
	}
	if traces[0].Content["error"] != "disk full" {
		t.Fatalf("expected error recorded, got %+v", traces[0].Content)
	}
}

func TestCompleteApprovalApproved(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.completer.verdict = &decision.Verdict{
		Action:     decision.ActionRequestApproval,
		Confidence: 0.6,
		Reasoning:  "needs review",
		RiskLevel:  decision.RiskHigh,
	}

	queued, err := f.guard.Run(context.Background(), "agent-1", task("task-7"), noopExecutor(t))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if _, err := f.approvals.Respond(context.Background(), approval.Response{
		RequestID:   queued.RequestID,
		Decision:    approval.StatusApproved,
		RespondedBy: "alice",
	}); err != nil {
		t.Fatalf("Respond error: %v", err)
	}

	ran := false
	result, err := f.guard.CompleteApproval(context.Background(), queued.RequestID,
		func(ctx context.Context, tk decision.Task) (any, error) {
			ran = true
			if tk.ID != "task-7" {
				t.Fatalf("wrong task reconstructed: %s", tk.ID)
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("CompleteApproval error: %v", err)
	}
	if !ran || result.Status != StatusExecuted {
		t.Fatalf("expected execution after approval, got %+v", result)
	}
}

func TestCompleteApprovalModifiedReplacesPayload(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.completer.verdict = &decision.Verdict{
		Action:     decision.ActionRequestApproval,
		Confidence: 0.6,
		Reasoning:  "amount too large",
		RiskLevel:  decision.RiskMedium,
	}

	queued, err := f.guard.Run(context.Background(), "agent-1", task("task-8"), noopExecutor(t))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if _, err := f.approvals.Respond(context.Background(), approval.Response{
		RequestID:    queued.RequestID,
		Decision:     approval.StatusModified,
		RespondedBy:  "bob",
		Modification: map[string]any{"amount": float64(1)},
	}); err != nil {
		t.Fatalf("Respond error: %v", err)
	}

	_, err = f.guard.CompleteApproval(context.Background(), queued.RequestID,
		func(ctx context.Context, tk decision.Task) (any, error) {
			if tk.Payload["amount"] != float64(1) {
				t.Fatalf("expected modified payload, got %+v", tk.Payload)
			}
			return nil, nil
		})
	if err != nil {
		t.Fatalf("CompleteApproval error: %v", err)
	}
}

func TestCompleteApprovalRejectedDoesNotExecute(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.completer.verdict = &decision.Verdict{
		Action:     decision.ActionRequestApproval,
		Confidence: 0.6,
		Reasoning:  "needs review",
		RiskLevel:  decision.RiskHigh,
	}

	queued, err := f.guard.Run(context.Background(), "agent-1", task("task-9"), noopExecutor(t))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if _, err := f.approvals.Respond(context.Background(), approval.Response{
		RequestID:   queued.RequestID,
		Decision:    approval.StatusRejected,
		RespondedBy: "carol",
	}); err != nil {
		t.Fatalf("Respond error: %v", err)
	}

	result, err := f.guard.CompleteApproval(context.Background(), queued.RequestID,
		func(ctx context.Context, tk decision.Task) (any, error) {
			t.Fatal("executor must not run for a rejected request")
			return nil, nil
		})
	if err != nil {
		t.Fatalf("CompleteApproval error: %v", err)
	}
	if result.Status != StatusRejected {
		t.Fatalf("expected rejected, got %+v", result)
	}

	// The rejection is recorded as feedback for future decisions.
	feedback, err := f.store.Query(context.Background(), memory.Query{
		Type:   memory.TypeUserFeedback,
		TaskID: "task-9",
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(feedback) != 1 {
		t.Fatalf("expected 1 feedback entry, got %d", len(feedback))
	}
}

func TestCompleteApprovalPending(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.completer.verdict = &decision.Verdict{
		Action:     decision.ActionRequestApproval,
		Confidence: 0.6,
		Reasoning:  "needs review",
		RiskLevel:  decision.RiskHigh,
	}

	queued, err := f.guard.Run(context.Background(), "agent-1", task("task-10"), noopExecutor(t))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	_, err = f.guard.CompleteApproval(context.Background(), queued.RequestID, noopExecutor(t))
	if !fault.IsValidation(err) {
		t.Fatalf("expected validation error on pending request, got %v", err)
	}
}

func noopExecutor(t *testing.T) Executor {
	return func(ctx context.Context, tk decision.Task) (any, error) {
		t.Helper()
		return nil, nil
	}
}

func TestRunAttributesMemoryToAgent(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.completer.verdict = confidentVerdict()

	if _, err := f.guard.Run(context.Background(), "agent-1", task("task-11"), noopExecutor(t)); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	traces, err := f.store.Query(context.Background(), memory.Query{
		Type:    memory.TypeTaskExecution,
		AgentID: "agent-1",
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(traces) != 1 || traces[0].TaskID != "task-11" {
		t.Fatalf("expected the execution trace under agent-1, got %+v", traces)
	}

	outcomes, err := f.store.Query(context.Background(), memory.Query{
		Type:    memory.TypeDecisionOutcome,
		AgentID: "agent-1",
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].TaskID != "task-11" {
		t.Fatalf("expected the decision outcome under agent-1, got %+v", outcomes)
	}

	if other, _ := f.store.Query(context.Background(), memory.Query{
		Type:    memory.TypeTaskExecution,
		AgentID: "agent-2",
		Limit:   10,
	}); len(other) != 0 {
		t.Fatalf("agent-2 must not see agent-1 traces, got %+v", other)
	}
}

func TestCompleteApprovalKeepsAgentAttribution(t *testing.T) {
	f := newFixture(t, nil, 10)
	f.completer.verdict = &decision.Verdict{
		Action:     decision.ActionRequestApproval,
		Confidence: 0.6,
		Reasoning:  "needs review",
		RiskLevel:  decision.RiskHigh,
	}

	queued, err := f.guard.Run(context.Background(), "agent-1", task("task-12"), noopExecutor(t))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if _, err := f.approvals.Respond(context.Background(), approval.Response{
		RequestID:   queued.RequestID,
		Decision:    approval.StatusApproved,
		RespondedBy: "alice",
	}); err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if _, err := f.guard.CompleteApproval(context.Background(), queued.RequestID, noopExecutor(t)); err != nil {
		t.Fatalf("CompleteApproval error: %v", err)
	}

	traces, err := f.store.Query(context.Background(), memory.Query{
		Type:    memory.TypeTaskExecution,
		AgentID: "agent-1",
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(traces) != 1 || traces[0].TaskID != "task-12" {
		t.Fatalf("expected the post-approval trace under agent-1, got %+v", traces)
	}
}
