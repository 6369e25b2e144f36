package decision

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aegisflow/aegis/internal/fault"
	"github.com/aegisflow/aegis/internal/memory"
	"github.com/aegisflow/aegis/internal/rules"
)

type fakeCompleter struct {
	verdict *Verdict
	err     error
	calls   int
}

func (f *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (*Verdict, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

func newTestEngine(t *testing.T, completer Completer, ruleList []rules.Rule) (*Engine, memory.Store) {
	t.Helper()
	store, err := memory.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	set, err := rules.NewSet(ruleList)
	if err != nil {
		t.Fatalf("NewSet error: %v", err)
	}
	return NewEngine(store, completer, set), store
}

func allowSmallAmountsRule() rules.Rule {
	return rules.Rule{
		ID:   "allow-small",
		Name: "allow small amounts",
		Condition: rules.Condition{All: []rules.Condition{
			{Field: "type", Op: rules.OpEq, Value: "X"},
			{Field: "payload.amount", Op: rules.OpLte, Value: float64(10)},
		}},
		Action:   rules.ActionAllow,
		Priority: 100,
		Enabled:  true,
	}
}

func TestEvaluateRuleFastPath(t *testing.T) {
	completer := &fakeCompleter{}
	engine, _ := newTestEngine(t, completer, []rules.Rule{allowSmallAmountsRule()})

	result, err := engine.Evaluate(context.Background(), Context{Task: Task{
		ID:      "task-1",
		Type:    "X",
		Payload: map[string]any{"amount": float64(5)},
	}})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if result.Action != ActionExecute {
		t.Fatalf("expected execute, got %s", result.Action)
	}
	if result.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0, got %f", result.Confidence)
	}
	if result.RequiresApproval {
		t.Fatal("fast-path allow must not require approval")
	}
	if completer.calls != 0 {
		t.Fatalf("model provider must not be invoked on the fast path, got %d calls", completer.calls)
	}
}

func TestEvaluateHighestPriorityRuleWins(t *testing.T) {
	deny := rules.Rule{
		ID:        "deny-x",
		Name:      "deny type X",
		Condition: rules.Condition{Field: "type", Op: rules.OpEq, Value: "X"},
		Action:    rules.ActionDeny,
		Priority:  200,
		Enabled:   true,
	}
	engine, _ := newTestEngine(t, &fakeCompleter{}, []rules.Rule{allowSmallAmountsRule(), deny})

	result, err := engine.Evaluate(context.Background(), Context{Task: Task{
		ID:      "task-2",
		Type:    "X",
		Payload: map[string]any{"amount": float64(5)},
	}})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if result.Action != ActionReject {
		t.Fatalf("expected the higher-priority deny to win, got %s", result.Action)
	}
}

func TestEvaluateModelPathThresholdGate(t *testing.T) {
	completer := &fakeCompleter{verdict: &Verdict{
		Action:     ActionRequestApproval,
		Confidence: 0.65,
		Reasoning:  "unfamiliar recipient list",
		RiskLevel:  RiskHigh,
	}}
	engine, _ := newTestEngine(t, completer, nil)

	result, err := engine.Evaluate(context.Background(), Context{Task: Task{
		ID:   "task-3",
		Type: "send_email",
	}})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !result.RequiresApproval {
		t.Fatal("expected approval required: requested by model and risk is high")
	}
	if completer.calls != 1 {
		t.Fatalf("expected one model call, got %d", completer.calls)
	}
}

func TestCriticalAlwaysRequiresApproval(t *testing.T) {
	completer := &fakeCompleter{verdict: &Verdict{
		Action:     ActionExecute,
		Confidence: 1.0,
		Reasoning:  "routine but irreversible",
		RiskLevel:  RiskCritical,
	}}
	engine, _ := newTestEngine(t, completer, nil)

	result, err := engine.Evaluate(context.Background(), Context{Task: Task{ID: "task-4", Type: "wire_funds"}})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !result.RequiresApproval {
		t.Fatal("critical risk must always require approval, even at confidence 1.0")
	}
}

func TestLowRiskConfidentExecutes(t *testing.T) {
	completer := &fakeCompleter{verdict: &Verdict{
		Action:     ActionExecute,
		Confidence: 0.85,
		Reasoning:  "seen many times before",
		RiskLevel:  RiskLow,
	}}
	engine, _ := newTestEngine(t, completer, nil)

	result, err := engine.Evaluate(context.Background(), Context{Task: Task{ID: "task-5", Type: "post_update"}})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if result.RequiresApproval {
		t.Fatal("confident low-risk execute must not require approval")
	}
}

func TestProviderFailurePropagates(t *testing.T) {
	completer := &fakeCompleter{err: fault.Integration("provider.complete", errors.New("upstream 500")).WithStage(StageProvider)}
	engine, _ := newTestEngine(t, completer, nil)

	_, err := engine.Evaluate(context.Background(), Context{Task: Task{ID: "task-6", Type: "anything"}})
	if err == nil {
		t.Fatal("expected provider failure to propagate, not decay into a verdict")
	}
	if !fault.IsIntegration(err) {
		t.Fatalf("expected integration fault, got %v", err)
	}
}

func TestEvaluateRecordsDecisionOutcome(t *testing.T) {
	completer := &fakeCompleter{verdict: &Verdict{
		Action:     ActionRequestApproval,
		Confidence: 0.4,
		Reasoning:  "never seen this task type",
		RiskLevel:  RiskCritical,
	}}
	engine, store := newTestEngine(t, completer, nil)

	if _, err := engine.Evaluate(context.Background(), Context{Task: Task{ID: "task-7", Type: "drop_tables"}}); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}

	entries, err := store.Query(context.Background(), memory.Query{
		Type:   memory.TypeDecisionOutcome,
		TaskID: "task-7",
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 recorded outcome, got %d", len(entries))
	}
	// critical (+0.5) and low confidence (+0.2) on the 0.5 baseline, capped.
	if entries[0].Importance != 1.0 {
		t.Fatalf("expected importance capped at 1.0, got %f", entries[0].Importance)
	}
	if entries[0].Content["risk_level"] != "critical" {
		t.Fatalf("unexpected recorded risk: %v", entries[0].Content["risk_level"])
	}
}

func TestGetConfidenceThresholdDefaults(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeCompleter{}, nil)

	cases := map[RiskLevel]float64{
		RiskLow:      0.70,
		RiskMedium:   0.80,
		RiskHigh:     0.90,
		RiskCritical: 1.00,
	}
	for risk, want := range cases {
		if got := engine.GetConfidenceThreshold(risk); got != want {
			t.Errorf("threshold for %s: got %f, want %f", risk, got, want)
		}
	}
	if got := engine.GetConfidenceThreshold("unknown"); got != 1.0 {
		t.Errorf("unknown risk must use the tightest gate, got %f", got)
	}
}
