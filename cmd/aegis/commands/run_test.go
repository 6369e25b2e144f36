package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/decision"
	"github.com/aegisflow/aegis/internal/memory"
	"github.com/aegisflow/aegis/internal/rules"
)

func writeTaskFile(t *testing.T, task decision.Task) string {
	t.Helper()
	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	path := filepath.Join(t.TempDir(), "task.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write task file: %v", err)
	}
	return path
}

func seedRules(t *testing.T, list []rules.Rule) {
	t.Helper()
	if err := rules.SaveFile(rulesPath(), list); err != nil {
		t.Fatalf("SaveFile error: %v", err)
	}
}

func execRoot(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	return root.Execute()
}

func executionTraces(t *testing.T, taskID string) []memory.Entry {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load error: %v", err)
	}
	store, err := memory.NewSQLiteStore(context.Background(), cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer store.Close()
	entries, err := store.Query(context.Background(), memory.Query{
		Type:   memory.TypeTaskExecution,
		TaskID: taskID,
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	return entries
}

func TestRunExecutesAllowedTask(t *testing.T) {
	useTempWorkspace(t)
	seedRules(t, []rules.Rule{{
		ID:        "allow-reports",
		Name:      "allow reports",
		Condition: rules.Condition{Field: "type", Op: rules.OpEq, Value: "report"},
		Action:    rules.ActionAllow,
		Priority:  10,
		Enabled:   true,
	}})

	taskFile := writeTaskFile(t, decision.Task{
		ID:          "t-run-1",
		Type:        "report",
		Payload:     map[string]any{"format": "daily"},
		RequestedBy: "agent-7",
	})

	if err := execRoot(t, "run", "--file", taskFile, "--agent", "agent-7"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	traces := executionTraces(t, "t-run-1")
	if len(traces) != 1 {
		t.Fatalf("expected 1 execution trace, got %d", len(traces))
	}
	if traces[0].Content["outcome"] != "succeeded" {
		t.Fatalf("unexpected trace content: %+v", traces[0].Content)
	}
}

func TestRunThroughApprovalCycle(t *testing.T) {
	useTempWorkspace(t)
	seedRules(t, []rules.Rule{{
		ID:        "gate-deploys",
		Name:      "deploys need a human",
		Condition: rules.Condition{Field: "type", Op: rules.OpEq, Value: "deploy"},
		Action:    rules.ActionRequireApproval,
		Priority:  10,
		Enabled:   true,
	}})

	taskFile := writeTaskFile(t, decision.Task{
		ID:          "t-deploy-1",
		Type:        "deploy",
		Payload:     map[string]any{"service": "api"},
		RequestedBy: "agent-7",
	})

	if err := execRoot(t, "run", "--file", taskFile); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if traces := executionTraces(t, "t-deploy-1"); len(traces) != 0 {
		t.Fatalf("task must not execute before approval, got %d traces", len(traces))
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load error: %v", err)
	}
	svc, store, err := loadApprovalService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("loadApprovalService error: %v", err)
	}
	pending, err := svc.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending error: %v", err)
	}
	if len(pending) != 1 || pending[0].TaskID != "t-deploy-1" {
		t.Fatalf("expected one pending request for t-deploy-1, got %+v", pending)
	}
	reqID := pending[0].ID
	store.Close()

	if err := execRoot(t, "approval", "approve", reqID, "--by", "bob", "--feedback", "ship it"); err != nil {
		t.Fatalf("approval approve failed: %v", err)
	}
	if err := execRoot(t, "approval", "complete", reqID); err != nil {
		t.Fatalf("approval complete failed: %v", err)
	}

	traces := executionTraces(t, "t-deploy-1")
	if len(traces) != 1 {
		t.Fatalf("expected 1 execution trace after completion, got %d", len(traces))
	}
	if traces[0].Content["outcome"] != "succeeded" {
		t.Fatalf("unexpected trace content: %+v", traces[0].Content)
	}
}

func TestRunRejectsDeniedTask(t *testing.T) {
	useTempWorkspace(t)
	seedRules(t, []rules.Rule{{
		ID:        "deny-deletes",
		Name:      "never delete",
		Condition: rules.Condition{Field: "type", Op: rules.OpEq, Value: "delete"},
		Action:    rules.ActionDeny,
		Priority:  10,
		Enabled:   true,
	}})

	taskFile := writeTaskFile(t, decision.Task{
		ID:      "t-del-1",
		Type:    "delete",
		Payload: map[string]any{"path": "/tmp/x"},
	})

	if err := execRoot(t, "run", "--file", taskFile); err != nil {
		t.Fatalf("run should report a denial, not fail: %v", err)
	}
	traces := executionTraces(t, "t-del-1")
	if len(traces) != 1 || traces[0].Content["outcome"] != "rejected" {
		t.Fatalf("expected a rejected trace, got %+v", traces)
	}
}
