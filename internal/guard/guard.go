// Package guard is the execution wrapper around the safety core: every
// agent task passes through quota, evaluation, and the branch to
// execute, enqueue for approval, or reject. The guard sequences the
// components; it never performs the side effect itself — that stays in
// the caller's executor.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegisflow/aegis/internal/approval"
	"github.com/aegisflow/aegis/internal/decision"
	"github.com/aegisflow/aegis/internal/fault"
	"github.com/aegisflow/aegis/internal/memory"
	"github.com/aegisflow/aegis/internal/reqid"
)

// RunStatus is the terminal state of one guarded run.
type RunStatus string

const (
	StatusExecuted         RunStatus = "executed"
	StatusAwaitingApproval RunStatus = "awaiting_approval"
	StatusRejected         RunStatus = "rejected"
)

// Executor performs the actual side effect of an approved task.
type Executor func(ctx context.Context, task decision.Task) (any, error)

// RunResult reports what the guard did with a task.
type RunResult struct {
	Status    RunStatus        `json:"status"`
	Output    any              `json:"output,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
	Decision  *decision.Result `json:"decision"`
}

// QuotaCounter is the per-agent daily ceiling.
type QuotaCounter interface {
	Increment(ctx context.Context, agentID string, limit int) (int, error)
}

// Guard wires the decision engine, approval queue, memory store, and
// quota counter into the run sequence.
type Guard struct {
	engine    *decision.Engine
	approvals *approval.Service
	store     memory.Store
	quota     QuotaCounter
	dailyMax  int
	now       func() time.Time
}

// New creates a guard. quota may be nil to disable the ceiling.
func New(engine *decision.Engine, approvals *approval.Service, store memory.Store, quota QuotaCounter, dailyMax int) *Guard {
	return &Guard{
		engine:    engine,
		approvals: approvals,
		store:     store,
		quota:     quota,
		dailyMax:  dailyMax,
		now:       time.Now,
	}
}

// Run takes a task through quota check and evaluation, then branches on
// the verdict. The executor runs only when the engine cleared the task.
func (g *Guard) Run(ctx context.Context, agentID string, task decision.Task, executor Executor) (*RunResult, error) {
	if task.ID == "" {
		return nil, fault.Validation("guard.run", "task id is required")
	}
	if executor == nil {
		return nil, fault.Validation("guard.run", "executor is required").WithTask(task.ID)
	}

	rid := reqid.FromContext(ctx)
	if rid == "" {
		rid = reqid.New()
		ctx = reqid.With(ctx, rid)
	}
	slog.Debug("guarding task", "request_id", rid, "task_id", task.ID, "agent_id", agentID)

	if g.quota != nil {
		if _, err := g.quota.Increment(ctx, agentID, g.dailyMax); err != nil {
			return nil, err
		}
	}

	result, err := g.engine.Evaluate(ctx, decision.Context{Task: task, AgentID: agentID})
	if err != nil {
		return nil, err
	}

	switch {
	case result.RequiresApproval:
		return g.enqueue(ctx, agentID, task, result)
	case result.Action == decision.ActionReject:
		g.recordExecution(ctx, agentID, task, "rejected", nil)
		return &RunResult{Status: StatusRejected, Decision: result},
			fault.Validation("guard.run",
				fmt.Sprintf("task rejected: %s", result.Reasoning)).WithTask(task.ID)
	default:
		output, execErr := executor(ctx, task)
		g.recordExecution(ctx, agentID, task, outcomeLabel(execErr), execErr)
		if execErr != nil {
			return nil, fault.Integration("guard.execute", execErr).WithTask(task.ID)
		}
		return &RunResult{Status: StatusExecuted, Output: output, Decision: result}, nil
	}
}

// enqueue persists the pending task alongside the approval request so
// CompleteApproval can reconstruct and run it later.
func (g *Guard) enqueue(ctx context.Context, agentID string, task decision.Task, result *decision.Result) (*RunResult, error) {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return nil, fault.Integration("guard.enqueue", err).WithTask(task.ID)
	}

	req, err := g.approvals.RequestApproval(ctx, approval.CreateInput{
		TaskID:          task.ID,
		TaskType:        task.Type,
		Description:     fmt.Sprintf("%s task from %s", task.Type, task.RequestedBy),
		Reasoning:       result.Reasoning,
		RiskLevel:       result.RiskLevel,
		EstimatedImpact: result.EstimatedImpact,
		Alternatives:    result.Alternatives,
	})
	if err != nil {
		return nil, err
	}

	_, err = g.store.Store(ctx, memory.Entry{
		Type:       memory.TypeSystemState,
		AgentID:    agentID,
		TaskID:     task.ID,
		Tags:       []string{req.ID, "pending_task"},
		Importance: 0.7,
		Content:    map[string]any{"request_id": req.ID, "task": string(taskJSON)},
	})
	if err != nil {
		// The approval is already durable; losing the stashed task only
		// breaks CompleteApproval, so surface it.
		return nil, err
	}
	return &RunResult{Status: StatusAwaitingApproval, RequestID: req.ID, Decision: result}, nil
}

// CompleteApproval finishes a task whose approval request has been
// decided: it feeds the human outcome back to the engine and, on
// approve or modify, runs the executor. A modification payload replaces
// the task payload.
func (g *Guard) CompleteApproval(ctx context.Context, requestID string, executor Executor) (*RunResult, error) {
	req, err := g.approvals.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var outcome decision.Outcome
	switch req.Status {
	case approval.StatusApproved:
		outcome = decision.OutcomeApproved
	case approval.StatusRejected:
		outcome = decision.OutcomeRejected
	case approval.StatusModified:
		outcome = decision.OutcomeModified
	case approval.StatusPending:
		return nil, fault.Validation("guard.complete", "request is still pending").WithRequest(requestID)
	default:
		return nil, fault.Validation("guard.complete",
			fmt.Sprintf("request is %s and cannot be completed", req.Status)).WithRequest(requestID)
	}

	if err := g.engine.LearnFromFeedback(ctx, req.TaskID, decision.ActionRequestApproval, outcome, req.Feedback); err != nil {
		slog.Warn("feedback learning failed", "task_id", req.TaskID, "error", err)
	}

	if outcome == decision.OutcomeRejected {
		return &RunResult{Status: StatusRejected, RequestID: requestID}, nil
	}

	if executor == nil {
		return nil, fault.Validation("guard.complete", "executor is required").WithRequest(requestID)
	}
	task, agentID, err := g.loadPendingTask(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if outcome == decision.OutcomeModified && req.Modification != nil {
		task.Payload = req.Modification
	}

	output, execErr := executor(ctx, *task)
	g.recordExecution(ctx, agentID, *task, outcomeLabel(execErr), execErr)
	if execErr != nil {
		return nil, fault.Integration("guard.execute", execErr).WithTask(task.ID).WithRequest(requestID)
	}
	return &RunResult{Status: StatusExecuted, Output: output, RequestID: requestID}, nil
}

func (g *Guard) loadPendingTask(ctx context.Context, requestID string) (*decision.Task, string, error) {
	entries, err := g.store.Query(ctx, memory.Query{
		Type:  memory.TypeSystemState,
		Tags:  []string{requestID},
		Limit: 1,
	})
	if err != nil {
		return nil, "", err
	}
	if len(entries) == 0 {
		return nil, "", fault.NotFound("guard.complete",
			fmt.Sprintf("no stashed task for request %s", requestID)).WithRequest(requestID)
	}
	raw, _ := entries[0].Content["task"].(string)
	var task decision.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, "", fault.Integration("guard.complete", err).WithRequest(requestID)
	}
	return &task, entries[0].AgentID, nil
}

// recordExecution stores the task_execution trace. Failures are logged,
// never fatal: the execution already happened.
func (g *Guard) recordExecution(ctx context.Context, agentID string, task decision.Task, outcome string, execErr error) {
	content := map[string]any{
		"task_type": task.Type,
		"outcome":   outcome,
	}
	if execErr != nil {
		content["error"] = execErr.Error()
	}
	importance := 0.5
	if execErr != nil {
		importance = 0.8
	}
	_, err := g.store.Store(ctx, memory.Entry{
		Type:       memory.TypeTaskExecution,
		AgentID:    agentID,
		TaskID:     task.ID,
		Tags:       []string{task.Type, outcome},
		Importance: importance,
		Content:    content,
	})
	if err != nil {
		slog.Warn("record task execution failed", "task_id", task.ID, "error", err)
	}
}

func outcomeLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
