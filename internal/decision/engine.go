package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/aegisflow/aegis/internal/audit"
	"github.com/aegisflow/aegis/internal/fault"
	"github.com/aegisflow/aegis/internal/memory"
	"github.com/aegisflow/aegis/internal/metrics"
	"github.com/aegisflow/aegis/internal/rules"
)

// DefaultThresholds are the per-risk confidence gates. Critical always
// requires approval.
func DefaultThresholds() map[RiskLevel]float64 {
	return map[RiskLevel]float64{
		RiskLow:      0.70,
		RiskMedium:   0.80,
		RiskHigh:     0.90,
		RiskCritical: 1.00,
	}
}

const defaultHistoryLimit = 10

// Engine produces verdicts for proposed tasks. Safe for concurrent use:
// evaluation never mutates shared rule state.
type Engine struct {
	store     memory.Store
	completer Completer
	rules     *rules.Set
	strategy  ThresholdStrategy

	auditWriter   *audit.Writer
	runtimeMetric *metrics.RuntimeMetrics
	historyLimit  int
	now           func() time.Time

	mu         sync.RWMutex
	thresholds map[RiskLevel]float64
}

// NewEngine creates an engine with default thresholds and strategy.
func NewEngine(store memory.Store, completer Completer, ruleSet *rules.Set) *Engine {
	return &Engine{
		store:        store,
		completer:    completer,
		rules:        ruleSet,
		strategy:     NewStepStrategy(),
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
		thresholds:   DefaultThresholds(),
	}
}

// SetThresholds replaces the confidence thresholds (values clamped to [0,1]).
func (e *Engine) SetThresholds(thresholds map[RiskLevel]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for risk, value := range thresholds {
		if !knownRiskLevels[risk] {
			continue
		}
		e.thresholds[risk] = clamp01(value)
	}
}

// SetStrategy replaces the feedback adjustment strategy.
func (e *Engine) SetStrategy(strategy ThresholdStrategy) {
	if strategy != nil {
		e.strategy = strategy
	}
}

// SetAuditWriter attaches the audit trail.
func (e *Engine) SetAuditWriter(w *audit.Writer) { e.auditWriter = w }

// SetRuntimeMetrics attaches an evaluation metrics recorder.
func (e *Engine) SetRuntimeMetrics(m *metrics.RuntimeMetrics) { e.runtimeMetric = m }

// SetHistoryLimit bounds the history fetched on the model path.
func (e *Engine) SetHistoryLimit(n int) {
	if n > 0 {
		e.historyLimit = n
	}
}

// Rules exposes the mutable rule set.
func (e *Engine) Rules() *rules.Set { return e.rules }

// GetConfidenceThreshold returns the configured threshold for a risk level.
func (e *Engine) GetConfidenceThreshold(risk RiskLevel) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.thresholds[risk]; ok {
		return v
	}
	// Unknown risk is treated as the tightest gate.
	return 1.0
}

// Evaluate produces a verdict for the task in evalCtx.
//
// Rules are the cheap, auditable override mechanism and always take
// precedence over model judgment; the model is consulted only when no
// rule matches, and a provider failure propagates rather than decaying
// into a default verdict.
func (e *Engine) Evaluate(ctx context.Context, evalCtx Context) (*Result, error) {
	doc := matchDocument(evalCtx.Task)

	if rule, ok := e.rules.Match(doc); ok {
		result := fastPathResult(rule)
		e.recordEvaluation(true, false, false)
		e.recordOutcome(ctx, evalCtx, result, rule.ID)
		return result, nil
	}

	history := evalCtx.History
	if history == nil && e.store != nil {
		taskCtx, err := e.store.GetTaskContext(ctx, evalCtx.Task.ID, evalCtx.Task.Type)
		if err != nil {
			e.recordEvaluation(false, false, true)
			return nil, err
		}
		history = boundHistory(taskCtx, e.historyLimit)
	}

	promptCtx := evalCtx
	promptCtx.History = history
	if promptCtx.Rules == nil {
		promptCtx.Rules = ruleDescriptions(e.rules)
	}

	if e.completer == nil {
		e.recordEvaluation(false, false, true)
		return nil, fault.Integration("decision.evaluate",
			errors.New("no rule matched and no model is configured")).
			WithTask(evalCtx.Task.ID).WithStage(StageProvider)
	}

	verdict, err := e.completer.Complete(ctx, CompletionRequest{
		System: systemPrompt,
		Prompt: buildPrompt(promptCtx),
	})
	if err != nil {
		e.recordEvaluation(false, true, true)
		return nil, err
	}

	threshold := e.GetConfidenceThreshold(verdict.RiskLevel)
	result := &Result{
		Action:          verdict.Action,
		Confidence:      verdict.Confidence,
		Reasoning:       verdict.Reasoning,
		RiskLevel:       verdict.RiskLevel,
		EstimatedImpact: verdict.EstimatedImpact,
		Alternatives:    verdict.Alternatives,
		RequiresApproval: verdict.Confidence < threshold ||
			verdict.RiskLevel == RiskHigh ||
			verdict.RiskLevel == RiskCritical ||
			verdict.Action == ActionRequestApproval,
	}

	e.recordEvaluation(false, true, false)
	e.recordOutcome(ctx, evalCtx, result, "")
	return result, nil
}

// AddRule inserts a rule into the active set.
func (e *Engine) AddRule(ctx context.Context, rule rules.Rule) error {
	if err := e.rules.Add(rule); err != nil {
		return err
	}
	e.appendAudit(audit.Event{
		Type:   "rule_added",
		RuleID: rule.ID,
		Result: string(rule.Action),
	})
	return nil
}

// UpdateRule patches an existing rule.
func (e *Engine) UpdateRule(ctx context.Context, id string, patch rules.Patch) (rules.Rule, error) {
	updated, err := e.rules.Update(id, patch)
	if err != nil {
		return rules.Rule{}, err
	}
	e.appendAudit(audit.Event{
		Type:   "rule_updated",
		RuleID: id,
		Result: string(updated.Action),
	})
	return updated, nil
}

// fastPathResult maps a matched rule to a deterministic verdict.
func fastPathResult(rule *rules.Rule) *Result {
	reasoning := fmt.Sprintf("matched rule %q (%s)", rule.Name, rule.ID)
	switch rule.Action {
	case rules.ActionDeny:
		return &Result{
			Action:     ActionReject,
			Confidence: 1.0,
			Reasoning:  reasoning,
			RiskLevel:  RiskHigh,
		}
	case rules.ActionRequireApproval:
		return &Result{
			Action:           ActionRequestApproval,
			Confidence:       1.0,
			Reasoning:        reasoning,
			RiskLevel:        RiskMedium,
			RequiresApproval: true,
		}
	default:
		return &Result{
			Action:     ActionExecute,
			Confidence: 1.0,
			Reasoning:  reasoning,
			RiskLevel:  RiskLow,
		}
	}
}

// recordOutcome persists the verdict as a decision_outcome memory
// entry. Best-effort: the verdict already exists, so a trace failure is
// logged rather than surfaced.
func (e *Engine) recordOutcome(ctx context.Context, evalCtx Context, result *Result, ruleID string) {
	if e.store == nil {
		return
	}
	task := evalCtx.Task

	content := map[string]any{
		"action":            string(result.Action),
		"confidence":        result.Confidence,
		"reasoning":         result.Reasoning,
		"risk_level":        string(result.RiskLevel),
		"requires_approval": result.RequiresApproval,
		"task_type":         task.Type,
	}
	if ruleID != "" {
		content["rule_id"] = ruleID
	}

	entry := memory.Entry{
		Type:       memory.TypeDecisionOutcome,
		Content:    content,
		AgentID:    evalCtx.AgentID,
		TaskID:     task.ID,
		Tags:       []string{task.ID, task.Type},
		Importance: outcomeImportance(result),
	}
	if _, err := e.store.Store(ctx, entry); err != nil {
		slog.Warn("record decision outcome failed", "task_id", task.ID, "error", err)
	}

	e.appendAudit(audit.Event{
		Type:      "decision",
		TaskID:    task.ID,
		RuleID:    ruleID,
		AgentID:   evalCtx.AgentID,
		RiskLevel: string(result.RiskLevel),
		Result:    string(result.Action),
	})
}

// outcomeImportance boosts retention for risky or uncertain decisions.
func outcomeImportance(result *Result) float64 {
	importance := 0.5
	switch result.RiskLevel {
	case RiskHigh:
		importance += 0.3
	case RiskCritical:
		importance += 0.5
	}
	if result.Confidence < 0.6 {
		importance += 0.2
	}
	return math.Min(importance, 1.0)
}

// matchDocument flattens the task into the shape rule conditions
// address ("type", "payload.amount", "requested_by").
func matchDocument(task Task) map[string]any {
	return map[string]any{
		"id":           task.ID,
		"type":         task.Type,
		"payload":      task.Payload,
		"requested_by": task.RequestedBy,
	}
}

// boundHistory flattens a task context into at most limit entries,
// related memories first.
func boundHistory(taskCtx *memory.TaskContext, limit int) []memory.Entry {
	out := make([]memory.Entry, 0, limit)
	for _, group := range [][]memory.Entry{
		taskCtx.RelatedMemories,
		taskCtx.PreviousSimilarTasks,
		taskCtx.ApplicablePatterns,
	} {
		for _, entry := range group {
			if len(out) >= limit {
				return out
			}
			out = append(out, entry)
		}
	}
	return out
}

func (e *Engine) recordEvaluation(ruleHit, modelCalled, failed bool) {
	if e.runtimeMetric == nil {
		return
	}
	if _, err := e.runtimeMetric.RecordEvaluation(ruleHit, modelCalled, failed); err != nil {
		slog.Warn("record evaluation metrics failed", "error", err)
	}
}

func (e *Engine) appendAudit(event audit.Event) {
	if e.auditWriter == nil {
		return
	}
	event.Time = e.now().UTC()
	if err := e.auditWriter.Append(event); err != nil {
		slog.Warn("append audit event failed", "type", event.Type, "error", err)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
