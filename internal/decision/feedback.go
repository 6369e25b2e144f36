package decision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aegisflow/aegis/internal/audit"
	"github.com/aegisflow/aegis/internal/fault"
	"github.com/aegisflow/aegis/internal/memory"
)

// Outcome is the human resolution of a past decision.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeModified Outcome = "modified"
)

// ThresholdStrategy decides whether human feedback should move a
// confidence threshold. Implementations must keep values within [0,1];
// the engine clamps regardless.
type ThresholdStrategy interface {
	// Adjust returns the new threshold for risk given the current value
	// and the latest outcome, whether it changed, and the evidence for
	// the change.
	Adjust(risk RiskLevel, current float64, outcome Outcome) (float64, bool, string)
}

// LearnFromFeedback stores the human outcome as a memory entry and may
// tighten or loosen the confidence threshold for the decision's risk
// level, within bounds.
func (e *Engine) LearnFromFeedback(ctx context.Context, taskID string, decision Action, outcome Outcome, feedback string) error {
	if strings.TrimSpace(taskID) == "" {
		return fault.Validation("decision.feedback", "task id is required")
	}
	switch outcome {
	case OutcomeApproved, OutcomeRejected, OutcomeModified:
	default:
		return fault.Validation("decision.feedback", fmt.Sprintf("unknown outcome %q", outcome)).WithTask(taskID)
	}

	entry := memory.Entry{
		Type: memory.TypeUserFeedback,
		Content: map[string]any{
			"decision": string(decision),
			"outcome":  string(outcome),
			"feedback": feedback,
		},
		TaskID:     taskID,
		Tags:       []string{taskID, "feedback"},
		Importance: feedbackImportance(outcome),
	}
	if _, err := e.store.Store(ctx, entry); err != nil {
		return err
	}

	risk, ok := e.lookupDecisionRisk(ctx, taskID)
	if !ok {
		return nil
	}

	e.mu.Lock()
	current := e.thresholds[risk]
	next, changed, evidence := e.strategy.Adjust(risk, current, outcome)
	if changed {
		e.thresholds[risk] = clamp01(next)
	}
	e.mu.Unlock()

	if changed {
		e.appendAudit(audit.Event{
			Type:      "threshold_adjusted",
			TaskID:    taskID,
			RiskLevel: string(risk),
			OldValue:  current,
			NewValue:  clamp01(next),
			Evidence:  evidence,
		})
	}
	return nil
}

// lookupDecisionRisk finds the risk level of the latest recorded
// decision for the task.
func (e *Engine) lookupDecisionRisk(ctx context.Context, taskID string) (RiskLevel, bool) {
	entries, err := e.store.Query(ctx, memory.Query{
		Type:   memory.TypeDecisionOutcome,
		TaskID: taskID,
		Limit:  1,
	})
	if err != nil || len(entries) == 0 {
		return "", false
	}
	raw, _ := entries[0].Content["risk_level"].(string)
	risk := RiskLevel(raw)
	if !knownRiskLevels[risk] {
		return "", false
	}
	return risk, true
}

// Rejections mean the engine was too permissive; keep those traces longer.
func feedbackImportance(outcome Outcome) float64 {
	if outcome == OutcomeRejected {
		return 0.8
	}
	return 0.6
}

const (
	defaultStreakLength = 3
	defaultStepSize     = 0.05
)

// StepStrategy is the default bounded adjustment policy: after a streak
// of identical outcomes at a risk level, move that level's threshold by
// one step. Tighten on rejections, loosen on approvals; a modified
// outcome resets the streak. Thresholds never drop below their default
// floor and never exceed 1.0.
type StepStrategy struct {
	Streak int
	Step   float64
	Floors map[RiskLevel]float64

	mu     sync.Mutex
	counts map[RiskLevel]int
	last   map[RiskLevel]Outcome
}

// NewStepStrategy builds the default strategy.
func NewStepStrategy() *StepStrategy {
	return &StepStrategy{
		Streak: defaultStreakLength,
		Step:   defaultStepSize,
		Floors: DefaultThresholds(),
		counts: make(map[RiskLevel]int),
		last:   make(map[RiskLevel]Outcome),
	}
}

// Adjust implements ThresholdStrategy.
func (s *StepStrategy) Adjust(risk RiskLevel, current float64, outcome Outcome) (float64, bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outcome == OutcomeModified {
		s.counts[risk] = 0
		s.last[risk] = outcome
		return current, false, ""
	}

	if s.last[risk] == outcome {
		s.counts[risk]++
	} else {
		s.counts[risk] = 1
		s.last[risk] = outcome
	}
	if s.counts[risk] < s.Streak {
		return current, false, ""
	}

	// Streak complete: move once, then start counting again.
	s.counts[risk] = 0

	var next float64
	switch outcome {
	case OutcomeRejected:
		next = current + s.Step
		if next > 1.0 {
			next = 1.0
		}
	case OutcomeApproved:
		next = current - s.Step
		if floor, ok := s.Floors[risk]; ok && next < floor {
			next = floor
		}
	default:
		return current, false, ""
	}

	if next == current {
		return current, false, ""
	}
	evidence := fmt.Sprintf("%d consecutive %s outcomes at risk %s", s.Streak, outcome, risk)
	return next, true, evidence
}

var _ ThresholdStrategy = (*StepStrategy)(nil)
