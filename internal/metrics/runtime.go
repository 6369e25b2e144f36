package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const runtimeMetricsFileName = "runtime_metrics.json"

// RuntimeSnapshot contains aggregated runtime metrics for evaluations and channel sends.
type RuntimeSnapshot struct {
	UpdatedAt  time.Time       `json:"updated_at"`
	Evaluation EvaluationStats `json:"evaluation"`
	Channel    ChannelStats    `json:"channel"`
}

// EvaluationStats tracks decision engine metrics.
type EvaluationStats struct {
	Total      int64 `json:"total"`
	RuleHits   int64 `json:"rule_hits"`
	ModelCalls int64 `json:"model_calls"`
	Errors     int64 `json:"errors"`
}

// RuleHitRatio returns rule fast-path hits over total in [0,1].
func (e EvaluationStats) RuleHitRatio() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.RuleHits) / float64(e.Total)
}

// ErrorRatio returns errors/total in [0,1].
func (e EvaluationStats) ErrorRatio() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.Errors) / float64(e.Total)
}

// ChannelStats tracks outbound notification metrics.
type ChannelStats struct {
	SendAttempts int64 `json:"send_attempts"`
	SendFailures int64 `json:"send_failures"`
}

// FailureRatio returns failures/attempts in [0,1].
func (c ChannelStats) FailureRatio() float64 {
	if c.SendAttempts <= 0 {
		return 0
	}
	return float64(c.SendFailures) / float64(c.SendAttempts)
}

// HasData reports whether any runtime metrics were recorded.
func (s RuntimeSnapshot) HasData() bool {
	return s.Evaluation.Total > 0 || s.Channel.SendAttempts > 0
}

// RuntimeMetrics records and persists runtime metrics.
type RuntimeMetrics struct {
	path string

	mu   sync.Mutex
	snap RuntimeSnapshot
}

// NewRuntimeMetrics creates a metrics recorder rooted at <workspace>/state/runtime_metrics.json.
func NewRuntimeMetrics(workspacePath string) *RuntimeMetrics {
	return &RuntimeMetrics{
		path: filepath.Join(workspacePath, "state", runtimeMetricsFileName),
	}
}

// Snapshot returns the latest in-memory snapshot.
func (m *RuntimeMetrics) Snapshot() RuntimeSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// RecordEvaluation records one evaluate call.
func (m *RuntimeMetrics) RecordEvaluation(ruleHit, modelCalled, failed bool) (RuntimeSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap.Evaluation.Total++
	if ruleHit {
		m.snap.Evaluation.RuleHits++
	}
	if modelCalled {
		m.snap.Evaluation.ModelCalls++
	}
	if failed {
		m.snap.Evaluation.Errors++
	}
	return m.persistLocked()
}

// RecordChannelSend records one notification delivery attempt.
func (m *RuntimeMetrics) RecordChannelSend(success bool) (RuntimeSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap.Channel.SendAttempts++
	if !success {
		m.snap.Channel.SendFailures++
	}
	return m.persistLocked()
}

// Load reads a previously persisted snapshot, if any.
func (m *RuntimeMetrics) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read runtime metrics: %w", err)
	}
	var snap RuntimeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse runtime metrics: %w", err)
	}
	m.snap = snap
	return nil
}

func (m *RuntimeMetrics) persistLocked() (RuntimeSnapshot, error) {
	m.snap.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return m.snap, fmt.Errorf("create metrics dir: %w", err)
	}
	data, err := json.MarshalIndent(m.snap, "", "  ")
	if err != nil {
		return m.snap, fmt.Errorf("marshal runtime metrics: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return m.snap, fmt.Errorf("write runtime metrics: %w", err)
	}
	return m.snap, nil
}
