package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aegisflow/aegis/internal/fault"
)

// Provider failure stages, attached to integration faults so callers
// can pick a retry strategy without parsing messages.
const (
	StageTimeout   = "timeout"
	StageProvider  = "provider"
	StageMalformed = "malformed_output"
)

// CompletionRequest is one structured-output completion call.
type CompletionRequest struct {
	System string
	Prompt string
}

// Completer is the language-model provider contract: one "complete with
// structured output" operation returning either a parsed verdict or a
// typed failure.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Verdict, error)
}

// Verdict is the strictly-shaped model output. A completion that does
// not satisfy this schema is an integration failure, never coerced into
// a best-guess decision.
type Verdict struct {
	Action          Action          `json:"action"`
	Confidence      float64         `json:"confidence"`
	Reasoning       string          `json:"reasoning"`
	RiskLevel       RiskLevel       `json:"risk_level"`
	EstimatedImpact EstimatedImpact `json:"estimated_impact"`
	Alternatives    []Alternative   `json:"alternatives,omitempty"`
}

// ParseVerdict is the strict schema validation boundary between
// free-text completions and decisions.
func ParseVerdict(raw []byte) (*Verdict, error) {
	raw = stripFence(raw)

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	var v Verdict
	if err := decoder.Decode(&v); err != nil {
		return nil, malformed(fmt.Sprintf("not valid verdict JSON: %v", err))
	}
	if !knownActions[v.Action] {
		return nil, malformed(fmt.Sprintf("unknown action %q", v.Action))
	}
	if !knownRiskLevels[v.RiskLevel] {
		return nil, malformed(fmt.Sprintf("unknown risk level %q", v.RiskLevel))
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, malformed(fmt.Sprintf("confidence %f outside [0,1]", v.Confidence))
	}
	if strings.TrimSpace(v.Reasoning) == "" {
		return nil, malformed("missing reasoning")
	}
	return &v, nil
}

func malformed(msg string) error {
	return fault.Integration("provider.parse", fmt.Errorf("%s", msg)).WithStage(StageMalformed)
}

// stripFence tolerates a markdown code fence around the JSON object,
// which chat models emit despite instructions.
func stripFence(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	trimmed = bytes.TrimPrefix(trimmed, []byte("```json"))
	trimmed = bytes.TrimPrefix(trimmed, []byte("```"))
	if idx := bytes.LastIndex(trimmed, []byte("```")); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return bytes.TrimSpace(trimmed)
}
