package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aegisflow/aegis/internal/memory"
	"github.com/aegisflow/aegis/internal/rules"
)

const systemPrompt = `You are a safety reviewer for autonomous agent actions.
Given a proposed task, historical outcomes, and the active policy rules,
decide whether the task should be executed autonomously, sent to a human
for approval, or rejected.

Respond with a single JSON object and nothing else:
{
  "action": "execute" | "request_approval" | "reject",
  "confidence": <number between 0 and 1>,
  "reasoning": "<why>",
  "risk_level": "low" | "medium" | "high" | "critical",
  "estimated_impact": {"monetary": <number or omit>, "reputational": "<text>", "description": "<text>"},
  "alternatives": [{"action": "<text>", "reasoning": "<text>"}]
}`

// buildPrompt assembles the model input from the evaluation context.
func buildPrompt(evalCtx Context) string {
	var b strings.Builder

	b.WriteString("## Proposed task\n")
	taskJSON, err := json.MarshalIndent(evalCtx.Task, "", "  ")
	if err != nil {
		fmt.Fprintf(&b, "id=%s type=%s (payload not serializable)\n", evalCtx.Task.ID, evalCtx.Task.Type)
	} else {
		b.Write(taskJSON)
		b.WriteString("\n")
	}

	if len(evalCtx.Capabilities) > 0 {
		b.WriteString("\n## Agent capabilities\n")
		b.WriteString(strings.Join(evalCtx.Capabilities, ", "))
		b.WriteString("\n")
	}

	if len(evalCtx.History) > 0 {
		b.WriteString("\n## Relevant history (newest first)\n")
		for _, entry := range evalCtx.History {
			b.WriteString(formatHistoryEntry(entry))
		}
	}

	if len(evalCtx.Rules) > 0 {
		b.WriteString("\n## Active policy rules (none matched this task)\n")
		for _, r := range evalCtx.Rules {
			fmt.Fprintf(&b, "- [%s] %s -> %s (priority %d)\n", r.ID, r.Name, r.Action, r.Priority)
		}
	}

	b.WriteString("\nDecide now. JSON only.")
	return b.String()
}

func formatHistoryEntry(entry memory.Entry) string {
	content := ""
	if len(entry.Content) > 0 {
		if data, err := json.Marshal(entry.Content); err == nil {
			content = string(data)
			if len(content) > 400 {
				content = content[:400] + "…"
			}
		}
	}
	return fmt.Sprintf("- %s %s importance=%.2f %s\n",
		entry.CreatedAt.Format("2006-01-02 15:04"), entry.Type, entry.Importance, content)
}

// ruleDescriptions returns the enabled rules for prompt context.
func ruleDescriptions(set *rules.Set) []rules.Rule {
	if set == nil {
		return nil
	}
	return set.Active()
}
