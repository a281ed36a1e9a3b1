package llm

import (
	"context"
	"encoding/json"
	"strings"

	"trader-agent/internal/types"
)

// Client is the analysis engine contract: one prompt in, one completion
// out. Callers bound each invocation with a context deadline.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ParseDecision parses a completion into a trading decision. Anything that
// is not valid JSON with a known action degrades to a zero-confidence HOLD
// rather than failing the run.
func ParseDecision(out string) types.Decision {
	out = strings.TrimSpace(out)
	// Models occasionally wrap the JSON in a code fence.
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	out = strings.TrimSpace(out)

	var d types.Decision
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		return types.Decision{Action: types.Hold, Reasoning: "invalid_json", Confidence: 0}
	}

	d.Action = types.Action(strings.ToUpper(strings.TrimSpace(string(d.Action))))
	if !d.Action.Valid() {
		d.Action = types.Hold
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		d.Confidence = 0
	}
	if d.Quantity < 0 {
		d.Quantity = 0
	}
	return d
}
