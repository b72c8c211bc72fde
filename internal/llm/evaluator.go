package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/prismis/prismisd/internal/content"
)

const evaluateSystemPrompt = `You rank one piece of content against a reader's interest profile. Reply with a single JSON object, nothing else:
- "priority": one of "high", "medium", "low", "none". "high" only for content squarely inside the high-priority interests. "none" for content matching the not-interested list or nothing at all.
- "matched_interests": JSON array of the profile interests this content matches (verbatim phrases from the profile). Empty array if none.
- "reasoning": one short sentence (optional).
Reply with JSON only.`

// Evaluation is the normalized evaluator output. Whatever the raw model
// reply looked like, Priority is always one of the four values and
// MatchedInterests is always a (possibly empty) list.
type Evaluation struct {
	Priority         content.Priority
	MatchedInterests []string
	Reasoning        string
}

// Evaluate assigns an ordinal priority to one item against the user-context
// document. The normalization layer, not the model, guarantees the output
// envelope is stable across runs.
func (c *Client) Evaluate(ctx context.Context, title, url, body, userContext string) (Evaluation, error) {
	user := fmt.Sprintf("Interest profile:\n%s\n\nContent:\nTitle: %s\nURL: %s\n\n%s",
		truncate(userContext, maxPromptBytes/4), title, url, truncate(body, maxPromptBytes))
	raw, err := c.chatJSON(ctx, evaluateSystemPrompt, user)
	if err != nil {
		return Evaluation{}, &AnalysisError{Stage: "evaluate", Err: err}
	}
	ev, err := coerceEvaluation([]byte(jsonBody(raw)))
	if err != nil {
		return Evaluation{}, &AnalysisError{Stage: "evaluate", Err: err}
	}
	return ev, nil
}

// coerceEvaluation normalizes a raw model reply:
//   - priority is case-folded; values outside the set coerce to medium (logged)
//   - matched_interests must be a list of strings; anything else coerces to []
//   - reasoning is optional
func coerceEvaluation(raw []byte) (Evaluation, error) {
	var payload struct {
		Priority         string          `json:"priority"`
		MatchedInterests json.RawMessage `json:"matched_interests"`
		Reasoning        string          `json:"reasoning"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Evaluation{}, fmt.Errorf("parse reply: %w", err)
	}
	priority, ok := content.NormalizePriority(payload.Priority)
	if !ok {
		log.Printf("llm: evaluator returned priority %q, coerced to medium", payload.Priority)
	}
	return Evaluation{
		Priority:         priority,
		MatchedInterests: coerceStringList(payload.MatchedInterests),
		Reasoning:        strings.TrimSpace(payload.Reasoning),
	}, nil
}

// coerceStringList accepts only a JSON array, keeping its string elements.
// A bare string, object, number, or absent field all coerce to the empty list.
func coerceStringList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
