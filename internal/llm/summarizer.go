package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prismis/prismisd/internal/content"
)

// MaxSummaryLen is the hard cap on the short summary; anything longer from
// the model is truncated, not rejected.
const MaxSummaryLen = 400

const summarizeSystemPrompt = `You analyze one piece of content and reply with a single JSON object, nothing else. Fields:
- "summary": at most 400 characters, plain text, what the content says and why it matters.
- "reading_summary": markdown, a condensed read targeting 10-15% of the source length. Keep concrete facts and numbers.
- "alpha_insights": up to 3 sharp, non-obvious takeaways. Fewer is fine; empty if there are none.
- "patterns": list of recurring themes or techniques the content exhibits.
- "entities": exactly the top 5 searchable proper nouns (people, companies, products, projects, places). NOT file names. NOT generic nouns like "database" or "startup". Fewer than 5 only if the content truly has fewer.
Reply with JSON only.`

// SummarizeInput is one item's worth of analysis input.
type SummarizeInput struct {
	Title      string
	URL        string
	Content    string
	SourceType content.SourceType
	Diff       *content.FileDiff // set for changed file sources
}

// analysisPayload is the wire shape of the summarizer reply.
type analysisPayload struct {
	Summary        string   `json:"summary"`
	ReadingSummary string   `json:"reading_summary"`
	AlphaInsights  []string `json:"alpha_insights"`
	Patterns       []string `json:"patterns"`
	Entities       []string `json:"entities"`
}

// Summarize produces the structured analysis for one item. A malformed model
// reply is an AnalysisError: the pipeline records it and skips the item.
func (c *Client) Summarize(ctx context.Context, in SummarizeInput) (*content.Analysis, error) {
	raw, err := c.chatJSON(ctx, summarizeSystemPrompt, summarizeUserPrompt(in))
	if err != nil {
		return nil, &AnalysisError{Stage: "summarize", Err: err}
	}
	var payload analysisPayload
	if err := json.Unmarshal([]byte(jsonBody(raw)), &payload); err != nil {
		return nil, &AnalysisError{Stage: "summarize", Err: fmt.Errorf("parse reply: %w", err)}
	}

	summary := strings.TrimSpace(payload.Summary)
	if len(summary) > MaxSummaryLen {
		summary = truncate(summary, MaxSummaryLen)
	}
	if len(payload.AlphaInsights) > 3 {
		payload.AlphaInsights = payload.AlphaInsights[:3]
	}
	if len(payload.Entities) > 5 {
		payload.Entities = payload.Entities[:5]
	}
	return &content.Analysis{
		Summary:        summary,
		ReadingSummary: strings.TrimSpace(payload.ReadingSummary),
		AlphaInsights:  payload.AlphaInsights,
		Patterns:       payload.Patterns,
		Entities:       payload.Entities,
		Diff:           in.Diff,
	}, nil
}

func summarizeUserPrompt(in SummarizeInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Source type: %s\nTitle: %s\nURL: %s\n", in.SourceType, in.Title, in.URL)
	if in.Diff != nil && in.Diff.Unified != "" {
		// For changed tracked files the delta is the story; summarize what
		// changed, then the document.
		fmt.Fprintf(&sb, "\nThis tracked file changed since the last ingest (+%d/-%d lines). Emphasize the change:\n%s\n",
			in.Diff.Added, in.Diff.Removed, truncate(in.Diff.Unified, maxPromptBytes/4))
	}
	sb.WriteString("\nContent:\n")
	sb.WriteString(truncate(in.Content, maxPromptBytes))
	return sb.String()
}

// jsonBody strips markdown code fences some models wrap around JSON replies.
func jsonBody(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
