// Package content holds the shared domain types: sources, fetch records,
// analyzed items, and the priority/source-type enums they hang off.
package content

import (
	"fmt"
	"strings"
	"time"
)

// ─── Enums ───────────────────────────────────────────────────────────────────

// SourceType identifies which fetcher handles a source.
type SourceType string

const (
	SourceFeed  SourceType = "feed"
	SourceForum SourceType = "forum"
	SourceVideo SourceType = "video"
	SourceFile  SourceType = "file"
)

// ParseSourceType validates a user-supplied type string.
func ParseSourceType(s string) (SourceType, error) {
	switch t := SourceType(strings.ToLower(strings.TrimSpace(s))); t {
	case SourceFeed, SourceForum, SourceVideo, SourceFile:
		return t, nil
	default:
		return "", fmt.Errorf("unknown source type: %s", s)
	}
}

// Priority is the three-level ordinal priority plus "none".
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityNone   Priority = "none"
)

// NormalizePriority case-folds s and coerces anything outside the four-value
// set to medium. ok is false when a coercion happened so the caller can log it.
func NormalizePriority(s string) (p Priority, ok bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityHigh, PriorityMedium, PriorityLow, PriorityNone:
		return p, true
	default:
		return PriorityMedium, false
	}
}

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a configured poll target. (URL, Type) is unique.
type Source struct {
	ID            string // opaque 36-char id (UUID)
	URL           string
	Type          SourceType
	Name          string
	Active        bool
	ErrorCount    int
	LastError     string // "" = no error
	LastFetchedAt *time.Time

	// HTTP cache validators from the last successful fetch. Fetchers send
	// them as If-None-Match / If-Modified-Since and overwrite them in place;
	// the pipeline persists the new values with the fetch result.
	ETag         string
	LastModified string

	CreatedAt time.Time
}

// ─── FetchRecord ─────────────────────────────────────────────────────────────

// FetchRecord is the transient per-item payload emitted by a fetcher before
// analysis. Never persisted as-is; it becomes an Item after analysis.
type FetchRecord struct {
	ExternalID string // stable within a source; the dedup key
	Title      string
	URL        string
	Content    string

	// PublishedAt nil means the upstream gave no usable timestamp. The
	// freshness gate always skips such records.
	PublishedAt *time.Time

	// Metrics carries source-specific counters (score, num_comments, views…)
	// straight through to the analysis object.
	Metrics map[string]any

	// Diff is set by the file fetcher when the tracked URL changed since the
	// previous ingest.
	Diff *FileDiff
}

// ─── Analysis / Item ─────────────────────────────────────────────────────────

// FileDiff describes the change between two ingests of a tracked file.
type FileDiff struct {
	Unified string `json:"unified"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Changed int    `json:"changed"`
}

// Analysis is the structured LLM output persisted per item (as JSON).
type Analysis struct {
	Summary          string         `json:"summary"`
	ReadingSummary   string         `json:"reading_summary"`
	AlphaInsights    []string       `json:"alpha_insights"`
	Patterns         []string       `json:"patterns"`
	Entities         []string       `json:"entities"`
	Metrics          map[string]any `json:"metrics,omitempty"`
	MatchedInterests []string       `json:"matched_interests"`
	Reasoning        string         `json:"reasoning,omitempty"`
	Diff             *FileDiff      `json:"diff,omitempty"`
}

// Item is the persisted, analyzed unit of content.
// (SourceID, ExternalID) is unique; Priority is set once at ingestion.
type Item struct {
	ID             int64
	SourceID       string
	ExternalID     string
	Title          string
	URL            string
	Content        string
	Summary        string // ≤400 chars
	ReadingSummary string
	Analysis       Analysis
	Priority       Priority
	PublishedAt    *time.Time
	FetchedAt      time.Time // set by the store at insert, never by fetchers
	Read           bool
	Favorited      bool
	Notes          string
}
