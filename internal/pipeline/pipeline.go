// Package pipeline orchestrates one cycle of the daemon: fetch every active
// source through a bounded worker pool, gate each record through dedup and
// freshness, run the two-stage LLM analysis, persist, and embed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/prismis/prismisd/internal/content"
	"github.com/prismis/prismisd/internal/fetcher"
	"github.com/prismis/prismisd/internal/llm"
	"github.com/prismis/prismisd/internal/metrics"
	"github.com/prismis/prismisd/internal/safeurl"
	"github.com/prismis/prismisd/internal/store"
)

// Storage is the slice of the store the pipeline drives.
type Storage interface {
	ListSources(activeOnly bool) ([]content.Source, error)
	MarkSourceFetched(id string, ok bool, fetchErr string) error
	SaveSourceCache(id, etag, lastModified string) error
	Exists(sourceID, externalID string) (bool, error)
	InsertItem(it *content.Item) (int64, error)
	InsertVector(contentID int64, vec []float32) error
	CleanupOrphanedVectors() (int64, error)
}

// Analyzer is the two-stage LLM analysis plus embedding. *llm.Client
// implements it; tests substitute stubs.
type Analyzer interface {
	Summarize(ctx context.Context, in llm.SummarizeInput) (*content.Analysis, error)
	Evaluate(ctx context.Context, title, url, body, userContext string) (llm.Evaluation, error)
	EmbedAnalysis(ctx context.Context, a *content.Analysis) ([]float32, error)
}

// Pipeline processes sources for one cycle. Items within a source are
// handled sequentially so per-source LLM spend stays predictable and the
// exists-then-insert window is trivial.
type Pipeline struct {
	store       Storage
	fetchers    map[content.SourceType]fetcher.Fetcher
	analyzer    Analyzer
	userContext string
	metrics     *metrics.Metrics // may be nil
}

func New(st Storage, fetchers map[content.SourceType]fetcher.Fetcher, analyzer Analyzer, userContext string, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:       st,
		fetchers:    fetchers,
		analyzer:    analyzer,
		userContext: userContext,
		metrics:     m,
	}
}

// SourceStats summarizes one source's pass through the pipeline.
type SourceStats struct {
	Fetched int // records emitted by the fetcher
	New     int // items persisted
	Skipped int // dedup hits
	Failed  int // per-item analysis failures
}

func (s SourceStats) String() string {
	return fmt.Sprintf("fetched=%d new=%d skipped=%d failed=%d", s.Fetched, s.New, s.Skipped, s.Failed)
}

// ProcessSource runs one source through fetch → dedup → analyze → persist →
// embed and records the outcome on the source row. Per-item failures are
// counted and skipped; only a fetch failure marks the source errored.
func (p *Pipeline) ProcessSource(ctx context.Context, src content.Source) (SourceStats, error) {
	var stats SourceStats
	f, ok := p.fetchers[src.Type]
	if !ok {
		err := fmt.Errorf("pipeline: no fetcher for type %q", src.Type)
		_ = p.store.MarkSourceFetched(src.ID, false, err.Error())
		return stats, err
	}

	records, err := f.Fetch(ctx, &src)
	if err != nil {
		if p.metrics != nil {
			p.metrics.FetchErrors.Inc()
		}
		_ = p.store.MarkSourceFetched(src.ID, false, err.Error())
		return stats, err
	}
	// Fetch succeeded: persist any refreshed cache validators before the
	// per-item work, so a crash mid-analysis doesn't re-download the body.
	_ = p.store.SaveSourceCache(src.ID, src.ETag, src.LastModified)
	stats.Fetched = len(records)

	for i := range records {
		// Cancellation stops before the next item; an in-flight analysis
		// always completes so its LLM spend isn't wasted.
		if ctx.Err() != nil {
			break
		}
		p.processRecord(ctx, src, &records[i], &stats)
	}

	if err := p.store.MarkSourceFetched(src.ID, true, ""); err != nil {
		return stats, err
	}
	return stats, nil
}

func (p *Pipeline) processRecord(ctx context.Context, src content.Source, rec *content.FetchRecord, stats *SourceStats) {
	// The analysis runs detached from the shutdown signal: once an item has
	// started paying for LLM tokens it finishes and persists. The loop in
	// ProcessSource is the cancellation boundary.
	ctx = context.WithoutCancel(ctx)

	seen, err := p.store.Exists(src.ID, rec.ExternalID)
	if err != nil {
		log.Printf("pipeline: exists check %s: %v", rec.ExternalID, err)
		stats.Failed++
		return
	}
	if seen {
		stats.Skipped++
		return
	}

	analysis, err := p.analyzer.Summarize(ctx, llm.SummarizeInput{
		Title:      rec.Title,
		URL:        rec.URL,
		Content:    rec.Content,
		SourceType: src.Type,
		Diff:       rec.Diff,
	})
	if err != nil {
		log.Printf("pipeline: summarize %s: %v", safeurl.Redact(rec.URL), err)
		p.countAnalysisError()
		stats.Failed++
		return
	}

	evalBody := analysis.ReadingSummary
	if evalBody == "" {
		evalBody = rec.Content
	}
	ev, err := p.analyzer.Evaluate(ctx, rec.Title, rec.URL, evalBody, p.userContext)
	if err != nil {
		log.Printf("pipeline: evaluate %s: %v", safeurl.Redact(rec.URL), err)
		p.countAnalysisError()
		stats.Failed++
		return
	}
	analysis.Metrics = rec.Metrics
	analysis.MatchedInterests = ev.MatchedInterests
	analysis.Reasoning = ev.Reasoning

	item := &content.Item{
		SourceID:       src.ID,
		ExternalID:     rec.ExternalID,
		Title:          rec.Title,
		URL:            rec.URL,
		Content:        rec.Content,
		Summary:        analysis.Summary,
		ReadingSummary: analysis.ReadingSummary,
		Analysis:       *analysis,
		Priority:       ev.Priority,
		PublishedAt:    rec.PublishedAt,
	}
	id, err := p.store.InsertItem(item)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost the race to an earlier cycle; expected, not an error.
			stats.Skipped++
			return
		}
		log.Printf("pipeline: insert %s: %v", rec.ExternalID, err)
		stats.Failed++
		return
	}
	stats.New++
	if p.metrics != nil {
		p.metrics.ItemsIngested.WithLabelValues(string(ev.Priority)).Inc()
	}

	// Embedding is best-effort: an item without a vector is still readable.
	vec, err := p.analyzer.EmbedAnalysis(ctx, analysis)
	if err != nil {
		log.Printf("pipeline: embed item %d: %v", id, err)
		return
	}
	if err := p.store.InsertVector(id, vec); err != nil {
		log.Printf("pipeline: store vector for item %d: %v", id, err)
	}
}

func (p *Pipeline) countAnalysisError() {
	if p.metrics != nil {
		p.metrics.AnalysisErrors.Inc()
	}
}
