package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prismis/prismisd/internal/config"
	"github.com/prismis/prismisd/internal/fetcher"
	"github.com/prismis/prismisd/internal/httpclient"
	"github.com/prismis/prismisd/internal/llm"
	"github.com/prismis/prismisd/internal/metrics"
	"github.com/prismis/prismisd/internal/safeurl"
)

// Scheduler runs cycles on the configured interval. Config is re-read each
// cycle so interval and context edits propagate without a restart.
type Scheduler struct {
	Store      SchedulerStorage
	ConfigPath string
	Metrics    *metrics.Metrics // may be nil

	// BuildAnalyzer constructs the LLM stack for a cycle's config. Tests
	// substitute a stub; the default wires llm.New.
	BuildAnalyzer func(cfg *config.Config) (Analyzer, error)
}

// SchedulerStorage extends Storage with what the file fetcher needs.
type SchedulerStorage interface {
	Storage
	LatestContent(sourceID string) (string, bool, error)
}

// CycleStats summarizes one full pass over all active sources.
type CycleStats struct {
	Sources        int
	SourceErrors   int
	NewItems       int
	OrphansRemoved int64
	Duration       time.Duration
}

// Run loops cycles until ctx is canceled. Shutdown is cooperative: the
// current cycle stops at the next inter-item boundary, then Run returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		cfg, err := config.Load(s.ConfigPath)
		if err != nil {
			// Startup validated the config; a mid-run edit broke it. Skip
			// the cycle and retry on the default interval.
			log.Printf("scheduler: config reload: %v", err)
			cfg = nil
		}
		interval := time.Duration(config.DefaultFetchInterval) * time.Minute
		if cfg != nil {
			interval = cfg.Daemon.Interval()
			if stats, err := s.RunCycle(ctx, cfg); err != nil {
				log.Printf("scheduler: cycle failed: %v", err)
			} else {
				log.Printf("scheduler: cycle done sources=%d errors=%d new=%d orphans=%d dur=%s",
					stats.Sources, stats.SourceErrors, stats.NewItems, stats.OrphansRemoved,
					stats.Duration.Round(time.Millisecond))
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// RunCycle executes one cycle: enumerate active sources, process them through
// a bounded worker pool, then reconcile the vector index. Per-source failures
// are isolated; they land on the source row, never on the process.
func (s *Scheduler) RunCycle(ctx context.Context, cfg *config.Config) (CycleStats, error) {
	start := time.Now()
	var stats CycleStats

	analyzer, err := s.buildAnalyzer(cfg)
	if err != nil {
		return stats, err
	}

	sources, err := s.Store.ListSources(true)
	if err != nil {
		return stats, err
	}
	stats.Sources = len(sources)
	if s.Metrics != nil {
		s.Metrics.SourcesActive.Set(float64(len(sources)))
	}

	opts := fetcher.Options{
		MaxItems: cfg.Daemon.MaxItemsPerFeed,
		Lookback: cfg.Daemon.Lookback(),
		Client:   httpclient.Default(),
	}
	p := New(s.Store, fetcher.Registry(opts, s.Store), analyzer, cfg.Context.Text, s.Metrics)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(cfg.Daemon.Workers)
	for _, src := range sources {
		g.Go(func() error {
			srcStats, err := p.ProcessSource(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			stats.NewItems += srcStats.New
			if err != nil {
				stats.SourceErrors++
				log.Printf("pipeline: source %s (%s): %v", src.Name, safeurl.Redact(src.URL), err)
				return nil // isolation: a failing source never stops the cycle
			}
			if srcStats.Fetched > 0 || srcStats.New > 0 {
				log.Printf("pipeline: source %s (%s): %s", src.Name, safeurl.Redact(src.URL), srcStats)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Reconcile only after every worker is done, so no vector written this
	// cycle can be misread as an orphan.
	orphans, err := s.Store.CleanupOrphanedVectors()
	if err != nil {
		return stats, fmt.Errorf("orphan reconciliation: %w", err)
	}
	stats.OrphansRemoved = orphans
	stats.Duration = time.Since(start)

	if s.Metrics != nil {
		s.Metrics.CyclesTotal.Inc()
		s.Metrics.CycleDuration.Observe(stats.Duration.Seconds())
		s.Metrics.OrphansCleaned.Add(float64(orphans))
		s.Metrics.SetReady()
	}
	return stats, nil
}

func (s *Scheduler) buildAnalyzer(cfg *config.Config) (Analyzer, error) {
	if s.BuildAnalyzer != nil {
		return s.BuildAnalyzer(cfg)
	}
	return llm.New(cfg.LLM)
}
