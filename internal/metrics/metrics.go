// Package metrics exposes the daemon's cycle counters over an optional
// prometheus /metrics listener with a /healthz probe.
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's collectors. Create one per process.
type Metrics struct {
	reg *prometheus.Registry

	CyclesTotal    prometheus.Counter
	CycleDuration  prometheus.Histogram
	ItemsIngested  *prometheus.CounterVec // labeled by priority
	FetchErrors    prometheus.Counter
	AnalysisErrors prometheus.Counter
	SourcesActive  prometheus.Gauge
	OrphansCleaned prometheus.Counter

	ready atomic.Bool
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "prismis_cycles_total",
			Help: "Completed scheduler cycles.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prismis_cycle_duration_seconds",
			Help:    "Wall-clock duration of a full cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		ItemsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prismis_items_ingested_total",
			Help: "Newly persisted items by assigned priority.",
		}, []string{"priority"}),
		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "prismis_fetch_errors_total",
			Help: "Per-source fetch failures.",
		}),
		AnalysisErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "prismis_analysis_errors_total",
			Help: "Per-item summarize/evaluate failures (item skipped).",
		}),
		SourcesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prismis_sources_active",
			Help: "Active sources seen in the last cycle.",
		}),
		OrphansCleaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "prismis_orphan_vectors_cleaned_total",
			Help: "Vector rows removed by orphan reconciliation.",
		}),
	}
}

// SetReady flips /healthz to 200. Call after the first completed cycle.
func (m *Metrics) SetReady() { m.ready.Store(true) }

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !m.ready.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve runs the listener until ctx ends. Errors other than a clean shutdown
// are returned.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: m.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
