package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rankmybrand/geocrawl/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the
// collectors for job lifecycle and per-domain page outcomes.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	pagesFetched  *prometheus.CounterVec
	pagesSkipped  prometheus.Counter
	pageErrors    prometheus.Counter
	pageBytes     *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	rendered      *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geocrawl_jobs_started_total",
			Help: "Total crawl jobs started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocrawl_jobs_completed_total",
			Help: "Total crawl jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geocrawl_jobs_running",
			Help: "Current number of running crawl jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocrawl_job_runtime_seconds",
			Help:    "Wall time per completed crawl job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocrawl_pages_fetched_total",
			Help: "Fetched pages partitioned by domain and status class.",
		}, []string{"domain", "status_class"}),
		pagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geocrawl_pages_skipped_total",
			Help: "Pages skipped as duplicates or by policy.",
		}),
		pageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geocrawl_page_errors_total",
			Help: "Pages that failed to fetch or process.",
		}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocrawl_page_bytes_total",
			Help: "Bytes downloaded per domain.",
		}, []string{"domain"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocrawl_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by domain and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain", "status_class"}),
		rendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocrawl_pages_by_render_method_total",
			Help: "Fetched pages partitioned by render method.",
		}, []string{"method"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.pagesFetched,
		s.pagesSkipped,
		s.pageErrors,
		s.pageBytes,
		s.fetchDuration,
		s.rendered,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
		s.finishJob(evt.JobID)
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
		s.finishJob(evt.JobID)
	case progress.StagePageFetched:
		s.handlePageFetched(evt)
	case progress.StagePageSkipped:
		s.pagesSkipped.Inc()
	case progress.StagePageError:
		s.pageErrors.Inc()
	}
}

func (s *PrometheusSink) finishJob(jobID string) {
	if s.tracker.complete(jobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handlePageFetched(evt progress.Event) {
	domain := evt.Domain
	if domain == "" {
		domain = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.pagesFetched.WithLabelValues(domain, statusClass).Inc()
	if evt.Bytes > 0 {
		s.pageBytes.WithLabelValues(domain).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(domain, statusClass).Observe(evt.Dur.Seconds())
	}
	if evt.RenderMethod != "" {
		s.rendered.WithLabelValues(string(evt.RenderMethod)).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error { return nil }

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
