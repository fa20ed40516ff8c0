package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/crawl"
	"github.com/rankmybrand/geocrawl/internal/dedup"
	"github.com/rankmybrand/geocrawl/internal/frontier"
	"github.com/rankmybrand/geocrawl/internal/kv"
	"github.com/rankmybrand/geocrawl/internal/progress"
	"github.com/rankmybrand/geocrawl/internal/render"
)

// Deps carries the shared collaborators every job uses. Store, policies,
// fetcher, renderer, and hub are process-scoped; frontier and deduplicator
// instances are created per job.
type Deps struct {
	Store    kv.Store
	Policies frontier.PolicySource
	Fetcher  crawl.Fetcher
	Renderer crawl.Renderer
	Decider  *render.Decider
	Hub      progress.Emitter
	Sink     crawl.ResultSink
	Pub      crawl.Publisher
	Archive  crawl.BlobStore
	Logger   *zap.Logger

	// DedupThreshold and retention feed per-job deduplicators.
	DedupThreshold float64
	DedupRetention time.Duration
	// PolitenessDelay and MaxCrawlDelay feed per-job frontiers.
	PolitenessDelay time.Duration
	MaxCrawlDelay   time.Duration
}

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = fmt.Errorf("job not found")

// Manager owns the lifecycle of crawl jobs. All shared caches and clients
// are injected at construction time; there are no package-level singletons.
type Manager struct {
	cfg  Config
	deps Deps

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewManager constructs a Manager.
func NewManager(cfg Config, deps Deps) *Manager {
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Decider == nil {
		deps.Decider = render.NewDecider(render.DecisionConfig{})
	}
	return &Manager{
		cfg:  cfg,
		deps: deps,
		jobs: make(map[string]*Job),
	}
}

// StartCrawl creates and launches a job over the seed URLs. The returned
// job handle is immediately usable for stats, results, and stop.
func (m *Manager) StartCrawl(seeds []string) (*Job, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("at least one seed url is required")
	}

	jobID := uuid.NewString()
	logger := m.deps.Logger.Named("job").With(zap.String("job_id", jobID))

	f := frontier.New(jobID, frontier.Config{
		MaxDepth:        m.cfg.MaxDepth,
		PolitenessDelay: m.deps.PolitenessDelay,
		MaxCrawlDelay:   m.deps.MaxCrawlDelay,
	}, m.deps.Store, m.deps.Policies, logger)

	d := dedup.New(jobID, dedup.Config{
		NearDupThreshold: m.deps.DedupThreshold,
		Retention:        m.deps.DedupRetention,
	}, m.deps.Store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:       jobID,
		cfg:      m.cfg,
		frontier: f,
		dedup:    d,
		fetcher:  m.deps.Fetcher,
		renderer: m.deps.Renderer,
		decider:  m.deps.Decider,
		policies: m.deps.Policies,
		hub:      m.deps.Hub,
		sink:     m.deps.Sink,
		pub:      m.deps.Pub,
		archive:  m.deps.Archive,
		logger:   logger,
		stats:    newJobStats(),
		errors:   newErrorLog(0),
		results:  make(chan crawl.Result, m.cfg.ResultBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	job.state.Store(crawl.JobStateRunning)

	m.mu.Lock()
	m.jobs[jobID] = job
	m.mu.Unlock()

	logger.Info("crawl started", zap.Strings("seeds", seeds), zap.Int("workers", m.cfg.Workers))
	go job.run(ctx, seeds)
	return job, nil
}

// Resume rebuilds a job from its persisted frontier and continues it.
func (m *Manager) Resume(ctx context.Context, jobID string) (*Job, error) {
	logger := m.deps.Logger.Named("job").With(zap.String("job_id", jobID))

	f := frontier.New(jobID, frontier.Config{
		MaxDepth:        m.cfg.MaxDepth,
		PolitenessDelay: m.deps.PolitenessDelay,
		MaxCrawlDelay:   m.deps.MaxCrawlDelay,
	}, m.deps.Store, m.deps.Policies, logger)

	restored, err := f.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", jobID, err)
	}
	if restored == 0 {
		return nil, fmt.Errorf("resume %s: no pending frontier entries", jobID)
	}

	d := dedup.New(jobID, dedup.Config{
		NearDupThreshold: m.deps.DedupThreshold,
		Retention:        m.deps.DedupRetention,
	}, m.deps.Store, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:       jobID,
		cfg:      m.cfg,
		frontier: f,
		dedup:    d,
		fetcher:  m.deps.Fetcher,
		renderer: m.deps.Renderer,
		decider:  m.deps.Decider,
		policies: m.deps.Policies,
		hub:      m.deps.Hub,
		sink:     m.deps.Sink,
		pub:      m.deps.Pub,
		archive:  m.deps.Archive,
		logger:   logger,
		stats:    newJobStats(),
		errors:   newErrorLog(0),
		results:  make(chan crawl.Result, m.cfg.ResultBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	job.state.Store(crawl.JobStateRunning)

	m.mu.Lock()
	m.jobs[jobID] = job
	m.mu.Unlock()

	logger.Info("crawl resumed", zap.Int("restored", restored))
	go job.runRestored(runCtx)
	return job, nil
}

// StopCrawl requests cooperative shutdown of a job and waits for it.
func (m *Manager) StopCrawl(ctx context.Context, jobID string) error {
	job, ok := m.Job(jobID)
	if !ok {
		return fmt.Errorf("stop %s: %w", jobID, ErrJobNotFound)
	}
	return job.Stop(ctx)
}

// Stats snapshots a job's counters.
func (m *Manager) Stats(jobID string) (crawl.JobStats, error) {
	job, ok := m.Job(jobID)
	if !ok {
		return crawl.JobStats{}, fmt.Errorf("stats %s: %w", jobID, ErrJobNotFound)
	}
	return job.Stats(), nil
}

// Job looks up a job handle.
func (m *Manager) Job(jobID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// Jobs lists all known job handles.
func (m *Manager) Jobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	return out
}

// Shutdown stops every running job, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, job := range m.Jobs() {
		if job.State() == crawl.JobStateStopped {
			continue
		}
		if err := job.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
