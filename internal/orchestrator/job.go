// Package orchestrator runs crawl jobs: a bounded worker pool pulling from
// the frontier, fetching, deduplicating, deciding on rendering, extracting
// links, and emitting results and progress.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rankmybrand/geocrawl/internal/crawl"
	"github.com/rankmybrand/geocrawl/internal/dedup"
	"github.com/rankmybrand/geocrawl/internal/frontier"
	"github.com/rankmybrand/geocrawl/internal/progress"
	"github.com/rankmybrand/geocrawl/internal/render"
)

// Config tunes crawl execution.
type Config struct {
	Workers          int
	MaxDepth         int
	MaxPages         int
	FetchTimeout     time.Duration
	JSRenderBudget   float64
	MaxLinksPerPage  int
	AllowSubdomains  bool
	SitemapSeedLimit int
	ArchiveHTML      bool
	PublishTopic     string
	ResultBuffer     int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.MaxLinksPerPage <= 0 {
		c.MaxLinksPerPage = 50
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = 512
	}
}

const (
	seedPriority      = 1.0
	priorityDecay     = 0.8
	minPriority       = 0.1
	dequeueRetryWait  = 100 * time.Millisecond
	heartbeatInterval = 30 * time.Second
)

// Job is one crawl run. Workers share the frontier, the deduplicator, the
// stats, and a single renderer; each page is processed by exactly one
// worker.
type Job struct {
	ID string

	cfg      Config
	frontier *frontier.Frontier
	dedup    crawl.Deduplicator
	fetcher  crawl.Fetcher
	renderer crawl.Renderer
	decider  *render.Decider
	policies frontier.PolicySource
	hub      progress.Emitter
	sink     crawl.ResultSink
	pub      crawl.Publisher
	archive  crawl.BlobStore
	logger   *zap.Logger

	stats    *jobStats
	errors   *errorLog
	results  chan crawl.Result
	inflight atomic.Int64

	state  atomic.Value // crawl.JobState
	cancel context.CancelFunc
	done   chan struct{}

	recentMu sync.Mutex
	recent   []crawl.Result
}

// State reports the job's lifecycle state.
func (j *Job) State() crawl.JobState {
	return j.state.Load().(crawl.JobState)
}

// Stats snapshots the job counters.
func (j *Job) Stats() crawl.JobStats {
	return j.stats.snapshot(j.State(), j.frontier.Size())
}

// Results streams completed pages. The channel is buffered and lossy: if no
// consumer keeps up, newer results are still retained in Recent.
func (j *Job) Results() <-chan crawl.Result { return j.results }

// Recent returns the most recently completed results, newest last.
func (j *Job) Recent() []crawl.Result {
	j.recentMu.Lock()
	defer j.recentMu.Unlock()
	return append([]crawl.Result(nil), j.recent...)
}

// LastErrors returns the last error reason per failed URL.
func (j *Job) LastErrors() map[string]string { return j.errors.snapshot() }

// Done closes once every worker has exited.
func (j *Job) Done() <-chan struct{} { return j.done }

// Stop requests cooperative shutdown and waits for the workers, bounded by
// ctx.
func (j *Job) Stop(ctx context.Context) error {
	if j.State() == crawl.JobStateRunning {
		j.state.Store(crawl.JobStateStopping)
	}
	j.cancel()
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop crawl %s: %w", j.ID, ctx.Err())
	}
}

// run seeds the frontier, executes the worker pool, and tears the job
// down. It owns the results channel.
func (j *Job) run(ctx context.Context, seeds []string) {
	defer close(j.done)
	defer close(j.results)

	j.emit(progress.Event{Stage: progress.StageJobStart})

	accepted := j.seed(ctx, seeds)
	if len(accepted) == 0 {
		j.logger.Warn("no seed urls accepted")
		j.finish(errors.New("no seed urls accepted"))
		return
	}
	j.seedSitemaps(ctx, accepted)
	j.runWorkers(ctx)
	j.finish(nil)
}

// runRestored executes the worker pool over a frontier already populated
// by Restore.
func (j *Job) runRestored(ctx context.Context) {
	defer close(j.done)
	defer close(j.results)

	j.emit(progress.Event{Stage: progress.StageJobStart})
	j.runWorkers(ctx)
	j.finish(nil)
}

func (j *Job) runWorkers(ctx context.Context) {
	stopHeartbeat := j.startHeartbeat(ctx)
	defer stopHeartbeat()

	g, workerCtx := errgroup.WithContext(ctx)
	for i := 0; i < j.cfg.Workers; i++ {
		g.Go(func() error {
			j.workerLoop(workerCtx)
			return nil
		})
	}
	// Barrier: shared resources are released only after every worker exits.
	_ = g.Wait()
}

func (j *Job) finish(err error) {
	j.state.Store(crawl.JobStateStopped)
	runtime := time.Since(j.stats.startedAt)
	if err != nil {
		j.emit(progress.Event{Stage: progress.StageJobError, Dur: runtime, Note: err.Error()})
		return
	}
	j.emit(progress.Event{Stage: progress.StageJobDone, Dur: runtime})
	j.logger.Info("crawl finished",
		zap.Int64("crawled", j.stats.crawled.Load()),
		zap.Int64("skipped", j.stats.skipped.Load()),
		zap.Int64("errors", j.stats.errors.Load()),
		zap.Duration("runtime", runtime))
}

func (j *Job) seed(ctx context.Context, seeds []string) []crawl.FrontierEntry {
	var accepted []crawl.FrontierEntry
	for _, raw := range seeds {
		ok, err := j.frontier.Add(ctx, raw, seedPriority, 0)
		if err != nil {
			j.logger.Warn("seed rejected", zap.String("url", raw), zap.Error(err))
			continue
		}
		if !ok {
			j.logger.Debug("seed filtered", zap.String("url", raw))
			continue
		}
		domain, derr := frontier.Domain(raw)
		if derr != nil {
			continue
		}
		accepted = append(accepted, crawl.FrontierEntry{URL: raw, Domain: domain})
	}
	return accepted
}

func (j *Job) startHeartbeat(ctx context.Context) func() {
	ticker := time.NewTicker(heartbeatInterval)
	stopped := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.emit(progress.Event{Stage: progress.StageJobHeartbeat})
			case <-ctx.Done():
				return
			case <-stopped:
				return
			}
		}
	}()
	return func() { close(stopped) }
}

// workerLoop pulls entries until the frontier drains, the page budget is
// reached, or the job is stopped.
func (j *Job) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || j.State() != crawl.JobStateRunning {
			return
		}
		if j.cfg.MaxPages > 0 && j.stats.crawled.Load() >= int64(j.cfg.MaxPages) {
			return
		}

		entry, err := j.frontier.Next(ctx)
		switch {
		case err == nil:
			j.inflight.Add(1)
			j.processEntry(ctx, entry)
			j.inflight.Add(-1)
		case errors.Is(err, frontier.ErrNothingReady):
			j.wait(ctx)
		case errors.Is(err, frontier.ErrEmpty):
			// Another worker may still feed links back.
			if j.inflight.Load() == 0 {
				return
			}
			j.wait(ctx)
		default:
			j.logger.Warn("frontier dequeue failed", zap.Error(err))
			j.wait(ctx)
		}
	}
}

func (j *Job) wait(ctx context.Context) {
	timer := time.NewTimer(dequeueRetryWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (j *Job) processEntry(ctx context.Context, entry crawl.FrontierEntry) {
	fetchCtx, cancel := context.WithTimeout(ctx, j.cfg.FetchTimeout)
	page, err := j.fetcher.Fetch(fetchCtx, entry.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.stats.errors.Add(1)
		j.errors.record(entry.URL, err.Error())
		j.emit(progress.Event{
			Stage:  progress.StagePageError,
			Domain: entry.Domain,
			URL:    entry.URL,
			Depth:  entry.Depth,
			Note:   err.Error(),
		})
		return
	}

	dup, err := j.dedup.IsDuplicate(ctx, entry.URL, page.Body)
	if err != nil {
		j.logger.Warn("dedup check failed", zap.String("url", entry.URL), zap.Error(err))
	}
	if dup {
		j.stats.skipped.Add(1)
		j.emit(progress.Event{
			Stage:  progress.StagePageSkipped,
			Domain: entry.Domain,
			URL:    entry.URL,
			Depth:  entry.Depth,
			Note:   "duplicate content",
		})
		return
	}

	method := crawl.RenderStatic
	decision := j.decider.Decide(entry.URL, page.Headers, page.Body)
	if decision.Needs && j.renderAllowed() {
		if rendered, rerr := j.renderer.Render(ctx, entry.URL); rerr != nil {
			// Rendering failures fall back to the static html already in
			// hand.
			j.logger.Warn("render failed, using static html",
				zap.String("url", entry.URL), zap.Error(rerr))
		} else {
			rendered.Duration += page.Duration
			page = rendered
			method = crawl.RenderHeadless
		}
	}

	nearDup := false
	if near, nerr := j.dedup.IsNearDuplicate(ctx, page.Body); nerr == nil {
		nearDup = near
	}

	title, text := extractContent(page.Body)
	links := extractLinks(j.linkBase(entry, page), page.Body, LinkPolicy{
		MaxLinks:        j.cfg.MaxLinksPerPage,
		AllowSubdomains: j.cfg.AllowSubdomains,
	})
	for _, link := range links {
		if _, aerr := j.frontier.Add(ctx, link, childPriority(entry.Priority), entry.Depth+1); aerr != nil {
			j.logger.Warn("enqueue link failed", zap.String("url", link), zap.Error(aerr))
		}
	}

	j.stats.recordCrawl(page.Duration, method == crawl.RenderHeadless)

	result := crawl.Result{
		JobID:          j.ID,
		URL:            entry.URL,
		FinalURL:       page.FinalURL,
		StatusCode:     page.StatusCode,
		RenderMethod:   method,
		RenderReason:   decision.Reason,
		ResponseTimeMs: page.Duration.Milliseconds(),
		Depth:          entry.Depth,
		Links:          links,
		Title:          title,
		Text:           text,
		ContentHash:    dedup.NewFingerprint(page.Body).Hash,
		NearDuplicate:  nearDup,
		FetchedAt:      time.Now().UTC(),
	}
	j.deliver(ctx, result, page)

	j.emit(progress.Event{
		Stage:        progress.StagePageFetched,
		Domain:       entry.Domain,
		URL:          entry.URL,
		Depth:        entry.Depth,
		Bytes:        int64(len(page.Body)),
		StatusClass:  progress.ClassifyStatus(page.StatusCode),
		RenderMethod: method,
		Dur:          page.Duration,
	})
}

// renderAllowed enforces the JS-render budget. The budget is soft: under
// concurrency the ratio can transiently overshoot before workers observe
// the updated counters.
func (j *Job) renderAllowed() bool {
	if j.renderer == nil || j.cfg.JSRenderBudget <= 0 {
		return false
	}
	return j.stats.renderRatio() < j.cfg.JSRenderBudget
}

func (j *Job) linkBase(entry crawl.FrontierEntry, page crawl.Page) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return entry.URL
}

// deliver fans a completed result out: the recent ring, the lossy stream,
// and the optional sink, archive, and publisher.
func (j *Job) deliver(ctx context.Context, result crawl.Result, page crawl.Page) {
	j.recentMu.Lock()
	j.recent = append(j.recent, result)
	if len(j.recent) > j.cfg.ResultBuffer {
		j.recent = j.recent[len(j.recent)-j.cfg.ResultBuffer:]
	}
	j.recentMu.Unlock()

	select {
	case j.results <- result:
	default:
	}

	if j.sink != nil {
		if err := j.sink.SaveResult(ctx, result); err != nil {
			j.logger.Warn("save result failed", zap.String("url", result.URL), zap.Error(err))
		}
	}
	if j.archive != nil && j.cfg.ArchiveHTML {
		path := fmt.Sprintf("%s/%s.html", j.ID, result.ContentHash)
		if _, err := j.archive.Put(ctx, path, "text/html; charset=utf-8", page.Body); err != nil {
			j.logger.Warn("archive html failed", zap.String("url", result.URL), zap.Error(err))
		}
	}
	if j.pub != nil && j.cfg.PublishTopic != "" {
		if _, err := j.pub.Publish(ctx, j.cfg.PublishTopic, result); err != nil {
			j.logger.Warn("publish result failed", zap.String("url", result.URL), zap.Error(err))
		}
	}
}

func (j *Job) emit(evt progress.Event) {
	if j.hub == nil {
		return
	}
	evt.JobID = j.ID
	evt.TS = time.Now().UTC()
	j.hub.Emit(evt)
}

func childPriority(parent float64) float64 {
	p := parent * priorityDecay
	if p < minPriority {
		p = minPriority
	}
	return p
}

// seedScheme picks the scheme used for sitemap probes of a seed URL.
func seedScheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "https"
	}
	return u.Scheme
}
