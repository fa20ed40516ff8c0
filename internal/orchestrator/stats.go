package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rankmybrand/geocrawl/internal/crawl"
)

// jobStats aggregates per-job counters with atomics so workers never
// contend on a lock in the hot path.
type jobStats struct {
	crawled     atomic.Int64
	skipped     atomic.Int64
	errors      atomic.Int64
	jsRendered  atomic.Int64
	totalRespMs atomic.Int64
	startedAt   time.Time
}

func newJobStats() *jobStats {
	return &jobStats{startedAt: time.Now().UTC()}
}

func (s *jobStats) recordCrawl(responseTime time.Duration, rendered bool) {
	s.crawled.Add(1)
	s.totalRespMs.Add(responseTime.Milliseconds())
	if rendered {
		s.jsRendered.Add(1)
	}
}

// renderRatio is the running jsRendered/crawled fraction. It treats the
// page about to be crawled as counted, so the very first page can render.
func (s *jobStats) renderRatio() float64 {
	crawled := s.crawled.Load() + 1
	return float64(s.jsRendered.Load()) / float64(crawled)
}

func (s *jobStats) snapshot(state crawl.JobState, frontierSize int) crawl.JobStats {
	crawled := s.crawled.Load()
	avg := 0.0
	if crawled > 0 {
		avg = float64(s.totalRespMs.Load()) / float64(crawled)
	}
	return crawl.JobStats{
		State:             state,
		Crawled:           crawled,
		Skipped:           s.skipped.Load(),
		Errors:            s.errors.Load(),
		JSRendered:        s.jsRendered.Load(),
		AvgResponseTimeMs: avg,
		FrontierSize:      frontierSize,
		StartedAt:         s.startedAt,
	}
}

// errorLog keeps the last error reason per failed URL, bounded so a large
// crawl cannot grow it without limit.
type errorLog struct {
	mu      sync.Mutex
	reasons map[string]string
	order   []string
	limit   int
}

func newErrorLog(limit int) *errorLog {
	if limit <= 0 {
		limit = 200
	}
	return &errorLog{
		reasons: make(map[string]string),
		limit:   limit,
	}
}

func (l *errorLog) record(url, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.reasons[url]; !ok {
		l.order = append(l.order, url)
		if len(l.order) > l.limit {
			oldest := l.order[0]
			l.order = l.order[1:]
			delete(l.reasons, oldest)
		}
	}
	l.reasons[url] = reason
}

func (l *errorLog) snapshot() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.reasons))
	for k, v := range l.reasons {
		out[k] = v
	}
	return out
}
