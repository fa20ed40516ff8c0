// Package crawl defines core types shared across the crawling subsystems.
package crawl

import (
	"net/http"
	"time"
)

// JobState represents the lifecycle state of a crawl job.
type JobState string

// Job lifecycle states. A job moves idle -> running -> stopping -> stopped;
// stopping is entered on explicit stop, stopped once every worker has exited.
const (
	JobStateIdle     JobState = "idle"
	JobStateRunning  JobState = "running"
	JobStateStopping JobState = "stopping"
	JobStateStopped  JobState = "stopped"
)

// RenderMethod records which fetch path produced the final HTML of a page.
type RenderMethod string

// Supported render methods.
const (
	RenderStatic   RenderMethod = "static"
	RenderHeadless RenderMethod = "headless"
)

// FrontierEntry is a discovered URL awaiting fetch. URL holds the
// canonicalized form and is unique within its domain partition.
type FrontierEntry struct {
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Priority     float64   `json:"priority"`
	Depth        int       `json:"depth"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Page is the raw outcome of fetching a single URL, static or rendered.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Result is emitted for each processed page and consumed by downstream
// scoring, storage, and progress reporting.
type Result struct {
	JobID          string       `json:"job_id"`
	URL            string       `json:"url"`
	FinalURL       string       `json:"final_url"`
	StatusCode     int          `json:"status_code"`
	RenderMethod   RenderMethod `json:"render_method"`
	RenderReason   string       `json:"render_reason,omitempty"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	Depth          int          `json:"depth"`
	Links          []string     `json:"links"`
	Title          string       `json:"title"`
	Text           string       `json:"text"`
	ContentHash    string       `json:"content_hash"`
	NearDuplicate  bool         `json:"near_duplicate"`
	FetchedAt      time.Time    `json:"fetched_at"`
}

// JobStats aggregates per-job counters. All counters are monotonic except
// AvgResponseTimeMs, which is a running mean over crawled pages.
type JobStats struct {
	State             JobState  `json:"state"`
	Crawled           int64     `json:"crawled"`
	Skipped           int64     `json:"skipped"`
	Errors            int64     `json:"errors"`
	JSRendered        int64     `json:"js_rendered"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	FrontierSize      int       `json:"frontier_size"`
	StartedAt         time.Time `json:"started_at"`
}
