// Package progress defines the event stream emitted by crawl workers and
// the hub that fans it out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/rankmybrand/geocrawl/internal/crawl"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobHeartbeat Stage = "JOB_HEARTBEAT"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StagePageFetched  Stage = "PAGE_FETCHED"
	StagePageSkipped  Stage = "PAGE_SKIPPED"
	StagePageError    Stage = "PAGE_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one unit of crawl progress. Delivery is fire-and-forget;
// no consumer needs to be attached for a crawl to proceed.
type Event struct {
	// JobID identifies the crawl job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Domain scopes page events to a host.
	Domain string
	// URL is the page URL for page events.
	URL string
	// Depth is the frontier depth of the page.
	Depth int
	// Bytes is the fetched body size.
	Bytes int64
	// StatusClass groups the HTTP response code.
	StatusClass StatusClass
	// RenderMethod records which fetch path produced the page.
	RenderMethod crawl.RenderMethod
	// Dur is the fetch or job wall time.
	Dur time.Duration
	// Note carries low-volume context such as a skip reason or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobHeartbeat, StageJobDone, StageJobError:
	case StagePageFetched:
		if e.Domain == "" {
			return errors.New("page fetched requires domain")
		}
		if e.StatusClass == "" {
			return errors.New("page fetched requires status class")
		}
	case StagePageSkipped, StagePageError:
		if e.URL == "" {
			return errors.New("page event requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
