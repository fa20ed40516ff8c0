package crawl

import "context"

// Fetcher retrieves the static HTML for a URL without executing JavaScript.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Renderer executes a page in a real browser and returns the final DOM.
// Implementations own a shared browser context; each Render call must use an
// isolated page that is always closed before returning.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
	Close(ctx context.Context) error
}

// Deduplicator gates pages on content identity rather than URL identity.
type Deduplicator interface {
	IsDuplicate(ctx context.Context, url string, content []byte) (bool, error)
	IsNearDuplicate(ctx context.Context, content []byte) (bool, error)
}

// ResultSink persists completed page records for downstream consumers.
type ResultSink interface {
	SaveResult(ctx context.Context, result Result) error
}

// Publisher pushes completed page payloads to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}
