package render

import (
	"context"
	"errors"

	"github.com/rankmybrand/geocrawl/internal/crawl"
)

// ErrDisabled is returned by the disabled renderer.
var ErrDisabled = errors.New("headless rendering disabled")

// Disabled implements crawl.Renderer for builds without a browser. Every
// Render call fails, so callers fall back to the static fetch.
type Disabled struct{}

// NewDisabled creates a renderer that always declines.
func NewDisabled() Disabled {
	return Disabled{}
}

func (Disabled) Render(context.Context, string) (crawl.Page, error) {
	return crawl.Page{}, ErrDisabled
}

func (Disabled) Close(context.Context) error { return nil }
