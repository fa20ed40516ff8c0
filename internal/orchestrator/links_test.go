package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLinksFiltersAndResolves(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/about">About</a>
		<a href="https://example.org/pricing">Pricing</a>
		<a href="https://other.example/else">Elsewhere</a>
		<a href="/brochure.pdf">Brochure</a>
		<a href="/styles.css">Styles</a>
		<a href="/tag/widgets">Tag</a>
		<a href="/page/2">Pagination</a>
		<a href="/list?page=3">Query pagination</a>
		<a href="#section">Anchor</a>
		<a href="mailto:hi@example.org">Mail</a>
		<a href="javascript:void(0)">JS</a>
		<a href="/about">About again</a>
	</body></html>`)

	links := extractLinks("https://example.org/", body, LinkPolicy{MaxLinks: 50})
	require.Equal(t, []string{
		"https://example.org/about",
		"https://example.org/pricing",
	}, links)
}

func TestExtractLinksSubdomainPolicy(t *testing.T) {
	body := []byte(`<html><body>
		<a href="https://blog.example.org/post">Blog</a>
		<a href="https://example.org/home">Home</a>
	</body></html>`)

	strict := extractLinks("https://example.org/", body, LinkPolicy{MaxLinks: 50})
	require.Equal(t, []string{"https://example.org/home"}, strict)

	open := extractLinks("https://example.org/", body, LinkPolicy{MaxLinks: 50, AllowSubdomains: true})
	require.Len(t, open, 2)
}

func TestExtractLinksBoundsCount(t *testing.T) {
	var body []byte
	body = append(body, []byte("<html><body>")...)
	for i := 0; i < 20; i++ {
		body = append(body, []byte(`<a href="/p`+string(rune('a'+i))+`">x</a>`)...)
	}
	body = append(body, []byte("</body></html>")...)

	links := extractLinks("https://example.org/", body, LinkPolicy{MaxLinks: 5})
	require.Len(t, links, 5)
}

func TestExtractContent(t *testing.T) {
	body := []byte(`<html><head><title> Widget Review </title></head><body>
		<nav>Menu Home</nav>
		<script>var tracking = 1;</script>
		<article><p>Widgets   are  great.</p></article>
		<footer>Copyright</footer>
	</body></html>`)

	title, text := extractContent(body)
	require.Equal(t, "Widget Review", title)
	require.Equal(t, "Widgets are great.", text)
}

func TestChildPriorityDecaysWithFloor(t *testing.T) {
	require.InDelta(t, 0.8, childPriority(1.0), 1e-9)
	require.InDelta(t, 0.1, childPriority(0.05), 1e-9)
}
