// Package render decides whether a fetched page needs JavaScript rendering
// and provides the browser-backed renderer used when it does.
package render

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Decision is the outcome of analyzing a fetched page.
type Decision struct {
	Needs  bool
	Reason string
}

// signature is one JS-framework or app-shell marker. Kind distinguishes
// markers that need extra context before they are trusted.
type signature struct {
	name    string
	pattern *regexp.Regexp
	kind    signatureKind
}

type signatureKind int

const (
	kindAppShell signatureKind = iota
	kindJSONLD
	kindLazyLoad
)

var signatures = []signature{
	{"empty react root", regexp.MustCompile(`<div[^>]+id=["']root["'][^>]*>\s*</div>`), kindAppShell},
	{"empty app container", regexp.MustCompile(`<div[^>]+id=["']app["'][^>]*>\s*</div>`), kindAppShell},
	{"next.js data script", regexp.MustCompile(`__NEXT_DATA__`), kindAppShell},
	{"nuxt bootstrap", regexp.MustCompile(`window\.__NUXT__`), kindAppShell},
	{"angular app root", regexp.MustCompile(`<app-root[^>]*>\s*</app-root>`), kindAppShell},
	{"ember bootstrap", regexp.MustCompile(`ember-application`), kindAppShell},
	{"webpack chunk loader", regexp.MustCompile(`webpackJsonp|__webpack_require__`), kindAppShell},
	{"vite module preload", regexp.MustCompile(`<script[^>]+type=["']module["'][^>]+/assets/`), kindAppShell},
	{"json-ld only", regexp.MustCompile(`application/ld\+json`), kindJSONLD},
	{"lazy-load marker", regexp.MustCompile(`data-lazy|lazyload|loading=["']lazy["']`), kindLazyLoad},
	{"infinite scroll marker", regexp.MustCompile(`infinite-scroll|data-infinite`), kindLazyLoad},
}

var hashRoutePattern = regexp.MustCompile(`href=["']#/`)

// URL path segments that almost always front an app shell.
var appPathSegments = []string{"/admin", "/app/", "/dashboard", "/console"}

// SPA-oriented site generators reported via meta generator.
var spaGenerators = []string{"gatsby", "docusaurus", "gridsome", "scully"}

const (
	minPlausibleHTMLBytes = 512
	lazyLoadWordCarveOut  = 200
	substantialWordCount  = 100
	substantialParagraphs = 3
)

// DecisionConfig tunes the classifier; zero values select the defaults.
type DecisionConfig struct {
	MinHTMLBytes int
}

// Decider classifies fetched pages as static-renderable or JS-dependent.
type Decider struct {
	minHTMLBytes int
}

// NewDecider constructs a Decider.
func NewDecider(cfg DecisionConfig) *Decider {
	min := cfg.MinHTMLBytes
	if min <= 0 {
		min = minPlausibleHTMLBytes
	}
	return &Decider{minHTMLBytes: min}
}

// Decide runs the heuristic chain, cheapest checks first; the first match
// wins. Any internal analysis error fails toward the cheaper path: no
// rendering, with the failure recorded in Reason.
func (d *Decider) Decide(pageURL string, headers http.Header, rawHTML []byte) Decision {
	decision, err := d.analyze(pageURL, headers, rawHTML)
	if err != nil {
		return Decision{Needs: false, Reason: fmt.Sprintf("analysis failed: %v", err)}
	}
	return decision
}

func (d *Decider) analyze(pageURL string, headers http.Header, rawHTML []byte) (Decision, error) {
	contentType := headers.Get("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "html") {
		return Decision{true, fmt.Sprintf("non-html content type %q", contentType)}, nil
	}

	html := string(rawHTML)
	lower := strings.ToLower(html)

	if len(rawHTML) < d.minHTMLBytes && !strings.Contains(lower, "<article") {
		return Decision{true, fmt.Sprintf("implausibly small body (%d bytes)", len(rawHTML))}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Decision{}, fmt.Errorf("parse html: %w", err)
	}
	words := visibleWordCount(doc)

	if sig, matched := matchSignature(lower, html, words); matched {
		return Decision{true, "framework signature: " + sig}, nil
	}

	if !hasSubstantialContent(doc, words) {
		if hasLoadingPlaceholders(doc) {
			return Decision{true, "loading placeholder with no content"}, nil
		}
		return Decision{true, "no substantial content"}, nil
	}

	if gen, matched := spaGenerator(doc); matched {
		return Decision{true, "spa site generator: " + gen}, nil
	}
	if seg, matched := appLikePath(pageURL, html); matched {
		return Decision{true, "app-like url path: " + seg}, nil
	}

	return Decision{false, "substantial static content"}, nil
}

// matchSignature applies the signature table with two carve-outs: a JSON-LD
// match alone is not sufficient when substantial surrounding text exists,
// and a lazy-load match is not sufficient when the page already shows at
// least 200 words of visible text.
func matchSignature(lowerHTML, html string, visibleWords int) (string, bool) {
	for _, sig := range signatures {
		if !sig.pattern.MatchString(html) && !sig.pattern.MatchString(lowerHTML) {
			continue
		}
		switch sig.kind {
		case kindJSONLD:
			if visibleWords >= substantialWordCount {
				continue
			}
		case kindLazyLoad:
			if visibleWords >= lazyLoadWordCarveOut {
				continue
			}
		}
		return sig.name, true
	}
	return "", false
}

// Content region selectors checked for the "substantial content" test.
var contentRegionSelectors = []string{
	"article", "main", "[role=main]", "#content", ".content", ".post", ".entry-content",
}

func hasSubstantialContent(doc *goquery.Document, visibleWords int) bool {
	for _, sel := range contentRegionSelectors {
		region := doc.Find(sel).First()
		if region.Length() == 0 {
			continue
		}
		if wordCount(region.Text()) >= substantialWordCount {
			return true
		}
	}
	if doc.Find("p").Length() >= substantialParagraphs {
		return true
	}
	// Heading plus paragraph/list density: a structured document even if
	// short.
	headings := doc.Find("h1, h2, h3").Length()
	blocks := doc.Find("p, li").Length()
	if headings >= 1 && blocks >= 4 && visibleWords >= 50 {
		return true
	}
	if hasArticleMetadata(doc) {
		return true
	}
	return false
}

func hasArticleMetadata(doc *goquery.Document) bool {
	if doc.Find(`meta[property="og:type"][content="article"]`).Length() > 0 {
		return true
	}
	if doc.Find(`meta[property="article:published_time"]`).Length() > 0 {
		return true
	}
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), `"Article"`) || strings.Contains(s.Text(), `"NewsArticle"`) {
			found = true
			return false
		}
		return true
	})
	return found
}

func hasLoadingPlaceholders(doc *goquery.Document) bool {
	if doc.Find(".spinner, .loading, .loader, [class*=skeleton]").Length() > 0 {
		return true
	}
	empty := false
	doc.Find("#root, #app, [data-reactroot]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) == "" {
			empty = true
			return false
		}
		return true
	})
	return empty
}

func spaGenerator(doc *goquery.Document) (string, bool) {
	content, ok := doc.Find(`meta[name="generator"]`).First().Attr("content")
	if !ok {
		return "", false
	}
	lower := strings.ToLower(content)
	for _, gen := range spaGenerators {
		if strings.Contains(lower, gen) {
			return gen, true
		}
	}
	return "", false
}

func appLikePath(pageURL, html string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	path := strings.ToLower(u.Path)
	for _, seg := range appPathSegments {
		if strings.Contains(path+"/", seg) {
			return seg, true
		}
	}
	if hashRoutePattern.MatchString(html) {
		return "#/ hash routing", true
	}
	return "", false
}

func visibleWordCount(doc *goquery.Document) int {
	body := doc.Find("body")
	if body.Length() == 0 {
		return wordCount(doc.Text())
	}
	clone := body.Clone()
	clone.Find("script, style, noscript").Remove()
	return wordCount(clone.Text())
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
