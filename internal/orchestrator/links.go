package orchestrator

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkPolicy bounds what extracted links qualify for the frontier.
type LinkPolicy struct {
	MaxLinks        int
	AllowSubdomains bool
}

// Non-content file extensions never worth crawling.
var skipExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".css": {}, ".js": {}, ".mjs": {}, ".json": {}, ".xml": {}, ".rss": {},
	".pdf": {}, ".zip": {}, ".gz": {}, ".tar": {}, ".rar": {}, ".7z": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".webm": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
}

// Path segments that expand crawl space without adding content.
var skipPathSegments = []string{"/page/", "/tag/", "/tags/", "/author/", "/feed/"}

// extractLinks pulls qualifying anchor targets out of the page, resolved
// against baseURL and bounded by the policy.
func extractLinks(baseURL string, body []byte, policy LinkPolicy) []string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if policy.MaxLinks > 0 && len(links) >= policy.MaxLinks {
			return false
		}
		href, _ := s.Attr("href")
		resolved, ok := qualifyLink(base, href, policy)
		if !ok {
			return true
		}
		if _, dup := seen[resolved]; dup {
			return true
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
		return true
	})
	return links
}

func qualifyLink(base *url.URL, href string, policy LinkPolicy) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if !sameOrigin(base.Hostname(), resolved.Hostname(), policy.AllowSubdomains) {
		return "", false
	}
	path := strings.ToLower(resolved.Path)
	if dot := strings.LastIndex(path, "."); dot >= 0 {
		if _, skip := skipExtensions[path[dot:]]; skip {
			return "", false
		}
	}
	for _, seg := range skipPathSegments {
		if strings.Contains(path, seg) {
			return "", false
		}
	}
	if resolved.Query().Get("page") != "" {
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}

func sameOrigin(baseHost, linkHost string, allowSubdomains bool) bool {
	baseHost = strings.ToLower(baseHost)
	linkHost = strings.ToLower(linkHost)
	if baseHost == linkHost {
		return true
	}
	if !allowSubdomains {
		return false
	}
	return strings.HasSuffix(linkHost, "."+baseHost) || strings.HasSuffix(baseHost, "."+linkHost)
}

// extractContent returns the page title and its whitespace-normalized
// visible text.
func extractContent(body []byte) (string, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())

	sel := doc.Find("body")
	if sel.Length() == 0 {
		return title, ""
	}
	clone := sel.Clone()
	clone.Find("script, style, noscript, nav, footer, header").Remove()
	text := strings.Join(strings.Fields(clone.Text()), " ")
	return title, text
}
