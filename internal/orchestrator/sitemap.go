package orchestrator

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/crawl"
)

// Well-known sitemap locations probed once per seed domain.
var sitemapProbePaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemaps.xml",
}

const sitemapPriority = 0.9

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// discoverSitemaps probes the domain's well-known sitemap paths plus any
// robots-declared locations and returns up to limit URLs. Index files are
// followed one level deep.
func (j *Job) discoverSitemaps(ctx context.Context, scheme, domain string, hinted []string) []string {
	limit := j.cfg.SitemapSeedLimit
	if limit <= 0 {
		return nil
	}

	candidates := append([]string(nil), hinted...)
	for _, path := range sitemapProbePaths {
		candidates = append(candidates, fmt.Sprintf("%s://%s%s", scheme, domain, path))
	}

	var urls []string
	for _, candidate := range candidates {
		if len(urls) >= limit {
			break
		}
		found := j.fetchSitemap(ctx, candidate, true, limit-len(urls))
		if len(found) > 0 {
			urls = append(urls, found...)
			// One sitemap per domain is plenty for seeding.
			break
		}
	}
	return urls
}

func (j *Job) fetchSitemap(ctx context.Context, sitemapURL string, followIndex bool, limit int) []string {
	page, err := j.fetcher.Fetch(ctx, sitemapURL)
	if err != nil || page.StatusCode != http.StatusOK {
		return nil
	}

	var urlset sitemapURLSet
	if err := xml.Unmarshal(page.Body, &urlset); err == nil && len(urlset.URLs) > 0 {
		urls := make([]string, 0, len(urlset.URLs))
		for _, u := range urlset.URLs {
			if len(urls) >= limit {
				break
			}
			if u.Loc != "" {
				urls = append(urls, u.Loc)
			}
		}
		return urls
	}

	if !followIndex {
		return nil
	}
	var index sitemapIndex
	if err := xml.Unmarshal(page.Body, &index); err != nil || len(index.Sitemaps) == 0 {
		return nil
	}
	var urls []string
	for _, child := range index.Sitemaps {
		if len(urls) >= limit {
			break
		}
		if child.Loc == "" {
			continue
		}
		urls = append(urls, j.fetchSitemap(ctx, child.Loc, false, limit-len(urls))...)
	}
	return urls
}

// seedSitemaps runs sitemap discovery for each distinct seed domain and
// enqueues the findings at high priority, depth 1.
func (j *Job) seedSitemaps(ctx context.Context, seeds []crawl.FrontierEntry) {
	probed := make(map[string]struct{})
	for _, seed := range seeds {
		if _, done := probed[seed.Domain]; done {
			continue
		}
		probed[seed.Domain] = struct{}{}

		var hinted []string
		if j.policies != nil {
			if policy := j.policies.Policy(ctx, seed.Domain); policy != nil {
				hinted = policy.Sitemaps
			}
		}
		urls := j.discoverSitemaps(ctx, seedScheme(seed.URL), seed.Domain, hinted)
		for _, u := range urls {
			if ok, err := j.frontier.Add(ctx, u, sitemapPriority, 1); err != nil {
				j.logger.Warn("sitemap seed failed", zap.String("url", u), zap.Error(err))
			} else if ok {
				j.logger.Debug("sitemap url seeded", zap.String("url", u))
			}
		}
	}
}
