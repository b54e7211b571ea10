// Package discovery enumerates a site's candidate pages before anything
// is captured or analyzed. It harvests sitemap.xml and robots.txt
// Sitemap directives first and falls back to a bounded same-site crawl
// when neither yields pages. Every URL is canonicalized, deduplicated,
// and passed through the URL filter before it enters the result.
package discovery

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/urlfilter"
)

// ErrNoPages signals that not even the seed page could be discovered.
// The run cannot proceed past this.
var ErrNoPages = eris.New("discovery: no pages found")

// Discoverer finds the auditable pages of a site.
type Discoverer struct {
	cfg   config.DiscoveryConfig
	fetch *fetcher
	log   *zap.Logger
}

// New creates a Discoverer from the discovery configuration.
func New(cfg config.DiscoveryConfig) *Discoverer {
	return &Discoverer{
		cfg:   cfg,
		fetch: newFetcher(cfg.UserAgent, cfg.FetchPerSecond, time.Duration(cfg.TimeoutSecs)*time.Second),
		log:   zap.L().With(zap.String("component", "discovery")),
	}
}

// Discover enumerates candidate pages for the given seed URL. Single
// fetch failures are non-fatal; the robots and sitemap status flags are
// reported regardless of which source produced the pages. When the
// error is ErrNoPages the returned result is still populated with those
// flags so a failed run can explain itself.
func (d *Discoverer) Discover(ctx context.Context, seedURL string) (*model.DiscoveryResult, error) {
	origin, seed, err := normalizeSeed(seedURL)
	if err != nil {
		return nil, err
	}

	result := &model.DiscoveryResult{Origin: origin.String()}

	robots, robotsErr := fetchRobots(ctx, d.fetch, origin)
	result.HasRobots = robots.found()
	if robotsErr != nil {
		result.RobotsError = robotsErr.Error()
	}

	harvestCap := d.cfg.MaxPages * 5
	if harvestCap <= 0 {
		harvestCap = 300
	}

	// Conventional sitemap locations first, then whatever robots.txt
	// advertises. The shared seen set stops the second pass from
	// re-fetching files the first already walked.
	seen := make(map[string]bool)
	convURLs, convFound, convErr := harvestSitemaps(ctx, d.fetch, []string{
		origin.String() + "/sitemap.xml",
		origin.String() + "/sitemap_index.xml",
	}, seen, harvestCap)
	robURLs, robFound, robErr := harvestSitemaps(ctx, d.fetch, robots.sitemaps, seen, harvestCap)

	result.HasSitemap = convFound || robFound
	if !result.HasSitemap {
		switch {
		case convErr != nil:
			result.SitemapError = convErr.Error()
		case robErr != nil:
			result.SitemapError = robErr.Error()
		}
	}

	index := make(map[string]bool)
	var pages []model.DiscoveredPage
	now := time.Now().UTC()

	add := func(raw string, source model.PageSource) {
		canonical, err := canonicalize(origin, raw)
		if err != nil || !sameSite(origin, canonical) {
			return
		}
		if !urlfilter.Check(canonical).Keep {
			return
		}
		if !robots.allowed(canonical, d.cfg.UserAgent) {
			return
		}
		if index[canonical] {
			return
		}
		index[canonical] = true
		pages = append(pages, model.DiscoveredPage{
			URL:          canonical,
			Path:         pathOf(canonical),
			Source:       source,
			TypeHint:     classifyPath(canonical),
			DiscoveredAt: now,
		})
	}

	for _, u := range convURLs {
		add(u, model.PageSourceSitemap)
	}
	for _, u := range robURLs {
		add(u, model.PageSourceRobots)
	}

	// Nothing harvested: fan out from the seed page. This is also the
	// reachability check; a site with no sitemap whose homepage does
	// not answer has nothing to audit.
	if len(pages) == 0 {
		links, crawlErr := crawlLinks(ctx, origin, seed, d.cfg, harvestCap)
		if crawlErr != nil {
			if ctx.Err() != nil {
				return result, eris.Wrap(ctx.Err(), "discovery")
			}
			d.log.Warn("crawl fallback failed",
				zap.String("seed", seed),
				zap.Error(crawlErr),
			)
			return result, eris.Wrapf(ErrNoPages, "seed unreachable: %v", crawlErr)
		}
		for _, l := range links {
			add(l, model.PageSourceCrawl)
		}
	}

	pages = hoistSeed(pages, seed, now)

	if d.cfg.MaxPages > 0 && len(pages) > d.cfg.MaxPages {
		pages = pages[:d.cfg.MaxPages]
	}
	if len(pages) == 0 {
		return result, eris.Wrapf(ErrNoPages, "no auditable pages at %s", origin)
	}

	result.Pages = pages
	d.log.Info("discovery complete",
		zap.String("origin", origin.String()),
		zap.Int("pages", len(pages)),
		zap.Bool("has_sitemap", result.HasSitemap),
		zap.Bool("has_robots", result.HasRobots),
	)
	return result, nil
}

// hoistSeed moves the seed page to the front of the list, inserting it
// when no source listed it. The seed bypasses the robots rules (it is
// the explicit audit target) and goes through the capture-time filter
// so a query-string seed survives.
func hoistSeed(pages []model.DiscoveredPage, seed string, now time.Time) []model.DiscoveredPage {
	for i, p := range pages {
		if p.URL != seed {
			continue
		}
		if i == 0 {
			return pages
		}
		hoisted := append([]model.DiscoveredPage{p}, pages[:i]...)
		return append(hoisted, pages[i+1:]...)
	}

	if !urlfilter.CheckCapture(seed).Keep {
		return pages
	}
	seedPage := model.DiscoveredPage{
		URL:          seed,
		Path:         pathOf(seed),
		Source:       model.PageSourceSeed,
		TypeHint:     classifyPath(seed),
		DiscoveredAt: now,
	}
	return append([]model.DiscoveredPage{seedPage}, pages...)
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}
