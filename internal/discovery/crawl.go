package discovery

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/urlfilter"
)

// crawlParallelism bounds concurrent crawl requests against the target.
const crawlParallelism = 4

// crawlLinks walks same-site anchor hrefs starting from the seed page,
// used when no sitemap yielded anything. Robots rules are enforced
// centrally at ingestion, so the collector's own robots support stays
// off (it would re-fetch robots.txt per request). Returns the collected
// URLs in first-seen order; the error is non-nil only when the seed
// page itself never answered.
func crawlLinks(ctx context.Context, origin *url.URL, seed string, cfg config.DiscoveryConfig, pageCap int) ([]string, error) {
	log := zap.L().With(zap.String("component", "discovery"))

	c := colly.NewCollector(
		colly.Async(true),
		colly.MaxDepth(cfg.MaxCrawlDepth),
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
		colly.AllowedDomains(allowedHosts(origin)...),
	)
	c.SetRequestTimeout(time.Duration(cfg.TimeoutSecs) * time.Second)

	delay := time.Duration(0)
	if cfg.FetchPerSecond > 0 {
		delay = time.Duration(float64(time.Second) / cfg.FetchPerSecond)
	}
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: crawlParallelism,
		Delay:       delay,
	}); err != nil {
		return nil, eris.Wrap(err, "discovery: set crawl limit")
	}

	var (
		mu        sync.Mutex
		seen      = make(map[string]bool)
		links     []string
		responses int
		seedErr   error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		responses++
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if seedErr == nil {
			seedErr = err
		}
		log.Debug("crawl request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Error(err),
		)
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		abs := e.Request.AbsoluteURL(e.Attr("href"))
		if abs == "" {
			return
		}
		canonical, err := canonicalize(origin, abs)
		if err != nil || !sameSite(origin, canonical) {
			return
		}
		if !urlfilter.Check(canonical).Keep {
			return
		}

		mu.Lock()
		full := len(links) >= pageCap
		if !full && !seen[canonical] {
			seen[canonical] = true
			links = append(links, canonical)
		}
		mu.Unlock()

		if !full {
			_ = e.Request.Visit(canonical)
		}
	})

	if err := c.Visit(seed); err != nil {
		return nil, eris.Wrapf(err, "discovery: crawl %s", seed)
	}
	c.Wait()

	if responses == 0 {
		if seedErr == nil {
			seedErr = eris.Errorf("discovery: no response from %s", seed)
		}
		return nil, eris.Wrap(seedErr, "discovery: crawl seed unreachable")
	}

	log.Debug("crawl finished",
		zap.Int("links", len(links)),
		zap.Int("responses", responses),
	)
	return links, nil
}

// allowedHosts returns the host spellings colly should follow: the
// origin host plus its www-prefixed or bare twin.
func allowedHosts(origin *url.URL) []string {
	host := origin.Hostname()
	bare := bareHost(host)
	if bare == host {
		return []string{host, "www." + host}
	}
	return []string{host, bare}
}
