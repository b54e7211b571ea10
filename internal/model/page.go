package model

import "time"

// PageType is a coarse page classification used as a selection hint.
type PageType string

const (
	PageTypeHomepage PageType = "homepage"
	PageTypeAbout    PageType = "about"
	PageTypeServices PageType = "services"
	PageTypeProducts PageType = "products"
	PageTypePricing  PageType = "pricing"
	PageTypeContact  PageType = "contact"
	PageTypeTeam     PageType = "team"
	PageTypeBlog     PageType = "blog"
	PageTypeOther    PageType = "other"
)

// PageSource records how a page was discovered.
type PageSource string

const (
	PageSourceSitemap PageSource = "sitemap"
	PageSourceRobots  PageSource = "robots"
	PageSourceCrawl   PageSource = "crawl"
	PageSourceSeed    PageSource = "seed"
)

// DiscoveredPage is one candidate page surfaced by discovery. URL is
// canonicalized: absolute, HTTP(S), no fragment, no trailing slash except
// the root.
type DiscoveredPage struct {
	URL          string     `json:"url"`
	Path         string     `json:"path"`
	Source       PageSource `json:"source"`
	TypeHint     PageType   `json:"page_type_hint"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

// DiscoveryResult is the output of the discovery stage. HasSitemap and
// HasRobots are reported regardless of how pages were harvested; the SEO
// analyzer turns their absence into site-wide findings.
type DiscoveryResult struct {
	Origin       string           `json:"origin"`
	Pages        []DiscoveredPage `json:"pages"`
	HasSitemap   bool             `json:"has_sitemap"`
	HasRobots    bool             `json:"has_robots"`
	SitemapError string           `json:"sitemap_error,omitempty"`
	RobotsError  string           `json:"robots_error,omitempty"`
}

// Contains reports whether a URL was discovered.
func (d *DiscoveryResult) Contains(url string) bool {
	for _, p := range d.Pages {
		if p.URL == url {
			return true
		}
	}
	return false
}

// Homepage returns the discovered homepage URL, or the origin when the
// homepage was not explicitly listed.
func (d *DiscoveryResult) Homepage() string {
	for _, p := range d.Pages {
		if p.TypeHint == PageTypeHomepage {
			return p.URL
		}
	}
	return d.Origin
}

// SelectionStrategy records which path produced the page selection.
type SelectionStrategy string

const (
	SelectionStrategyLLM      SelectionStrategy = "llm"
	SelectionStrategyFallback SelectionStrategy = "fallback"
)

// PageSelection partitions selected URLs per analyzer module. Every URL
// must appear in discovery; the homepage is present in every non-empty
// list.
type PageSelection struct {
	SEOPages     []string          `json:"seo_pages"`
	ContentPages []string          `json:"content_pages"`
	VisualPages  []string          `json:"visual_pages"`
	SocialPages  []string          `json:"social_pages"`
	Strategy     SelectionStrategy `json:"strategy"`
}

// All returns the deduplicated union of every module's pages, in
// first-seen order.
func (s *PageSelection) All() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{s.SEOPages, s.ContentPages, s.VisualPages, s.SocialPages} {
		for _, u := range list {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	return out
}

// Contains reports whether a URL was selected for any module.
func (s *PageSelection) Contains(url string) bool {
	for _, u := range s.All() {
		if u == url {
			return true
		}
	}
	return false
}
