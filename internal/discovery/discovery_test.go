package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
)

func testDiscoveryConfig(maxPages int) config.DiscoveryConfig {
	return config.DiscoveryConfig{
		MaxPages:       maxPages,
		MaxCrawlDepth:  2,
		TimeoutSecs:    5,
		FetchPerSecond: 200,
		UserAgent:      "audit-test-agent",
	}
}

func TestDiscover_SitemapSite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprintf(w, "User-agent: *\nDisallow: /private\nSitemap: %s/extra-sitemap.xml\n", base)
		case "/sitemap.xml":
			fmt.Fprintf(w, `<urlset>
				<url><loc>%s/</loc></url>
				<url><loc>%s/about/</loc></url>
				<url><loc>%s/about</loc></url>
				<url><loc>%s/services</loc></url>
				<url><loc>%s/private/secret</loc></url>
				<url><loc>%s/files/brochure.pdf</loc></url>
				<url><loc>%s/search?q=test</loc></url>
				<url><loc>%s/blog/post-1</loc></url>
				<url><loc>https://unrelated.example/page</loc></url>
			</urlset>`, base, base, base, base, base, base, base, base)
		case "/extra-sitemap.xml":
			fmt.Fprintf(w, `<urlset><url><loc>%s/contact</loc></url></urlset>`, base)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(testDiscoveryConfig(50))
	result, err := d.Discover(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.True(t, result.HasSitemap)
	assert.True(t, result.HasRobots)
	assert.Empty(t, result.SitemapError)
	assert.Empty(t, result.RobotsError)

	// Homepage hoisted to the front; the sitemap listed it, so it keeps
	// the sitemap source.
	require.NotEmpty(t, result.Pages)
	assert.Equal(t, srv.URL+"/", result.Pages[0].URL)
	assert.Equal(t, model.PageSourceSitemap, result.Pages[0].Source)
	assert.Equal(t, model.PageTypeHomepage, result.Pages[0].TypeHint)

	urls := make(map[string]model.DiscoveredPage)
	for _, p := range result.Pages {
		urls[p.URL] = p
	}

	about, ok := urls[srv.URL+"/about"]
	require.True(t, ok, "deduplicated /about should be present")
	assert.Equal(t, model.PageTypeAbout, about.TypeHint)
	assert.Equal(t, "/about", about.Path)

	contact, ok := urls[srv.URL+"/contact"]
	require.True(t, ok, "robots-advertised sitemap page missing")
	assert.Equal(t, model.PageSourceRobots, contact.Source)

	blog, ok := urls[srv.URL+"/blog/post-1"]
	require.True(t, ok)
	assert.Equal(t, model.PageTypeBlog, blog.TypeHint)

	assert.NotContains(t, urls, srv.URL+"/private/secret", "robots-disallowed page kept")
	assert.NotContains(t, urls, srv.URL+"/files/brochure.pdf", "download extension kept")
	assert.NotContains(t, urls, srv.URL+"/search?q=test", "query URL kept at discovery")
	assert.NotContains(t, urls, "https://unrelated.example/page", "off-site URL kept")

	// One page per distinct canonical URL.
	assert.Len(t, result.Pages, len(urls))
}

func TestDiscover_CrawlFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><body>
				<a href="/about">About</a>
				<a href="/services/">Services</a>
				<a href="https://elsewhere.example/partner">Partner</a>
				<a href="/assets/logo.png">Logo</a>
				<a href="mailto:hello@example.com">Mail</a>
			</body></html>`)
		case "/about":
			fmt.Fprint(w, `<html><body><a href="/team">Team</a></body></html>`)
		case "/services":
			fmt.Fprint(w, `<html><body>Services</body></html>`)
		case "/team":
			fmt.Fprint(w, `<html><body>Team</body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(testDiscoveryConfig(50))
	result, err := d.Discover(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.False(t, result.HasSitemap)
	assert.False(t, result.HasRobots)
	assert.Contains(t, result.SitemapError, "404")
	assert.Contains(t, result.RobotsError, "404")

	require.NotEmpty(t, result.Pages)
	assert.Equal(t, srv.URL+"/", result.Pages[0].URL)
	assert.Equal(t, model.PageSourceSeed, result.Pages[0].Source)

	assert.True(t, result.Contains(srv.URL+"/about"))
	assert.True(t, result.Contains(srv.URL+"/services"), "trailing slash not canonicalized")
	assert.True(t, result.Contains(srv.URL+"/team"), "second-hop link missing")

	assert.False(t, result.Contains("https://elsewhere.example/partner"))
	for _, p := range result.Pages {
		assert.NotContains(t, p.URL, ".png")
		assert.NotContains(t, p.URL, "mailto")
		if p.URL != result.Pages[0].URL {
			assert.Equal(t, model.PageSourceCrawl, p.Source, p.URL)
		}
	}
}

func TestDiscover_DeadSite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := New(testDiscoveryConfig(50))
	result, err := d.Discover(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPages)

	// The partial result still reports what was probed.
	require.NotNil(t, result)
	assert.False(t, result.HasSitemap)
	assert.False(t, result.HasRobots)
	assert.Empty(t, result.Pages)
}

func TestDiscover_MaxPagesCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprint(w, "<urlset>")
			for i := range 10 {
				fmt.Fprintf(w, "<url><loc>%s/page-%d</loc></url>", base, i)
			}
			fmt.Fprint(w, "</urlset>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(testDiscoveryConfig(3))
	result, err := d.Discover(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Len(t, result.Pages, 3)
	// The seed slot is never squeezed out by the cap.
	assert.Equal(t, srv.URL+"/", result.Pages[0].URL)
	assert.Equal(t, model.PageSourceSeed, result.Pages[0].Source)
}

func TestDiscover_InvalidSeed(t *testing.T) {
	t.Parallel()
	d := New(testDiscoveryConfig(50))

	for _, seed := range []string{"", "ftp://example.com", "https://"} {
		result, err := d.Discover(context.Background(), seed)
		assert.Error(t, err, seed)
		assert.NotErrorIs(t, err, ErrNoPages, seed)
		assert.Nil(t, result, seed)
	}
}

func TestHoistSeed_MovesExistingToFront(t *testing.T) {
	t.Parallel()
	now := time.Now()
	pages := []model.DiscoveredPage{
		{URL: "https://example.com/about", Source: model.PageSourceSitemap},
		{URL: "https://example.com/", Source: model.PageSourceSitemap},
		{URL: "https://example.com/contact", Source: model.PageSourceSitemap},
	}

	got := hoistSeed(pages, "https://example.com/", now)
	require.Len(t, got, 3)
	assert.Equal(t, "https://example.com/", got[0].URL)
	assert.Equal(t, model.PageSourceSitemap, got[0].Source)
	assert.Equal(t, "https://example.com/about", got[1].URL)
	assert.Equal(t, "https://example.com/contact", got[2].URL)
}

func TestHoistSeed_PrependsWhenMissing(t *testing.T) {
	t.Parallel()
	now := time.Now()
	pages := []model.DiscoveredPage{
		{URL: "https://example.com/about", Source: model.PageSourceCrawl},
	}

	got := hoistSeed(pages, "https://example.com/", now)
	require.Len(t, got, 2)
	assert.Equal(t, "https://example.com/", got[0].URL)
	assert.Equal(t, model.PageSourceSeed, got[0].Source)
	assert.Equal(t, model.PageTypeHomepage, got[0].TypeHint)
	assert.Equal(t, now, got[0].DiscoveredAt)
}

func TestHoistSeed_AlreadyFront(t *testing.T) {
	t.Parallel()
	pages := []model.DiscoveredPage{
		{URL: "https://example.com/", Source: model.PageSourceSeed},
		{URL: "https://example.com/about", Source: model.PageSourceCrawl},
	}

	got := hoistSeed(pages, "https://example.com/", time.Now())
	assert.Equal(t, pages, got)
}

func TestHoistSeed_FilteredSeedNotInserted(t *testing.T) {
	t.Parallel()
	pages := []model.DiscoveredPage{
		{URL: "https://example.com/about", Source: model.PageSourceCrawl},
	}

	// A downloadable seed never becomes a page.
	got := hoistSeed(pages, "https://example.com/catalog.pdf", time.Now())
	assert.Equal(t, pages, got)
}
