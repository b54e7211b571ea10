package discovery

import (
	"context"
	"net/url"

	"github.com/temoto/robotstxt"
)

// robotsInfo holds the parsed robots.txt for the audit target. A nil
// data field means no robots.txt was found; everything is then allowed.
type robotsInfo struct {
	data     *robotstxt.RobotsData
	sitemaps []string
}

// fetchRobots retrieves and parses /robots.txt. The error return is
// informational: discovery proceeds without robots, it just records
// has_robots=false plus the error string for the SEO analyzer.
func fetchRobots(ctx context.Context, f *fetcher, origin *url.URL) (*robotsInfo, error) {
	body, err := f.get(ctx, origin.String()+"/robots.txt")
	if err != nil {
		return &robotsInfo{}, err
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return &robotsInfo{}, err
	}

	return &robotsInfo{
		data:     data,
		sitemaps: data.Sitemaps,
	}, nil
}

// found reports whether a robots.txt was fetched and parsed.
func (r *robotsInfo) found() bool {
	return r != nil && r.data != nil
}

// allowed checks the robots rules for the given URL path. Pages the
// site disallows are dropped at ingestion; with no robots.txt every
// path passes.
func (r *robotsInfo) allowed(rawURL, agent string) bool {
	if !r.found() {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return r.data.TestAgent(path, agent)
}
