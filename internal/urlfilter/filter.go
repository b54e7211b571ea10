// Package urlfilter decides which URLs are worth auditing. The same
// predicate is applied at sitemap ingestion, after LLM page selection, and
// immediately before the capture engine opens a page.
package urlfilter

import (
	"net/url"
	"path"
	"strings"
)

// Decision is the filter verdict for one URL. Reason is set only on reject.
type Decision struct {
	Keep   bool
	Reason string
}

// downloadExtensions are file types the browser would download instead of
// rendering, plus raw assets that carry no auditable page content.
var downloadExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true,
	".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".wmv": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".svg": true, ".ico": true,
	".csv": true, ".json": true,
}

// excludePathParts are non-content paths: auth surfaces, commerce flows,
// admin panels, machine endpoints.
var excludePathParts = []string{
	"/login", "/logout", "/signin", "/sign-in", "/signup", "/sign-up",
	"/register", "/auth/", "/oauth", "/sso/",
	"/cart", "/checkout", "/account",
	"/admin", "/wp-admin", "/wp-login",
	"/api/",
}

// Check applies the discovery-time predicate. Query-string URLs are
// rejected here; selection may reintroduce specific query URLs, which pass
// through CheckCapture instead.
func Check(raw string) Decision {
	d := checkBase(raw)
	if !d.Keep {
		return d
	}
	u, _ := url.Parse(raw)
	if u.RawQuery != "" {
		return Decision{Reason: "query string"}
	}
	return Decision{Keep: true}
}

// CheckCapture applies the capture-time predicate: identical to Check
// except query strings are allowed.
func CheckCapture(raw string) Decision {
	return checkBase(raw)
}

func checkBase(raw string) Decision {
	u, err := url.Parse(raw)
	if err != nil {
		return Decision{Reason: "unparseable"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Decision{Reason: "scheme " + u.Scheme}
	}
	if u.Host == "" {
		return Decision{Reason: "no host"}
	}

	lower := strings.ToLower(u.Path)
	if ext := path.Ext(lower); downloadExtensions[ext] {
		return Decision{Reason: "extension " + ext}
	}
	for _, part := range excludePathParts {
		if strings.Contains(lower, part) {
			return Decision{Reason: "excluded path " + part}
		}
	}
	return Decision{Keep: true}
}

// Apply filters a list with Check, preserving order. Idempotent: applying
// it to its own output returns the same list.
func Apply(urls []string) []string {
	kept := make([]string, 0, len(urls))
	for _, u := range urls {
		if Check(u).Keep {
			kept = append(kept, u)
		}
	}
	return kept
}
