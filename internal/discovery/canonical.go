package discovery

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// normalizeSeed validates the audit target URL and returns the site
// origin (scheme://host) together with the canonical seed page URL. A
// bare hostname is accepted and treated as https.
func normalizeSeed(raw string) (origin *url.URL, seed string, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, "", eris.New("discovery: empty seed URL")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, "", eris.Wrapf(err, "discovery: parse seed URL %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", eris.Errorf("discovery: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, "", eris.Errorf("discovery: seed URL %q has no host", raw)
	}

	origin = &url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}
	seed, err = canonicalize(origin, u.String())
	if err != nil {
		return nil, "", err
	}
	return origin, seed, nil
}

// canonicalize resolves raw against the origin and normalizes it:
// lowercase scheme and host, default port stripped, fragment dropped,
// trailing slash removed everywhere except the root. Returns an error
// for unparseable or cross-scheme URLs.
func canonicalize(origin *url.URL, raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", eris.Wrapf(err, "discovery: parse %q", raw)
	}
	u = origin.ResolveReference(u)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", eris.Errorf("discovery: unsupported scheme %q", u.Scheme)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.Path == "" {
		u.Path = "/"
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// sameSite reports whether u belongs to the audited site. The www
// prefix is ignored so that example.com and www.example.com are
// interchangeable; other subdomains are off-site.
func sameSite(origin *url.URL, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return bareHost(u.Host) == bareHost(origin.Host)
}

func bareHost(host string) string {
	host = strings.ToLower(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}
