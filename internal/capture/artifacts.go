package capture

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLen = 80

var slugFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug derives the artifact file stem from a page URL path. Diacritics
// fold to ASCII, anything outside [a-z0-9] collapses to single hyphens,
// and the root path maps to "homepage" so every page has a stable,
// filesystem-safe name.
func Slug(rawURL string) string {
	path := ""
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return "homepage"
	}

	if folded, _, err := transform.String(slugFold, path); err == nil {
		path = folded
	}

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(path) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			hyphen = false
		default:
			if !hyphen && b.Len() > 0 {
				b.WriteByte('-')
				hyphen = true
			}
		}
	}

	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "page"
	}
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	return s
}
