package capture

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"root", "https://example.com/", "homepage"},
		{"no path", "https://example.com", "homepage"},
		{"simple", "https://example.com/about-us", "about-us"},
		{"trailing slash", "https://example.com/services/", "services"},
		{"nested", "https://example.com/blog/post-1", "blog-post-1"},
		{"uppercase", "https://example.com/About-Us", "about-us"},
		{"query ignored", "https://example.com/pricing?ref=nav", "pricing"},
		{"underscores", "https://example.com/our_team", "our-team"},
		{"diacritics fold", "https://example.com/café-menü", "cafe-menu"},
		{"symbols collapse", "https://example.com/a//b>>c", "a-b-c"},
		{"only slashes", "https://example.com///", "homepage"},
		{"unparseable", "://nope", "homepage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Slug(tt.url))
		})
	}
}

func TestSlug_TruncatesLongPaths(t *testing.T) {
	t.Parallel()

	long := "https://example.com/" + strings.Repeat("a", 200)
	s := Slug(long)
	assert.Len(t, s, maxSlugLen)
	assert.False(t, strings.HasSuffix(s, "-"))
}

func TestSlug_AllSymbolsFallsBack(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "page", Slug("https://example.com/%E2%98%83"))
}

func TestRunDir(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("artifacts", "run-1"), RunDir("artifacts", "run-1"))
}
