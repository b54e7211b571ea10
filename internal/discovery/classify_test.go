package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/audit-cli/internal/model"
)

func TestClassifyPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want model.PageType
	}{
		{"https://example.com/", model.PageTypeHomepage},
		{"https://example.com", model.PageTypeHomepage},
		{"https://example.com/about", model.PageTypeAbout},
		{"https://example.com/about-us", model.PageTypeAbout},
		{"https://example.com/who-we-are", model.PageTypeAbout},
		{"https://example.com/contact", model.PageTypeContact},
		{"https://example.com/contact-us", model.PageTypeContact},
		{"https://example.com/services", model.PageTypeServices},
		{"https://example.com/solutions", model.PageTypeServices},
		{"https://example.com/products/widget-3000", model.PageTypeProducts},
		{"https://example.com/shop", model.PageTypeProducts},
		{"https://example.com/pricing", model.PageTypePricing},
		{"https://example.com/plans", model.PageTypePricing},
		{"https://example.com/team", model.PageTypeTeam},
		{"https://example.com/leadership", model.PageTypeTeam},
		{"https://example.com/blog", model.PageTypeBlog},
		{"https://example.com/blog/2024/some-post", model.PageTypeBlog},
		{"https://example.com/news", model.PageTypeBlog},
		{"https://example.com/widgets", model.PageTypeOther},
		{"https://example.com/x/y/z", model.PageTypeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyPath(tt.url), tt.url)
	}
}

// Only the first segment matters; a blog post about the team is still a
// blog page.
func TestClassifyPath_FirstSegmentOnly(t *testing.T) {
	t.Parallel()
	assert.Equal(t, model.PageTypeBlog, classifyPath("https://example.com/blog/about-our-team"))
	assert.Equal(t, model.PageTypeOther, classifyPath("https://example.com/widgets/pricing"))
}

func TestClassifyPath_CaseInsensitive(t *testing.T) {
	t.Parallel()
	assert.Equal(t, model.PageTypeAbout, classifyPath("https://example.com/About-Us"))
	assert.Equal(t, model.PageTypeContact, classifyPath("https://example.com/CONTACT"))
}
