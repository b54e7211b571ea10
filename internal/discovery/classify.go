package discovery

import (
	"net/url"
	"strings"

	"github.com/sells-group/audit-cli/internal/model"
)

// pathTypeHints maps URL path segments to page type hints. The path is
// cleaned (lowercase, stripped of leading/trailing slashes) before
// matching.
var pathTypeHints = map[string]model.PageType{
	"about":        model.PageTypeAbout,
	"about-us":     model.PageTypeAbout,
	"about_us":     model.PageTypeAbout,
	"aboutus":      model.PageTypeAbout,
	"who-we-are":   model.PageTypeAbout,
	"our-story":    model.PageTypeAbout,
	"company":      model.PageTypeAbout,
	"contact":      model.PageTypeContact,
	"contact-us":   model.PageTypeContact,
	"contact_us":   model.PageTypeContact,
	"contactus":    model.PageTypeContact,
	"services":     model.PageTypeServices,
	"our-services": model.PageTypeServices,
	"what-we-do":   model.PageTypeServices,
	"solutions":    model.PageTypeServices,
	"products":     model.PageTypeProducts,
	"product":      model.PageTypeProducts,
	"shop":         model.PageTypeProducts,
	"store":        model.PageTypeProducts,
	"menu":         model.PageTypeProducts,
	"pricing":      model.PageTypePricing,
	"prices":       model.PageTypePricing,
	"plans":        model.PageTypePricing,
	"team":         model.PageTypeTeam,
	"our-team":     model.PageTypeTeam,
	"leadership":   model.PageTypeTeam,
	"staff":        model.PageTypeTeam,
	"blog":         model.PageTypeBlog,
	"news":         model.PageTypeBlog,
	"articles":     model.PageTypeBlog,
	"insights":     model.PageTypeBlog,
	"resources":    model.PageTypeBlog,
}

// classifyPath assigns a page type hint from the URL path. Only the
// first path segment is matched to avoid false positives on deep paths
// like /blog/about-our-team. Unknown paths get PageTypeOther.
func classifyPath(rawURL string) model.PageType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.PageTypeOther
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return model.PageTypeHomepage
	}
	if idx := strings.Index(path, "/"); idx > 0 {
		path = path[:idx]
	}
	path = strings.ToLower(path)
	if pt, ok := pathTypeHints[path]; ok {
		return pt
	}
	return model.PageTypeOther
}
