package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sells-group/audit-cli/internal/model"
)

// maxContextIssues caps how many earlier findings are replayed into a
// context-aware prompt.
const maxContextIssues = 40

// PageContextEntry records what one analyzer already concluded about one
// page.
type PageContextEntry struct {
	URL      string
	Module   model.AnalyzerModule
	Scores   map[string]int
	Findings []model.Finding
}

// CrossPageBuilder accumulates context from completed page analyses so
// later sequential calls can skip restating known issues. It only grows:
// entries are never mutated or removed once added.
type CrossPageBuilder struct {
	mu      sync.Mutex
	entries []PageContextEntry
}

// NewCrossPageBuilder returns an empty builder.
func NewCrossPageBuilder() *CrossPageBuilder {
	return &CrossPageBuilder{}
}

// AddPageContext appends one completed page analysis.
func (b *CrossPageBuilder) AddPageContext(e PageContextEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
}

// Len returns the number of recorded pages.
func (b *CrossPageBuilder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Entries returns a copy of the recorded entries.
func (b *CrossPageBuilder) Entries() []PageContextEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PageContextEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// PageContext renders the accumulated context for the page at index among
// the pages being analyzed. The first page always gets an empty context,
// as does any page when nothing has been recorded yet.
func (b *CrossPageBuilder) PageContext(url string, index int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index == 0 || len(b.entries) == 0 {
		return ""
	}

	prior := make([]PageContextEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.URL == url {
			continue
		}
		prior = append(prior, e)
	}
	if len(prior) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pages already analyzed (%d):\n", len(prior))
	for _, e := range prior {
		sb.WriteString("- " + e.URL)
		if len(e.Scores) > 0 {
			keys := make([]string, 0, len(e.Scores))
			for k := range e.Scores {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s %d", k, e.Scores[k]))
			}
			sb.WriteString(" (" + strings.Join(parts, ", ") + ")")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nIssues already recorded on earlier pages:\n")
	count := 0
	for _, e := range prior {
		for _, f := range e.Findings {
			if count == maxContextIssues {
				fmt.Fprintf(&sb, "- (further issues omitted)\n")
				return sb.String()
			}
			fmt.Fprintf(&sb, "- [%s/%s] %s\n", f.Category, f.Severity, f.Title)
			count++
		}
	}
	if count == 0 {
		sb.WriteString("- none\n")
	}
	return sb.String()
}
