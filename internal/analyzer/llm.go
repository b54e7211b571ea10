package analyzer

import (
	"context"
	"strings"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

// Finding source types. Synthesis clusters same-source-type findings by
// text similarity; its category path can still fold a deterministic
// signal into the model finding it corroborates.
const (
	sourceLLM           = "llm"
	sourceDeterministic = "deterministic"
	sourcePageSpeed     = "pagespeed"
)

// deps bundles what every LLM-backed analyzer needs.
type deps struct {
	ai      anthropic.Client
	catalog *prompts.Catalog
	retry   resilience.RetryConfig
}

// llmCall describes one JSON-mode exchange with the model.
type llmCall struct {
	stage    string
	promptID string
	vars     map[string]string
	images   []anthropic.ImageBlock

	// cacheSystem marks the system prompt for provider-side caching.
	// Worth it when the same system text repeats across sequential calls.
	cacheSystem bool
}

// runJSON executes the call through the shared prompt runner with this
// package's error prefix.
func (d deps) runJSON(ctx context.Context, rec Recorder, call llmCall, out any) (model.TokenUsage, string, error) {
	r := prompts.Runner{AI: d.ai, Catalog: d.catalog, Retry: d.retry, Component: "analyzer"}
	return r.RunJSON(ctx, rec, prompts.Call{
		Stage:       call.stage,
		PromptID:    call.promptID,
		Vars:        call.vars,
		Images:      call.images,
		CacheSystem: call.cacheSystem,
	}, out)
}

// issueJSON is the wire shape every analyzer prompt requests for issue
// arrays.
type issueJSON struct {
	Category       string   `json:"category"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Impact         string   `json:"impact"`
	Recommendation string   `json:"recommendation"`
	Severity       string   `json:"severity"`
	Priority       string   `json:"priority"`
	Difficulty     string   `json:"difficulty"`
	AffectedPages  []string `json:"affected_pages,omitempty"`
}

// finding converts one issue, sanitizing the enum values the model may
// have bent. When the model names no affected pages, pages is used.
func (i issueJSON) finding(m model.AnalyzerModule, vp model.FindingViewport, pages []string, refs ...string) model.Finding {
	affected := i.AffectedPages
	if len(affected) == 0 {
		affected = pages
	}
	category := strings.TrimSpace(strings.ToLower(i.Category))
	if category == "" {
		category = string(m)
	}
	return model.Finding{
		Module:         m,
		Category:       category,
		Title:          i.Title,
		Description:    i.Description,
		Impact:         i.Impact,
		Recommendation: i.Recommendation,
		Severity:       parseSeverity(i.Severity),
		Priority:       parsePriority(i.Priority),
		Difficulty:     parseDifficulty(i.Difficulty),
		Viewport:       vp,
		AffectedPages:  affected,
		EvidenceRefs:   refs,
		SourceModule:   m,
		SourceType:     sourceLLM,
	}
}

func findingsFrom(issues []issueJSON, m model.AnalyzerModule) []model.Finding {
	out := make([]model.Finding, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.finding(m, model.FindingViewportNA, nil))
	}
	return out
}

func parseSeverity(s string) model.Severity {
	switch model.Severity(strings.TrimSpace(strings.ToLower(s))) {
	case model.SeverityCritical:
		return model.SeverityCritical
	case model.SeverityHigh:
		return model.SeverityHigh
	case model.SeverityLow:
		return model.SeverityLow
	default:
		return model.SeverityMedium
	}
}

func parsePriority(s string) model.Priority {
	switch model.Priority(strings.TrimSpace(strings.ToLower(s))) {
	case model.PriorityCritical:
		return model.PriorityCritical
	case model.PriorityHigh:
		return model.PriorityHigh
	case model.PriorityLow:
		return model.PriorityLow
	default:
		return model.PriorityMedium
	}
}

func parseDifficulty(s string) model.Difficulty {
	switch model.Difficulty(strings.TrimSpace(strings.ToLower(s))) {
	case model.DifficultyQuickWin:
		return model.DifficultyQuickWin
	case model.DifficultyMedium:
		return model.DifficultyMedium
	case model.DifficultyMajor:
		return model.DifficultyMajor
	default:
		return model.DifficultyUnknown
	}
}

// scoreOK reports whether the model supplied the score and kept it in
// range. Scores are pointers in response structs so a missing field is
// distinguishable from zero.
func scoreOK(s *int) bool {
	return s != nil && *s >= 0 && *s <= 100
}

func toPositives(page string, texts []string) []model.Positive {
	out := make([]model.Positive, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, model.Positive{Page: page, Text: t})
	}
	return out
}

// errorResultWith is model.ErrorResult preserving deterministic findings
// and usage accrued before the failure.
func errorResultWith(m model.AnalyzerModule, err error, det []model.Finding, usage model.TokenUsage, modelID string) *model.ModuleResult {
	res := model.ErrorResult(m, err)
	res.Findings = append(res.Findings, det...)
	res.Usage = usage
	res.ModelID = modelID
	return res
}
