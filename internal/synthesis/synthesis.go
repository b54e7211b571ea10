// Package synthesis folds every analyzer module's findings into a
// consolidated issue list and writes the executive summary. Clustering
// and consolidation are deterministic; the model only writes prose, so
// a model outage degrades wording, never structure.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

// impactConcurrency caps parallel impact-rollup calls.
const impactConcurrency = 4

// Input carries what the synthesis stage consumes.
type Input struct {
	Company   model.Company
	URL       string
	Modules   map[model.AnalyzerModule]*model.ModuleResult
	Benchmark *model.BenchmarkMatch
}

// Synthesizer runs the synthesis stage.
type Synthesizer struct {
	runner prompts.Runner
	cfg    config.SynthesisConfig
	log    *zap.Logger
}

// New builds a Synthesizer.
func New(ai anthropic.Client, catalog *prompts.Catalog, cfg config.SynthesisConfig, retry resilience.RetryConfig) *Synthesizer {
	return &Synthesizer{
		runner: prompts.Runner{AI: ai, Catalog: catalog, Retry: retry, Component: "synthesis"},
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "synthesis")),
	}
}

// issueCluster keeps a consolidated issue next to the findings it came
// from, so the impact rollup can show the model the members.
type issueCluster struct {
	issue   model.ConsolidatedIssue
	members []model.Finding
}

// Synthesize clusters the module findings, rolls up business impact per
// consolidated issue, and writes the executive summary. The summary call
// runs under its own deadline; when it fails or times out the result
// carries a deterministic template summary instead, flagged as such. An
// error is returned only when the run itself is cancelled.
func (s *Synthesizer) Synthesize(ctx context.Context, rec prompts.Recorder, in Input) (*model.SynthesisResult, model.TokenUsage, error) {
	findings := collectFindings(in.Modules)
	clusters := buildClusters(findings, s.cfg.SimilarityThreshold)

	ics := make([]issueCluster, len(clusters))
	for i, c := range clusters {
		ics[i] = issueCluster{issue: c.consolidate(), members: c.members}
	}
	sort.SliceStable(ics, func(i, j int) bool {
		return ics[i].issue.Severity.Rank() > ics[j].issue.Severity.Rank()
	})

	s.log.Info("findings consolidated",
		zap.Int("findings", len(findings)),
		zap.Int("issues", len(ics)))

	usage := s.rollupImpacts(ctx, rec, ics)
	if err := ctx.Err(); err != nil {
		return nil, usage, eris.Wrap(err, "synthesis: run cancelled")
	}

	issues := make([]model.ConsolidatedIssue, len(ics))
	for i := range ics {
		issues[i] = ics[i].issue
	}

	summary, fellBack, sumUsage, err := s.summarize(ctx, rec, in, issues)
	usage.Add(sumUsage)
	if err != nil {
		return nil, usage, err
	}

	return &model.SynthesisResult{
		ConsolidatedIssues: issues,
		Summary:            summary,
		FallbackSummary:    fellBack,
	}, usage, nil
}

// collectFindings flattens module results in the fixed module order so
// clustering is deterministic run to run.
func collectFindings(modules map[model.AnalyzerModule]*model.ModuleResult) []model.Finding {
	var out []model.Finding
	for _, m := range model.AllModules() {
		res := modules[m]
		if res == nil {
			continue
		}
		out = append(out, res.Findings...)
	}
	return out
}

// rollupImpacts writes the business impact line for every multi-member
// issue. Single-member issues keep the impact their analyzer wrote; a
// failed call falls back the same way rather than failing the stage.
func (s *Synthesizer) rollupImpacts(ctx context.Context, rec prompts.Recorder, ics []issueCluster) model.TokenUsage {
	var (
		mu    sync.Mutex
		total model.TokenUsage
	)
	var g errgroup.Group
	g.SetLimit(impactConcurrency)

	for i := range ics {
		ic := &ics[i]
		ic.issue.BusinessImpact = firstImpact(ic.members)
		if len(ic.members) < 2 && ic.issue.BusinessImpact != "" {
			continue
		}
		g.Go(func() error {
			impact, u, err := s.impactCall(ctx, rec, ic.issue.Title, ic.members)
			mu.Lock()
			total.Add(u)
			mu.Unlock()
			if err != nil {
				s.log.Warn("impact rollup failed, keeping member impact",
					zap.String("issue", ic.issue.Title),
					zap.Error(err))
				return nil
			}
			ic.issue.BusinessImpact = impact
			return nil
		})
	}
	_ = g.Wait()
	return total
}

func (s *Synthesizer) impactCall(ctx context.Context, rec prompts.Recorder, title string, members []model.Finding) (string, model.TokenUsage, error) {
	var parsed struct {
		BusinessImpact string `json:"business_impact"`
	}
	usage, _, err := s.runner.RunJSON(ctx, rec, prompts.Call{
		Stage:    "synthesis",
		PromptID: "impact-rollup",
		Vars: map[string]string{
			"title":   title,
			"members": renderMembers(members),
		},
	}, &parsed)
	if err != nil {
		return "", usage, err
	}
	impact := strings.TrimSpace(parsed.BusinessImpact)
	if impact == "" {
		return "", usage, eris.New("synthesis: impact rollup returned no text")
	}
	return impact, usage, nil
}

func renderMembers(members []model.Finding) string {
	var b strings.Builder
	for _, m := range members {
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", m.Title, m.SourceModule, m.Severity, m.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstImpact(members []model.Finding) string {
	for _, m := range members {
		if impact := strings.TrimSpace(m.Impact); impact != "" {
			return impact
		}
	}
	return ""
}
