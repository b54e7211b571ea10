package synthesis

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

const (
	testHaikuModel  = "claude-haiku-4-5-20251001"
	testSonnetModel = "claude-sonnet-4-5-20250929"
)

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func testCatalog() *prompts.Catalog {
	return prompts.NewCatalog(prompts.ModelSet{
		Haiku:  testHaikuModel,
		Sonnet: testSonnetModel,
		Vision: testSonnetModel,
	})
}

func testSynthesizer(ai anthropic.Client) *Synthesizer {
	return New(ai, testCatalog(), config.SynthesisConfig{
		SimilarityThreshold: 0.55,
		SummaryTimeoutSecs:  30,
	}, resilience.RetryConfig{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
	})
}

func jsonResponse(modelID, body string, in, out int64) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:      modelID,
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: body}},
		Usage:      anthropic.TokenUsage{InputTokens: in, OutputTokens: out},
	}
}

// isModel routes mock expectations by the model a prompt resolved to:
// impact rollups run on haiku, the executive summary on sonnet.
func isModel(id string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == id
	})
}

// llmFinding builds a model-sourced finding in the shape analyzers emit.
func llmFinding(m model.AnalyzerModule, title, desc string, sev model.Severity) model.Finding {
	return model.Finding{
		Module:       m,
		Category:     string(m),
		Title:        title,
		Description:  desc,
		Severity:     sev,
		Priority:     model.PriorityMedium,
		Difficulty:   model.DifficultyMedium,
		Viewport:     model.FindingViewportNA,
		SourceModule: m,
		SourceType:   "llm",
	}
}

func moduleResult(m model.AnalyzerModule, score int, findings ...model.Finding) *model.ModuleResult {
	return &model.ModuleResult{Module: m, Score: score, Findings: findings}
}
