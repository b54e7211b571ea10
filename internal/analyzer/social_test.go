package analyzer

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

const socialHomeHTML = `<html lang="en"><head><title>Acme</title></head><body>
<footer>
  <a href="https://www.facebook.com/acme">Facebook</a>
  <a href="https://instagram.com/acme">Instagram</a>
</footer>
</body></html>`

const socialBareHTML = `<html lang="en"><head><title>Contact</title></head><body>
<p>Call us any time.</p>
</body></html>`

func socialInput(captures ...*model.Capture) *Input {
	in := &Input{
		Company:   model.Company{Name: "Acme Plumbing", Industry: "plumbing"},
		TargetURL: "https://acme.example/",
		Selection: &model.PageSelection{},
		Captures:  map[string]*model.Capture{},
	}
	for _, c := range captures {
		in.Selection.SocialPages = append(in.Selection.SocialPages, c.URL)
		in.Captures[c.URL] = c
	}
	return in
}

func TestSocialAnalyze_MergesOnSiteAndExternal(t *testing.T) {
	ctx := context.Background()
	ai := &mockAnthropicClient{}

	body := `{"score": 55,
 "issues": [{"category": "social", "title": "No recent activity visible", "description": "d", "impact": "i", "recommendation": "r", "severity": "medium", "priority": "medium", "difficulty": "quick-win"}],
 "positives": ["Profiles linked from the footer"],
 "profile_assessment": "Thin but present."}`

	var seen anthropic.MessageRequest
	ai.On("CreateMessage", ctx, mock.AnythingOfType("anthropic.MessageRequest")).
		Run(func(args mock.Arguments) {
			seen = args.Get(1).(anthropic.MessageRequest)
		}).
		Return(jsonResponse(body, 400, 150), nil).Once()

	in := socialInput(
		htmlCapture("https://acme.example/", socialHomeHTML),
		htmlCapture("https://acme.example/contact", socialBareHTML),
	)
	in.ExternalProfiles = []SocialProfile{
		{Platform: "Facebook", Followers: 500},
		{Platform: "LinkedIn", URL: "https://linkedin.com/company/acme", Followers: 120},
	}

	res := NewSocial(config.AnalysisConfig{}, testDeps(ai)).Analyze(ctx, in)

	require.False(t, res.Failed())
	assert.Equal(t, 55, res.Score)
	assert.Equal(t, 400, res.Usage.InputTokens)

	// Site link keeps its URL, external data supplies the follower count.
	require.Len(t, res.Strengths["profiles"], 3)
	assert.Equal(t, "facebook: https://www.facebook.com/acme (followers: 500, source: site+external)", res.Strengths["profiles"][0])
	assert.Equal(t, "instagram: https://instagram.com/acme (source: site)", res.Strengths["profiles"][1])
	assert.Equal(t, "linkedin: https://linkedin.com/company/acme (followers: 120, source: external)", res.Strengths["profiles"][2])
	assert.Equal(t, []string{"Thin but present."}, res.Strengths["assessment"])

	titles := findingTitles(res.Findings)
	assert.Contains(t, titles, "Social links missing from some pages")
	assert.NotContains(t, titles, "No social media presence detected")
	assert.Contains(t, titles, "No recent activity visible")

	prompt := seen.Messages[0].Content
	assert.Contains(t, prompt, "- facebook: https://www.facebook.com/acme (followers: 500, source: site+external)")
	assert.Contains(t, prompt, "- https://acme.example/: facebook, instagram")
	assert.Contains(t, prompt, "- https://acme.example/contact: none")

	ai.AssertExpectations(t)
}

func TestSocialAnalyze_NoProfilesStillCallsModel(t *testing.T) {
	ctx := context.Background()
	ai := &mockAnthropicClient{}

	var seen anthropic.MessageRequest
	ai.On("CreateMessage", ctx, mock.AnythingOfType("anthropic.MessageRequest")).
		Run(func(args mock.Arguments) {
			seen = args.Get(1).(anthropic.MessageRequest)
		}).
		Return(jsonResponse(`{"score": 20, "profile_assessment": "No footprint."}`, 100, 40), nil).Once()

	in := socialInput(htmlCapture("https://acme.example/contact", socialBareHTML))
	res := NewSocial(config.AnalysisConfig{}, testDeps(ai)).Analyze(ctx, in)

	require.False(t, res.Failed())
	assert.Equal(t, 20, res.Score)
	assert.Contains(t, findingTitles(res.Findings), "No social media presence detected")
	assert.Contains(t, seen.Messages[0].Content, "none found")
	assert.Empty(t, res.Strengths["profiles"])
	ai.AssertExpectations(t)
}

func TestSocialAnalyze_CallFailureKeepsDeterministic(t *testing.T) {
	ctx := context.Background()
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", ctx, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(nil, eris.New("invalid api key")).Once()

	in := socialInput(htmlCapture("https://acme.example/contact", socialBareHTML))
	res := NewSocial(config.AnalysisConfig{}, testDeps(ai)).Analyze(ctx, in)

	assert.True(t, res.Failed())
	assert.Equal(t, model.FallbackScoreDefault, res.Score)
	titles := findingTitles(res.Findings)
	assert.Contains(t, titles, "No social media presence detected")
	assert.Contains(t, titles, "social analysis did not complete")
	ai.AssertExpectations(t)
}

func TestSocialAnalyze_NoPages(t *testing.T) {
	ai := &mockAnthropicClient{}
	res := NewSocial(config.AnalysisConfig{}, testDeps(ai)).Analyze(context.Background(), socialInput())

	assert.True(t, res.Failed())
	ai.AssertNotCalled(t, "CreateMessage")
}

func TestRenderPresence(t *testing.T) {
	pages := []*model.Capture{
		{URL: "https://a.example/"},
		{URL: "https://a.example/unparsed"},
	}
	presence := map[string][]string{
		"https://a.example/": {"facebook"},
	}
	out := renderPresence(pages, presence)
	assert.Equal(t, "- https://a.example/: facebook", out)

	assert.Equal(t, "no pages analyzed", renderPresence(pages, map[string][]string{}))
}
