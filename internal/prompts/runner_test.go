package prompts

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// captureRecorder remembers the kinds recorded per stage.
type captureRecorder struct {
	stages []string
	kinds  []string
	data   [][]byte
}

func (c *captureRecorder) Record(stage, kind string, data []byte) {
	c.stages = append(c.stages, stage)
	c.kinds = append(c.kinds, kind)
	c.data = append(c.data, data)
}

func testRunner(ai anthropic.Client, component string) Runner {
	return Runner{
		AI:      ai,
		Catalog: NewCatalog(testModels),
		Retry: resilience.RetryConfig{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
		},
		Component: component,
	}
}

func rollupResponse(body string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:      "claude-haiku-test",
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: body}},
		Usage:      anthropic.TokenUsage{InputTokens: 200, OutputTokens: 40},
	}
}

func TestRunJSON_Success(t *testing.T) {
	t.Parallel()

	ai := new(mockClient)
	var captured anthropic.MessageRequest
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(anthropic.MessageRequest)
		}).
		Return(rollupResponse(`{"business_impact": "Slow pages cost bookings."}`), nil).
		Once()

	rec := &captureRecorder{}
	var out struct {
		BusinessImpact string `json:"business_impact"`
	}
	usage, modelID, err := testRunner(ai, "synthesis").RunJSON(context.Background(), rec, Call{
		Stage:    "synthesis",
		PromptID: "impact-rollup",
		Vars: map[string]string{
			"title":   "Missing page titles",
			"members": "- seo: Missing page titles",
		},
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, "Slow pages cost bookings.", out.BusinessImpact)
	assert.Equal(t, 240, usage.Total())
	assert.Equal(t, "claude-haiku-test", modelID)

	assert.Equal(t, "claude-haiku-test", captured.Model)
	assert.EqualValues(t, 512, captured.MaxTokens)
	require.NotNil(t, captured.Temperature)
	assert.InDelta(t, 0.4, *captured.Temperature, 0.001)
	assert.True(t, captured.JSONMode)
	require.Len(t, captured.System, 1)
	assert.Nil(t, captured.System[0].CacheControl)
	require.Len(t, captured.Messages, 1)
	assert.Contains(t, captured.Messages[0].Content, "Missing page titles")

	assert.Equal(t, []string{"prompt", "response", "parsed"}, rec.kinds)
	assert.Equal(t, []string{"synthesis", "synthesis", "synthesis"}, rec.stages)
	ai.AssertExpectations(t)
}

func TestRunJSON_CacheSystem(t *testing.T) {
	t.Parallel()

	ai := new(mockClient)
	var captured anthropic.MessageRequest
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(anthropic.MessageRequest)
		}).
		Return(rollupResponse(`{"business_impact": "x"}`), nil).
		Once()

	var out map[string]any
	_, _, err := testRunner(ai, "synthesis").RunJSON(context.Background(), nil, Call{
		Stage:       "synthesis",
		PromptID:    "impact-rollup",
		Vars:        map[string]string{"title": "t", "members": "m"},
		CacheSystem: true,
	}, &out)
	require.NoError(t, err)

	require.Len(t, captured.System, 1)
	require.NotNil(t, captured.System[0].CacheControl)
	assert.Equal(t, "5m", captured.System[0].CacheControl.TTL)
}

func TestRunJSON_CallFailure(t *testing.T) {
	t.Parallel()

	ai := new(mockClient)
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(nil, eris.New("rate limited")).
		Once()

	var out map[string]any
	usage, _, err := testRunner(ai, "synthesis").RunJSON(context.Background(), nil, Call{
		Stage:    "synthesis",
		PromptID: "impact-rollup",
		Vars:     map[string]string{"title": "t", "members": "m"},
	}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesis: impact-rollup call")
	assert.Contains(t, err.Error(), "rate limited")
	assert.Zero(t, usage.Total())
}

func TestRunJSON_TruncatedKeepsUsage(t *testing.T) {
	t.Parallel()

	resp := rollupResponse(`{"business_impact": "cut off`)
	resp.StopReason = "max_tokens"

	ai := new(mockClient)
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(resp, nil).
		Once()

	var out map[string]any
	usage, modelID, err := testRunner(ai, "analyzer").RunJSON(context.Background(), nil, Call{
		Stage:    "content",
		PromptID: "impact-rollup",
		Vars:     map[string]string{"title": "t", "members": "m"},
	}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyzer: impact-rollup response truncated at 512 tokens")
	assert.Equal(t, 240, usage.Total())
	assert.Equal(t, "claude-haiku-test", modelID)
}

func TestRunJSON_MalformedResponseKeepsUsage(t *testing.T) {
	t.Parallel()

	ai := new(mockClient)
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(rollupResponse("no json here"), nil).
		Once()

	var out map[string]any
	usage, _, err := testRunner(ai, "benchmark").RunJSON(context.Background(), nil, Call{
		Stage:    "benchmark",
		PromptID: "impact-rollup",
		Vars:     map[string]string{"title": "t", "members": "m"},
	}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "benchmark: impact-rollup response")
	assert.Equal(t, 240, usage.Total())
}

func TestRunJSON_UnknownPrompt(t *testing.T) {
	t.Parallel()

	ai := new(mockClient)
	var out map[string]any
	_, _, err := testRunner(ai, "synthesis").RunJSON(context.Background(), nil, Call{
		Stage:    "synthesis",
		PromptID: "no-such-prompt",
	}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown prompt")
	ai.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}
