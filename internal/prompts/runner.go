package prompts

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

// Recorder receives debug artifacts from model exchanges. Implementations
// must tolerate concurrent calls.
type Recorder interface {
	Record(stage, kind string, data []byte)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, string, []byte) {}

// Call describes one JSON-mode exchange with the model.
type Call struct {
	Stage    string
	PromptID string
	Vars     map[string]string
	Images   []anthropic.ImageBlock

	// CacheSystem marks the system prompt for provider-side caching.
	// Worth it when the same system text repeats across sequential calls.
	CacheSystem bool
}

// Runner executes catalog prompts as JSON-mode exchanges with retry and
// debug recording. Component prefixes the errors it returns, so a failed
// call names the stage that issued it.
type Runner struct {
	AI        anthropic.Client
	Catalog   *Catalog
	Retry     resilience.RetryConfig
	Component string
}

// RunJSON loads the prompt, performs the call with retry, records debug
// artifacts, and unmarshals the response into out. Token usage is returned
// even when the response could not be parsed, so failed calls still count
// against the run's spend. A nil recorder discards artifacts.
func (r Runner) RunJSON(ctx context.Context, rec Recorder, call Call, out any) (model.TokenUsage, string, error) {
	if rec == nil {
		rec = nopRecorder{}
	}

	p, err := r.Catalog.Load(call.PromptID, call.Vars)
	if err != nil {
		return model.TokenUsage{}, "", err
	}

	req := anthropic.MessageRequest{
		Model:       p.Model,
		MaxTokens:   int64(p.MaxTokens),
		Temperature: &p.Temperature,
		JSONMode:    true,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: p.User,
			Images:  call.Images,
		}},
	}
	if call.CacheSystem {
		req.System = anthropic.BuildCachedSystemBlocks(p.System)
	} else {
		req.System = []anthropic.SystemBlock{{Text: p.System}}
	}

	rec.Record(call.Stage, "prompt", []byte(p.System+"\n\n"+p.User))

	retryCfg := r.Retry
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", call.PromptID)
	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return r.AI.CreateMessage(ctx, req)
	})
	if err != nil {
		return model.TokenUsage{}, "", eris.Wrapf(err, "%s: %s call", r.Component, call.PromptID)
	}

	raw := resp.Text()
	rec.Record(call.Stage, "response", []byte(raw))

	usage := usageFrom(resp)
	if resp.Truncated() {
		return usage, resp.Model, eris.Errorf("%s: %s response truncated at %d tokens", r.Component, call.PromptID, p.MaxTokens)
	}
	if err := anthropic.DecodeJSON(raw, out); err != nil {
		return usage, resp.Model, eris.Wrapf(err, "%s: %s response", r.Component, call.PromptID)
	}

	if parsed, err := json.Marshal(out); err == nil {
		rec.Record(call.Stage, "parsed", parsed)
	}
	return usage, resp.Model, nil
}

func usageFrom(resp *anthropic.MessageResponse) model.TokenUsage {
	u := model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
	}
	u.Cost = resp.Usage.EstimateCost(resp.Model)
	return u
}
