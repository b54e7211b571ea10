package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// DecodeJSON unmarshals model output into out. JSONMode steers the model
// toward bare JSON but does not guarantee it; responses still arrive
// fenced or wrapped in prose on occasion, so everything outside the
// outermost object is stripped before decoding.
func DecodeJSON(text string, out any) error {
	cleaned := extractObject(text)
	if cleaned == "" {
		return eris.New("anthropic: no JSON object in response")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return eris.Wrap(err, "anthropic: decode response")
	}
	return nil
}

func extractObject(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
