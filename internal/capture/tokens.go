package capture

import (
	"encoding/json"

	"github.com/go-rod/rod"
	"github.com/rotisserie/eris"

	"github.com/sells-group/audit-cli/internal/model"
)

const defaultTokenLimit = 8

// tokensJS ranks the computed font families and colors of visible
// elements by usage count. The element scan is capped so pathological
// pages cannot stall the page budget inside one Evaluate call.
const tokensJS = `(limit) => {
	const fonts = new Map();
	const colors = new Map();
	const els = Array.from(document.querySelectorAll('body *')).slice(0, 2000);
	for (const el of els) {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) continue;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') continue;
		if (style.fontFamily) {
			fonts.set(style.fontFamily, (fonts.get(style.fontFamily) || 0) + 1);
		}
		for (const c of [style.color, style.backgroundColor]) {
			if (!c || c === 'transparent' || c === 'rgba(0, 0, 0, 0)') continue;
			colors.set(c, (colors.get(c) || 0) + 1);
		}
	}
	const top = (m) => Array.from(m.entries())
		.sort((a, b) => b[1] - a[1])
		.slice(0, limit)
		.map((e) => e[0]);
	return { fonts: top(fonts), colors: top(colors) };
}`

// extractTokens pulls the page's dominant fonts and colors from the
// live DOM.
func extractTokens(page *rod.Page, limit int) (model.DesignTokens, error) {
	if limit <= 0 {
		limit = defaultTokenLimit
	}
	res, err := page.Evaluate(&rod.EvalOptions{
		JS:      tokensJS,
		JSArgs:  []interface{}{limit},
		ByValue: true,
	})
	if err != nil {
		return model.DesignTokens{}, eris.Wrap(err, "capture: evaluate tokens")
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return model.DesignTokens{}, eris.Wrap(err, "capture: encode tokens")
	}
	var tokens model.DesignTokens
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return model.DesignTokens{}, eris.Wrap(err, "capture: decode tokens")
	}
	return tokens, nil
}
