package content

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// In-page extraction snippets. Each is a JS function literal run through
// PageProvider.Eval and returns a string (serialized HTML or assembled text);
// DOM heuristics live here, at the adapter boundary, not in Go types.

// mainContentJS returns the outerHTML of the largest non-chrome content
// block: the landmark selectors first, then the densest text container.
// Returns "" when nothing qualifies.
const mainContentJS = `() => {
	const landmarks = ['main', 'article', '[role="main"]', '#main', '#content', '.main-content'];
	for (const sel of landmarks) {
		const el = document.querySelector(sel);
		if (el && el.innerText && el.innerText.trim().length > 200) {
			return el.outerHTML;
		}
	}

	// No landmark: pick the block with the most text that is not page chrome.
	const chrome = new Set(['NAV', 'HEADER', 'FOOTER', 'ASIDE', 'SCRIPT', 'STYLE']);
	let best = null;
	let bestLen = 0;
	for (const el of document.querySelectorAll('div, section, td')) {
		if (chrome.has(el.tagName)) continue;
		if (el.closest('nav, header, footer, aside')) continue;
		const len = (el.innerText || '').trim().length;
		if (len > bestLen) {
			best = el;
			bestLen = len;
		}
	}
	return best && bestLen > 200 ? best.outerHTML : '';
}`

// summaryJS assembles a compact page digest: title, meta description, up to
// 10 headings, and up to 5 substantial paragraphs. Returns a small HTML
// fragment.
const summaryJS = `() => {
	const parts = [];
	if (document.title) parts.push('<h1>' + document.title + '</h1>');

	const meta = document.querySelector('meta[name="description"]');
	if (meta && meta.content) parts.push('<p>' + meta.content + '</p>');

	const headings = Array.from(document.querySelectorAll('h1, h2, h3'))
		.map(h => h.innerText.trim())
		.filter(t => t.length > 0)
		.slice(0, 10);
	for (const h of headings) parts.push('<h2>' + h + '</h2>');

	const paragraphs = Array.from(document.querySelectorAll('p'))
		.map(p => p.innerText.trim())
		.filter(t => t.length > 80)
		.slice(0, 5);
	for (const p of paragraphs) parts.push('<p>' + p + '</p>');

	return parts.join('\n');
}`

// emergencyExtractJS is the very-large-page escape hatch: title, first h1,
// first substantial paragraph, up to 10 interactive elements, up to 5 form
// fields. Returns plain text, one item per line.
const emergencyExtractJS = `() => {
	const lines = [];
	if (document.title) lines.push('title: ' + document.title);

	const h1 = document.querySelector('h1');
	if (h1) lines.push('h1: ' + h1.innerText.trim());

	for (const p of document.querySelectorAll('p')) {
		const text = p.innerText.trim();
		if (text.length > 80) {
			lines.push('lead: ' + text.slice(0, 300));
			break;
		}
	}

	const interactive = Array.from(document.querySelectorAll('a[href], button, [role="button"]'))
		.filter(el => el.innerText && el.innerText.trim())
		.slice(0, 10);
	for (const el of interactive) {
		lines.push(el.tagName.toLowerCase() + ': ' + el.innerText.trim().slice(0, 80));
	}

	const fields = Array.from(document.querySelectorAll('input, select, textarea')).slice(0, 5);
	for (const f of fields) {
		lines.push('field: ' + f.tagName.toLowerCase() +
			(f.name ? ' name=' + f.name : '') +
			(f.type ? ' type=' + f.type : '') +
			(f.placeholder ? ' placeholder=' + f.placeholder : ''));
	}

	return lines.join('\n');
}`

// sample retrieves raw HTML at the requested granularity. Selector scoping
// wins over mode; main mode degrades to the full DOM when no content block
// qualifies.
func (e *Engine) sample(ctx context.Context, page PageProvider, mode Mode, selector string) (string, error) {
	if selector != "" {
		html, found, err := page.ElementHTML(ctx, selector)
		if err != nil {
			return "", fmt.Errorf("extracting %q: %w", selector, err)
		}
		if !found {
			return "", fmt.Errorf("selector %q matched no element", selector)
		}
		return html, nil
	}

	switch mode {
	case ModeMain:
		out, err := page.Eval(ctx, mainContentJS)
		if err == nil && strings.TrimSpace(out) != "" {
			return out, nil
		}
		if err != nil {
			e.log.Warn("main content extraction failed, using full DOM", zap.Error(err))
		}
		return page.HTML(ctx)
	case ModeSummary:
		out, err := page.Eval(ctx, summaryJS)
		if err != nil {
			return "", fmt.Errorf("summary extraction: %w", err)
		}
		return out, nil
	default:
		return page.HTML(ctx)
	}
}
