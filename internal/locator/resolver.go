package locator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Element is the minimal read surface the resolver needs from a located DOM
// element. The browser adapter implements it over a live element handle.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	Property(ctx context.Context, name string) (string, error)
}

// Page is the resolver's view of a live page. Query accepts CSS selectors
// plus the text-matching forms the fallback generator emits ("text=...",
// "text*=...", "tag:text=..."); ScanByText runs the in-page candidate search.
type Page interface {
	Query(ctx context.Context, selector string) (Element, bool, error)
	ScanByText(ctx context.Context, text string, limit int) ([]ElementInfo, error)
}

// Attempt records one candidate trial for diagnostics.
type Attempt struct {
	Selector   string  `json:"selector"`
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
	Outcome    string  `json:"outcome"`
}

// Resolution is the structured result of a resolve run. Exhaustion is not an
// error: Found is false and Attempts carries what was tried.
type Resolution struct {
	Found        bool       `json:"found"`
	Element      Element    `json:"-"`
	UsedSelector string     `json:"used_selector,omitempty"`
	Strategy     string     `json:"strategy,omitempty"`
	Attempts     []Attempt  `json:"attempts,omitempty"`
	Fallbacks    []Fallback `json:"fallbacks,omitempty"`
}

// Summary renders the top attempts as guidance text for the caller.
func (r Resolution) Summary() string {
	if r.Found {
		return fmt.Sprintf("resolved via %s selector %q", r.Strategy, r.UsedSelector)
	}
	if len(r.Attempts) == 0 {
		return "no fallback candidates could be generated"
	}
	var sb strings.Builder
	sb.WriteString("tried:")
	max := len(r.Attempts)
	if max > 5 {
		max = 5
	}
	for _, a := range r.Attempts[:max] {
		fmt.Fprintf(&sb, " %q (%s, %.2f): %s;", a.Selector, a.Strategy, a.Confidence, a.Outcome)
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// Resolver finds elements by a primary selector and degrades gracefully to
// ranked fallback selectors when the primary fails.
type Resolver struct {
	log *zap.Logger
}

// NewResolver builds a resolver; a nil logger is replaced with a no-op.
func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log}
}

// FindElementWithFallbacks attempts the primary selector, then generates and
// tries ranked fallbacks. When expectedText is non-empty a candidate is only
// accepted if the resolved element's text, value, or placeholder contains it
// (case-insensitive). Returns a structured not-found result on exhaustion.
func (r *Resolver) FindElementWithFallbacks(ctx context.Context, page Page, primary, expectedText string) (Resolution, error) {
	res := Resolution{}

	el, ok, err := page.Query(ctx, primary)
	if err != nil {
		res.Attempts = append(res.Attempts, Attempt{Selector: primary, Strategy: "primary", Confidence: 1, Outcome: "error: " + err.Error()})
	} else if ok {
		if expectedText == "" || elementMatchesText(ctx, el, expectedText) {
			res.Found = true
			res.Element = el
			res.UsedSelector = primary
			res.Strategy = "primary"
			return res, nil
		}
		res.Attempts = append(res.Attempts, Attempt{Selector: primary, Strategy: "primary", Confidence: 1, Outcome: "text_mismatch"})
	} else {
		res.Attempts = append(res.Attempts, Attempt{Selector: primary, Strategy: "primary", Confidence: 1, Outcome: "no_match"})
	}

	fallbacks := r.generateCandidates(ctx, page, primary, expectedText)
	res.Fallbacks = fallbacks
	r.log.Debug("primary selector failed, trying fallbacks",
		zap.String("primary", primary),
		zap.Int("candidates", len(fallbacks)))

	for _, fb := range fallbacks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		attempt := Attempt{Selector: fb.Selector, Strategy: fb.Strategy, Confidence: fb.Confidence}

		el, ok, err := page.Query(ctx, fb.Selector)
		switch {
		case err != nil:
			attempt.Outcome = "error: " + err.Error()
		case !ok:
			attempt.Outcome = "no_match"
		case expectedText != "" && !elementMatchesText(ctx, el, expectedText):
			attempt.Outcome = "text_mismatch"
		default:
			attempt.Outcome = "matched"
			res.Attempts = append(res.Attempts, attempt)
			res.Found = true
			res.Element = el
			res.UsedSelector = fb.Selector
			res.Strategy = fb.Strategy
			return res, nil
		}
		res.Attempts = append(res.Attempts, attempt)
	}

	r.log.Debug("selector resolution exhausted",
		zap.String("primary", primary),
		zap.Int("attempts", len(res.Attempts)))
	return res, nil
}

// generateCandidates builds the ranked fallback list for a failed primary:
// hints parsed from the selector string, candidates seeded from a text scan
// when expected text is available, and an exploratory path when the selector
// could not be interpreted at all.
func (r *Resolver) generateCandidates(ctx context.Context, page Page, primary, expectedText string) []Fallback {
	var candidates []Fallback

	hints, interpretable := parseSelectorHints(primary)
	if interpretable {
		candidates = append(candidates, hintFallbacks(hints)...)
	}

	if expectedText != "" {
		infos, err := page.ScanByText(ctx, expectedText, maxTextScanCandidates)
		if err != nil {
			r.log.Debug("text scan failed", zap.Error(err))
		} else if len(infos) > 0 {
			// Only the first match seeds generation; later matches are
			// usually containers of the same text.
			candidates = append(candidates, GenerateFallbacks(infos[0])...)
		}
	}

	if !interpretable {
		candidates = append(candidates, exploratoryFallbacks(primary)...)
		if expectedText == "" {
			if infos, err := page.ScanByText(ctx, strings.TrimSpace(primary), maxTextScanCandidates); err == nil && len(infos) > 0 {
				candidates = append(candidates, GenerateFallbacks(infos[0])...)
			}
		}
	}

	return rankFallbacks(candidates)
}

// elementMatchesText checks text, value, and placeholder for a
// case-insensitive substring match.
func elementMatchesText(ctx context.Context, el Element, want string) bool {
	wantLower := strings.ToLower(strings.TrimSpace(want))
	if wantLower == "" {
		return true
	}
	if text, err := el.Text(ctx); err == nil && strings.Contains(strings.ToLower(text), wantLower) {
		return true
	}
	if value, err := el.Property(ctx, "value"); err == nil && strings.Contains(strings.ToLower(value), wantLower) {
		return true
	}
	if ph, err := el.Attribute(ctx, "placeholder"); err == nil && strings.Contains(strings.ToLower(ph), wantLower) {
		return true
	}
	return false
}
