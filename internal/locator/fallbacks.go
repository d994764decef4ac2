package locator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Category classifies how a fallback selector identifies its element.
type Category string

const (
	CategoryAttribute Category = "attribute"
	CategoryText      Category = "text"
	CategoryPosition  Category = "position"
	CategorySemantic  Category = "semantic"
	CategoryVisual    Category = "visual"
)

const (
	// MinFallbackConfidence filters candidates below this score.
	MinFallbackConfidence = 0.3
	// MaxFallbackCandidates caps the ranked candidate list.
	MaxFallbackCandidates = 10
	// maxTextScanCandidates bounds the in-page text search.
	maxTextScanCandidates = 5
)

// Fallback is one candidate selector with its confidence prior.
type Fallback struct {
	Selector    string   `json:"selector"`
	Category    Category `json:"category"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Strategy    string   `json:"strategy"`
}

// Position describes where an element sits relative to its parent, the least
// stable signal we generate selectors from.
type Position struct {
	ParentSelector string `json:"parent_selector"`
	ChildIndex     int    `json:"child_index"`
	TypeIndex      int    `json:"type_index"`
}

// ElementInfo is the identifying surface of a DOM element, captured by the
// in-page scan snippet. Text is truncated at capture time.
type ElementInfo struct {
	Tag         string    `json:"tag"`
	ID          string    `json:"id"`
	Classes     []string  `json:"classes"`
	Name        string    `json:"name"`
	Placeholder string    `json:"placeholder"`
	AriaLabel   string    `json:"ariaLabel"`
	Role        string    `json:"role"`
	DataTestID  string    `json:"dataTestId"`
	Text        string    `json:"text"`
	Value       string    `json:"value"`
	Type        string    `json:"type"`
	Href        string    `json:"href"`
	Src         string    `json:"src"`
	Title       string    `json:"title"`
	Alt         string    `json:"alt"`
	Position    *Position `json:"position,omitempty"`
}

// utilityClassRe matches presentational/state class names that make poor
// selectors: state toggles and common atomic-CSS prefixes.
var utilityClassRe = regexp.MustCompile(`^(active|selected|open|hover|focus|disabled|hidden|visible|d-|p-|m-|px-|py-|mx-|my-|mt-|mb-|w-|h-|text-|bg-|flex|grid|col-|row-)`)

// GenerateFallbacks produces the ranked candidate list for one element:
// attribute, text, semantic, and positional families with fixed confidence
// priors, de-duplicated, filtered to the confidence floor, sorted descending,
// and capped.
func GenerateFallbacks(info ElementInfo) []Fallback {
	var out []Fallback
	out = append(out, attributeFallbacks(info)...)
	out = append(out, textFallbacks(info)...)
	out = append(out, semanticFallbacks(info)...)
	out = append(out, positionalFallbacks(info)...)
	return rankFallbacks(out)
}

// rankFallbacks applies the shared ordering contract: de-dup by selector
// (keeping the highest confidence), drop entries under the floor, sort
// descending, cap the list.
func rankFallbacks(candidates []Fallback) []Fallback {
	best := make(map[string]Fallback, len(candidates))
	for _, c := range candidates {
		if c.Selector == "" || c.Confidence < MinFallbackConfidence {
			continue
		}
		if prev, ok := best[c.Selector]; !ok || c.Confidence > prev.Confidence {
			best[c.Selector] = c
		}
	}
	out := make([]Fallback, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Selector < out[j].Selector
	})
	if len(out) > MaxFallbackCandidates {
		out = out[:MaxFallbackCandidates]
	}
	return out
}

func attributeFallbacks(info ElementInfo) []Fallback {
	var out []Fallback

	if info.ID != "" {
		out = append(out, Fallback{
			Selector:    "#" + cssEscape(info.ID),
			Category:    CategoryAttribute,
			Confidence:  0.95,
			Description: fmt.Sprintf("element id %q", info.ID),
			Strategy:    "id",
		})
	}
	if info.DataTestID != "" {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`[data-testid=%q]`, info.DataTestID),
			Category:    CategoryAttribute,
			Confidence:  0.9,
			Description: fmt.Sprintf("test id %q", info.DataTestID),
			Strategy:    "data-testid",
		})
	}
	if info.Name != "" {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`[name=%q]`, info.Name),
			Category:    CategoryAttribute,
			Confidence:  0.9,
			Description: fmt.Sprintf("name attribute %q", info.Name),
			Strategy:    "name",
		})
		if info.Tag != "" {
			out = append(out, Fallback{
				Selector:    fmt.Sprintf(`%s[name=%q]`, info.Tag, info.Name),
				Category:    CategoryAttribute,
				Confidence:  0.85,
				Description: fmt.Sprintf("%s with name %q", info.Tag, info.Name),
				Strategy:    "tag-name",
			})
		}
	}

	classes := stableClasses(info.Classes, 3)
	if len(classes) > 0 && info.Tag != "" {
		out = append(out, Fallback{
			Selector:    info.Tag + "." + cssEscape(classes[0]),
			Category:    CategoryAttribute,
			Confidence:  0.65,
			Description: fmt.Sprintf("%s with class %q", info.Tag, classes[0]),
			Strategy:    "tag-class",
		})
	}
	if len(classes) > 1 {
		sel := ""
		for _, c := range classes {
			sel += "." + cssEscape(c)
		}
		out = append(out, Fallback{
			Selector:    sel,
			Category:    CategoryAttribute,
			Confidence:  0.6,
			Description: fmt.Sprintf("class combination %s", strings.Join(classes, " ")),
			Strategy:    "class-combo",
		})
	}
	return out
}

func textFallbacks(info ElementInfo) []Fallback {
	var out []Fallback

	text := strings.TrimSpace(info.Text)
	if text != "" && len(text) <= 100 {
		conf := 0.8
		selector := "text=" + text
		if info.Tag != "" {
			selector = info.Tag + ":text=" + text
			conf = 0.85
		}
		out = append(out, Fallback{
			Selector:    selector,
			Category:    CategoryText,
			Confidence:  conf,
			Description: fmt.Sprintf("exact text %q", truncate(text, 40)),
			Strategy:    "exact-text",
		})

		if len(text) > 20 {
			out = append(out, Fallback{
				Selector:    "text*=" + text[:20],
				Category:    CategoryText,
				Confidence:  0.7,
				Description: fmt.Sprintf("partial text %q", text[:20]),
				Strategy:    "partial-text",
			})
		}
	}
	if info.Placeholder != "" {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`[placeholder=%q]`, info.Placeholder),
			Category:    CategoryText,
			Confidence:  0.75,
			Description: fmt.Sprintf("placeholder %q", info.Placeholder),
			Strategy:    "placeholder",
		})
	}
	if info.Value != "" && len(info.Value) <= 50 {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`[value=%q]`, info.Value),
			Category:    CategoryText,
			Confidence:  0.6,
			Description: fmt.Sprintf("value %q", truncate(info.Value, 30)),
			Strategy:    "value",
		})
	}
	return out
}

func semanticFallbacks(info ElementInfo) []Fallback {
	var out []Fallback

	if info.AriaLabel != "" {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`[aria-label=%q]`, info.AriaLabel),
			Category:    CategorySemantic,
			Confidence:  0.85,
			Description: fmt.Sprintf("aria label %q", info.AriaLabel),
			Strategy:    "aria-label",
		})
	}
	if info.Role != "" {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`[role=%q]`, info.Role),
			Category:    CategorySemantic,
			Confidence:  0.7,
			Description: fmt.Sprintf("role %q", info.Role),
			Strategy:    "role",
		})
		if info.Tag != "" {
			out = append(out, Fallback{
				Selector:    fmt.Sprintf(`%s[role=%q]`, info.Tag, info.Role),
				Category:    CategorySemantic,
				Confidence:  0.75,
				Description: fmt.Sprintf("%s with role %q", info.Tag, info.Role),
				Strategy:    "tag-role",
			})
		}
	}
	if info.Title != "" {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`[title=%q]`, info.Title),
			Category:    CategorySemantic,
			Confidence:  0.7,
			Description: fmt.Sprintf("title %q", truncate(info.Title, 40)),
			Strategy:    "title",
		})
	}
	if info.Alt != "" {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`[alt=%q]`, info.Alt),
			Category:    CategorySemantic,
			Confidence:  0.75,
			Description: fmt.Sprintf("alt text %q", truncate(info.Alt, 40)),
			Strategy:    "alt",
		})
	}
	if info.Tag == "input" && info.Type != "" {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`input[type=%q]`, info.Type),
			Category:    CategorySemantic,
			Confidence:  0.6,
			Description: fmt.Sprintf("input of type %q", info.Type),
			Strategy:    "input-type",
		})
	}
	return out
}

func positionalFallbacks(info ElementInfo) []Fallback {
	if info.Position == nil || info.Position.ParentSelector == "" {
		return nil
	}
	var out []Fallback
	if info.Position.ChildIndex >= 0 {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf("%s > :nth-child(%d)", info.Position.ParentSelector, info.Position.ChildIndex+1),
			Category:    CategoryPosition,
			Confidence:  0.4,
			Description: fmt.Sprintf("child %d of %s", info.Position.ChildIndex+1, info.Position.ParentSelector),
			Strategy:    "nth-child",
		})
	}
	if info.Tag != "" && info.Position.TypeIndex >= 0 {
		out = append(out, Fallback{
			Selector:    fmt.Sprintf("%s > %s:nth-of-type(%d)", info.Position.ParentSelector, info.Tag, info.Position.TypeIndex+1),
			Category:    CategoryPosition,
			Confidence:  0.35,
			Description: fmt.Sprintf("%s number %d under %s", info.Tag, info.Position.TypeIndex+1, info.Position.ParentSelector),
			Strategy:    "nth-of-type",
		})
	}
	return out
}

// stableClasses drops utility/state classes and caps the list.
func stableClasses(classes []string, max int) []string {
	out := make([]string, 0, max)
	for _, c := range classes {
		c = strings.TrimSpace(c)
		if c == "" || utilityClassRe.MatchString(c) {
			continue
		}
		out = append(out, c)
		if len(out) == max {
			break
		}
	}
	return out
}

// selectorHints is what we can read out of a failed primary selector string.
type selectorHints struct {
	Tag     string
	ID      string
	Classes []string
	Attrs   map[string]string
}

var (
	selTagRe   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*`)
	selIDRe    = regexp.MustCompile(`#([a-zA-Z0-9_-]+)`)
	selClassRe = regexp.MustCompile(`\.([a-zA-Z0-9_-]+)`)
	selAttrRe  = regexp.MustCompile(`\[([a-zA-Z-]+)\s*[*^$~|]?=\s*["']?([^"'\]]*)["']?\]`)
)

// parseSelectorHints extracts the apparent intent of a CSS selector: its tag,
// id, classes, and attribute equalities. Returns ok=false when nothing could
// be read out of it.
func parseSelectorHints(selector string) (selectorHints, bool) {
	hints := selectorHints{Attrs: map[string]string{}}

	if m := selTagRe.FindString(selector); m != "" {
		hints.Tag = strings.ToLower(m)
	}
	if m := selIDRe.FindStringSubmatch(selector); m != nil {
		hints.ID = m[1]
	}
	for _, m := range selClassRe.FindAllStringSubmatch(selector, -1) {
		hints.Classes = append(hints.Classes, m[1])
	}
	for _, m := range selAttrRe.FindAllStringSubmatch(selector, -1) {
		hints.Attrs[strings.ToLower(m[1])] = m[2]
	}

	ok := hints.Tag != "" || hints.ID != "" || len(hints.Classes) > 0 || len(hints.Attrs) > 0
	return hints, ok
}

// hintFallbacks derives candidates straight from the failed selector's parts,
// used before any live element has been located.
func hintFallbacks(hints selectorHints) []Fallback {
	var out []Fallback
	if hints.ID != "" {
		out = append(out, Fallback{
			Selector:    "#" + cssEscape(hints.ID),
			Category:    CategoryAttribute,
			Confidence:  0.95,
			Description: fmt.Sprintf("id %q from the original selector", hints.ID),
			Strategy:    "id",
		})
	}
	for key, val := range hints.Attrs {
		conf := 0.5
		switch key {
		case "data-testid", "data-test-id", "aria-label", "name":
			conf = 0.9
		}
		out = append(out, Fallback{
			Selector:    fmt.Sprintf(`[%s=%q]`, key, val),
			Category:    CategoryAttribute,
			Confidence:  conf,
			Description: fmt.Sprintf("attribute %s=%q from the original selector", key, val),
			Strategy:    "attr-hint",
		})
	}
	for i, c := range stableClasses(hints.Classes, 3) {
		conf := 0.65 - float64(i)*0.05
		sel := "." + cssEscape(c)
		if hints.Tag != "" {
			sel = hints.Tag + sel
		}
		out = append(out, Fallback{
			Selector:    sel,
			Category:    CategoryAttribute,
			Confidence:  conf,
			Description: fmt.Sprintf("class %q from the original selector", c),
			Strategy:    "class-hint",
		})
	}
	return out
}

// exploratoryFallbacks is the last-resort path for selectors that could not
// be interpreted: the selector with its id stripped, and each class tried in
// isolation.
func exploratoryFallbacks(selector string) []Fallback {
	var out []Fallback

	if stripped := selIDRe.ReplaceAllString(selector, ""); stripped != "" && stripped != selector {
		out = append(out, Fallback{
			Selector:    stripped,
			Category:    CategoryAttribute,
			Confidence:  0.45,
			Description: "original selector with id removed",
			Strategy:    "strip-id",
		})
	}
	for _, m := range selClassRe.FindAllStringSubmatch(selector, -1) {
		out = append(out, Fallback{
			Selector:    "." + m[1],
			Category:    CategoryAttribute,
			Confidence:  0.4,
			Description: fmt.Sprintf("isolated class %q", m[1]),
			Strategy:    "isolated-class",
		})
	}
	return out
}

var cssEscapeRe = regexp.MustCompile(`([^a-zA-Z0-9_-])`)

func cssEscape(s string) string {
	return cssEscapeRe.ReplaceAllString(s, `\$1`)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
