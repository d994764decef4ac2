package locator

import (
	"strings"
	"testing"
)

func fullInfo() ElementInfo {
	return ElementInfo{
		Tag:        "button",
		ID:         "submit-btn",
		Classes:    []string{"btn", "btn-primary", "active", "mt-2"},
		Name:       "submit",
		AriaLabel:  "Submit form",
		Role:       "button",
		DataTestID: "submit",
		Text:       "Submit",
		Title:      "Submit the form",
		Position:   &Position{ParentSelector: "#form-actions", ChildIndex: 1, TypeIndex: 0},
	}
}

func TestGenerateFallbacksOrderingContract(t *testing.T) {
	fallbacks := GenerateFallbacks(fullInfo())

	if len(fallbacks) == 0 {
		t.Fatal("no fallbacks generated")
	}
	if len(fallbacks) > MaxFallbackCandidates {
		t.Errorf("got %d fallbacks, cap is %d", len(fallbacks), MaxFallbackCandidates)
	}
	for i, fb := range fallbacks {
		if fb.Confidence < MinFallbackConfidence {
			t.Errorf("fallback %d %q has confidence %.2f below floor", i, fb.Selector, fb.Confidence)
		}
		if i > 0 && fallbacks[i-1].Confidence < fb.Confidence {
			t.Errorf("fallbacks not sorted descending at %d: %.2f < %.2f", i, fallbacks[i-1].Confidence, fb.Confidence)
		}
	}
}

func TestIDOutranksClasses(t *testing.T) {
	fallbacks := GenerateFallbacks(fullInfo())

	idRank, classRank := -1, -1
	for i, fb := range fallbacks {
		switch fb.Strategy {
		case "id":
			idRank = i
		case "tag-class", "class-combo":
			if classRank == -1 {
				classRank = i
			}
		}
	}
	if idRank == -1 {
		t.Fatal("no id fallback generated")
	}
	if classRank != -1 && idRank > classRank {
		t.Errorf("id fallback at rank %d behind class fallback at %d", idRank, classRank)
	}
	if fallbacks[0].Strategy != "id" {
		t.Errorf("top fallback strategy = %s, want id", fallbacks[0].Strategy)
	}
}

func TestPositionalFallbacksRankLowest(t *testing.T) {
	fallbacks := GenerateFallbacks(fullInfo())
	for i, fb := range fallbacks {
		if fb.Category == CategoryPosition && i < len(fallbacks)-3 {
			// Positional priors (0.35-0.4) must never beat attribute/text/semantic ones.
			for _, other := range fallbacks[i+1:] {
				if other.Category != CategoryPosition && other.Confidence > fb.Confidence {
					t.Errorf("positional %q (%.2f) ranked above %q (%.2f)", fb.Selector, fb.Confidence, other.Selector, other.Confidence)
				}
			}
		}
	}
}

func TestStableClassesFiltersUtility(t *testing.T) {
	got := stableClasses([]string{"active", "mt-2", "card", "hover", "product-tile", "bg-dark", "footer", "extra"}, 3)
	want := []string{"card", "product-tile", "footer"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("class %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseSelectorHints(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		wantOK   bool
		wantID   string
		wantTag  string
		classes  int
		attrs    int
	}{
		{"id selector", "#login-form", true, "login-form", "", 0, 0},
		{"tag with classes", "button.btn.btn-lg", true, "", "button", 2, 0},
		{"attribute selector", `input[name="email"]`, true, "", "input", 0, 1},
		{"compound", `div#main.content[data-testid="root"]`, true, "main", "div", 1, 1},
		{"uninterpretable", ">>> ???", false, "", "", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hints, ok := parseSelectorHints(tt.selector)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if hints.ID != tt.wantID {
				t.Errorf("id = %q, want %q", hints.ID, tt.wantID)
			}
			if hints.Tag != tt.wantTag {
				t.Errorf("tag = %q, want %q", hints.Tag, tt.wantTag)
			}
			if len(hints.Classes) != tt.classes {
				t.Errorf("classes = %v, want %d", hints.Classes, tt.classes)
			}
			if len(hints.Attrs) != tt.attrs {
				t.Errorf("attrs = %v, want %d", hints.Attrs, tt.attrs)
			}
		})
	}
}

func TestRankFallbacksDeduplicates(t *testing.T) {
	ranked := rankFallbacks([]Fallback{
		{Selector: "#a", Confidence: 0.5, Strategy: "low"},
		{Selector: "#a", Confidence: 0.9, Strategy: "high"},
		{Selector: "#b", Confidence: 0.2, Strategy: "under-floor"},
	})
	if len(ranked) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(ranked), ranked)
	}
	if ranked[0].Strategy != "high" || ranked[0].Confidence != 0.9 {
		t.Errorf("dedup kept wrong entry: %+v", ranked[0])
	}
}

func TestExploratoryFallbacks(t *testing.T) {
	out := exploratoryFallbacks("#gone.widget.panel")

	var strippedFound, isolatedFound bool
	for _, fb := range out {
		if fb.Strategy == "strip-id" && !strings.Contains(fb.Selector, "#") {
			strippedFound = true
		}
		if fb.Strategy == "isolated-class" {
			isolatedFound = true
		}
	}
	if !strippedFound {
		t.Error("missing id-stripped candidate")
	}
	if !isolatedFound {
		t.Error("missing isolated class candidates")
	}
}

func TestTextFallbackSelectors(t *testing.T) {
	info := ElementInfo{Tag: "a", Text: "Read the full documentation for details"}
	fallbacks := textFallbacks(info)

	var exact, partial bool
	for _, fb := range fallbacks {
		if fb.Strategy == "exact-text" && strings.HasPrefix(fb.Selector, "a:text=") {
			exact = true
		}
		if fb.Strategy == "partial-text" && strings.HasPrefix(fb.Selector, "text*=") {
			partial = true
		}
	}
	if !exact {
		t.Error("missing tag-qualified exact text candidate")
	}
	if !partial {
		t.Error("missing partial text candidate for long text")
	}
}
