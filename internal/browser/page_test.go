package browser

import "testing"

func TestParseTextSelector(t *testing.T) {
	tests := []struct {
		selector string
		tag      string
		text     string
		partial  bool
		ok       bool
	}{
		{"text=Submit order", "", "Submit order", false, true},
		{"text*=Submit", "", "Submit", true, true},
		{"button:text=Submit", "button", "Submit", false, true},
		{"#submit", "", "", false, false},
		{"button.primary", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			tag, text, partial, ok := parseTextSelector(tt.selector)
			if tag != tt.tag || text != tt.text || partial != tt.partial || ok != tt.ok {
				t.Errorf("parseTextSelector(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					tt.selector, tag, text, partial, ok, tt.tag, tt.text, tt.partial, tt.ok)
			}
		})
	}
}

func TestNamedKeysCoverCommonKeys(t *testing.T) {
	for _, name := range []string{"Enter", "Tab", "Escape", "Backspace", "ArrowDown", "Home"} {
		if _, ok := namedKeys[name]; !ok {
			t.Errorf("named key %q missing", name)
		}
	}
}

func TestBlockedResourceTypesAreOrdered(t *testing.T) {
	// Each level must block a superset of the previous one.
	levels := []string{"minimal", "standard", "aggressive"}
	for i := 1; i < len(levels); i++ {
		prev, cur := blockedResourceTypes[levels[i-1]], blockedResourceTypes[levels[i]]
		for typ := range prev {
			if _, ok := cur[typ]; !ok {
				t.Errorf("%s blocks %s but %s does not", levels[i-1], typ, levels[i])
			}
		}
		if len(cur) <= len(prev) {
			t.Errorf("%s does not block more than %s", levels[i], levels[i-1])
		}
	}
}
