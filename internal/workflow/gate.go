package workflow

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the position of a session in the tool workflow. States are
// strictly ordered for gating purposes, but transitions are tool-triggered.
type State string

const (
	StateInitial           State = "initial"
	StateBrowserReady      State = "browser_ready"
	StatePageLoaded        State = "page_loaded"
	StateContentAnalyzed   State = "content_analyzed"
	StateSelectorAvailable State = "selector_available"
)

// History caps and the staleness window are part of the observable contract.
const (
	// ToolCallHistoryLimit bounds the recorded tool-call ring.
	ToolCallHistoryLimit = 50
	// TransitionHistoryLimit bounds the recorded state-transition ring.
	TransitionHistoryLimit = 20
	// ContentStalenessWindow is how long a successful content analysis stays
	// valid for interaction tools. Fixed window, not change-detection driven.
	ContentStalenessWindow = 5 * time.Minute
)

// Tool names the gate knows about.
const (
	ToolBrowserInit  = "browser_init"
	ToolNavigate     = "navigate"
	ToolGetContent   = "get_content"
	ToolFindSelector = "find_selector"
	ToolClick        = "click"
	ToolType         = "type"
	ToolPressKey     = "press_key"
	ToolBrowserClose = "browser_close"
)

// prerequisites maps each tool to the states it is admitted from. A missing
// entry means the tool is admitted from any state.
var prerequisites = map[string][]State{
	ToolNavigate:     {StateBrowserReady, StatePageLoaded, StateContentAnalyzed, StateSelectorAvailable},
	ToolGetContent:   {StatePageLoaded, StateContentAnalyzed, StateSelectorAvailable},
	ToolFindSelector: {StateContentAnalyzed, StateSelectorAvailable},
	ToolClick:        {StateContentAnalyzed, StateSelectorAvailable},
	ToolType:         {StateContentAnalyzed, StateSelectorAvailable},
	ToolPressKey:     {StateContentAnalyzed, StateSelectorAvailable},
}

// rejectionHints pairs the human-readable reason with the concrete next
// tool(s) an LLM caller should run. This text is part of the contract: it is
// what the caller reads to self-correct.
var rejectionHints = map[string]struct {
	reason  string
	nextFor map[State]string
}{
	ToolNavigate: {
		reason: "cannot navigate before the browser is initialized",
		nextFor: map[State]string{
			StateInitial: ToolBrowserInit,
		},
	},
	ToolGetContent: {
		reason: "cannot retrieve content before a page is loaded",
		nextFor: map[State]string{
			StateInitial:      ToolBrowserInit,
			StateBrowserReady: ToolNavigate,
		},
	},
	ToolFindSelector: {
		reason: "cannot search for selectors before analyzing page content",
		nextFor: map[State]string{
			StateInitial:      ToolBrowserInit,
			StateBrowserReady: ToolNavigate,
			StatePageLoaded:   ToolGetContent,
		},
	},
	ToolClick: {
		reason: "cannot interact with elements before analyzing page content",
		nextFor: map[State]string{
			StateInitial:      ToolBrowserInit,
			StateBrowserReady: ToolNavigate,
			StatePageLoaded:   ToolGetContent,
		},
	},
	ToolType: {
		reason: "cannot interact with elements before analyzing page content",
		nextFor: map[State]string{
			StateInitial:      ToolBrowserInit,
			StateBrowserReady: ToolNavigate,
			StatePageLoaded:   ToolGetContent,
		},
	},
	ToolPressKey: {
		reason: "cannot interact with elements before analyzing page content",
		nextFor: map[State]string{
			StateInitial:      ToolBrowserInit,
			StateBrowserReady: ToolNavigate,
			StatePageLoaded:   ToolGetContent,
		},
	},
}

// Decision is the gate's verdict for one tool invocation.
type Decision struct {
	Admitted          bool   `json:"admitted"`
	Reason            string `json:"reason,omitempty"`
	SuggestedNextStep string `json:"suggested_next_step,omitempty"`
}

// ToolCall is one recorded invocation, ring-bounded and append-only.
type ToolCall struct {
	ID        string                 `json:"id"`
	Tool      string                 `json:"tool"`
	Timestamp time.Time              `json:"timestamp"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
}

// StateTransition records one state change.
type StateTransition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Tool      string    `json:"tool"`
	Timestamp time.Time `json:"timestamp"`
}

// Gate owns the workflow context for a single browser session: current state,
// last URL, content-analysis flags and fingerprint, and the bounded call and
// transition histories. All mutation goes through Record; concurrent access
// is serialized with a mutex.
type Gate struct {
	mu sync.Mutex

	state                    State
	lastURL                  string
	contentAnalyzed          bool
	contentAnalysisAttempted bool
	contentHash              string

	calls       []ToolCall
	transitions []StateTransition

	callLimit       int
	transitionLimit int
	staleness       time.Duration
	now             func() time.Time
}

// NewGate starts a gate in the initial state with the stock staleness window
// and history caps.
func NewGate() *Gate {
	return &Gate{
		state:           StateInitial,
		callLimit:       ToolCallHistoryLimit,
		transitionLimit: TransitionHistoryLimit,
		staleness:       ContentStalenessWindow,
		now:             time.Now,
	}
}

// SetStalenessWindow overrides the content-analysis staleness window.
func (g *Gate) SetStalenessWindow(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d > 0 {
		g.staleness = d
	}
}

// SetHistoryLimits overrides the call and transition ring caps. Non-positive
// values keep the current cap.
func (g *Gate) SetHistoryLimits(calls, transitions int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if calls > 0 {
		g.callLimit = calls
	}
	if transitions > 0 {
		g.transitionLimit = transitions
	}
}

// SetClock injects a clock for tests.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// State returns the current workflow state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LastURL returns the most recently navigated URL.
func (g *Gate) LastURL() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastURL
}

// ContentHash returns the current content fingerprint (empty before any
// successful content analysis).
func (g *Gate) ContentHash() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contentHash
}

// Validate decides whether a tool may run in the current state. It does not
// mutate anything; callers report the outcome through Record afterwards.
func (g *Gate) Validate(tool string, args map[string]interface{}) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	allowed, gated := prerequisites[tool]
	if !gated {
		return Decision{Admitted: true}
	}
	for _, s := range allowed {
		if g.state == s {
			return Decision{Admitted: true}
		}
	}

	hint := rejectionHints[tool]
	next := hint.nextFor[g.state]
	if next == "" {
		next = ToolBrowserInit
	}
	return Decision{
		Admitted: false,
		Reason: fmt.Sprintf("%s: tool %q requires state %s but the session is in state %s",
			hint.reason, tool, describeStates(allowed), g.state),
		SuggestedNextStep: next,
	}
}

func describeStates(states []State) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	sort.Strings(names)
	return strings.Join(names, " or ")
}

// Record appends a tool call to the history and, on success, applies the
// state transition the tool implies. Failed calls never change state.
func (g *Gate) Record(tool string, args map[string]interface{}, success bool, errMsg string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.calls = appendBounded(g.calls, ToolCall{
		ID:        uuid.NewString(),
		Tool:      tool,
		Timestamp: now,
		Args:      args,
		Success:   success,
		Error:     errMsg,
	}, g.callLimit)

	if !success {
		return
	}

	switch tool {
	case ToolBrowserInit:
		g.transitionLocked(StateBrowserReady, tool, now)
		g.contentAnalyzed = false
		g.contentAnalysisAttempted = false
		g.contentHash = ""
		g.lastURL = ""
	case ToolNavigate:
		g.transitionLocked(StatePageLoaded, tool, now)
		if url, ok := args["url"].(string); ok {
			g.lastURL = url
		}
		g.contentAnalyzed = false
		g.contentAnalysisAttempted = false
		g.contentHash = ""
	case ToolGetContent:
		// Estimate-only calls size the page without retrieving it; that is
		// not content analysis and unlocks nothing.
		if est, _ := args["estimateOnly"].(bool); est {
			g.contentAnalysisAttempted = true
			return
		}
		g.transitionLocked(StateContentAnalyzed, tool, now)
		g.contentAnalyzed = true
		g.contentAnalysisAttempted = true
	case ToolFindSelector:
		g.transitionLocked(StateSelectorAvailable, tool, now)
	case ToolBrowserClose:
		g.resetLocked(tool, now)
	}
}

// NoteContent regenerates the content fingerprint after a successful content
// retrieval. FNV-1a: change detection, not integrity.
func (g *Gate) NoteContent(content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	g.contentHash = fmt.Sprintf("%016x", h.Sum64())
}

// ContentStale reports whether prior content analysis can still be trusted:
// stale when no successful get_content call exists, or when the most recent
// one is older than the staleness window.
func (g *Gate) ContentStale() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.contentAnalyzed {
		return true
	}
	for i := len(g.calls) - 1; i >= 0; i-- {
		c := g.calls[i]
		if c.Tool == ToolGetContent && c.Success {
			return g.now().Sub(c.Timestamp) > g.staleness
		}
	}
	return true
}

// Reset returns the gate to the initial state, clearing all context.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked("reset", g.now())
}

func (g *Gate) resetLocked(tool string, now time.Time) {
	g.transitionLocked(StateInitial, tool, now)
	g.lastURL = ""
	g.contentAnalyzed = false
	g.contentAnalysisAttempted = false
	g.contentHash = ""
}

func (g *Gate) transitionLocked(to State, tool string, now time.Time) {
	if g.state == to {
		return
	}
	g.transitions = appendBounded(g.transitions, StateTransition{
		From:      g.state,
		To:        to,
		Tool:      tool,
		Timestamp: now,
	}, g.transitionLimit)
	g.state = to
}

// History returns a copy of the recorded tool calls, oldest first.
func (g *Gate) History() []ToolCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ToolCall, len(g.calls))
	copy(out, g.calls)
	return out
}

// Transitions returns a copy of the recorded state transitions, oldest first.
func (g *Gate) Transitions() []StateTransition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]StateTransition, len(g.transitions))
	copy(out, g.transitions)
	return out
}

func appendBounded[T any](ring []T, item T, limit int) []T {
	ring = append(ring, item)
	if len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	return ring
}
