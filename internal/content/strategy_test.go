package content

import (
	"context"
	"errors"
	"strings"
	"testing"

	"browserpilot-mcp-server/internal/token"
	"browserpilot-mcp-server/internal/workflow"
)

type fakeProvider struct {
	html        string
	mainHTML    string
	summaryHTML string
	elements    map[string]string
	htmlErr     error
	evalErr     error
	htmlCalls   int
}

func (f *fakeProvider) HTML(_ context.Context) (string, error) {
	f.htmlCalls++
	return f.html, f.htmlErr
}

func (f *fakeProvider) ElementHTML(_ context.Context, selector string) (string, bool, error) {
	html, ok := f.elements[selector]
	return html, ok, nil
}

func (f *fakeProvider) Eval(_ context.Context, js string) (string, error) {
	if f.evalErr != nil {
		return "", f.evalErr
	}
	switch js {
	case mainContentJS:
		return f.mainHTML, nil
	case summaryJS:
		return f.summaryHTML, nil
	case emergencyExtractJS:
		return "title: Huge Page\nlead: first paragraph", nil
	}
	return "", nil
}

type blockingProvider struct {
	fakeProvider
	enabled   []string
	disabled  int
	enableErr error
}

func (b *blockingProvider) EnableResourceBlocking(_ context.Context, level string) error {
	if b.enableErr != nil {
		return b.enableErr
	}
	b.enabled = append(b.enabled, level)
	return nil
}

func (b *blockingProvider) DisableResourceBlocking(_ context.Context) error {
	b.disabled++
	return nil
}

// readyGate drives a fresh gate past navigation so content requests are
// admitted.
func readyGate() *workflow.Gate {
	g := workflow.NewGate()
	g.Record(workflow.ToolBrowserInit, nil, true, "")
	g.Record(workflow.ToolNavigate, map[string]interface{}{"url": "https://example.com"}, true, "")
	return g
}

func newTestEngine(gate *workflow.Gate) *Engine {
	return NewEngine(token.NewEngine(token.DefaultLimits()), gate, nil)
}

// smallPage fits the safe tier as HTML.
func smallPage() string {
	return strings.Repeat("<p>alpha beta gamma delta</p>\n", 125)
}

// markupHeavyPage exceeds the safe tier as HTML while its text rendering
// fits: attribute-dense markup around modest text.
func markupHeavyPage() string {
	return strings.Repeat(`<div class="nav bar" data-kind="x"><p>alpha beta gamma delta</p></div>`, 1400)
}

// densePage exceeds the safe tier in both renderings with a compression
// ratio under 0.6, forcing chunked text.
func densePage() string {
	return strings.Repeat(`<span class="a b" data-i="1" data-x="y">word word word word word word word word</span>`, 2100)
}

// hugePage crosses the very-large threshold, so estimation substitutes the
// emergency extraction.
func hugePage() string {
	return strings.Repeat(`<span class="a b" data-i="1" data-x="y">word word word word word word word word</span>`, 2600)
}

func TestRejectedInInitialState(t *testing.T) {
	e := newTestEngine(workflow.NewGate())

	_, err := e.ProcessContentRequest(context.Background(), &fakeProvider{html: smallPage()}, Request{})
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
	if pre.SuggestedNextStep != workflow.ToolBrowserInit {
		t.Errorf("suggested next step = %q, want %q", pre.SuggestedNextStep, workflow.ToolBrowserInit)
	}
}

func TestEstimateOnlySmallPage(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: smallPage()}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		EstimateOnly: true,
		ContentMode:  ModeFull,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Strategy != token.StrategyFullHTML {
		t.Errorf("strategy = %s, want %s", resp.Strategy, token.StrategyFullHTML)
	}
	if resp.Content != "" {
		t.Error("estimateOnly returned real content")
	}
	if !resp.Metadata.EstimationOnly {
		t.Error("metadata.estimationOnly not set")
	}
	if resp.OriginalTokens <= 0 {
		t.Errorf("original tokens = %d, want > 0", resp.OriginalTokens)
	}
}

func TestLargeHTMLFallsBackToText(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: markupHeavyPage()}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		EstimateOnly: true,
		ContentMode:  ModeFull,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Strategy != token.StrategyFullText {
		t.Errorf("strategy = %s, want %s", resp.Strategy, token.StrategyFullText)
	}
	if resp.RecommendedType != "text" {
		t.Errorf("recommended type = %q, want text", resp.RecommendedType)
	}
	found := false
	for _, r := range resp.Recommendations {
		if strings.Contains(r, "HTML") && strings.Contains(r, "large") {
			found = true
		}
	}
	if !found {
		t.Errorf("no HTML-too-large recommendation in %v", resp.Recommendations)
	}
}

func TestDensePageRequiresChunkedText(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: densePage()}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		EstimateOnly: true,
		ContentMode:  ModeFull,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Strategy != token.StrategyChunkedText {
		t.Errorf("strategy = %s, want %s", resp.Strategy, token.StrategyChunkedText)
	}
	if !resp.RequiresChunking {
		t.Error("requiresChunking not set")
	}
	found := false
	for _, r := range resp.Recommendations {
		if strings.Contains(r, "chunk") {
			found = true
		}
	}
	if !found {
		t.Errorf("no chunk-count recommendation in %v", resp.Recommendations)
	}
}

func TestFullRetrievalSmallPage(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: smallPage()}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		Type:        "html",
		ContentMode: ModeFull,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content == "" {
		t.Fatal("no content returned")
	}
	if resp.ChunkCount != 1 || len(resp.Chunks) != 0 {
		t.Errorf("small page was chunked: count=%d chunks=%d", resp.ChunkCount, len(resp.Chunks))
	}
	if resp.Guidance == "" {
		t.Error("success response carries no workflow guidance")
	}
}

func TestFullRetrievalChunksOversizedText(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: densePage()}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{ContentMode: ModeFull})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(resp.Chunks))
	}
	for i, c := range resp.Chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.TotalChunks != len(resp.Chunks) {
			t.Errorf("chunk %d totalChunks = %d, want %d", i, c.TotalChunks, len(resp.Chunks))
		}
	}
}

func TestDefaultModeUsesMainExtraction(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{
		html:     densePage(),
		mainHTML: "<main><p>the actual article body lives here</p></main>",
	}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{Type: "html"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Content, "actual article body") {
		t.Error("whole-page request did not default to main content extraction")
	}
	if resp.Metadata.Mode != ModeMain {
		t.Errorf("metadata mode = %s, want %s", resp.Metadata.Mode, ModeMain)
	}
}

func TestSelectorScopedRetrieval(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{
		html:     densePage(),
		elements: map[string]string{"#prices": "<table><tr><td>42</td></tr></table>"},
	}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		Type:     "html",
		Selector: "#prices",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Content, "<td>42</td>") {
		t.Errorf("selector content missing: %q", resp.Content)
	}
	if resp.Metadata.Selector != "#prices" {
		t.Errorf("metadata selector = %q", resp.Metadata.Selector)
	}
}

func TestEstimationFailureFallsBackConservatively(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{htmlErr: errors.New("page detached"), evalErr: errors.New("page detached")}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		EstimateOnly: true,
		ContentMode:  ModeFull,
	})
	if err != nil {
		t.Fatalf("estimation failure aborted the request: %v", err)
	}
	if resp.Strategy != token.StrategyFallbackText {
		t.Errorf("strategy = %s, want %s", resp.Strategy, token.StrategyFallbackText)
	}
	if !resp.RequiresChunking {
		t.Error("conservative fallback should assume chunking")
	}
}

func TestResourceBlockingIsScoped(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &blockingProvider{fakeProvider: fakeProvider{
		html:     smallPage(),
		mainHTML: smallPage(),
	}}

	_, err := e.ProcessContentRequest(context.Background(), page, Request{Type: "html"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.enabled) != 1 || page.enabled[0] != BlockingStandard {
		t.Errorf("blocking enabled = %v, want [standard]", page.enabled)
	}
	if page.disabled != 1 {
		t.Errorf("blocking disabled %d times, want 1", page.disabled)
	}
}

func TestResourceBlockingFailureIsIgnored(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &blockingProvider{
		fakeProvider: fakeProvider{html: smallPage(), mainHTML: smallPage()},
		enableErr:    errors.New("interception unavailable"),
	}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{Type: "html"})
	if err != nil {
		t.Fatalf("blocking failure aborted retrieval: %v", err)
	}
	if resp.Metadata.ResourceBlocking != BlockingDisabled {
		t.Errorf("metadata blocking = %q, want disabled", resp.Metadata.ResourceBlocking)
	}
	if page.disabled != 0 {
		t.Error("disable called although enable failed")
	}
}

func TestChunkingAvoidTruncatesInstead(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: densePage()}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		Type:               "text",
		ContentMode:        ModeFull,
		ChunkingPreference: ChunkingAvoid,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Chunks) != 0 {
		t.Fatal("avoid preference still produced chunks")
	}
	if !resp.Metadata.Truncated {
		t.Error("oversized content not marked truncated")
	}
	if !strings.HasSuffix(resp.Content, "[content truncated to fit token budget]") {
		t.Error("truncation marker missing")
	}
}

func TestMaxTokensNarrowsBudget(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: smallPage()}

	// smallPage is ~1250 tokens as HTML; a 300-token budget forces chunking.
	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		Type:        "html",
		ContentMode: ModeFull,
		MaxTokens:   300,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Chunks) < 2 {
		t.Fatalf("narrowed budget did not chunk: %d chunks", len(resp.Chunks))
	}
	for _, c := range resp.Chunks {
		if c.TokenCount > 2*300 {
			t.Errorf("chunk of %d tokens far exceeds the 300 token budget", c.TokenCount)
		}
	}
}

func TestNarrowedBudgetTruncatesOversizedChunks(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: smallPage()}

	// The splitter sizes chunks by an estimated chars-per-token ratio, so it
	// can oversize them against a narrow budget; the output gate must bring
	// every chunk back within it, not just whole-content responses.
	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		Type:        "html",
		ContentMode: ModeFull,
		MaxTokens:   300,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Chunks) < 2 {
		t.Fatalf("narrowed budget did not chunk: %d chunks", len(resp.Chunks))
	}
	if !resp.Metadata.Truncated {
		t.Error("over-budget chunks not marked truncated")
	}
	total := 0
	marked := false
	for _, c := range resp.Chunks {
		// Allow a little headroom for the marker appended after shrinking.
		if c.TokenCount > 300+40 {
			t.Errorf("chunk of %d tokens still over the 300 token budget", c.TokenCount)
		}
		if strings.HasSuffix(c.Content, "<!-- content truncated to fit token budget -->") {
			marked = true
		}
		total += c.TokenCount
	}
	if !marked {
		t.Error("no chunk carries the truncation marker")
	}
	if resp.ProcessedTokens == 0 || resp.ProcessedTokens != total {
		t.Errorf("processedTokens = %d, want chunk sum %d", resp.ProcessedTokens, total)
	}
}

func TestEmergencyExtractionServesSubstitutedBody(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: hugePage()}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{ContentMode: ModeFull})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Metadata.EmergencyExtraction {
		t.Fatal("very large page did not trigger emergency extraction")
	}
	if !strings.Contains(resp.Content, "Huge Page") {
		t.Errorf("flagged response does not carry the extraction body: %q", resp.Content)
	}
}

func TestAutoTypedRequestSamplesOnce(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: smallPage()}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{ContentMode: ModeFull})
	if err != nil {
		t.Fatal(err)
	}
	if page.htmlCalls != 1 {
		t.Errorf("page sampled %d times, want 1", page.htmlCalls)
	}
	if resp.Metadata.EmergencyExtraction {
		t.Error("ordinary page flagged as emergency extraction")
	}
	if resp.Content == "" {
		t.Error("no content returned")
	}
}

func TestMainModeRecommendsSummaryForHugeExtraction(t *testing.T) {
	e := newTestEngine(readyGate())
	page := &fakeProvider{html: densePage(), mainHTML: densePage()}

	resp, err := e.ProcessContentRequest(context.Background(), page, Request{
		Type:        "html",
		ContentMode: ModeMain,
	})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range resp.Recommendations {
		if strings.Contains(r, "contentMode=summary") {
			found = true
		}
	}
	if !found {
		t.Errorf("no summary suggestion for a %d token main extraction: %v",
			resp.OriginalTokens, resp.Recommendations)
	}
}
