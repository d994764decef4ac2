package content

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"browserpilot-mcp-server/internal/token"
	"browserpilot-mcp-server/internal/workflow"
)

// Recommendation thresholds: when the full-page HTML token count crosses
// these, the response suggests a narrower content mode.
const (
	MainModeRecommendTokens    = 15000
	SummaryModeRecommendTokens = 30000
	ChunkCountWarnThreshold    = 3
)

// Engine selects a content strategy per request: estimate size, pick a
// representation (full vs chunked, html vs text), retrieve, and enforce the
// token budget on the way out. One engine per session, alongside its gate.
type Engine struct {
	tokens *token.Engine
	gate   *workflow.Gate
	log    *zap.Logger
}

// NewEngine wires a content engine to its session's gate and token budget.
func NewEngine(tokens *token.Engine, gate *workflow.Gate, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{tokens: tokens, gate: gate, log: log}
}

// estimate is the pre-flight size analysis. It never fails: any error on the
// way is swallowed into a conservative assume-large fallback, because
// estimation must not abort the request it serves.
type estimate struct {
	HTMLTokens          int
	TextTokens          int
	CompressionRatio    float64
	Strategy            token.Strategy
	RecommendedType     string
	RequiresChunking    bool
	EstimatedChunks     int
	EmergencyExtraction bool
	Warning             string
	Recommendations     []string
}

// ProcessContentRequest runs the full pipeline: precondition check, defaults,
// scoped resource blocking, pre-flight estimation, retrieval, chunking, and
// the final output-budget gate.
func (e *Engine) ProcessContentRequest(ctx context.Context, page PageProvider, req Request) (*Response, error) {
	if e.gate != nil && e.gate.State() == workflow.StateInitial {
		return nil, &PreconditionError{
			Reason:            "content retrieval requires an initialized browser with a loaded page",
			SuggestedNextStep: workflow.ToolBrowserInit,
		}
	}

	mode := req.ContentMode
	if mode == "" {
		mode = ModeMain
		if req.Selector != "" {
			mode = ModeFull
		}
	}
	blocking := req.ResourceBlocking
	if blocking == "" {
		blocking = BlockingDisabled
		if mode == ModeMain || mode == ModeSummary {
			blocking = BlockingStandard
		}
	}

	// Scoped advisory blocking: enable best-effort, always release on exit.
	if blocking != BlockingDisabled {
		if rb, ok := page.(ResourceBlocker); ok {
			if err := rb.EnableResourceBlocking(ctx, blocking); err != nil {
				e.log.Warn("resource blocking setup failed, continuing unblocked",
					zap.String("level", blocking), zap.Error(err))
				blocking = BlockingDisabled
			} else {
				defer func() {
					if err := rb.DisableResourceBlocking(ctx); err != nil {
						e.log.Warn("resource blocking release failed", zap.Error(err))
					}
				}()
			}
		} else {
			blocking = BlockingDisabled
		}
	}

	eng := e.budgetEngine(req.MaxTokens)

	contentType := req.Type
	var est estimate
	var raw string
	haveRaw := false
	if contentType == "" || req.EstimateOnly {
		var sampled string
		est, sampled = e.estimateSize(ctx, page, eng, mode, req.Selector)
		if req.EstimateOnly {
			return e.estimateResponse(est, mode, req.Selector, blocking), nil
		}
		if contentType == "" {
			contentType = est.RecommendedType
		}
		// Reuse the estimation sample: one browser round-trip, and when the
		// emergency extraction was substituted the body matches the flag.
		if sampled != "" {
			raw = sampled
			haveRaw = true
		}
	}

	if !haveRaw {
		var err error
		raw, err = e.sample(ctx, page, mode, req.Selector)
		if err != nil {
			return nil, fmt.Errorf("content retrieval: %w", err)
		}
	}

	typ := token.TypeHTML
	body := raw
	if contentType == "text" {
		typ = token.TypeText
		body = token.ExtractText(raw)
	}

	resp, err := e.packageContent(eng, body, typ, req.ChunkingPreference)
	if err != nil {
		return nil, err
	}

	resp.RecommendedType = contentType
	resp.Recommendations = append(resp.Recommendations, est.Recommendations...)
	resp.Recommendations = append(resp.Recommendations, e.sizeRecommendations(resp, mode, req.Selector)...)
	resp.Guidance = "content analyzed; find_selector, click, type, and press_key are now available"
	resp.Metadata = Metadata{
		Mode:                mode,
		Selector:            req.Selector,
		EmergencyExtraction: est.EmergencyExtraction,
		ResourceBlocking:    blocking,
		Truncated:           resp.Metadata.Truncated,
		Warning:             est.Warning,
	}
	return resp, nil
}

// budgetEngine derives a per-request token engine when the caller narrows the
// budget; the absolute rejection ceiling is never raised or lowered.
func (e *Engine) budgetEngine(maxTokens int) *token.Engine {
	if maxTokens <= 0 {
		return e.tokens
	}
	limits := e.tokens.Limits()
	if maxTokens < limits.Safe {
		limits.Safe = maxTokens
	}
	if maxTokens < limits.Emergency {
		limits.Emergency = maxTokens
	}
	if maxTokens < limits.MaxTokensPerChunk {
		limits.MaxTokensPerChunk = maxTokens
	}
	return token.NewEngine(limits)
}

// estimateSize samples the page and decides the strategy ladder. A sample
// over the very-large threshold is replaced by the emergency extraction
// before re-counting; any failure yields the conservative fallback. The
// second return value is the sample the estimate was computed from (the
// substituted extraction when one happened), empty when sampling failed.
func (e *Engine) estimateSize(ctx context.Context, page PageProvider, eng *token.Engine, mode Mode, selector string) (estimate, string) {
	sampleHTML, err := e.sample(ctx, page, mode, selector)
	if err != nil {
		e.log.Warn("size estimation failed, assuming large content", zap.Error(err))
		return conservativeEstimate(eng), ""
	}

	htmlTokens := eng.CountTokens(sampleHTML, token.TypeHTML)
	emergency := false
	if htmlTokens > token.VeryLargeTokenThreshold {
		if out, evalErr := page.Eval(ctx, emergencyExtractJS); evalErr == nil && out != "" {
			sampleHTML = out
			htmlTokens = eng.CountTokens(sampleHTML, token.TypeHTML)
			emergency = true
		} else if evalErr != nil {
			e.log.Warn("emergency extraction failed", zap.Error(evalErr))
		}
	}

	text := token.ExtractText(sampleHTML)
	textTokens := eng.CountTokens(text, token.TypeText)
	ratio := 1.0
	if htmlTokens > 0 {
		ratio = float64(textTokens) / float64(htmlTokens)
	}

	est := estimate{
		HTMLTokens:          htmlTokens,
		TextTokens:          textTokens,
		CompressionRatio:    ratio,
		EmergencyExtraction: emergency,
	}
	if emergency {
		est.Recommendations = append(est.Recommendations,
			"page was too large to analyze whole; an emergency extraction (title, lead paragraph, interactive elements) was substituted")
	}

	limits := eng.Limits()
	switch {
	case htmlTokens <= limits.Safe:
		est.Strategy = token.StrategyFullHTML
		est.RecommendedType = "html"
	case textTokens <= limits.Safe:
		est.Strategy = token.StrategyFullText
		est.RecommendedType = "text"
		est.Warning = fmt.Sprintf("HTML rendering is large (%d tokens); text extraction fits the budget", htmlTokens)
		est.Recommendations = append(est.Recommendations, est.Warning)
	default:
		est.RequiresChunking = true
		if ratio < 0.6 {
			est.Strategy = token.StrategyChunkedText
			est.RecommendedType = "text"
			est.EstimatedChunks = chunkEstimate(textTokens, limits.MaxTokensPerChunk)
		} else {
			est.Strategy = token.StrategyChunkedHTML
			est.RecommendedType = "html"
			est.EstimatedChunks = chunkEstimate(htmlTokens, limits.MaxTokensPerChunk)
		}
		est.Recommendations = append(est.Recommendations,
			fmt.Sprintf("content requires chunking: estimated %d chunks of up to %d tokens each",
				est.EstimatedChunks, limits.MaxTokensPerChunk))
	}
	return est, sampleHTML
}

// conservativeEstimate is the catch-all when estimation itself fails: assume
// the page is large and steer the caller to chunked text.
func conservativeEstimate(eng *token.Engine) estimate {
	limits := eng.Limits()
	return estimate{
		HTMLTokens:       token.VeryLargeTokenThreshold,
		TextTokens:       token.VeryLargeTokenThreshold,
		CompressionRatio: 1.0,
		Strategy:         token.StrategyFallbackText,
		RecommendedType:  "text",
		RequiresChunking: true,
		EstimatedChunks:  chunkEstimate(token.VeryLargeTokenThreshold, limits.MaxTokensPerChunk),
		Warning:          "content size could not be estimated; assuming large",
		Recommendations: []string{
			"size estimation failed; retrieve as chunked text or narrow the request with a selector",
		},
	}
}

func chunkEstimate(tokens, perChunk int) int {
	if perChunk <= 0 {
		return 1
	}
	n := (tokens + perChunk - 1) / perChunk
	if n < 1 {
		n = 1
	}
	return n
}

// estimateResponse builds the metadata-only response for estimateOnly
// requests. Content is always empty.
func (e *Engine) estimateResponse(est estimate, mode Mode, selector, blocking string) *Response {
	original := est.HTMLTokens
	if est.RecommendedType == "text" {
		original = est.TextTokens
	}
	return &Response{
		Strategy:         est.Strategy,
		RecommendedType:  est.RecommendedType,
		OriginalTokens:   original,
		ChunkCount:       est.EstimatedChunks,
		CompressionRatio: est.CompressionRatio,
		RequiresChunking: est.RequiresChunking,
		Recommendations:  est.Recommendations,
		Guidance:         "estimation only; call get_content without estimateOnly to retrieve content",
		Metadata: Metadata{
			Mode:                mode,
			Selector:            selector,
			EstimationOnly:      true,
			EmergencyExtraction: est.EmergencyExtraction,
			ResourceBlocking:    blocking,
			Warning:             est.Warning,
		},
	}
}

// packageContent hands the body to the token engine and applies the final
// output gate: truncation over rejection whenever the absolute maximum is
// not exceeded.
func (e *Engine) packageContent(eng *token.Engine, body string, typ token.ContentType, chunkingPref string) (*Response, error) {
	limits := eng.Limits()

	if chunkingPref == ChunkingAvoid {
		tokens := eng.CountTokens(body, typ)
		resp := &Response{OriginalTokens: tokens, ProcessedTokens: tokens, ChunkCount: 1, CompressionRatio: 1.0}
		resp.Strategy = token.StrategyFullText
		if typ == token.TypeHTML {
			resp.Strategy = token.StrategyFullHTML
		}
		if tokens > limits.Safe {
			body = eng.EmergencyTruncate(body, typ)
			resp.ProcessedTokens = eng.CountTokens(body, typ)
			resp.CompressionRatio = float64(resp.ProcessedTokens) / float64(tokens)
			resp.Metadata.Truncated = true
			resp.Recommendations = append(resp.Recommendations,
				"content was truncated to respect the token budget; set chunkingPreference=allow to receive it whole in chunks")
		}
		resp.Content = body
		return resp, nil
	}

	prefer := token.ChunkHybrid
	if chunkingPref == ChunkingPrefer {
		prefer = token.ChunkSemantic
	}
	processed, err := eng.ProcessContent(body, typ, prefer)
	if err != nil {
		// Semantic splitting can fail on boundary-less content; hybrid cannot.
		processed, err = eng.ProcessContent(body, typ, token.ChunkHybrid)
		if err != nil {
			return nil, fmt.Errorf("chunking content: %w", err)
		}
	}

	resp := &Response{
		Content:          processed.Content,
		Chunks:           processed.Chunks,
		Strategy:         processed.Strategy,
		OriginalTokens:   processed.OriginalTokens,
		ProcessedTokens:  processed.ProcessedTokens,
		ChunkCount:       processed.ChunkCount,
		CompressionRatio: processed.CompressionRatio,
		RequiresChunking: len(processed.Chunks) > 0,
	}

	var verdict token.MCPValidation
	if len(processed.Chunks) > 0 {
		verdict = eng.StrictValidateChunks(processed.Chunks, typ)
	} else {
		verdict = eng.StrictValidateForMCP(processed.Content, typ)
	}
	switch verdict.Verdict {
	case token.VerdictReject:
		return nil, &TooLargeError{
			TokenCount: verdict.TokenCount,
			MaxTokens:  limits.AbsoluteMax,
			Guidance:   "narrow the request with a selector, contentMode=summary, or type=text",
		}
	case token.VerdictTruncate:
		if len(resp.Chunks) > 0 {
			total := 0
			for i := range resp.Chunks {
				if resp.Chunks[i].TokenCount > limits.Safe {
					resp.Chunks[i].Content = eng.EmergencyTruncate(resp.Chunks[i].Content, typ)
					resp.Chunks[i].TokenCount = eng.CountTokens(resp.Chunks[i].Content, typ)
				}
				total += resp.Chunks[i].TokenCount
			}
			resp.ProcessedTokens = total
		} else {
			resp.Content = eng.EmergencyTruncate(resp.Content, typ)
			resp.ProcessedTokens = eng.CountTokens(resp.Content, typ)
		}
		resp.Metadata.Truncated = true
		resp.Recommendations = append(resp.Recommendations, verdict.Warning)
	default:
		if verdict.Warning != "" {
			resp.Recommendations = append(resp.Recommendations, verdict.Warning)
		}
	}
	return resp, nil
}

// sizeRecommendations suggests narrower modes for oversized whole-page
// requests and warns when a chunk set is getting unwieldy.
func (e *Engine) sizeRecommendations(resp *Response, mode Mode, selector string) []string {
	var recs []string
	if selector == "" && (mode == ModeFull || mode == ModeMain) {
		switch {
		case resp.OriginalTokens > SummaryModeRecommendTokens:
			recs = append(recs, fmt.Sprintf("content is %d tokens; contentMode=summary would reduce it substantially", resp.OriginalTokens))
		case mode == ModeFull && resp.OriginalTokens > MainModeRecommendTokens:
			recs = append(recs, fmt.Sprintf("page is %d tokens; contentMode=main would skip page chrome", resp.OriginalTokens))
		}
	}
	if resp.ChunkCount > ChunkCountWarnThreshold {
		recs = append(recs, fmt.Sprintf("content split into %d chunks; a selector or narrower contentMode would reduce round trips", resp.ChunkCount))
	}
	return recs
}
