package token

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ContentType distinguishes HTML payloads from plain text for counting and
// truncation purposes.
type ContentType string

const (
	TypeHTML ContentType = "html"
	TypeText ContentType = "text"
)

// Budget tiers. These are observable behavior, not internal detail: the MCP
// output gate, chunk sizing, and truncation all key off them. Override via
// Limits when constructing the engine; never inline the raw numbers elsewhere.
const (
	// EmergencyTokenLimit is the tier emergency truncation shrinks down to.
	EmergencyTokenLimit = 18000
	// SafeTokenLimit is the tier above which content must be chunked or truncated.
	SafeTokenLimit = 20000
	// AbsoluteMaxTokens is the hard ceiling; content over it is rejected outright.
	AbsoluteMaxTokens = 25000
	// VeryLargeTokenThreshold triggers emergency extraction during estimation.
	VeryLargeTokenThreshold = 50000

	// DefaultMaxTokensPerChunk bounds a single chunk.
	DefaultMaxTokensPerChunk = 15000
	// DefaultChunkOverlapChars is the character overlap between fixed chunks.
	DefaultChunkOverlapChars = 200

	// CharsPerTokenText and CharsPerTokenHTML drive the legacy length-based
	// estimate and fixed chunk sizing.
	CharsPerTokenText = 4.0
	CharsPerTokenHTML = 3.5
)

// Strategy names the representation chosen for returning page content.
type Strategy string

const (
	StrategyFullHTML     Strategy = "full_html"
	StrategyFullText     Strategy = "full_text"
	StrategyChunkedHTML  Strategy = "chunked_html"
	StrategyChunkedText  Strategy = "chunked_text"
	StrategyFallbackText Strategy = "fallback_text"
)

// Limits carries the configured budget tiers and chunk bounds.
type Limits struct {
	Emergency         int
	Safe              int
	AbsoluteMax       int
	MaxTokensPerChunk int
	ChunkOverlapChars int
}

// DefaultLimits returns the stock tiers.
func DefaultLimits() Limits {
	return Limits{
		Emergency:         EmergencyTokenLimit,
		Safe:              SafeTokenLimit,
		AbsoluteMax:       AbsoluteMaxTokens,
		MaxTokensPerChunk: DefaultMaxTokensPerChunk,
		ChunkOverlapChars: DefaultChunkOverlapChars,
	}
}

// Engine counts approximate tokens, validates content against the budget
// tiers, and splits oversized content into chunks. Counting is heuristic and
// pattern-based (target 75-95% of a real tokenizer), all methods are pure
// computation over in-memory data.
type Engine struct {
	limits Limits
}

// NewEngine builds an engine, filling any zero limit from the defaults.
func NewEngine(limits Limits) *Engine {
	def := DefaultLimits()
	if limits.Emergency <= 0 {
		limits.Emergency = def.Emergency
	}
	if limits.Safe <= 0 {
		limits.Safe = def.Safe
	}
	if limits.AbsoluteMax <= 0 {
		limits.AbsoluteMax = def.AbsoluteMax
	}
	if limits.MaxTokensPerChunk <= 0 {
		limits.MaxTokensPerChunk = def.MaxTokensPerChunk
	}
	if limits.ChunkOverlapChars < 0 {
		limits.ChunkOverlapChars = def.ChunkOverlapChars
	}
	return &Engine{limits: limits}
}

// Limits returns the tiers this engine enforces.
func (e *Engine) Limits() Limits { return e.limits }

var (
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	attrRe   = regexp.MustCompile(`[a-zA-Z-]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	entityRe = regexp.MustCompile(`&#?[a-zA-Z0-9]+;`)
)

// CountTokens estimates the LLM token cost of content. HTML markup is costed
// per tag and attribute; text is costed per word with length scaling,
// punctuation and numbers count one each, non-ASCII runes count extra to
// approximate multi-byte Unicode encodings.
func (e *Engine) CountTokens(content string, typ ContentType) int {
	if content == "" {
		return 0
	}
	var total float64
	text := content
	if typ == TypeHTML {
		tags := tagRe.FindAllString(content, -1)
		total += 1.5 * float64(len(tags))
		for _, tag := range tags {
			total += 2.5 * float64(len(attrRe.FindAllString(tag, -1)))
		}
		entities := entityRe.FindAllString(content, -1)
		total += float64(len(entities))
		text = tagRe.ReplaceAllString(content, " ")
		text = entityRe.ReplaceAllString(text, " ")
	}
	total += countTextTokens(text)
	return int(math.Ceil(total))
}

// countTextTokens walks runs of runes: letter runs scale with length, digit
// runs count as one number, punctuation counts per character, non-ASCII runes
// cost 2, whitespace runs contribute a small fractional cost.
func countTextTokens(text string) float64 {
	var total float64
	letters := 0
	digits := 0
	inSpace := false

	flushWord := func() {
		if letters > 0 {
			switch {
			case letters <= 4:
				total += 1
			case letters <= 8:
				total += 1.5
			default:
				total += 2
			}
			letters = 0
		}
		if digits > 0 {
			total++
			digits = 0
		}
	}

	for _, r := range text {
		switch {
		case r > unicode.MaxASCII:
			flushWord()
			inSpace = false
			total += 2
		case unicode.IsSpace(r):
			flushWord()
			if !inSpace {
				total += 0.25
				inSpace = true
			}
		case unicode.IsLetter(r):
			if digits > 0 {
				flushWord()
			}
			inSpace = false
			letters++
		case unicode.IsDigit(r):
			if letters > 0 {
				flushWord()
			}
			inSpace = false
			digits++
		default:
			flushWord()
			inSpace = false
			total++
		}
	}
	flushWord()
	return total
}

// LegacyEstimate is the original length-based approximation: character count
// divided by a type-dependent chars-per-token ratio, plus a 10% buffer. Kept
// as a fallback and comparison mode for the pattern-based counter.
func (e *Engine) LegacyEstimate(content string, typ ContentType) int {
	if content == "" {
		return 0
	}
	ratio := CharsPerTokenText
	if typ == TypeHTML {
		ratio = CharsPerTokenHTML
	}
	return int(math.Ceil(float64(len(content)) / ratio * 1.1))
}

// SizeReport is the outcome of validating content against the safe tier.
type SizeReport struct {
	TokenCount          int      `json:"token_count"`
	ExceedsLimit        bool     `json:"exceeds_limit"`
	RecommendedStrategy Strategy `json:"recommended_strategy"`
	EstimatedChunks     int      `json:"estimated_chunks,omitempty"`
}

// ValidateContentSize reports whether content fits the safe tier and which
// strategy should carry it.
func (e *Engine) ValidateContentSize(content string, typ ContentType) SizeReport {
	tokens := e.CountTokens(content, typ)
	report := SizeReport{TokenCount: tokens}
	if tokens <= e.limits.Safe {
		report.RecommendedStrategy = StrategyFullText
		if typ == TypeHTML {
			report.RecommendedStrategy = StrategyFullHTML
		}
		return report
	}
	report.ExceedsLimit = true
	report.RecommendedStrategy = StrategyChunkedText
	if typ == TypeHTML {
		report.RecommendedStrategy = StrategyChunkedHTML
	}
	report.EstimatedChunks = estimateChunkCount(tokens, e.limits.MaxTokensPerChunk)
	return report
}

func estimateChunkCount(tokens, perChunk int) int {
	if perChunk <= 0 {
		return 1
	}
	n := (tokens + perChunk - 1) / perChunk
	if n < 1 {
		n = 1
	}
	return n
}

// Verdict is the final MCP output decision for a piece of content.
type Verdict string

const (
	VerdictAllow    Verdict = "allow"
	VerdictTruncate Verdict = "truncate"
	VerdictReject   Verdict = "reject"
)

// MCPValidation is the result of the last gate before content leaves the
// system.
type MCPValidation struct {
	Verdict    Verdict `json:"verdict"`
	TokenCount int     `json:"token_count"`
	Warning    string  `json:"warning,omitempty"`
}

// StrictValidateForMCP applies the tiered output policy: at or under the
// emergency tier content passes, over it but within the safe tier it passes
// with a warning, over the safe tier but within the absolute maximum it must
// be truncated, and beyond the maximum it is rejected outright.
func (e *Engine) StrictValidateForMCP(content string, typ ContentType) MCPValidation {
	return e.verdictFor(e.CountTokens(content, typ))
}

// StrictValidateChunks validates a chunk set; the aggregate verdict is the
// worst verdict among the chunks.
func (e *Engine) StrictValidateChunks(chunks []Chunk, typ ContentType) MCPValidation {
	worst := MCPValidation{Verdict: VerdictAllow}
	for _, c := range chunks {
		v := e.verdictFor(e.CountTokens(c.Content, typ))
		if v.TokenCount > worst.TokenCount {
			worst.TokenCount = v.TokenCount
		}
		if verdictRank(v.Verdict) > verdictRank(worst.Verdict) {
			worst.Verdict = v.Verdict
			worst.Warning = v.Warning
		}
	}
	return worst
}

func verdictRank(v Verdict) int {
	switch v {
	case VerdictAllow:
		return 0
	case VerdictTruncate:
		return 1
	default:
		return 2
	}
}

func (e *Engine) verdictFor(tokens int) MCPValidation {
	v := MCPValidation{TokenCount: tokens}
	switch {
	case tokens <= e.limits.Emergency:
		v.Verdict = VerdictAllow
	case tokens <= e.limits.Safe:
		v.Verdict = VerdictAllow
		v.Warning = fmt.Sprintf("content is %d tokens, approaching the %d token safe limit", tokens, e.limits.Safe)
	case tokens <= e.limits.AbsoluteMax:
		v.Verdict = VerdictTruncate
		v.Warning = fmt.Sprintf("content is %d tokens, over the %d token safe limit; truncation required", tokens, e.limits.Safe)
	default:
		v.Verdict = VerdictReject
		v.Warning = fmt.Sprintf("content is %d tokens, over the %d token absolute maximum", tokens, e.limits.AbsoluteMax)
	}
	return v
}

// EmergencyTruncate iteratively shrinks content by 10% until it fits the
// emergency tier, then appends a truncation marker matching the content type.
// Content already within the tier is returned unchanged, no marker.
func (e *Engine) EmergencyTruncate(content string, typ ContentType) string {
	if e.CountTokens(content, typ) <= e.limits.Emergency {
		return content
	}
	truncated := content
	for len(truncated) > 0 && e.CountTokens(truncated, typ) > e.limits.Emergency {
		cut := len(truncated) * 9 / 10
		for cut > 0 && !utf8.RuneStart(truncated[cut]) {
			cut--
		}
		truncated = truncated[:cut]
	}
	truncated = strings.TrimRight(truncated, " \t\n")
	if typ == TypeHTML {
		return truncated + "\n<!-- content truncated to fit token budget -->"
	}
	return truncated + "\n[content truncated to fit token budget]"
}
