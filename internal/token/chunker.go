package token

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ChunkStrategy selects how oversized content is split.
type ChunkStrategy string

const (
	// ChunkSemantic splits text at paragraph/sentence boundaries and HTML at
	// top-level structural element boundaries.
	ChunkSemantic ChunkStrategy = "semantic"
	// ChunkFixed splits by estimated characters-per-token, snapping breaks to
	// whitespace and applying character overlap when requested.
	ChunkFixed ChunkStrategy = "fixed"
	// ChunkHybrid attempts semantic splitting and falls back to fixed on any
	// failure.
	ChunkHybrid ChunkStrategy = "hybrid"
)

// Chunk is a bounded slice of content sized to fit a token budget, tagged
// with its position among siblings. TotalChunks is back-filled once the full
// set is known; indices are contiguous from 0.
type Chunk struct {
	Content     string `json:"content"`
	TokenCount  int    `json:"token_count"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	HasOverlap  bool   `json:"has_overlap"`
}

// ChunkOptions tunes a single chunking run. Zero values fall back to the
// engine's configured limits.
type ChunkOptions struct {
	MaxTokensPerChunk int
	OverlapChars      int
	Strategy          ChunkStrategy
}

var errNoSemanticBoundary = errors.New("no semantic boundary found")

// piece is an intermediate split result; overlap records whether the piece
// starts with characters repeated from its predecessor.
type piece struct {
	text    string
	overlap bool
}

// ChunkContent splits content into ordered chunks. Content already within the
// per-chunk budget yields exactly one chunk holding the trimmed input.
func (e *Engine) ChunkContent(content string, opts ChunkOptions, typ ContentType) ([]Chunk, error) {
	trimmed := strings.TrimSpace(content)
	if opts.MaxTokensPerChunk <= 0 {
		opts.MaxTokensPerChunk = e.limits.MaxTokensPerChunk
	}
	if opts.Strategy == "" {
		opts.Strategy = ChunkHybrid
	}

	if tokens := e.CountTokens(trimmed, typ); tokens <= opts.MaxTokensPerChunk {
		return finalizeChunks([]Chunk{{Content: trimmed, TokenCount: tokens}}), nil
	}

	var pieces []piece
	var err error
	switch opts.Strategy {
	case ChunkSemantic:
		pieces, err = e.semanticSplit(trimmed, opts, typ)
		if err != nil {
			return nil, fmt.Errorf("semantic chunking: %w", err)
		}
	case ChunkFixed:
		pieces = e.fixedSplit(trimmed, opts, typ)
	case ChunkHybrid:
		pieces, err = e.semanticSplit(trimmed, opts, typ)
		if err != nil {
			pieces = e.fixedSplit(trimmed, opts, typ)
		}
	default:
		return nil, fmt.Errorf("unknown chunk strategy: %s", opts.Strategy)
	}

	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, Chunk{
			Content:    p.text,
			TokenCount: e.CountTokens(p.text, typ),
			HasOverlap: p.overlap,
		})
	}
	return finalizeChunks(chunks), nil
}

// finalizeChunks assigns contiguous indices and back-fills TotalChunks.
func finalizeChunks(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// semanticSplit breaks content at natural boundaries, then packs segments
// into chunks under the per-chunk budget. A single segment that alone
// exceeds the budget is force-split with the fixed strategy.
func (e *Engine) semanticSplit(content string, opts ChunkOptions, typ ContentType) ([]piece, error) {
	var segments []string
	if typ == TypeHTML {
		var err error
		segments, err = splitTopLevelBlocks(content)
		if err != nil {
			return nil, err
		}
	} else {
		segments = splitParagraphs(content)
	}
	if len(segments) <= 1 {
		return nil, errNoSemanticBoundary
	}

	var out []piece
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			out = append(out, piece{text: strings.TrimSpace(current.String())})
			current.Reset()
			currentTokens = 0
		}
	}

	for _, seg := range segments {
		segTokens := e.CountTokens(seg, typ)
		if segTokens > opts.MaxTokensPerChunk {
			flush()
			out = append(out, e.fixedSplit(seg, opts, typ)...)
			continue
		}
		if currentTokens+segTokens > opts.MaxTokensPerChunk {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(seg)
		currentTokens += segTokens
	}
	flush()

	if len(out) == 0 {
		return nil, errNoSemanticBoundary
	}
	return out, nil
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+[\s"')\]]`)

// splitParagraphs splits text into paragraphs, degrading to sentences when a
// text has no blank-line structure.
func splitParagraphs(text string) []string {
	paras := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	out := make([]string, 0, len(paras))
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 1 {
		return out
	}
	return splitSentences(text)
}

func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		// Keep the terminator, drop the trailing separator.
		end := loc[1] - 1
		s := strings.TrimSpace(text[last:end])
		if s != "" {
			out = append(out, s)
		}
		last = end
	}
	if tail := strings.TrimSpace(text[last:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

var htmlTagTokenRe = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9-]*)([^>]*?)(/?)>`)

var structuralTags = map[string]bool{
	"section": true, "article": true, "div": true, "main": true,
	"header": true, "footer": true, "nav": true, "aside": true,
}

var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// splitTopLevelBlocks splits HTML at the shallowest depth where structural
// elements (section, article, div, ...) open, producing one segment per
// sibling block. Fails when the markup has no such boundary.
func splitTopLevelBlocks(markup string) ([]string, error) {
	type boundary struct{ start, end, depth int }
	var blocks []boundary

	depth := 0
	var openStack []struct {
		tag   string
		start int
		depth int
	}

	for _, loc := range htmlTagTokenRe.FindAllStringSubmatchIndex(markup, -1) {
		closing := loc[3] > loc[2] // group 1 non-empty
		tag := strings.ToLower(markup[loc[4]:loc[5]])
		selfClosed := loc[9] > loc[8] || voidTags[tag]

		if closing {
			// Pop to the matching open tag; tolerate stray closes.
			for len(openStack) > 0 {
				top := openStack[len(openStack)-1]
				openStack = openStack[:len(openStack)-1]
				depth = top.depth
				if top.tag == tag {
					if structuralTags[tag] {
						blocks = append(blocks, boundary{start: top.start, end: loc[1], depth: top.depth})
					}
					break
				}
			}
			continue
		}
		if selfClosed {
			continue
		}
		openStack = append(openStack, struct {
			tag   string
			start int
			depth int
		}{tag, loc[0], depth})
		depth++
	}

	if len(blocks) == 0 {
		return nil, errNoSemanticBoundary
	}

	minDepth := blocks[0].depth
	for _, b := range blocks {
		if b.depth < minDepth {
			minDepth = b.depth
		}
	}

	var segments []string
	last := 0
	for _, b := range blocks {
		if b.depth != minDepth || b.start < last {
			continue
		}
		if lead := strings.TrimSpace(markup[last:b.start]); lead != "" {
			segments = append(segments, lead)
		}
		segments = append(segments, markup[b.start:b.end])
		last = b.end
	}
	if tail := strings.TrimSpace(markup[last:]); tail != "" {
		segments = append(segments, tail)
	}
	if len(segments) <= 1 {
		return nil, errNoSemanticBoundary
	}
	return segments, nil
}

// fixedSplit cuts content by estimated characters-per-token, snapping each
// break to the nearest preceding whitespace and applying character-level
// overlap between consecutive chunks when requested.
func (e *Engine) fixedSplit(content string, opts ChunkOptions, typ ContentType) []piece {
	ratio := CharsPerTokenText
	if typ == TypeHTML {
		ratio = CharsPerTokenHTML
	}
	chunkChars := int(float64(opts.MaxTokensPerChunk) * ratio)
	if chunkChars < 1 {
		chunkChars = 1
	}

	var pieces []piece
	start := 0
	for start < len(content) {
		end := start + chunkChars
		if end >= len(content) {
			end = len(content)
		} else if snapped := strings.LastIndexAny(content[start:end], " \t\n"); snapped > chunkChars/2 {
			end = start + snapped
		}

		pieceStart := start
		withOverlap := false
		if opts.OverlapChars > 0 && start > 0 {
			pieceStart = start - opts.OverlapChars
			if pieceStart < 0 {
				pieceStart = 0
			}
			withOverlap = true
		}
		pieces = append(pieces, piece{text: strings.TrimSpace(content[pieceStart:end]), overlap: withOverlap})
		start = end
	}
	return pieces
}

// Processed is the output of ProcessContent: either a single content string
// or an ordered chunk set, plus size metadata.
type Processed struct {
	Content          string   `json:"content,omitempty"`
	Chunks           []Chunk  `json:"chunks,omitempty"`
	Strategy         Strategy `json:"strategy"`
	OriginalTokens   int      `json:"original_tokens"`
	ProcessedTokens  int      `json:"processed_tokens"`
	ChunkCount       int      `json:"chunk_count"`
	CompressionRatio float64  `json:"compression_ratio"`
}

// ProcessContent validates size and either passes content through whole or
// chunks it. prefer selects the chunk strategy; empty means hybrid.
func (e *Engine) ProcessContent(content string, typ ContentType, prefer ChunkStrategy) (Processed, error) {
	tokens := e.CountTokens(content, typ)
	out := Processed{OriginalTokens: tokens, CompressionRatio: 1.0}

	if tokens <= e.limits.Safe {
		out.Content = content
		out.ProcessedTokens = tokens
		out.ChunkCount = 1
		out.Strategy = StrategyFullText
		if typ == TypeHTML {
			out.Strategy = StrategyFullHTML
		}
		return out, nil
	}

	chunks, err := e.ChunkContent(content, ChunkOptions{Strategy: prefer, OverlapChars: e.limits.ChunkOverlapChars}, typ)
	if err != nil {
		return out, err
	}
	processed := 0
	for _, c := range chunks {
		processed += c.TokenCount
	}
	out.Chunks = chunks
	out.ProcessedTokens = processed
	out.ChunkCount = len(chunks)
	if tokens > 0 {
		out.CompressionRatio = float64(processed) / float64(tokens)
	}
	out.Strategy = StrategyChunkedText
	if typ == TypeHTML {
		out.Strategy = StrategyChunkedHTML
	}
	return out, nil
}
