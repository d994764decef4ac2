package content

import (
	"context"
	"fmt"

	"browserpilot-mcp-server/internal/token"
)

// Mode selects how much of the page an extraction samples.
type Mode string

const (
	// ModeFull serializes the whole DOM.
	ModeFull Mode = "full"
	// ModeMain extracts the heuristically largest non-chrome content block.
	ModeMain Mode = "main"
	// ModeSummary extracts title, headings, lead paragraphs, and meta description.
	ModeSummary Mode = "summary"
)

// Resource blocking levels. Blocking is advisory: setup failures are logged
// and ignored, and blocking is always released before a request returns.
const (
	BlockingDisabled   = "disabled"
	BlockingMinimal    = "minimal"
	BlockingStandard   = "standard"
	BlockingAggressive = "aggressive"
)

// Chunking preferences accepted in requests.
const (
	ChunkingAvoid  = "avoid"
	ChunkingAllow  = "allow"
	ChunkingPrefer = "prefer"
)

// Request is the tool-facing shape of a content retrieval. Unrecognized
// request fields are dropped at the protocol layer; everything here is
// optional and defaulted.
type Request struct {
	Type               string `json:"type,omitempty"` // "html" or "text"; empty means auto
	Selector           string `json:"selector,omitempty"`
	EstimateOnly       bool   `json:"estimateOnly,omitempty"`
	MaxTokens          int    `json:"maxTokens,omitempty"`
	ChunkingPreference string `json:"chunkingPreference,omitempty"`
	ContentMode        Mode   `json:"contentMode,omitempty"`
	ResourceBlocking   string `json:"resourceBlocking,omitempty"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	Mode                Mode   `json:"mode"`
	Selector            string `json:"selector,omitempty"`
	EstimationOnly      bool   `json:"estimationOnly"`
	EmergencyExtraction bool   `json:"emergencyExtraction,omitempty"`
	ResourceBlocking    string `json:"resourceBlocking,omitempty"`
	Truncated           bool   `json:"truncated,omitempty"`
	Warning             string `json:"warning,omitempty"`
}

// Response carries retrieved content (or its chunks), the strategy used, size
// accounting, and the guidance an LLM caller needs to plan its next step.
type Response struct {
	Content          string         `json:"content,omitempty"`
	Chunks           []token.Chunk  `json:"chunks,omitempty"`
	Strategy         token.Strategy `json:"strategy"`
	RecommendedType  string         `json:"recommendedType,omitempty"`
	OriginalTokens   int            `json:"originalTokens"`
	ProcessedTokens  int            `json:"processedTokens"`
	ChunkCount       int            `json:"chunkCount"`
	CompressionRatio float64        `json:"compressionRatio"`
	RequiresChunking bool           `json:"requiresChunking"`
	Recommendations  []string       `json:"recommendations,omitempty"`
	Guidance         string         `json:"guidance,omitempty"`
	Metadata         Metadata       `json:"metadata"`
}

// PageProvider is the engine's view of a live page. Eval runs a JS function
// literal in the page and returns its string result; each snippet documents
// its own return shape.
type PageProvider interface {
	HTML(ctx context.Context) (string, error)
	ElementHTML(ctx context.Context, selector string) (string, bool, error)
	Eval(ctx context.Context, js string) (string, error)
}

// ResourceBlocker is optionally implemented by page providers that can
// intercept requests. The engine type-asserts for it; providers without
// interception simply never block.
type ResourceBlocker interface {
	EnableResourceBlocking(ctx context.Context, level string) error
	DisableResourceBlocking(ctx context.Context) error
}

// PreconditionError reports a content request made before the workflow
// reached a state that can serve it.
type PreconditionError struct {
	Reason            string
	SuggestedNextStep string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s (next: %s)", e.Reason, e.SuggestedNextStep)
}

// TooLargeError reports content that cannot be made to fit the output budget
// even after truncation and chunking.
type TooLargeError struct {
	TokenCount int
	MaxTokens  int
	Guidance   string
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("content is %d tokens, over the %d token maximum: %s", e.TokenCount, e.MaxTokens, e.Guidance)
}
