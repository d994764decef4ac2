package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all tunable settings for the BrowserPilot MCP server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Browser    BrowserConfig    `yaml:"browser"`
	Content    ContentConfig    `yaml:"content"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Resilience ResilienceConfig `yaml:"resilience"`
	MCP        MCPConfig        `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout for in-page actions: evaluation, queries, clicks (e.g., "10s").
	DefaultActionTimeout string `yaml:"default_action_timeout"`
	// Viewport width for new sessions (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

// ContentConfig tunes the token budget tiers and chunking bounds. Zero values
// defer to the engine's stock constants.
type ContentConfig struct {
	EmergencyTokenLimit int `yaml:"emergency_token_limit"`
	SafeTokenLimit      int `yaml:"safe_token_limit"`
	AbsoluteMaxTokens   int `yaml:"absolute_max_tokens"`
	MaxTokensPerChunk   int `yaml:"max_tokens_per_chunk"`
	ChunkOverlapChars   int `yaml:"chunk_overlap_chars"`
}

// WorkflowConfig tunes the workflow gate.
type WorkflowConfig struct {
	// How long a successful content analysis stays fresh (e.g., "5m").
	ContentStalenessWindow string `yaml:"content_staleness_window"`
	// Ring cap for the recorded tool calls (zero: gate default).
	ToolCallHistoryLimit int `yaml:"tool_call_history_limit"`
	// Ring cap for the recorded state transitions (zero: gate default).
	TransitionHistoryLimit int `yaml:"transition_history_limit"`
}

// ResilienceConfig tunes the circuit breaker and retry layers around browser
// operations.
type ResilienceConfig struct {
	BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
	BreakerCooldown         string `yaml:"breaker_cooldown"`
	RetryAttempts           int    `yaml:"retry_attempts"`
	RetryBaseDelay          string `yaml:"retry_base_delay"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "browserpilot-mcp",
			Version: "0.1.0",
			LogFile: "browserpilot-mcp.log",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			Launch:                   []string{"chrome"},
			DefaultNavigationTimeout: "15s",
			DefaultActionTimeout:     "10s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		Workflow: WorkflowConfig{
			ContentStalenessWindow: "5m",
			ToolCallHistoryLimit:   50,
			TransitionHistoryLimit: 20,
		},
		Resilience: ResilienceConfig{
			BreakerFailureThreshold: 5,
			BreakerCooldown:         "30s",
			RetryAttempts:           3,
			RetryBaseDelay:          "500ms",
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
	}
}

// Load reads YAML config from disk and overlays it on the defaults. An empty
// path returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate ensures required fields exist so the server can start
// deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Content.SafeTokenLimit > 0 && c.Content.AbsoluteMaxTokens > 0 &&
		c.Content.SafeTokenLimit > c.Content.AbsoluteMaxTokens {
		return errors.New("content.safe_token_limit must not exceed content.absolute_max_tokens")
	}
	if c.Content.EmergencyTokenLimit > 0 && c.Content.SafeTokenLimit > 0 &&
		c.Content.EmergencyTokenLimit > c.Content.SafeTokenLimit {
		return errors.New("content.emergency_token_limit must not exceed content.safe_token_limit")
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// ActionTimeout returns the parsed per-action timeout with a sane default.
func (b BrowserConfig) ActionTimeout() time.Duration {
	return parseDuration(b.DefaultActionTimeout, 10*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// StalenessWindow returns the parsed content staleness window with the stock
// 5 minute default.
func (w WorkflowConfig) StalenessWindow() time.Duration {
	return parseDuration(w.ContentStalenessWindow, 5*time.Minute)
}

// Cooldown returns the parsed breaker cooldown with the stock default.
func (r ResilienceConfig) Cooldown() time.Duration {
	return parseDuration(r.BreakerCooldown, 30*time.Second)
}

// BaseDelay returns the parsed retry base delay with the stock default.
func (r ResilienceConfig) BaseDelay() time.Duration {
	return parseDuration(r.RetryBaseDelay, 500*time.Millisecond)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
