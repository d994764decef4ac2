package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"browserpilot-mcp-server/internal/browser"
	"browserpilot-mcp-server/internal/config"
	"browserpilot-mcp-server/internal/content"
	"browserpilot-mcp-server/internal/locator"
	"browserpilot-mcp-server/internal/token"
	"browserpilot-mcp-server/internal/workflow"
)

// Server wires the MCP runtime to the Rod session manager, the workflow gate,
// and the content and locator engines. One server owns one browser session.
type Server struct {
	deps      *deps
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// deps is the shared state every tool operates on.
type deps struct {
	cfg      config.Config
	sessions *browser.SessionManager
	gate     *workflow.Gate
	content  *content.Engine
	resolver *locator.Resolver
	breaker  *browser.Breaker
	retry    browser.RetryPolicy
	log      *zap.Logger
}

// NewServer constructs the BrowserPilot MCP server and registers all tools.
func NewServer(cfg config.Config, sessions *browser.SessionManager, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	gate := workflow.NewGate()
	gate.SetStalenessWindow(cfg.Workflow.StalenessWindow())
	gate.SetHistoryLimits(cfg.Workflow.ToolCallHistoryLimit, cfg.Workflow.TransitionHistoryLimit)

	tokens := token.NewEngine(token.Limits{
		Emergency:         cfg.Content.EmergencyTokenLimit,
		Safe:              cfg.Content.SafeTokenLimit,
		AbsoluteMax:       cfg.Content.AbsoluteMaxTokens,
		MaxTokensPerChunk: cfg.Content.MaxTokensPerChunk,
		ChunkOverlapChars: cfg.Content.ChunkOverlapChars,
	})

	d := &deps{
		cfg:      cfg,
		sessions: sessions,
		gate:     gate,
		content:  content.NewEngine(tokens, gate, log),
		resolver: locator.NewResolver(log),
		breaker:  browser.NewBreaker(cfg.Resilience.BreakerFailureThreshold, cfg.Resilience.Cooldown()),
		retry:    browser.RetryPolicy{Attempts: cfg.Resilience.RetryAttempts, BaseDelay: cfg.Resilience.BaseDelay()},
		log:      log,
	}

	server := &Server{
		deps:      d,
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}
	server.registerAllTools()
	return server, nil
}

// Gate exposes the workflow gate (used by the startup wiring and tests).
func (s *Server) Gate() *workflow.Gate { return s.deps.gate }

// Start launches the stdio server.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful
// shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.deps.log.Info("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by tests).
func (s *Server) ExecuteTool(name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(context.Background(), args)
}

func (s *Server) registerAllTools() {
	s.registerTool(&BrowserInitTool{deps: s.deps})
	s.registerTool(&NavigateTool{deps: s.deps})
	s.registerTool(&GetContentTool{deps: s.deps})
	s.registerTool(&FindSelectorTool{deps: s.deps})
	s.registerTool(&ClickTool{deps: s.deps})
	s.registerTool(&TypeTool{deps: s.deps})
	s.registerTool(&PressKeyTool{deps: s.deps})
	s.registerTool(&BrowserCloseTool{deps: s.deps})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
