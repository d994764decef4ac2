package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"browserpilot-mcp-server/internal/browser"
	"browserpilot-mcp-server/internal/config"
	mcpserver "browserpilot-mcp-server/internal/mcp"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to the BrowserPilot MCP config file")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	flag.Parse()

	if *configPath == "" {
		if env := os.Getenv("BROWSERPILOT_CONFIG"); env != "" {
			*configPath = env
		} else if _, err := os.Stat("config.yaml"); err == nil {
			*configPath = "config.yaml"
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	logger, closeLogger := buildLogger(cfg)
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := browser.NewSessionManager(cfg.Browser, logger)
	if cfg.Browser.AutoStart {
		if err := sessions.Start(ctx); err != nil {
			logger.Fatal("browser startup failed", zap.Error(err))
		}
		defer func() { _ = sessions.Shutdown(context.Background()) }()
	} else {
		logger.Info("browser auto-start disabled; browser_init will connect on demand")
	}

	server, err := mcpserver.NewServer(cfg, sessions, logger)
	if err != nil {
		logger.Fatal("failed to initialize MCP server", zap.Error(err))
	}

	var runErr error
	if cfg.MCP.SSEPort > 0 {
		logger.Info("starting BrowserPilot MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
		runErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		logger.Info("starting BrowserPilot MCP stdio server")
		runErr = server.Start(ctx)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatal("server exited with error", zap.Error(runErr))
	}
}

// buildLogger routes logs away from stdout. In stdio mode stdout carries the
// MCP protocol, so logs go to the configured file; SSE mode logs to stderr.
func buildLogger(cfg config.Config) (*zap.Logger, func()) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch {
	case cfg.MCP.SSEPort > 0:
		zc.OutputPaths = []string{"stderr"}
	case cfg.Server.LogFile != "":
		zc.OutputPaths = []string{cfg.Server.LogFile}
	default:
		return zap.NewNop(), func() {}
	}
	zc.ErrorOutputPaths = zc.OutputPaths

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop(), func() {}
	}
	return logger, func() { _ = logger.Sync() }
}
