package browser

import (
	"context"
	"errors"
	"testing"

	"browserpilot-mcp-server/internal/config"
)

func defaultBrowserConfig(t *testing.T) config.BrowserConfig {
	t.Helper()
	return config.DefaultConfig().Browser
}

func TestStartRequiresBrowserTarget(t *testing.T) {
	m := NewSessionManager(config.BrowserConfig{}, nil)
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without a debugger URL or launch command")
	}
	if m.IsConnected() {
		t.Error("manager reports connected after failed start")
	}
}

func TestInitSessionRequiresConnection(t *testing.T) {
	m := NewSessionManager(defaultBrowserConfig(t), nil)
	if _, err := m.InitSession(context.Background()); err == nil {
		t.Fatal("InitSession succeeded without a browser connection")
	}
}

func TestCloseSessionWithoutSession(t *testing.T) {
	m := NewSessionManager(defaultBrowserConfig(t), nil)
	if err := m.CloseSession(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("CloseSession = %v, want ErrNoSession", err)
	}
}

func TestSessionAcquireIsExclusive(t *testing.T) {
	m := NewSessionManager(defaultBrowserConfig(t), nil)

	if err := m.Acquire(); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := m.Acquire(); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second acquire = %v, want ErrSessionBusy", err)
	}
	m.Release()
	if err := m.Acquire(); err != nil {
		t.Errorf("acquire after release failed: %v", err)
	}
}

func TestSessionAccessorsWithoutSession(t *testing.T) {
	m := NewSessionManager(defaultBrowserConfig(t), nil)
	if _, ok := m.Page(); ok {
		t.Error("Page reported a page with no session")
	}
	if _, ok := m.Session(); ok {
		t.Error("Session reported metadata with no session")
	}
	// Touch with no session must be a no-op, not a panic.
	m.Touch("https://example.com", "Example")
}
