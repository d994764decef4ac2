package mcp

import (
	"encoding/json"
	"strings"
	"testing"

	"browserpilot-mcp-server/internal/browser"
	"browserpilot-mcp-server/internal/config"
	"browserpilot-mcp-server/internal/workflow"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	sessions := browser.NewSessionManager(cfg.Browser, nil)
	srv, err := NewServer(cfg, sessions, nil)
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

func TestServerRegistersAllTools(t *testing.T) {
	srv := newTestServer(t)

	want := []string{
		workflow.ToolBrowserInit,
		workflow.ToolNavigate,
		workflow.ToolGetContent,
		workflow.ToolFindSelector,
		workflow.ToolClick,
		workflow.ToolType,
		workflow.ToolPressKey,
		workflow.ToolBrowserClose,
	}
	if len(srv.tools) != len(want) {
		t.Errorf("registered %d tools, want %d", len(srv.tools), len(want))
	}
	for _, name := range want {
		tool, ok := srv.tools[name]
		if !ok {
			t.Errorf("tool %s not registered", name)
			continue
		}
		if tool.Description() == "" {
			t.Errorf("tool %s has no description", name)
		}
		if _, err := json.Marshal(tool.InputSchema()); err != nil {
			t.Errorf("tool %s schema does not serialize: %v", name, err)
		}
	}
}

func TestExecuteToolUnknown(t *testing.T) {
	srv := newTestServer(t)
	if _, err := srv.ExecuteTool("screenshot", nil); err == nil {
		t.Fatal("unknown tool did not error")
	}
}

func TestExecuteToolRejectionIsResultNotError(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.ExecuteTool(workflow.ToolClick, map[string]interface{}{"selector": "#x"})
	if err != nil {
		t.Fatalf("gate rejection surfaced as error: %v", err)
	}
	out, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is %T, want map", result)
	}
	if out["success"] != false {
		t.Error("click admitted in initial state")
	}
}

func TestServerGateStartsInitial(t *testing.T) {
	srv := newTestServer(t)
	if got := srv.Gate().State(); got != workflow.StateInitial {
		t.Errorf("gate state = %s, want initial", got)
	}
}

func TestMarshalToolPayload(t *testing.T) {
	out := marshalToolPayload("navigate", map[string]interface{}{"success": true, "url": "https://example.com"})
	var decoded map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded["url"] != "https://example.com" {
		t.Errorf("payload = %s", out)
	}
}

func TestMarshalToolPayloadNonSerializable(t *testing.T) {
	out := marshalToolPayload("navigate", map[string]interface{}{"ch": make(chan int)})
	var decoded map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("fallback payload is not valid JSON: %v", err)
	}
	if decoded["success"] != false {
		t.Error("fallback payload does not report failure")
	}
	if msg, _ := decoded["error"].(string); !strings.Contains(msg, "non-serializable") {
		t.Errorf("fallback error = %q", msg)
	}
}
