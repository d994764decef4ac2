package mcp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"browserpilot-mcp-server/internal/browser"
	"browserpilot-mcp-server/internal/workflow"
)

// rejection is the uniform shape for calls refused before any browser work:
// a normal tool result, never a protocol error, so the caller can read the
// reason and self-correct.
func rejection(reason, nextStep string) map[string]interface{} {
	out := map[string]interface{}{
		"success": false,
		"error":   reason,
	}
	if nextStep != "" {
		out["suggested_next_step"] = nextStep
	}
	return out
}

// admit runs the workflow gate for a tool call. A nil return means the call
// may proceed; otherwise the rejection payload is ready to return. Rejected
// calls still land in the history.
func (d *deps) admit(tool string, args map[string]interface{}) map[string]interface{} {
	decision := d.gate.Validate(tool, args)
	if decision.Admitted {
		return nil
	}
	d.log.Info("tool rejected by workflow gate",
		zap.String("tool", tool),
		zap.String("state", string(d.gate.State())),
		zap.String("next", decision.SuggestedNextStep))
	d.gate.Record(tool, args, false, decision.Reason)
	return rejection(decision.Reason, decision.SuggestedNextStep)
}

// freshContent refuses interaction tools whose content analysis has gone
// stale, steering the caller back to get_content.
func (d *deps) freshContent(tool string, args map[string]interface{}) map[string]interface{} {
	if !d.gate.ContentStale() {
		return nil
	}
	reason := fmt.Sprintf("page content analysis is stale; run %s again before %s", workflow.ToolGetContent, tool)
	d.gate.Record(tool, args, false, reason)
	return rejection(reason, workflow.ToolGetContent)
}

// acquire takes the session's single operation slot. A nil error return means
// the caller owns it and must Release; otherwise the busy rejection is ready.
func (d *deps) acquire(tool string, args map[string]interface{}) map[string]interface{} {
	if err := d.sessions.Acquire(); err != nil {
		d.gate.Record(tool, args, false, err.Error())
		return rejection(err.Error(), "")
	}
	return nil
}

// activePage fetches the live page, or a rejection pointing at browser_init.
func (d *deps) activePage(tool string, args map[string]interface{}) (*browser.Page, map[string]interface{}) {
	page, ok := d.sessions.Page()
	if !ok {
		d.gate.Record(tool, args, false, browser.ErrNoSession.Error())
		return nil, rejection(browser.ErrNoSession.Error(), workflow.ToolBrowserInit)
	}
	return page, nil
}

// guarded runs a browser operation under the circuit breaker and retry policy.
func (d *deps) guarded(ctx context.Context, op func(ctx context.Context) error) error {
	if err := d.breaker.Allow(); err != nil {
		return err
	}
	err := browser.WithRetry(ctx, d.retry, 0, op)
	if err != nil {
		d.breaker.Failure()
		return err
	}
	d.breaker.Success()
	return nil
}

// succeed builds a success payload carrying the session metadata and the
// post-transition workflow state alongside the tool's own fields.
func (d *deps) succeed(extra map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{
		"success":        true,
		"workflow_state": string(d.gate.State()),
	}
	if sess, ok := d.sessions.Session(); ok {
		payload["session"] = sess
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return fallback
}
