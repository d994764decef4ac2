package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"browserpilot-mcp-server/internal/browser"
	"browserpilot-mcp-server/internal/content"
	"browserpilot-mcp-server/internal/workflow"
)

// clicker and typer are the interaction surfaces the browser element adapter
// provides beyond the locator's read-only view.
type clicker interface {
	Click(ctx context.Context) error
}

type typer interface {
	Input(ctx context.Context, text string) error
}

// BrowserInitTool connects to (or launches) Chrome and opens a fresh
// incognito session.
type BrowserInitTool struct {
	*deps
}

func (t *BrowserInitTool) Name() string { return workflow.ToolBrowserInit }
func (t *BrowserInitTool) Description() string {
	return `Initialize the browser and open a fresh session.

CALL THIS FIRST: every other browser tool requires an initialized session.

WHAT IT DOES:
- Connects to Chrome (or launches one per server config)
- Opens a fresh incognito page with the configured viewport
- Resets the workflow to browser_ready

Idempotent: calling it again replaces the current session with a fresh one.

Returns: {success, session: {id, ...}, workflow_state, guidance}`
}
func (t *BrowserInitTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *BrowserInitTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	const tool = workflow.ToolBrowserInit
	if rej := t.admit(tool, args); rej != nil {
		return rej, nil
	}
	if rej := t.acquire(tool, args); rej != nil {
		return rej, nil
	}
	defer t.sessions.Release()

	err := t.guarded(ctx, func(ctx context.Context) error {
		if err := t.sessions.Start(ctx); err != nil {
			return err
		}
		_, err := t.sessions.InitSession(ctx)
		return err
	})
	if err != nil {
		t.gate.Record(tool, args, false, err.Error())
		return nil, err
	}

	t.gate.Record(tool, args, true, "")
	return t.succeed(map[string]interface{}{
		"control_url": t.sessions.ControlURL(),
		"guidance":    "browser ready; call navigate to load a page",
	}), nil
}

// NavigateTool loads a URL in the active session.
type NavigateTool struct {
	*deps
}

func (t *NavigateTool) Name() string { return workflow.ToolNavigate }
func (t *NavigateTool) Description() string {
	return `Navigate the session to a URL and wait for the page to load.

PREREQUISITE: browser_init must have succeeded.

Navigation invalidates any prior content analysis: after this call you must
run get_content again before find_selector, click, type, or press_key.

Returns: {success, url, title, workflow_state, guidance}`
}
func (t *NavigateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute URL to load",
			},
		},
		"required": []string{"url"},
	}
}
func (t *NavigateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	const tool = workflow.ToolNavigate
	if rej := t.admit(tool, args); rej != nil {
		return rej, nil
	}
	url := getStringArg(args, "url")
	if url == "" {
		t.gate.Record(tool, args, false, "url is required")
		return rejection("url is required", ""), nil
	}
	if rej := t.acquire(tool, args); rej != nil {
		return rej, nil
	}
	defer t.sessions.Release()
	page, rej := t.activePage(tool, args)
	if rej != nil {
		return rej, nil
	}

	err := t.guarded(ctx, func(ctx context.Context) error {
		return page.Navigate(ctx, url)
	})
	if err != nil {
		t.gate.Record(tool, args, false, err.Error())
		return nil, err
	}

	currentURL, title := page.Info()
	t.sessions.Touch(currentURL, title)
	t.gate.Record(tool, args, true, "")
	return t.succeed(map[string]interface{}{
		"url":      currentURL,
		"title":    title,
		"guidance": "page loaded; call get_content to analyze it before interacting",
	}), nil
}

// GetContentTool retrieves page content under the token budget: size
// estimation, representation selection, chunking, and truncation are all
// handled by the content engine.
type GetContentTool struct {
	*deps
}

func (t *GetContentTool) Name() string { return workflow.ToolGetContent }
func (t *GetContentTool) Description() string {
	return `Retrieve page content sized for an LLM context window.

PREREQUISITE: navigate must have succeeded.

The response never exceeds the configured token budget: oversized pages come
back as extracted text, ordered chunks, or a truncated body, with
recommendations for narrowing the request.

ARGUMENTS (all optional):
- type: "html" or "text" (default: auto-selected by size)
- selector: scope retrieval to the first matching element
- estimateOnly: true returns size metadata with no content
- maxTokens: narrow the budget for this request
- chunkingPreference: "avoid" | "allow" | "prefer"
- contentMode: "full" | "main" | "summary" (default: main)
- resourceBlocking: "disabled" | "minimal" | "standard" | "aggressive"

Unrecognized arguments are ignored.

Returns: {success, result: {content|chunks, strategy, originalTokens, ...},
workflow_state, guidance}`
}
func (t *GetContentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{
				"type":        "string",
				"description": "Content representation: html or text (default: auto)",
			},
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector to scope retrieval to one element",
			},
			"estimateOnly": map[string]interface{}{
				"type":        "boolean",
				"description": "Return size estimation only, no content",
			},
			"maxTokens": map[string]interface{}{
				"type":        "number",
				"description": "Per-request token budget (cannot raise the global ceiling)",
			},
			"chunkingPreference": map[string]interface{}{
				"type":        "string",
				"description": "avoid, allow, or prefer chunked responses",
			},
			"contentMode": map[string]interface{}{
				"type":        "string",
				"description": "full, main, or summary extraction",
			},
			"resourceBlocking": map[string]interface{}{
				"type":        "string",
				"description": "disabled, minimal, standard, or aggressive request blocking during retrieval",
			},
		},
	}
}
func (t *GetContentTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	const tool = workflow.ToolGetContent
	if rej := t.admit(tool, args); rej != nil {
		return rej, nil
	}
	if rej := t.acquire(tool, args); rej != nil {
		return rej, nil
	}
	defer t.sessions.Release()
	page, rej := t.activePage(tool, args)
	if rej != nil {
		return rej, nil
	}

	req := content.Request{
		Type:               getStringArg(args, "type"),
		Selector:           getStringArg(args, "selector"),
		EstimateOnly:       getBoolArg(args, "estimateOnly", false),
		MaxTokens:          getIntArg(args, "maxTokens", 0),
		ChunkingPreference: getStringArg(args, "chunkingPreference"),
		ContentMode:        content.Mode(getStringArg(args, "contentMode")),
		ResourceBlocking:   getStringArg(args, "resourceBlocking"),
	}

	resp, err := t.content.ProcessContentRequest(ctx, page, req)
	if err != nil {
		var pre *content.PreconditionError
		if errors.As(err, &pre) {
			t.gate.Record(tool, args, false, pre.Reason)
			return rejection(pre.Reason, pre.SuggestedNextStep), nil
		}
		var tooLarge *content.TooLargeError
		if errors.As(err, &tooLarge) {
			t.gate.Record(tool, args, false, tooLarge.Error())
			return rejection(tooLarge.Error(), ""), nil
		}
		t.gate.Record(tool, args, false, err.Error())
		return nil, err
	}

	t.gate.Record(tool, args, true, "")
	if !req.EstimateOnly {
		body := resp.Content
		if body == "" && len(resp.Chunks) > 0 {
			var sb strings.Builder
			for _, c := range resp.Chunks {
				sb.WriteString(c.Content)
			}
			body = sb.String()
		}
		t.gate.NoteContent(body)
	}
	return t.succeed(map[string]interface{}{
		"result":   resp,
		"guidance": resp.Guidance,
	}), nil
}

// FindSelectorTool resolves an element through the fallback ladder and
// reports which selector worked.
type FindSelectorTool struct {
	*deps
}

func (t *FindSelectorTool) Name() string { return workflow.ToolFindSelector }
func (t *FindSelectorTool) Description() string {
	return `Resolve an element to a working selector, with ranked fallbacks.

PREREQUISITE: get_content must have succeeded for the current page.

Give the selector you expect to work plus, optionally, text the element
should contain. When the primary selector fails, ranked fallback candidates
(id, attributes, text match, position) are tried in confidence order.

Exhaustion is not an error: found=false comes back with the full attempt
list so you can pick a different anchor.

Returns: {success, found, used_selector, strategy, attempts, summary,
workflow_state, guidance}`
}
func (t *FindSelectorTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "Primary CSS selector (or text=..., tag:text=... form)",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text the element should contain; also seeds fallback generation",
			},
		},
		"required": []string{"selector"},
	}
}
func (t *FindSelectorTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	const tool = workflow.ToolFindSelector
	if rej := t.admit(tool, args); rej != nil {
		return rej, nil
	}
	if rej := t.freshContent(tool, args); rej != nil {
		return rej, nil
	}
	selector := getStringArg(args, "selector")
	if selector == "" {
		t.gate.Record(tool, args, false, "selector is required")
		return rejection("selector is required", ""), nil
	}
	if rej := t.acquire(tool, args); rej != nil {
		return rej, nil
	}
	defer t.sessions.Release()
	page, rej := t.activePage(tool, args)
	if rej != nil {
		return rej, nil
	}

	res, err := t.resolver.FindElementWithFallbacks(ctx, page, selector, getStringArg(args, "text"))
	if err != nil {
		t.gate.Record(tool, args, false, err.Error())
		return nil, err
	}

	t.gate.Record(tool, args, res.Found, "")
	payload := t.succeed(map[string]interface{}{
		"found":    res.Found,
		"attempts": res.Attempts,
		"summary":  res.Summary(),
	})
	if res.Found {
		payload["used_selector"] = res.UsedSelector
		payload["strategy"] = res.Strategy
		payload["guidance"] = fmt.Sprintf("element resolved; use selector %q with click or type", res.UsedSelector)
	} else {
		payload["success"] = false
		payload["error"] = "no selector matched: " + res.Summary()
		payload["guidance"] = "re-run get_content to refresh the page view, or try a text= selector"
	}
	return payload, nil
}

// ClickTool resolves an element and clicks it.
type ClickTool struct {
	*deps
}

func (t *ClickTool) Name() string { return workflow.ToolClick }
func (t *ClickTool) Description() string {
	return `Click an element, resolving it through the selector fallback ladder.

PREREQUISITE: get_content must have succeeded for the current page, and its
analysis must still be fresh.

Optionally pass text the element should contain: it guards against clicking
the wrong element and seeds fallback generation when the selector fails.

Returns: {success, used_selector, strategy, workflow_state, guidance}`
}
func (t *ClickTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector (or text=... form) for the element to click",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text the element should contain (verification + fallback seed)",
			},
		},
		"required": []string{"selector"},
	}
}
func (t *ClickTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	const tool = workflow.ToolClick
	return t.interact(ctx, tool, args, func(ctx context.Context, el interface{}) error {
		c, ok := el.(clicker)
		if !ok {
			return errors.New("resolved element does not support clicking")
		}
		return c.Click(ctx)
	}, "element clicked; navigation may have invalidated content analysis")
}

// TypeTool resolves an element, clears it, and types text into it.
type TypeTool struct {
	*deps
}

func (t *TypeTool) Name() string { return workflow.ToolType }
func (t *TypeTool) Description() string {
	return `Type text into an input or editable element, clearing it first.

PREREQUISITE: get_content must have succeeded for the current page, and its
analysis must still be fresh.

Returns: {success, used_selector, strategy, workflow_state, guidance}`
}
func (t *TypeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector (or text=... form) for the target field",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text to type after clearing the field",
			},
			"expectedText": map[string]interface{}{
				"type":        "string",
				"description": "Text the element should already contain (verification + fallback seed)",
			},
		},
		"required": []string{"selector", "text"},
	}
}
func (t *TypeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	const tool = workflow.ToolType
	text := getStringArg(args, "text")
	if _, present := args["text"]; !present {
		if rej := t.admit(tool, args); rej != nil {
			return rej, nil
		}
		t.gate.Record(tool, args, false, "text is required")
		return rejection("text is required", ""), nil
	}
	return t.interact(ctx, tool, args, func(ctx context.Context, el interface{}) error {
		in, ok := el.(typer)
		if !ok {
			return errors.New("resolved element does not support text input")
		}
		return in.Input(ctx, text)
	}, "text entered; call get_content if the page re-rendered")
}

// interact is the shared resolve-then-act path for click and type.
func (d *deps) interact(ctx context.Context, tool string, args map[string]interface{}, act func(ctx context.Context, el interface{}) error, doneGuidance string) (interface{}, error) {
	if rej := d.admit(tool, args); rej != nil {
		return rej, nil
	}
	if rej := d.freshContent(tool, args); rej != nil {
		return rej, nil
	}
	selector := getStringArg(args, "selector")
	if selector == "" {
		d.gate.Record(tool, args, false, "selector is required")
		return rejection("selector is required", ""), nil
	}
	if rej := d.acquire(tool, args); rej != nil {
		return rej, nil
	}
	defer d.sessions.Release()
	page, rej := d.activePage(tool, args)
	if rej != nil {
		return rej, nil
	}

	expected := getStringArg(args, "text")
	if tool == workflow.ToolType {
		expected = getStringArg(args, "expectedText")
	}
	res, err := d.resolver.FindElementWithFallbacks(ctx, page, selector, expected)
	if err != nil {
		d.gate.Record(tool, args, false, err.Error())
		return nil, err
	}
	if !res.Found {
		reason := "no element matched: " + res.Summary()
		d.gate.Record(tool, args, false, reason)
		return rejection(reason, workflow.ToolFindSelector), nil
	}

	if err := d.breaker.Do(func() error { return act(ctx, res.Element) }); err != nil {
		d.gate.Record(tool, args, false, err.Error())
		return nil, err
	}

	url, title := page.Info()
	d.sessions.Touch(url, title)
	d.gate.Record(tool, args, true, "")
	return d.succeed(map[string]interface{}{
		"used_selector": res.UsedSelector,
		"strategy":      res.Strategy,
		"guidance":      doneGuidance,
	}), nil
}

// PressKeyTool sends a keyboard key to the focused element.
type PressKeyTool struct {
	*deps
}

func (t *PressKeyTool) Name() string { return workflow.ToolPressKey }
func (t *PressKeyTool) Description() string {
	return `Press a keyboard key in the page (focused element receives it).

PREREQUISITE: get_content must have succeeded for the current page, and its
analysis must still be fresh.

ACCEPTED KEYS: Enter, Tab, Escape, Backspace, Delete, ArrowUp, ArrowDown,
ArrowLeft, ArrowRight, PageUp, PageDown, Home, End, or any single character.

Returns: {success, key, workflow_state, guidance}`
}
func (t *PressKeyTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Key name (Enter, Tab, ...) or single character",
			},
		},
		"required": []string{"key"},
	}
}
func (t *PressKeyTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	const tool = workflow.ToolPressKey
	if rej := t.admit(tool, args); rej != nil {
		return rej, nil
	}
	if rej := t.freshContent(tool, args); rej != nil {
		return rej, nil
	}
	key := getStringArg(args, "key")
	if key == "" {
		t.gate.Record(tool, args, false, "key is required")
		return rejection("key is required", ""), nil
	}
	if rej := t.acquire(tool, args); rej != nil {
		return rej, nil
	}
	defer t.sessions.Release()
	page, rej := t.activePage(tool, args)
	if rej != nil {
		return rej, nil
	}

	if err := t.breaker.Do(func() error { return page.PressKey(ctx, key) }); err != nil {
		t.gate.Record(tool, args, false, err.Error())
		return nil, err
	}

	t.gate.Record(tool, args, true, "")
	return t.succeed(map[string]interface{}{
		"key":      key,
		"guidance": "key pressed; call get_content if the page changed",
	}), nil
}

// BrowserCloseTool tears down the active session and resets the workflow.
type BrowserCloseTool struct {
	*deps
}

func (t *BrowserCloseTool) Name() string { return workflow.ToolBrowserClose }
func (t *BrowserCloseTool) Description() string {
	return `Close the active browser session and reset the workflow.

Callable from any state. The browser connection itself stays up so a later
browser_init is fast; use this to end an automation cleanly or to recover
from a confused session.

Returns: {success, status, workflow_state}`
}
func (t *BrowserCloseTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *BrowserCloseTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	const tool = workflow.ToolBrowserClose
	if rej := t.admit(tool, args); rej != nil {
		return rej, nil
	}
	if rej := t.acquire(tool, args); rej != nil {
		return rej, nil
	}
	defer t.sessions.Release()

	status := "closed"
	if err := t.sessions.CloseSession(ctx); err != nil {
		if !errors.Is(err, browser.ErrNoSession) {
			t.gate.Record(tool, args, false, err.Error())
			return nil, err
		}
		status = "no_active_session"
	}

	t.gate.Record(tool, args, true, "")
	return map[string]interface{}{
		"success":        true,
		"status":         status,
		"workflow_state": string(t.gate.State()),
	}, nil
}
