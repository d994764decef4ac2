package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"browserpilot-mcp-server/internal/config"
	"browserpilot-mcp-server/internal/locator"
)

// Page adapts a Rod page to the provider contracts the content engine and
// locator resolver consume. All external calls carry the configured action
// timeout; on timeout the operation is abandoned with rod's deadline error.
type Page struct {
	page *rod.Page
	cfg  config.BrowserConfig
	log  *zap.Logger

	mu     sync.Mutex
	router *rod.HijackRouter
}

func newPage(p *rod.Page, cfg config.BrowserConfig, log *zap.Logger) *Page {
	return &Page{page: p, cfg: cfg, log: log}
}

// Navigate loads a URL and waits for the load event, bounded by the
// navigation timeout.
func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.cfg.NavigationTimeout())
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("waiting for %s to load: %w", url, err)
	}
	return nil
}

// Info returns the page's current URL and title, best-effort.
func (p *Page) Info() (url, title string) {
	info, err := p.page.Info()
	if err != nil || info == nil {
		return "", ""
	}
	return info.URL, info.Title
}

// HTML serializes the full DOM.
func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).Timeout(p.cfg.ActionTimeout()).HTML()
}

// Eval runs a JS function literal in the page and returns its result as a
// string. Snippets returning objects are serialized to JSON text.
func (p *Page) Eval(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Timeout(p.cfg.ActionTimeout()).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	return jsonText(res.Value), nil
}

// jsonText renders an evaluation result: strings verbatim, everything else
// as compact JSON.
func jsonText(v gson.JSON) string {
	if v.Nil() {
		return ""
	}
	if s, ok := v.Val().(string); ok {
		return s
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(raw)
}

// ElementHTML returns the outerHTML of the first element matching selector.
func (p *Page) ElementHTML(ctx context.Context, selector string) (string, bool, error) {
	el, found, err := p.Query(ctx, selector)
	if err != nil || !found {
		return "", false, err
	}
	html, err := el.(*Element).el.HTML()
	if err != nil {
		return "", true, err
	}
	return html, true, nil
}

// textQueryJS resolves the text-matching selector forms. Returns the first
// element whose trimmed innerText matches (element or null).
const textQueryJS = `(tag, text, partial) => {
	const sel = tag || '*';
	const want = (text || '').trim();
	const wantLower = want.toLowerCase();
	for (const el of document.querySelectorAll(sel)) {
		const t = (el.innerText || '').trim();
		if (partial ? t.toLowerCase().includes(wantLower) : t === want) return el;
	}
	return null;
}`

// parseTextSelector recognizes the selector forms the fallback generator
// emits beyond CSS: "text=...", "text*=...", and "tag:text=...".
func parseTextSelector(selector string) (tag, text string, partial, ok bool) {
	if s, found := strings.CutPrefix(selector, "text*="); found {
		return "", s, true, true
	}
	if s, found := strings.CutPrefix(selector, "text="); found {
		return "", s, false, true
	}
	if i := strings.Index(selector, ":text="); i > 0 {
		return selector[:i], selector[i+len(":text="):], false, true
	}
	return "", "", false, false
}

// Query resolves one element by CSS selector or text-matching form. A miss
// is (nil, false, nil), not an error.
func (p *Page) Query(ctx context.Context, selector string) (locator.Element, bool, error) {
	page := p.page.Context(ctx).Timeout(p.cfg.ActionTimeout()).Sleeper(rod.NotFoundSleeper)

	var el *rod.Element
	var err error
	if tag, text, partial, isText := parseTextSelector(selector); isText {
		el, err = page.ElementByJS(rod.Eval(textQueryJS, tag, text, partial))
	} else {
		el, err = page.Element(selector)
	}
	if err != nil {
		if errors.Is(err, &rod.ElementNotFoundError{}) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &Element{el: el}, true, nil
}

// scanByTextJS collects identifying profiles for elements whose text, value,
// placeholder, or aria-label contains the needle, leaf-most first. Returns an
// array of element-info objects shaped for the locator package.
const scanByTextJS = `(text, limit) => {
	const needle = (text || '').trim().toLowerCase();
	const matches = [];
	for (const el of document.querySelectorAll('*')) {
		if (matches.length >= limit) break;
		const own = (el.innerText || '').trim();
		const value = el.value !== undefined ? String(el.value) : '';
		const placeholder = el.getAttribute('placeholder') || '';
		const aria = el.getAttribute('aria-label') || '';
		const hay = (own + ' ' + value + ' ' + placeholder + ' ' + aria).toLowerCase();
		if (!needle || !hay.includes(needle)) continue;

		// Prefer the leaf-most holder: skip containers whose child also matches.
		if (own && el.children.length > 0) {
			let childHas = false;
			for (const c of el.children) {
				if ((c.innerText || '').toLowerCase().includes(needle)) { childHas = true; break; }
			}
			if (childHas) continue;
		}

		const parent = el.parentElement;
		let childIndex = -1, typeIndex = -1, parentSelector = '';
		if (parent) {
			childIndex = Array.prototype.indexOf.call(parent.children, el);
			typeIndex = Array.prototype.filter.call(parent.children, c => c.tagName === el.tagName).indexOf(el);
			parentSelector = parent.id ? '#' + parent.id : parent.tagName.toLowerCase();
		}

		matches.push({
			tag: el.tagName.toLowerCase(),
			id: el.id || '',
			classes: Array.from(el.classList || []),
			name: el.getAttribute('name') || '',
			placeholder: placeholder,
			ariaLabel: aria,
			role: el.getAttribute('role') || '',
			dataTestId: el.getAttribute('data-testid') || '',
			text: own.slice(0, 100),
			value: value.slice(0, 50),
			type: el.getAttribute('type') || '',
			href: el.getAttribute('href') || '',
			src: el.getAttribute('src') || '',
			title: el.getAttribute('title') || '',
			alt: el.getAttribute('alt') || '',
			position: { parent_selector: parentSelector, child_index: childIndex, type_index: typeIndex }
		});
	}
	return matches;
}`

// ScanByText runs the in-page candidate search that seeds fallback
// generation for the locator resolver.
func (p *Page) ScanByText(ctx context.Context, text string, limit int) ([]locator.ElementInfo, error) {
	res, err := p.page.Context(ctx).Timeout(p.cfg.ActionTimeout()).Evaluate(rod.Eval(scanByTextJS, text, limit))
	if err != nil {
		return nil, fmt.Errorf("text scan: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("decoding text scan result: %w", err)
	}
	var infos []locator.ElementInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, fmt.Errorf("decoding text scan result: %w", err)
	}
	return infos, nil
}

// namedKeys maps the key names accepted by press_key to rod key codes.
var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"Home":       input.Home,
	"End":        input.End,
}

// PressKey sends a named key or a single character to the focused element.
func (p *Page) PressKey(ctx context.Context, key string) error {
	page := p.page.Context(ctx).Timeout(p.cfg.ActionTimeout())
	if k, ok := namedKeys[key]; ok {
		return page.Keyboard.Press(k)
	}
	if len(key) == 1 {
		return page.Keyboard.Press(input.Key(rune(key[0])))
	}
	return fmt.Errorf("unknown key: %s", key)
}

// blockedResourceTypes maps each blocking level to the resource types it
// aborts at the network layer.
var blockedResourceTypes = map[string]map[proto.NetworkResourceType]bool{
	"minimal": {
		proto.NetworkResourceTypeMedia: true,
		proto.NetworkResourceTypeFont:  true,
	},
	"standard": {
		proto.NetworkResourceTypeImage: true,
		proto.NetworkResourceTypeMedia: true,
		proto.NetworkResourceTypeFont:  true,
	},
	"aggressive": {
		proto.NetworkResourceTypeImage:      true,
		proto.NetworkResourceTypeMedia:      true,
		proto.NetworkResourceTypeFont:       true,
		proto.NetworkResourceTypeStylesheet: true,
		proto.NetworkResourceTypePing:       true,
	},
}

// EnableResourceBlocking installs a hijack router that fails requests for
// the level's resource types. Idempotent while enabled.
func (p *Page) EnableResourceBlocking(_ context.Context, level string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.router != nil {
		return nil
	}
	types, ok := blockedResourceTypes[level]
	if !ok {
		return fmt.Errorf("unknown resource blocking level %q", level)
	}

	router := p.page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if types[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return fmt.Errorf("installing request interception: %w", err)
	}
	go router.Run()
	p.router = router
	p.log.Debug("resource blocking enabled", zap.String("level", level))
	return nil
}

// DisableResourceBlocking removes the hijack router if one is installed.
func (p *Page) DisableResourceBlocking(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.router == nil {
		return nil
	}
	err := p.router.Stop()
	p.router = nil
	return err
}

func (p *Page) close() error {
	if err := p.DisableResourceBlocking(context.Background()); err != nil {
		p.log.Warn("releasing request interception on close", zap.Error(err))
	}
	return p.page.Close()
}

// Element adapts a Rod element handle to the locator's read surface plus the
// interactions the tools need.
type Element struct {
	el *rod.Element
}

// Text returns the element's visible text.
func (e *Element) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

// Attribute returns an attribute value, "" when absent.
func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

// Property returns a JS property rendered as a string.
func (e *Element) Property(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Property(name)
	if err != nil {
		return "", err
	}
	return jsonText(v), nil
}

// Click scrolls the element into view and left-clicks it.
func (e *Element) Click(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scrolling into view: %w", err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Input clears the element and types the given text.
func (e *Element) Input(ctx context.Context, text string) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	return el.Input(text)
}
