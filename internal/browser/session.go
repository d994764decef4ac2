package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"browserpilot-mcp-server/internal/config"
)

// Session describes the public metadata for the active browser context.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// ErrSessionBusy is returned when a tool call arrives while another operation
// holds the session. One in-flight browser operation per session; concurrent
// use is rejected, not interleaved.
var ErrSessionBusy = errors.New("another operation is in progress on this session")

// ErrNoSession is returned by operations that need an initialized session.
var ErrNoSession = errors.New("no active browser session")

// SessionManager owns the Chrome connection and the single active session.
type SessionManager struct {
	cfg config.BrowserConfig
	log *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
	session    *Session
	page       *Page
	busy       bool
}

func NewSessionManager(cfg config.BrowserConfig, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{cfg: cfg, log: log}
}

// Start connects to an existing Chrome or launches a new one using Rod's
// launcher. An already-connected browser is health-checked and reused;
// a dead connection is torn down and rebuilt.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.log.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.session = nil
		m.page = nil
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}
	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.log.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// launch starts Chrome from the configured command line. Extra launch args
// become launcher flags; if the full flag set fails, a bare launch with the
// same binary is tried before giving up.
func (m *SessionManager) launch() (string, error) {
	bin := m.cfg.Launch[0]
	l := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
	for _, rawFlag := range m.cfg.Launch[1:] {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	fallback := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
	if alt, altErr := fallback.Launch(); altErr == nil {
		return alt, nil
	} else {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
}

// IsConnected reports whether the browser connection is up.
func (m *SessionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlURL
}

// InitSession opens a fresh incognito page and makes it the active session,
// replacing any previous one. The viewport comes from config.
func (m *SessionManager) InitSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return Session{}, errors.New("browser not connected")
	}

	if m.page != nil {
		_ = m.page.close()
		m.page = nil
		m.session = nil
	}

	incognito, err := m.browser.Incognito()
	if err != nil {
		return Session{}, fmt.Errorf("incognito context: %w", err)
	}
	rodPage, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return Session{}, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(rodPage); err != nil {
		m.log.Warn("failed to set viewport", zap.Error(err))
	}

	now := time.Now()
	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(rodPage.TargetID),
		Status:     "active",
		CreatedAt:  now,
		LastActive: now,
	}
	m.session = &meta
	m.page = newPage(rodPage, m.cfg, m.log)
	return meta, nil
}

// Page returns the adapter for the active session's page.
func (m *SessionManager) Page() (*Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page == nil {
		return nil, false
	}
	return m.page, true
}

// Session returns a copy of the active session metadata.
func (m *SessionManager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Touch refreshes the session's URL/title metadata after navigation.
func (m *SessionManager) Touch(url, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	if url != "" {
		m.session.URL = url
	}
	if title != "" {
		m.session.Title = title
	}
	m.session.LastActive = time.Now()
}

// Acquire marks the session as having an operation in flight. A second
// acquisition fails with ErrSessionBusy until Release is called.
func (m *SessionManager) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return ErrSessionBusy
	}
	m.busy = true
	return nil
}

// Release clears the in-flight flag set by Acquire.
func (m *SessionManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
}

// CloseSession tears down the active session, leaving the browser connected.
func (m *SessionManager) CloseSession(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page == nil {
		return ErrNoSession
	}
	err := m.page.close()
	m.page = nil
	m.session = nil
	return err
}

// Shutdown closes the session and the underlying browser.
func (m *SessionManager) Shutdown(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page != nil {
		_ = m.page.close()
		m.page = nil
	}
	m.session = nil

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.log.Info("browser shutdown complete")
	return err
}
