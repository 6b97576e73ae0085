// Package browser manages the Chrome session the scrape pipeline drives:
// launch against a persistent user profile, connect via Rod, hand out one
// shared stealth page, and tear everything down on release.
//
// One browser, one page, for the whole sweep. Opening a fresh browser per
// keyword multiplies TikTok's challenge rate, so the session is a long-lived
// resource owned by whichever orchestrator invocation is active.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Config configures the browser manager.
type Config struct {
	// ProfileDir is the persistent Chrome user-data directory. Login
	// cookies live here, so an interactive login survives restarts.
	ProfileDir string

	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless runs Chrome without a window. Headful is preferred for this
	// workload: a human must be able to solve CAPTCHAs in the live window.
	Headless bool

	// BlockResources lists resource types to block (images, fonts, media).
	BlockResources []string

	// NavTimeout bounds every navigation performed through Tab.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process and the shared page.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	closed  bool
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return nil
	}

	log := m.cfg.Logger
	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(m.cfg.Headless).
			UserDataDir(m.cfg.ProfileDir).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-infobars").
			Set("window-size", "1920,1080").
			Set("lang", "ko-KR")

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome",
			"profile", m.cfg.ProfileDir, "headless", m.cfg.Headless)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanupLocked()
		return fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return nil
}

// Page returns the shared stealth page, creating it on first use. An
// existing tab in the profile is reused rather than opening a second one.
func (m *Manager) Page(ctx context.Context) (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil, fmt.Errorf("browser: not started")
	}
	if m.page != nil {
		return m.page, nil
	}

	page, err := stealth.Page(m.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if len(m.cfg.BlockResources) > 0 {
		if err := applyResourceBlocking(page, m.cfg.BlockResources); err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	m.page = page
	return page, nil
}

// Pages lists all open pages, including popups the login flow opens.
func (m *Manager) Pages() (rod.Pages, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()

	if b == nil {
		return nil, fmt.Errorf("browser: not started")
	}
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	return pages, nil
}

// Navigate drives the shared page to a URL with the configured timeout and
// waits for DOM content. A timeout is returned to the caller as-is so it can
// be classified as transient.
func (m *Manager) Navigate(ctx context.Context, page *rod.Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()

	p := page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitDOMStable(time.Second, 0.1); err != nil {
		// Slow third-party widgets keep some pages from ever settling;
		// extraction copes with a partially loaded DOM.
		m.cfg.Logger.Debug("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

// Close shuts down Chrome and releases the profile lock.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanupLocked()
	return nil
}

func (m *Manager) cleanupLocked() {
	if m.page != nil {
		m.page.Close()
		m.page = nil
	}
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
