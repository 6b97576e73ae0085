package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/evsys/tikrank/config"
	"github.com/evsys/tikrank/scrape/internal/browser"
)

const (
	homeURL  = "https://www.tiktok.com/foryou"
	loginURL = "https://www.tiktok.com/login"

	secondFactorPoll = 3 * time.Second
)

// Session owns the browser for the duration of a sweep: one Chrome process
// on a persistent profile, one shared page. Acquire before the sweep,
// Release on every exit path.
type Session struct {
	mgr    *browser.Manager
	login  config.LoginConfig
	logger *slog.Logger

	authenticated bool
}

// NewSession creates a Session. Nothing starts until Acquire.
func NewSession(bcfg config.BrowserConfig, login config.LoginConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		mgr: browser.NewManager(browser.Config{
			ProfileDir:     bcfg.ProfileDir,
			RemoteURL:      bcfg.Remote,
			Headless:       bcfg.Headless,
			BlockResources: bcfg.BlockResources,
			NavTimeout:     bcfg.NavTimeout(),
			Logger:         logger,
		}),
		login:  login,
		logger: logger,
	}
}

// Acquire launches the browser. Failure here is sweep-fatal: without a
// browser nothing can be scraped.
func (s *Session) Acquire(ctx context.Context) error {
	if err := s.mgr.Start(ctx); err != nil {
		return fmt.Errorf("scrape: acquire session: %w", err)
	}
	if _, err := s.mgr.Page(ctx); err != nil {
		s.mgr.Close()
		return fmt.Errorf("scrape: acquire session: %w", err)
	}
	return nil
}

// Release shuts the browser down. Safe to call more than once.
func (s *Session) Release() {
	s.mgr.Close()
}

// Page returns the shared page handle.
func (s *Session) Page(ctx context.Context) (*rod.Page, error) {
	return s.mgr.Page(ctx)
}

// Navigate drives the shared page to a URL with the session's nav timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page, err := s.mgr.Page(ctx)
	if err != nil {
		return err
	}
	return s.mgr.Navigate(ctx, page, url)
}

// EnsureAuthenticated makes a best effort to end up logged in and reports
// the result. Idempotent: an already-authenticated session returns true
// without side effects. Authentication failure is deliberately not an
// error: public search still works unauthenticated, at reduced reliability,
// so the pipeline degrades instead of aborting.
func (s *Session) EnsureAuthenticated(ctx context.Context) bool {
	if s.authenticated {
		return true
	}

	page, err := s.mgr.Page(ctx)
	if err != nil {
		s.logger.Warn("scrape: no page for auth probe", "error", err)
		return false
	}

	if s.probeLoggedIn(ctx, page) {
		s.authenticated = true
		return true
	}

	if s.login.Email == "" {
		s.logger.Info("scrape: no login credentials configured, proceeding unauthenticated")
		return false
	}

	s.authenticated = s.loginViaGoogle(ctx, page)
	if s.authenticated {
		s.logger.Info("scrape: login successful")
	} else {
		s.logger.Warn("scrape: login failed, proceeding unauthenticated")
	}
	return s.authenticated
}

// probeLoggedIn loads the authenticated-only feed and checks for the login
// affordance. Presence of a /login link means we are logged out.
func (s *Session) probeLoggedIn(ctx context.Context, page *rod.Page) bool {
	if err := s.mgr.Navigate(ctx, page, homeURL); err != nil {
		s.logger.Debug("scrape: auth probe navigation failed", "error", err)
		return false
	}

	res, err := page.Context(ctx).Eval(`() => {
		const loginLink = document.querySelector('a[href*="/login"], [data-e2e="top-login-button"]');
		return loginLink === null;
	}`)
	if err != nil {
		return false
	}
	return res.Value.Bool() && strings.Contains(pageURL(page), "tiktok.com")
}

// loginViaGoogle drives the federated login: click the Google button, fill
// or pick the stored identity, answer the consent screen, then wait out the
// out-of-band second factor. Every step is best-effort; any miss falls
// through and the final probe decides.
func (s *Session) loginViaGoogle(ctx context.Context, page *rod.Page) bool {
	if err := s.mgr.Navigate(ctx, page, loginURL); err != nil {
		s.logger.Debug("scrape: login page navigation failed", "error", err)
		return false
	}

	if !s.clickGoogleButton(ctx, page) {
		s.logger.Debug("scrape: google login button not found")
		return false
	}

	gp := s.findGooglePage(ctx, page)
	if gp == nil {
		s.logger.Debug("scrape: google account page not found")
		return false
	}

	s.submitIdentity(ctx, gp)
	s.waitSecondFactor(ctx, page, gp)

	// Final check: back on TikTok, no login affordance.
	if !strings.Contains(pageURL(page), "tiktok.com") {
		s.mgr.Navigate(ctx, page, homeURL)
	}
	return s.probeLoggedIn(ctx, page)
}

func (s *Session) clickGoogleButton(ctx context.Context, page *rod.Page) bool {
	labels := []string{
		"Continue with Google",
		"Google로 계속하기",
		"Google로 계속 진행",
	}
	for _, label := range labels {
		el, err := page.Context(ctx).Timeout(5 * time.Second).
			ElementR("div, button, a", label)
		if err != nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			continue
		}
		sleepCtx(ctx, 3*time.Second)
		return true
	}
	return false
}

// findGooglePage locates the identity-provider page, which may be a popup
// or the same tab after a redirect.
func (s *Session) findGooglePage(ctx context.Context, page *rod.Page) *rod.Page {
	pages, err := s.mgr.Pages()
	if err == nil {
		for _, p := range pages {
			if strings.Contains(pageURL(p), "accounts.google.com") {
				return p.Context(ctx)
			}
		}
	}
	if strings.Contains(pageURL(page), "accounts.google.com") {
		return page
	}
	return nil
}

// submitIdentity fills the email/password form, or picks the stored account
// from the chooser when the profile has logged in before.
func (s *Session) submitIdentity(ctx context.Context, gp *rod.Page) {
	if el, err := gp.Timeout(5 * time.Second).Element(`input[type="email"]`); err == nil {
		if err := el.Input(s.login.Email); err == nil {
			s.clickIfPresent(ctx, gp, "#identifierNext")
			sleepCtx(ctx, 4*time.Second)
		}
	} else {
		// Account chooser path.
		chooser := []string{
			fmt.Sprintf(`div[data-email=%q]`, s.login.Email),
			fmt.Sprintf(`div[data-identifier=%q]`, s.login.Email),
		}
		for _, sel := range chooser {
			if s.clickIfPresent(ctx, gp, sel) {
				sleepCtx(ctx, 4*time.Second)
				break
			}
		}
	}

	if s.login.Password != "" {
		if el, err := gp.Timeout(10 * time.Second).Element(`input[type="password"]`); err == nil {
			if err := el.Input(s.login.Password); err == nil {
				s.clickIfPresent(ctx, gp, "#passwordNext")
				sleepCtx(ctx, 5*time.Second)
			}
		}
	}
}

// waitSecondFactor polls for up to the configured ceiling while the human
// approves the out-of-band prompt. Exits early the moment the provider page
// navigates away or TikTok becomes reachable authenticated. Also clicks a
// consent button if one appears mid-wait.
func (s *Session) waitSecondFactor(ctx context.Context, main, gp *rod.Page) {
	deadline := time.Now().Add(s.login.SecondFactorWait())

	for time.Now().Before(deadline) {
		if !strings.Contains(pageURL(gp), "accounts.google.com") {
			return
		}
		mainURL := pageURL(main)
		if strings.Contains(mainURL, "tiktok.com") && !strings.Contains(mainURL, "login") {
			return
		}

		for _, label := range []string{"Continue", "계속"} {
			if el, err := gp.Timeout(time.Second).ElementR("button", label); err == nil {
				if el.Click(proto.InputMouseButtonLeft, 1) == nil {
					sleepCtx(ctx, 5*time.Second)
					return
				}
			}
		}

		if err := sleepCtx(ctx, secondFactorPoll); err != nil {
			return
		}
	}
	s.logger.Warn("scrape: second-factor wait timed out",
		"ceiling", s.login.SecondFactorWait())
}

func (s *Session) clickIfPresent(ctx context.Context, page *rod.Page, selector string) bool {
	el, err := page.Context(ctx).Timeout(2 * time.Second).Element(selector)
	if err != nil {
		return false
	}
	return el.Click(proto.InputMouseButtonLeft, 1) == nil
}

// pageURL reads a page's current URL, empty on failure. Pages mid-redirect
// can briefly refuse Target.getTargetInfo; treat that as "unknown".
func pageURL(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}
