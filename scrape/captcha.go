package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/evsys/tikrank/notify"
)

// captchaProbeJS checks the live page for TikTok challenge UI. Two signal
// classes: known challenge container markers, and challenge-specific body
// text in the locales the account operates in. Returns the matched signal
// or an empty string. A half-loaded page must never throw here.
const captchaProbeJS = `() => {
	const selectors = [
		'#tiktok-verify-ele',
		'.captcha_verify_container',
		'.captcha-verify-container',
		'[class*="captcha_verify"]',
		'[class*="captcha-verify"]',
		'[class*="CaptchaVerify"]',
		'[id*="captcha"]',
		'[class*="secsdk-captcha"]',
		'.verify-wrap',
		'[data-testid="captcha_container"]',
	];
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (el && el.offsetHeight > 0) return sel;
	}
	const bodyText = document.body ? (document.body.innerText || '') : '';
	if (bodyText.includes('슬라이더를 드래그') || bodyText.includes('퍼즐을 맞추세요')) return 'text:slider';
	if (bodyText.includes('Verify to continue') || bodyText.includes('Please wait')) return 'text:verify';
	if (bodyText.includes('Drag the slider') || bodyText.includes('Rotate')) return 'text:rotate';
	return '';
}`

// Monitor detects anti-bot challenges in the live page and waits for a
// human to resolve them, alerting the operator channel once per wait.
type Monitor struct {
	notifier notify.Notifier
	logger   *slog.Logger
	poll     time.Duration

	// probe inspects the page and returns the matched challenge signal or
	// "". Overridable in tests; the default evaluates captchaProbeJS.
	probe func(ctx context.Context, page *rod.Page) string
}

// NewMonitor creates a Monitor polling every 5 seconds.
func NewMonitor(notifier notify.Notifier, logger *slog.Logger) *Monitor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		notifier: notifier,
		logger:   logger,
		poll:     5 * time.Second,
	}
	m.probe = m.evalProbe
	return m
}

// Detect returns the challenge signal present in the page, or "" if the
// page is clear. Never returns an error: probe failures read as "no
// challenge" so a flaky evaluation cannot abort an extraction.
func (m *Monitor) Detect(ctx context.Context, page *rod.Page) string {
	return m.probe(ctx, page)
}

// AwaitResolution waits up to timeout for a detected challenge to clear,
// polling at fixed intervals. It alerts the operator once at the start of
// the wait so a human can act, and returns true the moment a poll finds the
// page clear. On timeout it returns false; the caller must treat the
// in-flight operation as failed-but-retryable.
func (m *Monitor) AwaitResolution(ctx context.Context, page *rod.Page, keyword string, timeout time.Duration) bool {
	m.logger.Warn("scrape: captcha detected, waiting for manual resolution",
		"keyword", keyword, "timeout", timeout)
	m.notifier.Send(ctx, fmt.Sprintf(
		"TikTok CAPTCHA on %q — please solve it in the browser window within %s",
		keyword, timeout))

	deadline := time.Now().Add(timeout)
	for {
		wait := m.poll
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			break
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return false
		}

		if m.probe(ctx, page) == "" {
			m.logger.Info("scrape: captcha resolved", "keyword", keyword)
			m.notifier.Send(ctx, fmt.Sprintf("CAPTCHA resolved, resuming %q", keyword))
			return true
		}
	}

	m.logger.Warn("scrape: captcha wait timed out", "keyword", keyword)
	m.notifier.Send(ctx, fmt.Sprintf("CAPTCHA timeout — skipping %q", keyword))
	return false
}

func (m *Monitor) evalProbe(ctx context.Context, page *rod.Page) string {
	res, err := page.Context(ctx).Eval(captchaProbeJS)
	if err != nil {
		m.logger.Debug("scrape: captcha probe failed", "error", err)
		return ""
	}
	return res.Value.Str()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
