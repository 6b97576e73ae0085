package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram sends messages through the bot API's sendMessage endpoint.
// Errors are logged and swallowed; a throttle keeps a noisy sweep from
// tripping Telegram's flood limits.
type Telegram struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// TelegramOption configures a Telegram notifier.
type TelegramOption func(*Telegram)

// WithAPIBase overrides the bot API base URL. Tests point it at httptest.
func WithAPIBase(base string) TelegramOption {
	return func(t *Telegram) { t.apiBase = base }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) TelegramOption {
	return func(t *Telegram) { t.logger = l }
}

// NewTelegram creates a notifier for one bot token and chat. The limiter
// allows one message per second with a small burst, matching the bot API's
// per-chat limits.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		token:   token,
		chatID:  chatID,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Send posts text to the configured chat. It never returns an error: a
// failed notification is logged and dropped.
func (t *Telegram) Send(ctx context.Context, text string) {
	if err := t.limiter.Wait(ctx); err != nil {
		return
	}

	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		t.logger.Warn("notify: marshal message", "error", err)
		return
	}

	url := t.apiBase + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.logger.Warn("notify: build request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("notify: telegram send failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("notify: telegram rejected message", "status", resp.StatusCode)
	}
}
