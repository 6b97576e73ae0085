// Package config handles tikrank configuration from a YAML file with
// environment-variable overrides for credential material. Credentials are
// never written to the file: the Google account used for TikTok login and
// the Telegram bot token come from the environment only.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level tikrank configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Browser  BrowserConfig  `yaml:"browser"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Worker   WorkerConfig   `yaml:"worker"`
	Login    LoginConfig    `yaml:"-"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	// ProfileDir is the persistent Chrome user-data directory. The login
	// session lives here and survives restarts.
	ProfileDir string `yaml:"profile_dir"`
	// Remote is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome.
	Remote string `yaml:"remote"`
	// Headless runs Chrome without a display. Headful is the default:
	// TikTok's challenge rate against headless fingerprints is much higher,
	// and a human needs the window to solve CAPTCHAs anyway.
	Headless bool `yaml:"headless"`
	// BlockResources lists resource types to block (images, fonts, media).
	BlockResources []string `yaml:"block_resources"`
	// NavTimeoutSeconds bounds every page navigation.
	NavTimeoutSeconds int `yaml:"nav_timeout_seconds"`
}

// ScrapeConfig tunes extraction and sweep pacing.
type ScrapeConfig struct {
	// DefaultTopN is the target ranked-item count per keyword.
	DefaultTopN int `yaml:"default_top_n"`
	// ScrollLimit caps scroll-and-wait cycles when loading beyond the
	// initial page.
	ScrollLimit int `yaml:"scroll_limit"`
	// KeywordDelayMinSeconds / KeywordDelayMaxSeconds bound the randomized
	// pause between keywords in a sweep.
	KeywordDelayMinSeconds int `yaml:"keyword_delay_min_seconds"`
	KeywordDelayMaxSeconds int `yaml:"keyword_delay_max_seconds"`
	// CaptchaWaitSeconds bounds the human-resolution window.
	CaptchaWaitSeconds int `yaml:"captcha_wait_seconds"`
	// DetailBackfill visits each video's own page to fill missing fields.
	DetailBackfill bool `yaml:"detail_backfill"`
}

// WorkerConfig tunes the task-polling loop.
type WorkerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// LoginConfig is the federated-login credential, environment-only.
type LoginConfig struct {
	Email    string
	Password string
	// SecondFactorWaitSeconds bounds the out-of-band 2FA wait.
	SecondFactorWaitSeconds int
}

// TelegramConfig identifies the operator alert channel. The token comes
// from the environment; only the chat id may live in the file.
type TelegramConfig struct {
	ChatID string `yaml:"chat_id"`
	Token  string `yaml:"-"`
}

// Load reads a YAML file, applies defaults, and pulls credentials from the
// environment. An empty path yields a default config (credentials from env
// only), so the CLI works without a file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "tikrank.db"
	}
	if c.Browser.ProfileDir == "" {
		c.Browser.ProfileDir = defaultProfileDir()
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		c.Browser.NavTimeoutSeconds = 30
	}
	if c.Scrape.DefaultTopN <= 0 {
		c.Scrape.DefaultTopN = 30
	}
	if c.Scrape.ScrollLimit <= 0 {
		c.Scrape.ScrollLimit = 10
	}
	if c.Scrape.KeywordDelayMinSeconds <= 0 {
		c.Scrape.KeywordDelayMinSeconds = 15
	}
	if c.Scrape.KeywordDelayMaxSeconds <= c.Scrape.KeywordDelayMinSeconds {
		c.Scrape.KeywordDelayMaxSeconds = 30
	}
	if c.Scrape.CaptchaWaitSeconds <= 0 {
		c.Scrape.CaptchaWaitSeconds = 180
	}
	if c.Worker.PollIntervalSeconds <= 0 {
		c.Worker.PollIntervalSeconds = 30
	}
	if c.Login.SecondFactorWaitSeconds <= 0 {
		c.Login.SecondFactorWaitSeconds = 120
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TIKRANK_GOOGLE_EMAIL"); v != "" {
		c.Login.Email = v
	}
	if v := os.Getenv("TIKRANK_GOOGLE_PASSWORD"); v != "" {
		c.Login.Password = v
	}
	if v := os.Getenv("TIKRANK_TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TIKRANK_TELEGRAM_CHAT"); v != "" {
		c.Telegram.ChatID = v
	}
}

// NavTimeout returns the navigation timeout as a duration.
func (c *BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// CaptchaWait returns the CAPTCHA resolution window as a duration.
func (c *ScrapeConfig) CaptchaWait() time.Duration {
	return time.Duration(c.CaptchaWaitSeconds) * time.Second
}

// KeywordDelayRange returns the inter-keyword pause bounds.
func (c *ScrapeConfig) KeywordDelayRange() (min, max time.Duration) {
	return time.Duration(c.KeywordDelayMinSeconds) * time.Second,
		time.Duration(c.KeywordDelayMaxSeconds) * time.Second
}

// SecondFactorWait returns the 2FA wait ceiling as a duration.
func (c *LoginConfig) SecondFactorWait() time.Duration {
	return time.Duration(c.SecondFactorWaitSeconds) * time.Second
}

// PollInterval returns the worker poll interval as a duration.
func (c *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func defaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tikrank-profile"
	}
	return home + "/.tikrank/chrome-profile"
}
