package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scrape.DefaultTopN != 30 {
		t.Errorf("DefaultTopN = %d, want 30", cfg.Scrape.DefaultTopN)
	}
	if cfg.Scrape.ScrollLimit != 10 {
		t.Errorf("ScrollLimit = %d, want 10", cfg.Scrape.ScrollLimit)
	}
	if cfg.Scrape.CaptchaWaitSeconds != 180 {
		t.Errorf("CaptchaWaitSeconds = %d, want 180", cfg.Scrape.CaptchaWaitSeconds)
	}
	if cfg.Login.SecondFactorWaitSeconds != 120 {
		t.Errorf("SecondFactorWaitSeconds = %d, want 120", cfg.Login.SecondFactorWaitSeconds)
	}
	lo, hi := cfg.Scrape.KeywordDelayRange()
	if lo >= hi {
		t.Errorf("delay range inverted: %v >= %v", lo, hi)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tikrank.yaml")
	data := []byte(`
database:
  path: /tmp/test.db
scrape:
  default_top_n: 5
  keyword_delay_min_seconds: 1
  keyword_delay_max_seconds: 2
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Path = %q", cfg.Database.Path)
	}
	if cfg.Scrape.DefaultTopN != 5 {
		t.Errorf("DefaultTopN = %d, want 5", cfg.Scrape.DefaultTopN)
	}
	if cfg.Scrape.KeywordDelayMaxSeconds != 2 {
		t.Errorf("KeywordDelayMaxSeconds = %d, want 2", cfg.Scrape.KeywordDelayMaxSeconds)
	}
}

func TestLoad_CredentialsFromEnvOnly(t *testing.T) {
	t.Setenv("TIKRANK_GOOGLE_EMAIL", "ops@example.com")
	t.Setenv("TIKRANK_GOOGLE_PASSWORD", "hunter2")
	t.Setenv("TIKRANK_TELEGRAM_TOKEN", "tok")
	t.Setenv("TIKRANK_TELEGRAM_CHAT", "chat")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Login.Email != "ops@example.com" || cfg.Login.Password != "hunter2" {
		t.Errorf("login = %+v", cfg.Login)
	}
	if cfg.Telegram.Token != "tok" || cfg.Telegram.ChatID != "chat" {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/tikrank.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
