package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/evsys/tikrank/scrape"
)

type recordingNotifier struct {
	msgs []string
}

func (n *recordingNotifier) Send(_ context.Context, text string) {
	n.msgs = append(n.msgs, text)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestKeywordExitFailureIsNotProcessError(t *testing.T) {
	res := scrape.KeywordResult{
		Keyword:    "dance",
		SnapshotID: 9,
		Err:        errors.New("captcha unresolved"),
	}
	if err := keywordExit(testLogger(), res); err != nil {
		t.Fatalf("failed keyword must exit zero, got %v", err)
	}
}

func TestKeywordExitSuccess(t *testing.T) {
	res := scrape.KeywordResult{Keyword: "dance", SnapshotID: 9, Count: 30}
	if err := keywordExit(testLogger(), res); err != nil {
		t.Fatalf("keywordExit: %v", err)
	}
}

func TestNotifyFatalAlertsAndPassesError(t *testing.T) {
	n := &recordingNotifier{}
	cause := errors.New("browser: launch: chrome not found")

	err := notifyFatal(context.Background(), n, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want the original cause", err)
	}
	if len(n.msgs) != 1 || !strings.Contains(n.msgs[0], "chrome not found") {
		t.Fatalf("notifications = %v", n.msgs)
	}
}
