package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/evsys/tikrank/config"
	"github.com/evsys/tikrank/video"
)

type fakePageSession struct {
	navigated []string
	navErr    error
}

func (f *fakePageSession) Page(context.Context) (*rod.Page, error) { return nil, nil }

func (f *fakePageSession) Navigate(_ context.Context, url string) error {
	if f.navErr != nil {
		return f.navErr
	}
	f.navigated = append(f.navigated, url)
	return nil
}

type fixedStrategy struct {
	records []video.Record
	err     error
}

func (fixedStrategy) Name() string { return "fixed" }

func (f fixedStrategy) Extract(context.Context, *rod.Page, int) ([]video.Record, error) {
	return f.records, f.err
}

// newTestExtractor builds an Extractor whose page interactions are all
// stubbed: zero scroll budget, injected strategies, injected challenge
// probe, no pacing.
func newTestExtractor(t *testing.T, fs *fakePageSession, probe string, strategies ...Strategy) (*Extractor, *Monitor) {
	t.Helper()
	m, _ := newTestMonitor(t, func(context.Context, *rod.Page) string { return probe })
	cfg := config.ScrapeConfig{DefaultTopN: 3, ScrollLimit: 0, CaptchaWaitSeconds: 1}

	e := NewExtractor(fs, m, cfg, testLogger())
	e.strategies = strategies
	e.pace = func(ctx context.Context) error { return ctx.Err() }
	return e, m
}

func TestExtractBackfillsOnlyKeptRecords(t *testing.T) {
	fs := &fakePageSession{}
	e, _ := newTestExtractor(t, fs, "", fixedStrategy{records: makeRecords(5)})
	e.cfg.DetailBackfill = true

	var visited []string
	e.fetchDetail = func(_ context.Context, _ *rod.Page, rec *video.Record) error {
		visited = append(visited, rec.URL)
		return nil
	}

	res := e.Extract(context.Background(), "dance", 3)
	if res.Kind != Completed {
		t.Fatalf("result = %s (%v)", res.Kind, res.Err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(res.Records))
	}
	// All five strategy records are incomplete, but only the three kept
	// after truncation earn a paced detail visit.
	if len(visited) != 3 {
		t.Fatalf("backfill visited %d records, want 3: %v", len(visited), visited)
	}
	for i, rec := range res.Records {
		if rec.Rank != i+1 {
			t.Errorf("record %d rank = %d", i, rec.Rank)
		}
	}
}

func TestExtractNavigationErrorIsRetryable(t *testing.T) {
	fs := &fakePageSession{navErr: errors.New("navigate: context deadline exceeded")}
	e, _ := newTestExtractor(t, fs, "", fixedStrategy{records: makeRecords(3)})

	res := e.Extract(context.Background(), "dance", 3)
	if res.Kind != Retryable {
		t.Fatalf("result = %s, want retryable", res.Kind)
	}
}

func TestExtractNoResultsIsFatal(t *testing.T) {
	fs := &fakePageSession{}
	e, _ := newTestExtractor(t, fs, "", fixedStrategy{err: errors.New("blob absent")})

	res := e.Extract(context.Background(), "dance", 3)
	if res.Kind != Fatal {
		t.Fatalf("result = %s, want fatal", res.Kind)
	}
	if !strings.Contains(res.Err.Error(), "no results") {
		t.Fatalf("err = %v", res.Err)
	}
}

func TestExtractUnresolvedCaptchaIsFatal(t *testing.T) {
	fs := &fakePageSession{}
	e, m := newTestExtractor(t, fs, ".captcha_verify_container", fixedStrategy{records: makeRecords(3)})
	m.poll = 5 * time.Millisecond
	e.cfg.CaptchaWaitSeconds = 0 // CaptchaWait() == 0: the wait expires at once

	res := e.Extract(context.Background(), "dance", 3)
	if res.Kind != Fatal {
		t.Fatalf("result = %s, want fatal", res.Kind)
	}
	if !strings.Contains(res.Err.Error(), "captcha") {
		t.Fatalf("err = %v", res.Err)
	}
}

func TestExtractResolvedCaptchaIsRetryable(t *testing.T) {
	fs := &fakePageSession{}
	calls := 0
	m, _ := newTestMonitor(t, func(context.Context, *rod.Page) string {
		calls++
		if calls == 1 {
			return "text:slider"
		}
		return ""
	})
	e := NewExtractor(fs, m, config.ScrapeConfig{DefaultTopN: 3, CaptchaWaitSeconds: 1}, testLogger())
	e.strategies = []Strategy{fixedStrategy{records: makeRecords(3)}}
	e.pace = func(ctx context.Context) error { return ctx.Err() }

	res := e.Extract(context.Background(), "dance", 3)
	if res.Kind != Retryable {
		t.Fatalf("result = %s (%v), want retryable", res.Kind, res.Err)
	}
}

func TestExtractReportsProgress(t *testing.T) {
	fs := &fakePageSession{}
	e, _ := newTestExtractor(t, fs, "", fixedStrategy{records: makeRecords(5)})
	e.cfg.DetailBackfill = true
	e.fetchDetail = func(context.Context, *rod.Page, *video.Record) error { return nil }

	var stages []string
	counts := map[string]int{}
	e.Progress = func(stage string, count int) {
		stages = append(stages, stage)
		counts[stage] = count
	}

	if res := e.Extract(context.Background(), "dance", 3); res.Kind != Completed {
		t.Fatalf("result = %s (%v)", res.Kind, res.Err)
	}
	want := []string{"navigated", "extracted", "backfilled"}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i, s := range want {
		if stages[i] != s {
			t.Fatalf("stages = %v, want %v", stages, want)
		}
	}
	if counts["extracted"] != 3 || counts["backfilled"] != 3 {
		t.Fatalf("counts = %v", counts)
	}
}
