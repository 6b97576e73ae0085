package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evsys/tikrank/config"
	"github.com/evsys/tikrank/diff"
	"github.com/evsys/tikrank/notify"
	"github.com/evsys/tikrank/store"
	"github.com/evsys/tikrank/video"
)

// SweepStore is the persistence surface the orchestrator drives. *store.Store
// satisfies it; tests substitute an in-memory fake.
type SweepStore interface {
	ActiveKeywords(ctx context.Context) ([]store.Keyword, error)
	EnsureKeyword(ctx context.Context, keyword string) (int64, error)
	CreateSnapshot(ctx context.Context, keywordID int64, keyword string, source store.Provenance, requested int) (int64, error)
	StartSnapshot(ctx context.Context, id int64) error
	AppendRecords(ctx context.Context, snapshotID int64, records []video.Record) error
	MarkCompleted(ctx context.Context, id int64, count int) error
	MarkFailed(ctx context.Context, id int64, errText string) error
	AttachChangeReport(ctx context.Context, id int64, report *diff.Report) error
	TouchKeyword(ctx context.Context, id int64) error
	LatestCompletedBefore(ctx context.Context, keyword string, ref time.Time) ([]video.Record, bool, error)
	LogEvent(ctx context.Context, eventType, keyword string, payload any)
}

// ExtractFunc runs one extraction attempt for a keyword.
type ExtractFunc func(ctx context.Context, keyword string, target int) Result

// AuthFunc makes a best-effort login attempt and reports success.
type AuthFunc func(ctx context.Context) bool

// KeywordResult is the per-keyword outcome of a sweep.
type KeywordResult struct {
	Keyword    string
	SnapshotID int64
	Count      int
	Err        error
	Report     *diff.Report
}

// Succeeded reports whether the keyword produced a completed snapshot.
func (r KeywordResult) Succeeded() bool { return r.Err == nil }

// SweepReport summarises one full sweep for the operator channel.
type SweepReport struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  []KeywordResult
}

// Failed counts keywords that produced no completed snapshot.
func (r *SweepReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Succeeded() {
			n++
		}
	}
	return n
}

// Sweeper runs the daily sweep: every active keyword scraped in sequence,
// each isolated from the others' failures, a change report attached to
// every completed snapshot, and one summary pushed at the end.
type Sweeper struct {
	store    SweepStore
	extract  ExtractFunc
	auth     AuthFunc
	notifier notify.Notifier
	cfg      config.ScrapeConfig
	logger   *slog.Logger

	// sleep is injectable so sweep tests run without real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSweeper wires a Sweeper. auth may be nil when no credentials are
// configured; the sweep then runs unauthenticated.
func NewSweeper(st SweepStore, extract ExtractFunc, auth AuthFunc, notifier notify.Notifier, cfg config.ScrapeConfig, logger *slog.Logger) *Sweeper {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if auth == nil {
		auth = func(context.Context) bool { return false }
	}
	return &Sweeper{
		store:    st,
		extract:  extract,
		auth:     auth,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// RunAll sweeps every active keyword. Per-keyword failures are recorded and
// skipped over; only an empty keyword list or a store failure aborts. The
// returned report always covers every keyword attempted before any
// cancellation.
func (s *Sweeper) RunAll(ctx context.Context, source store.Provenance) (*SweepReport, error) {
	report := &SweepReport{
		RunID:   "run_" + uuid.NewString(),
		Started: time.Now(),
	}

	keywords, err := s.store.ActiveKeywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("scrape: sweep: %w", err)
	}
	if len(keywords) == 0 {
		return nil, fmt.Errorf("scrape: sweep: no active keywords")
	}

	s.store.LogEvent(ctx, store.EventSweepStarted, "", map[string]any{
		"run_id": report.RunID, "keywords": len(keywords),
	})
	s.logger.Info("scrape: sweep started",
		"run_id", report.RunID, "keywords", len(keywords))

	authed := s.auth(ctx)
	s.logger.Info("scrape: session state", "authenticated", authed)

	for i, kw := range keywords {
		if ctx.Err() != nil {
			s.logger.Warn("scrape: sweep cancelled",
				"run_id", report.RunID, "completed", len(report.Results))
			break
		}
		if i > 0 {
			if err := s.sleep(ctx, s.keywordDelay()); err != nil {
				break
			}
		}
		report.Results = append(report.Results,
			s.scrapeKeyword(ctx, kw.ID, kw.Keyword, s.cfg.DefaultTopN, source))
	}

	s.retryShortfalls(ctx, report, source)

	report.Finished = time.Now()
	s.store.LogEvent(ctx, store.EventSweepFinished, "", map[string]any{
		"run_id": report.RunID, "keywords": len(report.Results), "failed": report.Failed(),
	})
	s.notifier.Send(ctx, formatSweepMessage(report))
	s.logger.Info("scrape: sweep finished", "run_id", report.RunID,
		"keywords", len(report.Results), "failed", report.Failed(),
		"duration", report.Finished.Sub(report.Started).Round(time.Second))
	return report, nil
}

// RunOne scrapes a single keyword on demand, registering it if new.
func (s *Sweeper) RunOne(ctx context.Context, keyword string, target int, source store.Provenance) (KeywordResult, error) {
	id, err := s.store.EnsureKeyword(ctx, keyword)
	if err != nil {
		return KeywordResult{Keyword: keyword}, fmt.Errorf("scrape: run %q: %w", keyword, err)
	}
	if target <= 0 {
		target = s.cfg.DefaultTopN
	}
	s.auth(ctx)
	return s.scrapeKeyword(ctx, id, keyword, target, source), nil
}

// scrapeKeyword owns one snapshot lifecycle end to end. Whatever happens,
// the snapshot ends in a terminal state and an event is logged.
func (s *Sweeper) scrapeKeyword(ctx context.Context, keywordID int64, keyword string, target int, source store.Provenance) KeywordResult {
	out := KeywordResult{Keyword: keyword}

	snapID, err := s.store.CreateSnapshot(ctx, keywordID, keyword, source, target)
	if err != nil {
		out.Err = err
		return out
	}
	out.SnapshotID = snapID

	if err := s.store.StartSnapshot(ctx, snapID); err != nil {
		out.Err = err
		return out
	}

	res := s.extract(ctx, keyword, target)
	if res.Kind == Retryable {
		s.logger.Info("scrape: retrying keyword", "keyword", keyword, "cause", res.Err)
		res = s.extract(ctx, keyword, target)
		if res.Kind == Retryable {
			res = fatal(fmt.Errorf("scrape: %q: still failing after retry: %w", keyword, res.Err))
		}
	}

	if res.Kind != Completed {
		s.failSnapshot(ctx, snapID, keyword, res.Err)
		out.Err = res.Err
		return out
	}

	if err := s.store.AppendRecords(ctx, snapID, res.Records); err != nil {
		s.failSnapshot(ctx, snapID, keyword, err)
		out.Err = err
		return out
	}
	if err := s.store.MarkCompleted(ctx, snapID, len(res.Records)); err != nil {
		out.Err = err
		return out
	}
	if err := s.store.TouchKeyword(ctx, keywordID); err != nil {
		s.logger.Warn("scrape: touch keyword failed", "keyword", keyword, "error", err)
	}
	out.Count = len(res.Records)

	out.Report = s.attachDiff(ctx, snapID, keyword, res.Records)

	s.store.LogEvent(ctx, store.EventKeywordScraped, keyword, map[string]any{
		"snapshot_id": snapID, "count": out.Count,
	})
	s.logger.Info("scrape: keyword done", "keyword", keyword, "count", out.Count)
	return out
}

func (s *Sweeper) failSnapshot(ctx context.Context, snapID int64, keyword string, cause error) {
	errText := "unknown"
	if cause != nil {
		errText = cause.Error()
	}
	if err := s.store.MarkFailed(ctx, snapID, errText); err != nil {
		s.logger.Error("scrape: mark failed", "keyword", keyword, "error", err)
	}
	s.store.LogEvent(ctx, store.EventKeywordFailed, keyword, map[string]any{
		"snapshot_id": snapID, "error": errText,
	})
	s.logger.Warn("scrape: keyword failed", "keyword", keyword, "error", errText)
}

// attachDiff computes day-over-day changes against the last completed
// snapshot of an earlier calendar day and attaches the report. A diff
// failure degrades to an unanalysed snapshot, never a failed one.
func (s *Sweeper) attachDiff(ctx context.Context, snapID int64, keyword string, current []video.Record) *diff.Report {
	prior, ok, err := s.store.LatestCompletedBefore(ctx, keyword, time.Now())
	if err != nil {
		s.logger.Warn("scrape: prior snapshot lookup failed", "keyword", keyword, "error", err)
		return nil
	}
	if !ok {
		prior = nil
	}
	report := diff.Diff(current, prior)
	if err := s.store.AttachChangeReport(ctx, snapID, report); err != nil {
		s.logger.Warn("scrape: attach change report failed", "keyword", keyword, "error", err)
	}
	return report
}

// retryShortfalls gives keywords that completed under target, or failed
// outright, one extra pass at the end of the sweep, after a fresh auth
// attempt. Results are updated in place.
func (s *Sweeper) retryShortfalls(ctx context.Context, report *SweepReport, source store.Provenance) {
	var short []int
	for i, res := range report.Results {
		if !res.Succeeded() || res.Count < s.cfg.DefaultTopN {
			short = append(short, i)
		}
	}
	if len(short) == 0 || ctx.Err() != nil {
		return
	}

	s.logger.Info("scrape: shortfall pass", "keywords", len(short))
	s.auth(ctx)

	for _, i := range short {
		if ctx.Err() != nil {
			return
		}
		if err := s.sleep(ctx, s.keywordDelay()); err != nil {
			return
		}
		keyword := report.Results[i].Keyword
		id, err := s.store.EnsureKeyword(ctx, keyword)
		if err != nil {
			continue
		}
		retry := s.scrapeKeyword(ctx, id, keyword, s.cfg.DefaultTopN, source)
		if retry.Succeeded() && retry.Count > report.Results[i].Count {
			report.Results[i] = retry
		}
	}
}

func (s *Sweeper) keywordDelay() time.Duration {
	min, max := s.cfg.KeywordDelayRange()
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// formatSweepMessage renders the operator summary in Telegram HTML.
func formatSweepMessage(r *SweepReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Sweep %s</b>\n", r.RunID)
	fmt.Fprintf(&b, "%d keywords, %d failed, %s\n",
		len(r.Results), r.Failed(), r.Finished.Sub(r.Started).Round(time.Second))
	for _, res := range r.Results {
		if !res.Succeeded() {
			fmt.Fprintf(&b, "❌ %s: %v\n", res.Keyword, res.Err)
			continue
		}
		line := fmt.Sprintf("✅ %s: %d videos", res.Keyword, res.Count)
		if res.Report != nil && res.Report.Summary != "" {
			line += " (" + res.Report.Summary + ")"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
