package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"golang.org/x/time/rate"

	"github.com/evsys/tikrank/config"
	"github.com/evsys/tikrank/video"
)

const searchBaseURL = "https://www.tiktok.com/search/video?q="

// PageSession is the slice of Session the extractor needs.
type PageSession interface {
	Page(ctx context.Context) (*rod.Page, error)
	Navigate(ctx context.Context, url string) error
}

// ProgressFunc receives extraction milestones: a stage name ("navigated",
// "extracted", "backfilled") and the record count at that point.
type ProgressFunc func(stage string, count int)

// Extractor turns one keyword into a ranked record list. One attempt per
// call; the sweep decides whether a Retryable outcome earns a re-run.
type Extractor struct {
	session PageSession
	monitor *Monitor
	cfg     config.ScrapeConfig
	logger  *slog.Logger

	// Progress, when set, is called at extraction milestones.
	Progress ProgressFunc

	// strategies in fidelity order, first success wins.
	strategies []Strategy

	// detailLimiter paces detail-page visits during backfill. Burst 1:
	// detail pages are where aggressive pacing trips the challenge wall.
	detailLimiter *rate.Limiter

	// pace and fetchDetail are swapped out in tests.
	pace        func(ctx context.Context) error
	fetchDetail func(ctx context.Context, page *rod.Page, rec *video.Record) error
}

// NewExtractor builds an Extractor with the standard strategy chain.
func NewExtractor(session PageSession, monitor *Monitor, cfg config.ScrapeConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		session: session,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger,
		strategies: []Strategy{
			embeddedJSONStrategy{},
			domCardsStrategy{},
			linkHarvestStrategy{},
		},
		detailLimiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
	e.pace = e.pacedWait
	e.fetchDetail = e.fillFromDetailPage
	return e
}

// Extract loads the search page for keyword, scrolls until target results
// are present or the scroll budget runs out, runs the strategy chain, and
// classifies the outcome.
func (e *Extractor) Extract(ctx context.Context, keyword string, target int) Result {
	if target <= 0 {
		target = e.cfg.DefaultTopN
	}

	page, err := e.session.Page(ctx)
	if err != nil {
		return fatal(fmt.Errorf("scrape: extract %q: %w", keyword, err))
	}

	searchURL := searchBaseURL + url.QueryEscape(keyword)
	if err := e.session.Navigate(ctx, searchURL); err != nil {
		// Navigation timeouts are transient; the keyword deserves a re-run.
		return retryable(fmt.Errorf("scrape: extract %q: %w", keyword, err))
	}

	e.report("navigated", 0)

	if r, blocked := e.checkCaptcha(ctx, page, keyword); blocked {
		return r
	}

	e.scrollToLoad(ctx, page, target)

	records := e.runStrategies(ctx, page, target)
	if len(records) == 0 {
		// An empty result set is ambiguous: genuinely no results, or a
		// challenge replaced the page mid-scroll. Re-probe before deciding.
		if r, blocked := e.checkCaptcha(ctx, page, keyword); blocked {
			return r
		}
		return fatal(fmt.Errorf("scrape: extract %q: no results", keyword))
	}

	// Truncate before backfill so the paced detail visits are only spent
	// on records that will be kept.
	if len(records) > target {
		records = records[:target]
	}
	for i := range records {
		records[i].Rank = i + 1
		records[i].Normalize()
	}
	e.report("extracted", len(records))

	if e.cfg.DetailBackfill {
		e.backfillDetails(ctx, page, records)
		// Backfill navigated away; nothing further reads the search page.
		e.report("backfilled", len(records))
	}

	return completed(records)
}

func (e *Extractor) report(stage string, count int) {
	if e.Progress != nil {
		e.Progress(stage, count)
	}
}

// checkCaptcha probes for a challenge and, if present, runs the human
// resolution wait. blocked=true means the caller must return r instead of
// proceeding.
func (e *Extractor) checkCaptcha(ctx context.Context, page *rod.Page, keyword string) (r Result, blocked bool) {
	signal := e.monitor.Detect(ctx, page)
	if signal == "" {
		return Result{}, false
	}
	e.logger.Warn("scrape: challenge present", "keyword", keyword, "signal", signal)

	if e.monitor.AwaitResolution(ctx, page, keyword, e.cfg.CaptchaWait()) {
		return retryable(fmt.Errorf("scrape: extract %q: captcha resolved, re-run needed", keyword)), true
	}
	return fatal(fmt.Errorf("scrape: extract %q: captcha unresolved after %s", keyword, e.cfg.CaptchaWait())), true
}

// scrollToLoad presses End to trigger lazy loading until the page holds at
// least target video links or the scroll budget is exhausted.
func (e *Extractor) scrollToLoad(ctx context.Context, page *rod.Page, target int) {
	for i := 0; i < e.cfg.ScrollLimit; i++ {
		if e.countVideoLinks(ctx, page) >= target {
			return
		}
		if err := page.Context(ctx).Keyboard.Press(input.End); err != nil {
			e.logger.Debug("scrape: scroll keypress failed", "error", err)
			return
		}
		if err := sleepCtx(ctx, time.Duration(1500+rand.Intn(1000))*time.Millisecond); err != nil {
			return
		}
	}
}

func (e *Extractor) countVideoLinks(ctx context.Context, page *rod.Page) int {
	res, err := page.Context(ctx).Eval(`() => document.querySelectorAll('a[href*="/video/"]').length`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func (e *Extractor) runStrategies(ctx context.Context, page *rod.Page, target int) []video.Record {
	for _, s := range e.strategies {
		records, err := s.Extract(ctx, page, target)
		if err != nil {
			e.logger.Debug("scrape: strategy failed", "strategy", s.Name(), "error", err)
			continue
		}
		if len(records) > 0 {
			e.logger.Info("scrape: strategy succeeded",
				"strategy", s.Name(), "records", len(records))
			return records
		}
	}
	return nil
}

// backfillDetails visits each incomplete record's own page to fill missing
// fields, pacing visits with the rate limiter plus jitter. Failures leave
// the record as-is; backfill improves data, never blocks it.
func (e *Extractor) backfillDetails(ctx context.Context, page *rod.Page, records []video.Record) {
	for i := range records {
		if records[i].Complete() {
			continue
		}
		if err := e.pace(ctx); err != nil {
			return
		}
		if err := e.fetchDetail(ctx, page, &records[i]); err != nil {
			e.logger.Debug("scrape: detail backfill failed",
				"url", records[i].URL, "error", err)
		}
	}
}

// pacedWait combines the detail-page rate limit with a random jitter.
func (e *Extractor) pacedWait(ctx context.Context) error {
	if err := e.detailLimiter.Wait(ctx); err != nil {
		return err
	}
	return sleepCtx(ctx, time.Duration(rand.Intn(2000))*time.Millisecond)
}

func (e *Extractor) fillFromDetailPage(ctx context.Context, page *rod.Page, rec *video.Record) error {
	if err := e.session.Navigate(ctx, rec.URL); err != nil {
		return err
	}

	res, err := page.Context(ctx).Eval(rehydrationJS)
	if err == nil && res.Value.Str() != "" {
		if it, derr := decodeDetailItem(res.Value.Str()); derr == nil {
			fillRecord(rec, it)
			return nil
		}
	}

	// Blob absent or unparseable; fall back to the rendered counters.
	return e.fillFromDetailDOM(ctx, page, rec)
}

// fillRecord overwrites only the fields the search page failed to provide.
func fillRecord(rec *video.Record, it searchItem) {
	set := func(dst *string, v string) {
		if (*dst == "" || *dst == video.FieldUnavailable) && v != "" {
			*dst = v
		}
	}
	set(&rec.CreatorID, it.Author.UniqueID)
	set(&rec.CreatorName, it.Author.Nickname)
	set(&rec.Description, it.Desc)
	if it.CreateTime > 0 {
		set(&rec.PostedDate, time.Unix(it.CreateTime, 0).Format("2006-01-02"))
	}
	set(&rec.Likes, countField(it.Stats.DiggCount))
	set(&rec.Comments, countField(it.Stats.CommentCount))
	set(&rec.Bookmarks, countField(it.Stats.CollectCount))
	set(&rec.Shares, countField(it.Stats.ShareCount))
	set(&rec.Views, countField(it.Stats.PlayCount))
}

// detailCountersJS reads the rendered engagement strip on a video page.
const detailCountersJS = `() => {
	const text = (sels) => {
		for (const sel of sels) {
			const el = document.querySelector(sel);
			if (el && el.textContent.trim()) return el.textContent.trim();
		}
		return "";
	};
	return JSON.stringify({
		likes: text(['strong[data-e2e="like-count"]', 'strong[data-e2e="browse-like-count"]']),
		comments: text(['strong[data-e2e="comment-count"]', 'strong[data-e2e="browse-comment-count"]']),
		bookmarks: text(['strong[data-e2e="undefined-count"]', 'strong[data-e2e="collect-count"]']),
		shares: text(['strong[data-e2e="share-count"]']),
		creator: text(['span[data-e2e="browse-username"]', 'h2[data-e2e="browse-username"]']),
		creatorName: text(['a[data-e2e="browse-user-avatar"] + div span', 'span[data-e2e="browser-nickname"]']),
		desc: text(['div[data-e2e="browse-video-desc"]', 'h1[data-e2e="browse-video-desc"]']),
		posted: text(['span[data-e2e="browser-nickname"] span:last-child']),
	});
}`

type detailCounters struct {
	Likes       string `json:"likes"`
	Comments    string `json:"comments"`
	Bookmarks   string `json:"bookmarks"`
	Shares      string `json:"shares"`
	Creator     string `json:"creator"`
	CreatorName string `json:"creatorName"`
	Desc        string `json:"desc"`
	Posted      string `json:"posted"`
}

func (e *Extractor) fillFromDetailDOM(ctx context.Context, page *rod.Page, rec *video.Record) error {
	res, err := page.Context(ctx).Eval(detailCountersJS)
	if err != nil {
		return fmt.Errorf("scrape: read detail counters: %w", err)
	}
	var c detailCounters
	if err := json.Unmarshal([]byte(res.Value.Str()), &c); err != nil {
		return fmt.Errorf("scrape: parse detail counters: %w", err)
	}
	set := func(dst *string, v string) {
		if (*dst == "" || *dst == video.FieldUnavailable) && v != "" {
			*dst = v
		}
	}
	set(&rec.Likes, c.Likes)
	set(&rec.Comments, c.Comments)
	set(&rec.Bookmarks, c.Bookmarks)
	set(&rec.Shares, c.Shares)
	set(&rec.CreatorID, c.Creator)
	set(&rec.CreatorName, c.CreatorName)
	set(&rec.Description, c.Desc)
	set(&rec.PostedDate, c.Posted)
	return nil
}
