// Command tikrank scrapes TikTok search rankings for tracked keywords,
// snapshots them in SQLite, and reports day-over-day changes.
//
// Usage:
//
//	tikrank -sweep                          # scrape every active keyword
//	tikrank -keyword "dance challenge"      # scrape one keyword
//	tikrank -worker                         # poll the dashboard task queue
//	tikrank -worker-once                    # drain the queue once and exit
//	tikrank -login                          # interactive login, then exit
//
// Credentials come from the environment: TIKRANK_GOOGLE_EMAIL,
// TIKRANK_GOOGLE_PASSWORD, TIKRANK_TELEGRAM_TOKEN, TIKRANK_TELEGRAM_CHAT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/evsys/tikrank/config"
	"github.com/evsys/tikrank/dbopen"
	"github.com/evsys/tikrank/notify"
	"github.com/evsys/tikrank/scrape"
	"github.com/evsys/tikrank/store"
	"github.com/evsys/tikrank/watch"
	"github.com/evsys/tikrank/worker"
)

func main() {
	configPath := flag.String("config", "", "path to tikrank.yaml config file")
	sweep := flag.Bool("sweep", false, "scrape every active keyword")
	keyword := flag.String("keyword", "", "scrape a single keyword")
	topN := flag.Int("top", 0, "ranked items per keyword (default from config)")
	workerMode := flag.Bool("worker", false, "poll the task queue until interrupted")
	workerOnce := flag.Bool("worker-once", false, "drain the task queue once and exit")
	login := flag.Bool("login", false, "log in interactively and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *sweep, *keyword, *topN, *workerMode, *workerOnce, *login); err != nil {
		logger.Error("tikrank: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, sweep bool, keyword string, topN int, workerMode, workerOnce, login bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := dbopen.Open(cfg.Database.Path,
		dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.New(db)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID,
			notify.WithLogger(logger))
	}

	session := scrape.NewSession(cfg.Browser, cfg.Login, logger)
	if err := session.Acquire(ctx); err != nil {
		// No browser means nothing can run: alert the operator channel
		// before bailing out.
		return notifyFatal(ctx, notifier, err)
	}
	defer session.Release()

	monitor := scrape.NewMonitor(notifier, logger)
	extractor := scrape.NewExtractor(session, monitor, cfg.Scrape, logger)
	extractor.Progress = func(stage string, count int) {
		logger.Debug("tikrank: extract progress", "stage", stage, "count", count)
	}
	sweeper := scrape.NewSweeper(st, extractor.Extract, session.EnsureAuthenticated,
		notifier, cfg.Scrape, logger)

	switch {
	case login:
		if !session.EnsureAuthenticated(ctx) {
			return errors.New("tikrank: login failed")
		}
		logger.Info("tikrank: logged in, session saved to profile")
		return nil

	case keyword != "":
		res, err := sweeper.RunOne(ctx, keyword, topN, store.Single)
		if err != nil {
			return err
		}
		return keywordExit(logger, res)

	case sweep:
		report, err := sweeper.RunAll(ctx, store.Scheduled)
		if err != nil {
			return err
		}
		// Per-keyword failures are recorded in the report, not fatal.
		logger.Info("tikrank: sweep done",
			"run_id", report.RunID, "keywords", len(report.Results), "failed", report.Failed())
		return nil

	case workerMode, workerOnce:
		w := worker.New(st, sweeper, worker.Options{
			Interval: cfg.Worker.PollInterval(),
			Logger:   logger,
			Notifier: notifier,
		})
		if workerOnce {
			n, err := w.RunOnce(ctx)
			logger.Info("tikrank: queue drained", "tasks", n)
			return err
		}
		// Wake the Run loop on dashboard inserts so queued tasks start
		// within a second instead of a full poll interval. The watcher
		// only signals; all task execution stays on the Run goroutine.
		watcher := watch.New(db, watch.Options{
			Detector: watch.MaxColumn("tasks", "id"),
			Logger:   logger,
		})
		go watcher.OnChange(ctx, func() error {
			w.Wake()
			return nil
		})
		err := w.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err

	default:
		fmt.Fprintln(os.Stderr, "usage: tikrank -sweep | -keyword <kw> | -worker | -worker-once | -login")
		os.Exit(2)
		return nil
	}
}

// keywordExit maps a single-keyword outcome to a process exit. A failed
// keyword is already recorded on its snapshot: it is data, not a process
// error, so the exit code stays zero either way.
func keywordExit(logger *slog.Logger, res scrape.KeywordResult) error {
	if res.Err != nil {
		logger.Warn("tikrank: keyword failed",
			"keyword", res.Keyword, "snapshot_id", res.SnapshotID, "error", res.Err)
		return nil
	}
	logger.Info("tikrank: keyword scraped",
		"keyword", res.Keyword, "snapshot_id", res.SnapshotID, "count", res.Count)
	return nil
}

// notifyFatal reports a run-aborting failure to the operator channel and
// passes the error through for the nonzero exit.
func notifyFatal(ctx context.Context, notifier notify.Notifier, err error) error {
	notifier.Send(ctx, fmt.Sprintf("tikrank aborted: %v", err))
	return err
}
