// Package watch polls a SQLite database for cross-connection writes and
// fires a callback when one lands. The worker uses it to pick up queued
// scrape tasks as soon as the dashboard writes them, instead of waiting out
// a full poll interval.
package watch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Detector reads a version token from the database. Two calls returning
// different values mean another connection wrote something.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Detector overrides the default DataVersion detector.
	Detector Detector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = DataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls for database changes and runs an action on each one.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	errs    atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
}

// New creates a Watcher. Call OnChange to start the loop.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{Checks: w.checks.Load(), Changes: w.changes.Load(), Errors: w.errs.Load()}
}

// Version returns the last version token the watcher acted on.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange blocks until ctx is cancelled, polling at the configured
// interval. When the detector reports a new version, action runs. If action
// returns an error the version does not advance, so the action is retried
// on the next poll.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	v, err := w.opts.Detector(ctx, w.db)
	if err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	log.Debug("watch: started", "interval", w.opts.Interval)

	for {
		select {
		case <-ctx.Done():
			log.Debug("watch: stopped")
			return
		case <-ticker.C:
		}

		w.checks.Add(1)
		cur, err := w.opts.Detector(ctx, w.db)
		if err != nil {
			w.errs.Add(1)
			log.Warn("watch: version check failed", "error", err)
			continue
		}
		if cur == w.version.Load() {
			continue
		}

		w.changes.Add(1)
		log.Debug("watch: change detected", "version", cur)
		if err := action(); err != nil {
			w.errs.Add(1)
			log.Warn("watch: action failed", "error", err)
			continue
		}
		w.version.Store(cur)
	}
}

// DataVersion reads PRAGMA data_version, which increments whenever another
// connection writes to the database file. Connection-pool churn makes its
// value jumpy, so it suits "wake up and look", not exact change counting.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	if err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("watch: data_version: %w", err)
	}
	return v, nil
}

// MaxColumn returns a Detector that polls MAX(column) on a table. The
// worker watches MAX(id) on the tasks table: a new queued task bumps it,
// deterministically, regardless of which pooled connection answers.
func MaxColumn(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		if err := db.QueryRowContext(ctx, query).Scan(&v); err != nil {
			return 0, fmt.Errorf("watch: max %s.%s: %w", table, column, err)
		}
		return v, nil
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
