// Package worker runs the task-queue poll loop: claim the oldest pending
// scrape request, run it through the sweep orchestrator, record the result.
// The dashboard posts rows into the tasks table; this loop is the only
// consumer.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evsys/tikrank/notify"
	"github.com/evsys/tikrank/scrape"
	"github.com/evsys/tikrank/store"
)

// TaskRunner executes claimed tasks. *scrape.Sweeper satisfies it.
type TaskRunner interface {
	RunAll(ctx context.Context, source store.Provenance) (*scrape.SweepReport, error)
	RunOne(ctx context.Context, keyword string, target int, source store.Provenance) (scrape.KeywordResult, error)
}

// Queue is the task-queue slice of the store.
type Queue interface {
	ClaimNext(ctx context.Context) (*store.Task, error)
	CompleteTask(ctx context.Context, id int64, result any) error
	FailTask(ctx context.Context, id int64, errText string) error
}

// Options tunes the worker loop.
type Options struct {
	// Interval is how long an empty poll sleeps. Default: 30s.
	Interval time.Duration
	Logger   *slog.Logger
	Notifier notify.Notifier
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Notifier == nil {
		o.Notifier = notify.Nop{}
	}
}

// Worker polls the queue and dispatches tasks one at a time. Tasks share a
// single browser session, so execution is strictly serial: execMu keeps
// Run and RunOnce from ever driving the session concurrently.
type Worker struct {
	queue  Queue
	runner TaskRunner
	opts   Options

	// wake nudges the Run loop out of its idle sleep.
	wake chan struct{}

	execMu   sync.Mutex
	claims   atomic.Int64
	failures atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Claimed int64 `json:"claimed"`
	Failed  int64 `json:"failed"`
}

// New creates a Worker. Call Run to start the loop.
func New(queue Queue, runner TaskRunner, opts Options) *Worker {
	opts.defaults()
	return &Worker{
		queue:  queue,
		runner: runner,
		opts:   opts,
		wake:   make(chan struct{}, 1),
	}
}

// Wake cuts the Run loop's idle sleep short so newly queued tasks start
// immediately. Safe to call from any goroutine; extra wakes while one is
// pending coalesce. Execution still happens on the Run goroutine only.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stats returns the current counters.
func (w *Worker) Stats() Stats {
	return Stats{Claimed: w.claims.Load(), Failed: w.failures.Load()}
}

// Run blocks until ctx is cancelled. A completed task triggers an immediate
// re-poll so a burst of queued requests drains back to back; only an empty
// queue waits out the interval.
func (w *Worker) Run(ctx context.Context) error {
	log := w.opts.Logger
	log.Info("worker: started", "interval", w.opts.Interval)

	for {
		task, err := w.queue.ClaimNext(ctx)
		if err != nil {
			log.Error("worker: claim failed", "error", err)
		} else if task != nil {
			w.execute(ctx, task)
			continue
		}

		t := time.NewTimer(w.opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info("worker: stopped")
			return ctx.Err()
		case <-w.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// RunOnce drains the queue and returns the number of tasks executed. Used
// by the CLI's one-shot mode and by cron-style schedulers.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	n := 0
	for {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		task, err := w.queue.ClaimNext(ctx)
		if err != nil {
			return n, fmt.Errorf("worker: claim: %w", err)
		}
		if task == nil {
			return n, nil
		}
		w.execute(ctx, task)
		n++
	}
}

func (w *Worker) execute(ctx context.Context, task *store.Task) {
	w.execMu.Lock()
	defer w.execMu.Unlock()

	log := w.opts.Logger
	w.claims.Add(1)
	log.Info("worker: task claimed",
		"task_id", task.ID, "type", task.Type, "keyword", task.Keyword)

	result, err := w.dispatch(ctx, task)
	if err != nil {
		w.failures.Add(1)
		log.Warn("worker: task failed", "task_id", task.ID, "error", err)
		if ferr := w.queue.FailTask(ctx, task.ID, err.Error()); ferr != nil {
			log.Error("worker: record task failure", "task_id", task.ID, "error", ferr)
		}
		return
	}

	if err := w.queue.CompleteTask(ctx, task.ID, result); err != nil {
		log.Error("worker: record task result", "task_id", task.ID, "error", err)
	}
	log.Info("worker: task done", "task_id", task.ID)
}

func (w *Worker) dispatch(ctx context.Context, task *store.Task) (any, error) {
	switch task.Type {
	case store.TaskSearch:
		res, err := w.runner.RunOne(ctx, task.Keyword, task.TopN, store.OnDemand)
		if err != nil {
			return nil, err
		}
		if res.Err != nil {
			return nil, res.Err
		}
		w.opts.Notifier.Send(ctx, fmt.Sprintf(
			"On-demand scrape %q done: %d videos", task.Keyword, res.Count))
		return map[string]any{
			"snapshot_id": res.SnapshotID,
			"count":       res.Count,
		}, nil

	case store.TaskRunAll:
		report, err := w.runner.RunAll(ctx, store.OnDemand)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"run_id":   report.RunID,
			"keywords": len(report.Results),
			"failed":   report.Failed(),
		}, nil

	default:
		return nil, fmt.Errorf("worker: unknown task type %q", task.Type)
	}
}
