package store_test

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/evsys/tikrank/store"
)

func TestClaimNext_EmptyQueue(t *testing.T) {
	s := newStore(t)
	task, err := s.ClaimNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if task != nil {
		t.Errorf("claimed from empty queue: %+v", task)
	}
}

func TestClaimNext_OldestFirstAndSingleClaim(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.Enqueue(ctx, store.TaskSearch, "abib", 10, "dashboard")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Enqueue(ctx, store.TaskRunAll, "", 30, "dashboard")
	if err != nil {
		t.Fatal(err)
	}

	task, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil || task.ID != first {
		t.Fatalf("claimed %+v, want oldest task %d", task, first)
	}
	if task.Type != store.TaskSearch || task.Keyword != "abib" || task.TopN != 10 {
		t.Errorf("claimed task fields = %+v", task)
	}

	// A running task must not be claimable again.
	next, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != second {
		t.Fatalf("second claim = %+v, want task %d", next, second)
	}
	if tail, _ := s.ClaimNext(ctx); tail != nil {
		t.Errorf("claimed an already-running task: %+v", tail)
	}
}

func TestCompleteAndFailTask(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, store.TaskSearch, "abib", 10, "dashboard")
	task, _ := s.ClaimNext(ctx)
	if task == nil {
		t.Fatal("no task claimed")
	}

	if err := s.CompleteTask(ctx, task.ID, map[string]any{"count": 10}); err != nil {
		t.Fatal(err)
	}
	status, err := s.TaskStatus(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}

	id2, _ := s.Enqueue(ctx, store.TaskSearch, "other", 10, "dashboard")
	task2, _ := s.ClaimNext(ctx)
	if err := s.FailTask(ctx, task2.ID, "no results"); err != nil {
		t.Fatal(err)
	}
	if status, _ := s.TaskStatus(ctx, id2); status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}
}

func TestLogEvent_NeverFailsCaller(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Unmarshalable payload must degrade to "{}", not panic or error.
	s.LogEvent(ctx, store.EventSweepStarted, "", map[string]any{"bad": make(chan int)})
	s.LogEvent(ctx, store.EventSweepFinished, "abib", map[string]any{"ok": 1})

	events, err := s.RecentEvents(ctx, store.EventSweepFinished, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %v", events)
	}
}
