package watch

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evsys/tikrank/dbopen"
	_ "modernc.org/sqlite"
)

// countingDetector returns a Detector that yields the values in seq, then
// keeps repeating the last one.
func countingDetector(seq ...int64) Detector {
	var i atomic.Int64
	return func(context.Context, *sql.DB) (int64, error) {
		n := i.Add(1) - 1
		if int(n) >= len(seq) {
			return seq[len(seq)-1], nil
		}
		return seq[n], nil
	}
}

func runWatcher(t *testing.T, w *Watcher, action func() error, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	w.OnChange(ctx, action)
}

func TestOnChangeFiresOnNewVersion(t *testing.T) {
	w := New(nil, Options{
		Interval: 2 * time.Millisecond,
		Detector: countingDetector(1, 1, 2, 2, 3),
	})

	var fired atomic.Int64
	runWatcher(t, w, func() error { fired.Add(1); return nil }, 100*time.Millisecond)

	if got := fired.Load(); got != 2 {
		t.Fatalf("action fired %d times, want 2 (versions 2 and 3)", got)
	}
	if w.Version() != 3 {
		t.Fatalf("Version = %d, want 3", w.Version())
	}
	if s := w.Stats(); s.Changes != 2 || s.Errors != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestOnChangeRetriesAfterActionError(t *testing.T) {
	w := New(nil, Options{
		Interval: 2 * time.Millisecond,
		Detector: countingDetector(1, 2),
	})

	var calls atomic.Int64
	runWatcher(t, w, func() error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}, 100*time.Millisecond)

	// The failed action must not advance the version, so version 2 is
	// retried until it succeeds.
	if calls.Load() < 2 {
		t.Fatalf("action called %d times, want a retry", calls.Load())
	}
	if w.Version() != 2 {
		t.Fatalf("Version = %d, want 2", w.Version())
	}
}

func TestOnChangeStopsOnCancel(t *testing.T) {
	w := New(nil, Options{
		Interval: time.Millisecond,
		Detector: countingDetector(1),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.OnChange(ctx, func() error { return nil })
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnChange did not return after cancel")
	}
}

func TestMaxColumnDetector(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`
		CREATE TABLE jobs (id INTEGER PRIMARY KEY, body TEXT)`))

	det := MaxColumn("jobs", "id")
	ctx := context.Background()

	v, err := det(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("empty table version = %d, want 0", v)
	}

	if _, err := db.Exec(`INSERT INTO jobs (body) VALUES ('a'), ('b')`); err != nil {
		t.Fatal(err)
	}
	v, err = det(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("version = %d, want 2", v)
	}
}

func TestDataVersionReadable(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if _, err := DataVersion(context.Background(), db); err != nil {
		t.Fatalf("DataVersion: %v", err)
	}
}
