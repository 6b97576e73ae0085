package store

import (
	"testing"
	"time"
)

// Backdate rewrites a snapshot's completion time so tests can place it on a
// chosen calendar day. Test-only: production code never edits timestamps.
func (s *Store) Backdate(t testing.TB, id int64, at time.Time) {
	t.Helper()
	if _, err := s.db.Exec(
		`UPDATE snapshots SET completed_at = ? WHERE id = ?`, at.Unix(), id); err != nil {
		t.Fatalf("backdate snapshot %d: %v", id, err)
	}
}
