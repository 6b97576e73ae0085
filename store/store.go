// Package store persists keywords, snapshots, ranked video records, change
// reports, and the task queue in SQLite. It is the single collaborator the
// scrape pipeline writes to.
//
// The pipeline needs no multi-statement transactional guarantees beyond
// "create snapshot" and "mark terminal" being individually atomic; record
// batches are written in one transaction anyway so a crash never leaves a
// half-populated completed snapshot.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evsys/tikrank/dbopen"
	"github.com/evsys/tikrank/diff"
	"github.com/evsys/tikrank/video"
)

// Provenance tags who initiated a snapshot.
type Provenance string

const (
	Scheduled Provenance = "scheduled" // daily sweep
	OnDemand  Provenance = "on-demand" // dashboard task
	Single    Provenance = "single"    // one-off CLI run
)

// Keyword is a tracked search term.
type Keyword struct {
	ID      int64
	Keyword string
	Active  bool
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a Store over an opened database. The schema must already be
// applied (dbopen.WithSchema(Schema)).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureKeyword registers a keyword if it is new and returns its id. An
// existing keyword keeps its active flag; only updated_at is touched.
func (s *Store) EnsureKeyword(ctx context.Context, keyword string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO keywords (keyword) VALUES (?)
		ON CONFLICT(keyword) DO UPDATE SET updated_at = strftime('%s', 'now')
		RETURNING id`, keyword).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: ensure keyword %q: %w", keyword, err)
	}
	return id, nil
}

// ActiveKeywords returns all active keywords in stable id order, which is
// the order the sweep visits them in.
func (s *Store) ActiveKeywords(ctx context.Context) ([]Keyword, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, keyword, is_active FROM keywords
		WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: active keywords: %w", err)
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var k Keyword
		var active int
		if err := rows.Scan(&k.ID, &k.Keyword, &active); err != nil {
			return nil, fmt.Errorf("store: scan keyword: %w", err)
		}
		k.Active = active == 1
		out = append(out, k)
	}
	return out, rows.Err()
}

// SetKeywordActive soft-enables or soft-disables a keyword.
func (s *Store) SetKeywordActive(ctx context.Context, id int64, active bool) error {
	v := 0
	if active {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE keywords SET is_active = ?, updated_at = strftime('%s', 'now')
		WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("store: set keyword active: %w", err)
	}
	return nil
}

// TouchKeyword refreshes updated_at after a successful scrape.
func (s *Store) TouchKeyword(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE keywords SET updated_at = strftime('%s', 'now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: touch keyword: %w", err)
	}
	return nil
}

// CreateSnapshot opens a pending snapshot for a keyword and returns its id.
func (s *Store) CreateSnapshot(ctx context.Context, keywordID int64, keyword string, source Provenance, requested int) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO snapshots (keyword_id, keyword, status, source, requested_count)
		VALUES (?, ?, 'pending', ?, ?)
		RETURNING id`, keywordID, keyword, string(source), requested).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: create snapshot: %w", err)
	}
	return id, nil
}

// StartSnapshot transitions pending -> running.
func (s *Store) StartSnapshot(ctx context.Context, id int64) error {
	return s.transition(ctx, id, `
		UPDATE snapshots SET status = 'running'
		WHERE id = ? AND status = 'pending'`, "start")
}

// AppendRecords writes a snapshot's ranked records in one transaction.
// The schema rejects duplicate ranks and duplicate URLs within a snapshot.
func (s *Store) AppendRecords(ctx context.Context, snapshotID int64, records []video.Record) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO snapshot_videos
			(snapshot_id, rank, video_url, creator_id, creator_name,
			 description, posted_date, likes, comments, bookmarks, shares, views)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare append: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, snapshotID, r.Rank, r.URL,
				r.CreatorID, r.CreatorName, r.Description, r.PostedDate,
				r.Likes, r.Comments, r.Bookmarks, r.Shares, r.Views); err != nil {
				return fmt.Errorf("store: append rank %d: %w", r.Rank, err)
			}
		}
		return nil
	})
}

// MarkCompleted transitions running -> completed and records the achieved
// count. Completed snapshots are immutable except for the one-time change
// report attachment.
func (s *Store) MarkCompleted(ctx context.Context, id int64, count int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET status = 'completed', video_count = ?,
			completed_at = strftime('%s', 'now')
		WHERE id = ? AND status = 'running'`, count, id)
	if err != nil {
		return fmt.Errorf("store: complete snapshot %d: %w", id, err)
	}
	return s.checkTransition(res, id, "complete")
}

// MarkFailed transitions pending|running -> failed with the raw error text.
func (s *Store) MarkFailed(ctx context.Context, id int64, errText string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET status = 'failed', error = ?,
			completed_at = strftime('%s', 'now')
		WHERE id = ? AND status IN ('pending', 'running')`, errText, id)
	if err != nil {
		return fmt.Errorf("store: fail snapshot %d: %w", id, err)
	}
	return s.checkTransition(res, id, "fail")
}

// AttachChangeReport stores the diff report on a completed snapshot. It is a
// one-time enrichment: a second attach for the same snapshot is rejected.
func (s *Store) AttachChangeReport(ctx context.Context, id int64, report *diff.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("store: marshal report: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET analysis = ?
		WHERE id = ? AND status = 'completed' AND analysis IS NULL`, string(data), id)
	if err != nil {
		return fmt.Errorf("store: attach report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: attach report: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: snapshot %d not completed or report already attached", id)
	}
	return nil
}

// ChangeReport loads the attached report, or nil if none was attached.
func (s *Store) ChangeReport(ctx context.Context, id int64) (*diff.Report, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT analysis FROM snapshots WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("store: load report: %w", err)
	}
	if !data.Valid {
		return nil, nil
	}
	var r diff.Report
	if err := json.Unmarshal([]byte(data.String), &r); err != nil {
		return nil, fmt.Errorf("store: unmarshal report: %w", err)
	}
	return &r, nil
}

// Records returns a snapshot's records ordered by rank.
func (s *Store) Records(ctx context.Context, snapshotID int64) ([]video.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rank, video_url, creator_id, creator_name, description,
		       posted_date, likes, comments, bookmarks, shares, views
		FROM snapshot_videos WHERE snapshot_id = ? ORDER BY rank`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("store: records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// LatestCompletedBefore finds the comparison baseline for a diff: the last
// completed snapshot for the keyword with a nonzero count whose completion
// falls on a strictly earlier calendar day (local time) than ref. Intraday
// re-polls therefore never become the baseline; the day-over-day report
// always compares against the previous day's final snapshot. The bool is
// false when the keyword has no qualifying prior snapshot.
func (s *Store) LatestCompletedBefore(ctx context.Context, keyword string, ref time.Time) ([]video.Record, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM snapshots
		WHERE keyword = ? AND status = 'completed' AND video_count > 0
		  AND date(completed_at, 'unixepoch', 'localtime')
		      < date(?, 'unixepoch', 'localtime')
		ORDER BY completed_at DESC LIMIT 1`, keyword, ref.Unix()).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: latest completed before: %w", err)
	}

	recs, err := s.Records(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return recs, true, nil
}

func scanRecords(rows *sql.Rows) ([]video.Record, error) {
	var out []video.Record
	for rows.Next() {
		var r video.Record
		if err := rows.Scan(&r.Rank, &r.URL, &r.CreatorID, &r.CreatorName,
			&r.Description, &r.PostedDate, &r.Likes, &r.Comments,
			&r.Bookmarks, &r.Shares, &r.Views); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) transition(ctx context.Context, id int64, query, verb string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: %s snapshot %d: %w", verb, id, err)
	}
	return s.checkTransition(res, id, verb)
}

// checkTransition turns a zero-row UPDATE into an explicit error: terminal
// snapshot states are frozen and illegal transitions must not pass silently.
func (s *Store) checkTransition(res sql.Result, id int64, verb string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s snapshot %d: %w", verb, id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: cannot %s snapshot %d: not in an eligible state", verb, id)
	}
	return nil
}
