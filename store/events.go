package store

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// Run event types recorded for the dashboard history view.
const (
	EventSweepStarted    = "sweep_started"
	EventSweepFinished   = "sweep_finished"
	EventKeywordScraped  = "keyword_scraped"
	EventKeywordFailed   = "keyword_failed"
	EventCaptchaDetected = "captcha_detected"
)

// LogEvent appends a run event. Non-blocking for the pipeline: failures are
// logged via slog and swallowed — a broken history view must never abort a
// scrape in progress.
func (s *Store) LogEvent(ctx context.Context, eventType, keyword string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("store: marshal event payload", "event_type", eventType, "error", err)
		data = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_events (event_id, event_type, keyword, payload)
		VALUES (?, ?, ?, ?)`,
		"evt_"+uuid.NewString(), eventType, keyword, string(data))
	if err != nil {
		slog.Warn("store: event log failed", "event_type", eventType, "error", err)
	}
}

// RecentEvents returns the latest events of one type, newest first.
func (s *Store) RecentEvents(ctx context.Context, eventType string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM run_events WHERE event_type = ?
		ORDER BY created_at DESC, event_id LIMIT ?`, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
