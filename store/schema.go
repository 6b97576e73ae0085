package store

// Schema contains the complete DDL for the tikrank tables. Apply it via
// dbopen.WithSchema(store.Schema) or embed it in your own schema management.
const Schema = `
-- Tracked search keywords. Soft-disabled via is_active, never hard-deleted
-- by the pipeline.
CREATE TABLE IF NOT EXISTS keywords (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    keyword TEXT NOT NULL UNIQUE,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

-- One scrape run for one keyword. Status machine:
-- pending -> running -> completed | failed, both terminal.
-- analysis is the change report, attached once after completion.
CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    keyword_id INTEGER NOT NULL REFERENCES keywords(id),
    keyword TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'running', 'completed', 'failed')),
    source TEXT NOT NULL DEFAULT 'on-demand'
        CHECK (source IN ('scheduled', 'on-demand', 'single')),
    requested_count INTEGER NOT NULL DEFAULT 0,
    video_count INTEGER,
    error TEXT,
    analysis TEXT,
    started_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_snapshots_keyword_status
    ON snapshots(keyword, status, completed_at DESC);

-- Ranked records belonging to one snapshot. Rank is dense 1..N; the
-- composite uniqueness plus the URL uniqueness enforce the snapshot
-- invariants at the storage layer.
CREATE TABLE IF NOT EXISTS snapshot_videos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id INTEGER NOT NULL REFERENCES snapshots(id),
    rank INTEGER NOT NULL,
    video_url TEXT NOT NULL,
    creator_id TEXT,
    creator_name TEXT,
    description TEXT,
    posted_date TEXT,
    likes TEXT,
    comments TEXT,
    bookmarks TEXT,
    shares TEXT,
    views TEXT,
    UNIQUE (snapshot_id, rank),
    UNIQUE (snapshot_id, video_url)
);
CREATE INDEX IF NOT EXISTS idx_snapshot_videos_snapshot
    ON snapshot_videos(snapshot_id, rank);

-- Work items posted by the dashboard and claimed by the polling worker.
-- Delivery is at-least-once: the pipeline tolerates duplicate claims for
-- the same logical request.
CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL DEFAULT 'search' CHECK (type IN ('search', 'run_all')),
    keyword TEXT,
    top_n INTEGER NOT NULL DEFAULT 10,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'running', 'completed', 'failed')),
    requested_by TEXT NOT NULL DEFAULT 'dashboard',
    result TEXT,
    error TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    started_at INTEGER,
    completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_created
    ON tasks(status, created_at);

-- Append-only run events powering the dashboard history view.
CREATE TABLE IF NOT EXISTS run_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    keyword TEXT,
    payload TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_run_events_type_time
    ON run_events(event_type, created_at DESC);
`
