package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Entries kept in the feed cache before the oldest are pruned.
const feedEntryLimit = 200

// FeedState is the conditional-GET cache row for the changes feed.
// The store keeps exactly one row (id = 1).
type FeedState struct {
	ETag           string
	LastModified   string
	LastCheckedAt  time.Time
	LastError      string
	UnchangedCount int
	NextRefreshAt  time.Time
}

// EntryRecord is one cached changes-feed entry.
type EntryRecord struct {
	GUID        string
	Title       string
	Link        string
	SummaryHTML string
	PublishedAt time.Time
}

// GetFeedState is part of the store package API. It returns a zero
// state when the feed has never been fetched.
func GetFeedState(ctx context.Context, db *sql.DB) (FeedState, error) {
	ctx = contextOrBackground(ctx)

	var (
		state        FeedState
		etag         sql.NullString
		lastModified sql.NullString
		lastChecked  sql.NullTime
		lastError    sql.NullString
		nextRefresh  sql.NullTime
	)

	err := db.QueryRowContext(ctx, `
SELECT etag, last_modified, last_checked_at, last_error, unchanged_count, next_refresh_at
FROM feed_state
WHERE id = 1
`).Scan(&etag, &lastModified, &lastChecked, &lastError, &state.UnchangedCount, &nextRefresh)
	if errors.Is(err, sql.ErrNoRows) {
		return FeedState{}, nil
	}

	if err != nil {
		return FeedState{}, fmt.Errorf("scan feed state: %w", err)
	}

	state.ETag = fallbackString(etag, "")
	state.LastModified = fallbackString(lastModified, "")
	state.LastError = fallbackString(lastError, "")

	if lastChecked.Valid {
		state.LastCheckedAt = lastChecked.Time
	}

	if nextRefresh.Valid {
		state.NextRefreshAt = nextRefresh.Time
	}

	return state, nil
}

// SaveFeedState is part of the store package API.
func SaveFeedState(ctx context.Context, db *sql.DB, state FeedState) error {
	ctx = contextOrBackground(ctx)

	var lastChecked, nextRefresh sql.NullTime

	if !state.LastCheckedAt.IsZero() {
		lastChecked = sql.NullTime{Time: state.LastCheckedAt.UTC(), Valid: true}
	}

	if !state.NextRefreshAt.IsZero() {
		nextRefresh = sql.NullTime{Time: state.NextRefreshAt.UTC(), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
INSERT INTO feed_state (id, etag, last_modified, last_checked_at, last_error, unchanged_count, next_refresh_at)
VALUES (1, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	etag = excluded.etag,
	last_modified = excluded.last_modified,
	last_checked_at = excluded.last_checked_at,
	last_error = excluded.last_error,
	unchanged_count = excluded.unchanged_count,
	next_refresh_at = excluded.next_refresh_at
`, nullString(state.ETag), nullString(state.LastModified), nullTimeToValue(lastChecked),
		nullString(state.LastError), state.UnchangedCount, nullTimeToValue(nextRefresh))
	if err != nil {
		return fmt.Errorf("save feed state: %w", err)
	}

	return nil
}

// UpsertEntries is part of the store package API. It inserts entries
// that are new by GUID, leaves known ones untouched, and returns how
// many rows were new. The new-row count feeds the refresh backoff.
func UpsertEntries(ctx context.Context, db *sql.DB, entries []EntryRecord) (int, error) {
	ctx = contextOrBackground(ctx)

	if len(entries) == 0 {
		return 0, nil
	}

	stmt, err := db.PrepareContext(ctx, `
INSERT OR IGNORE INTO feed_entries (guid, title, link, summary, published_at, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return 0, fmt.Errorf("prepare entry insert statement: %w", err)
	}

	defer func() {
		closeErr := stmt.Close()
		if closeErr != nil {
			slog.Warn("stmt close failed", "err", closeErr)
		}
	}()

	now := time.Now().UTC()
	inserted := 0

	for _, entry := range entries {
		var published any
		if !entry.PublishedAt.IsZero() {
			published = entry.PublishedAt.UTC()
		}

		result, execErr := stmt.ExecContext(ctx, entry.GUID, entry.Title, entry.Link,
			nullString(entry.SummaryHTML), published, now)
		if execErr != nil {
			return inserted, fmt.Errorf("execute entry insert statement: %w", execErr)
		}

		affected, affectedErr := result.RowsAffected()
		if affectedErr != nil {
			return inserted, fmt.Errorf("count inserted entry rows: %w", affectedErr)
		}

		if affected > 0 {
			inserted++
		}
	}

	slog.Info("db insert feed entries", "total", len(entries), "new", inserted)

	return inserted, nil
}

// EnforceEntryLimit is part of the store package API. It prunes the
// oldest cached entries beyond the retention cap.
func EnforceEntryLimit(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), `
DELETE FROM feed_entries
WHERE guid NOT IN (
	SELECT guid FROM feed_entries
	ORDER BY published_at DESC, created_at DESC
	LIMIT ?
)
`, feedEntryLimit)
	if err != nil {
		return fmt.Errorf("enforce feed entry limit: %w", err)
	}

	return nil
}

// ListProposals is part of the store package API. It returns cached
// entries that are neither members of the session nor banned from it,
// newest first.
func ListProposals(ctx context.Context, db *sql.DB, sessionID string, limit int) ([]EntryRecord, error) {
	ctx = contextOrBackground(ctx)

	if limit <= 0 {
		limit = 20
	}

	rows, err := db.QueryContext(ctx, `
SELECT e.guid, e.title, e.link, e.summary, e.published_at
FROM feed_entries e
WHERE e.title NOT IN (
	SELECT title FROM session_items WHERE session_id = ?
)
AND e.title NOT IN (
	SELECT title FROM suggestion_bans WHERE session_id = ?
)
ORDER BY e.published_at DESC, e.created_at DESC
LIMIT ?
`, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query proposals for session %s: %w", sessionID, err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var proposals []EntryRecord

	for rows.Next() {
		var (
			entry     EntryRecord
			summary   sql.NullString
			published sql.NullTime
		)

		scanErr := rows.Scan(&entry.GUID, &entry.Title, &entry.Link, &summary, &published)
		if scanErr != nil {
			return nil, fmt.Errorf("scan proposal row: %w", scanErr)
		}

		entry.SummaryHTML = fallbackString(summary, "")

		if published.Valid {
			entry.PublishedAt = published.Time
		}

		proposals = append(proposals, entry)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate proposal rows: %w", rowsErr)
	}

	slog.Info("db list proposals", "session_id", sessionID, "count", len(proposals))

	return proposals, nil
}

// BanSuggestion is part of the store package API. Banned titles never
// reappear in the session's proposals.
func BanSuggestion(ctx context.Context, db *sql.DB, sessionID, title string) error {
	ctx = contextOrBackground(ctx)

	_, err := db.ExecContext(ctx, `
INSERT INTO suggestion_bans (session_id, title, banned_at)
VALUES (?, ?, ?)
ON CONFLICT(session_id, title) DO NOTHING
`, sessionID, title, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ban suggestion %s: %w", title, err)
	}

	return nil
}

// ListBans is part of the store package API.
func ListBans(ctx context.Context, db *sql.DB, sessionID string) ([]string, error) {
	ctx = contextOrBackground(ctx)

	rows, err := db.QueryContext(ctx, `
SELECT title FROM suggestion_bans
WHERE session_id = ?
ORDER BY banned_at ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query bans for session %s: %w", sessionID, err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var titles []string

	for rows.Next() {
		var title string

		scanErr := rows.Scan(&title)
		if scanErr != nil {
			return nil, fmt.Errorf("scan ban row: %w", scanErr)
		}

		titles = append(titles, title)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate ban rows: %w", rowsErr)
	}

	return titles, nil
}

func fallbackString(value sql.NullString, fallback string) string {
	if value.Valid {
		return value.String
	}

	return fallback
}
