// Package store provides SQLite-backed persistence for collection
// sessions, the wiki page snapshot, and the suggestion feed cache.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Register the sqlite database/sql driver.
)

// Item kinds stored in session_items.kind.
const (
	ItemKindArticle = "article"
	ItemKindChapter = "chapter"
)

// Open is part of the store package API.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite behaves best with a single connection for this workload.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;")
	if err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return db, nil
}

// Init is part of the store package API.
func Init(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS session_items (
	session_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	kind TEXT NOT NULL DEFAULT 'article',
	title TEXT NOT NULL,
	revision_id INTEGER NOT NULL DEFAULT 0,
	added_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, position),
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pages (
	namespace INTEGER NOT NULL,
	title TEXT NOT NULL,
	latest_rev_id INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (namespace, title)
);

CREATE TABLE IF NOT EXISTS page_categories (
	namespace INTEGER NOT NULL,
	title TEXT NOT NULL,
	category TEXT NOT NULL,
	PRIMARY KEY (namespace, title, category),
	FOREIGN KEY (namespace, title) REFERENCES pages(namespace, title) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS page_categories_by_category
ON page_categories(category);

CREATE TABLE IF NOT EXISTS feed_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	etag TEXT,
	last_modified TEXT,
	last_checked_at DATETIME,
	last_error TEXT,
	unchanged_count INTEGER NOT NULL DEFAULT 0,
	next_refresh_at DATETIME
);

CREATE TABLE IF NOT EXISTS feed_entries (
	guid TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	link TEXT NOT NULL,
	summary TEXT,
	published_at DATETIME,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS suggestion_bans (
	session_id TEXT NOT NULL,
	title TEXT NOT NULL,
	banned_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, title),
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
`

	_, err := db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	return nil
}

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID        string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionSummary is a session row with its article count, for listings.
type SessionSummary struct {
	ID        string
	Enabled   bool
	Articles  int
	UpdatedAt time.Time
}

// ItemRecord is one member row of a session, ordered by Position.
type ItemRecord struct {
	Position   int
	Kind       string
	Title      string
	RevisionID int64
	AddedAt    time.Time
}

// CreateSession is part of the store package API.
func CreateSession(ctx context.Context, db *sql.DB, id string) error {
	ctx = contextOrBackground(ctx)

	now := time.Now().UTC()

	_, err := db.ExecContext(ctx, `
INSERT INTO sessions (id, enabled, created_at, updated_at)
VALUES (?, 1, ?, ?)
ON CONFLICT(id) DO UPDATE SET enabled = 1, updated_at = excluded.updated_at
`, id, now, now)
	if err != nil {
		return fmt.Errorf("create session row: %w", err)
	}

	slog.Info("db create session", "session_id", id)

	return nil
}

// GetSession is part of the store package API. A missing id surfaces
// as sql.ErrNoRows for callers to branch on.
func GetSession(ctx context.Context, db *sql.DB, id string) (SessionRecord, error) {
	ctx = contextOrBackground(ctx)

	var (
		record  SessionRecord
		enabled int
	)

	err := db.QueryRowContext(ctx, `
SELECT id, enabled, created_at, updated_at
FROM sessions
WHERE id = ?
`, id).Scan(&record.ID, &enabled, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("scan session %s: %w", id, err)
	}

	record.Enabled = enabled != 0

	return record, nil
}

// SetSessionEnabled is part of the store package API.
func SetSessionEnabled(ctx context.Context, db *sql.DB, id string, enabled bool) error {
	ctx = contextOrBackground(ctx)

	value := 0
	if enabled {
		value = 1
	}

	_, err := db.ExecContext(ctx, `
UPDATE sessions SET enabled = ?, updated_at = ? WHERE id = ?
`, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set session %s enabled: %w", id, err)
	}

	return nil
}

// DeleteSessionsIdleSince is part of the store package API. It removes
// sessions whose last mutation predates the cutoff and returns how
// many were dropped.
func DeleteSessionsIdleSince(db *sql.DB, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(context.Background(), `
DELETE FROM sessions WHERE updated_at <= ?
`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted idle sessions: %w", err)
	}

	if deleted > 0 {
		slog.Info("cleanup idle sessions", "deleted", deleted)
	}

	return deleted, nil
}

// ListSessions is part of the store package API.
func ListSessions(ctx context.Context, db *sql.DB) ([]SessionSummary, error) {
	ctx = contextOrBackground(ctx)

	rows, err := db.QueryContext(ctx, `
SELECT s.id, s.enabled,
       (SELECT COUNT(*) FROM session_items i
        WHERE i.session_id = s.id AND i.kind = ?) AS articles,
       s.updated_at
FROM sessions s
ORDER BY s.updated_at DESC
`, ItemKindArticle)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var sessions []SessionSummary

	for rows.Next() {
		var (
			summary SessionSummary
			enabled int
		)

		scanErr := rows.Scan(&summary.ID, &enabled, &summary.Articles, &summary.UpdatedAt)
		if scanErr != nil {
			return nil, fmt.Errorf("scan session row: %w", scanErr)
		}

		summary.Enabled = enabled != 0
		sessions = append(sessions, summary)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate session rows: %w", rowsErr)
	}

	slog.Info("db list sessions", "count", len(sessions))

	return sessions, nil
}

// ListItems is part of the store package API.
func ListItems(ctx context.Context, db *sql.DB, sessionID string) ([]ItemRecord, error) {
	ctx = contextOrBackground(ctx)

	rows, err := db.QueryContext(ctx, `
SELECT position, kind, title, revision_id, added_at
FROM session_items
WHERE session_id = ?
ORDER BY position ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query items for session %s: %w", sessionID, err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var items []ItemRecord

	for rows.Next() {
		var item ItemRecord

		scanErr := rows.Scan(&item.Position, &item.Kind, &item.Title, &item.RevisionID, &item.AddedAt)
		if scanErr != nil {
			return nil, fmt.Errorf("scan item row: %w", scanErr)
		}

		items = append(items, item)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate items for session %s: %w", sessionID, rowsErr)
	}

	return items, nil
}

// AddItem is part of the store package API. Articles are deduplicated
// on (title, revision id); re-adding one reports its existing
// position with added = false.
func AddItem(ctx context.Context, db *sql.DB, sessionID, kind, title string, revisionID int64) (int, bool, error) {
	ctx = contextOrBackground(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin add item transaction: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	if kind == ItemKindArticle {
		var existing int

		lookupErr := tx.QueryRowContext(ctx, `
SELECT position FROM session_items
WHERE session_id = ? AND kind = ? AND title = ? AND revision_id = ?
`, sessionID, kind, title, revisionID).Scan(&existing)
		if lookupErr == nil {
			return existing, false, nil
		}

		if !errors.Is(lookupErr, sql.ErrNoRows) {
			return 0, false, fmt.Errorf("check existing item: %w", lookupErr)
		}
	}

	var position int

	err = tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM session_items WHERE session_id = ?
`, sessionID).Scan(&position)
	if err != nil {
		return 0, false, fmt.Errorf("count session items: %w", err)
	}

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
INSERT INTO session_items (session_id, position, kind, title, revision_id, added_at)
VALUES (?, ?, ?, ?, ?, ?)
`, sessionID, position, kind, title, revisionID, now)
	if err != nil {
		return 0, false, fmt.Errorf("insert session item: %w", err)
	}

	err = touchSessionTx(ctx, tx, sessionID, now)
	if err != nil {
		return 0, false, err
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return 0, false, fmt.Errorf("commit add item transaction: %w", commitErr)
	}

	committed = true

	slog.Info("db add item", "session_id", sessionID, "kind", kind, "title", title, "position", position)

	return position, true, nil
}

// RemoveItem is part of the store package API. It deletes the first
// article matching (title, revision id), re-packs the remaining
// positions, and reports whether anything was removed.
func RemoveItem(ctx context.Context, db *sql.DB, sessionID, title string, revisionID int64) (bool, error) {
	ctx = contextOrBackground(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin remove item transaction: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	var position int

	err = tx.QueryRowContext(ctx, `
SELECT position FROM session_items
WHERE session_id = ? AND kind = ? AND title = ? AND revision_id = ?
ORDER BY position ASC
LIMIT 1
`, sessionID, ItemKindArticle, title, revisionID).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("lookup item to remove: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
DELETE FROM session_items WHERE session_id = ? AND position = ?
`, sessionID, position)
	if err != nil {
		return false, fmt.Errorf("delete session item: %w", err)
	}

	err = repackItemPositions(ctx, tx, sessionID)
	if err != nil {
		return false, err
	}

	err = touchSessionTx(ctx, tx, sessionID, time.Now().UTC())
	if err != nil {
		return false, err
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return false, fmt.Errorf("commit remove item transaction: %w", commitErr)
	}

	committed = true

	slog.Info("db remove item", "session_id", sessionID, "title", title, "position", position)

	return true, nil
}

// ClearItems is part of the store package API.
func ClearItems(ctx context.Context, db *sql.DB, sessionID string) error {
	ctx = contextOrBackground(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear items transaction: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	_, err = tx.ExecContext(ctx, "DELETE FROM session_items WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("clear session items: %w", err)
	}

	err = touchSessionTx(ctx, tx, sessionID, time.Now().UTC())
	if err != nil {
		return err
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("commit clear items transaction: %w", commitErr)
	}

	committed = true

	return nil
}

// ReplaceItems is part of the store package API. It swaps the whole
// member list in one transaction, used by outline import.
func ReplaceItems(ctx context.Context, db *sql.DB, sessionID string, items []ItemRecord) error {
	ctx = contextOrBackground(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace items transaction: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	_, err = tx.ExecContext(ctx, "DELETE FROM session_items WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("clear session items: %w", err)
	}

	now := time.Now().UTC()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO session_items (session_id, position, kind, title, revision_id, added_at)
VALUES (?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare item insert statement: %w", err)
	}

	defer func() {
		closeErr := stmt.Close()
		if closeErr != nil {
			slog.Warn("stmt close failed", "err", closeErr)
		}
	}()

	for idx, item := range items {
		kind := item.Kind
		if kind == "" {
			kind = ItemKindArticle
		}

		_, execErr := stmt.ExecContext(ctx, sessionID, idx, kind, item.Title, item.RevisionID, now)
		if execErr != nil {
			return fmt.Errorf("execute item insert statement: %w", execErr)
		}
	}

	err = touchSessionTx(ctx, tx, sessionID, now)
	if err != nil {
		return err
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("commit replace items transaction: %w", commitErr)
	}

	committed = true

	slog.Info("db replace items", "session_id", sessionID, "count", len(items))

	return nil
}

// repackItemPositions rewrites positions to a dense 0..n-1 run.
// Ascending order keeps each update moving into a vacated slot, which
// the primary key would otherwise reject.
func repackItemPositions(ctx context.Context, tx *sql.Tx, sessionID string) error {
	rows, err := tx.QueryContext(ctx, `
SELECT position FROM session_items
WHERE session_id = ?
ORDER BY position ASC
`, sessionID)
	if err != nil {
		return fmt.Errorf("query item positions: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var positions []int

	for rows.Next() {
		var position int

		scanErr := rows.Scan(&position)
		if scanErr != nil {
			return fmt.Errorf("scan item position: %w", scanErr)
		}

		positions = append(positions, position)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return fmt.Errorf("iterate item positions: %w", rowsErr)
	}

	stmt, err := tx.PrepareContext(ctx, `
UPDATE session_items SET position = ? WHERE session_id = ? AND position = ?
`)
	if err != nil {
		return fmt.Errorf("prepare position update statement: %w", err)
	}

	defer func() {
		closeErr := stmt.Close()
		if closeErr != nil {
			slog.Warn("stmt close failed", "err", closeErr)
		}
	}()

	for idx, old := range positions {
		if idx == old {
			continue
		}

		_, execErr := stmt.ExecContext(ctx, idx, sessionID, old)
		if execErr != nil {
			return fmt.Errorf("execute position update statement: %w", execErr)
		}
	}

	return nil
}

func touchSessionTx(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", now, sessionID)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}

	return nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}

	return ctx
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	return value
}

func nullTimeToValue(value sql.NullTime) any {
	if value.Valid {
		return value.Time
	}

	return nil
}

func rollbackTx(tx *sql.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("tx rollback failed", "err", err)
	}
}
