package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// PageRecord is one row of the wiki page snapshot.
type PageRecord struct {
	Namespace   int
	Title       string
	LatestRevID int64
	UpdatedAt   time.Time
	Categories  []string
}

// UpsertPage is part of the store package API. It replaces the page
// row and its category memberships in one transaction.
func UpsertPage(ctx context.Context, db *sql.DB, record PageRecord) error {
	ctx = contextOrBackground(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert page transaction: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
INSERT INTO pages (namespace, title, latest_rev_id, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(namespace, title) DO UPDATE SET
	latest_rev_id = excluded.latest_rev_id,
	updated_at = excluded.updated_at
`, record.Namespace, record.Title, record.LatestRevID, now)
	if err != nil {
		return fmt.Errorf("upsert page row: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
DELETE FROM page_categories WHERE namespace = ? AND title = ?
`, record.Namespace, record.Title)
	if err != nil {
		return fmt.Errorf("clear page categories: %w", err)
	}

	if len(record.Categories) > 0 {
		stmt, prepErr := tx.PrepareContext(ctx, `
INSERT INTO page_categories (namespace, title, category)
VALUES (?, ?, ?)
ON CONFLICT(namespace, title, category) DO NOTHING
`)
		if prepErr != nil {
			return fmt.Errorf("prepare category insert statement: %w", prepErr)
		}

		defer func() {
			closeErr := stmt.Close()
			if closeErr != nil {
				slog.Warn("stmt close failed", "err", closeErr)
			}
		}()

		for _, category := range record.Categories {
			_, execErr := stmt.ExecContext(ctx, record.Namespace, record.Title, category)
			if execErr != nil {
				return fmt.Errorf("execute category insert statement: %w", execErr)
			}
		}
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("commit upsert page transaction: %w", commitErr)
	}

	committed = true

	slog.Info("db upsert page", "namespace", record.Namespace, "title", record.Title, "rev", record.LatestRevID)

	return nil
}

// GetPage is part of the store package API. A missing page surfaces
// as sql.ErrNoRows for callers to branch on.
func GetPage(ctx context.Context, db *sql.DB, namespace int, title string) (PageRecord, error) {
	ctx = contextOrBackground(ctx)

	var record PageRecord

	err := db.QueryRowContext(ctx, `
SELECT namespace, title, latest_rev_id, updated_at
FROM pages
WHERE namespace = ? AND title = ?
`, namespace, title).Scan(&record.Namespace, &record.Title, &record.LatestRevID, &record.UpdatedAt)
	if err != nil {
		return PageRecord{}, fmt.Errorf("scan page %d:%s: %w", namespace, title, err)
	}

	return record, nil
}

// DeletePage is part of the store package API.
func DeletePage(ctx context.Context, db *sql.DB, namespace int, title string) error {
	ctx = contextOrBackground(ctx)

	_, err := db.ExecContext(ctx, `
DELETE FROM pages WHERE namespace = ? AND title = ?
`, namespace, title)
	if err != nil {
		return fmt.Errorf("delete page %d:%s: %w", namespace, title, err)
	}

	return nil
}

// ListPages is part of the store package API.
func ListPages(ctx context.Context, db *sql.DB, limit int) ([]PageRecord, error) {
	ctx = contextOrBackground(ctx)

	if limit <= 0 {
		limit = 100
	}

	rows, err := db.QueryContext(ctx, `
SELECT namespace, title, latest_rev_id, updated_at
FROM pages
ORDER BY namespace ASC, title ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var pages []PageRecord

	for rows.Next() {
		var record PageRecord

		scanErr := rows.Scan(&record.Namespace, &record.Title, &record.LatestRevID, &record.UpdatedAt)
		if scanErr != nil {
			return nil, fmt.Errorf("scan page row: %w", scanErr)
		}

		pages = append(pages, record)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate page rows: %w", rowsErr)
	}

	slog.Info("db list pages", "count", len(pages))

	return pages, nil
}

// ListPageCategories is part of the store package API.
func ListPageCategories(ctx context.Context, db *sql.DB, namespace int, title string) ([]string, error) {
	ctx = contextOrBackground(ctx)

	rows, err := db.QueryContext(ctx, `
SELECT category FROM page_categories
WHERE namespace = ? AND title = ?
ORDER BY category ASC
`, namespace, title)
	if err != nil {
		return nil, fmt.Errorf("query categories for page %d:%s: %w", namespace, title, err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var categories []string

	for rows.Next() {
		var category string

		scanErr := rows.Scan(&category)
		if scanErr != nil {
			return nil, fmt.Errorf("scan category row: %w", scanErr)
		}

		categories = append(categories, category)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate category rows: %w", rowsErr)
	}

	return categories, nil
}

// ListCategoryMembers is part of the store package API. It returns
// the snapshot pages tagged with the category, oldest titles first.
func ListCategoryMembers(ctx context.Context, db *sql.DB, category string, limit int) ([]PageRecord, error) {
	ctx = contextOrBackground(ctx)

	if limit <= 0 {
		limit = 200
	}

	rows, err := db.QueryContext(ctx, `
SELECT p.namespace, p.title, p.latest_rev_id, p.updated_at
FROM pages p
JOIN page_categories c ON c.namespace = p.namespace AND c.title = p.title
WHERE c.category = ?
ORDER BY p.title ASC
LIMIT ?
`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("query members of category %s: %w", category, err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var members []PageRecord

	for rows.Next() {
		var record PageRecord

		scanErr := rows.Scan(&record.Namespace, &record.Title, &record.LatestRevID, &record.UpdatedAt)
		if scanErr != nil {
			return nil, fmt.Errorf("scan category member row: %w", scanErr)
		}

		members = append(members, record)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate members of category %s: %w", category, rowsErr)
	}

	slog.Info("db list category members", "category", category, "count", len(members))

	return members, nil
}

// CountPages is part of the store package API.
func CountPages(ctx context.Context, db *sql.DB) (int, error) {
	ctx = contextOrBackground(ctx)

	var count int

	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}

	return count, nil
}
