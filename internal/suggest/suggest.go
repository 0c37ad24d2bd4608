// Package suggest maintains the suggestion pool behind the book
// creator's "Suggest pages" surface. It mirrors the wiki's
// recent-changes feed into the local cache with conditional GETs and
// backs off while the feed stays unchanged.
package suggest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"bindery/internal/content"
	"bindery/internal/store"
)

const (
	RefreshInterval     = 20 * time.Minute
	RefreshLoopInterval = 30 * time.Second
	refreshBackoffMax   = 12 * time.Hour
	refreshJitterMin    = 0.10
	refreshJitterMax    = 0.20
	fetchTimeout        = 15 * time.Second
	maxErrorLength      = 300
)

// FetchResult carries one conditional GET of the changes feed.
type FetchResult struct {
	Feed         *gofeed.Feed
	ETag         string
	LastModified string
	NotModified  bool
	StatusCode   int
}

// Refresher keeps the cached changes feed current. The zero feed URL
// disables it; callers check Enabled before scheduling refreshes.
type Refresher struct {
	db       *sql.DB
	feedURL  string
	wikiBase string
}

func NewRefresher(db *sql.DB, feedURL, wikiBaseURL string) *Refresher {
	return &Refresher{db: db, feedURL: strings.TrimSpace(feedURL), wikiBase: wikiBaseURL}
}

// Enabled reports whether a changes feed is configured.
func (r *Refresher) Enabled() bool {
	return r.feedURL != ""
}

// Fetch performs one conditional GET against the changes feed. A 304
// comes back as NotModified with no parsed feed.
func Fetch(ctx context.Context, feedURL, etag, lastModified string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", "Bindery/1.0")
	if strings.TrimSpace(etag) != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if strings.TrimSpace(lastModified) != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch changes feed: %w", err)
	}
	defer resp.Body.Close()

	result := &FetchResult{
		ETag:         strings.TrimSpace(resp.Header.Get("ETag")),
		LastModified: strings.TrimSpace(resp.Header.Get("Last-Modified")),
		StatusCode:   resp.StatusCode,
	}

	if resp.StatusCode == http.StatusNotModified {
		result.NotModified = true
		return result, nil
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %d from changes feed", resp.StatusCode)
	}

	parser := gofeed.NewParser()
	feed, err := parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse changes feed: %w", err)
	}

	result.Feed = feed
	return result, nil
}

// RefreshDue refreshes the cache only when the stored schedule says
// it is time. The background loop calls this every tick; the bool
// reports whether a fetch was attempted.
func (r *Refresher) RefreshDue(ctx context.Context) (bool, error) {
	state, err := store.GetFeedState(ctx, r.db)
	if err != nil {
		return false, err
	}

	if !state.NextRefreshAt.IsZero() && time.Now().UTC().Before(state.NextRefreshAt) {
		return false, nil
	}

	return true, r.refresh(ctx, state)
}

// Refresh fetches the changes feed unconditionally, ignoring the
// stored schedule. The sessions CLI and tests use it.
func (r *Refresher) Refresh(ctx context.Context) error {
	state, err := store.GetFeedState(ctx, r.db)
	if err != nil {
		return err
	}

	return r.refresh(ctx, state)
}

func (r *Refresher) refresh(ctx context.Context, state store.FeedState) error {
	start := time.Now()
	result, err := Fetch(ctx, r.feedURL, state.ETag, state.LastModified)
	duration := time.Since(start).Milliseconds()
	checkedAt := time.Now().UTC()

	// SaveFeedState replaces the whole row, so the old validators are
	// carried forward explicitly on every path.
	next := store.FeedState{
		ETag:          state.ETag,
		LastModified:  state.LastModified,
		LastCheckedAt: checkedAt,
	}

	if err != nil {
		next.LastError = truncateString(err.Error(), maxErrorLength)
		next.UnchangedCount = 0
		next.NextRefreshAt = NextRefreshAt(checkedAt, next.UnchangedCount)
		_ = store.SaveFeedState(ctx, r.db, next)
		slog.Error("suggest refresh fetch failed",
			"feed_url", r.feedURL,
			"duration_ms", duration,
			"err", err,
		)
		return err
	}

	next.ETag = chooseHeader(result.ETag, state.ETag)
	next.LastModified = chooseHeader(result.LastModified, state.LastModified)

	if result.NotModified {
		next.UnchangedCount = state.UnchangedCount + 1
		next.NextRefreshAt = NextRefreshAt(checkedAt, next.UnchangedCount)
		if err := store.SaveFeedState(ctx, r.db, next); err != nil {
			return err
		}
		slog.Info("suggest refresh cache hit",
			"feed_url", r.feedURL,
			"status", result.StatusCode,
			"duration_ms", duration,
		)
		return nil
	}

	if result.Feed == nil {
		next.LastError = "changes feed returned no content"
		next.UnchangedCount = 0
		next.NextRefreshAt = NextRefreshAt(checkedAt, next.UnchangedCount)
		_ = store.SaveFeedState(ctx, r.db, next)
		slog.Warn("suggest refresh returned no content",
			"feed_url", r.feedURL,
			"status", result.StatusCode,
		)
		return errors.New(next.LastError)
	}

	entries := entriesFromFeed(result.Feed, r.wikiBase)

	inserted, err := store.UpsertEntries(ctx, r.db, entries)
	if err != nil {
		next.LastError = truncateString(err.Error(), maxErrorLength)
		next.UnchangedCount = 0
		next.NextRefreshAt = NextRefreshAt(checkedAt, next.UnchangedCount)
		_ = store.SaveFeedState(ctx, r.db, next)
		slog.Error("suggest refresh upsert failed", "feed_url", r.feedURL, "err", err)
		return err
	}

	if err := store.EnforceEntryLimit(r.db); err != nil {
		next.LastError = truncateString(err.Error(), maxErrorLength)
		next.UnchangedCount = 0
		next.NextRefreshAt = NextRefreshAt(checkedAt, next.UnchangedCount)
		_ = store.SaveFeedState(ctx, r.db, next)
		slog.Error("suggest refresh prune failed", "feed_url", r.feedURL, "err", err)
		return err
	}

	if inserted == 0 {
		next.UnchangedCount = state.UnchangedCount + 1
	} else {
		next.UnchangedCount = 0
	}
	next.NextRefreshAt = NextRefreshAt(checkedAt, next.UnchangedCount)

	if err := store.SaveFeedState(ctx, r.db, next); err != nil {
		return err
	}

	slog.Info("suggest refresh updated",
		"feed_url", r.feedURL,
		"status", result.StatusCode,
		"entries_in_feed", len(result.Feed.Items),
		"entries_new", inserted,
		"duration_ms", duration,
	)
	return nil
}

// Propose returns the freshest cached changes that are neither
// members of the session nor banned from it.
func Propose(ctx context.Context, db *sql.DB, sessionID string, limit int) ([]store.EntryRecord, error) {
	return store.ListProposals(ctx, db, sessionID, limit)
}

// NextRefreshAt schedules the next fetch: the backoff interval for
// the unchanged streak, jittered so instances do not sync up.
func NextRefreshAt(checkedAt time.Time, unchangedCount int) time.Time {
	interval := ComputeBackoffInterval(unchangedCount)
	interval = ApplyJitter(interval)
	if interval > refreshBackoffMax {
		interval = refreshBackoffMax
	}
	return checkedAt.Add(interval)
}

// ComputeBackoffInterval doubles the base interval per unchanged
// fetch, capped at twelve hours.
func ComputeBackoffInterval(unchangedCount int) time.Duration {
	if unchangedCount < 0 {
		unchangedCount = 0
	}
	interval := RefreshInterval
	for i := 0; i < unchangedCount; i++ {
		interval *= 2
		if interval >= refreshBackoffMax {
			return refreshBackoffMax
		}
	}
	if interval > refreshBackoffMax {
		return refreshBackoffMax
	}
	return interval
}

// ApplyJitter shifts an interval by 10 to 20 percent in a random
// direction.
func ApplyJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	magnitude := refreshJitterMin + rand.Float64()*(refreshJitterMax-refreshJitterMin)
	if rand.Intn(2) == 0 {
		magnitude = -magnitude
	}
	adjusted := float64(base) * (1 + magnitude)
	return time.Duration(adjusted)
}

func entriesFromFeed(feed *gofeed.Feed, wikiBase string) []store.EntryRecord {
	entries := make([]store.EntryRecord, 0, len(feed.Items))

	for _, item := range feed.Items {
		if item == nil {
			continue
		}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}

		guid := strings.TrimSpace(item.GUID)
		if guid == "" {
			guid = strings.TrimSpace(item.Link)
		}
		if guid == "" {
			guid = title
		}

		entry := store.EntryRecord{
			GUID:        guid,
			Title:       title,
			Link:        strings.TrimSpace(item.Link),
			SummaryHTML: content.SanitizeSummaryHTML(item.Description, wikiBase),
		}
		if item.PublishedParsed != nil {
			entry.PublishedAt = item.PublishedParsed.UTC()
		}

		entries = append(entries, entry)
	}

	return entries
}

func chooseHeader(preferred, fallback string) string {
	if strings.TrimSpace(preferred) != "" {
		return preferred
	}
	return fallback
}

func truncateString(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}
