package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"bindery/internal/store"
	"bindery/internal/wiki"
)

// ErrNoSession is returned by mutating operations when no active
// session exists for the given id.
var ErrNoSession = errors.New("no active session")

// Category membership is capped so a runaway category cannot flood a
// session in one click.
const maxCategoryMembers = 200

// Manager loads and mutates book sessions on behalf of handlers.
type Manager struct {
	db *sql.DB
}

// NewManager returns a Manager backed by the given database.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Load returns a snapshot of the session, or nil when the id is
// empty, unknown, or the session has been stopped. Callers must treat
// a nil session and an empty one differently: nil hides the book
// surfaces entirely, empty still renders them.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}

	record, err := store.GetSession(ctx, m.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if !record.Enabled {
		return nil, nil
	}

	items, err := store.ListItems(ctx, m.db, id)
	if err != nil {
		return nil, fmt.Errorf("load session items: %w", err)
	}

	session := &Session{
		ID:           record.ID,
		Enabled:      true,
		LastModified: record.UpdatedAt,
		Items:        make([]Item, 0, len(items)),
	}

	for _, item := range items {
		session.Items = append(session.Items, Item{
			Position:   item.Position,
			Kind:       item.Kind,
			Title:      item.Title,
			RevisionID: item.RevisionID,
		})
	}

	return session, nil
}

// Start activates a session and returns its id. An empty id mints a
// fresh one; a known id is re-enabled with its items intact.
func (m *Manager) Start(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	err := store.CreateSession(ctx, m.db, id)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}

	return id, nil
}

// Stop deactivates the session and discards its items.
func (m *Manager) Stop(ctx context.Context, id string) error {
	session, err := m.Load(ctx, id)
	if err != nil {
		return err
	}

	if session == nil {
		return ErrNoSession
	}

	err = store.ClearItems(ctx, m.db, id)
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}

	err = store.SetSessionEnabled(ctx, m.db, id, false)
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}

	return nil
}

// NormalizeRevision maps an explicit revision id equal to the page's
// latest revision to 0, so current-revision members compare equal no
// matter how they were added.
func NormalizeRevision(page wiki.Page, revisionID int64) int64 {
	if revisionID != 0 && revisionID == page.LatestRevID {
		return 0
	}

	return revisionID
}

// AddArticle appends the page to the session and returns its
// position. Re-adding a member reports added = false.
func (m *Manager) AddArticle(ctx context.Context, id string, page wiki.Page, revisionID int64) (int, bool, error) {
	session, err := m.Load(ctx, id)
	if err != nil {
		return 0, false, err
	}

	if session == nil {
		return 0, false, ErrNoSession
	}

	revisionID = NormalizeRevision(page, revisionID)

	position, added, err := store.AddItem(ctx, m.db, id, store.ItemKindArticle, page.FullTitle(), revisionID)
	if err != nil {
		return 0, false, fmt.Errorf("add article: %w", err)
	}

	return position, added, nil
}

// RemoveArticle drops the page from the session and reports whether
// it was a member.
func (m *Manager) RemoveArticle(ctx context.Context, id string, page wiki.Page, revisionID int64) (bool, error) {
	session, err := m.Load(ctx, id)
	if err != nil {
		return false, err
	}

	if session == nil {
		return false, ErrNoSession
	}

	revisionID = NormalizeRevision(page, revisionID)

	removed, err := store.RemoveItem(ctx, m.db, id, page.FullTitle(), revisionID)
	if err != nil {
		return false, fmt.Errorf("remove article: %w", err)
	}

	return removed, nil
}

// AddCategory appends every snapshot member of the category at its
// latest revision and returns how many articles were new.
func (m *Manager) AddCategory(ctx context.Context, id, category string) (int, error) {
	session, err := m.Load(ctx, id)
	if err != nil {
		return 0, err
	}

	if session == nil {
		return 0, ErrNoSession
	}

	members, err := store.ListCategoryMembers(ctx, m.db, category, maxCategoryMembers)
	if err != nil {
		return 0, fmt.Errorf("add category: %w", err)
	}

	added := 0

	for _, member := range members {
		page := wiki.Page{Namespace: member.Namespace, Title: member.Title}

		_, wasAdded, addErr := store.AddItem(ctx, m.db, id, store.ItemKindArticle, page.FullTitle(), 0)
		if addErr != nil {
			return added, fmt.Errorf("add category member %s: %w", page.FullTitle(), addErr)
		}

		if wasAdded {
			added++
		}
	}

	return added, nil
}

// AddChapter appends a chapter heading to the session.
func (m *Manager) AddChapter(ctx context.Context, id, name string) (int, error) {
	session, err := m.Load(ctx, id)
	if err != nil {
		return 0, err
	}

	if session == nil {
		return 0, ErrNoSession
	}

	position, _, err := store.AddItem(ctx, m.db, id, store.ItemKindChapter, name, 0)
	if err != nil {
		return 0, fmt.Errorf("add chapter: %w", err)
	}

	return position, nil
}

// Clear removes every member but keeps the session active.
func (m *Manager) Clear(ctx context.Context, id string) error {
	session, err := m.Load(ctx, id)
	if err != nil {
		return err
	}

	if session == nil {
		return ErrNoSession
	}

	err = store.ClearItems(ctx, m.db, id)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	return nil
}

// Replace swaps the whole member list, used by outline import.
func (m *Manager) Replace(ctx context.Context, id string, items []Item) error {
	session, err := m.Load(ctx, id)
	if err != nil {
		return err
	}

	if session == nil {
		return ErrNoSession
	}

	records := make([]store.ItemRecord, 0, len(items))

	for _, item := range items {
		records = append(records, store.ItemRecord{
			Kind:       item.Kind,
			Title:      item.Title,
			RevisionID: item.RevisionID,
		})
	}

	err = store.ReplaceItems(ctx, m.db, id, records)
	if err != nil {
		return fmt.Errorf("replace session items: %w", err)
	}

	return nil
}

// Ban hides a suggested title from the session's proposals for good.
func (m *Manager) Ban(ctx context.Context, id, title string) error {
	session, err := m.Load(ctx, id)
	if err != nil {
		return err
	}

	if session == nil {
		return ErrNoSession
	}

	err = store.BanSuggestion(ctx, m.db, id, title)
	if err != nil {
		return fmt.Errorf("ban suggestion: %w", err)
	}

	return nil
}
