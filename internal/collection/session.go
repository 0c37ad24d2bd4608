// Package collection manages book sessions: the ordered set of wiki
// pages a user gathers for download or export.
package collection

import (
	"time"

	"bindery/internal/store"
)

// Item kinds mirrored from the store layer.
const (
	KindArticle = store.ItemKindArticle
	KindChapter = store.ItemKindChapter
)

// Item is one ordered member of a session: an article with an
// optional pinned revision, or a chapter heading.
type Item struct {
	Position   int
	Kind       string
	Title      string
	RevisionID int64
}

// Session is a point-in-time snapshot of one book session. Handlers
// load it once per request and read membership from the snapshot.
type Session struct {
	ID           string
	Enabled      bool
	LastModified time.Time
	Items        []Item
}

// CountArticles returns the number of article members, excluding
// chapter headings.
func (s *Session) CountArticles() int {
	count := 0

	for _, item := range s.Items {
		if item.Kind == KindArticle {
			count++
		}
	}

	return count
}

// FindArticle returns the position of the article matching the full
// title and revision id, or -1 when the session does not contain it.
func (s *Session) FindArticle(title string, revisionID int64) int {
	for _, item := range s.Items {
		if item.Kind != KindArticle {
			continue
		}

		if item.Title == title && item.RevisionID == revisionID {
			return item.Position
		}
	}

	return -1
}
