// Package mcp exposes the book creator over the Model Context
// Protocol: session inspection and mutation, page snapshot lookups,
// and feed suggestions.
package mcp

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"bindery/internal/collection"
	"bindery/internal/config"
	"bindery/internal/store"
	"bindery/internal/suggest"
	"bindery/internal/wiki"
)

const defaultSuggestLimit = 20

// ErrPageNotFound is returned when a title has no snapshot row.
var ErrPageNotFound = errors.New("page not found")

// ErrEmptyTitle is returned when a title normalizes to nothing.
var ErrEmptyTitle = errors.New("empty title")

// Service coordinates store-backed operations shared by the MCP
// tools, so handlers stay thin and the logic stays testable.
type Service struct {
	db      *sql.DB
	cfg     *config.Config
	manager *collection.Manager
	urls    wiki.URLBuilder
}

// NewService builds a service over the shared sqlite store.
func NewService(db *sql.DB, cfg *config.Config) *Service {
	return &Service{
		db:      db,
		cfg:     cfg,
		manager: collection.NewManager(db),
		urls: wiki.URLBuilder{
			Base:        cfg.WikiBaseURL,
			ArticlePath: cfg.ArticlePath,
			ScriptPath:  cfg.ScriptPath,
		},
	}
}

// BookDTO is a transport-friendly projection of one session.
type BookDTO struct {
	SessionID string    `json:"sessionId"`
	PageCount int       `json:"pageCount"`
	Items     []ItemDTO `json:"items"`
}

// ItemDTO is one ordered member of a book.
type ItemDTO struct {
	Position   int    `json:"position"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	RevisionID int64  `json:"revisionId,omitempty"`
	URL        string `json:"url,omitempty"`
}

// PageDTO is one row of the wiki page snapshot.
type PageDTO struct {
	Namespace  int      `json:"namespace"`
	Title      string   `json:"title"`
	RevisionID int64    `json:"revisionId"`
	Categories []string `json:"categories,omitempty"`
	URL        string   `json:"url"`
	UpdatedISO string   `json:"updated"`
}

// ProposalDTO is one suggestion from the changes feed cache.
type ProposalDTO struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	PublishedISO string `json:"published,omitempty"`
	Summary      string `json:"summary,omitempty"`
}

// ShowBook returns the members of the session.
func (s *Service) ShowBook(ctx context.Context, sessionID string) (*BookDTO, error) {
	session, err := s.manager.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, collection.ErrNoSession
	}

	dto := &BookDTO{
		SessionID: session.ID,
		PageCount: session.CountArticles(),
		Items:     make([]ItemDTO, 0, len(session.Items)),
	}
	for _, item := range session.Items {
		entry := ItemDTO{
			Position:   item.Position,
			Kind:       item.Kind,
			Title:      item.Title,
			RevisionID: item.RevisionID,
		}
		if item.Kind == collection.KindArticle {
			entry.URL = s.urls.ArticleURL(item.Title)
		}
		dto.Items = append(dto.Items, entry)
	}
	return dto, nil
}

// FindPage resolves a title against the page snapshot.
func (s *Service) FindPage(ctx context.Context, title string) (*PageDTO, error) {
	namespace, text, err := splitTitle(title)
	if err != nil {
		return nil, err
	}

	record, err := store.GetPage(ctx, s.db, namespace, text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, err
	}

	categories, err := store.ListPageCategories(ctx, s.db, namespace, text)
	if err != nil {
		return nil, err
	}

	full := wiki.Page{Namespace: namespace, Title: text}.FullTitle()
	return &PageDTO{
		Namespace:  namespace,
		Title:      full,
		RevisionID: record.LatestRevID,
		Categories: categories,
		URL:        s.urls.ArticleURL(full),
		UpdatedISO: record.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

// AddArticle appends a snapshot page to the session and returns the
// updated book. Titles without a snapshot row are rejected; unlike
// the browser flow there is no rendered page to anchor a guess to.
func (s *Service) AddArticle(ctx context.Context, sessionID, title string, revisionID int64) (*BookDTO, error) {
	namespace, text, err := splitTitle(title)
	if err != nil {
		return nil, err
	}

	record, err := store.GetPage(ctx, s.db, namespace, text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, err
	}

	page := wiki.Page{
		Namespace:   namespace,
		Title:       text,
		Exists:      true,
		LatestRevID: record.LatestRevID,
	}
	if _, _, err := s.manager.AddArticle(ctx, sessionID, page, revisionID); err != nil {
		return nil, err
	}

	return s.ShowBook(ctx, sessionID)
}

// SuggestPages lists feed proposals for the session with summaries
// converted to markdown.
func (s *Service) SuggestPages(ctx context.Context, sessionID string, limit int) ([]ProposalDTO, error) {
	if !s.cfg.SuggestionsEnabled {
		return nil, errors.New("suggestions are disabled")
	}

	session, err := s.manager.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, collection.ErrNoSession
	}

	if limit <= 0 || limit > 100 {
		limit = defaultSuggestLimit
	}

	entries, err := suggest.Propose(ctx, s.db, session.ID, limit)
	if err != nil {
		return nil, err
	}

	proposals := make([]ProposalDTO, 0, len(entries))
	for _, entry := range entries {
		proposal := ProposalDTO{
			Title: entry.Title,
			URL:   s.urls.ArticleURL(entry.Title),
		}
		if !entry.PublishedAt.IsZero() {
			proposal.PublishedISO = entry.PublishedAt.UTC().Format(time.RFC3339)
		}
		if entry.SummaryHTML != "" {
			if markdown, err := htmltomarkdown.ConvertString(entry.SummaryHTML); err == nil {
				proposal.Summary = strings.TrimSpace(markdown)
			}
		}
		proposals = append(proposals, proposal)
	}
	return proposals, nil
}

func splitTitle(raw string) (int, string, error) {
	namespace, text := wiki.ParseFullTitle(raw)
	if text == "" {
		return 0, "", ErrEmptyTitle
	}
	return namespace, text, nil
}
