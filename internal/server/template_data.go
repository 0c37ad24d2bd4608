package server

import (
	"html/template"
	"net/url"
	"strconv"

	"github.com/dustin/go-humanize"

	"bindery/internal/collection"
	"bindery/internal/store"
)

type bookPageData struct {
	Title              string
	HasSession         bool
	PageCount          int
	Items              []bookItemData
	BookPath           string
	StartHref          string
	StopHref           string
	ClearHref          string
	SuggestHref        string
	ExportPath         string
	ImportPath         string
	SuggestionsEnabled bool
}

type bookItemData struct {
	IsChapter  bool
	Title      string
	ArticleURL string
	RemoveHref string
	RevisionID int64
}

type suggestPageData struct {
	Title     string
	PageCount int
	Proposals []proposalData
	BookPath  string
}

type proposalData struct {
	Title            string
	ArticleURL       string
	Summary          template.HTML
	PublishedDisplay string
	AddHref          string
	BanHref          string
}

func (a *App) bookPageData(session *collection.Session) bookPageData {
	data := bookPageData{
		Title:              "Book creator",
		SuggestionsEnabled: a.settings.SuggestionsEnabled,
		BookPath:           a.settings.BookPagePath,
		StartHref:          a.commandHref("start", url.Values{"returnto": {a.settings.BookPagePath}}),
		ExportPath:         a.settings.BookPagePath + "/export",
		ImportPath:         a.settings.BookPagePath + "/import",
	}

	if session == nil {
		return data
	}

	data.HasSession = true
	data.PageCount = session.CountArticles()
	data.StopHref = a.commandHref("stop_book", url.Values{"returnto": {a.settings.BookPagePath}})
	data.ClearHref = a.commandHref("clear_book", url.Values{"returnto": {a.settings.BookPagePath}})
	data.SuggestHref = a.settings.BookPagePath + "?bookcmd=suggest"
	data.Items = make([]bookItemData, 0, len(session.Items))

	for _, item := range session.Items {
		entry := bookItemData{
			IsChapter:  item.Kind == collection.KindChapter,
			Title:      item.Title,
			RevisionID: item.RevisionID,
		}

		if !entry.IsChapter {
			entry.ArticleURL = a.urls.ArticleURL(item.Title)

			args := url.Values{
				"arttitle": {item.Title},
				"returnto": {a.settings.BookPagePath},
			}
			if item.RevisionID > 0 {
				args.Set("oldid", strconv.FormatInt(item.RevisionID, 10))
			}

			entry.RemoveHref = a.commandHref("remove_article", args)
		}

		data.Items = append(data.Items, entry)
	}

	return data
}

func (a *App) suggestPageData(session *collection.Session, proposals []store.EntryRecord) suggestPageData {
	suggestPath := a.settings.BookPagePath + "?bookcmd=suggest"

	data := suggestPageData{
		Title:     "Suggested pages",
		PageCount: session.CountArticles(),
		BookPath:  a.settings.BookPagePath,
		Proposals: make([]proposalData, 0, len(proposals)),
	}

	for _, entry := range proposals {
		proposal := proposalData{
			Title:      entry.Title,
			ArticleURL: a.urls.ArticleURL(entry.Title),
			// Sanitized at ingest; safe to render as markup.
			Summary: template.HTML(entry.SummaryHTML),
			AddHref: a.commandHref("add_article", url.Values{
				"arttitle": {entry.Title},
				"returnto": {suggestPath},
			}),
			BanHref: a.commandHref("ban_suggestion", url.Values{
				"arttitle": {entry.Title},
			}),
		}

		if !entry.PublishedAt.IsZero() {
			proposal.PublishedDisplay = humanize.Time(entry.PublishedAt)
		}

		data.Proposals = append(data.Proposals, proposal)
	}

	return data
}
