package view

import (
	"net/url"
	"strconv"

	"github.com/dustin/go-humanize/english"

	"bindery/internal/collection"
)

// Client-side modules the notice box depends on. The server surfaces
// them so the skin can load the matching scripts.
const (
	ModuleBookCreator = "bindery.bookcreator"
	ModuleSuggestions = "bindery.suggestions"
)

// NoticeMode decides which notice box a plain page view gets. Forced
// modes (addarticle, addcategory) are chosen by command handlers and
// never come out of here.
func NoticeMode(s Settings, pc PageContext, session *collection.Session) Mode {
	switch pc.Action {
	case "", "view", "purge":
	default:
		return ModeNone
	}

	if session == nil {
		return ModeNone
	}

	if s.IsBookPage(pc) {
		switch pc.SubCommand {
		case "suggest":
			return ModeSuggest
		case "":
			return ModeShowBook
		default:
			return ModeNone
		}
	}

	if !pc.Page.Exists {
		return ModeNone
	}

	if !s.Collectible(pc.Page.Namespace) && !pc.Page.IsCategory() {
		return ModeNone
	}

	return ModeDefault
}

// BuildNotice assembles the book-creator box for the given mode.
func BuildNotice(s Settings, pc PageContext, session *collection.Session, mode Mode) *NoticeBox {
	if mode == ModeNone || session == nil {
		return nil
	}

	box := &NoticeBox{
		Mode:      mode,
		PageCount: session.CountArticles(),
		Modules:   []string{ModuleBookCreator},
	}

	if mode == ModeSuggest {
		box.Modules = append(box.Modules, ModuleSuggestions)
	}

	box.AddRemove = addRemoveFragment(s, pc, session, mode)
	box.ShowBook = showBookFragment(s, mode, box.PageCount)

	if s.SuggestionsEnabled {
		fragment := suggestFragment(s, mode)
		box.Suggest = &fragment
	}

	disable := s.CommandLink("Disable book creator", "coll-disable", "stop_book",
		url.Values{"referer": {pc.Page.FullTitle()}})
	box.Disable = disable

	helpHref := ""
	if s.HelpPage != "" {
		helpHref = s.URLs.ArticleURL(s.HelpPage)
	}
	box.Help = LinkDescriptor{
		Text: "Help",
		ID:   "coll-help",
		Href: helpHref,
	}

	return box
}

// addRemoveFragment fills the first slot of the box. The branches
// run in a fixed order: mode checks come before the namespace check,
// so a forced mode wins even on a category page.
func addRemoveFragment(s Settings, pc PageContext, session *collection.Session, mode Mode) Fragment {
	if mode == ModeSuggest || mode == ModeShowBook {
		return Fragment{Text: "This page cannot be added"}
	}

	if mode == ModeAddCategory || pc.Page.IsCategory() {
		link := s.CommandLink(
			"Add this category to your book", "coll-add_category", "add_category",
			url.Values{"cattitle": {pc.Page.Title}})

		return Fragment{Text: link.Text, Link: &link}
	}

	if mode == ModeAddArticle {
		link := addArticleLink(s, pc)

		return Fragment{Text: link.Text, Link: &link}
	}

	if session.FindArticle(pc.Page.FullTitle(), pc.OldID) == -1 {
		link := addArticleLink(s, pc)

		return Fragment{Text: link.Text, Link: &link}
	}

	link := s.CommandLink(
		"Remove this page from your book", "coll-remove_article", "remove_article",
		articleArgs(pc))

	return Fragment{Text: link.Text, Link: &link}
}

func addArticleLink(s Settings, pc PageContext) LinkDescriptor {
	return s.CommandLink(
		"Add this page to your book", "coll-add_article", "add_article",
		articleArgs(pc))
}

func articleArgs(pc PageContext) url.Values {
	return url.Values{
		"arttitle": {pc.Page.FullTitle()},
		"oldid":    {strconv.FormatInt(pc.OldID, 10)},
	}
}

// showBookFragment fills the second slot. On the book page itself
// the label is emphasized instead of linked.
func showBookFragment(s Settings, mode Mode, pageCount int) Fragment {
	text := "Show book (" + english.Plural(pageCount, "page", "") + ")"

	if mode == ModeShowBook {
		return Fragment{Text: text, Emphasis: true}
	}

	link := LinkDescriptor{
		Text: text,
		ID:   "coll-show_book",
		Href: s.BookPagePath,
	}

	return Fragment{Text: text, Link: &link}
}

// suggestFragment fills the third slot, static on the suggest page.
func suggestFragment(s Settings, mode Mode) Fragment {
	text := "Suggest pages"

	if mode == ModeSuggest {
		return Fragment{Text: text, Emphasis: true}
	}

	link := s.CommandLink(text, "coll-suggest", "suggest", nil)

	return Fragment{Text: text, Link: &link}
}
