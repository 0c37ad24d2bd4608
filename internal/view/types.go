// Package view builds the book-creator presentation data: the
// sidebar portlet and the notice box rendered above page content.
package view

import (
	"net/url"

	"bindery/internal/wiki"
)

// Section id the sidebar uses to replace the generic print links.
const PortletSectionID = "coll-print_export"

// Mode tells the notice box which state to render. ModeNone means
// the box is absent.
type Mode int

const (
	ModeNone Mode = iota
	ModeDefault
	ModeSuggest
	ModeShowBook
	ModeAddArticle
	ModeAddCategory
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeDefault:
		return "default"
	case ModeSuggest:
		return "suggest"
	case ModeShowBook:
		return "showbook"
	case ModeAddArticle:
		return "addarticle"
	case ModeAddCategory:
		return "addcategory"
	}

	return "unknown"
}

// PageContext is the per-request wiki state the decisions run on.
// OldID is already normalized: 0 when absent or equal to the page's
// latest revision.
type PageContext struct {
	Page       wiki.Page
	Action     string
	OldID      int64
	SubCommand string
	LoggedIn   bool
	Printable  bool
}

// LinkDescriptor is one rendered link. Command and Args carry the
// book command the link encodes; plain navigation links leave them
// empty.
type LinkDescriptor struct {
	Text    string     `json:"text"`
	ID      string     `json:"id"`
	Href    string     `json:"href"`
	Command string     `json:"-"`
	Args    url.Values `json:"-"`
}

// Portlet is the sidebar section. A nil Portlet means the section is
// absent; an empty Links slice still replaces the print links.
type Portlet struct {
	SectionID string           `json:"key"`
	Links     []LinkDescriptor `json:"links"`
}

// Fragment is one slot of the notice box: a command link, or a
// static label when Link is nil.
type Fragment struct {
	Text     string
	Emphasis bool
	Link     *LinkDescriptor
}

// NoticeBox is template data for the book-creator notice.
type NoticeBox struct {
	Mode      Mode
	PageCount int
	AddRemove Fragment
	ShowBook  Fragment
	Suggest   *Fragment
	Disable   LinkDescriptor
	Help      LinkDescriptor
	Modules   []string
}

// Settings carries the site configuration the decisions depend on.
type Settings struct {
	CollectibleNamespaces   map[int]bool
	SidebarFormats          []string
	FormatLabels            map[string]string
	PortletRequiresLogin    bool
	DisableSidebarStartLink bool
	SuggestionsEnabled      bool
	BookPagePath            string
	BookPageTitle           string
	HelpPage                string
	URLs                    wiki.URLBuilder
}

// Collectible reports whether pages in the namespace may join a book.
func (s Settings) Collectible(namespace int) bool {
	return s.CollectibleNamespaces[namespace]
}

// IsBookPage reports whether the context points at the book page
// itself.
func (s Settings) IsBookPage(pc PageContext) bool {
	return pc.Page.FullTitle() == s.BookPageTitle
}

// CommandLink builds a link that posts a book command.
func (s Settings) CommandLink(text, id, command string, args url.Values) LinkDescriptor {
	if args == nil {
		args = url.Values{}
	}

	args.Set("bookcmd", command)

	return LinkDescriptor{
		Text:    text,
		ID:      id,
		Href:    s.BookPagePath + "?" + args.Encode(),
		Command: command,
		Args:    args,
	}
}
