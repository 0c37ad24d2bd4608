package view

import (
	"net/url"
	"strconv"

	"bindery/internal/collection"
)

// ShouldShow is the visibility gate shared by the portlet and the
// notice box. It never looks at the session: a missing page, a
// non-collectible namespace, or a mutating action hide the book
// surfaces outright.
func ShouldShow(s Settings, pc PageContext) bool {
	if !pc.Page.Exists {
		return false
	}

	if !s.Collectible(pc.Page.Namespace) && !pc.Page.IsCategory() {
		return false
	}

	switch pc.Action {
	case "", "view", "purge":
	default:
		return false
	}

	return true
}

// BuildPortlet assembles the sidebar section. A nil return means the
// section is absent and the skin keeps its generic print links.
func BuildPortlet(s Settings, pc PageContext, session *collection.Session) *Portlet {
	if !ShouldShow(s, pc) {
		return nil
	}

	if s.PortletRequiresLogin && !pc.LoggedIn {
		return nil
	}

	portlet := &Portlet{SectionID: PortletSectionID}
	referer := pc.Page.FullTitle()

	if session == nil {
		if !s.DisableSidebarStartLink {
			portlet.Links = append(portlet.Links, s.CommandLink(
				"Create a book", "coll-create_a_book", "start",
				url.Values{"referer": {referer}}))
		}
	} else {
		portlet.Links = append(portlet.Links, s.CommandLink(
			"Stop book creator", "coll-stop_book_creator", "stop_book",
			url.Values{"referer": {referer}}))
	}

	for _, format := range s.SidebarFormats {
		portlet.Links = append(portlet.Links, downloadLink(s, pc, format))
	}

	if !pc.Printable {
		portlet.Links = append(portlet.Links, printableLink(s, pc))
	}

	return portlet
}

// downloadLink renders one "download as" entry. The revision pins
// the explicit oldid when one was requested, otherwise the latest.
func downloadLink(s Settings, pc PageContext, format string) LinkDescriptor {
	revision := pc.OldID
	if revision == 0 {
		revision = pc.Page.LatestRevID
	}

	fullTitle := pc.Page.FullTitle()

	label := s.FormatLabels[format]
	if label == "" {
		label = format
	}

	return s.CommandLink(
		"Download as "+label, "coll-download-as-"+format, "render_article",
		url.Values{
			"arttitle": {fullTitle},
			"returnto": {fullTitle},
			"oldid":    {strconv.FormatInt(revision, 10)},
			"writer":   {format},
		})
}

func printableLink(s Settings, pc PageContext) LinkDescriptor {
	params := url.Values{"printable": {"yes"}}
	if pc.OldID != 0 {
		params.Set("oldid", strconv.FormatInt(pc.OldID, 10))
	}

	return LinkDescriptor{
		Text: "Printable version",
		ID:   "t-print",
		Href: s.URLs.ArticleQueryURL(pc.Page.FullTitle(), params),
	}
}
