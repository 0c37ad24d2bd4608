package view

import (
	"testing"

	"bindery/internal/collection"
	"bindery/internal/wiki"
)

func testSettings() Settings {
	return Settings{
		CollectibleNamespaces: map[int]bool{wiki.NamespaceMain: true},
		SidebarFormats:        []string{"rl"},
		FormatLabels:          map[string]string{"rl": "PDF"},
		SuggestionsEnabled:    true,
		BookPagePath:          "/book",
		BookPageTitle:         "Special:Book",
		HelpPage:              "Help:Books",
		URLs:                  wiki.URLBuilder{Base: "https://wiki.test"},
	}
}

func testPage() wiki.Page {
	return wiki.Page{Namespace: wiki.NamespaceMain, Title: "Kestrel", Exists: true, LatestRevID: 42}
}

func testSession(items ...collection.Item) *collection.Session {
	return &collection.Session{ID: "sess-1", Enabled: true, Items: items}
}

func TestShouldShowGate(t *testing.T) {
	settings := testSettings()

	missing := testPage()
	missing.Exists = false

	talk := testPage()
	talk.Namespace = wiki.NamespaceTalk

	category := wiki.Page{Namespace: wiki.NamespaceCategory, Title: "Falcons", Exists: true, LatestRevID: 7}

	cases := []struct {
		name string
		pc   PageContext
		want bool
	}{
		{"plain view", PageContext{Page: testPage()}, true},
		{"explicit view action", PageContext{Page: testPage(), Action: "view"}, true},
		{"purge action", PageContext{Page: testPage(), Action: "purge"}, true},
		{"edit action", PageContext{Page: testPage(), Action: "edit"}, false},
		{"history action", PageContext{Page: testPage(), Action: "history"}, false},
		{"missing page", PageContext{Page: missing}, false},
		{"non-collectible namespace", PageContext{Page: talk}, false},
		{"category outside collectible set", PageContext{Page: category}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := ShouldShow(settings, tc.pc)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestBuildPortletStartsWhenNoSession(t *testing.T) {
	settings := testSettings()
	pc := PageContext{Page: testPage()}

	portlet := BuildPortlet(settings, pc, nil)
	if portlet == nil {
		t.Fatalf("expected a portlet")
	}
	if portlet.SectionID != PortletSectionID {
		t.Fatalf("expected section %q, got %q", PortletSectionID, portlet.SectionID)
	}
	if len(portlet.Links) != 3 {
		t.Fatalf("expected start, download and printable links, got %d", len(portlet.Links))
	}

	start := portlet.Links[0]
	if start.Command != "start" {
		t.Fatalf("expected start command first, got %q", start.Command)
	}
	if got := start.Args.Get("referer"); got != "Kestrel" {
		t.Fatalf("expected referer Kestrel, got %q", got)
	}

	download := portlet.Links[1]
	if download.Command != "render_article" {
		t.Fatalf("expected render_article command, got %q", download.Command)
	}
	if download.Text != "Download as PDF" {
		t.Fatalf("expected format label in text, got %q", download.Text)
	}
	if got := download.Args.Get("writer"); got != "rl" {
		t.Fatalf("expected writer rl, got %q", got)
	}
	if got := download.Args.Get("oldid"); got != "42" {
		t.Fatalf("expected latest revision pinned, got %q", got)
	}
	if got := download.Args.Get("arttitle"); got != "Kestrel" {
		t.Fatalf("expected arttitle Kestrel, got %q", got)
	}
	if got := download.Args.Get("returnto"); got != "Kestrel" {
		t.Fatalf("expected returnto Kestrel, got %q", got)
	}

	printable := portlet.Links[2]
	if printable.ID != "t-print" || printable.Command != "" {
		t.Fatalf("expected plain printable link last, got %+v", printable)
	}
}

func TestBuildPortletStopsFirstWhenSessionActive(t *testing.T) {
	settings := testSettings()
	pc := PageContext{Page: testPage()}

	portlet := BuildPortlet(settings, pc, testSession())
	if portlet == nil {
		t.Fatalf("expected a portlet")
	}
	if len(portlet.Links) == 0 {
		t.Fatalf("expected links")
	}
	if portlet.Links[0].Command != "stop_book" {
		t.Fatalf("expected stop_book command first, got %q", portlet.Links[0].Command)
	}
	if got := portlet.Links[0].Args.Get("referer"); got != "Kestrel" {
		t.Fatalf("expected referer Kestrel, got %q", got)
	}
}

func TestBuildPortletRequiresLogin(t *testing.T) {
	settings := testSettings()
	settings.PortletRequiresLogin = true

	pc := PageContext{Page: testPage()}
	if portlet := BuildPortlet(settings, pc, nil); portlet != nil {
		t.Fatalf("expected no portlet for anonymous visitor")
	}

	pc.LoggedIn = true
	if portlet := BuildPortlet(settings, pc, nil); portlet == nil {
		t.Fatalf("expected portlet for logged-in visitor")
	}
}

func TestBuildPortletHonorsStartLinkToggle(t *testing.T) {
	settings := testSettings()
	settings.DisableSidebarStartLink = true

	portlet := BuildPortlet(settings, PageContext{Page: testPage()}, nil)
	if portlet == nil {
		t.Fatalf("expected a portlet")
	}

	for _, link := range portlet.Links {
		if link.Command == "start" {
			t.Fatalf("expected start link to be suppressed")
		}
	}
}

func TestBuildPortletOmitsPrintableWhenAlreadyPrintable(t *testing.T) {
	settings := testSettings()
	pc := PageContext{Page: testPage(), Printable: true}

	portlet := BuildPortlet(settings, pc, nil)
	if portlet == nil {
		t.Fatalf("expected a portlet")
	}

	for _, link := range portlet.Links {
		if link.ID == "t-print" {
			t.Fatalf("expected printable link to be omitted")
		}
	}
}

func TestDownloadLinkLabelFallsBackToFormat(t *testing.T) {
	settings := testSettings()
	settings.SidebarFormats = []string{"odt"}

	portlet := BuildPortlet(settings, PageContext{Page: testPage()}, nil)
	if portlet == nil {
		t.Fatalf("expected a portlet")
	}

	var found bool
	for _, link := range portlet.Links {
		if link.Command != "render_article" {
			continue
		}
		found = true
		if link.Text != "Download as odt" {
			t.Fatalf("expected format key as label, got %q", link.Text)
		}
	}
	if !found {
		t.Fatalf("expected a download link")
	}
}

func TestDownloadLinkPinsExplicitRevision(t *testing.T) {
	settings := testSettings()
	pc := PageContext{Page: testPage(), OldID: 41}

	portlet := BuildPortlet(settings, pc, nil)
	if portlet == nil {
		t.Fatalf("expected a portlet")
	}

	var found bool
	for _, link := range portlet.Links {
		if link.Command != "render_article" {
			continue
		}
		found = true
		if got := link.Args.Get("oldid"); got != "41" {
			t.Fatalf("expected explicit oldid 41, got %q", got)
		}
	}
	if !found {
		t.Fatalf("expected a download link")
	}
}

func TestBuildPortletEmptySectionStillReplaces(t *testing.T) {
	settings := testSettings()
	settings.DisableSidebarStartLink = true
	settings.SidebarFormats = nil

	pc := PageContext{Page: testPage(), Printable: true}

	portlet := BuildPortlet(settings, pc, nil)
	if portlet == nil {
		t.Fatalf("expected empty portlet, not an absent one")
	}
	if len(portlet.Links) != 0 {
		t.Fatalf("expected no links, got %d", len(portlet.Links))
	}
}

func TestBuildPortletGateFailureIsAbsent(t *testing.T) {
	settings := testSettings()
	pc := PageContext{Page: testPage(), Action: "edit"}

	if portlet := BuildPortlet(settings, pc, testSession()); portlet != nil {
		t.Fatalf("expected no portlet when the gate fails")
	}
}
