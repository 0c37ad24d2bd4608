package testutil

import (
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"bindery/internal/store"
)

// ChangesFeed fakes the wiki's recent-changes feed by swapping the
// default HTTP transport for the duration of a test.
type ChangesFeed struct {
	mu   sync.RWMutex
	xml  string
	etag string
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func NewChangesFeed(t *testing.T, feedXML string) (*ChangesFeed, string) {
	t.Helper()
	cf := &ChangesFeed{xml: feedXML}
	feedURL := "https://wiki.test/changes/" + url.PathEscape(t.Name())
	prevTransport := http.DefaultTransport
	http.DefaultTransport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != feedURL {
			return nil, fmt.Errorf("unexpected feed url: %s", req.URL.String())
		}
		cf.mu.RLock()
		defer cf.mu.RUnlock()
		header := http.Header{"Content-Type": []string{"application/rss+xml"}}
		if cf.etag != "" {
			if req.Header.Get("If-None-Match") == cf.etag {
				return &http.Response{
					StatusCode: http.StatusNotModified,
					Status:     "304 Not Modified",
					Header:     http.Header{},
					Body:       io.NopCloser(strings.NewReader("")),
					Request:    req,
				}, nil
			}
			header.Set("ETag", cf.etag)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(cf.xml)),
			Request:    req,
		}, nil
	})
	t.Cleanup(func() { http.DefaultTransport = prevTransport })
	return cf, feedURL
}

func (f *ChangesFeed) SetXML(xml string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.xml = xml
}

func (f *ChangesFeed) SetETag(etag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.etag = etag
}

// ChangeItem is one entry of a fake recent-changes feed.
type ChangeItem struct {
	Title   string
	Link    string
	GUID    string
	PubDate string
	Summary string
}

func ChangesXML(title string, items []ChangeItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("<rss version=\"2.0\"><channel>")
	b.WriteString(fmt.Sprintf("<title>%s</title>", title))
	b.WriteString("<link>http://wiki.test</link>")
	b.WriteString("<description>Recent changes</description>")
	for _, item := range items {
		b.WriteString("<item>")
		b.WriteString(fmt.Sprintf("<title>%s</title>", item.Title))
		b.WriteString(fmt.Sprintf("<link>%s</link>", item.Link))
		b.WriteString(fmt.Sprintf("<guid>%s</guid>", item.GUID))
		b.WriteString(fmt.Sprintf("<pubDate>%s</pubDate>", item.PubDate))
		b.WriteString(fmt.Sprintf("<description><![CDATA[%s]]></description>", item.Summary))
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := store.Init(db); err != nil {
		_ = db.Close()
		t.Fatalf("store.Init: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
