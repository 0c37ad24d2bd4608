package wiki

import (
	"net/url"
	"strings"
)

// URLBuilder constructs absolute URLs on the host wiki.
type URLBuilder struct {
	Base        string
	ArticlePath string
	ScriptPath  string
}

// ArticleURL returns the pretty path to a page, e.g.
// https://wiki.example.org/wiki/Category:Birds.
func (b URLBuilder) ArticleURL(fullTitle string) string {
	return strings.TrimSuffix(b.Base, "/") + b.articlePath() + EscapeTitle(fullTitle)
}

// ArticleQueryURL returns the script-path form used whenever extra
// query parameters ride along, e.g.
// https://wiki.example.org/index.php?title=Birds&printable=yes.
func (b URLBuilder) ArticleQueryURL(fullTitle string, query url.Values) string {
	values := url.Values{}
	values.Set("title", strings.ReplaceAll(fullTitle, " ", "_"))
	for key, list := range query {
		for _, value := range list {
			values.Add(key, value)
		}
	}
	return strings.TrimSuffix(b.Base, "/") + b.scriptPath() + "?" + values.Encode()
}

func (b URLBuilder) articlePath() string {
	path := b.ArticlePath
	if path == "" {
		path = "/wiki/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}

func (b URLBuilder) scriptPath() string {
	path := b.ScriptPath
	if path == "" {
		path = "/index.php"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// EscapeTitle renders a title as a path segment: spaces become
// underscores and reserved characters are percent-encoded, keeping
// subpage slashes readable the way the host does.
func EscapeTitle(fullTitle string) string {
	escaped := url.PathEscape(strings.ReplaceAll(fullTitle, " ", "_"))
	return strings.ReplaceAll(escaped, "%2F", "/")
}
