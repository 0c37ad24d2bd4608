// Package outline parses and writes book outline documents, the XML
// interchange format for exporting and importing a book's contents.
package outline

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	rootName   = "book"
	docVersion = "1.0"
	xmlIndent  = "  "
)

// Item kinds carried in the outline. Anything else is dropped on
// parse.
const (
	KindArticle = "article"
	KindChapter = "chapter"
)

// Item is one ordered member of a book outline: an article with an
// optional pinned revision, or a chapter heading.
type Item struct {
	Kind       string
	Title      string
	RevisionID int64
}

type document struct {
	XMLName xml.Name `xml:"book"`
	Version string   `xml:"version,attr,omitempty"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title string `xml:"title,omitempty"`
}

type body struct {
	Items []entry `xml:"item"`
}

type entry struct {
	Kind     string `xml:"kind,attr,omitempty"`
	Title    string `xml:"title,attr,omitempty"`
	Revision string `xml:"revision,attr,omitempty"`
}

var errInvalidRoot = errors.New("invalid outline: expected root <book>")

// Parse decodes an outline document from r. Entries without a title
// or with an unknown kind are dropped; a malformed revision attribute
// falls back to the unpinned revision.
func Parse(r io.Reader) ([]Item, error) {
	var doc document

	err := xml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("invalid outline: %w", err)
	}

	if !strings.EqualFold(doc.XMLName.Local, rootName) {
		return nil, errInvalidRoot
	}

	var items []Item

	for _, current := range doc.Body.Items {
		title := strings.TrimSpace(current.Title)
		if title == "" {
			continue
		}

		kind := strings.ToLower(strings.TrimSpace(current.Kind))
		if kind == "" {
			kind = KindArticle
		}
		if kind != KindArticle && kind != KindChapter {
			continue
		}

		item := Item{Kind: kind, Title: title}

		if kind == KindArticle {
			revision, parseErr := strconv.ParseInt(strings.TrimSpace(current.Revision), 10, 64)
			if parseErr == nil && revision > 0 {
				item.RevisionID = revision
			}
		}

		items = append(items, item)
	}

	return items, nil
}

// Write encodes items as an outline document and writes it to writer.
func Write(writer io.Writer, title string, items []Item) error {
	doc := document{
		XMLName: xml.Name{
			Space: "",
			Local: rootName,
		},
		Version: docVersion,
		Head:    head{Title: strings.TrimSpace(title)},
		Body:    body{Items: buildEntries(items)},
	}

	_, err := io.WriteString(writer, xml.Header)
	if err != nil {
		return fmt.Errorf("write XML header: %w", err)
	}

	encoder := xml.NewEncoder(writer)

	defer func() {
		err = encoder.Close()
		if err != nil {
			slog.Warn("close outline encoder", "err", err)
		}
	}()

	encoder.Indent("", xmlIndent)

	err = encoder.Encode(doc)
	if err != nil {
		return fmt.Errorf("encode outline: %w", err)
	}

	flushErr := encoder.Flush()
	if flushErr != nil {
		return fmt.Errorf("flush outline encoder: %w", flushErr)
	}

	return nil
}

func buildEntries(items []Item) []entry {
	var entries []entry

	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}

		kind := strings.ToLower(strings.TrimSpace(item.Kind))
		if kind == "" {
			kind = KindArticle
		}
		if kind != KindArticle && kind != KindChapter {
			continue
		}

		current := entry{Kind: kind, Title: title}

		if kind == KindArticle && item.RevisionID > 0 {
			current.Revision = strconv.FormatInt(item.RevisionID, 10)
		}

		entries = append(entries, current)
	}

	return entries
}
