// Package wiki models page references on the host wiki: namespaces,
// title normalization, and URL construction.
package wiki

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Namespace numbers match the host platform's canonical numbering.
// Odd numbers are the talk namespace of the preceding even number.
const (
	NamespaceSpecial      = -1
	NamespaceMain         = 0
	NamespaceTalk         = 1
	NamespaceUser         = 2
	NamespaceUserTalk     = 3
	NamespaceProject      = 4
	NamespaceProjectTalk  = 5
	NamespaceFile         = 6
	NamespaceFileTalk     = 7
	NamespaceTemplate     = 10
	NamespaceTemplateTalk = 11
	NamespaceHelp         = 12
	NamespaceHelpTalk     = 13
	NamespaceCategory     = 14
	NamespaceCategoryTalk = 15
)

var namespaceNames = map[int]string{
	NamespaceSpecial:      "Special",
	NamespaceMain:         "",
	NamespaceTalk:         "Talk",
	NamespaceUser:         "User",
	NamespaceUserTalk:     "User talk",
	NamespaceProject:      "Project",
	NamespaceProjectTalk:  "Project talk",
	NamespaceFile:         "File",
	NamespaceFileTalk:     "File talk",
	NamespaceTemplate:     "Template",
	NamespaceTemplateTalk: "Template talk",
	NamespaceHelp:         "Help",
	NamespaceHelpTalk:     "Help talk",
	NamespaceCategory:     "Category",
	NamespaceCategoryTalk: "Category talk",
}

var namespacesByName = buildNamespaceIndex()

func buildNamespaceIndex() map[string]int {
	index := make(map[string]int, len(namespaceNames))
	for ns, name := range namespaceNames {
		if name == "" {
			continue
		}
		index[strings.ToLower(name)] = ns
	}
	return index
}

// Page is an immutable per-request snapshot of one wiki page.
type Page struct {
	Namespace   int
	Title       string
	Exists      bool
	LatestRevID int64
}

// FullTitle returns the canonical prefixed form, e.g. "Category:Birds".
func (p Page) FullTitle() string {
	prefix := namespaceNames[p.Namespace]
	if prefix == "" {
		return p.Title
	}
	return prefix + ":" + p.Title
}

// IsCategory reports whether the page lives in the category namespace.
func (p Page) IsCategory() bool {
	return p.Namespace == NamespaceCategory
}

// NamespaceName returns the display prefix for a namespace number; the
// main namespace has no prefix.
func NamespaceName(ns int) string {
	return namespaceNames[ns]
}

// ParseFullTitle splits a prefixed title into namespace and title text.
// Unknown prefixes stay part of a main-namespace title, mirroring how
// the host treats unregistered prefixes.
func ParseFullTitle(full string) (int, string) {
	normalized := NormalizeTitle(full)
	prefix, rest, found := strings.Cut(normalized, ":")
	if !found {
		return NamespaceMain, normalized
	}
	ns, ok := namespacesByName[strings.ToLower(strings.TrimSpace(prefix))]
	if !ok {
		return NamespaceMain, normalized
	}
	return ns, NormalizeTitle(rest)
}

// NormalizeTitle converts underscores to spaces, collapses runs of
// whitespace, trims, and capitalizes the first letter.
func NormalizeTitle(raw string) string {
	cleaned := strings.Join(strings.Fields(strings.ReplaceAll(raw, "_", " ")), " ")
	if cleaned == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(cleaned)
	return string(unicode.ToUpper(first)) + cleaned[size:]
}
