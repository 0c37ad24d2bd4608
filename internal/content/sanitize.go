// Package content cleans third-party HTML before it reaches a
// template. Suggestion summaries come straight from the wiki's
// changes feed and are treated as hostile input.
package content

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements removed wholesale, subtree included.
var droppedElements = map[string]bool{
	"script": true,
	"style":  true,
	"iframe": true,
	"object": true,
	"embed":  true,
	"img":    true,
	"source": true,
	"form":   true,
}

// SanitizeSummaryHTML strips active content from a feed summary and
// absolutizes anchor targets against the wiki base URL. Input that
// contains no markup passes through untouched.
func SanitizeSummaryHTML(text, baseURLRaw string) string {
	if !strings.Contains(text, "<") {
		return text
	}

	base := parseSummaryBaseURL(baseURLRaw)

	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(text), root)
	if err != nil {
		return ""
	}

	changed := false
	kept := nodes[:0]
	for _, node := range nodes {
		if node.Type == html.ElementNode && droppedElements[node.Data] {
			changed = true
			continue
		}
		if sanitizeNode(node, base) {
			changed = true
		}
		kept = append(kept, node)
	}
	if !changed {
		return text
	}

	var b strings.Builder
	for _, node := range kept {
		_ = html.Render(&b, node)
	}
	return b.String()
}

func sanitizeNode(node *html.Node, base *url.URL) bool {
	changed := false

	for child := node.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.ElementNode && droppedElements[child.Data] {
			node.RemoveChild(child)
			changed = true
		} else if sanitizeNode(child, base) {
			changed = true
		}
		child = next
	}

	if node.Type != html.ElementNode {
		return changed
	}

	if stripEventAttrs(node) {
		changed = true
	}

	if node.Data == "a" {
		if rewriteAttr(node, "href", func(value string) (string, bool) {
			return safeAnchorHref(value, base)
		}) {
			changed = true
		}
		if upsertAttr(node, "target", "_blank") {
			changed = true
		}
		if ensureRelTokens(node, "noopener", "noreferrer") {
			changed = true
		}
	}

	return changed
}

// safeAnchorHref resolves relative links against the wiki base and
// defangs anything that is not plain http(s).
func safeAnchorHref(value string, base *url.URL) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return "#", true
	}

	if ref.IsAbs() {
		if ref.Scheme == "http" || ref.Scheme == "https" {
			return "", false
		}
		return "#", true
	}

	if base == nil {
		return "", false
	}

	return base.ResolveReference(ref).String(), true
}

func stripEventAttrs(node *html.Node) bool {
	changed := false
	kept := node.Attr[:0]
	for _, attr := range node.Attr {
		if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
			changed = true
			continue
		}
		kept = append(kept, attr)
	}
	node.Attr = kept
	return changed
}

func rewriteAttr(node *html.Node, key string, rewrite func(string) (string, bool)) bool {
	for i, attr := range node.Attr {
		if attr.Key != key {
			continue
		}
		if updated, ok := rewrite(attr.Val); ok {
			node.Attr[i].Val = updated
			return true
		}
		return false
	}
	return false
}

func upsertAttr(node *html.Node, key, value string) bool {
	for i, attr := range node.Attr {
		if attr.Key != key {
			continue
		}
		if attr.Val == value {
			return false
		}
		node.Attr[i].Val = value
		return true
	}
	node.Attr = append(node.Attr, html.Attribute{Key: key, Val: value})
	return true
}

func ensureRelTokens(node *html.Node, required ...string) bool {
	index := -1
	tokens := []string{}
	existing := map[string]bool{}
	for i, attr := range node.Attr {
		if attr.Key != "rel" {
			continue
		}
		index = i
		for _, token := range strings.Fields(attr.Val) {
			tokens = append(tokens, token)
			existing[strings.ToLower(token)] = true
		}
		break
	}

	changed := false
	for _, token := range required {
		normalized := strings.ToLower(token)
		if existing[normalized] {
			continue
		}
		tokens = append(tokens, token)
		existing[normalized] = true
		changed = true
	}

	if index >= 0 {
		if !changed {
			return false
		}
		node.Attr[index].Val = strings.Join(tokens, " ")
		return true
	}

	node.Attr = append(node.Attr, html.Attribute{Key: "rel", Val: strings.Join(required, " ")})
	return true
}

// parseSummaryBaseURL keeps resolution deterministic by accepting only
// absolute http(s) URLs with a host.
func parseSummaryBaseURL(raw string) *url.URL {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil
	}
	return parsed
}
