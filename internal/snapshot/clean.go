package snapshot

import (
	"strings"

	"golang.org/x/net/html"
)

// droppedElements are removed wholesale from the cleaned markup: executable
// content and decorative vector graphics carry no training signal and can be
// enormous.
var droppedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"svg":      true,
	"noscript": true,
}

// CleanMarkup parses raw HTML, strips scripts, styles and decorative vector
// content, truncates any single attribute value longer than MaxAttrChars and
// re-serializes the result, capped at MaxMarkupChars. If the input does not
// parse, the raw input is returned truncated instead; cleaning degrades, it
// never fails.
func CleanMarkup(raw string) string {
	if raw == "" {
		return ""
	}

	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Truncate(raw, MaxMarkupChars)
	}

	prune(root)

	var sb strings.Builder
	if err := html.Render(&sb, root); err != nil {
		return Truncate(raw, MaxMarkupChars)
	}
	return Truncate(sb.String(), MaxMarkupChars)
}

// prune removes dropped elements and truncates oversized attribute values,
// depth-first.
func prune(n *html.Node) {
	for i := range n.Attr {
		n.Attr[i].Val = Truncate(n.Attr[i].Val, MaxAttrChars)
	}

	var next *html.Node
	for child := n.FirstChild; child != nil; child = next {
		next = child.NextSibling
		if child.Type == html.ElementNode && droppedElements[child.Data] {
			n.RemoveChild(child)
			continue
		}
		prune(child)
	}
}

// Truncate bounds s to at most n bytes. Applied deterministically by
// position, not relevance.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
