package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var spaceRe = regexp.MustCompile(`\s+`)

func normalizeText(text string) string {
	text = spaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	return text
}

// nodeText walks n depth-first and joins its non-blank text nodes with a
// single space, so adjacent inline and block elements never run together.
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.CommentNode, html.DoctypeNode:
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return normalizeText(strings.Join(parts, " "))
}

func isHeading(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "h1", "h2", "h3", "h4":
		return true
	}
	return false
}

// precedingHeading returns the nearest earlier sibling of n that is a
// heading element.
func precedingHeading(n *html.Node) *html.Node {
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if isHeading(s) {
			return s
		}
	}
	return nil
}
