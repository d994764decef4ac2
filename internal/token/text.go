package token

import (
	"strings"

	"golang.org/x/net/html"
)

var skippedTextTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"svg": true, "head": true, "iframe": true,
}

// ExtractText renders the visible text of an HTML document: text nodes only,
// script/style/head subtrees skipped, whitespace collapsed. A parse failure
// degrades to a regex tag strip rather than returning an error, since text
// extraction feeds estimation and must not abort a request.
func ExtractText(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return collapseWhitespace(tagRe.ReplaceAllString(markup, " "))
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedTextTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return collapseWhitespace(sb.String())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
