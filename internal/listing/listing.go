// Package listing extracts child entries from an HTML directory index page.
package listing

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mbanedar/stressfree/internal/entity"
)

// Parse returns the entries linked from a listing page in document order.
// Self and parent navigation anchors ("./", "../") are filtered out. Markup
// the tokenizer cannot make sense of yields an empty slice, never an error:
// listings from misbehaving servers are treated as empty directories.
func Parse(body []byte) []entity.RemoteEntry {
	entries := make([]entity.RemoteEntry, 0)

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return entries
	}

	for n := range doc.Descendants() {
		if n.Type != html.ElementNode || n.DataAtom != atom.A {
			continue
		}

		href, ok := attr(n, "href")
		if !ok || href == "" || href == "./" || href == "../" {
			continue
		}

		entries = append(entries, entity.RemoteEntry{
			Name:  href,
			IsDir: strings.HasSuffix(href, "/"),
		})
	}

	return entries
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}

	return "", false
}
