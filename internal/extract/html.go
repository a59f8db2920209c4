package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"

	"git.home.luguber.info/inful/driveorg/internal/faults"
)

// HTML extracts visible text from HTML documents, skipping script and style
// subtrees.
type HTML struct{}

func (HTML) Extract(_ context.Context, path string, budget int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w: %v", path, faults.ErrIO, err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w: %v", path, faults.ErrCorrupt, err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if int64(b.Len()) > budget {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return truncate(b.String(), budget), nil
}
