package knowledge

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

// Thresholds for picking readable blocks out of an HTML page.
const (
	minBlockTextLength = 50
	maxLinkDensity     = 0.5
	minTextDensity     = 10.0
	maxBlocks          = 200
)

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"iframe": true, "object": true, "embed": true,
	"nav": true, "header": true, "footer": true, "aside": true,
}

var skippedClasses = []string{
	"sidebar", "menu", "nav", "advertisement",
	"cookie", "popup", "modal", "banner", "widget",
}

func isHTML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

func skipped(s *goquery.Selection) bool {
	if skippedTags[goquery.NodeName(s)] {
		return true
	}
	cls, _ := s.Attr("class")
	if cls == "" {
		return false
	}
	lower := strings.ToLower(cls)
	for _, c := range skippedClasses {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

type block struct {
	node *html.Node
	text string
}

func encloses(parent, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == parent {
			return true
		}
	}
	return false
}

func dense(s *goquery.Selection, text string) bool {
	n := len(text)
	if n < minBlockTextLength {
		return false
	}
	links := 0
	s.Find("a").Each(func(_ int, a *goquery.Selection) {
		links += len(strings.TrimSpace(a.Text()))
	})
	if float64(links)/float64(n) >= maxLinkDensity {
		return false
	}
	tags := max(s.Children().Length(), 1)
	return float64(n)/float64(tags) >= minTextDensity
}

// HTMLText reduces an HTML document to its title and readable prose.
// Navigation chrome and scripts are dropped; each dense block becomes a
// paragraph. A page without dense blocks falls back to the body text.
func HTMLText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "parse html")
	}

	var blocks []block
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Children().Each(func(_ int, child *goquery.Selection) {
			if !skipped(child) {
				walk(child)
			}
		})
		if len(s.Nodes) == 0 || s.Nodes[0].Type != html.ElementNode || skipped(s) {
			return
		}
		node := s.Nodes[0]
		text := strings.TrimSpace(s.Text())
		if !dense(s, text) {
			return
		}

		// Keep the innermost dense blocks so text is not repeated.
		for _, b := range blocks {
			if encloses(node, b.node) {
				return
			}
		}
		blocks = append(blocks, block{node: node, text: text})
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	walk(body)
	if len(blocks) > maxBlocks {
		blocks = blocks[:maxBlocks]
	}

	var sb strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		sb.WriteString("# ")
		sb.WriteString(title)
		sb.WriteString("\n\n")
	}
	if len(blocks) == 0 {
		body.Find("script, style, noscript").Remove()
		sb.WriteString(collapseWhitespace(strings.TrimSpace(body.Text())))
		return strings.TrimSpace(sb.String()), nil
	}
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(collapseWhitespace(b.text))
	}
	return sb.String(), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
