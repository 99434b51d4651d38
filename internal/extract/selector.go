package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	editionPathRe  = regexp.MustCompile(`/edicion-([0-9]+(?:-[A-Z])?)`)
	editionParamRe = regexp.MustCompile(`edition=([0-9]+(?:-[A-Z])?)`)
	editionTextRe  = regexp.MustCompile(`^\s*([0-9]+(?:-[A-Z])?)\s*$`)
)

// SelectedEdition reads the edition the landing page has selected. It looks
// at select#ediciones, then at any select whose options point at editions.
// With no option marked selected the first option wins, as in a browser.
func SelectedEdition(page string) (string, bool) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", false
	}
	var selects []*html.Node
	walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "select" {
			selects = append(selects, n)
		}
	})

	var chosen *html.Node
	for _, s := range selects {
		if getAttr(s, "id") == "ediciones" {
			chosen = s
			break
		}
	}
	if chosen == nil {
	search:
		for _, s := range selects {
			for _, o := range options(s) {
				if _, ok := editionOf(o); ok {
					chosen = s
					break search
				}
			}
		}
	}
	if chosen == nil {
		return "", false
	}

	opts := options(chosen)
	if len(opts) == 0 {
		return "", false
	}
	selected := opts[0]
	for _, o := range opts {
		if hasAttr(o, "selected") {
			selected = o
			break
		}
	}
	return editionOf(selected)
}

func editionOf(opt *html.Node) (string, bool) {
	value := getAttr(opt, "value")
	if m := editionPathRe.FindStringSubmatch(value); m != nil {
		return m[1], true
	}
	if m := editionParamRe.FindStringSubmatch(value); m != nil {
		return m[1], true
	}
	if m := editionTextRe.FindStringSubmatch(value); m != nil {
		return m[1], true
	}
	if m := editionTextRe.FindStringSubmatch(getTextContent(opt)); m != nil {
		return m[1], true
	}
	return "", false
}

func options(sel *html.Node) []*html.Node {
	var out []*html.Node
	walk(sel, func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "option" {
			out = append(out, n)
		}
	})
	return out
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func getTextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(getTextContent(c))
	}
	return sb.String()
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}
