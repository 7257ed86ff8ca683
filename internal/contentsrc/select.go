package contentsrc

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// filterDocument parses raw HTML and renders the subtrees the selectors
// pick, concatenated in selector order. Selectors that match nothing are
// skipped, but a non-empty filter that matches nothing at all is an
// error. With no filter the document's body is rendered whole.
func filterDocument(raw []byte, selectors []string) (string, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	if len(selectors) == 0 {
		node := findFirst(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "body"
		})
		if node == nil {
			node = doc
		}
		return renderChildren(node)
	}

	var buf bytes.Buffer
	matched := 0
	for _, sel := range selectors {
		node := selectNode(doc, sel)
		if node == nil {
			continue
		}
		matched++
		if err := html.Render(&buf, node); err != nil {
			return "", fmt.Errorf("render %q: %w", sel, err)
		}
	}
	if matched == 0 {
		return "", fmt.Errorf("render filter %v matched nothing", selectors)
	}
	return buf.String(), nil
}

// selectNode resolves one selector: "#id", ".class", or a bare tag name.
func selectNode(doc *html.Node, sel string) *html.Node {
	switch {
	case strings.HasPrefix(sel, "#"):
		id := strings.TrimPrefix(sel, "#")
		return findFirst(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && attrVal(n, "id") == id
		})
	case strings.HasPrefix(sel, "."):
		class := strings.TrimPrefix(sel, ".")
		return findFirst(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && hasClass(n, class)
		})
	default:
		return findFirst(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == sel
		})
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrVal(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// renderChildren renders the children of node, leaving out the node's own
// tag. Used for whole-body rendering so the output is a fragment, not a
// document.
func renderChildren(node *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render body: %w", err)
		}
	}
	return buf.String(), nil
}
