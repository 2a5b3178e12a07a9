package markup

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Container classes used throughout the pipeline. Extracted pages are
// wrapped in page containers and the final output in a single document
// container.
const (
	DocumentClass = "document"
	PageClass     = "page"

	// chunkAttr marks a wrapper the chunker added itself, so recombination
	// can tell it apart from containers that belong to the source.
	chunkAttr = "data-chunk"
	// contAttr marks a continuation fragment of a split container whose
	// content must be merged back into the preceding fragment.
	contAttr = "data-cont"
)

// ParseFragment parses an HTML fragment as div content and returns its
// top-level nodes.
func ParseFragment(content string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	return html.ParseFragment(strings.NewReader(content), ctx)
}

// Render serializes a list of nodes back to HTML.
func Render(nodes []*html.Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		_ = html.Render(&sb, n)
	}
	return sb.String()
}

// RenderNode serializes a single node.
func RenderNode(n *html.Node) string {
	var sb strings.Builder
	_ = html.Render(&sb, n)
	return sb.String()
}

// InnerHTML serializes the children of a node.
func InnerHTML(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&sb, c)
	}
	return sb.String()
}

// Children returns the direct children of a node as a slice.
func Children(n *html.Node) []*html.Node {
	var ret []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		ret = append(ret, c)
	}
	return ret
}

// HasClass reports whether an element node carries the given class.
func HasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func hasAttr(n *html.Node, key string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

// singleElement returns the sole element node of a fragment, ignoring
// whitespace-only text around it, or nil if the fragment has more than one.
func singleElement(nodes []*html.Node) *html.Node {
	var found *html.Node
	for _, n := range nodes {
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) == "" {
			continue
		}
		if found != nil {
			return nil
		}
		found = n
	}
	if found == nil || found.Type != html.ElementNode {
		return nil
	}
	return found
}

// Text extracts the visible text of a fragment, joined by spaces. Content
// that fails to parse is returned as-is.
func Text(content string) string {
	nodes, err := ParseFragment(content)
	if err != nil {
		return content
	}
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// Normalize reparses and re-serializes content so structurally equal
// documents compare byte-equal regardless of attribute quoting or entity
// spelling in the input.
func Normalize(content string) string {
	nodes, err := ParseFragment(content)
	if err != nil {
		return content
	}
	return Render(nodes)
}
