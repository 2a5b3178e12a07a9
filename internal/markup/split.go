package markup

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const containerClose = "</div>"

// Split divides structured content into chunks no larger than maxSize.
// Boundaries are tried in order of preference: page containers, direct
// child elements, tag-closing boundaries found by text search, and fixed
// byte offsets as a last resort. Each chunk is re-wrapped in the container
// tags of its source so it stays independently well-formed; continuation
// wrappers are tagged so Reassemble can remove them again.
//
// Invariant: Reassemble(Split(content, max)) parses to the same structural
// tree as content.
func Split(content string, maxSize int) []string {
	if maxSize <= 0 || len(content) <= maxSize {
		return []string{content}
	}

	nodes, err := ParseFragment(content)
	if err != nil {
		return splitRaw(content, maxSize)
	}

	if root := singleElement(nodes); root != nil {
		switch {
		case HasClass(root, DocumentClass):
			return splitDocument(root, maxSize)
		case HasClass(root, PageClass):
			return splitContainer(root, maxSize)
		}
	}

	// Bare page content: group the top-level nodes and wrap every group in
	// a synthetic page container.
	open := syntheticPageOpen()
	budget := innerBudget(maxSize, open)
	pieces := packNodes(nodes, budget)
	chunks := make([]string, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, open+p+containerClose)
	}
	return chunks
}

// splitDocument splits at page-container boundaries first. The first chunk
// keeps the document's own open tag; continuation chunks are tagged.
func splitDocument(root *html.Node, maxSize int) []string {
	open := openTag(root, false)
	budget := innerBudget(maxSize, openTag(root, true))

	var pieces []string
	for _, child := range Children(root) {
		rendered := RenderNode(child)
		if len(rendered) <= budget {
			pieces = append(pieces, rendered)
			continue
		}
		if HasClass(child, PageClass) {
			pieces = append(pieces, splitContainer(child, budget)...)
			continue
		}
		pieces = append(pieces, splitRaw(rendered, budget)...)
	}

	groups := packStrings(pieces, budget)
	chunks := make([]string, 0, len(groups))
	for i, g := range groups {
		tag := open
		if i > 0 {
			tag = openTag(root, true)
		}
		chunks = append(chunks, tag+g+containerClose)
	}
	return chunks
}

// splitContainer splits one oversized container element at its direct child
// boundaries. The first fragment keeps the element's original open tag.
func splitContainer(el *html.Node, maxSize int) []string {
	open := openTag(el, false)
	contOpen := openTag(el, true)
	budget := innerBudget(maxSize, contOpen)

	pieces := packNodes(Children(el), budget)
	chunks := make([]string, 0, len(pieces))
	for i, p := range pieces {
		tag := open
		if i > 0 {
			tag = contOpen
		}
		chunks = append(chunks, tag+p+containerClose)
	}
	return chunks
}

// packNodes greedily groups sibling nodes into rendered pieces of at most
// max bytes, falling back to raw splitting for a single oversized node.
func packNodes(nodes []*html.Node, max int) []string {
	var pieces []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			pieces = append(pieces, cur.String())
			cur.Reset()
		}
	}

	for _, n := range nodes {
		rendered := RenderNode(n)
		if len(rendered) > max {
			flush()
			pieces = append(pieces, splitRaw(rendered, max)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(rendered) > max {
			flush()
		}
		cur.WriteString(rendered)
	}
	flush()
	return pieces
}

// packStrings greedily concatenates already-rendered pieces up to max bytes
// per group. Pieces larger than max (single atomic elements) pass through
// as their own group.
func packStrings(pieces []string, max int) []string {
	var groups []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			groups = append(groups, cur.String())
			cur.Reset()
		}
	}

	for _, p := range pieces {
		if cur.Len() > 0 && cur.Len()+len(p) > max {
			flush()
		}
		cur.WriteString(p)
		if cur.Len() >= max {
			flush()
		}
	}
	flush()
	return groups
}

// splitRaw cuts content that has no usable structural boundary, preferring
// the end of the last closing tag inside the window, then a fixed byte
// offset aligned to a rune boundary.
func splitRaw(content string, max int) []string {
	if max <= 0 {
		return []string{content}
	}
	var ret []string
	rest := content
	for len(rest) > max {
		cut := lastTagClose(rest[:max])
		if cut <= 0 {
			cut = runeCut(rest, max)
		}
		ret = append(ret, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		ret = append(ret, rest)
	}
	return ret
}

// lastTagClose returns the offset just past the last complete closing tag
// in the window, or -1 if there is none.
func lastTagClose(window string) int {
	for {
		i := strings.LastIndex(window, "</")
		if i < 0 {
			return -1
		}
		j := strings.Index(window[i:], ">")
		if j >= 0 {
			return i + j + 1
		}
		// Closing tag truncated by the window edge; look before it.
		window = window[:i]
	}
}

// runeCut returns max adjusted backwards so the cut does not land inside a
// multi-byte rune.
func runeCut(s string, max int) int {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return max
	}
	return cut
}

// innerBudget returns the content budget left inside a wrapper.
func innerBudget(maxSize int, open string) int {
	b := maxSize - len(open) - len(containerClose)
	if b < 64 {
		b = 64
	}
	return b
}

// openTag renders the element's open tag, optionally marked as a
// continuation fragment.
func openTag(n *html.Node, cont bool) string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(n.Data)
	for _, attr := range n.Attr {
		sb.WriteByte(' ')
		sb.WriteString(attr.Key)
		sb.WriteString(`="`)
		sb.WriteString(html.EscapeString(attr.Val))
		sb.WriteByte('"')
	}
	if cont {
		sb.WriteString(` ` + contAttr + `="1"`)
	}
	sb.WriteByte('>')
	return sb.String()
}

func syntheticPageOpen() string {
	return `<div class="` + PageClass + `" ` + chunkAttr + `="1">`
}
