package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/lexiflow/doc-translator/internal/markup"
)

// OCR and vision models routinely mangle index and clause numbers. The
// fixes here only touch nodes carrying class="index" so prose stays intact.
var (
	// "L." misread for "1." at the start of a number.
	leadingLRe = regexp.MustCompile(`^L\.`)
	// Decimal separators misread as comma or semicolon: "1,2" -> "1.2".
	sepRe = regexp.MustCompile(`(\d)[,;](\d)`)
	// Spaces inside a dotted number: "1. 2. 3" -> "1.2.3".
	innerSpaceRe = regexp.MustCompile(`(\d)\.\s+(\d)`)

	indexLikeRe = regexp.MustCompile(`^(L\.|\d)[\d.,;\s]*$`)
)

// NormalizeIndexes repairs index numbering inside class="index" elements.
// Content that fails to parse is returned unchanged.
func NormalizeIndexes(content string) string {
	nodes, err := markup.ParseFragment(content)
	if err != nil {
		return content
	}
	changed := false
	for _, n := range nodes {
		if fixIndexNodes(n) {
			changed = true
		}
	}
	if !changed {
		return content
	}
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(markup.RenderNode(n))
	}
	return sb.String()
}

func fixIndexNodes(n *html.Node) bool {
	changed := false
	if n.Type == html.ElementNode && markup.HasClass(n, "index") {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.TextNode {
				continue
			}
			if fixed := NormalizeIndexText(c.Data); fixed != c.Data {
				c.Data = fixed
				changed = true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if fixIndexNodes(c) {
			changed = true
		}
	}
	return changed
}

// NormalizeIndexText applies the numbering fixes to one text run.
func NormalizeIndexText(s string) string {
	trimmed := strings.TrimSpace(s)
	if !indexLikeRe.MatchString(trimmed) {
		return s
	}
	out := leadingLRe.ReplaceAllString(trimmed, "1.")
	out = sepRe.ReplaceAllString(out, "$1.$2")
	out = innerSpaceRe.ReplaceAllString(out, "$1.$2")
	// Multi-level indexes end with a dot; restore it when dropped.
	if strings.Contains(out, ".") && !strings.HasSuffix(out, ".") {
		out += "."
	}
	return out
}
