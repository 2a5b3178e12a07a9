package translate

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/lexiflow/doc-translator/internal/markup"
)

// RepairAlignment rebuilds a model response against the source fragment's
// tree. The source structure is authoritative: wherever the two trees line
// up, the candidate's text is grafted onto the source node; wherever they
// diverge, the source subtree is kept untranslated. It reports false when
// the candidate is unusable outright.
func RepairAlignment(source, candidate string) (string, bool) {
	if strings.TrimSpace(candidate) == "" {
		return "", false
	}
	srcNodes, err := markup.ParseFragment(source)
	if err != nil || len(srcNodes) == 0 {
		return "", false
	}
	candNodes, err := markup.ParseFragment(candidate)
	if err != nil || len(candNodes) == 0 {
		return "", false
	}

	grafted := alignLists(srcNodes, candNodes)
	if !grafted {
		return "", false
	}
	return markup.Render(srcNodes), true
}

// alignLists pairs sibling lists positionally and reports whether any text
// was grafted anywhere in the descent.
func alignLists(src, cand []*html.Node) bool {
	grafted := false
	n := len(src)
	if len(cand) < n {
		n = len(cand)
	}
	for i := 0; i < n; i++ {
		if alignNode(src[i], cand[i]) {
			grafted = true
		}
	}
	return grafted
}

func alignNode(src, cand *html.Node) bool {
	if src.Type == html.TextNode && cand.Type == html.TextNode {
		if strings.TrimSpace(cand.Data) == "" {
			return false
		}
		src.Data = cand.Data
		return true
	}
	if src.Type != html.ElementNode || cand.Type != html.ElementNode || src.Data != cand.Data {
		return false
	}
	return alignLists(markup.Children(src), markup.Children(cand))
}
