package markup

import (
	"regexp"
	"strings"
)

var (
	// Seam between a split container's close tag and the continuation
	// wrapper the chunker opened right after it.
	contSeamRe = regexp.MustCompile(`</div>\s*<[^>]+` + contAttr + `=["']?1["']?[^>]*>`)
	// html/head/body chrome some models wrap their output in.
	chromeRe = regexp.MustCompile(`(?i)</?(?:html|head|body)[^>]*>`)
)

// Reassemble joins chunk outputs back into the content Split was given:
// synthetic page wrappers are stripped, continuation seams are removed so
// split containers become whole again. Inputs must be in chunk-index order.
func Reassemble(chunks []string) string {
	if len(chunks) == 1 {
		return chunks[0]
	}
	var sb strings.Builder
	for _, chunk := range chunks {
		sb.WriteString(stripSyntheticWrapper(strings.TrimSpace(chunk)))
	}
	// Removing a seam can butt an earlier close tag up against a later
	// continuation wrapper (nested splits put a page seam inside a document
	// seam), so replace until a full pass finds nothing.
	out := sb.String()
	for {
		next := contSeamRe.ReplaceAllString(out, "")
		if next == out {
			return out
		}
		out = next
	}
}

// stripSyntheticWrapper removes the outermost wrapper of a chunk when the
// chunker itself added it. Source-owned containers are left alone.
func stripSyntheticWrapper(chunk string) string {
	if !strings.HasPrefix(chunk, "<") {
		return chunk
	}
	end := strings.Index(chunk, ">")
	if end < 0 {
		return chunk
	}
	open := chunk[:end+1]
	if !strings.Contains(open, chunkAttr) {
		return chunk
	}
	if !strings.HasSuffix(chunk, containerClose) {
		return chunk
	}
	return chunk[end+1 : len(chunk)-len(containerClose)]
}

// CombineResult carries the combined document plus the content-loss guard.
type CombineResult struct {
	Document string
	// SuspectedLoss is set when the combined output shrank below 80% of the
	// summed inputs, a signal that content was dropped along the way.
	SuspectedLoss bool
}

// Combine assembles per-page contents, in page order, into one document
// container. Redundant document/page wrappers and html/head/body chrome are
// stripped from each page first, and any surviving sentinel markers are
// purged as a final sweep.
func Combine(pages []string) CombineResult {
	inputLen := 0
	var sb strings.Builder
	sb.WriteString(`<div class="` + DocumentClass + `">` + "\n")
	for _, content := range pages {
		inputLen += len(content)
		content = chromeRe.ReplaceAllString(content, "")
		content = unwrapContainer(content, DocumentClass)
		content = unwrapContainer(content, PageClass)
		sb.WriteString(`<div class="` + PageClass + `">` + "\n")
		sb.WriteString(strings.TrimSpace(content))
		sb.WriteString("\n" + containerClose + "\n")
	}
	sb.WriteString(containerClose)

	doc := PurgeSentinels(sb.String())
	return CombineResult{
		Document:      doc,
		SuspectedLoss: inputLen > 0 && len(doc)*10 < inputLen*8,
	}
}

// unwrapContainer removes a single outer container of the given class.
func unwrapContainer(content string, class string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "<div") {
		return content
	}
	nodes, err := ParseFragment(trimmed)
	if err != nil {
		return content
	}
	root := singleElement(nodes)
	if root == nil || root.Data != "div" || !HasClass(root, class) {
		return content
	}
	return InnerHTML(root)
}
