package markup

import (
	"regexp"
	"strings"
)

// Sentinel markers wrap spans that must pass through translation unchanged.
// They are plain ASCII so they survive inside attribute values as well as
// text nodes.
const (
	SentinelOpen  = "[[KEEP]]"
	SentinelClose = "[[/KEEP]]"
)

var (
	sentinelSpanRe = regexp.MustCompile(`(?s)\[\[KEEP\]\](.*?)\[\[/KEEP\]\]`)

	// Spans that translation engines tend to mangle: addresses, link
	// targets, and long uppercase or numeric codes.
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	urlRe   = regexp.MustCompile(`https?://[^\s"'<>]+`)
	codeRe  = regexp.MustCompile(`\b[A-Z0-9][A-Z0-9_/-]{7,}\b`)
)

// WrapSentinels marks every protected span in content. Already-marked spans
// are left alone.
func WrapSentinels(content string) string {
	for _, re := range []*regexp.Regexp{urlRe, emailRe, codeRe} {
		content = re.ReplaceAllStringFunc(content, func(match string) string {
			return SentinelOpen + match + SentinelClose
		})
	}
	// Collapse accidental double wrapping from overlapping patterns.
	for strings.Contains(content, SentinelOpen+SentinelOpen) {
		content = strings.ReplaceAll(content, SentinelOpen+SentinelOpen, SentinelOpen)
		content = strings.ReplaceAll(content, SentinelClose+SentinelClose, SentinelClose)
	}
	return content
}

// StripSentinels unwraps complete marker pairs, keeping the protected text.
func StripSentinels(content string) string {
	return sentinelSpanRe.ReplaceAllString(content, "$1")
}

// PurgeSentinels removes any marker tokens that survived stripping,
// including orphaned halves a model may have produced.
func PurgeSentinels(content string) string {
	content = StripSentinels(content)
	content = strings.ReplaceAll(content, SentinelOpen, "")
	content = strings.ReplaceAll(content, SentinelClose, "")
	return content
}

// CountSentinels counts open markers, matched or not.
func CountSentinels(content string) int {
	return strings.Count(content, SentinelOpen)
}

// HasSentinel reports whether content still carries any marker token.
func HasSentinel(content string) bool {
	return strings.Contains(content, SentinelOpen) || strings.Contains(content, SentinelClose)
}
