package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombine_WrapsPagesInDocument(t *testing.T) {
	res := Combine([]string{"<p>uno</p>", "<p>dos</p>"})

	require.False(t, res.SuspectedLoss)
	assert.True(t, strings.HasPrefix(res.Document, `<div class="document">`))
	assert.Equal(t, 2, strings.Count(res.Document, `<div class="page">`))
	assert.Contains(t, res.Document, "<p>uno</p>")
	assert.Contains(t, res.Document, "<p>dos</p>")
}

func TestCombine_StripsRedundantWrappers(t *testing.T) {
	pages := []string{
		`<html><body><div class="page"><p>uno</p></div></body></html>`,
		`<div class="document"><p>dos</p></div>`,
	}
	res := Combine(pages)

	// Exactly one document wrapper and one page wrapper per input page.
	assert.Equal(t, 1, strings.Count(res.Document, `class="document"`))
	assert.Equal(t, 2, strings.Count(res.Document, `class="page"`))
	assert.NotContains(t, res.Document, "<html")
	assert.NotContains(t, res.Document, "<body")
}

func TestCombine_FlagsSuspectedLoss(t *testing.T) {
	big := strings.Repeat("x", 4000)
	res := Combine([]string{big, ""})
	assert.False(t, res.SuspectedLoss)

	// A page that collapses to nothing after stripping accounts for most of
	// the input size: flag it.
	hollow := "<html><body>" + strings.Repeat(" ", 4000) + "</body></html>"
	res = Combine([]string{hollow})
	assert.True(t, res.SuspectedLoss)
}

func TestCombine_PurgesSurvivingSentinels(t *testing.T) {
	res := Combine([]string{"<p>mail " + SentinelOpen + "a@b.com" + SentinelClose + "</p>"})
	assert.NotContains(t, res.Document, SentinelOpen)
	assert.NotContains(t, res.Document, SentinelClose)
	assert.Contains(t, res.Document, "a@b.com")
}

func TestSentinel_WrapStripRoundTrip(t *testing.T) {
	in := `<p>Contact support@example.com or visit https://example.com/help quoting REF-2024-00042.</p>`
	wrapped := WrapSentinels(in)

	assert.Contains(t, wrapped, SentinelOpen+"support@example.com"+SentinelClose)
	assert.Contains(t, wrapped, SentinelOpen+"https://example.com/help"+SentinelClose)
	assert.Contains(t, wrapped, SentinelOpen+"REF-2024-00042"+SentinelClose)
	assert.Equal(t, 3, CountSentinels(wrapped))

	assert.Equal(t, in, StripSentinels(wrapped))
	assert.False(t, HasSentinel(StripSentinels(wrapped)))
}

func TestSentinel_PurgeRemovesOrphans(t *testing.T) {
	mangled := "<p>" + SentinelOpen + "kept text</p>"
	assert.Equal(t, "<p>kept text</p>", PurgeSentinels(mangled))
}

func TestSentinel_PlainProseUntouched(t *testing.T) {
	in := "<p>Nothing here needs protecting at all.</p>"
	assert.Equal(t, in, WrapSentinels(in))
}
