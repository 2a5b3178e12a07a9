package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairAlignmentGraftsText(t *testing.T) {
	source := `<div class="page"><p>hello</p><p>world</p></div>`
	candidate := `<div><p>bonjour</p><p>monde</p></div>`

	out, ok := RepairAlignment(source, candidate)
	require.True(t, ok)
	assert.Contains(t, out, "bonjour")
	assert.Contains(t, out, "monde")
	// Source attributes are authoritative.
	assert.Contains(t, out, `class="page"`)
}

func TestRepairAlignmentKeepsDivergentSubtrees(t *testing.T) {
	source := `<div><p>one</p><table><tr><td>keep</td></tr></table></div>`
	candidate := `<div><p>uno</p><span>flattened table</span></div>`

	out, ok := RepairAlignment(source, candidate)
	require.True(t, ok)
	assert.Contains(t, out, "uno")
	assert.Contains(t, out, "keep")
	assert.NotContains(t, out, "flattened")
}

func TestRepairAlignmentRejectsUnusableCandidate(t *testing.T) {
	_, ok := RepairAlignment("<p>hello</p>", "")
	assert.False(t, ok)

	_, ok = RepairAlignment("<p>hello</p>", "plain prose with no markup at all")
	assert.False(t, ok)
}

func TestRepairAlignmentShorterCandidate(t *testing.T) {
	source := `<div><p>a</p></div><div><p>b</p></div>`
	candidate := `<div><p>x</p></div>`

	out, ok := RepairAlignment(source, candidate)
	require.True(t, ok)
	assert.Contains(t, out, "x")
	assert.Contains(t, out, "b")
}
