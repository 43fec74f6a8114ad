package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njust/KTail-sub000/pkg/core"
)

func TestMatcherAdvancesOffset(t *testing.T) {
	m := NewMatcher(nil)
	m.Set([]core.Rule{rule("e", "error")})

	corpus := []string{"no error here"}
	res := m.Apply(corpus, false)
	require.Len(t, res, 1)
	require.Len(t, res[0].Matches, 1)
	assert.Equal(t, core.SearchMatch{Line: 0, Start: 3, End: 8, RuleID: "e"}, res[0].Matches[0])

	corpus = append(corpus, "all good")
	res = m.Apply(corpus, false)
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].From)
	assert.False(t, res[0].Replace)
	assert.Empty(t, res[0].Matches)
}

func TestMatcherForceRescan(t *testing.T) {
	m := NewMatcher(nil)
	m.Set([]core.Rule{rule("e", "error")})
	corpus := []string{"error one", "error two"}
	m.Apply(corpus, false)

	res := m.Apply(corpus, true)
	require.Len(t, res, 1)
	assert.True(t, res[0].Replace)
	assert.Len(t, res[0].Matches, 2)
}

func TestMatcherPatternChangeRestarts(t *testing.T) {
	m := NewMatcher(nil)
	m.Set([]core.Rule{rule("e", "error")})
	corpus := []string{"error", "warn"}
	m.Apply(corpus, false)

	m.Set([]core.Rule{rule("e", "warn")})
	res := m.Apply(corpus, false)
	require.Len(t, res, 1)
	assert.True(t, res[0].Replace)
	require.Len(t, res[0].Matches, 1)
	assert.Equal(t, 1, res[0].Matches[0].Line)
}

func TestMatcherColorChangeKeepsOffset(t *testing.T) {
	m := NewMatcher(nil)
	m.Set([]core.Rule{rule("e", "error")})
	corpus := []string{"error"}
	m.Apply(corpus, false)

	recolored := rule("e", "error")
	recolored.Color = "#ff0000"
	m.Set([]core.Rule{recolored})
	res := m.Apply(corpus, false)
	require.Len(t, res, 1)
	assert.Empty(t, res[0].Matches)
	assert.Equal(t, "#ff0000", m.Rules()[0].Color)
}

func TestMatcherEmptyPatternDisables(t *testing.T) {
	m := NewMatcher(nil)
	m.Set([]core.Rule{rule("e", "")})
	assert.False(t, m.Active("e"))
	assert.Empty(t, m.Apply([]string{"anything"}, false))
	assert.Len(t, m.Rules(), 1, "disabled rules stay in the set")
}

func TestMatcherCompileErrorIsolated(t *testing.T) {
	m := NewMatcher(nil)
	m.Set([]core.Rule{rule("bad", "(unclosed"), rule("good", "ok")})

	assert.False(t, m.Active("bad"))
	assert.Error(t, m.Err("bad"))
	res := m.Apply([]string{"ok"}, false)
	require.Len(t, res, 1)
	assert.Equal(t, "good", res[0].RuleID)
}

func TestMatcherExtractor(t *testing.T) {
	r := rule("req", `request id=\w+`)
	r.Extractor = `id=(\w+)`
	whole := rule("status", `status=\d+`)
	whole.Extractor = `\d+`

	m := NewMatcher(nil)
	m.Set([]core.Rule{r, whole})
	res := m.Apply([]string{"GET / request id=abc123 status=200"}, false)
	require.Len(t, res, 2)
	assert.Equal(t, "abc123", res[0].Matches[0].ExtractedText)
	assert.Equal(t, "200", res[1].Matches[0].ExtractedText)
}

func TestMatcherExcluded(t *testing.T) {
	ex := rule("probe", "GET /healthz")
	ex.Kind = core.RuleExclude
	m := NewMatcher(nil)
	m.Set([]core.Rule{ex, rule("e", "error")})

	assert.True(t, m.HasExcludes())
	assert.True(t, m.Excluded("10.0.0.1 GET /healthz 200"))
	assert.False(t, m.Excluded("error"))

	res := m.Apply([]string{"GET /healthz"}, false)
	require.Len(t, res, 1, "exclude rules do not highlight")
	assert.Equal(t, "e", res[0].RuleID)
}

func TestMatcherRemove(t *testing.T) {
	m := NewMatcher(nil)
	m.Set([]core.Rule{rule("a", "x"), rule("b", "y")})
	d := m.Set([]core.Rule{rule("b", "y")})
	require.Len(t, d.Removed, 1)
	assert.False(t, m.Active("a"))
	_, ok := m.Rescan("a", []string{"x"})
	assert.False(t, ok)
}

func TestMatcherResetOffsets(t *testing.T) {
	m := NewMatcher(nil)
	m.Set([]core.Rule{rule("e", "error")})
	m.Apply([]string{"error"}, false)
	m.ResetOffsets()
	res := m.Apply([]string{"error"}, false)
	require.Len(t, res[0].Matches, 1)
}

func TestExtractIndex(t *testing.T) {
	x := NewExtractIndex()
	x.Add(core.SearchMatch{RuleID: "r", Line: 4, ExtractedText: "abc"})
	x.Add(core.SearchMatch{RuleID: "r", Line: 1, ExtractedText: "abc"})
	x.Add(core.SearchMatch{RuleID: "r", Line: 2, ExtractedText: "def"})
	x.Add(core.SearchMatch{RuleID: "r", Line: 3})

	groups := x.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "abc", groups[0].Text)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, []int{1, 4}, groups[0].Lines)

	x.Shift(2, 3)
	groups = x.Groups()
	assert.Equal(t, []int{1, 7}, groups[0].Lines)
	assert.Equal(t, []int{5}, groups[1].Lines)

	assert.Equal(t, []core.Bookmark{
		{RuleID: "r", Text: "abc", Line: 1},
		{RuleID: "r", Text: "def", Line: 5},
	}, x.Bookmarks())

	x.RemoveRule("r")
	assert.Empty(t, x.Groups())
}
