package rules

import (
	"cmp"
	"slices"

	"github.com/njust/KTail-sub000/pkg/core"
)

// GroupKey identifies one extracted value of one rule.
type GroupKey struct {
	RuleID string
	Text   string
}

// Group aggregates every occurrence of an extracted value.
type Group struct {
	GroupKey
	Count int
	Lines []int
}

// ExtractIndex groups extracted text by rule and value. Lines are display lines.
type ExtractIndex struct {
	groups map[GroupKey]*Group
}

// NewExtractIndex returns an empty index.
func NewExtractIndex() *ExtractIndex {
	return &ExtractIndex{groups: make(map[GroupKey]*Group)}
}

// Add records a match that carries extracted text; others are ignored.
func (x *ExtractIndex) Add(m core.SearchMatch) {
	if m.ExtractedText == "" {
		return
	}
	k := GroupKey{RuleID: m.RuleID, Text: m.ExtractedText}
	g, ok := x.groups[k]
	if !ok {
		g = &Group{GroupKey: k}
		x.groups[k] = g
	}
	g.Count++
	i, _ := slices.BinarySearch(g.Lines, m.Line)
	g.Lines = slices.Insert(g.Lines, i, m.Line)
}

// RemoveRule drops every group of a rule.
func (x *ExtractIndex) RemoveRule(id string) {
	for k := range x.groups {
		if k.RuleID == id {
			delete(x.groups, k)
		}
	}
}

// Shift moves every recorded line at or after at down by n.
func (x *ExtractIndex) Shift(at, n int) {
	if n == 0 {
		return
	}
	for _, g := range x.groups {
		for i, l := range g.Lines {
			if l >= at {
				g.Lines[i] = l + n
			}
		}
	}
}

// Clear empties the index.
func (x *ExtractIndex) Clear() {
	clear(x.groups)
}

// Groups returns all groups ordered by rule ID then text.
func (x *ExtractIndex) Groups() []Group {
	out := make([]Group, 0, len(x.groups))
	for _, g := range x.groups {
		cp := *g
		cp.Lines = slices.Clone(g.Lines)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b Group) int {
		return cmp.Or(cmp.Compare(a.RuleID, b.RuleID), cmp.Compare(a.Text, b.Text))
	})
	return out
}

// Bookmarks flattens the index into navigable (rule, text, line) entries,
// one per group at its first occurrence.
func (x *ExtractIndex) Bookmarks() []core.Bookmark {
	groups := x.Groups()
	out := make([]core.Bookmark, 0, len(groups))
	for _, g := range groups {
		if len(g.Lines) == 0 {
			continue
		}
		out = append(out, core.Bookmark{RuleID: g.RuleID, Text: g.Text, Line: g.Lines[0]})
	}
	return out
}
