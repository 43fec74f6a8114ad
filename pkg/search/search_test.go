package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexIncremental(t *testing.T) {
	x := NewIndex()
	require.NoError(t, x.SetQuery("a"))

	lines := []string{"a", "bb", "a"}
	assert.Equal(t, []int{0}, x.Full(lines[:2]))
	assert.Equal(t, []int{2}, x.Insert(lines[2:], 2))
	assert.Equal(t, []int{0, 2}, x.Matches())
}

func TestIndexInsertShifts(t *testing.T) {
	x := NewIndex()
	require.NoError(t, x.SetQuery("err"))
	x.Full([]string{"err one", "ok", "err two"})

	// Two lines inserted at display line 1, one of them a hit.
	assert.Equal(t, []int{1}, x.Insert([]string{"new err", "fine"}, 1))
	assert.Equal(t, []int{0, 1, 4}, x.Matches())
	assert.Equal(t, []Span{{Start: 0, End: 3}}, x.Spans(4))
	assert.Equal(t, []Span{{Start: 4, End: 7}}, x.Spans(1))
	assert.Nil(t, x.Spans(2))
}

func TestIndexSmartCase(t *testing.T) {
	x := NewIndex()
	lines := []string{"Error", "error"}

	require.NoError(t, x.SetQuery("error"))
	assert.Equal(t, []int{0, 1}, x.Full(lines))

	require.NoError(t, x.SetQuery("Error"))
	assert.Equal(t, []int{0}, x.Full(lines))
}

func TestIndexNoQuery(t *testing.T) {
	x := NewIndex()
	assert.Nil(t, x.Full([]string{"a"}))
	assert.Nil(t, x.Insert([]string{"a"}, 0))

	require.NoError(t, x.SetQuery("a"))
	x.Full([]string{"a"})
	require.NoError(t, x.SetQuery(""))
	assert.Empty(t, x.Matches())
}

func TestIndexBadQuery(t *testing.T) {
	x := NewIndex()
	require.NoError(t, x.SetQuery("ok"))
	assert.Error(t, x.SetQuery("(unclosed"))
	assert.Equal(t, "ok", x.Query(), "a bad query leaves the old one in place")
}

func TestCursorWraps(t *testing.T) {
	c := NewCursor()
	assert.Equal(t, 0, c.Next(3))
	assert.Equal(t, 1, c.Next(3))
	assert.Equal(t, 2, c.Next(3))
	assert.Equal(t, 0, c.Next(3), "next after last wraps to first")
	assert.Equal(t, 2, c.Prev(3), "previous before first wraps to last")
	assert.Equal(t, 1, c.Prev(3))
}

func TestCursorPrevFromStart(t *testing.T) {
	c := NewCursor()
	assert.Equal(t, 2, c.Prev(3))
	assert.Equal(t, -1, c.Next(0))
	assert.Equal(t, -1, c.Current())
}
