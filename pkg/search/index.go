// Package search keeps line-indexed hits for the active query.
package search

import (
	"fmt"
	"regexp"
	"slices"
	"unicode"
)

// Span is a byte range within a line.
type Span struct {
	Start int
	End   int
}

// Index holds the hits of one query over the display lines. It is not safe
// for concurrent use.
type Index struct {
	query string
	re    *regexp.Regexp
	lines []int
	spans map[int][]Span
}

// NewIndex returns an index with no query.
func NewIndex() *Index {
	return &Index{spans: make(map[int][]Span)}
}

// Compile turns a query into a regexp. The match is case-insensitive unless
// the query has an uppercase letter.
func Compile(query string) (*regexp.Regexp, error) {
	expr := query
	if !hasUpper(query) {
		expr = "(?i)" + query
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile query %q: %w", query, err)
	}
	return re, nil
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// SetQuery replaces the query and drops existing hits. An empty query clears
// the index. Callers follow up with Full.
func (x *Index) SetQuery(query string) error {
	if query == "" {
		x.query, x.re = "", nil
		x.Clear()
		return nil
	}
	re, err := Compile(query)
	if err != nil {
		return err
	}
	x.query, x.re = query, re
	x.Clear()
	return nil
}

// Query returns the current query.
func (x *Index) Query() string { return x.query }

// Clear drops all hits but keeps the query.
func (x *Index) Clear() {
	x.lines = nil
	clear(x.spans)
}

// Full rescans every line.
func (x *Index) Full(lines []string) []int {
	x.Clear()
	if x.re == nil {
		return nil
	}
	for i, l := range lines {
		x.scan(i, l)
	}
	return slices.Clone(x.lines)
}

// Insert accounts for lines inserted at display line at. Existing hits at or
// after at move down by len(lines), then only the new lines are scanned.
// The new hit lines are returned.
func (x *Index) Insert(lines []string, at int) []int {
	count := len(lines)
	if x.re == nil || count == 0 {
		return nil
	}
	pos, _ := slices.BinarySearch(x.lines, at)
	if pos < len(x.lines) {
		shifted := make(map[int][]Span, len(x.lines)-pos)
		for i := pos; i < len(x.lines); i++ {
			old := x.lines[i]
			shifted[old+count] = x.spans[old]
			delete(x.spans, old)
			x.lines[i] = old + count
		}
		for l, s := range shifted {
			x.spans[l] = s
		}
	}

	tail := slices.Clone(x.lines[pos:])
	x.lines = x.lines[:pos]
	var found []int
	for i, l := range lines {
		if x.scan(at+i, l) {
			found = append(found, at+i)
		}
	}
	x.lines = append(x.lines, tail...)
	return found
}

func (x *Index) scan(i int, line string) bool {
	locs := x.re.FindAllStringIndex(line, -1)
	var spans []Span
	for _, loc := range locs {
		if loc[0] != loc[1] {
			spans = append(spans, Span{Start: loc[0], End: loc[1]})
		}
	}
	if len(spans) == 0 {
		return false
	}
	x.lines = append(x.lines, i)
	x.spans[i] = spans
	return true
}

// Matches returns the hit lines in ascending order.
func (x *Index) Matches() []int {
	return slices.Clone(x.lines)
}

// Spans returns the hit ranges on one line.
func (x *Index) Spans(line int) []Span {
	return x.spans[line]
}
