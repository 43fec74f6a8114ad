package model

import (
	"slices"
	"strings"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/search"
	"github.com/njust/KTail-sub000/pkg/view"
)

// logState mirrors one daemon view from a snapshot plus the updates that
// follow it.
type logState struct {
	name      string
	lines     []string
	matches   map[int][]core.SearchMatch
	hits      []int
	cursor    search.Cursor
	query     string
	bookmarks []core.Bookmark
	seq       uint64
}

func newLogState(s view.Snapshot) *logState {
	ls := &logState{
		name:      s.Name,
		lines:     s.Lines,
		matches:   make(map[int][]core.SearchMatch),
		hits:      s.SearchLines,
		query:     s.Query,
		bookmarks: s.Bookmarks,
		seq:       s.Seq,
	}
	ls.cursor.Reset()
	ls.addMatches(s.Matches)
	return ls
}

func (ls *logState) addMatches(ms []core.SearchMatch) {
	for _, m := range ms {
		ls.matches[m.Line] = append(ls.matches[m.Line], m)
	}
}

func (ls *logState) dropRule(id string) {
	for line, ms := range ls.matches {
		ms = slices.DeleteFunc(ms, func(m core.SearchMatch) bool { return m.RuleID == id })
		if len(ms) == 0 {
			delete(ls.matches, line)
		} else {
			ls.matches[line] = ms
		}
	}
	ls.bookmarks = slices.DeleteFunc(ls.bookmarks, func(b core.Bookmark) bool { return b.RuleID == id })
}

// apply folds an update into the state. It reports false when the update
// does not follow the last one seen and a fresh snapshot is needed.
func (ls *logState) apply(u core.Update) bool {
	if u.Seq <= ls.seq {
		return true
	}
	if u.Seq != ls.seq+1 {
		return false
	}
	ls.seq = u.Seq

	switch u.Kind {
	case core.UpdateClear:
		ls.lines = nil
		clear(ls.matches)
		ls.hits = nil
		ls.bookmarks = nil
		ls.cursor.Reset()
	case core.UpdateAppend:
		ls.insert(u)
	case core.UpdateRules:
		if u.Rules != nil {
			for _, r := range u.Rules.Removed {
				ls.dropRule(r.ID)
			}
		}
	case core.UpdateRescan:
		ls.dropRule(u.Rule)
		ls.addMatches(u.Matches)
		ls.bookmarks = append(ls.bookmarks, u.Bookmarks...)
	case core.UpdateSearch:
		ls.hits = u.SearchLines
		ls.cursor.Reset()
	}
	return true
}

func (ls *logState) insert(u core.Update) {
	added := splitText(u.Text)
	n := len(added)
	if n == 0 {
		return
	}
	at := min(u.Offset, len(ls.lines))
	ls.lines = slices.Insert(ls.lines, at, added...)

	if at < len(ls.lines)-n {
		shifted := make(map[int][]core.SearchMatch, len(ls.matches))
		for line, ms := range ls.matches {
			if line >= at {
				for i := range ms {
					ms[i].Line += n
				}
				line += n
			}
			shifted[line] = ms
		}
		ls.matches = shifted
		for i, h := range ls.hits {
			if h >= at {
				ls.hits[i] = h + n
			}
		}
		for i, b := range ls.bookmarks {
			if b.Line >= at {
				ls.bookmarks[i].Line = b.Line + n
			}
		}
	}

	ls.addMatches(u.Matches)
	for _, h := range u.SearchLines {
		i, found := slices.BinarySearch(ls.hits, h)
		if !found {
			ls.hits = slices.Insert(ls.hits, i, h)
		}
	}
	ls.bookmarks = append(ls.bookmarks, u.Bookmarks...)
}

func splitText(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// nextHit moves the search cursor and returns the line to show, or -1.
func (ls *logState) nextHit(forward bool) int {
	if len(ls.hits) == 0 {
		return -1
	}
	var i int
	if forward {
		i = ls.cursor.Next(len(ls.hits))
	} else {
		i = ls.cursor.Prev(len(ls.hits))
	}
	return ls.hits[i]
}
