// Package buffer keeps log entries in timestamp order as they arrive out of
// order from several streams.
package buffer

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/njust/KTail-sub000/pkg/core"
)

// Placement describes where an inserted entry landed.
type Placement struct {
	// Index is the entry position in timestamp order.
	Index int
	// Offset is the display line of the entry's first line.
	Offset int
	// Lines are the display lines added, including a synthetic blank line.
	Lines []string
	// CorpusStart is the arrival-order index of the first added line.
	CorpusStart int
	// Synthetic is set when a blank entry was inserted ahead of the text.
	Synthetic bool
}

// Text returns the placed lines joined and newline-terminated.
func (p Placement) Text() string {
	if len(p.Lines) == 0 {
		return ""
	}
	return strings.Join(p.Lines, "\n") + "\n"
}

type entry struct {
	core.LogEntry
	lines       []string
	corpusStart int
}

// Ordered is the chronological log buffer. It keeps two views of the same
// lines: display order, sorted by timestamp, and corpus order, by arrival.
// It is not safe for concurrent use.
type Ordered struct {
	times   []time.Time
	entries []*entry
	corpus  []string
	lines   int
}

// NewOrdered returns an empty buffer.
func NewOrdered() *Ordered {
	return &Ordered{}
}

// Insert places e after every entry with a timestamp at or before its own.
// Text is expected to hold complete lines.
func (b *Ordered) Insert(e core.LogEntry) Placement {
	text := e.Text
	p := Placement{CorpusStart: len(b.corpus)}

	idx := sort.Search(len(b.times), func(i int) bool {
		return b.times[i].After(e.Timestamp)
	})
	p.Index = idx
	p.Offset = b.offsetOf(idx)

	if lead := leadingTerminator(text); lead > 0 && lead < len(text) {
		blank := core.LogEntry{Source: e.Source, Timestamp: e.Timestamp, Text: "\n", Synthetic: true}
		b.insertAt(idx, blank, []string{""})
		p.Lines = append(p.Lines, "")
		p.Synthetic = true
		text = text[lead:]
		idx++
	}

	lines := splitLines(text)
	if len(lines) == 0 {
		return p
	}
	e.Text = text
	b.insertAt(idx, e, lines)
	p.Lines = append(p.Lines, lines...)
	return p
}

func (b *Ordered) insertAt(idx int, e core.LogEntry, lines []string) {
	en := &entry{LogEntry: e, lines: lines, corpusStart: len(b.corpus)}
	b.times = slices.Insert(b.times, idx, e.Timestamp)
	b.entries = slices.Insert(b.entries, idx, en)
	b.corpus = append(b.corpus, lines...)
	b.lines += len(lines)
}

// offsetOf sums from the tail since inserts land near the end.
func (b *Ordered) offsetOf(idx int) int {
	off := b.lines
	for i := len(b.entries) - 1; i >= idx; i-- {
		off -= len(b.entries[i].lines)
	}
	return off
}

func leadingTerminator(s string) int {
	switch {
	case strings.HasPrefix(s, "\r\n"):
		return 2
	case strings.HasPrefix(s, "\n"):
		return 1
	}
	return 0
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Clear drops every entry and the timestamp index.
func (b *Ordered) Clear() {
	b.times = nil
	b.entries = nil
	b.corpus = nil
	b.lines = 0
}

// Len returns the number of entries.
func (b *Ordered) Len() int { return len(b.entries) }

// LineCount returns the number of display lines.
func (b *Ordered) LineCount() int { return b.lines }

// Entries returns the entries in timestamp order.
func (b *Ordered) Entries() []core.LogEntry {
	out := make([]core.LogEntry, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.LogEntry
	}
	return out
}

// Lines returns the display lines in timestamp order.
func (b *Ordered) Lines() []string {
	out := make([]string, 0, b.lines)
	for _, e := range b.entries {
		out = append(out, e.lines...)
	}
	return out
}

// Corpus returns the lines in arrival order. The slice must not be modified.
func (b *Ordered) Corpus() []string { return b.corpus }

// DisplayMap maps every corpus index to its display line.
func (b *Ordered) DisplayMap() []int {
	m := make([]int, len(b.corpus))
	line := 0
	for _, e := range b.entries {
		for i := range e.lines {
			m[e.corpusStart+i] = line
			line++
		}
	}
	return m
}

// DisplayLine maps one corpus index to its display line, or -1.
func (b *Ordered) DisplayLine(corpusIdx int) int {
	line := 0
	for _, e := range b.entries {
		if corpusIdx >= e.corpusStart && corpusIdx < e.corpusStart+len(e.lines) {
			return line + corpusIdx - e.corpusStart
		}
		line += len(e.lines)
	}
	return -1
}
