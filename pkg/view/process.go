package view

import (
	"strings"
	"time"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/decode"
)

// timestampLayouts are tried in order on the first field of a line.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05-0700",
}

func parseTimestamp(line string) (time.Time, bool) {
	field, _, _ := strings.Cut(line, " ")
	if len(field) < len("2006-01-02T15:04:05Z") {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, field); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func (v *View) handleEvent(ev core.SourceEvent) {
	switch ev.Kind {
	case core.SourceReset:
		v.reset(ev.Source)
	case core.SourceEnded:
		v.ended(ev.Source)
	case core.SourceData:
		v.ingest(ev)
	}
}

// ended drops the unterminated tail of a stream that went away. The stream
// is reopened with a since window that overlaps what was already shown, so
// lines up to the last delivered timestamp are skipped when it comes back.
func (v *View) ended(source string) {
	if d, ok := v.decoders[source]; ok {
		d.Reset()
	}
	delete(v.partial, source)
	if last, ok := v.lastTS[source]; ok {
		v.resume[source] = last
	}
}

// skipReplayed drops the leading lines of a reopened stream that are at or
// before its resume point. Untimestamped lines belong to the entry before
// them and are dropped with it.
func (v *View) skipReplayed(source, text string) string {
	cutoff, ok := v.resume[source]
	if !ok {
		return text
	}
	lines := strings.SplitAfter(text, "\n")
	for i, raw := range lines {
		if ts, ok := parseTimestamp(strings.TrimRight(raw, "\r\n")); ok && ts.After(cutoff) {
			delete(v.resume, source)
			return strings.Join(lines[i:], "")
		}
	}
	return ""
}

// reset starts a new epoch: the source was truncated or replaced.
func (v *View) reset(source string) {
	if d, ok := v.decoders[source]; ok {
		d.Reset()
	}
	delete(v.partial, source)
	delete(v.lastTS, source)
	clear(v.resume)
	v.records = nil
	v.clear()
	v.emit(core.Update{Kind: core.UpdateClear})
}

// clear drops everything derived from the records.
func (v *View) clear() {
	v.buf.Clear()
	v.matcher.ResetOffsets()
	v.search.Clear()
	v.extracts.Clear()
	clear(v.matches)
}

func (v *View) decoder(source string) *decode.Decoder {
	d, ok := v.decoders[source]
	if !ok {
		// Encodings were validated in New.
		d, _ = decode.New(v.encodings...)
		v.decoders[source] = d
	}
	return d
}

// ingest decodes a chunk and processes its complete lines. A trailing partial
// line is held until its terminator arrives.
func (v *View) ingest(ev core.SourceEvent) {
	text := v.partial[ev.Source] + v.decoder(ev.Source).Decode(ev.Data)
	i := strings.LastIndexByte(text, '\n')
	if i < 0 {
		v.partial[ev.Source] = text
		return
	}
	v.partial[ev.Source] = text[i+1:]

	complete := text[:i+1]
	if ev.Timestamped {
		if complete = v.skipReplayed(ev.Source, complete); complete == "" {
			return
		}
	}

	rec := record{
		source:      ev.Source,
		text:        complete,
		prefixed:    ev.Prefixed,
		timestamped: ev.Timestamped,
		received:    ev.Received,
	}
	if rec.received.IsZero() {
		rec.received = time.Now()
	}
	v.records = append(v.records, rec)
	v.process(rec, true)
}

// process turns a record into entries, one per run of lines sharing a
// timestamp, and inserts them.
func (v *View) process(rec record, publish bool) {
	var (
		sb      strings.Builder
		groupTS time.Time
		open    bool
	)
	flush := func() {
		if sb.Len() == 0 {
			return
		}
		v.insert(core.LogEntry{Source: rec.source, Timestamp: groupTS, Text: sb.String()}, publish)
		sb.Reset()
	}

	lines := strings.SplitAfter(rec.text, "\n")
	for _, raw := range lines {
		if raw == "" {
			continue
		}
		line := strings.TrimRight(raw, "\r\n")

		ts := rec.received
		if rec.timestamped {
			if parsed, ok := parseTimestamp(line); ok {
				ts = parsed
				v.lastTS[rec.source] = parsed
			} else if last, ok := v.lastTS[rec.source]; ok {
				ts = last
			}
		}

		if v.matcher.Excluded(line) {
			continue
		}
		if rec.prefixed {
			line = "[" + rec.source + "] " + line
		}

		if open && !ts.Equal(groupTS) {
			flush()
		}
		groupTS, open = ts, true
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	flush()
}

// insert places one entry and brings rule matches, search hits and extracts
// up to date for the lines it added.
func (v *View) insert(e core.LogEntry, publish bool) {
	p := v.buf.Insert(e)
	count := len(p.Lines)
	if count == 0 {
		return
	}

	v.shiftMatches(p.Offset, count)
	v.extracts.Shift(p.Offset, count)
	hits := v.search.Insert(p.Lines, p.Offset)

	var (
		added     []core.SearchMatch
		bookmarks []core.Bookmark
		dmap      []int
	)
	for _, res := range v.matcher.Apply(v.buf.Corpus(), false) {
		if res.From < p.CorpusStart && dmap == nil {
			dmap = v.buf.DisplayMap()
		}
		mapped := make([]core.SearchMatch, 0, len(res.Matches))
		for _, m := range res.Matches {
			if m.Line >= p.CorpusStart {
				m.Line = p.Offset + m.Line - p.CorpusStart
			} else {
				m.Line = dmap[m.Line]
			}
			mapped = append(mapped, m)
		}
		if res.Replace && res.From < p.CorpusStart {
			v.replaceRule(res.RuleID, mapped)
		} else {
			v.matches[res.RuleID] = append(v.matches[res.RuleID], mapped...)
			for _, m := range mapped {
				v.extracts.Add(m)
			}
		}
		added = append(added, mapped...)
		for _, m := range mapped {
			if m.ExtractedText != "" {
				bookmarks = append(bookmarks, core.Bookmark{RuleID: m.RuleID, Text: m.ExtractedText, Line: m.Line})
			}
		}
	}

	if !publish {
		return
	}
	v.emit(core.Update{
		Kind:        core.UpdateAppend,
		Text:        p.Text(),
		Offset:      p.Offset,
		Lines:       count,
		Matches:     added,
		SearchLines: hits,
		Bookmarks:   bookmarks,
	})
}

// shiftMatches moves stored rule matches at or after line down by n.
func (v *View) shiftMatches(line, n int) {
	for _, ms := range v.matches {
		for i := range ms {
			if ms[i].Line >= line {
				ms[i].Line += n
			}
		}
	}
}

func (v *View) replaceRule(id string, ms []core.SearchMatch) {
	v.matches[id] = ms
	v.extracts.RemoveRule(id)
	for _, m := range ms {
		v.extracts.Add(m)
	}
}

func (v *View) allMatches() []core.SearchMatch {
	var out []core.SearchMatch
	for _, r := range v.matcher.Rules() {
		out = append(out, v.matches[r.ID]...)
	}
	sortMatches(out)
	return out
}
