package view

import (
	"cmp"
	"slices"
	"strings"

	"github.com/njust/KTail-sub000/pkg/core"
)

func sortMatches(ms []core.SearchMatch) {
	slices.SortStableFunc(ms, func(a, b core.SearchMatch) int {
		return cmp.Or(cmp.Compare(a.Line, b.Line), cmp.Compare(a.Start, b.Start))
	})
}

// applyRules diffs the new rule set against the current one. Exclusion
// changes rebuild the view from the epoch's records; other changes only
// rescan the rules whose pattern, kind or extractor changed.
func (v *View) applyRules(rs []core.Rule) core.RuleDelta {
	delta := v.matcher.Set(rs)
	if delta.Empty() {
		return delta
	}
	v.logger.Info("rules applied", "added", len(delta.Added), "removed", len(delta.Removed), "updated", len(delta.Updated))
	v.emit(core.Update{Kind: core.UpdateRules, Rules: &delta})

	if delta.TouchesExclusion() {
		v.rebuild()
		return delta
	}

	for _, r := range delta.Removed {
		delete(v.matches, r.ID)
		v.extracts.RemoveRule(r.ID)
	}
	var rescan []string
	for _, r := range delta.Added {
		rescan = append(rescan, r.ID)
	}
	for _, c := range delta.Updated {
		if c.NeedsRescan() {
			rescan = append(rescan, c.New.ID)
		}
	}
	if len(rescan) == 0 {
		return delta
	}

	dmap := v.buf.DisplayMap()
	for _, id := range rescan {
		var mapped []core.SearchMatch
		if res, ok := v.matcher.Rescan(id, v.buf.Corpus()); ok {
			mapped = make([]core.SearchMatch, 0, len(res.Matches))
			for _, m := range res.Matches {
				m.Line = dmap[m.Line]
				mapped = append(mapped, m)
			}
			sortMatches(mapped)
		}
		v.replaceRule(id, mapped)
		v.emit(core.Update{Kind: core.UpdateRescan, Rule: id, Matches: mapped, Bookmarks: v.ruleBookmarks(id)})
	}
	return delta
}

func (v *View) ruleBookmarks(id string) []core.Bookmark {
	var out []core.Bookmark
	for _, b := range v.extracts.Bookmarks() {
		if b.RuleID == id {
			out = append(out, b)
		}
	}
	return out
}

// rebuild replays the records of the current epoch under the current rules
// and publishes the result as one clear plus one append.
func (v *View) rebuild() {
	v.clear()
	clear(v.lastTS)
	for _, rec := range v.records {
		v.process(rec, false)
	}
	v.emit(core.Update{Kind: core.UpdateClear})

	lines := v.buf.Lines()
	if len(lines) == 0 {
		return
	}
	v.emit(core.Update{
		Kind:        core.UpdateAppend,
		Text:        strings.Join(lines, "\n") + "\n",
		Offset:      0,
		Lines:       len(lines),
		Matches:     v.allMatches(),
		SearchLines: v.search.Matches(),
		Bookmarks:   v.extracts.Bookmarks(),
	})
}

// setSearch replaces the query and rescans the whole buffer.
func (v *View) setSearch(query string) ([]int, error) {
	if err := v.search.SetQuery(query); err != nil {
		return nil, err
	}
	hits := v.search.Full(v.buf.Lines())
	v.emit(core.Update{Kind: core.UpdateSearch, SearchLines: hits})
	return hits, nil
}
