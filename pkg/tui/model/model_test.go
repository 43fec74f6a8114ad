package model

import (
	"slices"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/view"
)

func testState() *logState {
	return newLogState(view.Snapshot{
		Name:        "app",
		Lines:       []string{"boot", "ERROR db", "done"},
		Matches:     []core.SearchMatch{{Line: 1, Start: 0, End: 5, RuleID: "err"}},
		SearchLines: []int{1, 2},
		Bookmarks:   []core.Bookmark{{RuleID: "err", Text: "db", Line: 1}},
		Seq:         4,
	})
}

func TestLogState_AppendShifts(t *testing.T) {
	ls := testState()
	ok := ls.apply(core.Update{
		View:        "app",
		Kind:        core.UpdateAppend,
		Text:        "x\nERROR y\n",
		Offset:      1,
		Matches:     []core.SearchMatch{{Line: 2, Start: 0, End: 5, RuleID: "err"}},
		SearchLines: []int{2},
		Seq:         5,
	})
	if !ok {
		t.Fatal("apply reported a gap")
	}

	want := []string{"boot", "x", "ERROR y", "ERROR db", "done"}
	if !slices.Equal(ls.lines, want) {
		t.Fatalf("lines: got %q, want %q", ls.lines, want)
	}
	if ms := ls.matches[3]; len(ms) != 1 || ms[0].Line != 3 {
		t.Errorf("shifted match: got %+v", ms)
	}
	if ms := ls.matches[2]; len(ms) != 1 || ms[0].RuleID != "err" {
		t.Errorf("new match: got %+v", ms)
	}
	if _, ok := ls.matches[1]; ok {
		t.Error("line 1 should have no matches after the insert")
	}
	if !slices.Equal(ls.hits, []int{2, 3, 4}) {
		t.Errorf("hits: got %v", ls.hits)
	}
	if ls.bookmarks[0].Line != 3 {
		t.Errorf("bookmark line: got %d, want 3", ls.bookmarks[0].Line)
	}
}

func TestLogState_AppendAtEnd(t *testing.T) {
	ls := testState()
	ls.apply(core.Update{Kind: core.UpdateAppend, Text: "tail\n", Offset: 3, Seq: 5})
	if len(ls.lines) != 4 || ls.lines[3] != "tail" {
		t.Errorf("lines: got %q", ls.lines)
	}
	if !slices.Equal(ls.hits, []int{1, 2}) {
		t.Errorf("hits moved: %v", ls.hits)
	}
}

func TestLogState_SeqGap(t *testing.T) {
	ls := testState()
	if !ls.apply(core.Update{Kind: core.UpdateAppend, Text: "old\n", Offset: 0, Seq: 3}) {
		t.Error("stale update should be ignored, not reported as a gap")
	}
	if len(ls.lines) != 3 {
		t.Errorf("stale update applied: %q", ls.lines)
	}
	if ls.apply(core.Update{Kind: core.UpdateAppend, Text: "new\n", Offset: 3, Seq: 6}) {
		t.Error("expected a gap")
	}
}

func TestLogState_Clear(t *testing.T) {
	ls := testState()
	ls.apply(core.Update{Kind: core.UpdateClear, Seq: 5})
	if len(ls.lines) != 0 || len(ls.matches) != 0 || len(ls.hits) != 0 || len(ls.bookmarks) != 0 {
		t.Errorf("state not cleared: %+v", ls)
	}
}

func TestLogState_RescanAndRemove(t *testing.T) {
	ls := testState()
	ls.apply(core.Update{
		Kind:      core.UpdateRescan,
		Rule:      "err",
		Matches:   []core.SearchMatch{{Line: 2, Start: 0, End: 4, RuleID: "err"}},
		Bookmarks: []core.Bookmark{{RuleID: "err", Text: "done", Line: 2}},
		Seq:       5,
	})
	if _, ok := ls.matches[1]; ok {
		t.Error("old match should be dropped")
	}
	if len(ls.matches[2]) != 1 {
		t.Errorf("rescan matches: got %+v", ls.matches)
	}
	if len(ls.bookmarks) != 1 || ls.bookmarks[0].Text != "done" {
		t.Errorf("bookmarks: got %+v", ls.bookmarks)
	}

	ls.apply(core.Update{
		Kind:  core.UpdateRules,
		Rules: &core.RuleDelta{Removed: []core.Rule{{ID: "err"}}},
		Seq:   6,
	})
	if len(ls.matches) != 0 || len(ls.bookmarks) != 0 {
		t.Errorf("removed rule left state behind: %+v %+v", ls.matches, ls.bookmarks)
	}
}

func TestLogState_NextHitWraps(t *testing.T) {
	ls := testState()
	var got []int
	for range 3 {
		got = append(got, ls.nextHit(true))
	}
	if !slices.Equal(got, []int{1, 2, 1}) {
		t.Errorf("forward: got %v", got)
	}
	if line := ls.nextHit(false); line != 2 {
		t.Errorf("backward: got %d, want 2", line)
	}

	ls.apply(core.Update{Kind: core.UpdateSearch, Seq: 5})
	if line := ls.nextHit(true); line != -1 {
		t.Errorf("no hits: got %d", line)
	}
}

func TestUpsertAndRemoveRule(t *testing.T) {
	rs := []core.Rule{{ID: "a", Name: "one"}, {ID: "b", Name: "two"}}

	rs = upsertRule(rs, core.Rule{ID: "a", Name: "uno"})
	if len(rs) != 2 || rs[0].Name != "uno" {
		t.Errorf("replace: got %+v", rs)
	}
	rs = upsertRule(rs, core.Rule{ID: "c", Name: "three"})
	if len(rs) != 3 || rs[2].ID != "c" {
		t.Errorf("append: got %+v", rs)
	}
	rs = removeRule(rs, "b")
	if len(rs) != 2 || rs[0].ID != "a" || rs[1].ID != "c" {
		t.Errorf("remove: got %+v", rs)
	}
}

func TestEditorRule(t *testing.T) {
	e := NewEditorForNew()
	e.fields[fieldName].Input.SetValue("timeouts")
	e.fields[fieldPattern].Input.SetValue(`timeout after (\d+)`)
	e.fields[fieldExtractor].Input.SetValue(`\d+`)
	r, err := e.Rule()
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if r.ID == "" || r.Kind != core.RuleHighlight || r.Extractor != `\d+` {
		t.Errorf("rule: got %+v", r)
	}

	e.fields[fieldPattern].Input.SetValue("(")
	if _, err := e.Rule(); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestEditorKeepsRuleID(t *testing.T) {
	e := NewEditorForRule(core.Rule{ID: "keep", Name: "x", Pattern: "x", Kind: core.RuleExclude})
	r, err := e.Rule()
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if r.ID != "keep" || r.Kind != core.RuleExclude {
		t.Errorf("rule: got %+v", r)
	}
}

func TestRuleStyleFallback(t *testing.T) {
	if !ruleStyle(core.Rule{ID: "plain"}).GetReverse() {
		t.Error("rule without color should use the neutral style")
	}
	s := ruleStyle(core.Rule{ID: "red", Color: "#ff0000"})
	if s.GetBackground() != lipgloss.Color("#ff0000") {
		t.Errorf("background: got %v", s.GetBackground())
	}
}

func TestHighlightKeepsText(t *testing.T) {
	line := "ERROR timeout after 30s"
	matches := []core.SearchMatch{
		{Line: 0, Start: 6, End: 13, RuleID: "b"},
		{Line: 0, Start: 0, End: 5, RuleID: "a"},
		{Line: 0, Start: 3, End: 8, RuleID: "overlap"},
		{Line: 0, Start: 20, End: 99, RuleID: "out-of-range"},
	}
	styles := map[string]lipgloss.Style{"a": lipgloss.NewStyle()}
	if got := highlight(line, matches, styles); got != line {
		t.Errorf("highlight changed text: %q", got)
	}
}

func TestApp_SnapshotThenUpdates(t *testing.T) {
	a := New("/tmp/ktail-test.sock", "app")

	m, _ := a.Update(snapshotMsg{view.Snapshot{Name: "app", Lines: []string{"a", "b"}, Seq: 1}})
	a = m.(App)
	if a.logs == nil || len(a.logs.lines) != 2 {
		t.Fatalf("snapshot not loaded: %+v", a.logs)
	}

	m, _ = a.Update(updateMsg(core.Update{View: "app", Kind: core.UpdateAppend, Text: "c\n", Offset: 2, Seq: 2}))
	a = m.(App)
	if len(a.logs.lines) != 3 || a.logs.lines[2] != "c" {
		t.Errorf("lines: got %q", a.logs.lines)
	}

	m, _ = a.Update(snapshotMsg{view.Snapshot{Name: "other", Lines: []string{"x"}}})
	a = m.(App)
	if a.logs.name != "app" {
		t.Error("snapshot for another view replaced the current one")
	}
}

func TestApp_SystemRuleNotDeletable(t *testing.T) {
	a := New("/tmp/ktail-test.sock", "")
	a.rules = []core.Rule{{ID: "sys-error", Name: "errors", System: true}, {ID: "mine", Name: "mine"}}
	a.activePane = PaneRules

	m, _ := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	a = m.(App)
	if a.mode != ModeNormal {
		t.Errorf("mode: got %d, want normal", a.mode)
	}

	a.ruleIdx = 1
	m, _ = a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	a = m.(App)
	if a.mode != ModeConfirmDelete || a.deleteTarget.ID != "mine" {
		t.Fatalf("expected delete confirmation, got mode %d target %q", a.mode, a.deleteTarget.ID)
	}

	m, _ = a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	a = m.(App)
	if a.mode != ModeNormal || a.statusMsg != "delete cancelled" {
		t.Errorf("cancel: mode %d status %q", a.mode, a.statusMsg)
	}
}

func TestApp_TabCyclesPanes(t *testing.T) {
	a := New("/tmp/ktail-test.sock", "")
	for _, want := range []Pane{PaneRules, PaneLogs, PaneViews} {
		m, _ := a.Update(tea.KeyMsg{Type: tea.KeyTab})
		a = m.(App)
		if a.activePane != want {
			t.Errorf("pane: got %d, want %d", a.activePane, want)
		}
	}
}
