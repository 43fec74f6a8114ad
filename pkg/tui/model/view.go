package model

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/njust/KTail-sub000/pkg/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusRestart = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	hitStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))

	// Rules without a color still need to stand out on any terminal theme.
	neutralStyle = lipgloss.NewStyle().Reverse(true)
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	// Editor overlay
	if a.mode == ModeEditor && a.editor != nil {
		editorView := a.editor.View(a.width - 4)
		return paneStyle.Width(a.width - 4).Height(a.height - 2).Render(editorView)
	}

	topH, logH := a.layout()
	viewsW := a.width*2/5 - 2
	rulesW := a.width - viewsW - 4

	viewsPane := a.paneBox(PaneViews, " Views ", a.renderViews(viewsW, topH), viewsW, topH)
	rulesPane := a.paneBox(PaneRules, " Rules ", a.renderRules(rulesW, topH), rulesW, topH)
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, viewsPane, rulesPane)

	logPane := a.paneBox(PaneLogs, a.logTitle(), a.viewport.View(), a.width-4, logH)

	return lipgloss.JoinVertical(lipgloss.Left, topRow, logPane, a.renderStatusBar())
}

// layout splits the terminal height between the top row and the log pane.
func (a App) layout() (top, logs int) {
	const statusBarH = 2
	top = max(a.height/4, 6)
	logs = max(a.height-top-statusBarH-4, 3)
	return top, logs
}

func (a *App) resize() {
	_, logH := a.layout()
	a.viewport.Width = max(a.width-6, 1)
	a.viewport.Height = max(logH-1, 1)
	a.refresh()
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderViews(w, h int) string {
	if len(a.views) == 0 {
		return dimStyle.Render("no views")
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(a.views) && i-start < maxVisible; i++ {
		v := a.views[i]
		label := v.Name
		if len(v.Active) > 0 {
			label = fmt.Sprintf("%s (%d)", v.Name, len(v.Active))
		}
		line := fmt.Sprintf(" %s %-*s", statusIndicator(v.State, v.Error), w-6, truncate(label, w-6))

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}

	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}

	return b.String()
}

func (a App) renderRules(w, h int) string {
	if len(a.rules) == 0 {
		return dimStyle.Render("no rules")
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.ruleIdx >= maxVisible {
		start = a.ruleIdx - maxVisible + 1
	}

	for i := start; i < len(a.rules) && i-start < maxVisible; i++ {
		r := a.rules[i]
		swatch := ruleStyle(r).Render(" ")
		kind := string(r.Kind)
		if r.System {
			kind += ",system"
		}
		line := fmt.Sprintf(" %s %s %s", swatch, truncate(ruleLabel(r), w-len(kind)-8), dimStyle.Render(kind))
		if i == a.ruleIdx && a.activePane == PaneRules {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (a App) logTitle() string {
	title := " Logs "
	if a.logs == nil {
		return title
	}
	title = fmt.Sprintf(" %s ", a.logs.name)
	if a.logs.query != "" {
		title += dimStyle.Render(fmt.Sprintf("/%s [%d] ", a.logs.query, len(a.logs.hits)))
	}
	if n := len(a.logs.bookmarks); n > 0 {
		title += dimStyle.Render(pluralize(n, "bookmark", "bookmarks")) + " "
	}
	if !a.follow {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

// renderContent renders every line of the current view with rule
// highlights applied.
func (a App) renderContent() string {
	if len(a.logs.lines) == 0 {
		return dimStyle.Render("no log output")
	}

	styles := make(map[string]lipgloss.Style, len(a.rules))
	for _, r := range a.rules {
		styles[r.ID] = ruleStyle(r)
	}
	current := -1
	if c := a.logs.cursor.Current(); c >= 0 && c < len(a.logs.hits) {
		current = a.logs.hits[c]
	}

	var b strings.Builder
	hits := a.logs.hits
	for i, line := range a.logs.lines {
		gutter := " "
		if len(hits) > 0 && hits[0] == i {
			hits = hits[1:]
			gutter = hitStyle.Render("›")
			if i == current {
				gutter = hitStyle.Render("»")
			}
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(gutter)
		b.WriteString(highlight(line, a.logs.matches[i], styles))
	}
	return b.String()
}

// highlight styles the matched byte ranges of line. Overlapping matches
// keep the earliest span.
func highlight(line string, matches []core.SearchMatch, styles map[string]lipgloss.Style) string {
	if len(matches) == 0 {
		return line
	}
	ms := slices.Clone(matches)
	slices.SortFunc(ms, func(x, y core.SearchMatch) int {
		return cmp.Or(cmp.Compare(x.Start, y.Start), cmp.Compare(y.End, x.End))
	})

	var b strings.Builder
	pos := 0
	for _, m := range ms {
		if m.Start < pos || m.End > len(line) || m.Start >= m.End {
			continue
		}
		style, ok := styles[m.RuleID]
		if !ok {
			style = neutralStyle
		}
		b.WriteString(line[pos:m.Start])
		b.WriteString(style.Render(line[m.Start:m.End]))
		pos = m.End
	}
	b.WriteString(line[pos:])
	return b.String()
}

// ruleStyle is the highlight style for r, falling back to the neutral
// style when the rule has no color.
func ruleStyle(r core.Rule) lipgloss.Style {
	if r.Color == "" {
		return neutralStyle
	}
	return lipgloss.NewStyle().Background(lipgloss.Color(r.Color)).Foreground(lipgloss.Color("16"))
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	if !a.connected && left == "" {
		left = "connecting..."
	}
	right := "tab:pane j/k:nav /:search n/N:hit [/]:bookmark a:add e:edit d:delete q:quit"
	switch a.mode {
	case ModeSearch:
		right = "enter:apply esc:cancel"
	case ModeEditor:
		right = "tab:next field enter:save esc:cancel"
	case ModeConfirmDelete:
		right = "y:confirm n:cancel"
	}

	gap := a.width - lipgloss.Width(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func statusIndicator(state, errText string) string {
	if errText != "" {
		return statusFailed.Render("✖")
	}
	switch state {
	case "streaming":
		return statusRunning.Render("●")
	case "stopped", "stopping":
		return statusStopped.Render("○")
	case "initializing", "reloading":
		return statusRestart.Render("↻")
	default:
		return dimStyle.Render("?")
	}
}

func ruleLabel(r core.Rule) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
