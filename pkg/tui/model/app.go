package model

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/transport/uds"
	"github.com/njust/KTail-sub000/pkg/view"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneViews Pane = iota
	PaneRules
	PaneLogs
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeEditor
	ModeConfirmDelete
)

const eventBuffer = 256

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	events     chan uds.Message

	// State
	views       []uds.ViewInfo
	selectedIdx int
	rules       []core.Rule
	ruleIdx     int
	logs        *logState
	follow      bool
	bookmarkIdx int

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	viewport   viewport.Model
	width      int
	height     int

	// Editor
	editor *EditorModel

	// Delete confirmation
	deleteTarget core.Rule

	// Error display
	statusMsg string
}

// New creates a new TUI app model. initialView selects a view by name once
// the view list arrives.
func New(socketPath, initialView string) App {
	si := textinput.New()
	si.Placeholder = "search..."
	si.CharLimit = 256

	a := App{
		socketPath: socketPath,
		search:     si,
		viewport:   viewport.New(0, 0),
		activePane: PaneViews,
		mode:       ModeNormal,
		follow:     true,
	}
	if initialView != "" {
		a.views = []uds.ViewInfo{{Name: initialView}}
	}
	return a
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("ktail"),
	)
}

// connectedMsg indicates successful daemon connection.
type connectedMsg struct {
	client *uds.Client
	events chan uds.Message
}

type disconnectedMsg struct{}

type viewsMsg struct{ views []uds.ViewInfo }

type rulesMsg struct{ rules []core.Rule }

type snapshotMsg struct{ snap view.Snapshot }

type updateMsg core.Update

type viewsDeltaMsg struct{}

type searchResultMsg struct{ lines []int }

type rulesAppliedMsg struct{ delta core.RuleDelta }

// errorMsg carries an error to display.
type errorMsg struct{ err error }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		events := make(chan uds.Message, eventBuffer)
		client.OnEvent(func(m uds.Message) {
			select {
			case events <- m:
			default:
				// Dropped updates show up as a sequence gap and force a snapshot.
			}
		})
		return connectedMsg{client: client, events: events}
	}
}

func waitEventCmd(client *uds.Client, events <-chan uds.Message) tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-events:
			switch m.Method {
			case uds.EventViewUpdate:
				var u core.Update
				if err := m.UnmarshalData(&u); err != nil {
					return errorMsg{err}
				}
				return updateMsg(u)
			case uds.EventViewsDelta:
				return viewsDeltaMsg{}
			}
			return nil
		case <-client.Done():
			return disconnectedMsg{}
		}
	}
}

func requestCmd[T any](client *uds.Client, method string, req any, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var out T
		if err := client.Call(ctx, method, req, &out); err != nil {
			return errorMsg{err}
		}
		return wrap(out)
	}
}

func fetchViewsCmd(client *uds.Client) tea.Cmd {
	return requestCmd(client, uds.MethodListViews, nil, func(r uds.ListViewsResponse) tea.Msg {
		return viewsMsg{r.Views}
	})
}

func fetchRulesCmd(client *uds.Client) tea.Cmd {
	return requestCmd(client, uds.MethodGetRules, nil, func(r uds.RulesResponse) tea.Msg {
		return rulesMsg{r.Rules}
	})
}

func snapshotCmd(client *uds.Client, name string) tea.Cmd {
	return requestCmd(client, uds.MethodSnapshot, uds.ViewRequest{View: name}, func(s view.Snapshot) tea.Msg {
		return snapshotMsg{s}
	})
}

func searchCmd(client *uds.Client, name, query string) tea.Cmd {
	return requestCmd(client, uds.MethodSearch, uds.SearchRequest{View: name, Query: query}, func(r uds.SearchResponse) tea.Msg {
		return searchResultMsg{r.Lines}
	})
}

func applyRulesCmd(client *uds.Client, rs []core.Rule) tea.Cmd {
	return requestCmd(client, uds.MethodApplyRules, uds.ApplyRulesRequest{Rules: rs, Save: true}, func(r uds.ApplyRulesResponse) tea.Msg {
		return rulesAppliedMsg{r.Delta}
	})
}

func (a App) currentView() string {
	if a.selectedIdx < len(a.views) {
		return a.views[a.selectedIdx].Name
	}
	return ""
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.events = msg.events
		a.connected = true
		a.statusMsg = "connected"
		return a, tea.Batch(
			waitEventCmd(a.client, a.events),
			fetchViewsCmd(a.client),
			fetchRulesCmd(a.client),
		)

	case disconnectedMsg:
		a.connected = false
		a.statusMsg = "daemon connection closed"
		return a, nil

	case viewsMsg:
		want := a.currentView()
		a.views = msg.views
		a.selectedIdx = 0
		for i, v := range a.views {
			if v.Name == want {
				a.selectedIdx = i
			}
		}
		if a.logs == nil || a.logs.name != a.currentView() {
			return a, a.loadView()
		}
		return a, nil

	case viewsDeltaMsg:
		return a, tea.Batch(waitEventCmd(a.client, a.events), fetchViewsCmd(a.client))

	case rulesMsg:
		a.rules = msg.rules
		a.ruleIdx = min(a.ruleIdx, max(0, len(a.rules)-1))
		a.refresh()
		return a, nil

	case snapshotMsg:
		if msg.snap.Name != a.currentView() {
			return a, nil
		}
		a.logs = newLogState(msg.snap)
		a.refresh()
		return a, nil

	case updateMsg:
		cmds := []tea.Cmd{waitEventCmd(a.client, a.events)}
		u := core.Update(msg)
		if u.Kind == core.UpdateRules {
			cmds = append(cmds, fetchRulesCmd(a.client))
		}
		if a.logs == nil || u.View != a.logs.name {
			return a, tea.Batch(cmds...)
		}
		if !a.logs.apply(u) {
			cmds = append(cmds, snapshotCmd(a.client, a.logs.name))
		}
		a.refresh()
		return a, tea.Batch(cmds...)

	case searchResultMsg:
		a.statusMsg = pluralize(len(msg.lines), "match", "matches")
		if a.logs != nil {
			a.logs.hits = msg.lines
			a.logs.cursor.Reset()
			a.jumpTo(a.logs.nextHit(true))
		}
		return a, nil

	case rulesAppliedMsg:
		d := msg.delta
		a.statusMsg = fmt.Sprintf("rules: +%d -%d ~%d", len(d.Added), len(d.Removed), len(d.Updated))
		return a, fetchRulesCmd(a.client)

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) loadView() tea.Cmd {
	name := a.currentView()
	if a.client == nil || name == "" {
		return nil
	}
	return snapshotCmd(a.client, name)
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Search mode
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			if a.client == nil || a.currentView() == "" {
				return a, nil
			}
			if a.logs != nil {
				a.logs.query = a.search.Value()
			}
			return a, searchCmd(a.client, a.currentView(), a.search.Value())
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			return a, cmd
		}
	}

	// Editor mode
	if a.mode == ModeEditor && a.editor != nil {
		return a.editor.HandleKey(a, msg)
	}

	// Delete confirmation mode
	if a.mode == ModeConfirmDelete {
		target := a.deleteTarget
		a.mode = ModeNormal
		a.deleteTarget = core.Rule{}
		switch msg.String() {
		case "y", "Y":
			if a.client == nil {
				a.statusMsg = "not connected"
				return a, nil
			}
			a.statusMsg = "deleting " + ruleLabel(target) + "..."
			return a, applyRulesCmd(a.client, removeRule(a.rules, target.ID))
		default:
			a.statusMsg = "delete cancelled"
			return a, nil
		}
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "tab":
		a.activePane = (a.activePane + 1) % 3
		return a, nil

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "n":
		if a.logs != nil {
			a.jumpTo(a.logs.nextHit(true))
		}
		return a, nil
	case "N":
		if a.logs != nil {
			a.jumpTo(a.logs.nextHit(false))
		}
		return a, nil

	case "]", "[":
		if a.logs != nil && len(a.logs.bookmarks) > 0 {
			n := len(a.logs.bookmarks)
			if msg.String() == "]" {
				a.bookmarkIdx = (a.bookmarkIdx + 1) % n
			} else {
				a.bookmarkIdx = (a.bookmarkIdx - 1 + n) % n
			}
			a.jumpTo(a.logs.bookmarks[a.bookmarkIdx%n].Line)
		}
		return a, nil
	}

	switch a.activePane {
	case PaneViews:
		return a.handleViewsKey(msg)
	case PaneRules:
		return a.handleRulesKey(msg)
	default:
		return a.handleLogsKey(msg)
	}
}

func (a App) handleViewsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	prev := a.selectedIdx
	switch msg.String() {
	case "j", "down":
		a.selectedIdx = min(a.selectedIdx+1, max(0, len(a.views)-1))
	case "k", "up":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}
	case "enter":
		a.activePane = PaneLogs
	}
	if a.selectedIdx != prev {
		a.logs = nil
		a.follow = true
		a.refresh()
		return a, a.loadView()
	}
	return a, nil
}

func (a App) handleRulesKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		a.ruleIdx = min(a.ruleIdx+1, max(0, len(a.rules)-1))
	case "k", "up":
		if a.ruleIdx > 0 {
			a.ruleIdx--
		}
	case "a":
		a.editor = NewEditorForNew()
		a.mode = ModeEditor
	case "e", "enter":
		if a.ruleIdx < len(a.rules) {
			a.editor = NewEditorForRule(a.rules[a.ruleIdx])
			a.mode = ModeEditor
		}
	case "d":
		if a.ruleIdx < len(a.rules) {
			r := a.rules[a.ruleIdx]
			if r.System {
				a.statusMsg = ruleLabel(r) + " is a system rule"
				return a, nil
			}
			a.deleteTarget = r
			a.mode = ModeConfirmDelete
			a.statusMsg = "Delete " + ruleLabel(r) + "? (y/n)"
		}
	}
	return a, nil
}

func (a App) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "G", "end":
		a.follow = true
		a.viewport.GotoBottom()
		return a, nil
	case "g", "home":
		a.follow = false
		a.viewport.GotoTop()
		return a, nil
	}
	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	a.follow = a.viewport.AtBottom()
	return a, cmd
}

// jumpTo scrolls the log pane so line is visible.
func (a *App) jumpTo(line int) {
	if line < 0 {
		return
	}
	a.follow = false
	a.activePane = PaneLogs
	a.refresh()
	a.viewport.SetYOffset(max(0, line-a.viewport.Height/2))
}

// refresh re-renders the log content after a state change.
func (a *App) refresh() {
	if a.logs == nil {
		a.viewport.SetContent("")
		return
	}
	a.viewport.SetContent(a.renderContent())
	if a.follow {
		a.viewport.GotoBottom()
	}
}
