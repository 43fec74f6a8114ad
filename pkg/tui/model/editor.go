package model

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/manifest"
)

// EditorField is a named text input in the editor form.
type EditorField struct {
	Label string
	Input textinput.Model
}

const (
	fieldName = iota
	fieldPattern
	fieldKind
	fieldColor
	fieldExtractor
)

// EditorModel is the inline rule editor.
type EditorModel struct {
	fields    []EditorField
	activeIdx int
	isNew     bool
	rule      core.Rule
	err       string
}

// NewEditorForRule creates an editor pre-filled with an existing rule.
func NewEditorForRule(r core.Rule) *EditorModel {
	e := &EditorModel{fields: ruleFields(r), rule: r}
	e.fields[0].Input.Focus()
	return e
}

// NewEditorForNew creates a blank editor for adding a new highlight rule.
func NewEditorForNew() *EditorModel {
	r := core.Rule{ID: manifest.NewRuleID(), Kind: core.RuleHighlight}
	e := &EditorModel{fields: ruleFields(r), rule: r, isNew: true}
	e.fields[0].Input.Focus()
	return e
}

func ruleFields(r core.Rule) []EditorField {
	return []EditorField{
		newField("name", r.Name),
		newField("pattern", r.Pattern),
		newField("kind", string(r.Kind)),
		newField("color", r.Color),
		newField("extractor", r.Extractor),
	}
}

func newField(label, value string) EditorField {
	ti := textinput.New()
	ti.Placeholder = label
	ti.SetValue(value)
	ti.CharLimit = 256
	return EditorField{Label: label, Input: ti}
}

func (e *EditorModel) value(i int) string {
	return strings.TrimSpace(e.fields[i].Input.Value())
}

// Rule builds the edited rule and validates it.
func (e *EditorModel) Rule() (core.Rule, error) {
	r := e.rule
	r.Name = e.value(fieldName)
	r.Pattern = e.value(fieldPattern)
	r.Kind = core.RuleKind(e.value(fieldKind))
	r.Color = e.value(fieldColor)
	r.Extractor = e.value(fieldExtractor)
	if errs := manifest.ValidateRules([]core.Rule{r}); len(errs) > 0 {
		return core.Rule{}, errors.Join(errs...)
	}
	return r, nil
}

// HandleKey processes key events in editor mode.
func (e *EditorModel) HandleKey(a App, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = ModeNormal
		a.editor = nil
		return a, nil

	case "enter":
		r, err := e.Rule()
		if err != nil {
			e.err = err.Error()
			return a, nil
		}
		a.mode = ModeNormal
		a.editor = nil
		if a.client == nil {
			a.statusMsg = "not connected"
			return a, nil
		}
		a.statusMsg = "saving rule " + r.Name + "..."
		return a, applyRulesCmd(a.client, upsertRule(a.rules, r))

	case "tab":
		e.fields[e.activeIdx].Input.Blur()
		e.activeIdx = (e.activeIdx + 1) % len(e.fields)
		e.fields[e.activeIdx].Input.Focus()
		return a, textinput.Blink

	case "shift+tab":
		e.fields[e.activeIdx].Input.Blur()
		e.activeIdx = (e.activeIdx - 1 + len(e.fields)) % len(e.fields)
		e.fields[e.activeIdx].Input.Focus()
		return a, textinput.Blink

	default:
		var cmd tea.Cmd
		e.fields[e.activeIdx].Input, cmd = e.fields[e.activeIdx].Input.Update(msg)
		return a, cmd
	}
}

// upsertRule replaces the rule with r's id or appends r.
func upsertRule(rs []core.Rule, r core.Rule) []core.Rule {
	out := make([]core.Rule, 0, len(rs)+1)
	replaced := false
	for _, old := range rs {
		if old.ID == r.ID {
			out = append(out, r)
			replaced = true
			continue
		}
		out = append(out, old)
	}
	if !replaced {
		out = append(out, r)
	}
	return out
}

// removeRule drops the rule with the given id.
func removeRule(rs []core.Rule, id string) []core.Rule {
	out := make([]core.Rule, 0, len(rs))
	for _, r := range rs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

// View renders the editor form.
func (e *EditorModel) View(width int) string {
	title := "Edit Rule"
	if e.isNew {
		title = "New Rule"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(" "+title+" ") + "\n\n")
	for i, f := range e.fields {
		prefix := "  "
		if i == e.activeIdx {
			prefix = "▸ "
		}
		b.WriteString(prefix + dimStyle.Render(f.Label+": ") + f.Input.View() + "\n")
	}
	if e.err != "" {
		b.WriteString("\n" + statusFailed.Render(truncate(e.err, width)) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("  kind: highlight|exclude  tab:next  shift+tab:prev  enter:save  esc:cancel"))
	return b.String()
}
