package rules

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/njust/KTail-sub000/pkg/core"
)

// Result is what one highlight rule produced for a call to Apply or Rescan.
// Match lines are corpus indexes.
type Result struct {
	RuleID string
	// From is the first corpus line scanned.
	From int
	// Replace is set when scanning started from the beginning, so earlier
	// matches for this rule are superseded.
	Replace bool
	Matches []core.SearchMatch
}

type activeRule struct {
	rule     core.Rule
	re       *regexp.Regexp
	extract  *regexp.Regexp
	consumed int
	err      error
}

// Matcher holds the compiled state for a rule set. It is owned by a single
// processing worker and is not safe for concurrent use.
type Matcher struct {
	log    *slog.Logger
	active map[string]*activeRule
	ids    []string
}

// NewMatcher returns an empty Matcher.
func NewMatcher(log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{log: log, active: make(map[string]*activeRule)}
}

// Rules returns the current rule set sorted by ID.
func (m *Matcher) Rules() []core.Rule {
	out := make([]core.Rule, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, m.active[id].rule)
	}
	return out
}

// Set replaces the rule set and returns the delta that was applied.
func (m *Matcher) Set(rules []core.Rule) core.RuleDelta {
	delta := Diff(m.Rules(), Sorted(rules))
	m.Update(delta)
	return delta
}

// Update applies a delta. Rules that were added or whose pattern, kind or
// extractor changed restart from line zero.
func (m *Matcher) Update(delta core.RuleDelta) {
	for _, r := range delta.Removed {
		delete(m.active, r.ID)
	}
	for _, r := range delta.Added {
		m.active[r.ID] = m.compile(r)
	}
	for _, c := range delta.Updated {
		ar, ok := m.active[c.New.ID]
		if !ok || c.NeedsRescan() {
			m.active[c.New.ID] = m.compile(c.New)
			continue
		}
		ar.rule = c.New
	}

	m.ids = m.ids[:0]
	for id := range m.active {
		m.ids = append(m.ids, id)
	}
	slices.Sort(m.ids)
}

func (m *Matcher) compile(r core.Rule) *activeRule {
	ar := &activeRule{rule: r}
	if r.Pattern == "" {
		return ar
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		ar.err = fmt.Errorf("compile pattern: %w", err)
		m.log.Warn("rule inactive", "rule", r.ID, "name", r.Name, "err", err)
		return ar
	}
	ar.re = re
	if r.Extractor != "" {
		ex, err := regexp.Compile(r.Extractor)
		if err != nil {
			m.log.Warn("rule extractor ignored", "rule", r.ID, "name", r.Name, "err", err)
		} else {
			ar.extract = ex
		}
	}
	return ar
}

// Active reports whether the rule exists and has a usable pattern.
func (m *Matcher) Active(id string) bool {
	ar, ok := m.active[id]
	return ok && ar.re != nil
}

// Err returns the compile error of a rule, if any.
func (m *Matcher) Err(id string) error {
	if ar, ok := m.active[id]; ok {
		return ar.err
	}
	return nil
}

// ResetOffsets makes every rule start from line zero on the next Apply.
func (m *Matcher) ResetOffsets() {
	for _, ar := range m.active {
		ar.consumed = 0
	}
}

// Excluded reports whether any active exclude rule matches line.
func (m *Matcher) Excluded(line string) bool {
	for _, id := range m.ids {
		ar := m.active[id]
		if ar.re != nil && ar.rule.IsExclude() && ar.re.MatchString(line) {
			return true
		}
	}
	return false
}

// HasExcludes reports whether any exclude rule is active.
func (m *Matcher) HasExcludes() bool {
	for _, ar := range m.active {
		if ar.re != nil && ar.rule.IsExclude() {
			return true
		}
	}
	return false
}

// Apply scans every active highlight rule over the lines of corpus it has
// not consumed yet, or over all of it when force is set.
func (m *Matcher) Apply(corpus []string, force bool) []Result {
	var out []Result
	for _, id := range m.ids {
		ar := m.active[id]
		if ar.re == nil || ar.rule.IsExclude() {
			continue
		}
		out = append(out, ar.scan(corpus, force))
	}
	return out
}

// Rescan rescans one rule over the whole corpus.
func (m *Matcher) Rescan(id string, corpus []string) (Result, bool) {
	ar, ok := m.active[id]
	if !ok || ar.re == nil || ar.rule.IsExclude() {
		return Result{}, false
	}
	return ar.scan(corpus, true), true
}

func (ar *activeRule) scan(corpus []string, force bool) Result {
	start := ar.consumed
	if force || start > len(corpus) {
		start = 0
	}
	res := Result{RuleID: ar.rule.ID, From: start, Replace: start == 0}
	for i := start; i < len(corpus); i++ {
		line := corpus[i]
		for _, loc := range ar.re.FindAllStringIndex(line, -1) {
			if loc[0] == loc[1] {
				continue
			}
			res.Matches = append(res.Matches, core.SearchMatch{
				Line:          i,
				Start:         loc[0],
				End:           loc[1],
				RuleID:        ar.rule.ID,
				ExtractedText: ar.extracted(line[loc[0]:loc[1]]),
			})
		}
	}
	ar.consumed = len(corpus)
	return res
}

func (ar *activeRule) extracted(span string) string {
	if ar.extract == nil {
		return ""
	}
	sub := ar.extract.FindStringSubmatch(span)
	if sub == nil {
		return ""
	}
	if len(sub) > 1 && sub[1] != "" {
		return sub[1]
	}
	return sub[0]
}
