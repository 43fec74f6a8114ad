package core

// RuleKind controls what a rule does to matching lines.
type RuleKind string

const (
	RuleHighlight RuleKind = "highlight"
	RuleExclude   RuleKind = "exclude"
)

// Rule is a user-defined highlight or exclusion pattern.
type Rule struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Color     string   `json:"color,omitempty" yaml:"color,omitempty"`
	Pattern   string   `json:"pattern" yaml:"pattern"`
	Extractor string   `json:"extractor,omitempty" yaml:"extractor,omitempty"`
	Kind      RuleKind `json:"kind" yaml:"kind"`
	// System rules ship with the daemon and cannot be deleted.
	System bool `json:"system,omitempty" yaml:"system,omitempty"`
}

// IsExclude reports whether the rule filters lines out of the view.
func (r Rule) IsExclude() bool { return r.Kind == RuleExclude }

// RuleChange pairs the old and new version of an updated rule.
type RuleChange struct {
	Old Rule `json:"old"`
	New Rule `json:"new"`
}

// NeedsRescan reports whether the change invalidates the rule's existing matches.
// Name and color changes only affect presentation.
func (c RuleChange) NeedsRescan() bool {
	return c.Old.Pattern != c.New.Pattern ||
		c.Old.Kind != c.New.Kind ||
		c.Old.Extractor != c.New.Extractor
}

// RuleDelta is the difference between two rule sets, keyed by rule ID.
type RuleDelta struct {
	Added   []Rule       `json:"added,omitempty"`
	Removed []Rule       `json:"removed,omitempty"`
	Updated []RuleChange `json:"updated,omitempty"`
}

// Empty reports whether the delta carries no changes.
func (d RuleDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// TouchesExclusion reports whether any exclude rule is added, removed or changed kind.
func (d RuleDelta) TouchesExclusion() bool {
	for _, r := range d.Added {
		if r.IsExclude() {
			return true
		}
	}
	for _, r := range d.Removed {
		if r.IsExclude() {
			return true
		}
	}
	for _, c := range d.Updated {
		if (c.Old.IsExclude() || c.New.IsExclude()) && c.NeedsRescan() {
			return true
		}
	}
	return false
}
