// Package rules diffs rule sets and applies compiled rules to log lines.
package rules

import (
	"slices"
	"strings"

	"github.com/njust/KTail-sub000/pkg/core"
)

// Sort orders rules by ID in place. Diff requires both inputs sorted this way.
func Sort(rules []core.Rule) {
	slices.SortFunc(rules, func(a, b core.Rule) int {
		return strings.Compare(a.ID, b.ID)
	})
}

// Sorted returns a sorted copy of rules.
func Sorted(rules []core.Rule) []core.Rule {
	out := slices.Clone(rules)
	Sort(out)
	return out
}

// Diff computes the delta from prev to next with a single merge walk.
// Both slices must be sorted by ID. A rule whose ID exists on both sides is
// reported as updated only when some other field differs.
func Diff(prev, next []core.Rule) core.RuleDelta {
	var delta core.RuleDelta
	i, j := 0, 0
	for i < len(prev) && j < len(next) {
		switch c := strings.Compare(prev[i].ID, next[j].ID); {
		case c < 0:
			delta.Removed = append(delta.Removed, prev[i])
			i++
		case c > 0:
			delta.Added = append(delta.Added, next[j])
			j++
		default:
			if prev[i] != next[j] {
				delta.Updated = append(delta.Updated, core.RuleChange{Old: prev[i], New: next[j]})
			}
			i++
			j++
		}
	}
	delta.Removed = append(delta.Removed, prev[i:]...)
	delta.Added = append(delta.Added, next[j:]...)
	return delta
}
