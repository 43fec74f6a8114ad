// Package presets holds the rules ktail ships with and a starter manifest.
package presets

import (
	"slices"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/manifest"
	"github.com/njust/KTail-sub000/pkg/rules"
)

// SystemRules are merged into every rule set at startup.
func SystemRules() []core.Rule {
	return []core.Rule{
		{
			ID:      "sys-error",
			Name:    "Errors",
			Color:   "#ff5f5f",
			Pattern: `(?i)\b(error|fatal|panic|critical|exception)\b`,
			Kind:    core.RuleHighlight,
			System:  true,
		},
		{
			ID:      "sys-stacktrace",
			Name:    "Stack traces",
			Color:   "#d787ff",
			Pattern: `^\s+(at [\w.$]+\(|File "[^"]+", line \d+|[\w./-]+\.go:\d+)`,
			Kind:    core.RuleHighlight,
			System:  true,
		},
		{
			ID:      "sys-warning",
			Name:    "Warnings",
			Color:   "#ffaf00",
			Pattern: `(?i)\b(warn|warning)\b`,
			Kind:    core.RuleHighlight,
			System:  true,
		},
	}
}

// Merge adds the system rules missing from rs. A user rule with a system
// rule's id overrides it. The result is sorted by id.
func Merge(rs []core.Rule) []core.Rule {
	out := slices.Clone(rs)
	for _, sys := range SystemRules() {
		if !slices.ContainsFunc(rs, func(r core.Rule) bool { return r.ID == sys.ID }) {
			out = append(out, sys)
		}
	}
	rules.Sort(out)
	return out
}

// Starter returns the manifest written by "ktail rules init": one view on the
// system journal plus the system rules.
func Starter() *manifest.Manifest {
	return &manifest.Manifest{
		Version: 1,
		Sources: []manifest.Source{
			{Name: "journal", Kind: manifest.KindJournald, Namespace: "system"},
		},
		Rules: SystemRules(),
	}
}
