package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleChangeNeedsRescan(t *testing.T) {
	base := Rule{ID: "a", Name: "errors", Color: "#ff0000", Pattern: "ERROR", Kind: RuleHighlight}

	renamed := base
	renamed.Name = "errs"
	renamed.Color = "#00ff00"
	assert.False(t, RuleChange{Old: base, New: renamed}.NeedsRescan())

	repatterned := base
	repatterned.Pattern = "ERR"
	assert.True(t, RuleChange{Old: base, New: repatterned}.NeedsRescan())

	rekinded := base
	rekinded.Kind = RuleExclude
	assert.True(t, RuleChange{Old: base, New: rekinded}.NeedsRescan())

	extracting := base
	extracting.Extractor = `id=(\d+)`
	assert.True(t, RuleChange{Old: base, New: extracting}.NeedsRescan())
}

func TestRuleDeltaTouchesExclusion(t *testing.T) {
	hl := Rule{ID: "a", Pattern: "x", Kind: RuleHighlight}
	ex := Rule{ID: "b", Pattern: "health", Kind: RuleExclude}

	assert.True(t, RuleDelta{}.Empty())
	assert.False(t, RuleDelta{Added: []Rule{hl}}.TouchesExclusion())
	assert.True(t, RuleDelta{Added: []Rule{ex}}.TouchesExclusion())
	assert.True(t, RuleDelta{Removed: []Rule{ex}}.TouchesExclusion())

	renamed := ex
	renamed.Name = "probes"
	assert.False(t, RuleDelta{Updated: []RuleChange{{Old: ex, New: renamed}}}.TouchesExclusion())

	flipped := hl
	flipped.Kind = RuleExclude
	assert.True(t, RuleDelta{Updated: []RuleChange{{Old: hl, New: flipped}}}.TouchesExclusion())
}
