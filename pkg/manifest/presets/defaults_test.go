package presets

import (
	"regexp"
	"testing"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/manifest"
)

func TestSystemRulesValid(t *testing.T) {
	errs := manifest.ValidateRules(SystemRules())
	if len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
	for _, r := range SystemRules() {
		if !r.System {
			t.Errorf("rule %s: not marked system", r.ID)
		}
	}
}

func TestSystemRulesMatch(t *testing.T) {
	tests := []struct {
		id   string
		line string
		want bool
	}{
		{"sys-error", "2024-05-01 ERROR db down", true},
		{"sys-error", "errors=0", false},
		{"sys-warning", "[warn] slow query", true},
		{"sys-stacktrace", "    at com.example.Foo.bar(Foo.java:10)", true},
		{"sys-stacktrace", `  File "app.py", line 3, in <module>`, true},
		{"sys-stacktrace", "\t/src/app/main.go:42 +0x1d", true},
		{"sys-stacktrace", "at the start", false},
	}
	byID := make(map[string]*regexp.Regexp)
	for _, r := range SystemRules() {
		byID[r.ID] = regexp.MustCompile(r.Pattern)
	}
	for _, tt := range tests {
		if got := byID[tt.id].MatchString(tt.line); got != tt.want {
			t.Errorf("%s on %q: got %v, want %v", tt.id, tt.line, got, tt.want)
		}
	}
}

func TestMerge(t *testing.T) {
	user := []core.Rule{
		{ID: "sys-warning", Name: "Mine", Pattern: "WARN", Kind: core.RuleHighlight},
		{ID: "aaa", Pattern: "x", Kind: core.RuleExclude},
	}
	got := Merge(user)
	if len(got) != 4 {
		t.Fatalf("merged: got %d rules, want 4", len(got))
	}
	want := []string{"aaa", "sys-error", "sys-stacktrace", "sys-warning"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("rule %d: got %s, want %s", i, got[i].ID, id)
		}
	}
	if got[3].Name != "Mine" {
		t.Errorf("user override lost: %+v", got[3])
	}
}

func TestStarterValid(t *testing.T) {
	if errs := manifest.Validate(Starter()); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}
