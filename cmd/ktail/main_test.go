package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/transport/uds"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRulesValidateCommand(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "ktail.yaml")
	content := []byte(`version: 1
sources:
  - name: app
    kind: file
    path: /var/log/app.log
rules:
  - id: slow
    name: slow queries
    kind: highlight
    pattern: 'took \d+ms'
`)
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "rules", "validate", tmp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "valid (1 sources, 1 rules)") {
		t.Errorf("output: %q", out)
	}
}

func TestRulesValidateInvalid(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "bad.yaml")
	content := []byte(`version: 1
sources:
  - name: app
    kind: file
`)
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "rules", "validate", tmp)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "path is required") {
		t.Errorf("output: %q", out)
	}
}

func TestRulesInit(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "nested", "ktail.yaml")
	if _, err := execute(t, "rules", "init", "--output", tmp); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "sys-error") {
		t.Error("generated manifest is missing the system rules")
	}

	if _, err := execute(t, "rules", "init", "--output", tmp); err == nil {
		t.Error("expected refusal to overwrite")
	}
	rulesInitForce = false
}

func TestRulesList(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "ktail.yaml")
	content := []byte(`version: 1
sources:
  - name: app
    kind: file
    path: /var/log/app.log
rules:
  - id: health
    name: health checks
    kind: exclude
    pattern: GET /healthz
`)
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "rules", "list", tmp)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"health", "exclude", "sys-error", "(system)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "ktail ") {
		t.Errorf("output: %q", out)
	}
}

func TestPrintViews(t *testing.T) {
	var buf bytes.Buffer
	views := []uds.ViewInfo{{Name: "api", Kind: "kubernetes", State: "streaming", Active: []string{"api-1", "api-2"}}}
	if err := printViews(&buf, views, false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "streaming") || !strings.Contains(lines[1], "2") {
		t.Errorf("table: %q", buf.String())
	}
}

func TestPrintUpdate(t *testing.T) {
	var buf bytes.Buffer
	printUpdate(&buf, core.Update{Kind: core.UpdateAppend, Text: "a\nb\n"})
	printUpdate(&buf, core.Update{Kind: core.UpdateRules})
	printUpdate(&buf, core.Update{Kind: core.UpdateClear})
	if buf.String() != "a\nb\n--- view cleared ---\n" {
		t.Errorf("output: %q", buf.String())
	}
}
