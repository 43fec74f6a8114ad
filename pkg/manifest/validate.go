package manifest

import (
	"fmt"
	"path"
	"regexp"

	"github.com/njust/KTail-sub000/pkg/core"
)

// Validate checks the manifest for structural correctness.
func Validate(m *Manifest) []error {
	var errs []error

	if m.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", m.Version))
	}

	if len(m.Sources) == 0 {
		errs = append(errs, fmt.Errorf("manifest must define at least one source"))
	}

	seen := make(map[string]bool)
	for i, s := range m.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("source #%d: name is required", i+1))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("source %q: duplicate name", s.Name))
		}
		seen[s.Name] = true

		switch s.Kind {
		case KindFile:
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("source %q (file): path is required", s.Name))
			}
		case KindKubernetes:
			if s.Namespace == "" {
				errs = append(errs, fmt.Errorf("source %q (kubernetes): namespace is required", s.Name))
			}
		case KindDocker:
		case KindJournald:
			if s.Namespace != "" && s.Namespace != "system" && s.Namespace != "user" {
				errs = append(errs, fmt.Errorf("source %q (journald): namespace must be system or user; got %q", s.Name, s.Namespace))
			}
		case "":
			errs = append(errs, fmt.Errorf("source %q: kind is required", s.Name))
		default:
			errs = append(errs, fmt.Errorf("source %q: unknown kind %q", s.Name, s.Kind))
		}
		if s.Kind != KindFile && s.Path != "" {
			errs = append(errs, fmt.Errorf("source %q (%s): path is only valid for file sources", s.Name, s.Kind))
		}
		for _, p := range s.Workloads {
			if _, err := path.Match(p, ""); err != nil {
				errs = append(errs, fmt.Errorf("source %q: bad workload pattern %q", s.Name, p))
			}
		}
	}

	errs = append(errs, ValidateRules(m.Rules)...)
	return errs
}

// ValidateRules checks rule ids, kinds and patterns.
func ValidateRules(rs []core.Rule) []error {
	var errs []error
	ids := make(map[string]bool)
	for i, r := range rs {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rule #%d: id is required", i+1))
		} else if ids[r.ID] {
			errs = append(errs, fmt.Errorf("rule %q: duplicate id", r.ID))
		}
		ids[r.ID] = true

		switch r.Kind {
		case core.RuleHighlight, core.RuleExclude:
		case "":
			errs = append(errs, fmt.Errorf("rule %q: kind is required", r.ID))
		default:
			errs = append(errs, fmt.Errorf("rule %q: unknown kind %q", r.ID, r.Kind))
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: invalid pattern: %w", r.ID, err))
		}
		if r.Extractor != "" {
			if _, err := regexp.Compile(r.Extractor); err != nil {
				errs = append(errs, fmt.Errorf("rule %q: invalid extractor: %w", r.ID, err))
			}
		}
	}
	return errs
}
