// Package manifest reads and writes ktail.yaml, the store for log sources
// and rules.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/njust/KTail-sub000/pkg/core"
)

// Source kinds.
const (
	KindFile       = "file"
	KindKubernetes = "kubernetes"
	KindDocker     = "docker"
	KindJournald   = "journald"
)

// Manifest represents a ktail.yaml configuration file.
type Manifest struct {
	Version int         `yaml:"version"        json:"version"`
	Root    string      `yaml:"root,omitempty" json:"root,omitempty"`
	Sources []Source    `yaml:"sources"        json:"sources"`
	Rules   []core.Rule `yaml:"rules"          json:"rules,omitempty"`

	// FilePath is where the manifest was loaded from.
	FilePath string `yaml:"-" json:"-"`
}

// Source is one log view definition.
type Source struct {
	Name      string   `yaml:"name"                json:"name"`
	Kind      string   `yaml:"kind"                json:"kind"`
	Path      string   `yaml:"path,omitempty"      json:"path,omitempty"`      // file
	Namespace string   `yaml:"namespace,omitempty" json:"namespace,omitempty"` // kubernetes, docker, journald
	Workloads []string `yaml:"workloads,omitempty" json:"workloads,omitempty"` // glob patterns
	Container string   `yaml:"container,omitempty" json:"container,omitempty"`
	Compose   string   `yaml:"compose,omitempty"   json:"compose,omitempty"` // docker: path to compose.yml
}

// Source returns the named source.
func (m *Manifest) Source(name string) (Source, bool) {
	for _, s := range m.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}

// NewRuleID returns a fresh identifier for a user-created rule.
func NewRuleID() string {
	return uuid.NewString()
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.FilePath = path
	return m, nil
}

// Parse decodes a manifest and interpolates ${root} in source paths.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i := range m.Sources {
		s := &m.Sources[i]
		s.Path = m.interpolate(s.Path)
		s.Compose = m.interpolate(s.Compose)
	}
	return &m, nil
}

func (m *Manifest) interpolate(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "${root}", m.Root)
	if strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, s[2:])
		}
	}
	return s
}

// Save writes the manifest to path through a temporary file.
func Save(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ktail-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
