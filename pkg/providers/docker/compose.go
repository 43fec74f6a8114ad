package docker

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ComposeFile represents a minimal Docker Compose file.
type ComposeFile struct {
	Services map[string]ComposeService `yaml:"services"`
}

// ComposeService is a minimal service definition from a compose file.
type ComposeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Labels        map[string]string `yaml:"labels"`
	Logging       *ComposeLogging   `yaml:"logging,omitempty"`
}

// ParseComposeFile reads a compose.yml and returns service definitions.
func ParseComposeFile(path string) (*ComposeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	var cf ComposeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}
	return &cf, nil
}

// ComposeLogging is the logging section of a service. Only drivers that keep
// logs readable by `docker logs` can be tailed.
type ComposeLogging struct {
	Driver string `yaml:"driver"`
}

// Tailable reports whether `docker logs` works for the service.
func (s ComposeService) Tailable() bool {
	if s.Logging == nil {
		return true
	}
	switch s.Logging.Driver {
	case "", "json-file", "local", "journald":
		return true
	}
	return false
}

// ServiceNames returns the list of service names in the compose file.
func (cf *ComposeFile) ServiceNames() []string {
	names := make([]string, 0, len(cf.Services))
	for name := range cf.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// containerDef is a compose service resolved to its container name.
type containerDef struct {
	Name      string
	Container string
	Service   string
}

// AutoImport resolves compose services that have no running container yet.
// Services whose logging driver cannot be read back are skipped.
func AutoImport(cf *ComposeFile, existing map[string]bool, project string) []containerDef {
	var defs []containerDef
	for _, name := range cf.ServiceNames() {
		svc := cf.Services[name]
		if existing[name] || !svc.Tailable() {
			continue
		}
		containerName := svc.ContainerName
		if containerName == "" && project != "" {
			containerName = fmt.Sprintf("%s-%s-1", project, name)
		}
		if containerName == "" {
			containerName = name
		}
		defs = append(defs, containerDef{
			Name:      name,
			Container: containerName,
			Service:   name,
		})
	}
	return defs
}
