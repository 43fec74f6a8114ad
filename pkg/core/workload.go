package core

import (
	"fmt"
	"strings"
)

// ProviderKind identifies the backend a remote log source talks to.
type ProviderKind string

const (
	ProviderKubernetes ProviderKind = "kubernetes"
	ProviderDocker     ProviderKind = "docker"
	ProviderJournald   ProviderKind = "journald"
)

// Status represents the observed state of a workload.
type Status string

const (
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
	StatusRestarting Status = "restarting"
	StatusPending    Status = "pending"
)

// Workload is something a provider can stream logs for: a pod, a container or a unit.
type Workload struct {
	Namespace  string   `json:"namespace"`
	Name       string   `json:"name"`
	Containers []string `json:"containers,omitempty"`
	Status     Status   `json:"status"`
	Ready      bool     `json:"ready"`
}

// StreamRequest selects one sub-stream from a provider.
type StreamRequest struct {
	Namespace    string
	Workload     string
	Container    string
	SinceSeconds int64
	Follow       bool
}

// Name returns the sub-source name used as a multiplexer key and line prefix.
func (r StreamRequest) Name() string {
	if r.Container == "" {
		return r.Workload
	}
	return r.Workload + "/" + r.Container
}

// WorkloadID constructs a stable workload ID.
// Format: provider:namespace:name[/container]
func WorkloadID(provider ProviderKind, namespace, name string) string {
	return fmt.Sprintf("%s:%s:%s", provider, namespace, name)
}

// ParseWorkloadID splits a workload ID into provider, namespace and name.
func ParseWorkloadID(id string) (provider ProviderKind, namespace, name string, err error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("invalid workload ID %q: expected provider:namespace:name", id)
	}
	return ProviderKind(parts[0]), parts[1], parts[2], nil
}
