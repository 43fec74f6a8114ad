// Package docker lists containers with the docker CLI and streams their logs.
package docker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strings"

	"github.com/moby/moby/api/types/container"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/providers/helper"
)

// AllNamespace lists every container instead of one compose project.
const AllNamespace = "all"

const composeProjectLabel = "com.docker.compose.project"

// psRow is one line of `docker ps --format '{{json .}}'`.
type psRow struct {
	Names  string `json:"Names"`
	State  string `json:"State"`
	Status string `json:"Status"`
	Labels string `json:"Labels"`
}

// Provider implements core.LogProvider for Docker containers. A namespace is
// a compose project name.
type Provider struct {
	logger  *slog.Logger
	binary  string
	compose map[string]*ComposeFile
	run     func(ctx context.Context, args ...string) ([]byte, error)
}

// New creates a Docker provider that shells out to the docker CLI.
func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		logger:  logger,
		binary:  "docker",
		compose: make(map[string]*ComposeFile),
	}
	p.run = p.exec
	return p
}

// AddComposeFile makes the services of a compose file show up for project
// even before their containers exist.
func (p *Provider) AddComposeFile(project, path string) error {
	cf, err := ParseComposeFile(path)
	if err != nil {
		return err
	}
	p.compose[project] = cf
	return nil
}

func (p *Provider) Kind() core.ProviderKind { return core.ProviderDocker }

func (p *Provider) exec(ctx context.Context, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", p.binary, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// ListWorkloads returns the containers of a compose project, or all of them
// for AllNamespace. Services from a registered compose file that have no
// container yet are listed as stopped.
func (p *Provider) ListWorkloads(ctx context.Context, namespace string) ([]core.Workload, error) {
	args := []string{"ps", "-a", "--no-trunc", "--format", "{{json .}}"}
	if namespace != "" && namespace != AllNamespace {
		args = append(args, "--filter", "label="+composeProjectLabel+"="+namespace)
	}
	out, err := p.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var ws []core.Workload
	existing := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var row psRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("parse docker ps output: %w", err)
		}
		state := container.ContainerState(row.State)
		ws = append(ws, core.Workload{
			Namespace: namespace,
			Name:      row.Names,
			Status:    mapContainerState(state),
			Ready:     state == container.StateRunning,
		})
		if svc := labelValue(row.Labels, "com.docker.compose.service"); svc != "" {
			existing[svc] = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read docker ps output: %w", err)
	}

	if cf, ok := p.compose[namespace]; ok {
		for _, def := range AutoImport(cf, existing, namespace) {
			ws = append(ws, core.Workload{
				Namespace: namespace,
				Name:      def.Container,
				Status:    core.StatusStopped,
			})
		}
	}
	slices.SortFunc(ws, func(a, b core.Workload) int { return strings.Compare(a.Name, b.Name) })
	return ws, nil
}

func labelValue(labels, key string) string {
	for _, kv := range strings.Split(labels, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == key {
			return v
		}
	}
	return ""
}

func mapContainerState(s container.ContainerState) core.Status {
	switch s {
	case container.StateRunning:
		return core.StatusRunning
	case container.StateRestarting:
		return core.StatusRestarting
	case container.StateExited, container.StateDead, container.StateCreated, container.StatePaused:
		return core.StatusStopped
	default:
		return core.StatusUnknown
	}
}

// StreamLogs runs `docker logs` with timestamps. Container stderr is merged
// into the stream.
func (p *Provider) StreamLogs(ctx context.Context, req core.StreamRequest) (io.ReadCloser, error) {
	proc, err := helper.Start(ctx, p.logger, p.logsArgs(req), helper.Options{MergeStderr: true})
	if err != nil {
		return nil, fmt.Errorf("docker logs %s: %w", req.Workload, err)
	}
	return proc, nil
}

func (p *Provider) logsArgs(req core.StreamRequest) []string {
	argv := []string{p.binary, "logs", "--timestamps"}
	if req.Follow {
		argv = append(argv, "--follow")
	}
	if req.SinceSeconds > 0 {
		argv = append(argv, "--since", fmt.Sprintf("%ds", req.SinceSeconds))
	}
	return append(argv, req.Workload)
}
