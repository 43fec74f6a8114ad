// Package journald lists systemd units over D-Bus and streams their journal
// through journalctl.
package journald

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/providers/helper"
)

// Namespaces a journald source can use.
const (
	NamespaceSystem = "system"
	NamespaceUser   = "user"
)

// unitLister is the part of *dbus.Conn the provider needs.
type unitLister interface {
	ListUnitsByPatternsContext(ctx context.Context, states []string, patterns []string) ([]dbus.UnitStatus, error)
	Close()
}

// Provider implements core.LogProvider for systemd units.
type Provider struct {
	logger   *slog.Logger
	patterns []string
	dial     func(ctx context.Context, namespace string) (unitLister, error)
	command  func(req core.StreamRequest) []string
}

// New creates a journald provider listing units that match patterns
// (default "*.service").
func New(logger *slog.Logger, patterns ...string) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if len(patterns) == 0 {
		patterns = []string{"*.service"}
	}
	return &Provider{
		logger:   logger,
		patterns: patterns,
		dial:     dial,
		command:  journalctlArgs,
	}
}

func dial(ctx context.Context, namespace string) (unitLister, error) {
	if namespace == NamespaceUser {
		return dbus.NewUserConnectionContext(ctx)
	}
	return dbus.NewSystemConnectionContext(ctx)
}

func (p *Provider) Kind() core.ProviderKind { return core.ProviderJournald }

// ListWorkloads returns the units of the system or user manager.
func (p *Provider) ListWorkloads(ctx context.Context, namespace string) ([]core.Workload, error) {
	conn, err := p.dial(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd (%s): %w", namespace, err)
	}
	defer conn.Close()

	units, err := conn.ListUnitsByPatternsContext(ctx, nil, p.patterns)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	out := make([]core.Workload, 0, len(units))
	for _, u := range units {
		if u.LoadState == "not-found" {
			continue
		}
		out = append(out, core.Workload{
			Namespace: namespace,
			Name:      u.Name,
			Status:    mapActiveState(u.ActiveState),
			Ready:     u.ActiveState == "active",
		})
	}
	slices.SortFunc(out, func(a, b core.Workload) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func mapActiveState(state string) core.Status {
	switch state {
	case "active", "reloading":
		return core.StatusRunning
	case "inactive", "deactivating":
		return core.StatusStopped
	case "failed":
		return core.StatusFailed
	case "activating":
		return core.StatusPending
	default:
		return core.StatusUnknown
	}
}

// StreamLogs runs journalctl for one unit.
func (p *Provider) StreamLogs(ctx context.Context, req core.StreamRequest) (io.ReadCloser, error) {
	argv := p.command(req)
	proc, err := helper.Start(ctx, p.logger, argv, helper.Options{})
	if err != nil {
		return nil, fmt.Errorf("journalctl for %s: %w", req.Workload, err)
	}
	p.logger.Info("streaming journal", "unit", req.Workload, "pid", proc.Pid())
	return proc, nil
}

// journalctlArgs builds the command line. short-iso-precise prefixes each
// line with a microsecond timestamp the view can order by.
func journalctlArgs(req core.StreamRequest) []string {
	argv := []string{"journalctl", "-u", req.Workload, "-o", "short-iso-precise", "--no-pager"}
	if req.Namespace == NamespaceUser {
		argv = append(argv, "--user")
	}
	if req.Follow {
		argv = append(argv, "-f")
	}
	if req.SinceSeconds > 0 {
		argv = append(argv, fmt.Sprintf("--since=-%ds", req.SinceSeconds))
	} else {
		argv = append(argv, "-n", "50")
	}
	return argv
}
