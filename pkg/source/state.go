// Package source produces raw log bytes for a view: a tailed local file or a
// set of remote streams from a log provider.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/njust/KTail-sub000/pkg/core"
)

// State is a source lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Streaming
	Reloading
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Streaming:
		return "streaming"
	case Reloading:
		return "reloading"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	Uninitialized: {Initializing, Stopping},
	Initializing:  {Streaming, Stopping},
	Streaming:     {Reloading, Stopping},
	Reloading:     {Streaming, Stopping},
	Stopping:      {Stopped},
}

// Source is anything a view can consume. Run blocks until ctx is cancelled or
// initialization fails, writing events to out.
type Source interface {
	Name() string
	State() State
	Run(ctx context.Context, out chan<- core.SourceEvent) error
}

// machine guards lifecycle transitions.
type machine struct {
	mu    sync.Mutex
	state State
	name  string
	log   *slog.Logger
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) to(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(transitions[m.state], next) {
		return fmt.Errorf("source %s: invalid transition %s -> %s", m.name, m.state, next)
	}
	m.log.Debug("source state", "source", m.name, "from", m.state, "to", next)
	m.state = next
	return nil
}

// stop walks to Stopped from wherever the machine is.
func (m *machine) stop() {
	if m.State() != Stopping {
		_ = m.to(Stopping)
	}
	_ = m.to(Stopped)
}

func send(ctx context.Context, out chan<- core.SourceEvent, ev core.SourceEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
