package daemon

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/njust/KTail-sub000/pkg/transport/uds"
)

// PollLoop watches view states and broadcasts a delta whenever a source
// changes state, gains or loses sub-streams, or fails.
type PollLoop struct {
	daemon   *Daemon
	interval time.Duration
	logger   *slog.Logger
	last     map[string]uds.ViewInfo
}

// NewPollLoop creates a poll loop for the given daemon.
func NewPollLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *PollLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollLoop{daemon: d, interval: interval, logger: logger}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
func (pl *PollLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pl.tick()
		}
	}
}

func (pl *PollLoop) tick() {
	next := make(map[string]uds.ViewInfo)
	for _, v := range pl.daemon.Views() {
		next[v.Name] = v
	}

	delta := computeDelta(pl.last, next)
	pl.last = next
	if !delta.HasChanges() {
		return
	}
	evt, err := uds.NewEvent(uds.EventViewsDelta, delta)
	if err != nil {
		pl.logger.Error("encode views delta", "err", err)
		return
	}
	pl.daemon.Server().Broadcast(evt)
}

// Delta represents view changes between poll cycles.
type Delta struct {
	Added   []uds.ViewInfo `json:"added,omitempty"`
	Updated []uds.ViewInfo `json:"updated,omitempty"`
	Removed []string       `json:"removed,omitempty"`
}

// HasChanges returns true if the delta contains any changes.
func (d Delta) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Updated) > 0 || len(d.Removed) > 0
}

func computeDelta(old, new map[string]uds.ViewInfo) Delta {
	var d Delta

	for name, v := range new {
		prev, existed := old[name]
		if !existed {
			d.Added = append(d.Added, v)
		} else if viewChanged(prev, v) {
			d.Updated = append(d.Updated, v)
		}
	}

	for name := range old {
		if _, exists := new[name]; !exists {
			d.Removed = append(d.Removed, name)
		}
	}

	byName := func(a, b uds.ViewInfo) int { return strings.Compare(a.Name, b.Name) }
	slices.SortFunc(d.Added, byName)
	slices.SortFunc(d.Updated, byName)
	slices.Sort(d.Removed)
	return d
}

func viewChanged(a, b uds.ViewInfo) bool {
	return a.State != b.State ||
		a.Error != b.Error ||
		!slices.Equal(a.Active, b.Active)
}
