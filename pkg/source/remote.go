package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/mux"
)

// DefaultRelistInterval is how often a remote source looks for new workloads.
const DefaultRelistInterval = 10 * time.Second

// RemoteOptions select what a remote source streams.
type RemoteOptions struct {
	Namespace string
	// Workloads are path.Match patterns on workload names. Empty means all.
	Workloads []string
	// Container restricts streaming to one container per workload.
	Container      string
	SinceSeconds   int64
	PollInterval   time.Duration
	RelistInterval time.Duration
}

type remoteStream struct {
	req      core.StreamRequest
	active   bool
	ended    time.Time
	failures int
	retryAt  time.Time
}

// Remote streams logs of several workloads through a provider, one mux
// stream per workload container.
type Remote struct {
	provider core.LogProvider
	opts     RemoteOptions
	logger   *slog.Logger
	m        *machine

	mux     *mux.Mux
	active  atomic.Pointer[mux.Mux]
	streams map[string]*remoteStream
	now     func() time.Time
}

// NewRemote creates a remote source.
func NewRemote(logger *slog.Logger, provider core.LogProvider, opts RemoteOptions) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RelistInterval <= 0 {
		opts.RelistInterval = DefaultRelistInterval
	}
	name := fmt.Sprintf("%s:%s", provider.Kind(), opts.Namespace)
	return &Remote{
		provider: provider,
		opts:     opts,
		logger:   logger.With("source", name),
		m:        &machine{name: name, log: logger},
		streams:  make(map[string]*remoteStream),
		now:      time.Now,
	}
}

func (r *Remote) Name() string { return r.m.name }
func (r *Remote) State() State { return r.m.State() }

// Active returns the names of the sub-streams currently open.
func (r *Remote) Active() []string {
	m := r.active.Load()
	if m == nil {
		return nil
	}
	return m.Active()
}

// Run lists workloads, opens every selected stream and then forwards data
// until ctx is cancelled. Failing to list workloads or to open an initial
// stream is returned.
func (r *Remote) Run(ctx context.Context, out chan<- core.SourceEvent) error {
	if err := r.m.to(Initializing); err != nil {
		return err
	}
	defer r.m.stop()

	ws, err := r.provider.ListWorkloads(ctx, r.opts.Namespace)
	if err != nil {
		return fmt.Errorf("list workloads: %w", err)
	}
	reqs := r.selectRequests(ws)
	if len(reqs) == 0 {
		return fmt.Errorf("%w: no workloads in %s match %v", core.ErrSourceUnavailable, r.opts.Namespace, r.opts.Workloads)
	}

	readers, err := r.openAll(ctx, reqs)
	if err != nil {
		return err
	}

	r.mux = mux.New(r.logger)
	r.active.Store(r.mux)
	defer r.mux.Close()
	for _, req := range reqs {
		rc := readers[req.Name()]
		r.streams[req.Name()] = &remoteStream{req: req, active: true}
		if err := r.mux.Add(ctx, req.Name(), func(context.Context) (io.ReadCloser, error) { return rc, nil }); err != nil {
			rc.Close()
			return err
		}
	}
	if err := r.m.to(Streaming); err != nil {
		return err
	}
	r.logger.Info("remote source streaming", "streams", len(reqs))

	poll := time.NewTicker(r.opts.PollInterval)
	defer poll.Stop()
	relist := time.NewTicker(r.opts.RelistInterval)
	defer relist.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = r.m.to(Stopping)
			return nil
		case ev, ok := <-r.mux.Events():
			if !ok {
				return nil
			}
			if !r.handle(ctx, out, ev) {
				_ = r.m.to(Stopping)
				return nil
			}
		case <-poll.C:
			r.reinit(ctx)
		case <-relist.C:
			r.relist(ctx)
		}
	}
}

// openAll opens the initial streams concurrently. On any failure the ones
// that did open are closed.
func (r *Remote) openAll(ctx context.Context, reqs []core.StreamRequest) (map[string]io.ReadCloser, error) {
	readers := make([]io.ReadCloser, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			req.SinceSeconds = r.opts.SinceSeconds
			rc, err := r.provider.StreamLogs(ctx, req)
			if err != nil {
				return fmt.Errorf("open %s: %w", req.Name(), err)
			}
			readers[i] = rc
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		for _, rc := range readers {
			if rc != nil {
				rc.Close()
			}
		}
		return nil, err
	}
	out := make(map[string]io.ReadCloser, len(reqs))
	for i, req := range reqs {
		out[req.Name()] = readers[i]
	}
	return out, nil
}

func (r *Remote) handle(ctx context.Context, out chan<- core.SourceEvent, ev mux.Event) bool {
	st, ok := r.streams[ev.Name]
	if !ok {
		return true
	}
	switch ev.Kind {
	case mux.EventData:
		st.failures = 0
		return send(ctx, out, core.SourceEvent{
			Kind:        core.SourceData,
			Source:      ev.Name,
			Data:        ev.Data,
			Prefixed:    ev.Multi,
			Timestamped: true,
			Received:    ev.At,
		})
	case mux.EventEnded:
		st.active = false
		st.ended = ev.At
		st.failures++
		st.retryAt = ev.At.Add(backoff(st.failures))
		if errors.Is(ev.Err, core.ErrRemoteStreamEnded) {
			r.logger.Info("stream ended, will reopen", "stream", ev.Name, "retry_in", backoff(st.failures))
		} else {
			r.logger.Warn("stream failed, will retry", "stream", ev.Name, "err", ev.Err, "retry_in", backoff(st.failures))
		}
		return send(ctx, out, core.SourceEvent{
			Kind:        core.SourceEnded,
			Source:      ev.Name,
			Timestamped: true,
			Received:    ev.At,
		})
	}
	return true
}

// reinit reopens ended streams whose backoff has elapsed. The since window
// covers the time the stream was down.
func (r *Remote) reinit(ctx context.Context) {
	now := r.now()
	for name, st := range r.streams {
		if st.active || now.Before(st.retryAt) {
			continue
		}
		req := st.req
		req.SinceSeconds = int64(now.Sub(st.ended).Seconds()) + 1
		if err := r.mux.Add(ctx, name, r.opener(req)); err != nil {
			r.logger.Warn("reopen stream", "stream", name, "err", err)
			continue
		}
		st.active = true
		r.logger.Debug("stream reopened", "stream", name, "since", req.SinceSeconds)
	}
}

func (r *Remote) opener(req core.StreamRequest) mux.Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return r.provider.StreamLogs(ctx, req)
	}
}

// relist starts streams for workloads that appeared and cancels the ones
// whose workload is gone.
func (r *Remote) relist(ctx context.Context) {
	ws, err := r.provider.ListWorkloads(ctx, r.opts.Namespace)
	if err != nil {
		r.logger.Warn("relist workloads", "err", err)
		return
	}
	want := make(map[string]core.StreamRequest)
	for _, req := range r.selectRequests(ws) {
		want[req.Name()] = req
	}
	have := make(map[string]core.StreamRequest, len(r.streams))
	for name, st := range r.streams {
		have[name] = st.req
	}

	added, removed := computeDelta(have, want)
	for _, name := range removed {
		r.mux.Cancel(name)
		delete(r.streams, name)
		r.logger.Info("workload gone, stream cancelled", "stream", name)
	}
	for _, req := range added {
		req.SinceSeconds = r.opts.SinceSeconds
		if err := r.mux.Add(ctx, req.Name(), r.opener(req)); err != nil {
			r.logger.Warn("open new stream", "stream", req.Name(), "err", err)
			continue
		}
		r.streams[req.Name()] = &remoteStream{req: req, active: true}
		r.logger.Info("new workload, stream opened", "stream", req.Name())
	}
}

// selectRequests expands matching, non-pending workloads into one request
// per container.
func (r *Remote) selectRequests(ws []core.Workload) []core.StreamRequest {
	var reqs []core.StreamRequest
	for _, w := range ws {
		if w.Status == core.StatusPending || !r.matches(w.Name) {
			continue
		}
		base := core.StreamRequest{Namespace: r.opts.Namespace, Workload: w.Name, Follow: true}
		switch {
		case r.opts.Container != "":
			if len(w.Containers) > 0 && !slices.Contains(w.Containers, r.opts.Container) {
				continue
			}
			base.Container = r.opts.Container
			reqs = append(reqs, base)
		case len(w.Containers) <= 1:
			if len(w.Containers) == 1 {
				base.Container = w.Containers[0]
			}
			reqs = append(reqs, base)
		default:
			for _, c := range w.Containers {
				req := base
				req.Container = c
				reqs = append(reqs, req)
			}
		}
	}
	return reqs
}

func (r *Remote) matches(name string) bool {
	if len(r.opts.Workloads) == 0 {
		return true
	}
	for _, p := range r.opts.Workloads {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// computeDelta returns the requests only in want and the names only in have,
// both sorted.
func computeDelta(have, want map[string]core.StreamRequest) (added []core.StreamRequest, removed []string) {
	for name, req := range want {
		if _, ok := have[name]; !ok {
			added = append(added, req)
		}
	}
	for name := range have {
		if _, ok := want[name]; !ok {
			removed = append(removed, name)
		}
	}
	slices.SortFunc(added, func(a, b core.StreamRequest) int { return strings.Compare(a.Name(), b.Name()) })
	slices.Sort(removed)
	return added, removed
}
