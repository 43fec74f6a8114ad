// Package daemon runs the log views of a manifest and serves them over the
// Unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/njust/KTail-sub000/internal/buildinfo"
	"github.com/njust/KTail-sub000/pkg/config"
	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/manifest"
	"github.com/njust/KTail-sub000/pkg/manifest/presets"
	"github.com/njust/KTail-sub000/pkg/rules"
	"github.com/njust/KTail-sub000/pkg/source"
	"github.com/njust/KTail-sub000/pkg/transport/uds"
	"github.com/njust/KTail-sub000/pkg/view"
)

// Daemon is the main ktaild process that owns providers, views and transport.
type Daemon struct {
	server    *uds.Server
	cfg       config.Config
	manifest  *manifest.Manifest
	providers map[core.ProviderKind]core.LogProvider
	views     map[string]*viewEntry
	order     []string
	rules     []core.Rule
	retry     time.Duration
	mu        sync.RWMutex
	logger    *slog.Logger
}

// viewEntry is one manifest source with its view and current source.
type viewEntry struct {
	def    manifest.Source
	view   *view.View
	events chan core.SourceEvent

	mu  sync.Mutex
	src source.Source
	err error
}

func (e *viewEntry) info() uds.ViewInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	info := uds.ViewInfo{Name: e.def.Name, Kind: e.def.Kind, State: source.Uninitialized.String()}
	if e.src != nil {
		info.State = e.src.State().String()
		if r, ok := e.src.(*source.Remote); ok {
			info.Active = r.Active()
		}
	}
	if e.err != nil {
		info.Error = e.err.Error()
	}
	return info
}

// New creates a daemon for the manifest. Providers must be added before Run.
func New(cfg config.Config, m *manifest.Manifest, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = &manifest.Manifest{Version: 1}
	}
	d := &Daemon{
		server:    uds.NewServer(cfg.SocketPath, logger),
		cfg:       cfg,
		manifest:  m,
		providers: make(map[core.ProviderKind]core.LogProvider),
		views:     make(map[string]*viewEntry),
		rules:     presets.Merge(m.Rules),
		retry:     source.DefaultRelistInterval,
		logger:    logger,
	}
	d.registerHandlers()
	return d
}

// AddProvider registers a provider with the daemon.
func (d *Daemon) AddProvider(p core.LogProvider) {
	d.providers[p.Kind()] = p
}

// AddView creates the view for one manifest source.
func (d *Daemon) AddView(def manifest.Source) error {
	if _, ok := d.views[def.Name]; ok {
		return fmt.Errorf("view %q already exists", def.Name)
	}
	if def.Kind != manifest.KindFile {
		if _, ok := d.providers[core.ProviderKind(def.Kind)]; !ok {
			return fmt.Errorf("view %q: %w: no %s provider", def.Name, core.ErrNotFound, def.Kind)
		}
	}
	e := &viewEntry{def: def, events: make(chan core.SourceEvent, 64)}
	v, err := view.New(d.logger, view.Options{
		Name:      def.Name,
		Rules:     d.rules,
		Encodings: d.cfg.Encodings,
		Sink:      d.publish,
	})
	if err != nil {
		return fmt.Errorf("view %q: %w", def.Name, err)
	}
	e.view = v
	d.views[def.Name] = e
	d.order = append(d.order, def.Name)
	return nil
}

// Run starts the server, every view and its source, and blocks until ctx is
// cancelled or the server fails.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.server.Start(ctx) })
	for _, name := range d.order {
		e := d.views[name]
		g.Go(func() error { return e.view.Run(ctx, e.events) })
		g.Go(func() error {
			d.runSource(ctx, e)
			return nil
		})
	}
	d.logger.Info("daemon running", "views", len(d.order), "rules", len(d.rules))
	return g.Wait()
}

// runSource runs the view's source, building a fresh one after provider
// failures.
func (d *Daemon) runSource(ctx context.Context, e *viewEntry) {
	for {
		src := d.buildSource(e.def)
		e.mu.Lock()
		e.src = src
		e.mu.Unlock()

		err := src.Run(ctx, e.events)
		if ctx.Err() != nil {
			return
		}
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		if err != nil {
			d.logger.Warn("source failed", "view", e.def.Name, "retry_in", d.retry, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retry):
		}
	}
}

func (d *Daemon) buildSource(def manifest.Source) source.Source {
	logger := d.logger.With("view", def.Name)
	if def.Kind == manifest.KindFile {
		return source.NewFile(logger, def.Path, d.cfg.PollInterval)
	}
	return source.NewRemote(logger, d.providers[core.ProviderKind(def.Kind)], source.RemoteOptions{
		Namespace:    def.Namespace,
		Workloads:    def.Workloads,
		Container:    def.Container,
		SinceSeconds: d.cfg.SinceSeconds,
		PollInterval: d.cfg.PollInterval,
	})
}

// Shutdown cleans up resources.
func (d *Daemon) Shutdown() {
	d.server.Shutdown()
}

// Server returns the underlying UDS server.
func (d *Daemon) Server() *uds.Server {
	return d.server
}

func (d *Daemon) publish(u core.Update) {
	evt, err := uds.NewEvent(uds.EventViewUpdate, u)
	if err != nil {
		d.logger.Error("encode update", "view", u.View, "err", err)
		return
	}
	d.server.Broadcast(evt)
}

// Rules returns the active rule set.
func (d *Daemon) Rules() []core.Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.rules)
}

// ApplyRules validates rs, keeps the system rules it leaves out, and applies
// the result to every view. With save set the user rules are written to the
// manifest.
func (d *Daemon) ApplyRules(ctx context.Context, rs []core.Rule, save bool) (core.RuleDelta, error) {
	if errs := manifest.ValidateRules(rs); len(errs) > 0 {
		return core.RuleDelta{}, errors.Join(errs...)
	}
	next := presets.Merge(rs)

	d.mu.Lock()
	defer d.mu.Unlock()

	delta := rules.Diff(d.rules, next)
	if delta.Empty() {
		return delta, nil
	}
	// Every view gets the new set even when one fails. The daemon keeps the
	// old set until all succeed, so a retry is not short-circuited; views
	// that already applied it diff to nothing.
	var errs []error
	for _, name := range d.order {
		if _, err := d.views[name].view.ApplyRules(ctx, next); err != nil {
			errs = append(errs, fmt.Errorf("view %q: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return core.RuleDelta{}, errors.Join(errs...)
	}
	d.rules = next
	d.logger.Info("rules updated", "added", len(delta.Added), "removed", len(delta.Removed), "updated", len(delta.Updated))

	if save {
		if err := d.saveRules(next); err != nil {
			return delta, err
		}
	}
	return delta, nil
}

func (d *Daemon) saveRules(rs []core.Rule) error {
	if d.manifest.FilePath == "" {
		return fmt.Errorf("no manifest file to save rules to")
	}
	var user []core.Rule
	for _, r := range rs {
		if !r.System {
			user = append(user, r)
		}
	}
	d.manifest.Rules = user
	if err := manifest.Save(d.manifest, d.manifest.FilePath); err != nil {
		return err
	}
	return nil
}

// Views describes the running views in manifest order.
func (d *Daemon) Views() []uds.ViewInfo {
	out := make([]uds.ViewInfo, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.views[name].info())
	}
	return out
}

func (d *Daemon) view(name string) (*view.View, error) {
	e, ok := d.views[name]
	if !ok {
		return nil, fmt.Errorf("view %q: %w", name, core.ErrNotFound)
	}
	return e.view, nil
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodListViews, d.handleListViews)
	d.server.Handle(uds.MethodSnapshot, d.handleSnapshot)
	d.server.Handle(uds.MethodGetRules, d.handleGetRules)
	d.server.Handle(uds.MethodApplyRules, d.handleApplyRules)
	d.server.Handle(uds.MethodSearch, d.handleSearch)
	d.server.Handle(uds.MethodListWorkloads, d.handleListWorkloads)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true, Version: buildinfo.Version}, nil
}

func (d *Daemon) handleListViews(_ context.Context, _ uds.Message) (any, error) {
	return uds.ListViewsResponse{Views: d.Views()}, nil
}

func (d *Daemon) handleSnapshot(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.ViewRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	v, err := d.view(req.View)
	if err != nil {
		return nil, err
	}
	return v.Snapshot(ctx)
}

func (d *Daemon) handleGetRules(_ context.Context, _ uds.Message) (any, error) {
	return uds.RulesResponse{Rules: d.Rules()}, nil
}

func (d *Daemon) handleApplyRules(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.ApplyRulesRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	delta, err := d.ApplyRules(ctx, req.Rules, req.Save)
	if err != nil {
		return nil, err
	}
	return uds.ApplyRulesResponse{Delta: delta}, nil
}

func (d *Daemon) handleSearch(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.SearchRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	v, err := d.view(req.View)
	if err != nil {
		return nil, err
	}
	lines, err := v.SetSearch(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return uds.SearchResponse{Lines: lines}, nil
}

func (d *Daemon) handleListWorkloads(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.WorkloadsRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	p, ok := d.providers[req.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", req.Provider, core.ErrNotFound)
	}
	ws, err := p.ListWorkloads(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	out := make([]uds.WorkloadInfo, len(ws))
	for i, w := range ws {
		out[i] = uds.WorkloadInfo{ID: core.WorkloadID(req.Provider, w.Namespace, w.Name), Workload: w}
	}
	return uds.WorkloadsResponse{Workloads: out}, nil
}
