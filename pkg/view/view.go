// Package view is the processing worker of one log view. A single goroutine
// owns the decoders, the ordered buffer, the rule matcher and the search
// index; everything else talks to it through messages.
package view

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/njust/KTail-sub000/pkg/buffer"
	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/decode"
	"github.com/njust/KTail-sub000/pkg/rules"
	"github.com/njust/KTail-sub000/pkg/search"
)

// ErrClosed is returned by requests made after Run has returned.
var ErrClosed = errors.New("view closed")

// Sink receives every update the view publishes. It is called from the
// worker goroutine and must not block for long.
type Sink func(core.Update)

// Options configure a view.
type Options struct {
	Name      string
	Rules     []core.Rule
	Encodings []string
	Sink      Sink
}

// Snapshot is the full state of a view at one point.
type Snapshot struct {
	Name        string             `json:"name"`
	Lines       []string           `json:"lines"`
	Rules       []core.Rule        `json:"rules"`
	Matches     []core.SearchMatch `json:"matches,omitempty"`
	Query       string             `json:"query,omitempty"`
	SearchLines []int              `json:"search_lines,omitempty"`
	Bookmarks   []core.Bookmark    `json:"bookmarks,omitempty"`
	Seq         uint64             `json:"seq"`
}

// record is one decoded chunk of complete lines, kept for the current epoch
// so the view can be rebuilt when exclusions change.
type record struct {
	source      string
	text        string
	prefixed    bool
	timestamped bool
	received    time.Time
}

type applyRulesMsg struct {
	rules []core.Rule
	reply chan core.RuleDelta
}

type searchMsg struct {
	query string
	reply chan searchReply
}

type searchReply struct {
	lines []int
	err   error
}

type snapshotMsg struct {
	reply chan Snapshot
}

// View is one processing worker.
type View struct {
	name      string
	logger    *slog.Logger
	encodings []string
	sink      Sink

	msgs chan any
	done chan struct{}

	// Owned by the Run goroutine.
	buf      *buffer.Ordered
	matcher  *rules.Matcher
	search   *search.Index
	extracts *rules.ExtractIndex
	decoders map[string]*decode.Decoder
	partial  map[string]string
	lastTS   map[string]time.Time
	resume   map[string]time.Time
	records  []record
	matches  map[string][]core.SearchMatch
	seq      uint64
}

// New creates a view. Call Run to start it.
func New(logger *slog.Logger, opts Options) (*View, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := decode.New(opts.Encodings...); err != nil {
		return nil, err
	}
	v := &View{
		name:      opts.Name,
		logger:    logger.With("view", opts.Name),
		encodings: opts.Encodings,
		sink:      opts.Sink,
		msgs:      make(chan any),
		done:      make(chan struct{}),
		buf:       buffer.NewOrdered(),
		search:    search.NewIndex(),
		extracts:  rules.NewExtractIndex(),
		decoders:  make(map[string]*decode.Decoder),
		partial:   make(map[string]string),
		lastTS:    make(map[string]time.Time),
		resume:    make(map[string]time.Time),
		matches:   make(map[string][]core.SearchMatch),
	}
	v.matcher = rules.NewMatcher(v.logger)
	v.matcher.Set(opts.Rules)
	if v.sink == nil {
		v.sink = func(core.Update) {}
	}
	return v, nil
}

// Name returns the view name.
func (v *View) Name() string { return v.name }

// Run processes source events and requests until ctx is cancelled. A closed
// events channel does not stop the view; requests are still served.
func (v *View) Run(ctx context.Context, events <-chan core.SourceEvent) error {
	defer close(v.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			v.handleEvent(ev)
		case msg := <-v.msgs:
			v.handleMsg(msg)
		}
	}
}

func (v *View) handleMsg(msg any) {
	switch m := msg.(type) {
	case applyRulesMsg:
		m.reply <- v.applyRules(m.rules)
	case searchMsg:
		lines, err := v.setSearch(m.query)
		m.reply <- searchReply{lines: lines, err: err}
	case snapshotMsg:
		m.reply <- v.snapshot()
	}
}

func request[T any](ctx context.Context, v *View, msg any, reply chan T) (T, error) {
	var zero T
	select {
	case v.msgs <- msg:
	case <-v.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-v.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ApplyRules replaces the rule set and returns the applied delta.
func (v *View) ApplyRules(ctx context.Context, rs []core.Rule) (core.RuleDelta, error) {
	reply := make(chan core.RuleDelta, 1)
	return request(ctx, v, applyRulesMsg{rules: rs, reply: reply}, reply)
}

// SetSearch sets the search query and returns the hit lines.
func (v *View) SetSearch(ctx context.Context, query string) ([]int, error) {
	reply := make(chan searchReply, 1)
	r, err := request(ctx, v, searchMsg{query: query, reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	return r.lines, r.err
}

// Snapshot returns the current state of the view.
func (v *View) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	return request(ctx, v, snapshotMsg{reply: reply}, reply)
}

func (v *View) emit(u core.Update) {
	v.seq++
	u.View = v.name
	u.Seq = v.seq
	v.sink(u)
}

func (v *View) snapshot() Snapshot {
	s := Snapshot{
		Name:        v.name,
		Lines:       v.buf.Lines(),
		Rules:       v.matcher.Rules(),
		Query:       v.search.Query(),
		SearchLines: v.search.Matches(),
		Bookmarks:   v.extracts.Bookmarks(),
		Seq:         v.seq,
	}
	s.Matches = v.allMatches()
	return s
}
