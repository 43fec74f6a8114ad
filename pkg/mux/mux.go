// Package mux fans N named byte streams into one event channel. Each stream
// has its own cancellation; when one ends on its own the mux asks for that
// stream alone to be re-initialized.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/njust/KTail-sub000/pkg/core"
)

// EventKind distinguishes data from end-of-stream notifications.
type EventKind int

const (
	// EventData carries bytes read from a stream.
	EventData EventKind = iota
	// EventEnded asks the owner to re-initialize the named stream.
	EventEnded
)

// Event is one item on the merged channel.
type Event struct {
	Kind EventKind
	Name string
	Data []byte
	// Multi is set when more than one stream was active at delivery time.
	Multi bool
	Err   error
	At    time.Time
}

// Opener opens one stream. The context is cancelled when the stream is.
type Opener func(ctx context.Context) (io.ReadCloser, error)

const readSize = 32 * 1024

type stream struct {
	name      string
	cancel    context.CancelFunc
	mu        sync.Mutex
	rc        io.ReadCloser
	closeOnce sync.Once
	cancelled bool
}

func (s *stream) setReader(rc io.ReadCloser) {
	s.mu.Lock()
	s.rc = rc
	s.mu.Unlock()
}

func (s *stream) close() {
	s.mu.Lock()
	rc := s.rc
	s.mu.Unlock()
	if rc == nil {
		return
	}
	s.closeOnce.Do(func() { _ = rc.Close() })
}

// Mux is safe for concurrent use.
type Mux struct {
	log *slog.Logger

	mu      sync.Mutex
	streams map[string]*stream

	raw  chan Event
	out  chan Event
	quit chan struct{}

	workers   sync.WaitGroup
	forwarder sync.WaitGroup
	closeOnce sync.Once
}

// New starts the forwarding goroutine. Close releases it.
func New(log *slog.Logger) *Mux {
	if log == nil {
		log = slog.Default()
	}
	m := &Mux{
		log:     log,
		streams: make(map[string]*stream),
		raw:     make(chan Event, 64),
		out:     make(chan Event, 64),
		quit:    make(chan struct{}),
	}
	m.forwarder.Add(1)
	go m.forward()
	return m
}

// Events returns the merged channel. It is closed by Close.
func (m *Mux) Events() <-chan Event { return m.out }

// Add starts a worker for name. Adding a name that is already active fails.
func (m *Mux) Add(ctx context.Context, name string, open Opener) error {
	select {
	case <-m.quit:
		return errors.New("mux closed")
	default:
	}

	m.mu.Lock()
	if _, ok := m.streams[name]; ok {
		m.mu.Unlock()
		return fmt.Errorf("stream %q already active", name)
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &stream{name: name, cancel: cancel}
	m.streams[name] = s
	m.mu.Unlock()

	m.workers.Add(1)
	go m.run(sctx, s, open)
	return nil
}

// Cancel stops one stream without affecting the others. It reports whether
// the stream was active. No re-init request is emitted for it.
func (m *Mux) Cancel(name string) bool {
	m.mu.Lock()
	s, ok := m.streams[name]
	if ok {
		delete(m.streams, name)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
	s.close()
	return true
}

// Active returns the names of running streams, sorted.
func (m *Mux) Active() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.streams))
	for n := range m.streams {
		names = append(names, n)
	}
	m.mu.Unlock()
	slices.Sort(names)
	return names
}

// Close cancels every stream, waits for the workers and closes Events.
func (m *Mux) Close() {
	m.closeOnce.Do(func() {
		for _, n := range m.Active() {
			m.Cancel(n)
		}
		close(m.quit)
		m.workers.Wait()
		m.forwarder.Wait()
	})
}

func (m *Mux) run(ctx context.Context, s *stream, open Opener) {
	defer m.workers.Done()
	defer s.cancel()

	rc, err := open(ctx)
	if err != nil {
		m.ended(ctx, s, fmt.Errorf("open %s: %w", s.name, err))
		return
	}
	s.setReader(rc)
	defer s.close()
	stop := context.AfterFunc(ctx, s.close)
	defer stop()
	if ctx.Err() != nil {
		return
	}

	buf := make([]byte, readSize)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			ev := Event{Kind: EventData, Name: s.name, Data: slices.Clone(buf[:n]), At: time.Now()}
			select {
			case m.raw <- ev:
			case <-ctx.Done():
				return
			case <-m.quit:
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = core.ErrRemoteStreamEnded
			} else {
				err = fmt.Errorf("%w: %w", core.ErrRemoteStreamEnded, err)
			}
			m.ended(ctx, s, err)
			return
		}
	}
}

// ended drops s from the active set and, unless it was cancelled, emits a
// re-init request for it.
func (m *Mux) ended(ctx context.Context, s *stream, err error) {
	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		return
	}

	m.mu.Lock()
	if cur, ok := m.streams[s.name]; ok && cur == s {
		delete(m.streams, s.name)
	}
	m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	m.log.Debug("stream ended", "stream", s.name, "err", err)
	select {
	case m.raw <- Event{Kind: EventEnded, Name: s.name, Err: err, At: time.Now()}:
	case <-m.quit:
	}
}

func (m *Mux) forward() {
	defer m.forwarder.Done()
	defer close(m.out)
	for {
		select {
		case ev := <-m.raw:
			if ev.Kind == EventData {
				m.mu.Lock()
				ev.Multi = len(m.streams) > 1
				m.mu.Unlock()
			}
			select {
			case m.out <- ev:
			case <-m.quit:
				return
			}
		case <-m.quit:
			return
		}
	}
}
