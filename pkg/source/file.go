package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/njust/KTail-sub000/pkg/core"
)

// DefaultPollInterval is the polling cadence for file sources.
const DefaultPollInterval = 500 * time.Millisecond

const maxChunk = 1 << 20

// File tails a local file from its beginning. It polls the size on a fixed
// interval; fsnotify events only trigger an earlier poll.
type File struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	m        *machine

	offset int64
	info   os.FileInfo
}

// NewFile creates a file source.
func NewFile(logger *slog.Logger, path string, interval time.Duration) *File {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &File{
		path:     path,
		interval: interval,
		logger:   logger,
		m:        &machine{name: path, log: logger},
	}
}

func (f *File) Name() string { return f.path }
func (f *File) State() State { return f.m.State() }

// Run tails until ctx is cancelled. A file that does not exist yet is not an
// error; it is picked up once it appears.
func (f *File) Run(ctx context.Context, out chan<- core.SourceEvent) error {
	if err := f.m.to(Initializing); err != nil {
		return err
	}
	_ = f.m.to(Streaming)
	defer f.m.stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	w, err := fsnotify.NewWatcher()
	if err != nil {
		f.logger.Warn("fsnotify unavailable, polling only", "path", f.path, "err", err)
	} else {
		defer w.Close()
		// Watch the directory so recreation after rotation is seen.
		if err := w.Add(filepath.Dir(f.path)); err != nil {
			f.logger.Warn("watch directory", "path", f.path, "err", err)
		}
		events, errs = w.Events, w.Errors
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.poll(ctx, out)
	for {
		select {
		case <-ctx.Done():
			_ = f.m.to(Stopping)
			return nil
		case <-ticker.C:
			f.poll(ctx, out)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(f.path) {
				f.poll(ctx, out)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			f.logger.Debug("fsnotify error", "path", f.path, "err", err)
		}
	}
}

// poll reads whatever was appended since the last poll. A shrunken, replaced
// or vanished file resets the offset and tells consumers to clear first.
func (f *File) poll(ctx context.Context, out chan<- core.SourceEvent) {
	info, err := os.Stat(f.path)
	if err != nil {
		if f.info != nil {
			f.reload(ctx, out, "missing")
			f.info = nil
		}
		f.logger.Debug("file not readable", "path", f.path, "err", fmt.Errorf("%w: %w", core.ErrSourceUnavailable, err))
		return
	}

	switch {
	case f.info != nil && !os.SameFile(f.info, info):
		f.reload(ctx, out, "replaced")
	case info.Size() < f.offset:
		f.reload(ctx, out, "truncated")
	}
	f.info = info
	if info.Size() == f.offset {
		return
	}

	if err := f.read(ctx, out, info.Size()); err != nil {
		f.logger.Warn("read file", "path", f.path, "err", err)
	}
}

func (f *File) reload(ctx context.Context, out chan<- core.SourceEvent, reason string) {
	if err := f.m.to(Reloading); err != nil {
		f.logger.Warn("reload", "err", err)
		return
	}
	f.logger.Info("file reset", "path", f.path, "reason", reason, "offset", f.offset)
	f.offset = 0
	send(ctx, out, core.SourceEvent{Kind: core.SourceReset, Source: f.path, Received: time.Now()})
	_ = f.m.to(Streaming)
}

func (f *File) read(ctx context.Context, out chan<- core.SourceEvent, size int64) error {
	fh, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSourceUnavailable, err)
	}
	defer fh.Close()

	if _, err := fh.Seek(f.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	buf := make([]byte, min(size-f.offset, maxChunk))
	for f.offset < size {
		want := min(size-f.offset, int64(len(buf)))
		n, err := io.ReadFull(fh, buf[:want])
		if n > 0 {
			ev := core.SourceEvent{
				Kind:     core.SourceData,
				Source:   f.path,
				Data:     append([]byte(nil), buf[:n]...),
				Received: time.Now(),
			}
			if !send(ctx, out, ev) {
				return nil
			}
			f.offset += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
	}
	return nil
}
