// Package helper runs an external log collection command and exposes its
// stdout as a stream.
package helper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultGrace is how long Close waits after SIGTERM before SIGKILL.
const DefaultGrace = 10 * time.Second

// Options tune a helper process.
type Options struct {
	Dir   string
	Env   map[string]string
	Grace time.Duration
	// Cleanup lists files removed once the process is gone.
	Cleanup []string
	// MergeStderr sends stderr to the stream as well as the ring.
	MergeStderr bool
}

// Process is a running helper. Read returns its stdout; Close stops it.
type Process struct {
	name   string
	log    *slog.Logger
	cmd    *exec.Cmd
	stdout *os.File
	stderr *ring
	grace  time.Duration
	clean  []string

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closing   chan struct{}
	stop      func() bool
}

// Start launches argv with its own process group so Close can signal every
// child it spawns. Cancelling ctx closes the process.
func Start(ctx context.Context, log *slog.Logger, argv []string, opts Options) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	p := &Process{
		name:    strings.Join(argv, " "),
		log:     log,
		cmd:     cmd,
		stdout:  pr,
		stderr:  newRing(50),
		grace:   opts.Grace,
		clean:   opts.Cleanup,
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	cmd.Stdout = pw
	cmd.Stderr = p.stderr
	if opts.MergeStderr {
		cmd.Stderr = io.MultiWriter(pw, p.stderr)
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %q: %w", p.name, err)
	}
	// With merged stderr the copy goroutine writes to pw until Wait returns.
	if !opts.MergeStderr {
		pw.Close()
	}
	log.Debug("helper started", "cmd", p.name, "pid", cmd.Process.Pid)

	go func() {
		p.waitErr = cmd.Wait()
		if opts.MergeStderr {
			pw.Close()
		}
		close(p.done)
	}()
	p.stop = context.AfterFunc(ctx, func() { _ = p.Close() })
	return p, nil
}

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Stderr returns the most recent stderr lines.
func (p *Process) Stderr() []string { return p.stderr.lines() }

// Read reads stdout. After the process exits with an error, Read returns that
// error with the tail of stderr instead of io.EOF.
func (p *Process) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if !errors.Is(err, io.EOF) {
		return n, err
	}
	select {
	case <-p.done:
	case <-p.closing:
		return n, io.EOF
	}
	if p.waitErr != nil {
		select {
		case <-p.closing:
			return n, io.EOF
		default:
		}
		if tail := p.stderr.lines(); len(tail) > 0 {
			return n, fmt.Errorf("%s: %w: %s", p.name, p.waitErr, tail[len(tail)-1])
		}
		return n, fmt.Errorf("%s: %w", p.name, p.waitErr)
	}
	return n, io.EOF
}

// Close terminates the process group with SIGTERM, then SIGKILL after the
// grace period. Signal failures are logged. Cleanup files are removed.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		close(p.closing)
		if p.stop != nil {
			p.stop()
		}
		p.terminate()
		p.stdout.Close()
		for _, f := range p.clean {
			if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				p.log.Warn("remove helper artifact", "path", f, "err", err)
			}
		}
	})
	return nil
}

func (p *Process) terminate() {
	select {
	case <-p.done:
		return
	default:
	}
	pgid := -p.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.log.Warn("terminate helper", "cmd", p.name, "err", err)
	}
	select {
	case <-p.done:
		return
	case <-time.After(p.grace):
	}
	p.log.Warn("helper ignored SIGTERM, killing", "cmd", p.name, "grace", p.grace)
	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.log.Warn("kill helper", "cmd", p.name, "err", err)
	}
	select {
	case <-p.done:
	case <-time.After(p.grace):
		p.log.Error("helper did not exit after SIGKILL", "cmd", p.name, "pid", p.cmd.Process.Pid)
	}
}

// ring keeps the last max lines written to it.
type ring struct {
	mu      sync.Mutex
	max     int
	buf     []string
	partial []byte
}

func newRing(max int) *ring {
	return &ring{max: max}
}

func (r *ring) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := append(r.partial, b...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		r.push(strings.TrimRight(string(data[:i]), "\r"))
		data = data[i+1:]
	}
	r.partial = append(r.partial[:0:0], data...)
	return len(b), nil
}

func (r *ring) push(line string) {
	r.buf = append(r.buf, line)
	if len(r.buf) > r.max {
		r.buf = r.buf[len(r.buf)-r.max:]
	}
}

func (r *ring) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.buf), len(r.buf)+1)
	copy(out, r.buf)
	if len(r.partial) > 0 {
		out = append(out, string(r.partial))
	}
	return out
}
