package source

import (
	"log/slog"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		got := backoff(tt.failures)
		if got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestMachineTransitions(t *testing.T) {
	m := &machine{name: "test", log: slog.Default()}
	steps := []State{Initializing, Streaming, Reloading, Streaming, Stopping, Stopped}
	for _, s := range steps {
		if err := m.to(s); err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	if m.State() != Stopped {
		t.Errorf("state = %s, want stopped", m.State())
	}
}

func TestMachineRejectsInvalid(t *testing.T) {
	m := &machine{name: "test", log: slog.Default()}
	if err := m.to(Streaming); err == nil {
		t.Error("uninitialized -> streaming should fail")
	}
	_ = m.to(Initializing)
	if err := m.to(Reloading); err == nil {
		t.Error("initializing -> reloading should fail")
	}
	m.stop()
	if m.State() != Stopped {
		t.Errorf("state = %s, want stopped", m.State())
	}
	if err := m.to(Initializing); err == nil {
		t.Error("stopped is terminal")
	}
}

func TestStateString(t *testing.T) {
	if Reloading.String() != "reloading" {
		t.Errorf("got %q", Reloading.String())
	}
	if State(42).String() != "state(42)" {
		t.Errorf("got %q", State(42).String())
	}
}
