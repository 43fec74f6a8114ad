package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/coreos/go-systemd/v22/dbus"
)

type fakeManager struct {
	calls  []string
	result string
	state  string
}

func (f *fakeManager) ReloadContext(context.Context) error {
	f.calls = append(f.calls, "reload")
	return nil
}

func (f *fakeManager) EnableUnitFilesContext(_ context.Context, files []string, _, _ bool) (bool, []dbus.EnableUnitFileChange, error) {
	f.calls = append(f.calls, "enable "+strings.Join(files, ","))
	return true, nil, nil
}

func (f *fakeManager) DisableUnitFilesContext(_ context.Context, files []string, _ bool) ([]dbus.DisableUnitFileChange, error) {
	f.calls = append(f.calls, "disable "+strings.Join(files, ","))
	return nil, nil
}

func (f *fakeManager) StartUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	f.calls = append(f.calls, "start "+name)
	ch <- f.result
	return 1, nil
}

func (f *fakeManager) StopUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	f.calls = append(f.calls, "stop "+name)
	ch <- f.result
	return 2, nil
}

func (f *fakeManager) ListUnitsByNamesContext(_ context.Context, units []string) ([]dbus.UnitStatus, error) {
	return []dbus.UnitStatus{{Name: units[0], ActiveState: f.state}}, nil
}

func (f *fakeManager) Close() {}

func useFake(t *testing.T, f *fakeManager) {
	t.Helper()
	orig := dial
	dial = func(context.Context) (manager, error) { return f, nil }
	t.Cleanup(func() { dial = orig })
}

func TestUnitContents(t *testing.T) {
	got := UnitContents("/usr/local/bin/ktaild", "")

	if !strings.Contains(got, "ExecStart=/usr/local/bin/ktaild\n") {
		t.Error("unit file missing ExecStart with binary path")
	}
	if !strings.Contains(got, "Type=simple") {
		t.Error("unit file missing Type=simple")
	}
	if !strings.Contains(got, "Restart=on-failure") {
		t.Error("unit file missing Restart=on-failure")
	}
	if !strings.Contains(got, "[Install]") {
		t.Error("unit file missing [Install] section")
	}

	got = UnitContents("/usr/local/bin/ktaild", "/etc/ktail.toml")
	if !strings.Contains(got, "ExecStart=/usr/local/bin/ktaild --config /etc/ktail.toml") {
		t.Errorf("unit file missing --config: %s", got)
	}
}

func TestUnitPath(t *testing.T) {
	path, err := UnitPath()
	if err != nil {
		t.Fatalf("UnitPath() error: %v", err)
	}
	if !strings.HasSuffix(path, "systemd/user/ktaild.service") {
		t.Errorf("UnitPath() = %q, want suffix systemd/user/ktaild.service", path)
	}
}

func TestInstall(t *testing.T) {
	f := &fakeManager{result: "done"}
	useFake(t, f)
	unitPath := filepath.Join(t.TempDir(), "systemd", "user", unitName)

	if err := install(context.Background(), unitPath, "[Unit]\n"); err != nil {
		t.Fatalf("install: %v", err)
	}
	data, err := os.ReadFile(unitPath)
	if err != nil || string(data) != "[Unit]\n" {
		t.Errorf("unit file: %q, %v", data, err)
	}
	want := []string{"reload", "enable " + unitPath, "start " + unitName}
	if !slices.Equal(f.calls, want) {
		t.Errorf("calls: got %v, want %v", f.calls, want)
	}
}

func TestInstallJobFailed(t *testing.T) {
	useFake(t, &fakeManager{result: "failed"})
	unitPath := filepath.Join(t.TempDir(), unitName)
	err := install(context.Background(), unitPath, "[Unit]\n")
	if err == nil || !strings.Contains(err.Error(), "job failed") {
		t.Errorf("expected job failure, got %v", err)
	}
}

func TestInstallDialError(t *testing.T) {
	orig := dial
	dial = func(context.Context) (manager, error) { return nil, errors.New("no bus") }
	t.Cleanup(func() { dial = orig })

	err := install(context.Background(), filepath.Join(t.TempDir(), unitName), "")
	if err == nil || !strings.Contains(err.Error(), "no bus") {
		t.Errorf("expected dial error, got %v", err)
	}
}

func TestUninstall(t *testing.T) {
	f := &fakeManager{result: "done"}
	useFake(t, f)
	unitPath := filepath.Join(t.TempDir(), unitName)
	if err := os.WriteFile(unitPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := uninstall(context.Background(), unitPath); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if _, err := os.Stat(unitPath); !os.IsNotExist(err) {
		t.Error("unit file not removed")
	}
	want := []string{"stop " + unitName, "disable " + unitName, "reload"}
	if !slices.Equal(f.calls, want) {
		t.Errorf("calls: got %v, want %v", f.calls, want)
	}
}

func TestStatusNoSocket(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	got := Status(context.Background(), filepath.Join(t.TempDir(), "nonexistent.sock"))
	if !strings.Contains(got, "socket: inactive") {
		t.Errorf("Status() should report inactive socket, got: %s", got)
	}
	if !strings.Contains(got, "not installed") {
		t.Errorf("Status() should report missing unit, got: %s", got)
	}
}

func TestStatusWithSocketAndUnit(t *testing.T) {
	cfgHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfgHome)
	useFake(t, &fakeManager{state: "active"})

	sock := filepath.Join(t.TempDir(), "ktaild.sock")
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	unitPath, _ := UnitPath()
	os.MkdirAll(filepath.Dir(unitPath), 0o755)
	if err := os.WriteFile(unitPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := Status(context.Background(), sock)
	if !strings.Contains(got, "socket: active") {
		t.Errorf("Status() should report active socket, got: %s", got)
	}
	if !strings.Contains(got, "systemd user service: active") {
		t.Errorf("Status() should report unit state, got: %s", got)
	}
}
