// Package service manages the ktaild systemd user service unit.
package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

const unitName = "ktaild.service"

// manager is the part of the systemd D-Bus API the service commands use.
type manager interface {
	ReloadContext(ctx context.Context) error
	EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []dbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]dbus.DisableUnitFileChange, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	Close()
}

// dial connects to the user's systemd manager.
var dial = func(ctx context.Context) (manager, error) {
	return dbus.NewUserConnectionContext(ctx)
}

// UnitContents returns the systemd unit file contents for the given binary
// path. configPath is passed with --config when set.
func UnitContents(binaryPath, configPath string) string {
	cmd := binaryPath
	if configPath != "" {
		cmd += " --config " + configPath
	}
	return fmt.Sprintf(`[Unit]
Description=ktail daemon: live log views over files, pods, containers and units
Documentation=https://github.com/njust/KTail-sub000

[Service]
Type=simple
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, cmd)
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install writes the unit file, reloads systemd, and enables+starts the service.
func Install(ctx context.Context, configPath string) error {
	binaryPath, err := exec.LookPath("ktaild")
	if err != nil {
		return fmt.Errorf("ktaild not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve ktaild path: %w", err)
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	return install(ctx, unitPath, UnitContents(binaryPath, configPath))
}

func install(ctx context.Context, unitPath, contents string) error {
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	conn, err := dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", unitName, err)
	}
	return waitJob(ctx, unitName, "start", conn.StartUnitContext)
}

// Uninstall stops+disables the service, removes the unit file, and reloads systemd.
func Uninstall(ctx context.Context) error {
	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	return uninstall(ctx, unitPath)
}

func uninstall(ctx context.Context, unitPath string) error {
	conn, err := dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	// Best-effort stop and disable; ignore errors if not running.
	_ = waitJob(ctx, unitName, "stop", conn.StopUnitContext)
	_, _ = conn.DisableUnitFilesContext(ctx, []string{unitName}, false)

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

type jobFunc func(ctx context.Context, name, mode string, ch chan<- string) (int, error)

// waitJob queues a start or stop job and waits for its result.
func waitJob(ctx context.Context, name, verb string, job jobFunc) error {
	ch := make(chan string, 1)
	if _, err := job(ctx, name, "replace", ch); err != nil {
		return fmt.Errorf("%s %s: %w", verb, name, err)
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("%s %s: job %s", verb, name, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a human-readable status string.
func Status(ctx context.Context, socketPath string) string {
	var lines []string

	// Socket check
	if _, err := os.Stat(socketPath); err == nil {
		lines = append(lines, "socket: active ("+socketPath+")")
	} else {
		lines = append(lines, "socket: inactive ("+socketPath+")")
	}

	unitPath, err := UnitPath()
	if err == nil {
		if _, statErr := os.Stat(unitPath); statErr == nil {
			lines = append(lines, "systemd user service: "+unitState(ctx))
		} else {
			lines = append(lines, "systemd user service: not installed")
		}
	}

	return strings.Join(lines, "\n")
}

func unitState(ctx context.Context) string {
	conn, err := dial(ctx)
	if err != nil {
		return "unknown"
	}
	defer conn.Close()
	units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName})
	if err != nil || len(units) == 0 {
		return "unknown"
	}
	return units[0].ActiveState
}
