// Package config loads the daemon settings file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/njust/KTail-sub000/pkg/decode"
)

const (
	DefaultPath         = "~/.config/ktail/config.toml"
	DefaultManifestPath = "~/.config/ktail/ktail.yaml"
	defaultPollInterval = 500
	defaultSinceSeconds = 300
	defaultLogLevel     = "info"
	socketName          = "ktaild.sock"
	fallbackRuntimeDir  = "/tmp"
)

// Config holds the daemon settings.
type Config struct {
	SocketPath   string
	ManifestPath string
	PollInterval time.Duration
	Encodings    []string
	Kubeconfig   string
	KubeContext  string
	SinceSeconds int64
	LogLevel     slog.Level
}

type raw struct {
	SocketPath     string   `toml:"socket_path"`
	Manifest       string   `toml:"manifest"`
	PollIntervalMS int      `toml:"poll_interval_ms"`
	Encodings      []string `toml:"encodings"`
	Kubeconfig     string   `toml:"kubeconfig"`
	KubeContext    string   `toml:"kube_context"`
	SinceSeconds   *int64   `toml:"since_seconds"`
	LogLevel       string   `toml:"log_level"`
}

// Default returns the settings used when no config file exists.
func Default() Config {
	return Config{
		SocketPath:   DefaultSocketPath(),
		ManifestPath: mustExpand(DefaultManifestPath),
		PollInterval: defaultPollInterval * time.Millisecond,
		Encodings:    append([]string(nil), decode.DefaultEncodings...),
		SinceSeconds: defaultSinceSeconds,
		LogLevel:     slog.LevelInfo,
	}
}

// DefaultSocketPath returns the daemon socket under XDG_RUNTIME_DIR.
func DefaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = fallbackRuntimeDir
	}
	return filepath.Join(dir, socketName)
}

// Load reads the config at path, or the default path when empty. A missing
// file yields the defaults.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	resolved, err := ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return parse(data, cfg)
}

func parse(data []byte, cfg Config) (Config, error) {
	var r raw
	if err := toml.Unmarshal(data, &r); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if s := strings.TrimSpace(r.SocketPath); s != "" {
		cfg.SocketPath = mustExpand(s)
	}
	if s := strings.TrimSpace(r.Manifest); s != "" {
		cfg.ManifestPath = mustExpand(s)
	}
	if r.PollIntervalMS < 0 {
		return Config{}, fmt.Errorf("poll_interval_ms must be positive, got %d", r.PollIntervalMS)
	}
	if r.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(r.PollIntervalMS) * time.Millisecond
	}
	if len(r.Encodings) > 0 {
		if _, err := decode.New(r.Encodings...); err != nil {
			return Config{}, fmt.Errorf("encodings: %w", err)
		}
		cfg.Encodings = r.Encodings
	}
	if s := strings.TrimSpace(r.Kubeconfig); s != "" {
		cfg.Kubeconfig = mustExpand(s)
	}
	cfg.KubeContext = strings.TrimSpace(r.KubeContext)
	if r.SinceSeconds != nil {
		if *r.SinceSeconds < 0 {
			return Config{}, fmt.Errorf("since_seconds must not be negative, got %d", *r.SinceSeconds)
		}
		cfg.SinceSeconds = *r.SinceSeconds
	}
	level := strings.TrimSpace(r.LogLevel)
	if level == "" {
		level = defaultLogLevel
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		return Config{}, fmt.Errorf("log_level: %w", err)
	}
	return cfg, nil
}

func mustExpand(path string) string {
	expanded, err := ExpandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
