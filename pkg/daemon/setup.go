package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/njust/KTail-sub000/pkg/config"
	"github.com/njust/KTail-sub000/pkg/core"
	"github.com/njust/KTail-sub000/pkg/manifest"
	"github.com/njust/KTail-sub000/pkg/manifest/presets"
	"github.com/njust/KTail-sub000/pkg/providers/docker"
	"github.com/njust/KTail-sub000/pkg/providers/journald"
	"github.com/njust/KTail-sub000/pkg/providers/kube"
)

// LoadManifest reads the manifest at path. A missing manifest yields the
// starter manifest bound to path so a later save creates it.
func LoadManifest(path string, logger *slog.Logger) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no manifest, using starter", "path", path)
		m = presets.Starter()
		m.FilePath = path
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if errs := manifest.Validate(m); len(errs) > 0 {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, errors.Join(errs...))
	}
	return m, nil
}

// FromConfig builds a daemon for cfg: it loads the manifest, registers the
// providers its sources need and adds one view per source. Sources whose
// provider cannot be created are skipped with a warning.
func FromConfig(cfg config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := LoadManifest(cfg.ManifestPath, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("manifest loaded", "path", m.FilePath, "sources", len(m.Sources), "rules", len(m.Rules))

	d := New(cfg, m, logger)
	var dockerProvider *docker.Provider
	failed := make(map[string]error)

	for _, src := range m.Sources {
		kind := core.ProviderKind(src.Kind)
		if src.Kind == manifest.KindFile || d.providers[kind] != nil || failed[src.Kind] != nil {
			continue
		}
		switch kind {
		case core.ProviderKubernetes:
			p, err := kube.New(logger, cfg.Kubeconfig, cfg.KubeContext)
			if err != nil {
				failed[src.Kind] = err
				continue
			}
			d.AddProvider(p)
		case core.ProviderDocker:
			dockerProvider = docker.New(logger)
			d.AddProvider(dockerProvider)
		case core.ProviderJournald:
			d.AddProvider(journald.New(logger))
		}
	}

	for _, src := range m.Sources {
		if err := failed[src.Kind]; err != nil {
			logger.Warn("skipping source, provider unavailable", "source", src.Name, "kind", src.Kind, "err", err)
			continue
		}
		if src.Compose != "" && dockerProvider != nil {
			if err := dockerProvider.AddComposeFile(src.Namespace, src.Compose); err != nil {
				logger.Warn("compose parse failed", "file", src.Compose, "err", err)
			}
		}
		if err := d.AddView(src); err != nil {
			return nil, err
		}
	}
	return d, nil
}
