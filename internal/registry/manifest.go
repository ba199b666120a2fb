// Package registry implements buntime's directory-backed install
// registry (spec.md §6): atomic install/uninstall of apps and plugins
// under a content-addressed `<name>/<semver>/` layout, and the
// manifest read path that feeds the worker pool's AppLoader.
//
// Grounded on plugin/grpc/loader.go's expandAndValidatePath/go-getter
// detection idiom for path handling, and qntx-code/ixgest/git/repo.go's
// getter.Client fetch-to-temp-dir-then-verify shape for the
// extract-then-validate-then-rename install sequence.
package registry

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/logger"
	"github.com/zommehq/buntime/internal/workerpool"
)

// manifestFile is "manifest" (no extension) per spec.md §6's filesystem
// layout, one per `<name>/<version>/` directory.
const manifestFile = "manifest"

// manifest is the on-disk shape of an app or plugin manifest: identity
// fields required at install time (spec.md §6), plus the optional
// per-app worker configuration overrides from spec.md §3. Durations
// are plain Go duration strings ("30s"), parsed by hand rather than
// relying on a mapstructure-style decode hook — BurntSushi/toml
// decodes straight into the declared field types with no such hook
// available outside Viper.
type manifest struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`

	Entrypoint  string `toml:"entrypoint"`
	Timeout     string `toml:"timeout"`
	TTL         string `toml:"ttl"`
	IdleTimeout string `toml:"idle_timeout"`
	MaxRequests int    `toml:"max_requests"`
	AutoInstall *bool  `toml:"auto_install"`
	LowMemory   *bool  `toml:"low_memory"`
}

// readManifest decodes and validates the manifest file inside dir.
// Name and Version are required (spec.md §6); every other field is
// optional and falls back to defaults when applied via toWorkerConfig.
func readManifest(dir string) (*manifest, error) {
	path := filepath.Join(dir, manifestFile)
	var m manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, invalidManifest("failed to read manifest %s: %s", path, err)
	}
	if m.Name == "" {
		return nil, invalidManifest("manifest %s missing required field: name", path)
	}
	if m.Version == "" {
		return nil, invalidManifest("manifest %s missing required field: version", path)
	}
	return &m, nil
}

// toWorkerConfig layers the manifest's overrides over defaults,
// leaving any omitted field at its default (spec.md §3: "Config
// records are loaded once per worker creation").
func (m *manifest) toWorkerConfig(defaults workerpool.WorkerConfig) (workerpool.WorkerConfig, error) {
	cfg := defaults
	if m.Entrypoint != "" {
		cfg.Entrypoint = m.Entrypoint
	}
	var err error
	if cfg.Timeout, err = parseDurationOr(m.Timeout, cfg.Timeout); err != nil {
		return cfg, invalidManifest("invalid timeout %q: %s", m.Timeout, err)
	}
	if cfg.TTL, err = parseDurationOr(m.TTL, cfg.TTL); err != nil {
		return cfg, invalidManifest("invalid ttl %q: %s", m.TTL, err)
	}
	if cfg.IdleTimeout, err = parseDurationOr(m.IdleTimeout, cfg.IdleTimeout); err != nil {
		return cfg, invalidManifest("invalid idleTimeout %q: %s", m.IdleTimeout, err)
	}
	if m.MaxRequests > 0 {
		cfg.MaxRequests = m.MaxRequests
	}
	if m.AutoInstall != nil {
		cfg.AutoInstall = *m.AutoInstall
	}
	if m.LowMemory != nil {
		cfg.LowMemory = *m.LowMemory
	}

	// idleTimeout > ttl is not fatal — clamp it the same way
	// internal/config.validateWorkerDefaults clamps the global
	// defaults this struct is seeded from (spec.md §3).
	if cfg.TTL > 0 && cfg.IdleTimeout > cfg.TTL {
		logger.Warnw("manifest idle_timeout exceeds ttl, clamping",
			logger.FieldApp, m.Name, "idle_timeout", cfg.IdleTimeout, "ttl", cfg.TTL)
		cfg.IdleTimeout = cfg.TTL
	}

	return cfg, nil
}

func parseDurationOr(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}

func invalidManifest(format string, args ...interface{}) error {
	return errors.WithKind(errors.Newf(format, args...), errors.KindInvalidManifest)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
