package registry

import (
	"path/filepath"

	"github.com/zommehq/buntime/internal/workerpool"
)

// Load implements workerpool.AppLoader: given an exact (name, version)
// already chosen by internal/resolver, find the first worker directory
// containing it and read its manifest, layering it over the
// registry's defaults (spec.md §3's "per-app worker config; manifest
// loaded once per worker creation").
func (r *Registry) Load(name, version string) (string, workerpool.WorkerConfig, error) {
	for _, dir := range r.workerDirs {
		appDir := filepath.Join(dir, name, version)
		if !dirExists(appDir) {
			continue
		}

		m, err := readManifest(appDir)
		if err != nil {
			return "", workerpool.WorkerConfig{}, err
		}
		cfg, err := m.toWorkerConfig(r.defaults)
		if err != nil {
			return "", workerpool.WorkerConfig{}, err
		}
		if err := cfg.Validate(); err != nil {
			return "", workerpool.WorkerConfig{}, err
		}
		return appDir, cfg, nil
	}
	return "", workerpool.WorkerConfig{}, notFoundErr("app %s@%s not found in any worker directory", name, version)
}
