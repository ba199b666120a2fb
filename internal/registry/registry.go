package registry

import (
	"path/filepath"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/workerpool"
)

// Registry is the directory-backed install registry (spec.md §6): a
// PATH-style search list for apps and one for plugins, each directory
// laid out as `<dir>/<name>/<version>/`. Installs always land in the
// first entry of the relevant list — the same "first match wins, first
// entry is primary" convention internal/resolver already uses for
// reads. It also implements workerpool.AppLoader (see loader.go),
// closing the loop between "what got installed" and "what the pool
// reads back" on every worker creation.
type Registry struct {
	workerDirs []string
	pluginDirs []string
	defaults   workerpool.WorkerConfig
}

// New constructs a Registry. workerDirs and pluginDirs are the same
// PATH-style search lists config.Config carries (spec.md §4.6);
// defaults seed any manifest field an app/plugin's own manifest omits.
func New(workerDirs, pluginDirs []string, defaults workerpool.WorkerConfig) (*Registry, error) {
	if len(workerDirs) == 0 {
		return nil, errors.New("registry requires at least one worker directory")
	}
	if len(pluginDirs) == 0 {
		return nil, errors.New("registry requires at least one plugin directory")
	}
	return &Registry{workerDirs: workerDirs, pluginDirs: pluginDirs, defaults: defaults}, nil
}

// AppNameConflicts reports whether name is an installed app in any
// configured worker directory — wired into plugin.Registry.Load as the
// appConflict callback for Open Question 1's exact base-path collision
// check (spec.md §4.5).
func (r *Registry) AppNameConflicts(name string) bool {
	for _, dir := range r.workerDirs {
		if dirExists(filepath.Join(dir, name)) {
			return true
		}
	}
	return false
}
