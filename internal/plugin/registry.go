package plugin

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/zommehq/buntime/internal/errors"
)

// Registry holds every plugin loaded for this process, in priority
// order. Grounded on plugin.Registry (plugin/registry.go), adapted
// from "map of DomainPlugin by name, version-gated against a running
// QNTX version" to "slice of Plugin ordered by priority, base-path and
// service-name collisions rejected at load time" (DESIGN.md Open
// Question 1).
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Plugin
	ordered  []*Plugin
	services *ServiceRegistry
	loaded   bool
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*Plugin),
		services: NewServiceRegistry(),
	}
}

// Register adds a plugin to the registry. It does not sort or validate
// cross-plugin invariants (dependencies, base-path collisions,
// websocket exclusivity) — those are checked once, across every
// registered plugin, by Load.
func (r *Registry) Register(p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return errors.New("plugin registry already loaded; cannot register further plugins")
	}
	if p.Name == "" {
		return errors.New("plugin registered with empty name")
	}
	if _, exists := r.byName[p.Name]; exists {
		return errors.Newf("plugin already registered: %s", p.Name)
	}

	r.byName[p.Name] = p
	r.ordered = append(r.ordered, p)
	return nil
}

// appNameConflicts is the callback Load uses to check whether a
// plugin's base path collides with an installed app's first URL
// segment — supplied by `buntime serve` from the install registry's
// AppNameConflicts, which knows the set of installed apps.
type appNameConflicts func(base string) bool

// Load validates every registered plugin's invariants as a whole,
// sorts them into priority order, and marks the registry closed to
// further registration (spec.md §4.5's load-order contract). It must
// be called exactly once, before Init.
func (r *Registry) Load(appConflict appNameConflicts) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return errors.New("plugin registry already loaded")
	}

	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Priority < r.ordered[j].Priority
	})

	if err := r.validateDependenciesLocked(); err != nil {
		return err
	}
	if err := r.validateBasePathsLocked(appConflict); err != nil {
		return err
	}
	if err := r.validateWebSocketExclusivityLocked(); err != nil {
		return err
	}
	for _, p := range r.ordered {
		for name, impl := range p.Services {
			if err := r.services.RegisterService(name, impl); err != nil {
				return errors.Wrapf(err, "plugin %s", p.Name)
			}
		}
	}

	r.loaded = true
	return nil
}

func (r *Registry) validateDependenciesLocked() error {
	for _, p := range r.ordered {
		for _, dep := range p.Dependencies {
			if _, ok := r.byName[dep]; !ok {
				return errors.Newf("plugin %s depends on unregistered plugin %s", p.Name, dep)
			}
		}
	}
	return nil
}

// validateBasePathsLocked rejects two plugins claiming the same base
// path outright, and rejects a plugin's base path exactly matching an
// app name via appConflict. A plugin base that merely shadows part of
// an app's path (without exact equality) is allowed to load — routing
// precedence (plugin before app) means the plugin still wins, so it is
// only a latent shadow, not a load-time error (spec.md §4.5).
func (r *Registry) validateBasePathsLocked(appConflict appNameConflicts) error {
	seen := make(map[string]string, len(r.ordered))
	for _, p := range r.ordered {
		if p.Base == "" {
			continue
		}
		base := normalizeBase(p.Base)
		if owner, exists := seen[base]; exists {
			return errors.Newf("plugin base path %q claimed by both %s and %s", base, owner, p.Name)
		}
		seen[base] = p.Name

		if appConflict != nil && appConflict(strings.TrimPrefix(base, "/")) {
			return errors.Newf("plugin %s base path %q collides exactly with an installed app", p.Name, base)
		}
	}
	return nil
}

func (r *Registry) validateWebSocketExclusivityLocked() error {
	var claimant string
	for _, p := range r.ordered {
		if p.WebSocketHandler == nil {
			continue
		}
		if claimant != "" {
			return errors.Newf("websocket upgrade handler claimed by both %s and %s", claimant, p.Name)
		}
		claimant = p.Name
	}
	return nil
}

func normalizeBase(base string) string {
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}

// Init runs every plugin's OnInit hook, synchronous-serial in priority
// order; the first failure aborts startup without running the rest
// (spec.md §4.5).
func (r *Registry) Init(ctx context.Context) error {
	r.mu.RLock()
	ordered := append([]*Plugin(nil), r.ordered...)
	r.mu.RUnlock()

	for _, p := range ordered {
		if p.OnInit == nil {
			continue
		}
		if err := p.OnInit(ctx, r.services); err != nil {
			return errors.Wrapf(err, "plugin %s failed to initialize", p.Name)
		}
	}
	return nil
}

// ServerStart runs every plugin's OnServerStart hook in priority order
// once the listener is bound.
func (r *Registry) ServerStart(addr string) error {
	r.mu.RLock()
	ordered := append([]*Plugin(nil), r.ordered...)
	r.mu.RUnlock()

	for _, p := range ordered {
		if p.OnServerStart == nil {
			continue
		}
		if err := p.OnServerStart(addr); err != nil {
			return errors.Wrapf(err, "plugin %s failed on server start", p.Name)
		}
	}
	return nil
}

// Shutdown runs every plugin's OnShutdown hook in reverse priority
// order. Every hook receives the same ctx, so all of them share its
// one deadline; a failure (including ctx expiry) is logged by the
// caller and never blocks the remaining plugins (spec.md §4.5).
func (r *Registry) Shutdown(ctx context.Context) []error {
	r.mu.RLock()
	ordered := append([]*Plugin(nil), r.ordered...)
	r.mu.RUnlock()

	var errs []error
	for i := len(ordered) - 1; i >= 0; i-- {
		p := ordered[i]
		if p.OnShutdown == nil {
			continue
		}
		if err := p.OnShutdown(ctx); err != nil {
			errs = append(errs, errors.Wrapf(err, "plugin %s failed to shut down", p.Name))
		}
	}
	return errs
}

// Ordered returns every plugin in priority order (ascending), the
// order the dispatcher runs OnRequest in.
func (r *Registry) Ordered() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Plugin(nil), r.ordered...)
}

// Reversed returns every plugin in reverse priority order, the order
// the dispatcher runs OnResponse and OnShutdown in.
func (r *Registry) Reversed() []*Plugin {
	ordered := r.Ordered()
	reversed := make([]*Plugin, len(ordered))
	for i, p := range ordered {
		reversed[len(ordered)-1-i] = p
	}
	return reversed
}

// Get retrieves a registered plugin by name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// MatchBase returns the plugin owning the longest base path that
// prefixes urlPath, used by the dispatcher's routing precedence
// (plugin routes before app dispatch, spec.md §4.4).
func (r *Registry) MatchBase(urlPath string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Plugin
	bestLen := -1
	for _, p := range r.ordered {
		if p.Base == "" {
			continue
		}
		base := normalizeBase(p.Base)
		if urlPath == base || strings.HasPrefix(urlPath, base+"/") {
			if len(base) > bestLen {
				best = p
				bestLen = len(base)
			}
		}
	}
	return best, best != nil
}

// Services exposes the registry's shared ServiceRegistry, so the
// dispatcher (or tests) can look up a service registered during Init.
func (r *Registry) Services() *ServiceRegistry {
	return r.services
}
