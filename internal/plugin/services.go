package plugin

import (
	"sync"

	"github.com/zommehq/buntime/internal/errors"
)

// ServiceRegistry is the narrow capability-lookup surface a plugin's
// OnInit hook receives (spec.md §4.5 "services"). Grounded on the
// teacher's plugin.ServiceRegistry, trimmed from "QNTX's database,
// logger, config, attestation store, job queue" down to the one thing
// SPEC_FULL.md actually specifies plugins exchanging: named services
// registered by one plugin and looked up by a later one.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]interface{}
}

// NewServiceRegistry returns an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]interface{})}
}

// RegisterService publishes impl under name. Duplicate names are
// rejected (spec.md §4.5: "The registry rejects duplicate service
// names").
func (s *ServiceRegistry) RegisterService(name string, impl interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[name]; exists {
		return errors.Newf("service already registered: %s", name)
	}
	s.services[name] = impl
	return nil
}

// Lookup retrieves a previously registered service by name.
func (s *ServiceRegistry) Lookup(name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	impl, ok := s.services[name]
	return impl, ok
}
