package workerpool

import (
	"time"

	"github.com/zommehq/buntime/internal/errors"
)

// WorkerConfig is the per-app worker configuration (spec.md §3), loaded
// from the app directory's manifest once per worker creation.
type WorkerConfig struct {
	Entrypoint  string
	Timeout     time.Duration
	TTL         time.Duration
	IdleTimeout time.Duration
	MaxRequests int
	AutoInstall bool
	LowMemory   bool
}

// DefaultWorkerConfig returns spec.md §3's documented defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Timeout:     30 * time.Second,
		TTL:         0,
		IdleTimeout: 60 * time.Second,
		MaxRequests: 1000,
	}
}

// Validate enforces spec.md §3's worker-configuration invariants:
// ttl, when set, must be >= timeout; idleTimeout must be >= timeout.
// idleTimeout > ttl is not an error — it is clamped with a warning by
// the caller (internal/config.validateWorkerDefaults follows the same
// policy for the global defaults this struct is seeded from).
func (c WorkerConfig) Validate() error {
	if c.Timeout <= 0 {
		return invalidManifest("worker timeout must be > 0")
	}
	if c.TTL > 0 && c.TTL < c.Timeout {
		return invalidManifest("worker ttl (%s) must be >= timeout (%s)", c.TTL, c.Timeout)
	}
	if c.IdleTimeout < c.Timeout {
		return invalidManifest("worker idleTimeout (%s) must be >= timeout (%s)", c.IdleTimeout, c.Timeout)
	}
	return nil
}

func invalidManifest(format string, args ...interface{}) error {
	return errors.WithKind(errors.Newf(format, args...), errors.KindInvalidManifest)
}
