package config

import (
	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/logger"
)

// Validate checks the loaded configuration against spec.md §3's
// invariants, producing a fatal InvalidConfig error for missing
// required keys or contradictory numeric values, and clamping +
// warning-logging for non-fatal mis-values.
func Validate(cfg *Config) error {
	if cfg.PoolSize <= 0 {
		return invalidConfig("pool_size must be > 0, got %d", cfg.PoolSize)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return invalidConfig("port must be in (0, 65535], got %d", cfg.Port)
	}
	if len(cfg.WorkerDirs) == 0 {
		return invalidConfig("worker_dirs must name at least one directory")
	}

	if err := validateWorkerDefaults(&cfg.Worker); err != nil {
		return err
	}

	return nil
}

// validateWorkerDefaults enforces spec.md §3: if ttl > 0 then
// ttl >= timeout and idleTimeout >= timeout (both fatal); idleTimeout >
// ttl is a warning, auto-clamped to ttl.
func validateWorkerDefaults(w *WorkerDefaults) error {
	if w.TTL > 0 && w.TTL < w.Timeout {
		return invalidConfig("worker.ttl (%s) must be >= worker.timeout (%s) when ttl > 0", w.TTL, w.Timeout)
	}
	if w.IdleTimeout < w.Timeout {
		return invalidConfig("worker.idle_timeout (%s) must be >= worker.timeout (%s)", w.IdleTimeout, w.Timeout)
	}
	if w.TTL > 0 && w.IdleTimeout > w.TTL {
		logger.Warnw("worker.idle_timeout exceeds worker.ttl, clamping",
			"idle_timeout", w.IdleTimeout, "ttl", w.TTL)
		w.IdleTimeout = w.TTL
	}
	return nil
}

func invalidConfig(format string, args ...interface{}) error {
	return errors.WithKind(errors.Newf(format, args...), errors.KindInvalidConfig)
}
