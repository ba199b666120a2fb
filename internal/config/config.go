// Package config loads buntime's runtime configuration: environment
// variables with typed defaults, merged with an optional project TOML
// file, following the layered Viper approach teranos-QNTX uses for its
// own am.Config.
package config

import (
	"strconv"
	"time"
)

// Config is buntime's top-level runtime configuration (spec.md §4.6).
type Config struct {
	// WorkerDirs is the PATH-style, colon-separated search list the App
	// Resolver walks to find an app's version directories.
	WorkerDirs []string `mapstructure:"worker_dirs"`
	// PluginDirs is the PATH-style search list for installable plugins.
	PluginDirs []string `mapstructure:"plugin_dirs"`
	// PoolSize is the hard cap on total live workers across all lanes.
	PoolSize int `mapstructure:"pool_size"`
	// Port is the HTTP listen port for the dispatcher.
	Port int `mapstructure:"port"`
	// Env is the NODE_ENV-equivalent deployment environment
	// ("development", "production", ...).
	Env string `mapstructure:"env"`
	// DelayMS is loaded from DELAY_MS and kept on Config; the worker
	// pool and spawner do not read it, so worker creation is not delayed.
	DelayMS int `mapstructure:"delay_ms"`

	Worker   WorkerDefaults   `mapstructure:"worker"`
	Shutdown ShutdownConfig   `mapstructure:"shutdown"`
	Admin    AdminConfig      `mapstructure:"admin"`
	Log      LogConfig        `mapstructure:"log"`
}

// WorkerDefaults are the per-app worker configuration defaults from
// spec.md §3, applied whenever an app's own manifest omits a key.
type WorkerDefaults struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	TTL         time.Duration `mapstructure:"ttl"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	MaxRequests int           `mapstructure:"max_requests"`
	AutoInstall bool          `mapstructure:"auto_install"`
	LowMemory   bool          `mapstructure:"low_memory"`
}

// ShutdownConfig controls the supervisor's graceful-shutdown sequence:
// pool.shutdown(grace) then registry.shutdown() then logger flush.
type ShutdownConfig struct {
	Grace time.Duration `mapstructure:"grace"`
}

// AdminConfig holds the admin route prefix shown in the startup banner.
// The dispatcher serves its admin routes under the fixed "/_/admin"
// path and does not read Prefix.
type AdminConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// LogConfig configures the logger ambient stack.
type LogConfig struct {
	JSON      bool `mapstructure:"json"`
	Verbosity int  `mapstructure:"verbosity"`
}

// IsProduction reports whether Env names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// String renders a compact human-readable summary, in the vein of the
// teacher's am.Config.String.
func (c *Config) String() string {
	return "Config{Port: " + strconv.Itoa(c.Port) + ", PoolSize: " + strconv.Itoa(c.PoolSize) +
		", Env: " + c.Env + ", WorkerDirs: " + strconv.Itoa(len(c.WorkerDirs)) + "}"
}
