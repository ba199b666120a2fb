package config

import "github.com/spf13/viper"

// DefaultPort is buntime's default HTTP listen port.
const DefaultPort = 4280

// DefaultPoolSize is the default hard cap on total live workers.
const DefaultPoolSize = 32

// DefaultAdminPrefix is the built-in administrative route prefix.
const DefaultAdminPrefix = "/_"

// SetDefaults configures default values for every configuration option.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("worker_dirs", []string{"./apps"})
	v.SetDefault("plugin_dirs", []string{"./plugins"})
	v.SetDefault("pool_size", DefaultPoolSize)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("env", "development")
	v.SetDefault("delay_ms", 0)

	v.SetDefault("worker.timeout", "30s")
	v.SetDefault("worker.ttl", "0s")
	v.SetDefault("worker.idle_timeout", "60s")
	v.SetDefault("worker.max_requests", 1000)
	v.SetDefault("worker.auto_install", false)
	v.SetDefault("worker.low_memory", false)

	v.SetDefault("shutdown.grace", "10s")

	v.SetDefault("admin.prefix", DefaultAdminPrefix)

	v.SetDefault("log.json", false)
	v.SetDefault("log.verbosity", 0)
}

// BindEnvVars binds the literal environment variables spec.md §6 names
// (unprefixed — these are the stable external contract) on top of the
// BUNTIME_-prefixed automatic binding initViper sets up for everything
// else.
func BindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("worker_dirs", "RUNTIME_WORKER_DIRS")
	_ = v.BindEnv("plugin_dirs", "RUNTIME_PLUGIN_DIRS")
	_ = v.BindEnv("pool_size", "RUNTIME_POOL_SIZE")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("env", "NODE_ENV")
	_ = v.BindEnv("delay_ms", "DELAY_MS")
}
