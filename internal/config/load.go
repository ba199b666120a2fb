package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/zommehq/buntime/internal/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads buntime's configuration using Viper: defaults, then a
// merged project buntime.toml (if present), then environment variables,
// which win over everything else.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "failed to unmarshal config"), errors.KindInvalidConfig)
	}

	applyPathListOverrides(&cfg)
	resolveRelativeDirs(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// LoadWithViper unmarshals configuration from a caller-provided Viper
// instance, bypassing the global cache and env/file merge — used by
// tests that want isolated defaults.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "failed to unmarshal config"), errors.KindInvalidConfig)
	}
	resolveRelativeDirs(&cfg)
	return &cfg, nil
}

// GetViper returns the Viper instance for advanced configuration access.
func GetViper() *viper.Viper {
	return initViper()
}

// LoadFromFile loads configuration from a specific TOML file path,
// bypassing the global cache — used by `buntime --config <path>`.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)
	BindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "failed to read config file %s", configPath), errors.KindInvalidConfig)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "failed to unmarshal config from %s", configPath), errors.KindInvalidConfig)
	}

	applyPathListOverrides(&cfg)
	resolveRelativeDirs(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Reset clears the cached configuration; used by tests and the config
// watcher's reload path.
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("BUNTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindEnvVars(v)
	SetDefaults(v)
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig walks up from the working directory looking for
// buntime.toml, the way am/load.go walks up looking for am.toml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, "buntime.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// mergeConfigFiles merges configuration files in precedence order
// (lowest to highest): system < user < project. Environment variables
// are bound separately and always win, handled by Viper itself.
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()
	userDir := filepath.Join(homeDir, ".buntime")
	_ = os.MkdirAll(userDir, 0o755)

	configPaths := []string{
		"/etc/buntime/config.toml",
		filepath.Join(userDir, "config.toml"),
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		configPaths = append(configPaths, projectConfig)
	}

	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}

		tempViper := viper.New()
		tempViper.SetConfigFile(configPath)
		tempViper.SetConfigType("toml")
		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}

		_ = v.MergeConfigMap(tempViper.AllSettings())
	}
}

// applyPathListOverrides re-parses RUNTIME_WORKER_DIRS / RUNTIME_PLUGIN_DIRS
// as PATH-style colon-separated lists. Viper's mapstructure decoding
// cannot turn a single bound env string into a []string on its own, so
// this is applied as a manual post-processing step, mirroring the way
// am/load.go hand-rolls its own JSON-array plugin config coercion.
func applyPathListOverrides(cfg *Config) {
	if raw := os.Getenv("RUNTIME_WORKER_DIRS"); raw != "" {
		cfg.WorkerDirs = splitPathList(raw)
	}
	if raw := os.Getenv("RUNTIME_PLUGIN_DIRS"); raw != "" {
		cfg.PluginDirs = splitPathList(raw)
	}
}

func splitPathList(raw string) []string {
	parts := strings.Split(raw, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveRelativeDirs resolves relative worker/plugin directory entries
// against the current working directory (or, when unavailable, the
// directory of the running binary).
func resolveRelativeDirs(cfg *Config) {
	base := baseDir()
	cfg.WorkerDirs = resolveAll(base, cfg.WorkerDirs)
	cfg.PluginDirs = resolveAll(base, cfg.PluginDirs)
}

func baseDir() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

func resolveAll(base string, dirs []string) []string {
	out := make([]string, len(dirs))
	for i, d := range dirs {
		if filepath.IsAbs(d) {
			out[i] = d
			continue
		}
		if strings.HasPrefix(d, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				out[i] = filepath.Join(home, strings.TrimPrefix(d, "~"))
				continue
			}
		}
		out[i] = filepath.Join(base, d)
	}
	return out
}

// Get returns a configuration value using dot notation.
func Get(key string) interface{} { return initViper().Get(key) }

// GetString returns a configuration value as string using dot notation.
func GetString(key string) string { return initViper().GetString(key) }

// GetInt returns a configuration value as int using dot notation.
func GetInt(key string) int { return initViper().GetInt(key) }

// GetBool returns a configuration value as bool using dot notation.
func GetBool(key string) bool { return initViper().GetBool(key) }

// Set sets a configuration value at runtime (mainly for tests and the
// admin config-patch route).
func Set(key string, value interface{}) { initViper().Set(key, value) }
