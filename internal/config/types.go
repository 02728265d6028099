// Package config implements the ambient configuration layer: a Config
// struct loaded by merging a YAML file, environment variables and CLI
// flags via viper/pflag, the way the teacher's internal/config package
// merges OLLA_-prefixed environment and config.yaml.
package config

import "time"

// ProxyConfig holds the forward-proxy listener's settings.
type ProxyConfig struct {
	BindAddress string `yaml:"bind_address" mapstructure:"bind_address"`
	BindPort    int    `yaml:"bind_port" mapstructure:"bind_port"`
}

// AdminConfig holds the management listener's settings.
type AdminConfig struct {
	BindAddress string `yaml:"bind_address" mapstructure:"bind_address"`
	BindPort    int    `yaml:"bind_port" mapstructure:"bind_port"`
	BaseDir     string `yaml:"base_dir" mapstructure:"base_dir"`
}

// CacheConfig holds the on-disk cache root.
type CacheConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// LoggingConfig mirrors the teacher's logging section.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Config is the fully merged process configuration.
type Config struct {
	Proxy   ProxyConfig   `yaml:"proxy" mapstructure:"proxy"`
	Admin   AdminConfig   `yaml:"admin" mapstructure:"admin"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ReloadDebounce is an interval for throttling config.yaml reloads, since
// fsnotify can fire several events for one save. WatchBaseDir does not apply
// it: every event it receives triggers a reload.
const ReloadDebounce = 250 * time.Millisecond

// DefaultConfig returns spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		Proxy: ProxyConfig{
			BindAddress: "0.0.0.0",
			BindPort:    8080,
		},
		Admin: AdminConfig{
			BindAddress: "0.0.0.0",
			BindPort:    9090,
			BaseDir:     ".",
		},
		Cache: CacheConfig{
			Root: "cache",
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			File:       "/dev/null",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
