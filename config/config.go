// Package config loads multiway pool tuning from a YAML file via viper.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// PoolConfig is the subset of Builder options exposed to the CLI/
// embedding surface via a config file.
type PoolConfig struct {
	MaximumSize       uint64        `mapstructure:"maximum_size"`
	MaximumWeight     uint64        `mapstructure:"maximum_weight"`
	ExpireAfterAccess time.Duration `mapstructure:"expire_after_access"`
	ExpireAfterWrite  time.Duration `mapstructure:"expire_after_write"`
	LogLevel          string        `mapstructure:"log_level"`
}

// DefaultPoolConfig returns sane values for local/dev use when no config
// file is supplied.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaximumSize: 10000,
		LogLevel:    "info",
	}
}

var defaultConfig = DefaultPoolConfig()

// Load reads path (YAML) into a PoolConfig, starting from
// DefaultPoolConfig for any field the file omits.
func Load(path string) (*PoolConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	cfg := DefaultPoolConfig()
	v.SetDefault("maximum_size", cfg.MaximumSize)
	v.SetDefault("log_level", cfg.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	defaultConfig = cfg
	return &cfg, nil
}

// Get returns the most recently Load-ed configuration, or the defaults
// if Load has not been called.
func Get() *PoolConfig {
	return &defaultConfig
}
