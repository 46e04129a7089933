// Package config is used to load the configuration file
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/objcflow/objcflow/pkg/analyzer"
	"github.com/spf13/viper"
)

type analysis struct {
	MaxLookback int  `mapstructure:"max-lookback" json:"max_lookback"`
	CacheSize   int  `mapstructure:"cache-size" json:"cache_size"`
	Demangle    bool `mapstructure:"demangle" json:"demangle"`
}

type database struct {
	Path      string `mapstructure:"path" json:"path"`
	BatchSize int    `mapstructure:"batch-size" json:"batch_size"`
}

// Config is the configuration struct
type Config struct {
	Analysis analysis `mapstructure:"analysis" json:"analysis"`
	Database database `mapstructure:"database" json:"database"`
}

// SetDefaults registers the default value of every key LoadConfig reads.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("analysis.max-lookback", analyzer.DefaultMaxLookback)
	v.SetDefault("analysis.cache-size", analyzer.DefaultCacheSize)
	v.SetDefault("analysis.demangle", true)
	v.SetDefault("database.batch-size", 1000)
}

// Dir returns the directory holding the config file and the xref databases.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user home directory: %v", err)
	}
	return filepath.Join(home, ".config", "objcflow"), nil
}

func (c *Config) verify() error {
	if c.Analysis.MaxLookback < 0 {
		return fmt.Errorf("config: analysis.max-lookback must not be negative")
	}
	if c.Analysis.CacheSize < 0 {
		return fmt.Errorf("config: analysis.cache-size must not be negative")
	}
	if c.Database.BatchSize <= 0 {
		c.Database.BatchSize = 1000
	}
	return nil
}

// Analyzer returns the engine configuration.
func (c *Config) Analyzer() *analyzer.Config {
	return &analyzer.Config{
		MaxLookback: c.Analysis.MaxLookback,
		CacheSize:   c.Analysis.CacheSize,
		Demangle:    c.Analysis.Demangle,
	}
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load unmarshals the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var c *Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
