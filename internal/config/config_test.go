package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/objcflow/objcflow/pkg/analyzer"
	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Analysis.MaxLookback != analyzer.DefaultMaxLookback || c.Analysis.CacheSize != analyzer.DefaultCacheSize {
		t.Errorf("Load() analysis = %+v, want defaults", c.Analysis)
	}
	if !c.Analysis.Demangle {
		t.Error("Load() should demangle by default")
	}
	if c.Database.BatchSize != 1000 {
		t.Errorf("Load() batch size = %d, want 1000", c.Database.BatchSize)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := []byte("analysis:\n  max-lookback: 128\n  demangle: false\ndatabase:\n  path: /tmp/xrefs.db\n")
	if err := os.WriteFile(path, yml, 0o644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	c, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	conf := c.Analyzer()
	if conf.MaxLookback != 128 || conf.Demangle {
		t.Errorf("Analyzer() = %+v, want MaxLookback 128 without demangling", conf)
	}
	if conf.CacheSize != analyzer.DefaultCacheSize {
		t.Errorf("Analyzer().CacheSize = %d, want default", conf.CacheSize)
	}
	if c.Database.Path != "/tmp/xrefs.db" {
		t.Errorf("Database.Path = %q", c.Database.Path)
	}
}

func TestLoadRejectsNegative(t *testing.T) {
	v := viper.New()
	v.Set("analysis.max-lookback", -1)
	if _, err := Load(v); err == nil {
		t.Error("Load() accepted a negative max-lookback")
	}
}
