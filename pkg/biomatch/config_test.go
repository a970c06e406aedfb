package biomatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log_n too small", func(c *Config) { c.LogN = 10 }},
		{"log_n too large", func(c *Config) { c.LogN = 17 }},
		{"zero depth", func(c *Config) { c.MultiplicativeDepth = 0 }},
		{"zero threshold", func(c *Config) { c.AuthThreshold = 0 }},
		{"negative threshold", func(c *Config) { c.AuthThreshold = -1 }},
		{"zero rotation days", func(c *Config) { c.KeyRotationDays = 0 }},
		{"zero retention multiplier", func(c *Config) { c.RetentionMultiplier = 0 }},
		{"zero batch size", func(c *Config) { c.BatchSizeLimit = 0 }},
		{"zero workers", func(c *Config) { c.MaxWorkers = 0 }},
		{"negative memory budget", func(c *Config) { c.MemoryBudgetMB = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestConfigDurations(t *testing.T) {
	cfg := DefaultConfig()
	if got, want := cfg.RotationPeriod(), 90*24*time.Hour; got != want {
		t.Errorf("RotationPeriod = %s, want %s", got, want)
	}
	if got, want := cfg.Retention(), 2*90*24*time.Hour; got != want {
		t.Errorf("Retention = %s, want %s", got, want)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "biomatch.yaml")
	body := "auth_threshold: 0.5\nmax_workers: 8\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthThreshold != 0.5 {
		t.Errorf("AuthThreshold = %v, want 0.5", cfg.AuthThreshold)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d, want 8", cfg.MaxWorkers)
	}
	// Unset fields keep defaults.
	if cfg.LogN != DefaultConfig().LogN {
		t.Errorf("LogN = %d, want default %d", cfg.LogN, DefaultConfig().LogN)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("auth_threshold: -2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("negative threshold accepted")
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
