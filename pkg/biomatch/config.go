package biomatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every externally supplied knob of the matching protocol.
// Nothing in the core components reads ambient state; callers construct a
// Config (or load one from YAML) and thread it through the wiring.
type Config struct {
	// LogN is the base-two logarithm of the CKKS ring degree.
	LogN int `yaml:"log_n"`

	// MultiplicativeDepth is the number of sequential homomorphic
	// multiplications the parameters must support. The distance circuit uses
	// one; the default leaves headroom for key switching.
	MultiplicativeDepth int `yaml:"multiplicative_depth"`

	// AuthThreshold is the squared-distance threshold below which a query is
	// accepted. It must be set explicitly; there is no hidden default inside
	// the decision engine.
	AuthThreshold float64 `yaml:"auth_threshold"`

	// KeyRotationDays is the user key rotation period, in days. A key older
	// than this is flagged as needing rotation.
	KeyRotationDays int `yaml:"key_rotation_days"`

	// RetentionMultiplier scales the rotation period into the retention
	// window for superseded key records and key-switch material.
	RetentionMultiplier int `yaml:"retention_multiplier"`

	// BatchSizeLimit caps the number of work units per scheduler chunk.
	BatchSizeLimit int `yaml:"batch_size_limit"`

	// MaxWorkers bounds the concurrent workers within a chunk.
	MaxWorkers int `yaml:"max_workers"`

	// MemoryBudgetMB is the abstract cost budget available to the accelerated
	// backend. Batches whose estimated cost exceeds it run on the default
	// worker pool instead.
	MemoryBudgetMB int64 `yaml:"memory_budget_mb"`
}

// DefaultConfig mirrors the parameter profile the system was tuned with.
func DefaultConfig() Config {
	return Config{
		LogN:                13,
		MultiplicativeDepth: 2,
		AuthThreshold:       0.75,
		KeyRotationDays:     90,
		RetentionMultiplier: 2,
		BatchSizeLimit:      1000,
		MaxWorkers:          4,
		MemoryBudgetMB:      1024,
	}
}

// Validate reports the first invalid field, if any.
func (c Config) Validate() error {
	switch {
	case c.LogN < 11 || c.LogN > 16:
		return Errorf("Config.Validate", "log_n %d outside supported range [11,16]", c.LogN)
	case 1<<(c.LogN-1) < EmbeddingDim:
		return Errorf("Config.Validate", "ring degree 2^%d provides fewer than %d slots", c.LogN, EmbeddingDim)
	case c.MultiplicativeDepth < 1:
		return Errorf("Config.Validate", "multiplicative depth must be at least 1")
	case c.AuthThreshold <= 0:
		return Errorf("Config.Validate", "auth threshold must be positive")
	case c.KeyRotationDays <= 0:
		return Errorf("Config.Validate", "key rotation period must be positive")
	case c.RetentionMultiplier < 1:
		return Errorf("Config.Validate", "retention multiplier must be at least 1")
	case c.BatchSizeLimit < 1:
		return Errorf("Config.Validate", "batch size limit must be at least 1")
	case c.MaxWorkers < 1:
		return Errorf("Config.Validate", "worker count must be at least 1")
	case c.MemoryBudgetMB < 0:
		return Errorf("Config.Validate", "memory budget must not be negative")
	}
	return nil
}

// RotationPeriod returns the key rotation period as a duration.
func (c Config) RotationPeriod() time.Duration {
	return time.Duration(c.KeyRotationDays) * 24 * time.Hour
}

// Retention returns how long superseded key records and key-switch material
// are kept before being purged.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionMultiplier) * c.RotationPeriod()
}

// LoadConfig reads a YAML config file, filling unset fields from
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
