package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/junction.report/internal/vclass"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for controller tuning
// parameters. Fields are pointers so partial JSON files are safe: anything
// omitted falls back to the Get* defaults.
type TuningConfig struct {
	// Control loop params
	TickInterval        *string `json:"tick_interval,omitempty"`        // duration string like "500ms"
	StarvationThreshold *string `json:"starvation_threshold,omitempty"` // duration string like "60s"

	// Data freshness params
	StalenessThreshold *string `json:"staleness_threshold,omitempty"` // snapshot age before "stale"
	FailsafeThreshold  *string `json:"failsafe_threshold,omitempty"`  // snapshot age before all-red

	// Counter params
	InactivityTimeout *string `json:"inactivity_timeout,omitempty"` // prune tracks unseen this long

	// Synthetic source params
	MockInterval *string `json:"mock_interval,omitempty"`
	MockSeed     *int64  `json:"mock_seed,omitempty"`

	// Demand params
	ClassWeights map[string]float64 `json:"class_weights,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig populated with the defaults
// the Get* accessors would report. Intended for tests and for writing the
// canonical defaults file.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		TickInterval:        ptrString("500ms"),
		StarvationThreshold: ptrString("60s"),
		StalenessThreshold:  ptrString("5s"),
		FailsafeThreshold:   ptrString("15s"),
		InactivityTimeout:   ptrString("30s"),
		MockInterval:        ptrString("1s"),
		MockSeed:            ptrInt64(1),
		ClassWeights: map[string]float64{
			vclass.Car:        1.0,
			vclass.Motorcycle: 0.5,
			vclass.Bus:        2.5,
			vclass.Truck:      2.0,
		},
	}
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt64(v int64) *int64    { return &v }

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their defaults, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"tick_interval":        c.TickInterval,
		"starvation_threshold": c.StarvationThreshold,
		"staleness_threshold":  c.StalenessThreshold,
		"failsafe_threshold":   c.FailsafeThreshold,
		"inactivity_timeout":   c.InactivityTimeout,
		"mock_interval":        c.MockInterval,
	}
	for field, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", field, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", field, *v)
		}
	}

	for class, w := range c.ClassWeights {
		if !vclass.IsValid(class) {
			return fmt.Errorf("unknown vehicle class %q in class_weights (valid: %s)", class, vclass.GetValidClassesString())
		}
		if w < 0 {
			return fmt.Errorf("class_weights[%s] must be non-negative, got %f", class, w)
		}
	}

	if c.FailsafeThreshold != nil && c.StalenessThreshold != nil {
		fs := c.GetFailsafeThreshold()
		st := c.GetStalenessThreshold()
		if fs < st {
			return fmt.Errorf("failsafe_threshold (%s) must be >= staleness_threshold (%s)", fs, st)
		}
	}

	return nil
}

// getDuration parses a duration field, falling back to def on nil, empty or
// parse errors.
func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetTickInterval returns the control loop cadence or the default.
func (c *TuningConfig) GetTickInterval() time.Duration {
	return getDuration(c.TickInterval, 500*time.Millisecond)
}

// GetStarvationThreshold returns the phase starvation bound or the default.
func (c *TuningConfig) GetStarvationThreshold() time.Duration {
	return getDuration(c.StarvationThreshold, 60*time.Second)
}

// GetStalenessThreshold returns the snapshot staleness bound or the default.
func (c *TuningConfig) GetStalenessThreshold() time.Duration {
	return getDuration(c.StalenessThreshold, 5*time.Second)
}

// GetFailsafeThreshold returns the all-red staleness bound or the default.
func (c *TuningConfig) GetFailsafeThreshold() time.Duration {
	return getDuration(c.FailsafeThreshold, 15*time.Second)
}

// GetInactivityTimeout returns the track pruning timeout or the default.
func (c *TuningConfig) GetInactivityTimeout() time.Duration {
	return getDuration(c.InactivityTimeout, 30*time.Second)
}

// GetMockInterval returns the synthetic source publish interval or the default.
func (c *TuningConfig) GetMockInterval() time.Duration {
	return getDuration(c.MockInterval, time.Second)
}

// GetMockSeed returns the synthetic source seed or the default.
func (c *TuningConfig) GetMockSeed() int64 {
	if c.MockSeed == nil {
		return 1
	}
	return *c.MockSeed
}

// GetClassWeight returns the demand weight for a vehicle class, falling back
// to the built-in passenger-car-unit defaults for classes not configured.
func (c *TuningConfig) GetClassWeight(class string) float64 {
	if w, ok := c.ClassWeights[class]; ok {
		return w
	}
	return vclass.DefaultWeight(class)
}
