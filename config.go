package tracekit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Export destinations accepted in Config.ExportTo.
const (
	ExportConsole    = "console"
	ExportLog        = "log"
	ExportNone       = "none"
	ExportPrometheus = "prometheus"
)

// Config holds tracer settings.
type Config struct {
	// ServiceName identifies the owning process. Required.
	ServiceName string `yaml:"service_name"`

	// ExportTo selects the built-in exporter: console, log, prometheus or none.
	ExportTo string `yaml:"export_to"`

	// CaptureMetrics enables analysis of finished traces. Nil means true.
	CaptureMetrics *bool `yaml:"capture_metrics"`

	// SampleRate is the fraction of traces retained and exported, 0 to 1.
	// Nil means 1.
	SampleRate *float64 `yaml:"sample_rate"`

	// StoreCapacity bounds the number of retained traces.
	StoreCapacity int `yaml:"store_capacity"`
}

// DefaultConfig returns the settings used for absent keys.
func DefaultConfig() Config {
	return Config{
		ExportTo:       ExportConsole,
		CaptureMetrics: Bool(true),
		SampleRate:     Float64(1),
		StoreCapacity:  DefaultStoreCapacity,
	}
}

// Bool returns a pointer to v, for optional Config fields.
func Bool(v bool) *bool { return &v }

// Float64 returns a pointer to v, for optional Config fields.
func Float64(v float64) *float64 { return &v }

// withDefaults fills unset fields from DefaultConfig. The optional fields
// always point at fresh values, never at the caller's.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ExportTo == "" {
		c.ExportTo = def.ExportTo
	}
	c.CaptureMetrics = Bool(c.MetricsEnabled())
	c.SampleRate = Float64(c.Rate())
	if c.StoreCapacity == 0 {
		c.StoreCapacity = def.StoreCapacity
	}
	return c
}

// MetricsEnabled reports whether finished traces are analyzed.
func (c Config) MetricsEnabled() bool {
	return c.CaptureMetrics == nil || *c.CaptureMetrics
}

// Rate returns the effective sample rate.
func (c Config) Rate() float64 {
	if c.SampleRate == nil {
		return 1
	}
	return *c.SampleRate
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// Validate checks required fields and ranges.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service_name is required", ErrInvalidConfig)
	}
	if rate := c.Rate(); rate < 0 || rate > 1 {
		return fmt.Errorf("%w: sample_rate %v outside [0, 1]", ErrInvalidConfig, rate)
	}
	if c.StoreCapacity < 0 {
		return fmt.Errorf("%w: store_capacity %d is negative", ErrInvalidConfig, c.StoreCapacity)
	}
	switch c.ExportTo {
	case "", ExportConsole, ExportLog, ExportNone, ExportPrometheus:
	default:
		return fmt.Errorf("%w: unknown export_to %q", ErrInvalidConfig, c.ExportTo)
	}
	return nil
}
