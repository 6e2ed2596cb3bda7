// Package config loads the dispatch CLI configuration from YAML or JSON
// files and resolves it onto the library defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/dispatch/pkg/probe"
	"github.com/vnykmshr/dispatch/pkg/scheduling/batch"
	"github.com/vnykmshr/dispatch/pkg/scheduling/scheduler"
)

// LocalPlaceholder in a configured message is replaced by the connection's
// local address.
const LocalPlaceholder = "{local}"

// FileConfig is the layout of a configuration file.
type FileConfig struct {
	Target   TargetConfig  `yaml:"target" json:"target"`
	Batch    BatchConfig   `yaml:"batch" json:"batch"`
	Schedule string        `yaml:"schedule" json:"schedule"`
	Metrics  MetricsConfig `yaml:"metrics" json:"metrics"`
	Log      LogConfig     `yaml:"log" json:"log"`
}

// TargetConfig describes the server every task talks to.
type TargetConfig struct {
	Network     string `yaml:"network" json:"network"`
	Address     string `yaml:"address" json:"address"`
	DialTimeout string `yaml:"dial_timeout" json:"dial_timeout"`
	IOTimeout   string `yaml:"io_timeout" json:"io_timeout"`
	Message     string `yaml:"message" json:"message"`
}

// BatchConfig sizes a run.
type BatchConfig struct {
	Name            string  `yaml:"name" json:"name"`
	Clients         int     `yaml:"clients" json:"clients"`
	Workers         int     `yaml:"workers" json:"workers"`
	ShutdownTimeout string  `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	ForceGrace      string  `yaml:"force_grace" json:"force_grace"`
	Rate            float64 `yaml:"rate" json:"rate"`
	Burst           int     `yaml:"burst" json:"burst"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Settings is the resolved configuration of one CLI invocation.
type Settings struct {
	Batch            batch.Config
	Probe            probe.Config
	Schedule         string
	MetricsAddr      string
	MetricsNamespace string
	LogLevel         string
	LogFormat        string
}

// Default returns the built-in settings: 100 clients on 10
// workers against localhost:8010 with a 60 second shutdown deadline.
func Default() Settings {
	return Settings{
		Batch:     batch.DefaultConfig(),
		Probe:     probe.DefaultConfig(),
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadFile reads a configuration file. The format is chosen by extension.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate checks values that can be rejected without defaults.
func (f *FileConfig) Validate() error {
	if f.Batch.Clients < 0 {
		return fmt.Errorf("batch.clients must be non-negative")
	}
	if f.Batch.Workers < 0 {
		return fmt.Errorf("batch.workers must be non-negative")
	}
	if f.Batch.Rate < 0 {
		return fmt.Errorf("batch.rate must be non-negative")
	}
	if f.Batch.Burst < 0 {
		return fmt.Errorf("batch.burst must be non-negative")
	}
	if f.Schedule != "" {
		if err := scheduler.ValidateCronExpression(f.Schedule); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}
	if _, err := ParseLevel(f.Log.Level); f.Log.Level != "" && err != nil {
		return err
	}
	if f.Log.Format != "" && f.Log.Format != "text" && f.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", f.Log.Format)
	}
	return nil
}

// Apply overlays the values set in f onto s. Zero values leave s unchanged.
func (f *FileConfig) Apply(s *Settings) error {
	t := f.Target
	if t.Network != "" {
		s.Probe.Network = t.Network
	}
	if t.Address != "" {
		s.Probe.Address = t.Address
	}
	if err := parseDuration(t.DialTimeout, "target.dial_timeout", &s.Probe.DialTimeout); err != nil {
		return err
	}
	if err := parseDuration(t.IOTimeout, "target.io_timeout", &s.Probe.IOTimeout); err != nil {
		return err
	}
	if t.Message != "" {
		s.Probe.Message = MessageTemplate(t.Message)
	}

	b := f.Batch
	if b.Name != "" {
		s.Batch.Name = b.Name
	}
	if b.Clients > 0 {
		s.Batch.Tasks = b.Clients
	}
	if b.Workers > 0 {
		s.Batch.Workers = b.Workers
	}
	if err := parseDuration(b.ShutdownTimeout, "batch.shutdown_timeout", &s.Batch.ShutdownTimeout); err != nil {
		return err
	}
	if err := parseDuration(b.ForceGrace, "batch.force_grace", &s.Batch.ForceGrace); err != nil {
		return err
	}
	if b.Rate > 0 {
		s.Batch.Rate = b.Rate
	}
	if b.Burst > 0 {
		s.Batch.Burst = b.Burst
	}

	if f.Schedule != "" {
		s.Schedule = f.Schedule
	}
	if f.Metrics.Addr != "" {
		s.MetricsAddr = f.Metrics.Addr
	}
	if f.Metrics.Namespace != "" {
		s.MetricsNamespace = f.Metrics.Namespace
	}
	if f.Log.Level != "" {
		s.LogLevel = f.Log.Level
	}
	if f.Log.Format != "" {
		s.LogFormat = f.Log.Format
	}
	return nil
}

// MessageTemplate returns a probe message builder that substitutes the
// local address for every LocalPlaceholder in tmpl.
func MessageTemplate(tmpl string) func(local string) string {
	return func(local string) string {
		return strings.ReplaceAll(tmpl, LocalPlaceholder, local)
	}
}

func parseDuration(value, field string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = d
	return nil
}
