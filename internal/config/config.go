// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration.
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // graceful shutdown timeout in seconds (default: 5)
	Capture          CaptureConfig   `yaml:"capture"`
	Events           EventsConfig    `yaml:"events"`
	Temporal         TemporalConfig  `yaml:"temporal"`
	Stream           StreamConfig    `yaml:"stream"`
	Recording        RecordingConfig `yaml:"recording"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	HTTP             HTTPConfig      `yaml:"http"`
	Log              LogConfig       `yaml:"log"`
}

// CaptureConfig contains frame acquisition settings.
type CaptureConfig struct {
	Display   string  `yaml:"display"`   // X display, empty for default
	Width     int     `yaml:"width"`     // capture region width in pixels
	Height    int     `yaml:"height"`    // capture region height in pixels
	TargetFPS float64 `yaml:"fps"`       // capture rate
	Simulate  bool    `yaml:"simulate"`  // use the synthetic frame generator
}

// EventsConfig contains frame differencing settings.
type EventsConfig struct {
	Threshold         float64 `yaml:"threshold"`            // luminance change threshold
	Stride            int     `yaml:"stride"`               // pixel sampling stride
	MaxEventsPerFrame int     `yaml:"max_events_per_frame"` // per-frame output cap
	MaxContextWindow  int     `yaml:"max_context_window"`   // stream ring capacity, 0 = unbounded
	Workers           int     `yaml:"workers"`              // differencing goroutines, 0 = auto
}

// TemporalConfig contains sliding-window index settings.
type TemporalConfig struct {
	WindowUS  uint64 `yaml:"window_us"`  // trailing window in microseconds
	MaxRecent int    `yaml:"max_recent"` // recent entry cap
}

// StreamConfig contains UDP streaming settings.
type StreamConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Target       string  `yaml:"target"`         // receiver host:port
	BatchSize    int     `yaml:"batch_size"`     // max events per packet
	TargetMBps   float64 `yaml:"target_mbps"`    // throughput ceiling
	MaxDropRatio float64 `yaml:"max_drop_ratio"` // drop controller cap, 0..1
}

// RecordingConfig contains event file output settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`   // output file, extension selects the format
}

// MQTTConfig contains telemetry broker settings.
type MQTTConfig struct {
	Enabled   bool       `yaml:"enabled"`
	Broker    string     `yaml:"broker"`
	Topics    MQTTTopics `yaml:"topics"`
	IntervalS int        `yaml:"interval_s"` // stats publish cadence in seconds
}

// MQTTTopics contains topic templates.
type MQTTTopics struct {
	Stats  string `yaml:"stats"`
	Health string `yaml:"health"`
}

// HTTPConfig contains the stats endpoint settings.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // bind address, e.g. ":8088"
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
