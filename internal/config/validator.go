package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Capture
	if cfg.Capture.Width <= 0 || cfg.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	if cfg.Capture.TargetFPS <= 0 {
		cfg.Capture.TargetFPS = 30
	}

	// Events
	if cfg.Events.Threshold < 0 {
		return fmt.Errorf("events.threshold must be >= 0")
	}
	if cfg.Events.Threshold == 0 {
		cfg.Events.Threshold = 15
	}
	if cfg.Events.Stride <= 0 {
		cfg.Events.Stride = 1
	}
	if cfg.Events.MaxEventsPerFrame <= 0 {
		cfg.Events.MaxEventsPerFrame = 10000
	}
	if cfg.Events.MaxContextWindow < 0 {
		return fmt.Errorf("events.max_context_window must be >= 0")
	}
	if cfg.Events.Workers < 0 {
		return fmt.Errorf("events.workers must be >= 0")
	}

	// Stream
	if cfg.Stream.Enabled {
		if cfg.Stream.Target == "" {
			return fmt.Errorf("stream.target is required when streaming is enabled")
		}
		if cfg.Stream.BatchSize <= 0 {
			cfg.Stream.BatchSize = 1000
		}
		if cfg.Stream.TargetMBps <= 0 {
			cfg.Stream.TargetMBps = 10
		}
		if cfg.Stream.MaxDropRatio < 0 || cfg.Stream.MaxDropRatio > 1 {
			return fmt.Errorf("stream.max_drop_ratio must be in [0,1]")
		}
		if cfg.Stream.MaxDropRatio == 0 {
			cfg.Stream.MaxDropRatio = 0.5
		}
	}

	// Recording
	if cfg.Recording.Enabled && cfg.Recording.Path == "" {
		return fmt.Errorf("recording.path is required when recording is enabled")
	}

	// MQTT
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.IntervalS <= 0 {
			cfg.MQTT.IntervalS = 10
		}
		if cfg.MQTT.Topics.Stats == "" {
			cfg.MQTT.Topics.Stats = fmt.Sprintf("retina/stats/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("retina/health/%s", cfg.InstanceID)
		}
	}

	// HTTP
	if cfg.HTTP.Enabled && cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8088"
	}

	// Log
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	switch cfg.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	return nil
}
