package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
instance_id: retina-dev
capture:
  width: 1920
  height: 1080
  fps: 30
events:
  threshold: 15
  stride: 2
  max_events_per_frame: 5000
  max_context_window: 100000
stream:
  enabled: true
  target: 127.0.0.1:9000
  batch_size: 500
  target_mbps: 5
  max_drop_ratio: 0.4
mqtt:
  enabled: true
  broker: tcp://localhost:1883
http:
  enabled: true
log:
  level: debug
  format: console
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retina.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoadValid verifies parsing plus default filling.
func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "retina-dev", cfg.InstanceID)
	assert.Equal(t, 2, cfg.Events.Stride)
	assert.Equal(t, 0.4, cfg.Stream.MaxDropRatio)

	// Defaults
	assert.Equal(t, 5, cfg.ShutdownTimeoutS)
	assert.Equal(t, "retina/stats/retina-dev", cfg.MQTT.Topics.Stats)
	assert.Equal(t, "retina/health/retina-dev", cfg.MQTT.Topics.Health)
	assert.Equal(t, 10, cfg.MQTT.IntervalS)
	assert.Equal(t, ":8088", cfg.HTTP.Listen)
}

// TestLoadMissingFile verifies a readable error for a bad path.
func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/retina.yaml")
	assert.Error(t, err)
}

// TestValidateRejects covers the hard validation failures.
func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"empty instance id":    func(c *Config) { c.InstanceID = "" },
		"bad instance id":      func(c *Config) { c.InstanceID = "Bad_ID" },
		"zero capture size":    func(c *Config) { c.Capture.Width = 0 },
		"negative threshold":   func(c *Config) { c.Events.Threshold = -1 },
		"stream without host":  func(c *Config) { c.Stream.Enabled = true; c.Stream.Target = "" },
		"drop ratio above one": func(c *Config) { c.Stream.Enabled = true; c.Stream.MaxDropRatio = 1.2 },
		"recording no path":    func(c *Config) { c.Recording.Enabled = true; c.Recording.Path = "" },
		"mqtt without broker":  func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" },
		"unknown log level":    func(c *Config) { c.Log.Level = "verbose" },
		"unknown log format":   func(c *Config) { c.Log.Format = "xml" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

// TestValidateDefaults verifies soft fields fill rather than fail.
func TestValidateDefaults(t *testing.T) {
	cfg := &Config{
		InstanceID: "minimal",
		Capture:    CaptureConfig{Width: 640, Height: 480},
	}
	require.NoError(t, Validate(cfg))

	assert.Equal(t, float64(30), cfg.Capture.TargetFPS)
	assert.Equal(t, float64(15), cfg.Events.Threshold)
	assert.Equal(t, 1, cfg.Events.Stride)
	assert.Equal(t, 10000, cfg.Events.MaxEventsPerFrame)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}
