package config

import (
	"EdgeScan/aggregate"
	"EdgeScan/geometry"
	iface "EdgeScan/interface"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, geometry.None, cfg.RotationEnum())
	assert.Equal(t, aggregate.ModeAuto, cfg.AggregateMode())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  captureWidth: 640
  captureHeight: 480
  width: 320
  height: 320
  rotation: 90
  stride: 32
  targetLabel: led
  workersNum: 4
model:
  path: model.onnx
  backend: dnn
  colorMode: grayscale
mqtt:
  enabled: true
  broker: tcp://broker:1883
`), 0o644))
	t.Setenv(EnvPrefix+"THRESHOLD", "0.75")
	t.Setenv(EnvPrefix+"TARGET_LABEL", "resistor")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Pipeline.CaptureWidth)
	assert.Equal(t, 320, cfg.Pipeline.Height)
	assert.Equal(t, 96, cfg.Pipeline.WindowWidth, "unset keys keep defaults")
	assert.Equal(t, 0.75, cfg.Pipeline.Threshold)
	assert.Equal(t, "resistor", cfg.Pipeline.TargetLabel)
	assert.Equal(t, "dnn", cfg.Model.Backend)
	assert.True(t, cfg.MQTT.Enabled)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, geometry.Rot90, cfg.RotationEnum())

	t.Run("missing file keeps defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(dir, "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 24, cfg.Pipeline.Stride)
	})

	t.Run("bad yaml", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("pipeline: ["), 0o644))
		_, err := Load(bad)
		assert.Error(t, err)
	})

	t.Run("bad env number", func(t *testing.T) {
		t.Setenv(EnvPrefix+"STRIDE", "many")
		_, err := Load("")
		var cfgErr *iface.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"window wider than canonical", func(c *Config) { c.Pipeline.WindowWidth = 400 }},
		{"zero stride", func(c *Config) { c.Pipeline.Stride = 0 }},
		{"threshold above one", func(c *Config) { c.Pipeline.Threshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.Pipeline.Threshold = -0.1 }},
		{"odd rotation", func(c *Config) { c.Pipeline.Rotation = 45 }},
		{"capture smaller than canonical", func(c *Config) { c.Pipeline.CaptureWidth = 160 }},
		{"rotated capture too narrow", func(c *Config) { c.Pipeline.Rotation = 90 }},
		{"unknown mode", func(c *Config) { c.Pipeline.Mode = "merge" }},
		{"unknown color mode", func(c *Config) { c.Model.ColorMode = "hsv" }},
		{"unknown backend", func(c *Config) { c.Model.Backend = "tflite" }},
		{"no model", func(c *Config) { c.Model.Path = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *iface.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}

	t.Run("workers floor at one", func(t *testing.T) {
		cfg := Default()
		cfg.Pipeline.Workers = 0
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 1, cfg.Pipeline.Workers)
	})
}
