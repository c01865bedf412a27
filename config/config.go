package config

import (
	"EdgeScan/aggregate"
	"EdgeScan/geometry"
	iface "EdgeScan/interface"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "EDGESCAN_"

type Pipeline struct {
	CaptureWidth  int     `yaml:"captureWidth"`
	CaptureHeight int     `yaml:"captureHeight"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	Rotation      int     `yaml:"rotation"`
	WindowWidth   int     `yaml:"windowWidth"`
	WindowHeight  int     `yaml:"windowHeight"`
	Stride        int     `yaml:"stride"`
	Threshold     float64 `yaml:"threshold"`
	TargetLabel   string  `yaml:"targetLabel"`
	Mode          string  `yaml:"mode"`
	Workers       int     `yaml:"workersNum"`
	FPSAlpha      float64 `yaml:"fpsAlpha"`
}

type Model struct {
	Path        string `yaml:"path"`
	Backend     string `yaml:"backend"`
	RunnerURL   string `yaml:"runnerURL"`
	ConfigPath  string `yaml:"configPath"`
	LabelsPath  string `yaml:"labelsPath"`
	InputWidth  int    `yaml:"inputWidth"`
	InputHeight int    `yaml:"inputHeight"`
	// ColorMode overrides what the model reports; empty keeps the model's.
	ColorMode string `yaml:"colorMode"`
	Detection bool   `yaml:"detection"`
	Softmax   bool   `yaml:"softmax"`
}

type Capture struct {
	Device      string `yaml:"device"`
	ReplayDir   string `yaml:"replayDir"`
	Loop        bool   `yaml:"loop"`
	Show        bool   `yaml:"show"`
	SnapshotDir string `yaml:"snapshotDir"`
}

type Server struct {
	WebPort int `yaml:"webPort"`
	RPCPort int `yaml:"RPCPort"`
}

type Monitor struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type MQTT struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientID"`
	QoS      byte   `yaml:"qos"`
}

type Store struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Registry struct {
	Enabled       bool   `yaml:"UseRegServer"`
	Host          string `yaml:"RegServerHost"`
	Port          int    `yaml:"RegServerPort"`
	InstanceClass string `yaml:"instanceClass"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
	Model    Model    `yaml:"model"`
	Capture  Capture  `yaml:"capture"`
	Server   Server   `yaml:"server"`
	Monitor  Monitor  `yaml:"monitor"`
	MQTT     MQTT     `yaml:"mqtt"`
	Store    Store    `yaml:"store"`
	Registry Registry `yaml:"registry"`
	Log      Log      `yaml:"log"`
}

// Default matches a 320x240 USB camera scanned by 96x96 windows.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			CaptureWidth:  320,
			CaptureHeight: 240,
			Width:         320,
			Height:        240,
			WindowWidth:   96,
			WindowHeight:  96,
			Stride:        24,
			Threshold:     0.6,
			Mode:          string(aggregate.ModeAuto),
			Workers:       1,
			FPSAlpha:      0.1,
		},
		Model: Model{
			Path:      "modelfile.eim",
			Backend:   "remote",
			RunnerURL: "http://127.0.0.1:8337",
		},
		Capture: Capture{Device: "/dev/video0", SnapshotDir: "."},
		Server:  Server{WebPort: 8080, RPCPort: 50051},
		Monitor: Monitor{Port: 9090},
		MQTT:    MQTT{Topic: "edgescan/detections", ClientID: "edgescan"},
		Store:   Store{Path: "edgescan.db"},
		Log:     Log{Level: "info"},
	}
}

// Load reads path over the defaults, then .env and EDGESCAN_* variables.
// A missing file is not an error; the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	// .env is optional
	_ = godotenv.Load()
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. Malformed numbers are
// configuration errors rather than silently ignored.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, iface.ConfigErrorf(EnvPrefix+key, "not an integer: %q", v))
				return
			}
			*dst = n
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, iface.ConfigErrorf(EnvPrefix+key, "not a number: %q", v))
				return
			}
			*dst = f
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, iface.ConfigErrorf(EnvPrefix+key, "not a boolean: %q", v))
				return
			}
			*dst = b
		}
	}

	str("DEVICE", &c.Capture.Device)
	str("REPLAY_DIR", &c.Capture.ReplayDir)
	str("MODEL_PATH", &c.Model.Path)
	str("MODEL_BACKEND", &c.Model.Backend)
	str("RUNNER_URL", &c.Model.RunnerURL)
	str("LABELS_PATH", &c.Model.LabelsPath)
	str("TARGET_LABEL", &c.Pipeline.TargetLabel)
	str("MODE", &c.Pipeline.Mode)
	num("CAPTURE_WIDTH", &c.Pipeline.CaptureWidth)
	num("CAPTURE_HEIGHT", &c.Pipeline.CaptureHeight)
	num("WIDTH", &c.Pipeline.Width)
	num("HEIGHT", &c.Pipeline.Height)
	num("ROTATION", &c.Pipeline.Rotation)
	num("WINDOW_WIDTH", &c.Pipeline.WindowWidth)
	num("WINDOW_HEIGHT", &c.Pipeline.WindowHeight)
	num("STRIDE", &c.Pipeline.Stride)
	num("WORKERS", &c.Pipeline.Workers)
	flt("THRESHOLD", &c.Pipeline.Threshold)
	num("WEB_PORT", &c.Server.WebPort)
	num("RPC_PORT", &c.Server.RPCPort)
	num("MONITOR_PORT", &c.Monitor.Port)
	flag("MQTT_ENABLED", &c.MQTT.Enabled)
	str("MQTT_BROKER", &c.MQTT.Broker)
	flag("STORE_ENABLED", &c.Store.Enabled)
	str("STORE_PATH", &c.Store.Path)
	str("LOG_LEVEL", &c.Log.Level)
	return errors.Join(errs...)
}

// Validate checks every pipeline invariant before any device is opened.
func (c *Config) Validate() error {
	p := &c.Pipeline
	if p.Width <= 0 || p.Height <= 0 {
		return iface.ConfigErrorf("pipeline.width/height", "canonical resolution %dx%d must be positive", p.Width, p.Height)
	}
	if p.WindowWidth <= 0 || p.WindowHeight <= 0 {
		return iface.ConfigErrorf("pipeline.windowWidth/windowHeight", "window %dx%d must be positive", p.WindowWidth, p.WindowHeight)
	}
	if p.WindowWidth > p.Width || p.WindowHeight > p.Height {
		return iface.ConfigErrorf("pipeline.windowWidth/windowHeight", "window %dx%d larger than canonical %dx%d", p.WindowWidth, p.WindowHeight, p.Width, p.Height)
	}
	if p.Stride < 1 {
		return iface.ConfigErrorf("pipeline.stride", "must be at least 1, got %d", p.Stride)
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return iface.ConfigErrorf("pipeline.threshold", "must be in [0, 1], got %g", p.Threshold)
	}
	rot, err := geometry.ParseRotation(p.Rotation)
	if err != nil {
		return err
	}
	if err := geometry.ValidateCapture(p.CaptureWidth, p.CaptureHeight, rot, p.Width, p.Height); err != nil {
		return err
	}
	if _, err := aggregate.ParseMode(p.Mode); err != nil {
		return err
	}
	if p.Workers < 1 {
		p.Workers = 1
	}
	switch iface.ColorMode(strings.ToLower(c.Model.ColorMode)) {
	case "", iface.ColorRGB, iface.ColorGrayscale:
	default:
		return iface.ConfigErrorf("model.colorMode", "unknown color mode %q", c.Model.ColorMode)
	}
	switch c.Model.Backend {
	case "dnn", "remote":
	default:
		return iface.ConfigErrorf("model.backend", "unknown backend %q", c.Model.Backend)
	}
	if c.Model.Path == "" {
		return iface.ConfigErrorf("model.path", "must be set")
	}
	return nil
}

func (c *Config) RotationEnum() geometry.Rotation {
	r, _ := geometry.ParseRotation(c.Pipeline.Rotation)
	return r
}

func (c *Config) AggregateMode() aggregate.Mode {
	m, _ := aggregate.ParseMode(c.Pipeline.Mode)
	return m
}
