package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web        WebConfig        `yaml:"web"`
	Device     DeviceConfig     `yaml:"device"`
	Permission PermissionConfig `yaml:"permission"`
	Camera     CameraConfig     `yaml:"camera"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Sim        SimConfig        `yaml:"sim"`
	Replay     ReplayConfig     `yaml:"replay"`
	Record     RecordConfig     `yaml:"record"`
}

type WebConfig struct {
	Listen   string `yaml:"listen"`
	LogLines int    `yaml:"log_lines"`
}

// Device sources.
const (
	SourceWebSocket = "websocket"
	SourceSim       = "sim"
	SourceReplay    = "replay"
)

// DeviceConfig selects where orientation events come from. For in-process
// sources (sim, replay) it also describes the runtime they stand in for.
type DeviceConfig struct {
	Source            string `yaml:"source"`
	Absolute          bool   `yaml:"absolute"`
	Relative          bool   `yaml:"relative"`
	RequestPermission bool   `yaml:"request_permission"`
	UserAgent         string `yaml:"user_agent"`
	MaxTouchPoints    int    `yaml:"max_touch_points"`
}

type PermissionConfig struct {
	// Timeout bounds one handshake; an unanswered prompt counts as denied.
	Timeout time.Duration `yaml:"timeout"`
}

// Camera kinds.
const (
	CameraDevice  = "device"
	CameraVirtual = "virtual"
	CameraMQTT    = "mqtt"
	CameraNone    = "none"
)

type CameraConfig struct {
	Kind        string  `yaml:"kind"`
	TopicPrefix string  `yaml:"topic_prefix"`
	PitchDeg    float64 `yaml:"pitch_deg"`
}

type MQTTConfig struct {
	Enable         bool          `yaml:"enable"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	HeadingTopic   string        `yaml:"heading_topic"`
	MinInterval    time.Duration `yaml:"min_interval"`
}

type SimConfig struct {
	Mode         string        `yaml:"mode"`
	Interval     time.Duration `yaml:"interval"`
	StartDeg     float64       `yaml:"start_deg"`
	Period       time.Duration `yaml:"period"`
	TiltDeg      float64       `yaml:"tilt_deg"`
	AccuracyDeg  float64       `yaml:"accuracy_deg"`
	JitterDeg    float64       `yaml:"jitter_deg"`
	Seed         int64         `yaml:"seed"`
	ScenarioPath string        `yaml:"scenario_path"`
	Loop         bool          `yaml:"loop"`
	Grant        *bool         `yaml:"grant"`
	GrantDelay   time.Duration `yaml:"grant_delay"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML config, applies defaults and validates it.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %w", err)
		}
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	cfg.Web.Listen = strings.TrimSpace(cfg.Web.Listen)
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.LogLines <= 0 {
		cfg.Web.LogLines = 500
	}

	cfg.Device.Source = strings.ToLower(strings.TrimSpace(cfg.Device.Source))
	switch cfg.Device.Source {
	case "":
		cfg.Device.Source = SourceWebSocket
	case SourceWebSocket, SourceSim, SourceReplay:
	default:
		return fmt.Errorf("device.source must be one of: websocket, sim, replay")
	}
	if cfg.Device.Source != SourceWebSocket && !cfg.Device.Absolute && !cfg.Device.Relative {
		// An in-process device with no declared capabilities offers both.
		cfg.Device.Absolute = true
		cfg.Device.Relative = true
	}
	if cfg.Device.MaxTouchPoints < 0 {
		return fmt.Errorf("device.max_touch_points must be >= 0")
	}

	if cfg.Permission.Timeout < 0 {
		return fmt.Errorf("permission.timeout must be >= 0")
	}
	if cfg.Permission.Timeout == 0 {
		cfg.Permission.Timeout = 60 * time.Second
	}

	cfg.Camera.Kind = strings.ToLower(strings.TrimSpace(cfg.Camera.Kind))
	switch cfg.Camera.Kind {
	case "":
		if cfg.Device.Source == SourceWebSocket {
			cfg.Camera.Kind = CameraDevice
		} else {
			cfg.Camera.Kind = CameraVirtual
		}
	case CameraDevice:
		if cfg.Device.Source != SourceWebSocket {
			return fmt.Errorf("camera.kind 'device' requires device.source 'websocket'")
		}
	case CameraVirtual, CameraNone:
	case CameraMQTT:
		if !cfg.MQTT.Enable {
			return fmt.Errorf("camera.kind 'mqtt' requires mqtt.enable")
		}
	default:
		return fmt.Errorf("camera.kind must be one of: device, virtual, mqtt, none")
	}
	if cfg.Camera.TopicPrefix == "" {
		cfg.Camera.TopicPrefix = "panocompass/camera"
	}
	if cfg.Camera.PitchDeg < -90 || cfg.Camera.PitchDeg > 90 {
		return fmt.Errorf("camera.pitch_deg must be within [-90,90]")
	}

	if cfg.MQTT.Enable {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "panocompass"
	}
	if cfg.MQTT.ConnectTimeout <= 0 {
		cfg.MQTT.ConnectTimeout = 10 * time.Second
	}
	if cfg.MQTT.HeadingTopic == "" {
		cfg.MQTT.HeadingTopic = "panocompass/heading"
	}
	if cfg.MQTT.MinInterval < 0 {
		return fmt.Errorf("mqtt.min_interval must be >= 0")
	}
	if cfg.MQTT.MinInterval == 0 {
		cfg.MQTT.MinInterval = 200 * time.Millisecond
	}

	// Simulator defaults (safe even if unused).
	switch cfg.Sim.Mode {
	case "":
		cfg.Sim.Mode = "absolute"
	case "absolute", "webkit", "relative":
	default:
		return fmt.Errorf("sim.mode must be one of: absolute, webkit, relative")
	}
	if cfg.Sim.Interval <= 0 {
		cfg.Sim.Interval = 50 * time.Millisecond
	}
	if cfg.Sim.Period <= 0 {
		cfg.Sim.Period = 60 * time.Second
	}
	if cfg.Sim.TiltDeg < 0 || cfg.Sim.TiltDeg > 60 {
		return fmt.Errorf("sim.tilt_deg must be within [0,60]")
	}
	if cfg.Sim.JitterDeg < 0 || cfg.Sim.JitterDeg > 10 {
		return fmt.Errorf("sim.jitter_deg must be within [0,10]")
	}
	if cfg.Sim.AccuracyDeg <= 0 {
		cfg.Sim.AccuracyDeg = 10
	}
	if cfg.Sim.Grant == nil {
		grant := true
		cfg.Sim.Grant = &grant
	}

	if cfg.Device.Source == SourceReplay {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when device.source is 'replay'")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
	}

	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
		if cfg.Device.Source == SourceReplay {
			return fmt.Errorf("record and replay cannot both be enabled")
		}
	}
	return nil
}
