package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/capbridge/pkg/logging"
)

// Bus kinds.
const (
	BusMQTT   = "mqtt"
	BusStdout = "stdout"
)

// Config represents the application configuration.
type Config struct {
	Serial SerialConfig `yaml:"serial"`
	Bus    BusConfig    `yaml:"bus"`
	Log    LogConfig    `yaml:"log"`
	Mock   MockConfig   `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
// Baud rate and settle delay are fixed by the sensor firmware.
type SerialConfig struct {
	Port string `yaml:"port"`
}

// BusConfig selects and configures the telemetry publisher.
type BusConfig struct {
	Kind           string        `yaml:"kind"`
	Broker         string        `yaml:"broker"`
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"client_id"`
	QoS            byte          `yaml:"qos"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LogConfig contains diagnostic output settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MockConfig contains simulated sensor configuration.
type MockConfig struct {
	SampleRate     time.Duration `yaml:"sample_rate"`     // Time between frames
	Baseline       float64       `yaml:"baseline"`        // Channel baseline (pF)
	Amplitude      float64       `yaml:"amplitude"`       // Drift amplitude (pF)
	NoiseLevel     float64       `yaml:"noise_level"`     // Noise level (pF)
	MalformedEvery int           `yaml:"malformed_every"` // Emit a diagnostic line every N frames (0 = never)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port: "/dev/ttyACM0",
		},
		Bus: BusConfig{
			Kind:           BusMQTT,
			Broker:         "tcp://localhost:1883",
			Topic:          "capacitance",
			ClientID:       "capacitance_node",
			QoS:            0,
			ConnectTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Mock: MockConfig{
			SampleRate:     100 * time.Millisecond, // 10 Hz
			Baseline:       4.0,
			Amplitude:      0.5,
			NoiseLevel:     0.01,
			MalformedEvery: 0,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Bus.Kind {
	case BusMQTT:
		if c.Bus.Broker == "" {
			return fmt.Errorf("bus: broker required for kind %q", c.Bus.Kind)
		}
	case BusStdout:
	default:
		return fmt.Errorf("bus: unknown kind %q", c.Bus.Kind)
	}

	if c.Bus.QoS > 2 {
		return fmt.Errorf("bus: qos must be 0, 1 or 2, got %d", c.Bus.QoS)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if c.Mock.MalformedEvery < 0 {
		return fmt.Errorf("mock: malformed_every must be >= 0, got %d", c.Mock.MalformedEvery)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}

	if c.Bus.Kind == "" {
		c.Bus.Kind = def.Bus.Kind
	}
	if c.Bus.Broker == "" {
		c.Bus.Broker = def.Bus.Broker
	}
	if c.Bus.Topic == "" {
		c.Bus.Topic = def.Bus.Topic
	}
	if c.Bus.ClientID == "" {
		c.Bus.ClientID = def.Bus.ClientID
	}
	if c.Bus.ConnectTimeout == 0 {
		c.Bus.ConnectTimeout = def.Bus.ConnectTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.Baseline == 0 {
		c.Mock.Baseline = def.Mock.Baseline
	}
}
