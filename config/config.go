// Package config loads and validates the YAML pipeline configuration for
// the conversion daemon: which device backend to drive, the input stream
// geometry, the set of output streams and the monitoring endpoints.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/makewise-vision/libcamera-raspberrypi/errors"
	"github.com/makewise-vision/libcamera-raspberrypi/format"
)

// DeviceConfig selects the hardware backend and device node.
type DeviceConfig struct {
	// Class is the registered backend identifier (e.g. "v4l2-m2m")
	Class string `yaml:"class"`
	// Node is the device node the backend opens (e.g. "/dev/video12")
	Node string `yaml:"node"`
}

// StreamConfig describes one stream's format and geometry.
type StreamConfig struct {
	// Format is the fourcc pixel format code (e.g. "NV12")
	Format string `yaml:"format"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	// Stride is the row stride in bytes; zero lets the device choose
	Stride int `yaml:"stride"`
	// Buffers is how many frame buffers the stream uses
	Buffers int `yaml:"buffers"`
}

// Description converts the stream config to an engine stream description.
func (sc StreamConfig) Description() (format.StreamDescription, error) {
	pf, err := format.ParsePixelFormat(sc.Format)
	if err != nil {
		return format.StreamDescription{}, err
	}
	return format.StreamDescription{
		PixelFormat: pf,
		Size:        format.Size{Width: sc.Width, Height: sc.Height},
		Stride:      sc.Stride,
		BufferCount: sc.Buffers,
	}, nil
}

// MonitorConfig holds the observability endpoints.
type MonitorConfig struct {
	// MetricsPort serves the Prometheus scrape endpoint, 0 disables it
	MetricsPort int `yaml:"metrics_port"`
	// WebSocketPort serves the live event monitor, 0 disables it
	WebSocketPort int `yaml:"websocket_port"`
}

// EventsConfig holds the NATS event publishing settings.
type EventsConfig struct {
	// URL is the NATS server address; empty disables event publishing
	URL string `yaml:"url"`
	// SubjectPrefix prefixes all published subjects
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Config is the root daemon configuration.
type Config struct {
	Device  DeviceConfig   `yaml:"device"`
	Input   StreamConfig   `yaml:"input"`
	Outputs []StreamConfig `yaml:"outputs"`
	Monitor MonitorConfig  `yaml:"monitor"`
	Events  EventsConfig   `yaml:"events"`
}

// Default returns a configuration with sensible defaults applied.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Class: "loopback",
			Node:  "loopback0",
		},
		Monitor: MonitorConfig{
			MetricsPort: 9090,
		},
		Events: EventsConfig{
			SubjectPrefix: "mediapipe.events",
		},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WrapInvalid(err, "Config", "Load", "file read")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.WrapInvalid(err, "Config", "Load", "yaml parsing")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration is complete and consistent.
func (c *Config) Validate() error {
	if c.Device.Class == "" {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"Config", "Validate", "device class check")
	}
	if c.Device.Node == "" {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"Config", "Validate", "device node check")
	}

	if _, err := c.Input.Description(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "input stream check")
	}
	in, _ := c.Input.Description()
	if err := in.Validate(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "input stream check")
	}

	if len(c.Outputs) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: at least one output stream required", errors.ErrInvalidArgument),
			"Config", "Validate", "output list check")
	}
	for i, out := range c.Outputs {
		desc, err := out.Description()
		if err != nil {
			return errors.Wrap(err, "Config", "Validate",
				fmt.Sprintf("output %d check", i))
		}
		if err := desc.Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate",
				fmt.Sprintf("output %d check", i))
		}
	}

	if c.Monitor.MetricsPort < 0 || c.Monitor.MetricsPort > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("metrics port %d outside valid range", c.Monitor.MetricsPort),
			"Config", "Validate", "metrics port check")
	}
	if c.Monitor.WebSocketPort < 0 || c.Monitor.WebSocketPort > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("websocket port %d outside valid range", c.Monitor.WebSocketPort),
			"Config", "Validate", "websocket port check")
	}

	return nil
}

// OutputDescriptions converts all output stream configs to engine stream
// descriptions. Validate must have succeeded first.
func (c *Config) OutputDescriptions() ([]format.StreamDescription, error) {
	descs := make([]format.StreamDescription, 0, len(c.Outputs))
	for i, out := range c.Outputs {
		desc, err := out.Description()
		if err != nil {
			return nil, errors.Wrap(err, "Config", "OutputDescriptions",
				fmt.Sprintf("output %d conversion", i))
		}
		descs = append(descs, desc)
	}
	return descs, nil
}
