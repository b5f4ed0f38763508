// Package config holds the policy knobs of the profile engine. The timeout
// values are policy defaults, not protocol requirements, so they can be
// overridden from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config carries the tunable policy values of the profile engine
type Config struct {
	// Timeout waiting for the first segment of a transfer after the
	// get-data control point write (milliseconds)
	FirstSegmentTimeoutMs int `yaml:"first_segment_timeout_ms" default:"5000"`

	// Timeout between consecutive segments of one transfer (milliseconds)
	FollowingSegmentTimeoutMs int `yaml:"following_segment_timeout_ms" default:"1000"`

	// Timeout waiting for a data-ready notification in on-demand mode
	// (milliseconds)
	DataReadyTimeoutMs int `yaml:"data_ready_timeout_ms" default:"5000"`

	// Maximum number of per-address cached device entries
	CachedDeviceCapacity int `yaml:"cached_device_capacity" default:"10"`

	// Maximum number of simultaneously connected devices; connects beyond
	// this stay disconnected
	MaxDevices int `yaml:"max_devices" default:"5"`
}

// Default returns a Config populated with the default policy values
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// FirstSegmentTimeout returns the first-segment timeout as a duration
func (c *Config) FirstSegmentTimeout() time.Duration {
	return time.Duration(c.FirstSegmentTimeoutMs) * time.Millisecond
}

// FollowingSegmentTimeout returns the following-segment timeout as a duration
func (c *Config) FollowingSegmentTimeout() time.Duration {
	return time.Duration(c.FollowingSegmentTimeoutMs) * time.Millisecond
}

// DataReadyTimeout returns the data-ready timeout as a duration
func (c *Config) DataReadyTimeout() time.Duration {
	return time.Duration(c.DataReadyTimeoutMs) * time.Millisecond
}
