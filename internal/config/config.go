// Package config handles node configuration from YAML and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDataPort      = 0
	DefaultMulticastGroup = "239.255.0.1"
	DefaultMulticastPort  = 7500
	DefaultConfigPath     = "/etc/meshrt/node.yaml"
	DefaultLogLevel       = "info"
)

// Config defines a single node process's configuration.
type Config struct {
	// Identity
	NodeName string `yaml:"node_name"`

	// Networking
	DataPort int `yaml:"data_port"` // 0 = OS-assigned

	// Discovery
	MulticastGroup string `yaml:"multicast_group"`
	MulticastPort  int    `yaml:"multicast_port"`

	// Modules to construct at startup, by registry name.
	Modules []string `yaml:"modules"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config with the spec's default network
// parameters.
func DefaultConfig() *Config {
	return &Config{
		NodeName:       "node",
		DataPort:       DefaultDataPort,
		MulticastGroup: DefaultMulticastGroup,
		MulticastPort:  DefaultMulticastPort,
		LogLevel:       DefaultLogLevel,
	}
}

// LoadFromFile loads configuration from a YAML file. A missing file yields
// the defaults, matching the teacher's fallback convention.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies MESHRT_* environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MESHRT_NODE_NAME"); v != "" {
		c.NodeName = v
	}
	if v := os.Getenv("MESHRT_MULTICAST_GROUP"); v != "" {
		c.MulticastGroup = v
	}
	if v := os.Getenv("MESHRT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks that the config is usable.
func (c *Config) Validate() error {
	if c.NodeName == "" {
		return fmt.Errorf("node_name must not be empty")
	}
	if c.DataPort < 0 || c.DataPort > 65535 {
		return fmt.Errorf("invalid data_port: %d", c.DataPort)
	}
	if c.MulticastPort < 1 || c.MulticastPort > 65535 {
		return fmt.Errorf("invalid multicast_port: %d", c.MulticastPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	return nil
}

// SaveToFile writes config to a YAML file, creating parent directories as
// needed.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
