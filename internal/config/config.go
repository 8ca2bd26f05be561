// Package config holds the bridge's runtime configuration, loaded from
// YAML with defaults for everything but the scene path.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTickRate = 50.0 // Hz
	DefaultDataDir  = ".simbridge"
)

type TransportConfig struct {
	// Kind selects the transport: "memory" (in-process) or "nats".
	Kind string `yaml:"kind"`
	URL  string `yaml:"url,omitempty"`
}

type Config struct {
	Scene     string          `yaml:"scene"`
	TickRate  float64         `yaml:"tick_rate"`
	DataDir   string          `yaml:"data_dir"`
	Transport TransportConfig `yaml:"transport"`
	// Record enables per-goal trace persistence under DataDir.
	Record   bool   `yaml:"record"`
	LogLevel string `yaml:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		TickRate: DefaultTickRate,
		DataDir:  DefaultDataDir,
		Transport: TransportConfig{
			Kind: "memory",
		},
		Record:   true,
		LogLevel: "info",
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Scene == "" {
		return fmt.Errorf("scene path must be set")
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %f", c.TickRate)
	}
	if c.TickRate > 1000 {
		return fmt.Errorf("tick_rate %f exceeds 1000 Hz", c.TickRate)
	}
	switch c.Transport.Kind {
	case "memory":
	case "nats":
		if c.Transport.URL == "" {
			return fmt.Errorf("transport url must be set for nats")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// Period is the tick interval in seconds.
func (c *Config) Period() float64 {
	return 1.0 / c.TickRate
}
