package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Display  DisplayConfig  `yaml:"display"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds database connection settings. An empty URL runs the
// server on in-memory stores only.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// GatewayConfig holds settings for outbound run-event surfaces.
type GatewayConfig struct {
	TimerURL string `yaml:"timer_url"` // countdown-timer webhook; empty disables the sink
}

// DisplayConfig holds settings for the display state hub.
type DisplayConfig struct {
	Buffer         int `yaml:"buffer"`           // replayable events kept per owner (default: 256)
	IdleTTLMinutes int `yaml:"idle_ttl_minutes"` // minutes before an idle owner stream is dropped (default: 360)
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{},
		Display: DisplayConfig{
			Buffer:         256,
			IdleTTLMinutes: 360,
		},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns sensible defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}
