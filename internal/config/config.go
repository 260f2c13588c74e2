// Package config loads the vibedeckd configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vibedeck/vibedeck/internal/backend"
	"github.com/vibedeck/vibedeck/internal/events"
)

// Config is the root of the YAML config file.
type Config struct {
	Server    Server                  `yaml:"server"`
	Isolation backend.IsolationConfig `yaml:"isolation"`
	Discovery Discovery               `yaml:"discovery"`
	Events    Events                  `yaml:"events"`
}

// Server configures the HTTP surface.
type Server struct {
	Listen string `yaml:"listen"`

	// IdentityHeader names the trusted header the external auth layer
	// sets on every request. Empty disables authentication: every
	// session is visible and the gates are no-ops.
	IdentityHeader string `yaml:"identityHeader"`
}

// Discovery bounds session scans and the registry refresh loop.
type Discovery struct {
	Limit            int  `yaml:"limit"`
	IncludeSubagents bool `yaml:"includeSubagents"`
	RefreshSeconds   int  `yaml:"refreshSeconds"`
}

// RefreshInterval is the registry refresh period.
func (d Discovery) RefreshInterval() time.Duration {
	return time.Duration(d.RefreshSeconds) * time.Second
}

// Events configures the optional live-event mirror.
type Events struct {
	JetStream *events.JetStreamOptions `yaml:"jetstream"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Server: Server{
			Listen: ":8787",
		},
		Discovery: Discovery{
			Limit:            10,
			IncludeSubagents: true,
			RefreshSeconds:   5,
		},
	}
}

// Load decodes the config file on top of the defaults. A missing file
// returns the defaults unchanged; an empty path skips loading entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}
	expanded, err := expandPath(trimmed)
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8787"
	}
	if c.Discovery.Limit <= 0 {
		c.Discovery.Limit = 10
	}
	if c.Discovery.RefreshSeconds <= 0 {
		c.Discovery.RefreshSeconds = 5
	}
}

// DefaultConfigPath is where vibedeckd looks when --config is not given.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vibedeck", "config.yaml")
}

func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
