// Package config loads screencastd configuration from a YAML file,
// overlays environment variables, and watches the file for live
// reloads of recorder options.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment keys recognized by the daemon. Environment values take
// precedence over the config file; command-line flags override both.
const (
	EnvOutputDir = "SCREENCASTD_OUTPUT_DIR"
	EnvContainer = "SCREENCASTD_CONTAINER"
	EnvFPS       = "SCREENCASTD_FPS"
	EnvCodec     = "SCREENCASTD_CODEC"
	EnvOpenCmd   = "SCREENCASTD_OPEN_CMD"
)

// RecorderConfig holds capture settings.
type RecorderConfig struct {
	OutputDir   string `yaml:"output_dir"`
	Container   string `yaml:"container"`
	FrameRate   int    `yaml:"frame_rate"`
	Codec       string `yaml:"codec"`
	OpenCommand string `yaml:"open_command"`
}

// DaemonConfig holds daemon-subcommand settings.
type DaemonConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	Notifications *bool  `yaml:"notifications"`
}

// Config is the top-level configuration file structure.
type Config struct {
	// Listen is the status API address. Empty disables the API.
	Listen   string         `yaml:"listen"`
	Recorder RecorderConfig `yaml:"recorder"`
	Daemon   DaemonConfig   `yaml:"daemon"`
}

// DefaultPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "screencastd", "config.yaml")
}

// Load reads and parses a YAML config file. If the file does not
// exist, it returns an empty Config and a nil error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overlays recognized environment variables onto the recorder
// settings. An unparsable SCREENCASTD_FPS is logged and ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Recorder.OutputDir = v
	}
	if v := os.Getenv(EnvContainer); v != "" {
		c.Recorder.Container = v
	}
	if v := os.Getenv(EnvFPS); v != "" {
		fps, err := strconv.Atoi(v)
		if err != nil || fps <= 0 {
			slog.Warn("ignoring invalid frame rate", "env", EnvFPS, "value", v)
		} else {
			c.Recorder.FrameRate = fps
		}
	}
	if v := os.Getenv(EnvCodec); v != "" {
		c.Recorder.Codec = v
	}
	if v := os.Getenv(EnvOpenCmd); v != "" {
		c.Recorder.OpenCommand = v
	}
}
