package infra

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting. LoadConfig reads the YAML file and
// then applies environment variable overrides on top.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Sequencer struct {
		// Sandbox enables the Reset and GetState requests.
		Sandbox            bool   `yaml:"sandbox"`
		InboxSize          int    `yaml:"inbox_size"`
		CheckpointInterval uint64 `yaml:"checkpoint_interval"`
		CheckpointKeep     int    `yaml:"checkpoint_keep"`
	} `yaml:"sequencer"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = AppName
	cfg.App.Version = "dev"
	cfg.Sequencer.InboxSize = 1024
	cfg.Sequencer.CheckpointInterval = 10_000
	cfg.Sequencer.CheckpointKeep = 3
	cfg.Logging.Level = "info"
	return &cfg
}

// LoadConfig reads and parses the config file, applies DEXGO_* overrides
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Sequencer.InboxSize <= 0 {
		return fmt.Errorf("inbox size must be positive, got %d", c.Sequencer.InboxSize)
	}
	if c.Sequencer.CheckpointKeep <= 0 {
		return fmt.Errorf("checkpoint keep count must be positive, got %d", c.Sequencer.CheckpointKeep)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}
	return nil
}

// overrideWithEnv applies environment variables over the file values.
// The environment wins so deployments can flip settings without editing
// the config on disk.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("DEXGO_SANDBOX"); v != "" {
		cfg.Sequencer.Sandbox = v == "1" || v == "true"
	}
	if v := os.Getenv("DEXGO_INBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sequencer.InboxSize = n
		}
	}
	if v := os.Getenv("DEXGO_CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Sequencer.CheckpointInterval = n
		}
	}
	if v := os.Getenv("DEXGO_CHECKPOINT_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sequencer.CheckpointKeep = n
		}
	}
	if v := os.Getenv("DEXGO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
