package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the rosetta configuration file (~/.config/rosetta/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`

	// Decode defaults
	BeamWidth *int64 `yaml:"beam_width"`
	MaxSteps  *int64 `yaml:"max_steps"`
	Parallel  *int64 `yaml:"parallel"`

	// Translation memory
	MemoryPath string `yaml:"memory_path"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rosetta", "config.yaml")
}

// applyDecodeConfig applies config file defaults to the decode commands
// when the corresponding CLI flag was not explicitly set.
func applyDecodeConfig(c *cli.Command, cfg Config) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.BeamWidth != nil && !c.IsSet("beam-width") && !c.IsSet("b") && !c.IsSet("width") {
		beamWidth = *cfg.BeamWidth
	}
	if cfg.MaxSteps != nil && !c.IsSet("max-steps") && !c.IsSet("steps") {
		maxSteps = *cfg.MaxSteps
	}
	if cfg.Parallel != nil && !c.IsSet("parallel") && !c.IsSet("j") {
		parallel = *cfg.Parallel
	}
	if cfg.MemoryPath != "" && !c.IsSet("memory") {
		memoryPath = cfg.MemoryPath
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyDecodeConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
