package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// config is the host-side configuration for the CLI. The engine itself takes
// no configuration beyond its open options; everything here layers on top.
// Precedence: defaults < YAML file < environment < flags.
type config struct {
	// Path to the log file.
	Path string `yaml:"path"`
	// CompactThreshold is the garbage fraction at which the log is
	// compacted on startup.
	CompactThreshold float64 `yaml:"compact_threshold"`
}

func defaultConfig() config {
	return config{
		Path:             "logcask.db",
		CompactThreshold: 0.25,
	}
}

// loadConfig builds the configuration from defaults, an optional YAML file,
// and environment variables. A .env file in the working directory is loaded
// first if present.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	// Missing .env is the normal case.
	_ = godotenv.Load()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if env := os.Getenv("LOGCASK_PATH"); env != "" {
		cfg.Path = env
	}
	if env := os.Getenv("LOGCASK_COMPACT_THRESHOLD"); env != "" {
		threshold, err := strconv.ParseFloat(env, 64)
		if err != nil {
			return config{}, fmt.Errorf("invalid LOGCASK_COMPACT_THRESHOLD %q: %w", env, err)
		}
		cfg.CompactThreshold = threshold
	}

	if cfg.Path == "" {
		return config{}, fmt.Errorf("a log file path is required")
	}

	return cfg, nil
}
