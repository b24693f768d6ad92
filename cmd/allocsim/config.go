package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes one workload run: how big a heap to reserve, what
// sizes to allocate, and where to send logs and metrics.
type Config struct {
	HeapSizeBytes uint64        `yaml:"heap_size_bytes"`
	Iterations    int           `yaml:"iterations"`
	MinAllocSize  uint64        `yaml:"min_alloc_size"`
	MaxAllocSize  uint64        `yaml:"max_alloc_size"`
	MaxLiveBlocks int           `yaml:"max_live_blocks"`
	FreeRatio     float64       `yaml:"free_ratio"`
	Logging       LoggingConfig `yaml:"logging"`
	MetricsAddr   string        `yaml:"metrics_addr"`
}

// LoggingConfig mirrors the fields a zap core built over lumberjack
// needs: where to write, how verbose to be, and when to rotate.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"` // "stdout", "file", or "both"
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig is used when no config file is given on the command
// line.
func DefaultConfig() Config {
	return Config{
		HeapSizeBytes: 32 << 20,
		Iterations:    20000,
		MinAllocSize:  8,
		MaxAllocSize:  8192,
		MaxLiveBlocks: 4096,
		FreeRatio:     0.45,
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		MetricsAddr: ":9110",
	}
}

// LoadConfig reads a YAML scenario file, falling back to DefaultConfig
// if path is empty.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("allocsim: reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("allocsim: parsing config: %w", err)
	}
	return cfg, nil
}
