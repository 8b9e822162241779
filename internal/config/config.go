// Package config loads cmdhub's configuration: a YAML file overlaid by
// environment variables, the same two-stage load teacher's own
// internal/config/config.go used for the Linear API key.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Session    SessionConfig    `yaml:"session"`
	Stream     StreamConfig     `yaml:"stream"`
	Mount      MountConfig      `yaml:"mount"`
	Log        LogConfig        `yaml:"log"`
}

// DispatcherConfig mirrors internal/dispatcher.Config's tunables, plus
// a file path for policy rules (internal/dispatcher.Config.PolicyRules
// is loaded from this file, falling back to policy.DefaultRules()
// when unset).
type DispatcherConfig struct {
	RatePerSecond         float64       `yaml:"rate_per_second"`
	L1Capacity            int           `yaml:"l1_capacity"`
	PolicyRuleFile        string        `yaml:"policy_rule_file"`
	L3ConfidenceThreshold float64       `yaml:"l3_confidence_threshold"`
	ExpertTimeout         time.Duration `yaml:"expert_timeout"`
	ExpertQueueCapacity   int           `yaml:"expert_queue_capacity"`
}

// SessionConfig configures internal/session.Manager.
type SessionConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
}

// StreamConfig configures internal/stream.Hub.
type StreamConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

type MountConfig struct {
	DefaultPath string `yaml:"default_path"`
	AllowOther  bool   `yaml:"allow_other"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			RatePerSecond:         1000,
			L1Capacity:            10_000,
			L3ConfidenceThreshold: 0.8,
			ExpertTimeout:         30 * time.Second,
			ExpertQueueCapacity:   100,
		},
		Stream: StreamConfig{
			BufferSize: 1000,
		},
		Mount: MountConfig{
			DefaultPath: "",
			AllowOther:  false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function. This allows tests to provide isolated environment values.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	// Try to load from config file.
	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment variables override config file.
	if secret := getenv("CMDHUB_SESSION_SECRET"); secret != "" {
		cfg.Session.HMACSecret = secret
	}
	if level := getenv("CMDHUB_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg, nil
}

func getConfigPath() string {
	return getConfigPathWithEnv(os.Getenv)
}

func getConfigPathWithEnv(getenv func(string) string) string {
	// Check XDG_CONFIG_HOME first.
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cmdhub", "config.yaml")
	}

	// Fall back to ~/.config.
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cmdhub", "config.yaml")
}
