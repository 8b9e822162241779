package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// mockEnv creates an environment lookup function from a map.
func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.Dispatcher.RatePerSecond != 1000 {
		t.Errorf("DefaultConfig() Dispatcher.RatePerSecond = %v, want 1000", cfg.Dispatcher.RatePerSecond)
	}
	if cfg.Dispatcher.L1Capacity != 10_000 {
		t.Errorf("DefaultConfig() Dispatcher.L1Capacity = %d, want 10000", cfg.Dispatcher.L1Capacity)
	}
	if cfg.Stream.BufferSize != 1000 {
		t.Errorf("DefaultConfig() Stream.BufferSize = %d, want 1000", cfg.Stream.BufferSize)
	}
	if cfg.Mount.AllowOther != false {
		t.Error("DefaultConfig() Mount.AllowOther should be false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("DefaultConfig() Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Session.HMACSecret != "" {
		t.Errorf("DefaultConfig() Session.HMACSecret should be empty, got %q", cfg.Session.HMACSecret)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "cmdhub")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
dispatcher:
  rate_per_second: 500
  l1_capacity: 2000
  l3_confidence_threshold: 0.9
  expert_timeout: 10s
  expert_queue_capacity: 50
session:
  hmac_secret: "file_secret"
stream:
  buffer_size: 200
mount:
  default_path: ~/proj
  allow_other: true
log:
  level: debug
  file: /var/log/cmdhub.log
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Dispatcher.RatePerSecond != 500 {
		t.Errorf("Dispatcher.RatePerSecond = %v, want 500", cfg.Dispatcher.RatePerSecond)
	}
	if cfg.Session.HMACSecret != "file_secret" {
		t.Errorf("Session.HMACSecret = %q, want file_secret", cfg.Session.HMACSecret)
	}
	if cfg.Stream.BufferSize != 200 {
		t.Errorf("Stream.BufferSize = %d, want 200", cfg.Stream.BufferSize)
	}
	if cfg.Mount.DefaultPath != "~/proj" {
		t.Errorf("Mount.DefaultPath = %q, want ~/proj", cfg.Mount.DefaultPath)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Dispatcher.ExpertTimeout != 10*time.Second {
		t.Errorf("Dispatcher.ExpertTimeout = %v, want 10s", cfg.Dispatcher.ExpertTimeout)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "cmdhub")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `session:
  hmac_secret: "file_secret"`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME":       tmpDir,
		"CMDHUB_SESSION_SECRET": "env_secret",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Session.HMACSecret != "env_secret" {
		t.Errorf("Session.HMACSecret = %q, want env_secret (env override)", cfg.Session.HMACSecret)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Dispatcher.RatePerSecond != 1000 {
		t.Errorf("LoadWithEnv() without file should use default RatePerSecond, got %v", cfg.Dispatcher.RatePerSecond)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() without file should use default Log.Level, got %q", cfg.Log.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "cmdhub")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	invalidContent := `
session: [this is invalid yaml
dispatcher:
  rate_per_second: not a number
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	_, err := LoadWithEnv(env)
	if err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return error")
	}
}

func TestGetConfigPathXDG(t *testing.T) {
	t.Parallel()
	tmpDir := "/custom/config/path"

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	path := getConfigPathWithEnv(env)
	expected := filepath.Join(tmpDir, "cmdhub", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestGetConfigPathFallback(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})

	path := getConfigPathWithEnv(env)
	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".config", "cmdhub", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "cmdhub")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
dispatcher:
  rate_per_second: 250
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Dispatcher.RatePerSecond != 250 {
		t.Errorf("Dispatcher.RatePerSecond = %v, want 250", cfg.Dispatcher.RatePerSecond)
	}
	// Default preserved for fields the file didn't set.
	if cfg.Dispatcher.L1Capacity != 10_000 {
		t.Errorf("Dispatcher.L1Capacity = %d, want 10000 (default)", cfg.Dispatcher.L1Capacity)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q (default)", cfg.Log.Level, "info")
	}
}
