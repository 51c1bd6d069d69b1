package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.ini"))
	if err != nil {
		t.Fatalf("Load() returned an error: %v", err)
	}
	if cfg.ControlConf.Port != 9051 {
		t.Errorf("Expected default control port 9051, got %d", cfg.ControlConf.Port)
	}
	if cfg.FallbackConf.MaxRetries != 4 {
		t.Errorf("Expected default max retries 4, got %d", cfg.FallbackConf.MaxRetries)
	}
	if cfg.BridgeConf.Transport != "obfs4" {
		t.Errorf("Expected default transport obfs4, got %q", cfg.BridgeConf.Transport)
	}
}

func TestLoad_IniOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrer.ini")
	content := `[control]
port = 9151

[bridges]
transport = snowflake
store_path = /tmp/bridges.conf
mimic_browser_tls = true

[log]
level = debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned an error: %v", err)
	}
	if cfg.ControlConf.Port != 9151 {
		t.Errorf("Expected port 9151, got %d", cfg.ControlConf.Port)
	}
	if cfg.ControlConf.TimeoutSeconds != 30 {
		t.Errorf("Expected untouched timeout 30, got %d", cfg.ControlConf.TimeoutSeconds)
	}
	if cfg.BridgeConf.Transport != "snowflake" || !cfg.BridgeConf.MimicBrowserTLS {
		t.Errorf("Bridge section not mapped: %+v", cfg.BridgeConf)
	}
	if cfg.LogConf.Level != "debug" {
		t.Errorf("Expected log level debug, got %q", cfg.LogConf.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv(EnvControlPort, "19051")
	t.Setenv(EnvCookiePath, "/tmp/cookie")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.ini"))
	if err != nil {
		t.Fatalf("Load() returned an error: %v", err)
	}
	if cfg.ControlConf.Port != 19051 {
		t.Errorf("Expected env port 19051, got %d", cfg.ControlConf.Port)
	}
	if cfg.ControlConf.CookiePath != "/tmp/cookie" {
		t.Errorf("Expected env cookie path, got %q", cfg.ControlConf.CookiePath)
	}
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrer.ini")
	if err := os.WriteFile(path, []byte("[control]\nport = 70000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected an error for an out-of-range control port")
	}
}
