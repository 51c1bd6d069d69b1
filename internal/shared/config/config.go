package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/ini.v1"
	"torrer/internal/shared/types"
)

// Environment overrides, applied after the ini file.
const (
	EnvControlPort = "TORRER_CONTROL_PORT"
	EnvCookiePath  = "TORRER_COOKIE_PATH"
	EnvBridgeStore = "TORRER_BRIDGE_STORE"
)

// Default 返回内置默认配置，ini 文件中缺失的键保留这些值。
func Default() *types.Config {
	return &types.Config{
		ControlConf: types.ControlConf{
			Port:           9051,
			CookiePath:     "/var/run/tor/control.authcookie",
			TimeoutSeconds: 30,
		},
		FallbackConf: types.FallbackConf{
			HealthCheckTimeoutSeconds: 30,
			CheckIntervalSeconds:      60,
			BridgeTimeoutSeconds:      60,
			MaxRetries:                4,
			InitialBackoffSeconds:     1,
		},
		BridgeConf: types.BridgeConf{
			StorePath:            "/etc/tor/torrer-bridges/bridges.conf",
			Transport:            "obfs4",
			MoatURL:              "https://bridges.torproject.org/moat/circumvention/bridges",
			ProbeTimeoutSeconds:  5,
			ProbeConcurrency:     5,
			CollectIntervalHours: 6,
		},
		LogConf: types.LogConf{
			Level: "info",
		},
	}
}

// Load 读取 torrer.ini。文件不存在时返回默认配置。
func Load(fileName string) (*types.Config, error) {
	cfg := Default()
	if err := LoadIni(cfg, fileName); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadIni maps the ini file onto cfg, leaving keys absent from the file untouched.
func LoadIni(cfg *types.Config, fileName string) error {
	if _, err := os.Stat(fileName); err != nil {
		return err
	}
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", fileName, err)
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return fmt.Errorf("failed to map %s: %w", fileName, err)
	}
	return nil
}

// Validate rejects values the components cannot work with.
func Validate(cfg *types.Config) error {
	if cfg.ControlConf.Port < 1 || cfg.ControlConf.Port > 65535 {
		return fmt.Errorf("control port %d out of range", cfg.ControlConf.Port)
	}
	if cfg.FallbackConf.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", cfg.FallbackConf.MaxRetries)
	}
	if cfg.BridgeConf.StorePath == "" {
		return errors.New("bridges.store_path must not be empty")
	}
	if cfg.BridgeConf.Transport == "" {
		return errors.New("bridges.transport must not be empty")
	}
	return nil
}

func applyEnvOverrides(cfg *types.Config) {
	overrideFromEnvInt(&cfg.ControlConf.Port, EnvControlPort)
	overrideFromEnvString(&cfg.ControlConf.CookiePath, EnvCookiePath)
	overrideFromEnvString(&cfg.BridgeConf.StorePath, EnvBridgeStore)
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
