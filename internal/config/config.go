// Package config loads the coordinator configuration: an optional YAML file
// overridden by TM_* environment variables. Every protocol tunable has a
// default, so an empty config is a valid Scoreboard setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DeviceID   string `yaml:"device_id"`
	DeviceName string `yaml:"device_name"`

	// BridgeURL is the websocket radio bridge the device meshes through.
	BridgeURL string `yaml:"bridge_url"`

	// RedisURL selects the Redis state store; empty means files in DataDir.
	RedisURL string `yaml:"redis_url"`
	DataDir  string `yaml:"data_dir"`

	// DiagAddr is the read-only status endpoint. Empty disables it.
	DiagAddr string `yaml:"diag_addr"`

	Protocol ProtocolConfig `yaml:"protocol"`
}

// ProtocolConfig carries the coordination-layer tunables.
type ProtocolConfig struct {
	AcceptTimeout     time.Duration `yaml:"accept_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	LivenessThreshold time.Duration `yaml:"liveness_threshold"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RejoinTimeout     time.Duration `yaml:"rejoin_timeout"`
	RetryCeiling      int           `yaml:"retry_ceiling"`
	Retention         time.Duration `yaml:"retention"`
}

func defaults() *Config {
	return &Config{
		DataDir:  "data",
		DiagAddr: "127.0.0.1:8099",
		Protocol: ProtocolConfig{
			AcceptTimeout:     10 * time.Second,
			SweepInterval:     10 * time.Second,
			LivenessThreshold: 30 * time.Second,
			DialTimeout:       10 * time.Second,
			BackoffBase:       1 * time.Second,
			BackoffMultiplier: 2,
			MaxAttempts:       5,
			RejoinTimeout:     5 * time.Second,
			RetryCeiling:      3,
			Retention:         24 * time.Hour,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), applies TM_* environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.DeviceID == "" {
		return nil, errors.New("device_id is required (TM_DEVICE_ID)")
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = cfg.DeviceID
	}
	if cfg.BridgeURL == "" {
		return nil, errors.New("bridge_url is required (TM_BRIDGE_URL)")
	}
	if cfg.Protocol.BackoffMultiplier < 1 {
		return nil, errors.New("protocol.backoff_multiplier must be >= 1")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DeviceID, "TM_DEVICE_ID")
	setString(&cfg.DeviceName, "TM_DEVICE_NAME")
	setString(&cfg.BridgeURL, "TM_BRIDGE_URL")
	setString(&cfg.RedisURL, "TM_REDIS_URL")
	setString(&cfg.DataDir, "TM_DATA_DIR")
	setString(&cfg.DiagAddr, "TM_DIAG_ADDR")

	setDuration(&cfg.Protocol.AcceptTimeout, "TM_ACCEPT_TIMEOUT")
	setDuration(&cfg.Protocol.SweepInterval, "TM_SWEEP_INTERVAL")
	setDuration(&cfg.Protocol.LivenessThreshold, "TM_LIVENESS_THRESHOLD")
	setDuration(&cfg.Protocol.DialTimeout, "TM_DIAL_TIMEOUT")
	setDuration(&cfg.Protocol.BackoffBase, "TM_BACKOFF_BASE")
	setFloat(&cfg.Protocol.BackoffMultiplier, "TM_BACKOFF_MULTIPLIER")
	setInt(&cfg.Protocol.MaxAttempts, "TM_MAX_ATTEMPTS")
	setDuration(&cfg.Protocol.RejoinTimeout, "TM_REJOIN_TIMEOUT")
	setInt(&cfg.Protocol.RetryCeiling, "TM_RETRY_CEILING")
	setDuration(&cfg.Protocol.Retention, "TM_RETENTION")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
