// Package config handles configuration for tb-gate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the default config file location.
const DefaultPath = "/etc/tb-gate/config.yaml"

// Duration wraps time.Duration so it can be written as "45m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Config holds all tb-gate configuration.
type Config struct {
	// Home is the state root: session partitions and per-account
	// command surfaces live beneath it.
	Home string `yaml:"home"`

	// RolesFile optionally adds or overrides roles beyond the builtins.
	RolesFile string `yaml:"roles_file"`

	// Shell is the restricted shell launched for every session.
	Shell string `yaml:"shell"`

	// SweepMaxAge is the minimum age before an active session with a
	// dead controller is recovered as abandoned.
	SweepMaxAge Duration `yaml:"sweep_max_age"`

	// AuditLog is the hash-chained security event log path.
	AuditLog string `yaml:"audit_log"`

	// SealKey is an Ed25519 seed (hex/base64) or a path to a key file.
	// Empty disables transcript sealing.
	SealKey string `yaml:"seal_key"`

	// MonitorListen is the loopback address for the live monitor.
	MonitorListen string `yaml:"monitor_listen"`
}

// Load reads the config file at path (DefaultPath when empty), applies
// environment overrides, then defaults. A missing file is not an error:
// the defaults describe a working single-host layout.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TB_GATE_HOME"); v != "" {
		c.Home = v
	}
	if v := os.Getenv("TB_GATE_ROLES_FILE"); v != "" {
		c.RolesFile = v
	}
	if v := os.Getenv("TB_GATE_SHELL"); v != "" {
		c.Shell = v
	}
	if v := os.Getenv("TB_GATE_AUDIT_LOG"); v != "" {
		c.AuditLog = v
	}
	if v := os.Getenv("TB_GATE_SEAL_KEY"); v != "" {
		c.SealKey = v
	}
	if v := os.Getenv("TB_GATE_MONITOR_LISTEN"); v != "" {
		c.MonitorListen = v
	}
	if v := os.Getenv("TB_GATE_SWEEP_MAX_AGE"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			c.SweepMaxAge = Duration(parsed)
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Home == "" {
		c.Home = "/var/lib/tb-gate"
	}
	if c.Shell == "" {
		c.Shell = "/bin/bash"
	}
	if c.SweepMaxAge == 0 {
		c.SweepMaxAge = Duration(time.Hour)
	}
	if c.AuditLog == "" {
		c.AuditLog = filepath.Join(c.Home, "audit.log")
	}
	if c.MonitorListen == "" {
		c.MonitorListen = "127.0.0.1:7177"
	}
}

// SessionsDir returns the session store root.
func (c *Config) SessionsDir() string { return filepath.Join(c.Home, "sessions") }

// AccountsDir returns the per-account surface root.
func (c *Config) AccountsDir() string { return filepath.Join(c.Home, "accounts") }

// AccountDir returns the surface directory for one account.
func (c *Config) AccountDir(account string) string {
	return filepath.Join(c.AccountsDir(), account)
}
