package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Home != "/var/lib/tb-gate" {
		t.Errorf("unexpected home: %s", cfg.Home)
	}
	if cfg.Shell != "/bin/bash" {
		t.Errorf("unexpected shell: %s", cfg.Shell)
	}
	if cfg.SweepMaxAge.Duration() != time.Hour {
		t.Errorf("unexpected sweep max age: %s", cfg.SweepMaxAge.Duration())
	}
	if cfg.AuditLog != "/var/lib/tb-gate/audit.log" {
		t.Errorf("unexpected audit log: %s", cfg.AuditLog)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `home: /srv/gate
shell: /bin/rbash
sweep_max_age: 30m
monitor_listen: 127.0.0.1:9000
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Home != "/srv/gate" {
		t.Errorf("unexpected home: %s", cfg.Home)
	}
	if cfg.Shell != "/bin/rbash" {
		t.Errorf("unexpected shell: %s", cfg.Shell)
	}
	if cfg.SweepMaxAge.Duration() != 30*time.Minute {
		t.Errorf("unexpected sweep max age: %s", cfg.SweepMaxAge.Duration())
	}
	if cfg.MonitorListen != "127.0.0.1:9000" {
		t.Errorf("unexpected monitor listen: %s", cfg.MonitorListen)
	}
	if cfg.AuditLog != "/srv/gate/audit.log" {
		t.Errorf("audit log should default under home: %s", cfg.AuditLog)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TB_GATE_HOME", "/tmp/gate-env")
	t.Setenv("TB_GATE_SWEEP_MAX_AGE", "15m")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Home != "/tmp/gate-env" {
		t.Errorf("env override ignored: %s", cfg.Home)
	}
	if cfg.SweepMaxAge.Duration() != 15*time.Minute {
		t.Errorf("env sweep max age ignored: %s", cfg.SweepMaxAge.Duration())
	}
}

func TestLoadBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("sweep_max_age: soon\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestAccountDir(t *testing.T) {
	cfg := &Config{Home: "/srv/gate"}
	if got := cfg.AccountDir("alice"); got != "/srv/gate/accounts/alice" {
		t.Errorf("unexpected account dir: %s", got)
	}
}
