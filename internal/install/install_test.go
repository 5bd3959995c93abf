package install

import (
	"strings"
	"testing"
	"time"
)

func TestSystemdServiceContent(t *testing.T) {
	unit := SystemdService("/usr/local/bin/tb-gate", "/etc/tb-gate/config.yaml")

	checks := []struct {
		name     string
		contains string
	}{
		{"description", "stale session sweep"},
		{"exec start", "ExecStart=/usr/local/bin/tb-gate sweep --config /etc/tb-gate/config.yaml"},
		{"oneshot", "Type=oneshot"},
		{"no new privs", "NoNewPrivileges=true"},
		{"protect system", "ProtectSystem=strict"},
		{"store writable", "ReadWritePaths=/var/lib/tb-gate"},
	}

	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if !strings.Contains(unit, c.contains) {
				t.Errorf("unit file missing %q", c.contains)
			}
		})
	}
}

func TestSystemdTimerContent(t *testing.T) {
	timer := SystemdTimer(15 * time.Minute)

	checks := []struct {
		name     string
		contains string
	}{
		{"boot delay", "OnBootSec=15m0s"},
		{"interval", "OnUnitActiveSec=15m0s"},
		{"wanted by", "WantedBy=timers.target"},
	}

	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if !strings.Contains(timer, c.contains) {
				t.Errorf("timer file missing %q", c.contains)
			}
		})
	}
}

func TestLaunchdPlistContent(t *testing.T) {
	plist := LaunchdPlist("/usr/local/bin/tb-gate", "/etc/tb-gate/config.yaml", 15*time.Minute)

	checks := []struct {
		name     string
		contains string
	}{
		{"label", "io.tinkerbelle.tb-gate-sweep"},
		{"binary path", "/usr/local/bin/tb-gate"},
		{"sweep arg", "<string>sweep</string>"},
		{"config arg", "/etc/tb-gate/config.yaml"},
		{"start interval", "<integer>900</integer>"},
		{"stdout log", "/var/log/tb-gate-sweep.log"},
		{"stderr log", "/var/log/tb-gate-sweep.err"},
		{"plist dtd", "PropertyList-1.0.dtd"},
	}

	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if !strings.Contains(plist, c.contains) {
				t.Errorf("plist missing %q", c.contains)
			}
		})
	}
}

func TestSystemdServiceCustomBinary(t *testing.T) {
	unit := SystemdService("/opt/tb-gate/bin/tb-gate", "/etc/tb-gate/config.yaml")
	if !strings.Contains(unit, "ExecStart=/opt/tb-gate/bin/tb-gate") {
		t.Error("unit file should use custom binary path")
	}
}

func TestServiceName(t *testing.T) {
	if ServiceName != "tb-gate-sweep" {
		t.Errorf("expected service name 'tb-gate-sweep', got %q", ServiceName)
	}
}
