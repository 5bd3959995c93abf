package install

import (
	"fmt"
	"os"
	"os/exec"
	"time"
)

const (
	systemdServicePath = "/etc/systemd/system/tb-gate-sweep.service"
	systemdTimerPath   = "/etc/systemd/system/tb-gate-sweep.timer"
)

// SystemdService generates the oneshot sweep service unit.
func SystemdService(binPath, configPath string) string {
	return fmt.Sprintf(`[Unit]
Description=TinkerBelle Gate stale session sweep
Documentation=https://github.com/tinkerbelle-io/tb-gate

[Service]
Type=oneshot
ExecStart=%s sweep --config %s
Environment=TB_LOG_LEVEL=info

# Security hardening
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths=/var/lib/tb-gate
PrivateTmp=true
`, binPath, configPath)
}

// SystemdTimer generates the timer unit driving the sweep service.
func SystemdTimer(interval time.Duration) string {
	return fmt.Sprintf(`[Unit]
Description=Run the TinkerBelle Gate session sweep periodically

[Timer]
OnBootSec=%s
OnUnitActiveSec=%s
AccuracySec=1m

[Install]
WantedBy=timers.target
`, interval, interval)
}

func installSystemd(binPath, configPath string, interval time.Duration) error {
	service := SystemdService(binPath, configPath)
	timer := SystemdTimer(interval)

	if err := os.WriteFile(systemdServicePath, []byte(service), 0644); err != nil {
		return fmt.Errorf("write service unit: %w", err)
	}
	if err := os.WriteFile(systemdTimerPath, []byte(timer), 0644); err != nil {
		return fmt.Errorf("write timer unit: %w", err)
	}

	if err := runCommand("systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	if err := runCommand("systemctl", "enable", "--now", ServiceName+".timer"); err != nil {
		return fmt.Errorf("enable timer: %w", err)
	}

	return nil
}

func uninstallSystemd() error {
	_ = runCommand("systemctl", "disable", "--now", ServiceName+".timer")
	_ = os.Remove(systemdTimerPath)
	_ = os.Remove(systemdServicePath)
	_ = runCommand("systemctl", "daemon-reload")
	return nil
}

func isSystemdScheduled() bool {
	cmd := exec.Command("systemctl", "is-active", "--quiet", ServiceName+".timer")
	return cmd.Run() == nil
}
