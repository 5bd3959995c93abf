// Package install registers the periodic stale-session sweep with the
// host's service manager: a systemd timer on Linux, a launchd job on
// macOS. The sweep itself is just `tb-gate sweep`; the units only
// schedule it.
package install

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

const (
	// ServiceName is the unit/job name for systemd and launchd.
	ServiceName = "tb-gate-sweep"
)

// ServiceStatus holds the current state of the installed sweep job.
type ServiceStatus struct {
	Installed  bool
	Scheduled  bool
	BinaryPath string
	UnitPath   string
	Platform   string
}

// BinaryPath returns the absolute path of the currently running binary.
func BinaryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	return filepath.EvalSymlinks(exe)
}

// InstallSweep schedules the sweep at the given interval for the
// current platform.
func InstallSweep(configPath string, interval time.Duration) error {
	binPath, err := BinaryPath()
	if err != nil {
		return err
	}

	switch runtime.GOOS {
	case "linux":
		return installSystemd(binPath, configPath, interval)
	case "darwin":
		return installLaunchd(binPath, configPath, interval)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// UninstallSweep removes the scheduled sweep.
func UninstallSweep() error {
	switch runtime.GOOS {
	case "linux":
		return uninstallSystemd()
	case "darwin":
		return uninstallLaunchd()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// Status returns the current sweep job status.
func Status() ServiceStatus {
	s := ServiceStatus{Platform: runtime.GOOS}

	if binPath, err := BinaryPath(); err == nil {
		s.BinaryPath = binPath
	}

	switch runtime.GOOS {
	case "linux":
		s.UnitPath = systemdTimerPath
		_, err := os.Stat(systemdTimerPath)
		s.Installed = err == nil
		s.Scheduled = isSystemdScheduled()
	case "darwin":
		s.UnitPath = launchdPlistPath()
		_, err := os.Stat(s.UnitPath)
		s.Installed = err == nil
		s.Scheduled = isLaunchdScheduled()
	}

	return s
}

// runCommand runs a command and returns any error.
func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
