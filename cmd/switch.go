package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/tb-gate/internal/audit"
	"github.com/tinkerbelle-io/tb-gate/internal/logging"
	"github.com/tinkerbelle-io/tb-gate/internal/sid"
	"github.com/tinkerbelle-io/tb-gate/internal/switchboard"
)

var switchCmd = &cobra.Command{
	Use:   "switch <target>",
	Short: "Switch to another gated account from inside a session",
	Long: `Switch from the current gate session to another gated account. Only
targets with a handle on this account's switchboard are reachable; the
new session records the current SID as its parent, preserving lineage.

Normally invoked via the goto-<target> handles on the switchboard, not
directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runSwitch,
}

func init() {
	rootCmd.AddCommand(switchCmd)
}

func runSwitch(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel, flagLogFormat)
	log := logging.Component("switch")
	target := args[0]

	gateSID := os.Getenv("GATE_SID")
	if gateSID == "" {
		return errors.New("switch must be invoked from inside a gate session")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("resolve current account: %w", err)
	}

	var auditLog *audit.Logger
	if al, err := openAudit(cfg); err != nil {
		log.Warn("audit log unavailable", "error", err)
	} else {
		auditLog = al
		defer auditLog.Close()
	}
	logSwitch := func(eventType, detail string) {
		if auditLog == nil {
			return
		}
		if err := auditLog.Log(audit.Event{
			Type:      eventType,
			SID:       gateSID,
			Principal: u.Username,
			Target:    target,
			Detail:    detail,
		}); err != nil {
			log.Warn("audit append failed", "error", err)
		}
	}

	board := switchboard.New(log)
	err = board.Invoke(sid.SID(gateSID), cfg.AccountDir(u.Username), target, os.Stdin, os.Stdout, os.Stderr)
	switch {
	case errors.Is(err, switchboard.ErrNoSwitchEntry):
		logSwitch(audit.EventSwitchDenied, "no switchboard handle")
		fmt.Fprintf(os.Stderr, "tb-gate: switch to %q denied\n", target)
		return err
	case errors.Is(err, switchboard.ErrTargetNotFound):
		logSwitch(audit.EventSwitchDenied, "target account does not exist")
		fmt.Fprintf(os.Stderr, "tb-gate: target account %q does not exist\n", target)
		return err
	case err != nil:
		logSwitch(audit.EventSwitchDenied, err.Error())
		return err
	}

	logSwitch(audit.EventSwitch, "")
	return nil
}
