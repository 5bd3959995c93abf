package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/tb-gate/internal/audit"
	"github.com/tinkerbelle-io/tb-gate/internal/logging"
	"github.com/tinkerbelle-io/tb-gate/internal/switchboard"
)

var deprovisionCmd = &cobra.Command{
	Use:   "deprovision <account>",
	Short: "Remove a gated account's command surface",
	Long: `Remove an account's command surface and switchboard. Archived sessions
are never touched: the audit trail outlives the account.

Other accounts' switchboards are then pruned, dropping handles whose
target no longer resolves.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeprovision,
}

func init() {
	rootCmd.AddCommand(deprovisionCmd)
}

func runDeprovision(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel, flagLogFormat)
	log := logging.Component("deprovision")
	account := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	accountDir := cfg.AccountDir(account)
	if _, err := os.Stat(accountDir); os.IsNotExist(err) {
		return fmt.Errorf("account %q is not provisioned", account)
	}
	if err := os.RemoveAll(accountDir); err != nil {
		return fmt.Errorf("remove account dir: %w", err)
	}

	pruned := pruneSwitchboards(cfg.AccountsDir(), account, log)

	if auditLog, err := openAudit(cfg); err == nil {
		defer auditLog.Close()
		_ = auditLog.Log(audit.Event{
			Type:      audit.EventDeprovision,
			Principal: account,
			Detail:    fmt.Sprintf("pruned %d stale switch handles", pruned),
		})
	} else {
		log.Warn("audit log unavailable", "error", err)
	}

	fmt.Printf("deprovisioned %s\n", account)
	return nil
}

// pruneSwitchboards sweeps every remaining account's switchboard for
// handles that no longer resolve to an existing account.
func pruneSwitchboards(accountsDir, removed string, log *slog.Logger) int {
	entries, err := os.ReadDir(accountsDir)
	if err != nil {
		return 0
	}

	board := switchboard.New(nil)
	total := 0
	for _, e := range entries {
		if !e.IsDir() || e.Name() == removed {
			continue
		}
		n, err := board.PruneDangling(filepath.Join(accountsDir, e.Name()))
		if err != nil {
			log.Warn("prune switchboard", "account", e.Name(), "error", err)
			continue
		}
		total += n
	}
	return total
}
