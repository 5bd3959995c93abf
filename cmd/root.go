package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/tb-gate/internal/audit"
	"github.com/tinkerbelle-io/tb-gate/internal/config"
)

var (
	// Flags
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tb-gate",
	Short: "TinkerBelle bastion session gate",
	Long: `tb-gate turns a host into an auditable bastion. Every SSH connection to a
gated account is forced through a recorded, restricted shell session; the
commands each account may run are materialized per role, and switches
between gated accounts preserve session lineage.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: /etc/tb-gate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format: text, json")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("tb-gate %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

// configPath returns the config file path commands should reference in
// generated units.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.DefaultPath
}

// openAudit opens the hash-chained event log. Callers that can proceed
// without auditing treat a nil logger as "skip".
func openAudit(cfg *config.Config) (*audit.Logger, error) {
	return audit.Open(cfg.AuditLog)
}
