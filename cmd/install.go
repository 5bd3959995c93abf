package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/tb-gate/internal/install"
	"github.com/tinkerbelle-io/tb-gate/internal/logging"
)

var flagSweepInterval time.Duration

var installSweepCmd = &cobra.Command{
	Use:   "install-sweep",
	Short: "Schedule the periodic session sweep with the service manager",
	Long: `Register a periodic sweep with systemd (Linux) or launchd (macOS) so
abandoned sessions are recovered without operator intervention.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Setup(flagLogLevel, flagLogFormat)
		if err := install.InstallSweep(configPath(), flagSweepInterval); err != nil {
			return err
		}
		fmt.Printf("sweep scheduled every %s\n", flagSweepInterval)
		return nil
	},
}

var uninstallSweepCmd = &cobra.Command{
	Use:   "uninstall-sweep",
	Short: "Remove the scheduled session sweep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Setup(flagLogLevel, flagLogFormat)
		if err := install.UninstallSweep(); err != nil {
			return err
		}
		fmt.Println("sweep schedule removed")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sweep schedule status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		s := install.Status()
		fmt.Printf("Platform:   %s\n", s.Platform)
		fmt.Printf("Binary:     %s\n", s.BinaryPath)
		fmt.Printf("Unit:       %s\n", s.UnitPath)
		fmt.Printf("Installed:  %v\n", s.Installed)
		fmt.Printf("Scheduled:  %v\n", s.Scheduled)
	},
}

func init() {
	installSweepCmd.Flags().DurationVar(&flagSweepInterval, "interval", 15*time.Minute, "How often the sweep runs")
	rootCmd.AddCommand(installSweepCmd)
	rootCmd.AddCommand(uninstallSweepCmd)
	rootCmd.AddCommand(statusCmd)
}
