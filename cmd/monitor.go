package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/tb-gate/internal/logging"
	"github.com/tinkerbelle-io/tb-gate/internal/monitor"
	"github.com/tinkerbelle-io/tb-gate/internal/store"
)

var flagMonitorListen string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve a read-only live view of active sessions",
	Long: `Serve active session summaries over HTTP and live transcript tails over
websocket. Read-only; bind it to loopback and front it with your own
access control if it must be reachable off-host.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&flagMonitorListen, "listen", "", "Listen address (default from config)")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel, flagLogFormat)
	log := logging.Component("monitor")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.New(cfg.SessionsDir())
	if err != nil {
		return err
	}

	addr := cfg.MonitorListen
	if flagMonitorListen != "" {
		addr = flagMonitorListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return monitor.New(st, log).ListenAndServe(ctx, addr)
}
