package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/tb-gate/internal/audit"
	"github.com/tinkerbelle-io/tb-gate/internal/logging"
	"github.com/tinkerbelle-io/tb-gate/internal/store"
)

var flagSweepMaxAge time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive active sessions whose controller is gone",
	Long: `Recover abandoned sessions. A controller killed without the chance to
finalize leaves its session in the active partition; the sweep archives
such sessions with an abandoned exit marker once they are older than the
configured grace period and their controller process no longer exists.

Safe to run concurrently with live sessions and other sweeps.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&flagSweepMaxAge, "max-age", 0, "Grace period override (default from config)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel, flagLogFormat)
	log := logging.Component("sweep")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.New(cfg.SessionsDir())
	if err != nil {
		return err
	}

	maxAge := cfg.SweepMaxAge.Duration()
	if flagSweepMaxAge > 0 {
		maxAge = flagSweepMaxAge
	}
	swept, err := st.SweepStale(maxAge)
	if err != nil {
		return err
	}

	if len(swept) > 0 {
		if auditLog, err := openAudit(cfg); err == nil {
			defer auditLog.Close()
			for _, id := range swept {
				_ = auditLog.Log(audit.Event{
					Type: audit.EventSweepAbandoned,
					SID:  string(id),
				})
			}
		} else {
			log.Warn("audit log unavailable", "error", err)
		}
	}

	fmt.Printf("recovered %d abandoned session(s)\n", len(swept))
	return nil
}
