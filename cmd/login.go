package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/tb-gate/internal/audit"
	"github.com/tinkerbelle-io/tb-gate/internal/logging"
	"github.com/tinkerbelle-io/tb-gate/internal/seal"
	"github.com/tinkerbelle-io/tb-gate/internal/session"
	"github.com/tinkerbelle-io/tb-gate/internal/sid"
	"github.com/tinkerbelle-io/tb-gate/internal/store"
	"github.com/tinkerbelle-io/tb-gate/internal/surface"
	"github.com/tinkerbelle-io/tb-gate/internal/switchboard"
)

var (
	flagLoginParent string
	flagLoginPeer   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run a recorded, restricted session for the current account",
	Long: `Run the forced-login session controller. This is the command= target in
gated authorized_keys entries; it assigns a session identifier, records
every command and all terminal output, and confines the account to its
materialized command surface.

If the session record cannot be created the connection is refused: an
unrecordable session never gets a shell.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&flagLoginParent, "parent", "", "SID of the session this one was switched from")
	loginCmd.Flags().StringVar(&flagLoginPeer, "peer", "", "Peer override (default: derived from the SSH environment)")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel, flagLogFormat)
	log := logging.Component("login")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("resolve current account: %w", err)
	}
	principal := u.Username
	peer := resolvePeer()
	if flagLoginPeer != "" {
		peer = sid.NormalizePeer(flagLoginPeer)
	}

	st, err := store.New(cfg.SessionsDir())
	if err != nil {
		return err
	}

	// Auditing and sealing are supplemental: a session that cannot be
	// audit-logged is still recorded in full by the store.
	var auditLog *audit.Logger
	if al, err := openAudit(cfg); err != nil {
		log.Warn("audit log unavailable", "error", err)
	} else {
		auditLog = al
		defer auditLog.Close()
	}

	var sealer session.Sealer
	if cfg.SealKey != "" {
		s, err := seal.Load(cfg.SealKey)
		if err != nil {
			log.Warn("transcript sealing disabled", "error", err)
		} else {
			sealer = s
		}
	}

	accountDir := cfg.AccountDir(principal)
	var extraPath []string
	if _, err := os.Stat(switchboard.Dir(accountDir)); err == nil {
		extraPath = append(extraPath, switchboard.Dir(accountDir))
	}

	ctl := session.New(session.Config{
		Store:      st,
		Audit:      auditLog,
		Sealer:     sealer,
		Principal:  principal,
		Peer:       peer,
		ParentSID:  flagLoginParent,
		Shell:      cfg.Shell,
		SurfaceDir: surface.Dir(accountDir),
		ExtraPath:  extraPath,
		Log:        log,
	})

	if err := ctl.Run(context.Background()); err != nil {
		if errors.Is(err, session.ErrRefused) {
			fmt.Fprintln(os.Stderr, "tb-gate: connection refused: session could not be recorded")
		}
		return err
	}
	return nil
}

// resolvePeer derives the connecting peer from the SSH environment.
// Sessions started outside sshd (console, su) count as local.
func resolvePeer() string {
	for _, env := range []string{"SSH_CONNECTION", "SSH_CLIENT"} {
		if v := os.Getenv(env); v != "" {
			return sid.NormalizePeer(v)
		}
	}
	return sid.LocalPeer
}
