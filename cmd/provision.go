package cmd

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/tb-gate/internal/audit"
	"github.com/tinkerbelle-io/tb-gate/internal/install"
	"github.com/tinkerbelle-io/tb-gate/internal/keys"
	"github.com/tinkerbelle-io/tb-gate/internal/logging"
	"github.com/tinkerbelle-io/tb-gate/internal/role"
	"github.com/tinkerbelle-io/tb-gate/internal/surface"
	"github.com/tinkerbelle-io/tb-gate/internal/switchboard"
)

var (
	flagProvisionRole   string
	flagProvisionGates  []string
	flagProvisionPubkey string
)

var provisionCmd = &cobra.Command{
	Use:   "provision <account>",
	Short: "Materialize a gated account's command surface",
	Long: `Provision a gated account: build its command surface from the given
role, lay out switchboard handles for any reachable gate accounts, and
optionally install a forced-command authorized_keys entry so SSH
connections land in the session controller.

Re-provisioning swaps the surface atomically; sessions already running
keep resolving commands throughout.`,
	Args: cobra.ExactArgs(1),
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().StringVar(&flagProvisionRole, "role", "", "Role whose commands the account may run (required)")
	provisionCmd.Flags().StringSliceVar(&flagProvisionGates, "gate", nil, "Gated accounts reachable via switch handles")
	provisionCmd.Flags().StringVar(&flagProvisionPubkey, "pubkey", "", "Public key file to install as a forced-command entry")
	_ = provisionCmd.MarkFlagRequired("role")
	rootCmd.AddCommand(provisionCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel, flagLogFormat)
	log := logging.Component("provision")
	account := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// An unknown role must fail before anything is touched: a typo'd
	// role name silently granting the builtin default would widen
	// access instead of narrowing it.
	registry, err := role.Load(cfg.RolesFile)
	if err != nil {
		return err
	}
	r, err := registry.Lookup(flagProvisionRole)
	if err != nil {
		return fmt.Errorf("%w (known roles: %s)", err, strings.Join(registry.Names(), ", "))
	}

	if _, err := user.Lookup(account); err != nil {
		return fmt.Errorf("account %q does not exist on this host: %w", account, err)
	}

	accountDir := cfg.AccountDir(account)
	if err := os.MkdirAll(accountDir, 0755); err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}

	builder := surface.NewBuilder(log)
	if err := builder.Materialize(accountDir, r); err != nil {
		return err
	}

	if len(flagProvisionGates) > 0 {
		board := switchboard.New(log)
		if err := board.Materialize(accountDir, flagProvisionGates); err != nil {
			return err
		}
	}

	if flagProvisionPubkey != "" {
		if err := installForcedKey(account, flagProvisionPubkey); err != nil {
			return err
		}
	}

	if auditLog, err := openAudit(cfg); err == nil {
		defer auditLog.Close()
		_ = auditLog.Log(audit.Event{
			Type:      audit.EventProvision,
			Principal: account,
			Detail:    fmt.Sprintf("role=%s gates=%s", flagProvisionRole, strings.Join(flagProvisionGates, ",")),
		})
	} else {
		log.Warn("audit log unavailable", "error", err)
	}

	cmds, _ := surface.Read(accountDir)
	fmt.Printf("provisioned %s with role %s (%d commands)\n", account, flagProvisionRole, len(cmds))
	return nil
}

func installForcedKey(account, pubkeyPath string) error {
	pubkey, err := os.ReadFile(pubkeyPath)
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}
	binPath, err := install.BinaryPath()
	if err != nil {
		return err
	}
	entry, err := keys.ForcedEntry(pubkey, binPath)
	if err != nil {
		return err
	}
	u, err := user.Lookup(account)
	if err != nil {
		return fmt.Errorf("lookup account %q: %w", account, err)
	}
	return keys.Install(u.HomeDir, entry)
}
