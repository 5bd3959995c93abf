package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/tb-gate/internal/logging"
	"github.com/tinkerbelle-io/tb-gate/internal/sid"
	"github.com/tinkerbelle-io/tb-gate/internal/store"
)

var (
	flagSessionsArchived bool
	flagSessionsLast     string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [sid]",
	Short: "List sessions or print a session transcript",
	Long: `List active sessions, list the archive, or print one session's full
transcript by SID.

--last prints a summary of an account's most recent archived session;
the gate-lastlog builtin on every command surface calls this.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&flagSessionsArchived, "archived", false, "List archived sessions instead of active ones")
	sessionsCmd.Flags().StringVar(&flagSessionsLast, "last", "", "Summarize the most recent archived session for an account")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel, flagLogFormat)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.New(cfg.SessionsDir())
	if err != nil {
		return err
	}

	if len(args) == 1 {
		return printTranscript(st, sid.SID(args[0]))
	}
	if flagSessionsLast != "" {
		return printLast(st, flagSessionsLast)
	}
	if flagSessionsArchived {
		metas, err := st.ListArchived()
		if err != nil {
			return err
		}
		return printArchived(metas)
	}
	metas, err := st.ListActive()
	if err != nil {
		return err
	}
	return printActive(metas)
}

func printTranscript(st *store.Store, id sid.SID) error {
	data, err := st.Transcript(id)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func printActive(metas []store.Meta) error {
	if len(metas) == 0 {
		fmt.Println("no active sessions")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SID\tPRINCIPAL\tPEER\tSTART\tPARENT")
	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			m.SID, m.Principal, m.Peer, m.Start.Format(time.RFC3339), dashIfEmpty(m.ParentSID))
	}
	return w.Flush()
}

func printArchived(metas []store.Meta) error {
	if len(metas) == 0 {
		fmt.Println("no archived sessions")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SID\tPRINCIPAL\tPEER\tSTART\tEND\tEXIT")
	for _, m := range metas {
		end := "-"
		if m.End != nil {
			end = m.End.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.SID, m.Principal, m.Peer, m.Start.Format(time.RFC3339), end, m.Exit)
	}
	return w.Flush()
}

func printLast(st *store.Store, principal string) error {
	m, ok, err := st.LastArchived(principal)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("no archived sessions for %s\n", principal)
		return nil
	}

	transcript, err := st.Transcript(sid.SID(m.SID))
	if err != nil {
		return err
	}
	commands := len(store.ParseEntries(transcript))

	fmt.Printf("last session for %s\n", principal)
	fmt.Printf("  sid:      %s\n", m.SID)
	fmt.Printf("  peer:     %s\n", m.Peer)
	fmt.Printf("  start:    %s\n", m.Start.Format(time.RFC3339))
	if m.End != nil {
		fmt.Printf("  end:      %s\n", m.End.Format(time.RFC3339))
	}
	fmt.Printf("  exit:     %s\n", m.Exit)
	fmt.Printf("  commands: %d\n", commands)
	return nil
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
