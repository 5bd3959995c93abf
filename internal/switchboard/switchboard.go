// Package switchboard manages switch dispatch: one runnable handle per
// reachable target account inside the gate account's command surface.
// Invoking a handle performs a privilege transition into the target and
// nests a new audited session under the gate session's SID.
//
// Handles are published the same way command surfaces are: built into a
// fresh generation directory and swapped in with one symlink rename, so
// shells reading the switch directory never block on, or observe, a
// rebuild in progress.
package switchboard

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tinkerbelle-io/tb-gate/internal/sid"
)

var (
	// ErrNoSwitchEntry means the gate account has no handle for the
	// target: a permission failure, logged as security-relevant.
	ErrNoSwitchEntry = errors.New("switchboard: no switch entry for target")

	// ErrTargetNotFound means the handle exists but the target account
	// does not (deleted since the last prune).
	ErrTargetNotFound = errors.New("switchboard: target account not found")
)

// Link is the published switch directory inside a gate account dir.
const Link = "switch"

// HandlePrefix names switch handles: goto-<target>.
const HandlePrefix = "goto-"

const genPrefix = "switch."

// Board builds and dispatches switch handles.
type Board struct {
	// Binary is the tb-gate executable the handles invoke.
	Binary string

	// LookupUser reports whether an account exists on the host.
	// Overridable for tests; defaults to os/user.
	LookupUser func(name string) error

	// RunAs performs the privilege transition. Overridable for tests;
	// defaults to sudo.
	RunAs func(target string, args []string, stdin io.Reader, stdout, stderr io.Writer) error

	Log *slog.Logger
}

// New returns a Board bound to the running executable.
func New(log *slog.Logger) *Board {
	bin, err := os.Executable()
	if err != nil {
		bin = "tb-gate"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Board{
		Binary:     bin,
		LookupUser: lookupUser,
		RunAs:      runAsSudo,
		Log:        log.With("component", "switchboard"),
	}
}

func lookupUser(name string) error {
	_, err := user.Lookup(name)
	var unknown user.UnknownUserError
	if errors.As(err, &unknown) {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, name)
	}
	return err
}

// runAsSudo is the default privilege-elevation primitive: a confined
// run-as through sudo, inheriting the caller's terminal.
func runAsSudo(target string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.Command("sudo", append([]string{"-u", target, "--"}, args...)...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Materialize rebuilds the gate account's switch handles to exactly the
// given target set. Targets that do not exist on the host are skipped
// with a warning.
func (b *Board) Materialize(accountDir string, targets []string) error {
	if err := os.MkdirAll(accountDir, 0755); err != nil {
		return fmt.Errorf("switchboard: create account dir: %w", err)
	}

	gen := fmt.Sprintf("%s%d", genPrefix, time.Now().UnixNano())
	genPath := filepath.Join(accountDir, gen)
	if err := os.Mkdir(genPath, 0755); err != nil {
		return fmt.Errorf("switchboard: create generation: %w", err)
	}

	for _, target := range targets {
		if err := b.LookupUser(target); err != nil {
			if errors.Is(err, ErrTargetNotFound) {
				b.Log.Warn("switch target does not exist, skipping", "target", target)
				continue
			}
			return fmt.Errorf("switchboard: lookup %s: %w", target, err)
		}
		if err := b.writeHandle(genPath, target); err != nil {
			return err
		}
	}

	if err := publish(accountDir, gen); err != nil {
		return err
	}
	pruneGenerations(accountDir, gen)
	return nil
}

func (b *Board) writeHandle(genPath, target string) error {
	script := fmt.Sprintf("#!/bin/sh\nexec %q switch %q\n", b.Binary, target)
	path := filepath.Join(genPath, HandlePrefix+target)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return fmt.Errorf("switchboard: write handle for %s: %w", target, err)
	}
	return nil
}

func publish(accountDir, gen string) error {
	tmp := filepath.Join(accountDir, Link+".next")
	_ = os.Remove(tmp)
	if err := os.Symlink(gen, tmp); err != nil {
		return fmt.Errorf("switchboard: stage link: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(accountDir, Link)); err != nil {
		return fmt.Errorf("switchboard: publish: %w", err)
	}
	return nil
}

func pruneGenerations(accountDir, current string) {
	entries, err := os.ReadDir(accountDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() && strings.HasPrefix(name, genPrefix) && name != current {
			_ = os.RemoveAll(filepath.Join(accountDir, name))
		}
	}
}

// Dir returns the published switch directory for an account dir.
func Dir(accountDir string) string {
	return filepath.Join(accountDir, Link)
}

// Entries returns the target names the gate account can switch to,
// sorted. A missing switch directory is an empty set, not an error.
func (b *Board) Entries(accountDir string) ([]string, error) {
	files, err := os.ReadDir(Dir(accountDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("switchboard: read entries: %w", err)
	}

	targets := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Name(), HandlePrefix) {
			targets = append(targets, strings.TrimPrefix(f.Name(), HandlePrefix))
		}
	}
	sort.Strings(targets)
	return targets, nil
}

// PruneDangling removes handles whose target account no longer exists,
// republishing the surviving set atomically. Safe to run concurrently
// with Invoke: an in-flight invocation re-checks target existence at
// the transition point rather than trusting its handle.
func (b *Board) PruneDangling(accountDir string) (int, error) {
	targets, err := b.Entries(accountDir)
	if err != nil {
		return 0, err
	}
	if targets == nil {
		return 0, nil
	}

	kept := make([]string, 0, len(targets))
	pruned := 0
	for _, target := range targets {
		err := b.LookupUser(target)
		switch {
		case err == nil:
			kept = append(kept, target)
		case errors.Is(err, ErrTargetNotFound):
			b.Log.Info("pruning dangling switch entry", "target", target)
			pruned++
		default:
			return pruned, fmt.Errorf("switchboard: lookup %s: %w", target, err)
		}
	}

	if pruned == 0 {
		return 0, nil
	}
	if err := b.Materialize(accountDir, kept); err != nil {
		return pruned, err
	}
	return pruned, nil
}

// Invoke performs the switch: handle check, fresh target existence
// check, then the privilege transition into a nested login whose
// session records the gate session as parent.
func (b *Board) Invoke(gateSID sid.SID, accountDir, target string, stdin io.Reader, stdout, stderr io.Writer) error {
	handle := filepath.Join(Dir(accountDir), HandlePrefix+target)
	if _, err := os.Stat(handle); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoSwitchEntry, target)
		}
		return fmt.Errorf("switchboard: check handle: %w", err)
	}

	// The handle may be stale: re-check the account at the point of
	// transition so a prune racing this call cannot hand the shell to
	// a deleted target.
	if err := b.LookupUser(target); err != nil {
		return err
	}

	b.Log.Info("switching", "target", target, "parent", gateSID)
	args := []string{b.Binary, "login", "--parent", string(gateSID)}
	if err := b.RunAs(target, args, stdin, stdout, stderr); err != nil {
		return fmt.Errorf("switchboard: transition to %s: %w", target, err)
	}
	return nil
}
