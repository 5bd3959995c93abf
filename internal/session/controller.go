// Package session implements the forced-login session controller: the
// exclusive entry point for every authenticated connection. It binds a
// new session record, launches the principal's restricted shell on a
// pty, captures its command history, and finalizes the record on exit,
// including exits via signals.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/tinkerbelle-io/tb-gate/internal/audit"
	"github.com/tinkerbelle-io/tb-gate/internal/sid"
	"github.com/tinkerbelle-io/tb-gate/internal/store"
)

// ErrRefused is the only error surfaced to a connection whose session
// could not be begun. The cause is logged, never shown: fail closed at
// the boundary without leaking internals.
var ErrRefused = errors.New("session: connection refused")

// maxDisambiguate bounds SID collision retries within one second window.
const maxDisambiguate = 64

// State is the controller's lifecycle position.
type State int

const (
	Connected State = iota
	SIDAssigned
	ShellRunning
	Finalizing
	Terminated
)

func (s State) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case SIDAssigned:
		return "SID_ASSIGNED"
	case ShellRunning:
		return "SHELL_RUNNING"
	case Finalizing:
		return "FINALIZING"
	case Terminated:
		return "TERMINATED"
	}
	return "UNKNOWN"
}

// Sealer finalizes an archived session directory, e.g. by signing its
// transcript.
type Sealer interface {
	SealDir(dir string) error
}

// Config wires a Controller.
type Config struct {
	Store     *store.Store
	Audit     *audit.Logger // optional
	Sealer    Sealer        // optional
	Principal string
	Peer      string
	ParentSID string

	// Shell and ShellArgs define the restricted shell. Empty ShellArgs
	// selects the default restricted invocation with the session
	// rcfile; tests substitute a scripted command.
	Shell     string
	ShellArgs []string

	// SurfaceDir becomes the shell's entire PATH. ExtraPath entries
	// (the switch directory for gate accounts) are appended.
	SurfaceDir string
	ExtraPath  []string

	// History overrides the default FIFO-backed capture (tests).
	History HistorySource

	// Input/Output default to the controller process stdio.
	Input  io.Reader
	Output io.Writer

	Clock func() time.Time
	Log   *slog.Logger
}

// Controller drives one session through its lifecycle.
type Controller struct {
	cfg Config
	log *slog.Logger

	state    State
	id       sid.SID
	degraded atomic.Bool
	finish   sync.Once
	finalErr error
}

// New builds a Controller. Run may be called once.
func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Controller{
		cfg: cfg,
		log: cfg.Log.With("component", "session", "principal", cfg.Principal),
	}
}

// SID returns the assigned session identifier, empty before assignment.
func (c *Controller) SID() sid.SID { return c.id }

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.state }

// Run executes the full session lifecycle and blocks until the shell
// exits and the record is archived. The returned error is ErrRefused
// when no session was created; finalization failures are logged but do
// not resurrect an exited session.
func (c *Controller) Run(ctx context.Context) error {
	c.state = Connected

	if err := c.assignSID(); err != nil {
		return err
	}
	c.state = SIDAssigned
	c.auditEvent(audit.Event{
		Type: audit.EventSessionBegin, SID: string(c.id),
		Principal: c.cfg.Principal, Peer: c.cfg.Peer, Detail: c.cfg.ParentSID,
	})

	exitStatus := c.runShell(ctx)

	c.state = Finalizing
	c.finalize(exitStatus)
	c.state = Terminated
	return c.finalErr
}

// assignSID derives the session identifier and claims it in the store,
// disambiguating same-second collisions with a monotonic suffix. Any
// other begin failure refuses the connection.
func (c *Controller) assignSID() error {
	base := sid.New(c.cfg.Peer, c.cfg.Principal, c.cfg.Clock())
	id := base
	for n := 2; ; n++ {
		err := c.cfg.Store.Begin(id, c.cfg.Principal, sid.NormalizePeer(c.cfg.Peer),
			c.cfg.ParentSID, os.Getpid())
		if err == nil {
			c.id = id
			return nil
		}
		if !errors.Is(err, store.ErrSessionExists) {
			c.log.Error("session begin failed", "sid", id, "error", err)
			return ErrRefused
		}
		if n > maxDisambiguate {
			c.log.Error("sid disambiguation exhausted", "sid", base)
			return ErrRefused
		}
		id = base.Disambiguate(n)
	}
}

// runShell launches the restricted shell on a pty, wires history
// capture, and waits for exit. It always returns an exit status string;
// shell launch failure is itself an exit status, not a lost session.
func (c *Controller) runShell(ctx context.Context) string {
	scratch, err := os.MkdirTemp("", "tb-gate-session-*")
	if err != nil {
		c.log.Error("session scratch dir", "error", err)
		return "error:setup"
	}
	defer os.RemoveAll(scratch)

	src := c.cfg.History
	fifoPath := filepath.Join(scratch, "history.fifo")
	if src == nil {
		fs, err := newFifoSource(fifoPath, c.log)
		if err != nil {
			c.log.Error("history fifo", "error", err)
			return "error:setup"
		}
		src = fs
	}
	defer src.Close()

	var historyDone sync.WaitGroup
	historyDone.Add(1)
	go func() {
		defer historyDone.Done()
		c.consumeHistory(src)
	}()

	pathDirs := append([]string{c.cfg.SurfaceDir}, c.cfg.ExtraPath...)
	args := c.cfg.ShellArgs
	if args == nil {
		rc, err := writeRCFile(scratch)
		if err != nil {
			c.log.Error("session rcfile", "error", err)
			return "error:setup"
		}
		helpers, err := writeHelperDir(scratch)
		if err != nil {
			c.log.Error("session helper", "error", err)
			return "error:setup"
		}
		pathDirs = append(pathDirs, helpers)
		args = []string{"--restricted", "--rcfile", rc, "-i"}
	}

	cmd := exec.Command(c.cfg.Shell, args...)
	cmd.Env = append(os.Environ(),
		"PATH="+strings.Join(pathDirs, ":"),
		"GATE_SID="+string(c.id),
		"GATE_HISTORY_FIFO="+fifoPath,
	)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		c.log.Error("shell launch failed", "shell", c.cfg.Shell, "error", err)
		return "error:launch"
	}
	c.state = ShellRunning
	c.log.Info("shell running", "sid", c.id, "shell", c.cfg.Shell)

	// The exit trap: a signal against the gate connection must still
	// reach finalization, so forward it to the shell and let the
	// normal wait path complete.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	waitDone := make(chan struct{})
	var forwarded atomic.Value
	go func() {
		for {
			select {
			case sig := <-sigCh:
				forwarded.Store(sig)
				_ = cmd.Process.Signal(sig)
			case <-ctx.Done():
				forwarded.Store(os.Signal(syscall.SIGHUP))
				_ = cmd.Process.Signal(syscall.SIGHUP)
			case <-waitDone:
				return
			}
		}
	}()

	go func() { _, _ = io.Copy(ptmx, c.cfg.Input) }()
	go func() { _, _ = io.Copy(c.cfg.Output, ptmx) }()

	waitErr := cmd.Wait()
	close(waitDone)
	_ = ptmx.Close()

	// Let in-flight history lines drain before the transcript closes.
	_ = src.Close()
	historyDone.Wait()

	return exitStatusOf(waitErr, forwarded.Load())
}

// consumeHistory appends captured entries to the store. A failing
// append is retried once, then the session is flagged degraded; the
// user's shell is never killed over audit storage trouble.
func (c *Controller) consumeHistory(src HistorySource) {
	for entry := range src.Events() {
		err := c.cfg.Store.AppendHistory(c.id, entry)
		if err != nil {
			err = c.cfg.Store.AppendHistory(c.id, entry)
		}
		if err != nil && !errors.Is(err, store.ErrNotActive) {
			c.log.Warn("history append failed", "sid", c.id, "error", err)
			if c.degraded.CompareAndSwap(false, true) {
				if merr := c.cfg.Store.MarkDegraded(c.id); merr != nil {
					c.log.Warn("degraded flag not recorded", "sid", c.id, "error", merr)
				}
				c.auditEvent(audit.Event{
					Type: audit.EventHistoryDegraded, SID: string(c.id),
					Principal: c.cfg.Principal, Detail: err.Error(),
				})
			}
		}
	}
}

// finalize archives the session exactly once.
func (c *Controller) finalize(exitStatus string) {
	c.finish.Do(func() {
		if err := c.cfg.Store.Finalize(c.id, exitStatus); err != nil {
			if errors.Is(err, store.ErrNotActive) {
				c.log.Warn("session already finalized", "sid", c.id)
				return
			}
			c.log.Error("finalize failed", "sid", c.id, "error", err)
			c.finalErr = fmt.Errorf("session: finalize %s: %w", c.id, err)
			return
		}
		c.auditEvent(audit.Event{
			Type: audit.EventSessionEnd, SID: string(c.id),
			Principal: c.cfg.Principal, Detail: "exit " + exitStatus,
		})
		if c.cfg.Sealer != nil {
			if err := c.cfg.Sealer.SealDir(c.cfg.Store.ArchivePath(c.id)); err != nil {
				c.log.Warn("transcript seal failed", "sid", c.id, "error", err)
			}
		}
		c.log.Info("session archived", "sid", c.id, "exit", exitStatus)
	})
}

func (c *Controller) auditEvent(e audit.Event) {
	if c.cfg.Audit == nil {
		return
	}
	if err := c.cfg.Audit.Log(e); err != nil {
		c.log.Warn("audit event not recorded", "type", e.Type, "error", err)
	}
}

// exitStatusOf renders a shell wait result as the stored exit status.
func exitStatusOf(waitErr error, forwarded any) string {
	if waitErr == nil {
		return "0"
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return "signal:" + unix.SignalName(ws.Signal())
		}
		return strconv.Itoa(ee.ExitCode())
	}
	if sig, ok := forwarded.(os.Signal); ok && sig != nil {
		if s, ok := sig.(syscall.Signal); ok {
			return "signal:" + unix.SignalName(s)
		}
	}
	return "error:wait"
}
