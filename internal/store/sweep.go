package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tinkerbelle-io/tb-gate/internal/sid"
)

// SweepStale finalizes active sessions whose controller process is gone.
// A killed controller leaves no exit path to trigger normal finalization;
// without this sweep the active partition accumulates orphans forever.
//
// Sessions younger than maxAge are never touched: a controller that has
// created the record but not yet recorded its PID must not be swept out
// from under itself. Returns the SIDs of the sessions recovered.
func (s *Store) SweepStale(maxAge time.Duration) ([]sid.SID, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, activeDir))
	if err != nil {
		return nil, fmt.Errorf("store: sweep: %w", err)
	}

	now := s.now()
	var recovered []sid.SID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		name := e.Name()
		claimed := strings.HasSuffix(name, claimSuffix)
		id := sid.SID(strings.TrimSuffix(name, claimSuffix))

		dir := filepath.Join(s.root, activeDir, name)
		meta, err := readMeta(dir)
		if err != nil {
			s.log.Warn("sweep: unreadable session record", "dir", name, "error", err)
			continue
		}
		if now.Sub(meta.Start) < maxAge {
			continue
		}
		if processAlive(meta.PID) {
			continue
		}

		var ferr error
		if claimed {
			// A finalizer claimed this session and then died. Drop
			// whatever footer it managed to write, then resume from
			// the claim; the history lines before it are intact.
			if terr := trimPartialFooter(dir); terr != nil {
				s.log.Warn("sweep: footer trim failed", "sid", id, "error", terr)
				continue
			}
			ferr = s.finalizeClaimed(dir, id, ExitAbandoned)
		} else {
			ferr = s.Finalize(id, ExitAbandoned)
		}
		switch {
		case ferr == nil:
			s.log.Info("recovered abandoned session", "sid", id, "pid", meta.PID)
			recovered = append(recovered, id)
		case errors.Is(ferr, ErrNotActive):
			// Lost the race to a live finalizer. Fine.
		default:
			s.log.Warn("sweep: finalize failed", "sid", id, "error", ferr)
		}
	}
	return recovered, nil
}

// trimPartialFooter truncates footer lines left by a finalizer that
// died mid-write, so the resumed finalize archives a transcript with
// exactly one footer. History commands are newline-sanitized on
// append, so "# end: " at the start of a line can only be a footer.
func trimPartialFooter(dir string) error {
	path := filepath.Join(dir, transcriptFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	i := bytes.Index(data, []byte("\n# end: "))
	if i < 0 {
		return nil
	}
	return os.Truncate(path, int64(i+1))
}

// processAlive probes a PID with signal 0. EPERM means the process
// exists but belongs to another user, which still counts as alive.
// A zero PID means the controller never recorded one: not alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
