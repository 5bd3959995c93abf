package session

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tinkerbelle-io/tb-gate/internal/store"
)

// HistorySource emits "command about to execute" events for a session.
// The controller consumes the channel and appends each entry to the
// session store; modeling capture as an event stream keeps it testable
// without any specific shell.
type HistorySource interface {
	// Events yields captured entries. The channel closes when the
	// source is closed or its writer goes away.
	Events() <-chan store.Entry

	// Close tears the source down. Entries already written but not yet
	// read must still be delivered on Events before it closes.
	Close() error
}

// fifoSource reads history events from a named pipe. The restricted
// shell's DEBUG trap writes one line per command, before the command
// runs, as "epoch<TAB>user<TAB>command".
type fifoSource struct {
	path   string
	file   *os.File
	events chan store.Entry
	done   chan struct{}
	log    *slog.Logger
}

// drainTimeout bounds how long Close waits for bytes already in the
// pipe buffer to reach the reader.
const drainTimeout = 250 * time.Millisecond

// newFifoSource creates the pipe at path and starts reading it.
func newFifoSource(path string, log *slog.Logger) (*fifoSource, error) {
	if err := unix.Mkfifo(path, 0600); err != nil {
		return nil, fmt.Errorf("session: mkfifo %s: %w", path, err)
	}

	// O_RDWR so the open never blocks waiting for a writer and the
	// reader survives writers coming and going between commands.
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("session: open fifo: %w", err)
	}

	s := &fifoSource{
		path:   path,
		file:   f,
		events: make(chan store.Entry, 64),
		done:   make(chan struct{}),
		log:    log,
	}
	go s.read()
	return s, nil
}

func (s *fifoSource) read() {
	defer close(s.done)
	defer close(s.events)
	sc := bufio.NewScanner(s.file)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	for sc.Scan() {
		entry, ok := parseHistoryLine(sc.Text())
		if !ok {
			s.log.Warn("malformed history line", "line", sc.Text())
			continue
		}
		s.events <- entry
	}
	if err := sc.Err(); err != nil &&
		!errors.Is(err, os.ErrDeadlineExceeded) && !errors.Is(err, os.ErrClosed) {
		s.log.Warn("history read failed", "error", err)
	}
}

func (s *fifoSource) Events() <-chan store.Entry { return s.events }

// Close drains the pipe before tearing it down. The trap writes its
// line before the command runs, so a session's final entry is often
// still in the pipe buffer when the shell exits; closing the
// descriptor outright would discard it. A read deadline unblocks the
// reader once the buffer is empty, and only then does the fd close.
func (s *fifoSource) Close() error {
	_ = s.file.SetReadDeadline(time.Now().Add(drainTimeout))
	<-s.done
	err := s.file.Close()
	_ = os.Remove(s.path)
	return err
}

// parseHistoryLine decodes "epoch<TAB>user<TAB>command".
func parseHistoryLine(line string) (store.Entry, bool) {
	parts := strings.SplitN(line, "\t", 3)
	if len(parts) != 3 || parts[2] == "" {
		return store.Entry{}, false
	}
	epoch, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return store.Entry{}, false
	}
	return store.Entry{
		Time:    time.Unix(epoch, 0).UTC(),
		User:    parts[1],
		Command: parts[2],
	}, true
}

// rcFile is the shell init file installing the history trap. The DEBUG
// trap fires before each command executes, so even a command that kills
// the shell is captured first. The trap cannot write to the FIFO itself:
// the restricted shell forbids redirection operators at runtime, so the
// write happens inside the unrestricted gate-hist helper on PATH.
const rcFile = "__gate_hist() {\n" +
	"  gate-hist \"$BASH_COMMAND\"\n" +
	"}\n" +
	"trap __gate_hist DEBUG\n" +
	"PS1='[gate] \\u:\\w\\$ '\n"

// helperFile appends one history line to the session FIFO.
const helperFile = "#!/bin/sh\n" +
	"printf '%s\\t%s\\t%s\\n' \"$(date +%s)\" \"$(id -un)\" \"$1\" >> \"$GATE_HISTORY_FIFO\"\n"

// writeRCFile writes the session rcfile into dir and returns its path.
func writeRCFile(dir string) (string, error) {
	path := dir + "/gate-rc"
	if err := os.WriteFile(path, []byte(rcFile), 0600); err != nil {
		return "", fmt.Errorf("session: write rcfile: %w", err)
	}
	return path, nil
}

// writeHelperDir writes the gate-hist helper into a fresh subdirectory
// of dir, returning the directory to append to the shell's PATH.
func writeHelperDir(dir string) (string, error) {
	helpers := dir + "/helpers"
	if err := os.Mkdir(helpers, 0755); err != nil {
		return "", fmt.Errorf("session: create helper dir: %w", err)
	}
	if err := os.WriteFile(helpers+"/gate-hist", []byte(helperFile), 0755); err != nil {
		return "", fmt.Errorf("session: write helper: %w", err)
	}
	return helpers, nil
}
