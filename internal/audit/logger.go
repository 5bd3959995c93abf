// Package audit writes the gate's security event log: append-only,
// hash-chained JSON lines. Every session begin/end, switch attempt,
// sweep recovery, and provisioning change lands here.
package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes append-only, hash-chained audit events to a JSON-lines
// file.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
	now      func() time.Time
}

// Open opens (or creates) the audit log at path. The directory is
// created with 0700, the file with 0600. Existing entries are read to
// recover the last hash for chain continuity.
func Open(path string) (*Logger, error) {
	return OpenWithClock(path, func() time.Time { return time.Now().UTC() })
}

// OpenWithClock opens a Logger with a custom clock (for testing).
func OpenWithClock(path string, now func() time.Time) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create dir %s: %w", dir, err)
	}

	prevHash := ""
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		lines := splitLines(data)
		for i := len(lines) - 1; i >= 0; i-- {
			if len(lines[i]) == 0 {
				continue
			}
			var e Event
			if json.Unmarshal(lines[i], &e) == nil {
				prevHash = e.EntryHash
			}
			break
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}

	return &Logger{file: f, prevHash: prevHash, now: now}, nil
}

// Log writes an event, computing its hash chain value:
// SHA256(prevHash + json_without_hash).
func (l *Logger) Log(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	e.EntryHash = "" // clear before hashing
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}

	h := sha256.Sum256(append([]byte(l.prevHash), raw...))
	e.EntryHash = fmt.Sprintf("%x", h)
	l.prevHash = e.EntryHash

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal final: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// VerifyChain replays a log file and reports the first entry whose hash
// does not match the chain. Returns the number of valid entries.
func VerifyChain(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("audit: read %s: %w", path, err)
	}

	prevHash := ""
	valid := 0
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return valid, fmt.Errorf("audit: entry %d unparseable: %w", valid, err)
		}
		want := e.EntryHash
		e.EntryHash = ""
		raw, err := json.Marshal(e)
		if err != nil {
			return valid, fmt.Errorf("audit: entry %d remarshal: %w", valid, err)
		}
		h := sha256.Sum256(append([]byte(prevHash), raw...))
		if fmt.Sprintf("%x", h) != want {
			return valid, fmt.Errorf("audit: chain broken at entry %d", valid)
		}
		prevHash = want
		valid++
	}
	return valid, nil
}

// splitLines splits data into JSON-lines (byte slices).
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
