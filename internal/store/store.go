// Package store is the durable record of sessions. Each session lives
// as a directory (metadata + transcript) in exactly one of two
// partitions: active/ while the shell runs, archive/ once finalized.
// The active→archive transition is a single rename, so a concurrent
// lister never sees a session in neither or both partitions.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinkerbelle-io/tb-gate/internal/sid"
)

var (
	// ErrSessionExists means a record for the SID already occupies a
	// partition. Callers disambiguate the SID; they never overwrite.
	ErrSessionExists = errors.New("store: session already exists")

	// ErrNotActive means the SID has no active record: it was never
	// begun, or it has already been finalized.
	ErrNotActive = errors.New("store: session not active")

	// ErrNotFound means the SID exists in neither partition.
	ErrNotFound = errors.New("store: session not found")
)

// ExitAbandoned marks sessions recovered by the stale sweep.
const ExitAbandoned = "abandoned"

const (
	activeDir  = "active"
	archiveDir = "archive"

	metaFile       = "meta.yaml"
	transcriptFile = "transcript.log"

	// claimSuffix marks an active session dir claimed by a finalizer.
	// Claiming is itself a rename, so exactly one finalizer wins.
	claimSuffix = ".fin"
)

// Meta is a session's metadata record.
type Meta struct {
	SID       string     `yaml:"sid"`
	Principal string     `yaml:"principal"`
	Peer      string     `yaml:"peer"`
	ParentSID string     `yaml:"parent_sid,omitempty"`
	PID       int        `yaml:"pid,omitempty"`
	Start     time.Time  `yaml:"start"`
	End       *time.Time `yaml:"end,omitempty"`
	Exit      string     `yaml:"exit_status,omitempty"`
	Degraded  bool       `yaml:"degraded,omitempty"`
}

// Entry is one captured command line.
type Entry struct {
	Time    time.Time
	User    string
	Command string
}

// Store manages the two session partitions under a root directory.
type Store struct {
	root string
	now  func() time.Time
	log  *slog.Logger
}

// New opens (creating if needed) a store rooted at root.
func New(root string) (*Store, error) {
	return NewWithClock(root, func() time.Time { return time.Now().UTC() })
}

// NewWithClock opens a store with a custom clock (for testing).
func NewWithClock(root string, now func() time.Time) (*Store, error) {
	if now == nil {
		return nil, errors.New("store: nil clock")
	}
	for _, part := range []string{activeDir, archiveDir} {
		if err := os.MkdirAll(filepath.Join(root, part), 0700); err != nil {
			return nil, fmt.Errorf("store: create %s partition: %w", part, err)
		}
	}
	return &Store{root: root, now: now, log: slog.Default().With("component", "store")}, nil
}

func (s *Store) activePath(id sid.SID) string {
	return filepath.Join(s.root, activeDir, string(id))
}

func (s *Store) claimPath(id sid.SID) string {
	return s.activePath(id) + claimSuffix
}

// ArchivePath returns the archive directory for a SID. The path exists
// only after Finalize.
func (s *Store) ArchivePath(id sid.SID) string {
	return filepath.Join(s.root, archiveDir, string(id))
}

// Begin creates the active record for a new session. The Mkdir of the
// session directory is the collision gate: a SID present in either
// partition yields ErrSessionExists and no partial record.
func (s *Store) Begin(id sid.SID, principal, peer, parent string, pid int) error {
	if _, err := os.Stat(s.ArchivePath(id)); err == nil {
		return fmt.Errorf("%w: %s (archived)", ErrSessionExists, id)
	}
	if _, err := os.Stat(s.claimPath(id)); err == nil {
		return fmt.Errorf("%w: %s (finalizing)", ErrSessionExists, id)
	}

	dir := s.activePath(id)
	if err := os.Mkdir(dir, 0700); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrSessionExists, id)
		}
		return fmt.Errorf("store: begin %s: %w", id, err)
	}

	meta := Meta{
		SID:       string(id),
		Principal: principal,
		Peer:      peer,
		ParentSID: parent,
		PID:       pid,
		Start:     s.now(),
	}
	if err := writeMeta(dir, meta); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}
	if err := s.writeHeader(dir, meta); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}
	return nil
}

// AppendHistory appends one command line to an active transcript. The
// write is flushed to disk before returning so entries already recorded
// survive a later crash.
func (s *Store) AppendHistory(id sid.SID, e Entry) error {
	path := filepath.Join(s.activePath(id), transcriptFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotActive, id)
		}
		return fmt.Errorf("store: append %s: %w", id, err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s\t%s\t%s\n",
		e.Time.UTC().Format(time.RFC3339), e.User, sanitize(e.Command))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("store: append %s: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("store: sync %s: %w", id, err)
	}
	return nil
}

// MarkDegraded flags an active session whose history capture lost
// entries. The flag is reported in the archived footer.
func (s *Store) MarkDegraded(id sid.SID) error {
	dir := s.activePath(id)
	meta, err := readMeta(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotActive, id)
		}
		return err
	}
	meta.Degraded = true
	return writeMeta(dir, meta)
}

// Finalize closes a session: footer appended, metadata completed, then
// one atomic rename into the archive. At most one call succeeds; later
// calls (or a racing sweep) get ErrNotActive.
func (s *Store) Finalize(id sid.SID, exitStatus string) error {
	// Claim the directory first. The rename is atomic, so a racing
	// finalizer loses here instead of double-writing the footer.
	claim := s.claimPath(id)
	if err := os.Rename(s.activePath(id), claim); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotActive, id)
		}
		return fmt.Errorf("store: claim %s: %w", id, err)
	}
	return s.finalizeClaimed(claim, id, exitStatus)
}

func (s *Store) finalizeClaimed(claim string, id sid.SID, exitStatus string) error {
	meta, err := readMeta(claim)
	if err != nil {
		return fmt.Errorf("store: finalize %s: %w", id, err)
	}

	end := s.now()
	meta.End = &end
	meta.Exit = exitStatus
	duration := end.Sub(meta.Start).Round(time.Second)

	if err := s.appendFooter(claim, meta, duration); err != nil {
		return err
	}
	if err := writeMeta(claim, meta); err != nil {
		return err
	}

	if err := os.Rename(claim, s.ArchivePath(id)); err != nil {
		return fmt.Errorf("store: archive %s: %w", id, err)
	}
	return nil
}

func (s *Store) writeHeader(dir string, meta Meta) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# tb-gate session %s\n", meta.SID)
	fmt.Fprintf(&b, "# principal: %s\n", meta.Principal)
	fmt.Fprintf(&b, "# peer: %s\n", meta.Peer)
	if meta.ParentSID != "" {
		fmt.Fprintf(&b, "# parent: %s\n", meta.ParentSID)
	}
	fmt.Fprintf(&b, "# start: %s\n", meta.Start.Format(time.RFC3339))

	f, err := os.OpenFile(filepath.Join(dir, transcriptFile),
		os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("store: create transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("store: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("store: sync header: %w", err)
	}
	return nil
}

func (s *Store) appendFooter(dir string, meta Meta, duration time.Duration) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# end: %s\n", meta.End.Format(time.RFC3339))
	fmt.Fprintf(&b, "# duration: %s\n", duration)
	fmt.Fprintf(&b, "# exit: %s\n", meta.Exit)
	if meta.Degraded {
		fmt.Fprintf(&b, "# degraded: history capture incomplete\n")
	}

	f, err := os.OpenFile(filepath.Join(dir, transcriptFile),
		os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("store: open transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("store: write footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("store: sync footer: %w", err)
	}
	return nil
}

// ListActive returns metadata for every active session, including ones
// mid-finalize, sorted by start time. Unreadable records are skipped
// with a warning rather than failing the listing.
func (s *Store) ListActive() ([]Meta, error) {
	return s.list(filepath.Join(s.root, activeDir))
}

// ListArchived returns metadata for every archived session.
func (s *Store) ListArchived() ([]Meta, error) {
	return s.list(filepath.Join(s.root, archiveDir))
}

func (s *Store) list(dir string) ([]Meta, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}

	metas := make([]Meta, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := readMeta(filepath.Join(dir, e.Name()))
		if err != nil {
			s.log.Warn("unreadable session record", "dir", e.Name(), "error", err)
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Start.Equal(metas[j].Start) {
			return metas[i].SID < metas[j].SID
		}
		return metas[i].Start.Before(metas[j].Start)
	})
	return metas, nil
}

// Get returns a session's metadata from whichever partition holds it.
func (s *Store) Get(id sid.SID) (Meta, error) {
	for _, dir := range []string{s.activePath(id), s.claimPath(id), s.ArchivePath(id)} {
		meta, err := readMeta(dir)
		if err == nil {
			return meta, nil
		}
		if !os.IsNotExist(err) {
			return Meta{}, err
		}
	}
	return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Transcript returns the transcript contents from whichever partition
// holds the session.
func (s *Store) Transcript(id sid.SID) ([]byte, error) {
	for _, dir := range []string{s.ArchivePath(id), s.activePath(id), s.claimPath(id)} {
		data, err := os.ReadFile(filepath.Join(dir, transcriptFile))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("store: transcript %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// TranscriptPath returns the live transcript path for an active session.
func (s *Store) TranscriptPath(id sid.SID) string {
	return filepath.Join(s.activePath(id), transcriptFile)
}

// LastArchived returns the most recently started archived session for a
// principal, if any.
func (s *Store) LastArchived(principal string) (Meta, bool, error) {
	metas, err := s.ListArchived()
	if err != nil {
		return Meta{}, false, err
	}
	for i := len(metas) - 1; i >= 0; i-- {
		if metas[i].Principal == principal {
			return metas[i], true, nil
		}
	}
	return Meta{}, false, nil
}

// ParseEntries decodes transcript command lines, skipping header and
// footer comments.
func ParseEntries(transcript []byte) []Entry {
	var out []Entry
	sc := bufio.NewScanner(strings.NewReader(string(transcript)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			continue
		}
		out = append(out, Entry{Time: ts, User: parts[1], Command: parts[2]})
	}
	return out
}

func readMeta(dir string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("store: parse meta: %w", err)
	}
	return meta, nil
}

func writeMeta(dir string, meta Meta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: marshal meta: %w", err)
	}
	tmp := filepath.Join(dir, metaFile+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("store: write meta: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, metaFile)); err != nil {
		return fmt.Errorf("store: publish meta: %w", err)
	}
	return nil
}

// sanitize keeps transcript lines one-per-entry even when a captured
// command embeds newlines.
func sanitize(cmd string) string {
	cmd = strings.ReplaceAll(cmd, "\n", "\\n")
	return strings.ReplaceAll(cmd, "\r", "")
}
