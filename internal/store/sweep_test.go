package store

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinkerbelle-io/tb-gate/internal/sid"
)

// deadPID returns the PID of a process that has already exited.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("spawn helper: %v", err)
	}
	return cmd.Process.Pid
}

func TestSweepStaleRecoversAbandoned(t *testing.T) {
	s, now := testStore(t)

	id := sid.New("10.0.0.5", "alice", *now)
	if err := s.Begin(id, "alice", "10.0.0.5", "", deadPID(t)); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(2 * time.Hour)
	swept, err := s.SweepStale(time.Hour)
	if err != nil {
		t.Fatalf("SweepStale failed: %v", err)
	}
	if len(swept) != 1 || swept[0] != id {
		t.Errorf("swept = %v, want [%s]", swept, id)
	}

	meta, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Exit != ExitAbandoned {
		t.Errorf("exit = %q, want %q", meta.Exit, ExitAbandoned)
	}
	if _, err := os.Stat(s.ArchivePath(id)); err != nil {
		t.Errorf("abandoned session not archived: %v", err)
	}

	active, err := s.ListActive()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("active partition should be empty, has %d", len(active))
	}
}

func TestSweepStaleSkipsLiveProcess(t *testing.T) {
	s, now := testStore(t)

	id := sid.New("10.0.0.5", "alice", *now)
	if err := s.Begin(id, "alice", "10.0.0.5", "", os.Getpid()); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(2 * time.Hour)
	swept, err := s.SweepStale(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(swept) != 0 {
		t.Errorf("swept = %v, want none (process alive)", swept)
	}
}

func TestSweepStaleSkipsYoungSessions(t *testing.T) {
	s, now := testStore(t)

	id := sid.New("10.0.0.5", "alice", *now)
	if err := s.Begin(id, "alice", "10.0.0.5", "", deadPID(t)); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(10 * time.Minute)
	swept, err := s.SweepStale(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(swept) != 0 {
		t.Errorf("swept = %v, want none (session too young)", swept)
	}

	active, err := s.ListActive()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Errorf("young session must stay active")
	}
}

func TestSweepStaleResumesCrashedFinalize(t *testing.T) {
	s, now := testStore(t)

	id := sid.New("10.0.0.5", "alice", *now)
	if err := s.Begin(id, "alice", "10.0.0.5", "", deadPID(t)); err != nil {
		t.Fatal(err)
	}

	// Simulate a finalizer that claimed the session and died before
	// the archive rename.
	if err := os.Rename(s.activePath(id), s.claimPath(id)); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(2 * time.Hour)
	swept, err := s.SweepStale(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(swept) != 1 {
		t.Errorf("swept = %v, want 1 session", swept)
	}

	meta, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Exit != ExitAbandoned {
		t.Errorf("exit = %q, want %q", meta.Exit, ExitAbandoned)
	}
	if !strings.Contains(string(mustTranscript(t, s, id)), "# exit: abandoned") {
		t.Error("footer missing abandoned exit")
	}
}

func TestSweepStaleResumeDropsPartialFooter(t *testing.T) {
	s, now := testStore(t)

	id := sid.New("10.0.0.5", "alice", *now)
	if err := s.Begin(id, "alice", "10.0.0.5", "", deadPID(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendHistory(id, Entry{Time: *now, User: "alice", Command: "uptime"}); err != nil {
		t.Fatal(err)
	}

	// A finalizer claimed the session and died halfway through the
	// footer.
	if err := os.Rename(s.activePath(id), s.claimPath(id)); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(filepath.Join(s.claimPath(id), transcriptFile),
		os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("# end: 2024-12-08T14:40:00Z\n# dur"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	*now = now.Add(2 * time.Hour)
	swept, err := s.SweepStale(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(swept) != 1 {
		t.Fatalf("swept = %v, want 1 session", swept)
	}

	transcript := string(mustTranscript(t, s, id))
	if got := strings.Count(transcript, "# end: "); got != 1 {
		t.Errorf("archived transcript has %d end markers, want 1:\n%s", got, transcript)
	}
	if got := strings.Count(transcript, "# exit: "); got != 1 {
		t.Errorf("archived transcript has %d exit markers, want 1:\n%s", got, transcript)
	}
	if !strings.Contains(transcript, "uptime") {
		t.Errorf("history entry lost:\n%s", transcript)
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("own process should be alive")
	}
	if processAlive(0) {
		t.Error("zero PID should not be alive")
	}
	if processAlive(deadPID(t)) {
		t.Error("exited process should not be alive")
	}
}
