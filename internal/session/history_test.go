package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFifoSourceDeliversEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.fifo")
	src, err := newFifoSource(path, slog.Default())
	if err != nil {
		t.Fatalf("newFifoSource failed: %v", err)
	}
	defer src.Close()

	w, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatal(err)
	}
	lines := []string{
		"1733668252\talice\tls -la\n",
		"1733668253\talice\tcat /etc/hostname\n",
	}
	for _, l := range lines {
		if _, err := w.WriteString(l); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	for i, want := range []string{"ls -la", "cat /etc/hostname"} {
		select {
		case e := <-src.Events():
			if e.Command != want {
				t.Errorf("entry %d command = %q, want %q", i, e.Command, want)
			}
			if e.User != "alice" {
				t.Errorf("entry %d user = %q", i, e.User)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for entry %d", i)
		}
	}
}

func TestFifoSourceSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.fifo")
	src, err := newFifoSource(path, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	w, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteString("garbage line\n1733668252\talice\tuptime\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	select {
	case e := <-src.Events():
		if e.Command != "uptime" {
			t.Errorf("command = %q, want uptime", e.Command)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}

func TestCloseDeliversFinalEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.fifo")
	src, err := newFifoSource(path, slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	w, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteString("1733668252\talice\texit\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	// Close immediately, as the controller does when the shell exits
	// right after the trap's final write. The entry must survive.
	closeDone := make(chan error, 1)
	go func() { closeDone <- src.Close() }()

	select {
	case e, ok := <-src.Events():
		if !ok {
			t.Fatal("events closed before the final entry was delivered")
		}
		if e.Command != "exit" {
			t.Errorf("command = %q, want exit", e.Command)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for final entry")
	}

	if _, ok := <-src.Events(); ok {
		t.Error("expected events channel to close after the drain")
	}
	if err := <-closeDone; err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestParseHistoryLine(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
		cmd  string
	}{
		{"1733668252\talice\tls -la", true, "ls -la"},
		{"1733668252\talice\techo a\tb", true, "echo a\tb"},
		{"notanumber\talice\tls", false, ""},
		{"1733668252\talice", false, ""},
		{"1733668252\talice\t", false, ""},
		{"", false, ""},
	}

	for _, tt := range tests {
		e, ok := parseHistoryLine(tt.line)
		if ok != tt.ok {
			t.Errorf("parseHistoryLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if ok && e.Command != tt.cmd {
			t.Errorf("parseHistoryLine(%q) command = %q, want %q", tt.line, e.Command, tt.cmd)
		}
	}
}

func TestParseHistoryLineTimestamp(t *testing.T) {
	e, ok := parseHistoryLine("1733668252\talice\tuptime")
	if !ok {
		t.Fatal("parse failed")
	}
	want := time.Unix(1733668252, 0).UTC()
	if !e.Time.Equal(want) {
		t.Errorf("time = %s, want %s", e.Time, want)
	}
}

func TestWriteRCFile(t *testing.T) {
	dir := t.TempDir()
	path, err := writeRCFile(dir)
	if err != nil {
		t.Fatalf("writeRCFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, want := range []string{"trap __gate_hist DEBUG", "gate-hist", "$BASH_COMMAND"} {
		if !strings.Contains(content, want) {
			t.Errorf("rcfile missing %q:\n%s", want, content)
		}
	}
	// The restricted shell rejects redirections; only the helper may
	// touch the FIFO.
	if strings.Contains(content, ">>") {
		t.Errorf("rcfile must not redirect:\n%s", content)
	}
}

func TestWriteHelperDir(t *testing.T) {
	dir := t.TempDir()
	helpers, err := writeHelperDir(dir)
	if err != nil {
		t.Fatalf("writeHelperDir failed: %v", err)
	}

	path := filepath.Join(helpers, "gate-hist")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, want := range []string{"#!/bin/sh", "GATE_HISTORY_FIFO", "date +%s", "id -un"} {
		if !strings.Contains(content, want) {
			t.Errorf("helper missing %q:\n%s", want, content)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0111 == 0 {
		t.Error("helper must be executable")
	}
}
