// Package surface materializes a role's allow-list into an account's
// restricted command directory.
//
// The published surface is a symlink farm: one symlink per allow-listed
// command, named by base name, plus the universal gate-lastlog built-in.
// Each rebuild lands in a fresh generation directory and is published by
// renaming a symlink onto it, so a session starting mid-rebuild never
// sees a half-populated surface.
package surface

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tinkerbelle-io/tb-gate/internal/role"
)

// Link is the published surface entry point inside an account dir.
const Link = "bin"

// BuiltinName is the diagnostic command installed regardless of role.
const BuiltinName = "gate-lastlog"

const genPrefix = "bin."

// Builder materializes role allow-lists.
type Builder struct {
	// Binary is the tb-gate executable the built-in wrapper invokes.
	Binary string
	Log    *slog.Logger
}

// NewBuilder returns a Builder using the running executable for the
// built-in wrapper.
func NewBuilder(log *slog.Logger) *Builder {
	bin, err := os.Executable()
	if err != nil {
		bin = "tb-gate"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{Binary: bin, Log: log}
}

// Materialize rebuilds accountDir's surface to exactly match r. Allow-list
// entries missing on the host are skipped with a warning; the built-in is
// installed unconditionally. Safe to repeat: the surface always reflects
// the current role, never the union of past roles.
func (b *Builder) Materialize(accountDir string, r role.Role) error {
	if err := os.MkdirAll(accountDir, 0755); err != nil {
		return fmt.Errorf("surface: create account dir: %w", err)
	}

	gen := fmt.Sprintf("%s%d", genPrefix, time.Now().UnixNano())
	genPath := filepath.Join(accountDir, gen)
	if err := os.Mkdir(genPath, 0755); err != nil {
		return fmt.Errorf("surface: create generation: %w", err)
	}

	for _, cmd := range r.Commands {
		if _, err := os.Stat(cmd); err != nil {
			b.Log.Warn("allow-listed command missing on host, skipping",
				"role", r.Name, "command", cmd)
			continue
		}
		name := filepath.Base(cmd)
		if name == BuiltinName {
			b.Log.Warn("allow-listed command shadows built-in, skipping",
				"role", r.Name, "command", cmd)
			continue
		}
		link := filepath.Join(genPath, name)
		if err := os.Symlink(cmd, link); err != nil {
			if os.IsExist(err) {
				b.Log.Warn("duplicate command base name, keeping first",
					"role", r.Name, "command", cmd)
				continue
			}
			return fmt.Errorf("surface: link %s: %w", cmd, err)
		}
	}

	if err := b.installBuiltin(genPath); err != nil {
		return err
	}

	if err := publish(accountDir, gen); err != nil {
		return err
	}

	pruneGenerations(accountDir, gen, b.Log)
	return nil
}

// installBuiltin writes the gate-lastlog wrapper into a generation dir.
func (b *Builder) installBuiltin(genPath string) error {
	script := fmt.Sprintf("#!/bin/sh\nexec %q sessions --last \"$USER\"\n", b.Binary)
	path := filepath.Join(genPath, BuiltinName)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return fmt.Errorf("surface: install built-in: %w", err)
	}
	return nil
}

// publish atomically points the surface link at the new generation.
// Renaming a symlink over the existing one is a single atomic step.
func publish(accountDir, gen string) error {
	tmp := filepath.Join(accountDir, Link+".next")
	_ = os.Remove(tmp)
	if err := os.Symlink(gen, tmp); err != nil {
		return fmt.Errorf("surface: stage link: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(accountDir, Link)); err != nil {
		return fmt.Errorf("surface: publish: %w", err)
	}
	return nil
}

// pruneGenerations removes superseded generation dirs. Best effort: a
// shell still resolving a path through an old generation holds it open
// and the removal simply fails until the next rebuild.
func pruneGenerations(accountDir, current string, log *slog.Logger) {
	entries, err := os.ReadDir(accountDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, genPrefix) || name == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(accountDir, name)); err != nil {
			log.Warn("stale surface generation not removed", "dir", name, "error", err)
		}
	}
}

// Dir returns the published surface path for an account dir.
func Dir(accountDir string) string {
	return filepath.Join(accountDir, Link)
}

// Read returns the sorted entry names of an account's published surface.
func Read(accountDir string) ([]string, error) {
	entries, err := os.ReadDir(Dir(accountDir))
	if err != nil {
		return nil, fmt.Errorf("surface: read: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes an account's entire surface directory.
func Remove(accountDir string) error {
	if err := os.RemoveAll(accountDir); err != nil {
		return fmt.Errorf("surface: remove: %w", err)
	}
	return nil
}
