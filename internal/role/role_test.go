package role

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestLookupBuiltin(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	r, err := reg.Lookup("readonly-audit")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(r.Commands) == 0 {
		t.Error("readonly-audit should have commands")
	}
	if !sort.StringsAreSorted(r.Commands) {
		t.Error("commands should be sorted")
	}
}

func TestLookupUnknown(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	_, err = reg.Lookup("no-such-role")
	if !errors.Is(err, ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
}

func TestIsolatedIsEmpty(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	r, err := reg.Lookup(Isolated)
	if err != nil {
		t.Fatalf("isolated must exist: %v", err)
	}
	if len(r.Commands) != 0 {
		t.Errorf("isolated should be empty, got %v", r.Commands)
	}
}

func TestLoadRolesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	content := `roles:
  db-ops:
    commands:
      - /usr/bin/psql
      - /usr/bin/pg_dump
  readonly-audit:
    commands:
      - /usr/bin/last
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	dbops, err := reg.Lookup("db-ops")
	if err != nil {
		t.Fatalf("Lookup db-ops: %v", err)
	}
	if len(dbops.Commands) != 2 {
		t.Errorf("db-ops commands = %v", dbops.Commands)
	}

	// File entry overrides the builtin of the same name.
	audit, err := reg.Lookup("readonly-audit")
	if err != nil {
		t.Fatalf("Lookup readonly-audit: %v", err)
	}
	if len(audit.Commands) != 1 || audit.Commands[0] != "/usr/bin/last" {
		t.Errorf("override not applied: %v", audit.Commands)
	}
}

func TestLoadRejectsRelativePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	content := `roles:
  bad:
    commands:
      - psql
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for relative command path")
	}
}

func TestNames(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	names := reg.Names()
	if !sort.StringsAreSorted(names) {
		t.Error("names should be sorted")
	}
	found := false
	for _, n := range names {
		if n == Isolated {
			found = true
		}
	}
	if !found {
		t.Error("isolated missing from Names")
	}
}
