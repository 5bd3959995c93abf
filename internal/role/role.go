// Package role defines the registry of account roles. A role names the
// absolute command paths an account may run; the registry is resolved
// once at load time and is read-only afterwards.
package role

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownRole is returned when a role name has no definition. At
// provisioning time this is fatal, never defaulted.
var ErrUnknownRole = errors.New("role: unknown role")

// Isolated is the special role with no real capabilities: an account
// holding it gets only the universal diagnostic built-in.
const Isolated = "isolated"

// Role is an immutable named allow-list of absolute command paths.
type Role struct {
	Name     string
	Commands []string
}

// builtinRoles are the roles every gate ships with. A YAML roles file
// can add more or override these at load time.
var builtinRoles = map[string][]string{
	"admin-tools": {
		"/usr/bin/top",
		"/usr/bin/htop",
		"/usr/bin/journalctl",
		"/usr/bin/systemctl",
		"/usr/bin/less",
		"/usr/bin/vim",
		"/bin/ls",
		"/bin/cat",
		"/bin/grep",
	},
	"readonly-audit": {
		"/usr/bin/last",
		"/usr/bin/lastlog",
		"/usr/bin/journalctl",
		"/usr/bin/less",
		"/bin/ls",
		"/bin/cat",
		"/bin/grep",
	},
	"network-diag": {
		"/usr/bin/ping",
		"/usr/bin/traceroute",
		"/usr/bin/dig",
		"/usr/bin/host",
		"/usr/sbin/ss",
		"/usr/sbin/ip",
	},
	Isolated: {},
}

// Registry maps role names to allow-lists.
type Registry struct {
	roles map[string]Role
}

// rolesFile is the YAML shape of a roles file:
//
//	roles:
//	  db-ops:
//	    commands: [/usr/bin/psql, /usr/bin/pg_dump]
type rolesFile struct {
	Roles map[string]struct {
		Commands []string `yaml:"commands"`
	} `yaml:"roles"`
}

// Load builds a registry from the builtins plus an optional roles file.
// File entries override builtins of the same name. Relative command
// paths in the file are a definition error.
func Load(path string) (*Registry, error) {
	r := &Registry{roles: make(map[string]Role, len(builtinRoles))}
	for name, cmds := range builtinRoles {
		r.roles[name] = newRole(name, cmds)
	}

	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("role: read %s: %w", path, err)
	}

	var f rolesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("role: parse %s: %w", path, err)
	}

	for name, def := range f.Roles {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("role: empty role name in %s", path)
		}
		for _, c := range def.Commands {
			if !filepath.IsAbs(c) {
				return nil, fmt.Errorf("role: %s: command %q is not absolute", name, c)
			}
		}
		r.roles[name] = newRole(name, def.Commands)
	}

	return r, nil
}

func newRole(name string, cmds []string) Role {
	out := make([]string, len(cmds))
	copy(out, cmds)
	sort.Strings(out)
	return Role{Name: name, Commands: out}
}

// Lookup resolves a role by name.
func (r *Registry) Lookup(name string) (Role, error) {
	role, ok := r.roles[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	return role, nil
}

// Names returns all known role names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
