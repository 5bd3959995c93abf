// Package keys provisions authorized_keys entries that force every
// connection through the gate's login controller. The forced command
// plus disabled forwarding options make the login path non-bypassable
// regardless of client-supplied options.
package keys

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Options are the authorized_keys restrictions applied to every gated
// key. A pty is still allowed: sessions are interactive by design.
const Options = "no-port-forwarding,no-x11-forwarding,no-agent-forwarding"

// ForcedEntry validates a public key and returns the authorized_keys
// line that forces it through `<binary> login`.
func ForcedEntry(pubkey []byte, binary string) (string, error) {
	key, comment, _, _, err := ssh.ParseAuthorizedKey(pubkey)
	if err != nil {
		return "", fmt.Errorf("keys: invalid public key: %w", err)
	}

	marshaled := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
	entry := fmt.Sprintf("command=%q,%s %s", binary+" login", Options, marshaled)
	if comment != "" {
		entry += " " + comment
	}
	return entry, nil
}

// Install appends an entry to <homeDir>/.ssh/authorized_keys, creating
// the directory and file with the permissions sshd requires. Installing
// an entry that is already present is a no-op.
func Install(homeDir, entry string) error {
	sshDir := filepath.Join(homeDir, ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		return fmt.Errorf("keys: create %s: %w", sshDir, err)
	}

	path := filepath.Join(sshDir, "authorized_keys")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("keys: read %s: %w", path, err)
	}
	for _, line := range bytes.Split(existing, []byte("\n")) {
		if string(bytes.TrimSpace(line)) == entry {
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("keys: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry + "\n"); err != nil {
		return fmt.Errorf("keys: append entry: %w", err)
	}
	return nil
}
