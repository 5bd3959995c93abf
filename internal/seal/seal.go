// Package seal signs archived session transcripts with Ed25519. The
// gate holds the private seed; log-review tooling verifies with the
// public key, so a transcript altered after archival fails verification.
package seal

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SigFile is the signature file written next to a sealed transcript.
const SigFile = "transcript.sig"

const transcriptFile = "transcript.log"

// ErrBadSignature is returned when a sealed transcript fails to verify.
var ErrBadSignature = errors.New("seal: signature verification failed")

// Sealer signs transcripts.
type Sealer struct {
	priv ed25519.PrivateKey
}

// Load builds a Sealer from a key spec: a hex or base64 encoded 32-byte
// seed, or the path of a file containing one.
func Load(spec string) (*Sealer, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("seal: empty key spec")
	}

	if seed, err := decodeSeed(spec); err == nil {
		return &Sealer{priv: ed25519.NewKeyFromSeed(seed)}, nil
	}

	data, err := os.ReadFile(spec)
	if err != nil {
		return nil, fmt.Errorf("seal: key spec is neither a seed nor a readable file: %w", err)
	}
	seed, err := decodeSeed(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("seal: key file %s: %w", spec, err)
	}
	return &Sealer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// decodeSeed accepts a 32-byte seed in hex or any common base64 flavor.
func decodeSeed(s string) ([]byte, error) {
	if len(s) == 2*ed25519.SeedSize {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == ed25519.SeedSize {
			return b, nil
		}
	}
	return nil, errors.New("seal: seed must be 32 bytes, hex or base64")
}

// Public returns the verification key.
func (s *Sealer) Public() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// SealDir signs the transcript inside an archived session directory,
// writing SigFile beside it.
func (s *Sealer) SealDir(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, transcriptFile))
	if err != nil {
		return fmt.Errorf("seal: read transcript: %w", err)
	}

	sig := ed25519.Sign(s.priv, data)
	encoded := base64.StdEncoding.EncodeToString(sig) + "\n"
	if err := os.WriteFile(filepath.Join(dir, SigFile), []byte(encoded), 0600); err != nil {
		return fmt.Errorf("seal: write signature: %w", err)
	}
	return nil
}

// Verify checks a sealed session directory against a public key.
func Verify(pub ed25519.PublicKey, dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, transcriptFile))
	if err != nil {
		return fmt.Errorf("seal: read transcript: %w", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, SigFile))
	if err != nil {
		return fmt.Errorf("seal: read signature: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("seal: decode signature: %w", err)
	}

	if !ed25519.Verify(pub, data, sig) {
		return ErrBadSignature
	}
	return nil
}
