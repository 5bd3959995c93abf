package seal

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testSeed() []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

func sessionDir(t *testing.T, transcript string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, transcriptFile), []byte(transcript), 0600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadHexSeed(t *testing.T) {
	s, err := Load(hex.EncodeToString(testSeed()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(s.Public()) != ed25519.PublicKeySize {
		t.Error("bad public key")
	}
}

func TestLoadBase64Seed(t *testing.T) {
	if _, err := Load(base64.StdEncoding.EncodeToString(testSeed())); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestLoadKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seal.key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(testSeed())+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	for _, spec := range []string{"", "short", "/nonexistent/seal.key"} {
		if _, err := Load(spec); err == nil {
			t.Errorf("Load(%q) should fail", spec)
		}
	}
}

func TestSealAndVerify(t *testing.T) {
	s, err := Load(hex.EncodeToString(testSeed()))
	if err != nil {
		t.Fatal(err)
	}
	dir := sessionDir(t, "# tb-gate session s1\nentries\n")

	if err := s.SealDir(dir); err != nil {
		t.Fatalf("SealDir failed: %v", err)
	}
	if err := Verify(s.Public(), dir); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	s, err := Load(hex.EncodeToString(testSeed()))
	if err != nil {
		t.Fatal(err)
	}
	dir := sessionDir(t, "original transcript\n")
	if err := s.SealDir(dir); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, transcriptFile), []byte("doctored transcript\n"), 0600); err != nil {
		t.Fatal(err)
	}

	err = Verify(s.Public(), dir)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}
