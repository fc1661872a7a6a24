// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cordon-foundation/cordon/lib/secret"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	stateDir := t.TempDir()
	original := testIdentity(t, 40)

	if err := Save(stateDir, original); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(stateDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()

	if loaded.PeerID() != original.PeerID() {
		t.Errorf("loaded peer ID %s, want %s", loaded.PeerID(), original.PeerID())
	}

	// The key file must be owner-only.
	info, err := os.Stat(filepath.Join(stateDir, identityKeyFile))
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file mode = %o, want 0600", perm)
	}

	// The peer ID file carries the derived ID as text.
	idText, err := os.ReadFile(filepath.Join(stateDir, peerIDFile))
	if err != nil {
		t.Fatalf("reading peer ID file: %v", err)
	}
	if got := strings.TrimSpace(string(idText)); got != original.PeerID().String() {
		t.Errorf("peer ID file = %q, want %q", got, original.PeerID())
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load from empty directory should fail")
	}
}

func TestLoadCorruptSize(t *testing.T) {
	stateDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(stateDir, identityKeyFile), []byte("short"), 0600); err != nil {
		t.Fatalf("writing corrupt key: %v", err)
	}
	if _, err := Load(stateDir); err == nil {
		t.Error("Load of truncated key file should fail")
	}
}

func TestLoadOrGenerate(t *testing.T) {
	stateDir := t.TempDir()

	first, generated, err := LoadOrGenerate(stateDir)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	defer first.Close()
	if !generated {
		t.Error("first LoadOrGenerate should report generated=true")
	}

	second, generated, err := LoadOrGenerate(stateDir)
	if err != nil {
		t.Fatalf("second LoadOrGenerate: %v", err)
	}
	defer second.Close()
	if generated {
		t.Error("second LoadOrGenerate should report generated=false")
	}
	if first.PeerID() != second.PeerID() {
		t.Errorf("reload produced a different identity: %s vs %s", second.PeerID(), first.PeerID())
	}
}

func TestLoadOrGenerateSurfacesCorruption(t *testing.T) {
	stateDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(stateDir, identityKeyFile), []byte("garbage"), 0600); err != nil {
		t.Fatalf("writing corrupt key: %v", err)
	}

	if _, _, err := LoadOrGenerate(stateDir); err == nil {
		t.Error("LoadOrGenerate must not silently replace a corrupt key file")
	}
}

func TestSealedExportImport(t *testing.T) {
	original := testIdentity(t, 50)

	passphrase, err := secret.NewFromBytes([]byte("open sesame"))
	if err != nil {
		t.Fatalf("creating passphrase: %v", err)
	}
	defer passphrase.Close()

	ciphertext, err := ExportSealed(original, passphrase)
	if err != nil {
		t.Fatalf("ExportSealed: %v", err)
	}

	// The same passphrase buffer is still usable: decrypt needs it.
	imported, err := ImportSealed(ciphertext, passphrase)
	if err != nil {
		t.Fatalf("ImportSealed: %v", err)
	}
	defer imported.Close()

	if imported.PeerID() != original.PeerID() {
		t.Errorf("imported peer ID %s, want %s", imported.PeerID(), original.PeerID())
	}
}

func TestSealedImportWrongPassphrase(t *testing.T) {
	original := testIdentity(t, 51)

	passphrase, err := secret.NewFromBytes([]byte("right"))
	if err != nil {
		t.Fatalf("creating passphrase: %v", err)
	}
	defer passphrase.Close()

	ciphertext, err := ExportSealed(original, passphrase)
	if err != nil {
		t.Fatalf("ExportSealed: %v", err)
	}

	wrong, err := secret.NewFromBytes([]byte("wrong"))
	if err != nil {
		t.Fatalf("creating passphrase: %v", err)
	}
	defer wrong.Close()

	if _, err := ImportSealed(ciphertext, wrong); err == nil {
		t.Error("ImportSealed with wrong passphrase should fail")
	}
}

func TestMnemonicRoundtrip(t *testing.T) {
	original := testIdentity(t, 60)

	phrase, err := original.ExportMnemonic()
	if err != nil {
		t.Fatalf("ExportMnemonic: %v", err)
	}
	if words := strings.Fields(phrase); len(words) != 24 {
		t.Errorf("mnemonic has %d words, want 24", len(words))
	}

	restored, err := FromMnemonic(phrase)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	defer restored.Close()

	if restored.PeerID() != original.PeerID() {
		t.Errorf("restored peer ID %s, want %s", restored.PeerID(), original.PeerID())
	}
}

func TestFromMnemonicInvalid(t *testing.T) {
	tests := []string{
		"",
		"not a mnemonic at all",
		// Valid words, wrong checksum.
		strings.Repeat("abandon ", 23) + "abandon",
	}
	for _, phrase := range tests {
		if _, err := FromMnemonic(phrase); err == nil {
			t.Errorf("FromMnemonic(%q) should fail", phrase)
		}
	}
}

func TestFromMnemonicRejectsShortPhrase(t *testing.T) {
	// A 12-word phrase is valid BIP-39 but encodes only 16 bytes of
	// entropy — not enough for an identity seed.
	const twelveWords = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	if _, err := FromMnemonic(twelveWords); err == nil {
		t.Error("FromMnemonic should reject a 12-word phrase")
	}
}
