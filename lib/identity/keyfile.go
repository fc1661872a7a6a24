// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cordon-foundation/cordon/lib/sealed"
	"github.com/cordon-foundation/cordon/lib/secret"
)

const (
	// identityKeyFile holds the raw 32-byte seed, mode 0600.
	identityKeyFile = "identity.key"

	// peerIDFile holds the derived peer ID as text, mode 0644. Purely
	// informational — Load ignores it and re-derives from the seed.
	peerIDFile = "identity.id"
)

// Save writes the identity to a state directory: the seed to
// identity.key (0600) and the derived peer ID to identity.id (0644).
func Save(stateDir string, p *PrivateIdentity) error {
	keyPath := filepath.Join(stateDir, identityKeyFile)
	if err := os.WriteFile(keyPath, p.seed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing identity key: %w", err)
	}

	idPath := filepath.Join(stateDir, peerIDFile)
	if err := os.WriteFile(idPath, []byte(p.PeerID().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing peer ID: %w", err)
	}

	return nil
}

// Load reads the identity seed from a state directory. Returns an
// error if the key file is missing or has an unexpected size.
func Load(stateDir string) (*PrivateIdentity, error) {
	keyPath := filepath.Join(stateDir, identityKeyFile)
	seed, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity key: %w", err)
	}
	if len(seed) != SeedSize {
		secret.Zero(seed)
		return nil, fmt.Errorf("identity key has %d bytes, want %d", len(seed), SeedSize)
	}
	return FromSeed(seed)
}

// LoadOrGenerate loads an existing identity from stateDir, or
// generates and saves a new one if the key file does not exist.
// Returns the identity and whether it was newly generated.
func LoadOrGenerate(stateDir string) (*PrivateIdentity, bool, error) {
	p, err := Load(stateDir)
	if err == nil {
		return p, false, nil
	}

	// Distinguish missing files (expected on first boot) from
	// corruption or permission problems (must surface).
	keyPath := filepath.Join(stateDir, identityKeyFile)
	if _, statErr := os.Stat(keyPath); statErr == nil {
		return nil, false, err
	}

	p, err = Generate()
	if err != nil {
		return nil, false, err
	}

	if err := Save(stateDir, p); err != nil {
		p.Close()
		return nil, false, err
	}

	return p, true, nil
}

// ExportSealed returns the identity seed encrypted to a passphrase
// (age scrypt recipient), base64-encoded for transport in text files
// or terminals. The passphrase buffer is borrowed, not closed.
func ExportSealed(p *PrivateIdentity, passphrase *secret.Buffer) (string, error) {
	return sealed.EncryptWithPassphrase(p.seed.Bytes(), passphrase)
}

// ImportSealed reconstructs a private identity from ExportSealed
// output and the matching passphrase.
func ImportSealed(ciphertext string, passphrase *secret.Buffer) (*PrivateIdentity, error) {
	plaintext, err := sealed.DecryptWithPassphrase(ciphertext, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unsealing identity: %w", err)
	}
	defer plaintext.Close()

	if plaintext.Len() != SeedSize {
		return nil, fmt.Errorf("sealed identity has %d bytes, want %d", plaintext.Len(), SeedSize)
	}

	seed := make([]byte, SeedSize)
	copy(seed, plaintext.Bytes())
	return FromSeed(seed)
}
