// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// ExportMnemonic returns the BIP-39 phrase encoding the identity
// seed: 24 words for the 256-bit seed. Anyone holding the phrase can
// reconstruct the private identity — treat it like the key itself.
func (p *PrivateIdentity) ExportMnemonic() (string, error) {
	phrase, err := bip39.NewMnemonic(p.seed.Bytes())
	if err != nil {
		return "", fmt.Errorf("identity: encoding mnemonic: %w", err)
	}
	return phrase, nil
}

// FromMnemonic reconstructs a private identity from a BIP-39 phrase
// produced by ExportMnemonic.
func FromMnemonic(phrase string) (*PrivateIdentity, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, fmt.Errorf("identity: invalid mnemonic phrase")
	}
	entropy, err := bip39.EntropyFromMnemonic(phrase)
	if err != nil {
		return nil, fmt.Errorf("identity: decoding mnemonic: %w", err)
	}
	if len(entropy) != SeedSize {
		return nil, fmt.Errorf("identity: mnemonic encodes %d bytes, want %d (24 words)", len(entropy), SeedSize)
	}
	return FromSeed(entropy)
}
