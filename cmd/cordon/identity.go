// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/cordon-foundation/cordon/cmd/cordon/cli"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/secret"
)

// defaultStateDir is where identity commands look when --state-dir is
// not given. Matches the node daemon's default.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "cordon", "node")
}

func identityCommand() *cli.Command {
	return &cli.Command{
		Name:    "identity",
		Summary: "Manage the node identity keypair",
		Description: `Generate, inspect, and back up the Ed25519 identity keypair.

The identity lives in the state directory as identity.key (the raw
seed, owner-only) and identity.id (the derived peer ID, informational).
The peer ID is the public fingerprint other nodes pin and policies
refer to; it never changes for a given key.

For backup, "export" seals the seed with a passphrase (age scrypt
recipient) and "show --mnemonic" prints a 24-word recovery phrase.
Either form reconstructs the identity via "import" or "init --recover".`,
		Subcommands: []*cli.Command{
			identityInitCommand(),
			identityShowCommand(),
			identityExportCommand(),
			identityImportCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Generate a fresh identity",
				Command:     "cordon identity init",
			},
			{
				Description: "Recover an identity from its mnemonic phrase",
				Command:     "cordon identity init --recover",
			},
			{
				Description: "Seal the identity to a passphrase-protected backup",
				Command:     "cordon identity export > identity.sealed",
			},
		},
	}
}

func identityInitCommand() *cli.Command {
	var stateDir string
	var recover bool

	return &cli.Command{
		Name:    "init",
		Summary: "Generate or recover an identity",
		Usage:   "cordon identity init [flags]",
		Description: `Generate a new identity keypair, or reconstruct one from a 24-word
mnemonic phrase with --recover (the phrase is read from stdin).

Refuses to overwrite an existing identity: the key IS the node's
name, and replacing it silently would orphan every trust record and
policy that mentions the old peer ID.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flagSet.StringVar(&stateDir, "state-dir", defaultStateDir(), "identity state directory")
			flagSet.BoolVar(&recover, "recover", false, "reconstruct from a mnemonic phrase on stdin")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if stateDir == "" {
				return fmt.Errorf("--state-dir is required")
			}
			if err := refuseExisting(stateDir); err != nil {
				return err
			}

			var signer *identity.PrivateIdentity
			var err error
			if recover {
				signer, err = identityFromStdinMnemonic()
			} else {
				signer, err = identity.Generate()
			}
			if err != nil {
				return err
			}
			defer signer.Close()

			if err := os.MkdirAll(stateDir, 0700); err != nil {
				return fmt.Errorf("creating state directory: %w", err)
			}
			if err := identity.Save(stateDir, signer); err != nil {
				return err
			}

			verb := "created"
			if recover {
				verb = "recovered"
			}
			fmt.Fprintf(os.Stderr, "Identity %s in %s\n", verb, stateDir)
			fmt.Printf("%s\n", signer.PeerID())
			return nil
		},
	}
}

func identityShowCommand() *cli.Command {
	var stateDir string
	var mnemonic bool

	return &cli.Command{
		Name:    "show",
		Summary: "Show the identity's peer ID and public key",
		Usage:   "cordon identity show [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&stateDir, "state-dir", defaultStateDir(), "identity state directory")
			flagSet.BoolVar(&mnemonic, "mnemonic", false, "print the 24-word recovery phrase (secret!)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			signer, err := identity.Load(stateDir)
			if err != nil {
				return err
			}
			defer signer.Close()

			if mnemonic {
				phrase, err := signer.ExportMnemonic()
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "# Recovery phrase — anyone holding it owns this identity:\n")
				fmt.Printf("%s\n", phrase)
				return nil
			}

			peerID := signer.PeerID()
			fmt.Printf("Peer ID:     %s\n", peerID)
			fmt.Printf("Fingerprint: %s\n", hex.EncodeToString(peerID.Fingerprint()))
			fmt.Printf("Public key:  %s\n", hex.EncodeToString(signer.Public().PublicKey()))
			return nil
		},
	}
}

func identityExportCommand() *cli.Command {
	var stateDir string
	var passphraseFile string

	return &cli.Command{
		Name:    "export",
		Summary: "Seal the identity to a passphrase-protected backup",
		Usage:   "cordon identity export [flags] > identity.sealed",
		Description: `Encrypt the identity seed with a passphrase and print the sealed
text to stdout. The passphrase is prompted (with confirmation) unless
--passphrase-file points at a file holding it.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flagSet.StringVar(&stateDir, "state-dir", defaultStateDir(), "identity state directory")
			flagSet.StringVar(&passphraseFile, "passphrase-file", "", "read the passphrase from this file instead of prompting")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			signer, err := identity.Load(stateDir)
			if err != nil {
				return err
			}
			defer signer.Close()

			passphrase, err := readPassphrase(passphraseFile, true)
			if err != nil {
				return err
			}
			defer passphrase.Close()

			sealed, err := identity.ExportSealed(signer, passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", sealed)
			return nil
		},
	}
}

func identityImportCommand() *cli.Command {
	var stateDir string
	var inPath string
	var passphraseFile string

	return &cli.Command{
		Name:    "import",
		Summary: "Restore an identity from a sealed backup",
		Usage:   "cordon identity import --in identity.sealed [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
			flagSet.StringVar(&stateDir, "state-dir", defaultStateDir(), "identity state directory")
			flagSet.StringVar(&inPath, "in", "", "sealed backup file, or '-' for stdin")
			flagSet.StringVar(&passphraseFile, "passphrase-file", "", "read the passphrase from this file instead of prompting")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if inPath == "" {
				return fmt.Errorf("--in is required")
			}
			if err := refuseExisting(stateDir); err != nil {
				return err
			}

			var ciphertext []byte
			var err error
			if inPath == "-" {
				ciphertext, err = io.ReadAll(os.Stdin)
			} else {
				ciphertext, err = os.ReadFile(inPath)
			}
			if err != nil {
				return fmt.Errorf("reading sealed backup: %w", err)
			}

			passphrase, err := readPassphrase(passphraseFile, false)
			if err != nil {
				return err
			}
			defer passphrase.Close()

			signer, err := identity.ImportSealed(strings.TrimSpace(string(ciphertext)), passphrase)
			if err != nil {
				return err
			}
			defer signer.Close()

			if err := os.MkdirAll(stateDir, 0700); err != nil {
				return fmt.Errorf("creating state directory: %w", err)
			}
			if err := identity.Save(stateDir, signer); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Identity restored in %s\n", stateDir)
			fmt.Printf("%s\n", signer.PeerID())
			return nil
		},
	}
}

// refuseExisting errors when the state directory already holds an
// identity.
func refuseExisting(stateDir string) error {
	_, err := identity.Load(stateDir)
	if err == nil {
		return fmt.Errorf("%s already holds an identity — remove it explicitly before replacing", stateDir)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// identityFromStdinMnemonic reads one line from stdin and
// reconstructs the identity it encodes.
func identityFromStdinMnemonic() (*identity.PrivateIdentity, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Recovery phrase: ")
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading recovery phrase: %w", err)
	}
	phrase := strings.TrimSpace(line)
	if phrase == "" {
		return nil, fmt.Errorf("no recovery phrase provided")
	}
	return identity.FromMnemonic(phrase)
}

// readPassphrase obtains the sealing passphrase: from a file when
// given, otherwise by prompting on the terminal with echo disabled.
// With confirm set, the prompt is repeated and both entries must
// match.
func readPassphrase(path string, confirm bool) (*secret.Buffer, error) {
	if path != "" {
		return secret.ReadFromPath(path)
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return nil, fmt.Errorf("stdin is not a terminal — use --passphrase-file")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(stdinFd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			secret.Zero(first)
			return nil, fmt.Errorf("reading passphrase confirmation: %w", err)
		}
		match := secret.Equal(first, second)
		secret.Zero(second)
		if !match {
			secret.Zero(first)
			return nil, fmt.Errorf("passphrases do not match")
		}
	}

	buffer, err := secret.NewFromBytes(first)
	if err != nil {
		secret.Zero(first)
		return nil, err
	}
	return buffer, nil
}
