// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/cordon-foundation/cordon/cmd/cordon/cli"
	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/config"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/node"
	"github.com/cordon-foundation/cordon/transport"
)

func callCommand() *cli.Command {
	var configPath string
	var payloadPath string
	var timeout time.Duration
	var diagnose bool

	return &cli.Command{
		Name:    "call",
		Summary: "Send one request to a peer",
		Usage:   "cordon call <peer-name> <method> [flags]",
		Description: `Open a secure channel to a peer and send a single request, using the
node configuration's identity, credential, and endpoint table. The
response payload is written raw to stdout.

The peer must appear in the configuration (as the authority or under
peers) so its address and public key are known. The request payload is
empty unless --payload-file supplies one.`,
		Examples: []cli.Example{
			{
				Description: "Ping the authority",
				Command:     "cordon call --config node.yaml authority/main status/ping",
			},
			{
				Description: "Send a CBOR payload from a file and decode the response",
				Command:     "cordon call --config node.yaml relay/primary data/read --payload-file req.cbor --diagnose",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("call", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "node configuration file")
			flagSet.StringVar(&payloadPath, "payload-file", "", "request payload file, or '-' for stdin (default empty)")
			flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "bound on the whole call, handshake included")
			flagSet.BoolVar(&diagnose, "diagnose", false, "print the response in CBOR diagnostic notation on stderr")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: cordon call <peer-name> <method>")
			}
			if configPath == "" {
				return fmt.Errorf("--config is required (or set %s)", config.EnvConfigPath)
			}

			peer, err := ref.NewPeerName(args[0])
			if err != nil {
				return fmt.Errorf("invalid peer name %q: %w", args[0], err)
			}
			method, err := ref.NewMethod(args[1])
			if err != nil {
				return fmt.Errorf("invalid method %q: %w", args[1], err)
			}

			cfg, err := config.LoadNode(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			payload, err := readPayload(payloadPath)
			if err != nil {
				return err
			}

			signer, err := identity.Load(cfg.StateDir)
			if err != nil {
				return err
			}
			defer signer.Close()

			chain, err := loadChain(cfg.CredentialPath())
			if err != nil {
				return err
			}
			if chain == nil {
				logger.Debug("no stored credential, calling semi-trusted")
			}

			issuer, err := authorityPeerID(cfg.Authority)
			if err != nil {
				return err
			}

			endpoints, err := config.ResolverTable(append([]config.Endpoint{cfg.Authority}, cfg.Peers...)...)
			if err != nil {
				return err
			}

			client := node.NewClient(node.ClientConfig{
				Identity:    signer,
				Chain:       chain,
				Trust:       credential.NewTrustedIssuers(issuer),
				Resolver:    transport.NewStaticResolver(endpoints),
				CallTimeout: timeout,
				Logger:      logger,
			})
			defer client.Close()

			response, err := client.Call(ctx, peer, method, payload)
			if err != nil {
				return err
			}

			if diagnose && len(response) > 0 {
				if notation, diagErr := codec.Diagnose(response); diagErr == nil {
					fmt.Fprintf(os.Stderr, "%s\n", notation)
				}
			}
			if len(response) > 0 {
				if _, err := os.Stdout.Write(response); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func readPayload(path string) ([]byte, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading payload from stdin: %w", err)
		}
		return payload, nil
	default:
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		return payload, nil
	}
}

// loadChain reads the stored credential, if any. A node that has not
// enrolled calls semi-trusted with a nil chain.
func loadChain(path string) ([][]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}
	return [][]byte{raw}, nil
}

// authorityPeerID derives the trust anchor peer ID from the
// configured authority public key.
func authorityPeerID(endpoint config.Endpoint) (ref.PeerID, error) {
	key, err := endpoint.Key()
	if err != nil {
		return ref.PeerID{}, fmt.Errorf("authority endpoint: %w", err)
	}
	issuer, err := ref.PeerIDFromFingerprint(identity.Fingerprint(key))
	if err != nil {
		return ref.PeerID{}, fmt.Errorf("authority endpoint: %w", err)
	}
	return issuer, nil
}
