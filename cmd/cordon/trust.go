// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/cordon-foundation/cordon/cmd/cordon/cli"
	"github.com/cordon-foundation/cordon/lib/adminsock"
	"github.com/cordon-foundation/cordon/lib/authority"
	"github.com/cordon-foundation/cordon/lib/ref"
)

func trustCommand() *cli.Command {
	return &cli.Command{
		Name:    "trust",
		Summary: "Inspect and revoke trust records",
		Description: `Inspect and revoke the authority's trust records.

Every enrollment leaves a record binding a peer ID to the credential
it was issued. Revoking a record is permanent: the subject's
credential stops authorizing new sessions, and re-enrollment requires
a fresh enrollment code.`,
		Subcommands: []*cli.Command{
			trustListCommand(),
			trustShowCommand(),
			trustRevokeCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "List enrolled peers",
				Command:     "cordon trust list",
			},
			{
				Description: "Revoke a peer",
				Command:     "cordon trust revoke cdn14fXaFbcDE3PgFEWA2d",
			},
		},
	}
}

func trustListCommand() *cli.Command {
	var socketPath string

	return &cli.Command{
		Name:    "list",
		Summary: "List all trust records",
		Usage:   "cordon trust list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", defaultAuthoritySocket(), "authority admin socket")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			var result authority.TrustListResult
			client := adminsock.NewClient(socketPath)
			if err := client.Call(ctx, authority.AdminTrustList, nil, &result); err != nil {
				return err
			}

			if len(result.Records) == 0 {
				fmt.Println("No trust records.")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "SUBJECT\tISSUED\tSTATUS\tCODE")
			for _, record := range result.Records {
				status := "active"
				if record.Revoked {
					status = "revoked"
				}
				code := record.EnrolledWith
				if code == "" {
					code = "-"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
					record.Subject,
					time.Unix(record.IssuedAt, 0).UTC().Format(time.RFC3339),
					status,
					code,
				)
			}
			return writer.Flush()
		},
	}
}

func trustShowCommand() *cli.Command {
	var socketPath string

	return &cli.Command{
		Name:    "show",
		Summary: "Show one trust record in detail",
		Usage:   "cordon trust show <peer-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", defaultAuthoritySocket(), "authority admin socket")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			subject, err := subjectArg(args)
			if err != nil {
				return err
			}

			var record authority.TrustEntry
			client := adminsock.NewClient(socketPath)
			err = client.Call(ctx, authority.AdminTrustShow, map[string]any{
				"subject": subject.String(),
			}, &record)
			if err != nil {
				return err
			}

			status := "active"
			if record.Revoked {
				status = "revoked"
			}
			fmt.Printf("Subject:    %s\n", record.Subject)
			fmt.Printf("Status:     %s\n", status)
			fmt.Printf("Issued:     %s\n", time.Unix(record.IssuedAt, 0).UTC().Format(time.RFC3339))
			if record.EnrolledWith != "" {
				fmt.Printf("Code:       %s\n", record.EnrolledWith)
			}
			if record.NotBefore != 0 || record.NotAfter != 0 {
				fmt.Printf("Valid:      %s — %s\n",
					time.Unix(record.NotBefore, 0).UTC().Format(time.RFC3339),
					time.Unix(record.NotAfter, 0).UTC().Format(time.RFC3339))
			}
			if len(record.Attributes) > 0 {
				keys := make([]string, 0, len(record.Attributes))
				for key := range record.Attributes {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				fmt.Printf("Attributes:\n")
				for _, key := range keys {
					fmt.Printf("  %s = %s\n", key, record.Attributes[key])
				}
			}
			return nil
		},
	}
}

func trustRevokeCommand() *cli.Command {
	var socketPath string

	return &cli.Command{
		Name:    "revoke",
		Summary: "Revoke a peer's trust record",
		Usage:   "cordon trust revoke <peer-id> [flags]",
		Description: `Mark a peer's trust record revoked. Revocation is monotonic:
revoking an already-revoked record succeeds without change. The peer's
existing sessions survive until they close; new handshakes stop
validating once verifiers learn of the revocation.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("revoke", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", defaultAuthoritySocket(), "authority admin socket")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			subject, err := subjectArg(args)
			if err != nil {
				return err
			}

			client := adminsock.NewClient(socketPath)
			err = client.Call(ctx, authority.AdminTrustRevoke, map[string]any{
				"subject": subject.String(),
			}, nil)
			if err != nil {
				return err
			}

			fmt.Printf("Revoked %s\n", subject)
			return nil
		},
	}
}

// subjectArg extracts and validates the single peer-ID positional
// argument. Validating locally gives a better error than a round trip
// to the daemon.
func subjectArg(args []string) (ref.PeerID, error) {
	if len(args) != 1 {
		return ref.PeerID{}, fmt.Errorf("exactly one peer-id argument is required")
	}
	subject, err := ref.ParsePeerID(args[0])
	if err != nil {
		return ref.PeerID{}, fmt.Errorf("invalid peer ID %q: %w", args[0], err)
	}
	return subject, nil
}
