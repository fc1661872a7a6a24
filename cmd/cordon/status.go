// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/cordon-foundation/cordon/cmd/cordon/cli"
	"github.com/cordon-foundation/cordon/lib/adminsock"
)

// defaultNodeSocket is the admin socket path matching the node
// daemon's default state dir.
func defaultNodeSocket() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "cordon", "node", "admin.sock")
}

func statusCommand() *cli.Command {
	var socketPath string

	return &cli.Command{
		Name:    "status",
		Summary: "Show a daemon's status",
		Usage:   "cordon status [flags]",
		Description: `Query a running daemon's status action over its admin socket and
print the fields it reports. Works against both cordon-node and
cordon-authority; the field set differs by daemon.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", defaultNodeSocket(), "daemon admin socket")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			var fields map[string]any
			client := adminsock.NewClient(socketPath)
			if err := client.Call(ctx, "status", nil, &fields); err != nil {
				return err
			}

			keys := make([]string, 0, len(fields))
			for key := range fields {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, key := range keys {
				fmt.Fprintf(writer, "%s\t%v\n", key, fields[key])
			}
			return writer.Flush()
		},
	}
}

// sessionEntry mirrors the node daemon's sessions action result.
type sessionEntry struct {
	Peer          string `cbor:"peer_id"`
	Trusted       bool   `cbor:"trusted"`
	EstablishedAt int64  `cbor:"established_at"`
	IdleSeconds   int64  `cbor:"idle_seconds"`
}

func sessionsCommand() *cli.Command {
	var socketPath string

	return &cli.Command{
		Name:    "sessions",
		Summary: "List a node's live secure channel sessions",
		Usage:   "cordon sessions [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sessions", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", defaultNodeSocket(), "daemon admin socket")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			var result struct {
				Sessions []sessionEntry `cbor:"sessions"`
			}
			client := adminsock.NewClient(socketPath)
			if err := client.Call(ctx, "sessions", nil, &result); err != nil {
				return err
			}

			if len(result.Sessions) == 0 {
				fmt.Println("No live sessions.")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "PEER\tTRUSTED\tESTABLISHED\tIDLE")
			for _, session := range result.Sessions {
				fmt.Fprintf(writer, "%s\t%v\t%s\t%s\n",
					session.Peer,
					session.Trusted,
					time.Unix(session.EstablishedAt, 0).UTC().Format(time.RFC3339),
					(time.Duration(session.IdleSeconds) * time.Second).String(),
				)
			}
			return writer.Flush()
		},
	}
}
