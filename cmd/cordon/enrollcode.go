// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/cordon-foundation/cordon/cmd/cordon/cli"
	"github.com/cordon-foundation/cordon/lib/adminsock"
	"github.com/cordon-foundation/cordon/lib/authority"
)

// defaultAuthoritySocket is the admin socket path matching the
// authority daemon's default state dir.
func defaultAuthoritySocket() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "cordon", "authority", "admin.sock")
}

func enrollCodeCommand() *cli.Command {
	return &cli.Command{
		Name:    "enroll-code",
		Summary: "Mint enrollment codes on the authority",
		Subcommands: []*cli.Command{
			enrollCodeCreateCommand(),
		},
	}
}

func enrollCodeCreateCommand() *cli.Command {
	var socketPath string
	var attrFlags []string
	var ttl time.Duration

	return &cli.Command{
		Name:    "create",
		Summary: "Mint a single-use enrollment code",
		Usage:   "cordon enroll-code create --attr key=value [flags]",
		Description: `Mint a single-use enrollment code on the authority's admin socket.

The code secret is printed to stdout exactly once; the authority keeps
only a hash. A node presenting the code before it expires is issued a
credential carrying the listed attributes.`,
		Examples: []cli.Example{
			{
				Description: "Code for a worker node, redeemable for one hour",
				Command:     "cordon enroll-code create --attr role=worker --attr env=prod --ttl 1h",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", defaultAuthoritySocket(), "authority admin socket")
			flagSet.StringArrayVar(&attrFlags, "attr", nil, "attribute granted by the code, as key=value (repeatable)")
			flagSet.DurationVar(&ttl, "ttl", time.Hour, "how long the code stays redeemable")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			attrs, err := parseAttrFlags(attrFlags)
			if err != nil {
				return err
			}
			if len(attrs) == 0 {
				return fmt.Errorf("at least one --attr is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			var result authority.EnrollCodeResult
			client := adminsock.NewClient(socketPath)
			err = client.Call(ctx, authority.AdminEnrollCode, map[string]any{
				"attributes":  attrs,
				"ttl_seconds": int64(ttl / time.Second),
			}, &result)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "# Enrollment code %s, single use, expires %s:\n",
				result.ID, time.Unix(result.ExpiresAt, 0).UTC().Format(time.RFC3339))
			fmt.Printf("%s\n", result.Code)
			return nil
		},
	}
}

// parseAttrFlags turns repeated key=value flags into an attribute
// map. A repeated key is an operator mistake worth rejecting, unlike
// credential attribute lists where order resolves duplicates.
func parseAttrFlags(flags []string) (map[string]string, error) {
	attrs := make(map[string]string, len(flags))
	for _, flag := range flags {
		key, value, ok := strings.Cut(flag, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed --attr %q (want key=value)", flag)
		}
		if _, dup := attrs[key]; dup {
			return nil, fmt.Errorf("--attr %q repeats key %q", flag, key)
		}
		attrs[key] = value
	}
	return attrs, nil
}
