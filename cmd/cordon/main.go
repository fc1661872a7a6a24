// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cordon-foundation/cordon/cmd/cordon/cli"
	"github.com/cordon-foundation/cordon/lib/process"
	"github.com/cordon-foundation/cordon/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like policy check)
		// return an ExitError with the desired exit code. Don't print
		// a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	// --verbose is global: main strips it here so subcommand flag
	// sets never see it.
	args := make([]string, 0, len(os.Args)-1)
	verbose := false
	for _, arg := range os.Args[1:] {
		if arg == "--verbose" {
			verbose = true
			continue
		}
		args = append(args, arg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rootCommand().Execute(ctx, args, cli.NewLogger(verbose))
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "cordon",
		Description: `Cordon: identity, trust, and policy tooling.

Manage node identities, mint enrollment codes, inspect and revoke
trust records, evaluate policy files, and send authenticated requests
to running nodes. Pass --verbose anywhere for debug logging.`,
		Subcommands: []*cli.Command{
			identityCommand(),
			enrollCodeCommand(),
			trustCommand(),
			policyCommand(),
			callCommand(),
			statusCommand(),
			sessionsCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("cordon %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Generate a node identity",
				Command:     "cordon identity init",
			},
			{
				Description: "Mint an enrollment code granting the worker role",
				Command:     "cordon enroll-code create --attr role=worker --ttl 1h",
			},
			{
				Description: "List enrolled peers",
				Command:     "cordon trust list",
			},
			{
				Description: "Check a policy file offline",
				Command:     "cordon policy check --file policy.jsonc --method data/read --subject role=worker",
			},
			{
				Description: "Ping a peer through the secure channel",
				Command:     "cordon call authority/main status/ping",
			},
		},
	}
}
