// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/cordon-foundation/cordon/cmd/cordon/cli"
	"github.com/cordon-foundation/cordon/lib/policy"
	"github.com/cordon-foundation/cordon/lib/ref"
)

func policyCommand() *cli.Command {
	return &cli.Command{
		Name:    "policy",
		Summary: "Evaluate policy files offline",
		Subcommands: []*cli.Command{
			policyCheckCommand(),
		},
	}
}

func policyCheckCommand() *cli.Command {
	var file string
	var method string
	var subjectFlags []string
	var resourceFlags []string

	return &cli.Command{
		Name:    "check",
		Summary: "Evaluate a policy file against literal attributes",
		Usage:   "cordon policy check --file <path> --method <method> [flags]",
		Description: `Load a policy file and decide one request against it, without any
daemon involved. Prints the verdict and exits 0 for allow, 1 for deny.

Useful for reviewing a policy change before deploying it: feed it the
attribute sets you expect peers to present and confirm the outcomes.`,
		Examples: []cli.Example{
			{
				Description: "Would a prod worker be allowed to read data?",
				Command:     "cordon policy check --file policy.jsonc --method data/read --subject role=worker --subject env=prod",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
			flagSet.StringVar(&file, "file", "", "policy file to evaluate (required)")
			flagSet.StringVar(&method, "method", "", "request method, e.g. data/read (required)")
			flagSet.StringArrayVar(&subjectFlags, "subject", nil, "subject attribute as key=value (repeatable)")
			flagSet.StringArrayVar(&resourceFlags, "resource", nil, "resource attribute as key=value (repeatable)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			if method == "" {
				return fmt.Errorf("--method is required")
			}

			parsedMethod, err := ref.NewMethod(method)
			if err != nil {
				return fmt.Errorf("invalid --method: %w", err)
			}
			subject, err := parseAttrFlags(subjectFlags)
			if err != nil {
				return fmt.Errorf("invalid --subject: %w", err)
			}
			resource, err := parseAttrFlags(resourceFlags)
			if err != nil {
				return fmt.Errorf("invalid --resource: %w", err)
			}

			set, err := policy.LoadFile(file)
			if err != nil {
				return err
			}

			verdict := set.Decide(parsedMethod, policy.FromStrings(subject), policy.FromStrings(resource))
			if verdict.Decision == policy.Allow {
				fmt.Printf("allow (%d matching policies)\n", verdict.Matched)
				return nil
			}

			if verdict.DeniedBy != "" {
				fmt.Printf("deny (policy %q)\n", verdict.DeniedBy)
			} else if verdict.Matched == 0 {
				fmt.Printf("deny (no policy matches %s)\n", parsedMethod)
			} else {
				fmt.Printf("deny\n")
			}
			return &cli.ExitError{Code: 1}
		},
	}
}
