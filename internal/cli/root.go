// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package cli wires together the stopgap root Cobra command and global CLI
// options, porting stopgap-cli's Cli/Command surface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stopgap/internal/cli/commands"
	"stopgap/internal/stopgap"
)

// NewRootCommand constructs the stopgap root Cobra command, wiring the
// deploy/rollback/status/deployments/diff subcommands stopgap-cli exposes
// plus metrics and version.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stopgap",
		Short:         "stopgap - release controller for PL/TS functions",
		Long:          "stopgap deploys, inspects, and rolls back versioned PL/TS function schemas against a running database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags - registered in lexicographic order for deterministic help output.
	cmd.PersistentFlags().String("db", "", "database connection string (env STOPGAP_DB)")
	cmd.PersistentFlags().String("output", commands.OutputHuman, "output format: human or json")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the release controller's version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stopgap version %s\n", stopgap.Version())
		},
	})

	// Subcommands - kept in lexicographic order by .Use for deterministic help output.
	cmd.AddCommand(commands.NewDeployCommand())
	cmd.AddCommand(commands.NewDeploymentsCommand())
	cmd.AddCommand(commands.NewDiffCommand())
	cmd.AddCommand(commands.NewMetricsCommand())
	cmd.AddCommand(commands.NewRollbackCommand())
	cmd.AddCommand(commands.NewStatusCommand())

	return cmd
}
