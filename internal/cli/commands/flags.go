// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// OutputHuman and OutputJSON are the two accepted values of --output, ports
// stopgap-cli's OutputMode enum.
const (
	OutputHuman = "human"
	OutputJSON  = "json"
)

// GlobalFlags holds the resolved values of the persistent --db/--output flags.
type GlobalFlags struct {
	DB     string
	Output string
}

// ResolveGlobalFlags resolves --db (falling back to STOPGAP_DB) and --output
// (defaulting to human, validated against OutputHuman/OutputJSON).
func ResolveGlobalFlags(cmd *cobra.Command) (*GlobalFlags, error) {
	db, _ := cmd.Flags().GetString("db")
	if db == "" {
		db = os.Getenv("STOPGAP_DB")
	}
	if db == "" {
		return nil, fmt.Errorf("database connection string required; use --db or STOPGAP_DB")
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = OutputHuman
	}
	if output != OutputHuman && output != OutputJSON {
		return nil, fmt.Errorf("invalid --output %q; expected %q or %q", output, OutputHuman, OutputJSON)
	}

	return &GlobalFlags{DB: db, Output: output}, nil
}
