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

	"github.com/spf13/cobra"

	"stopgap/pkg/logging"
)

// NewStatusCommand returns the `stopgap status` command.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show an environment's current deployment",
		RunE:  runStatus,
	}

	cmd.Flags().String("env", "prod", "target environment")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	global, err := ResolveGlobalFlags(cmd)
	if err != nil {
		return err
	}
	env, _ := cmd.Flags().GetString("env")

	cfg, err := loadOptionalConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	session, err := connect(ctx, global.DB, cfg, logging.NewLogger(false))
	if err != nil {
		return err
	}
	defer session.Close()

	status, found, err := session.controller.Status(ctx, env)
	if err != nil {
		return dbQueryErr(err)
	}

	var statusValue interface{}
	if found {
		statusValue = status
	}
	payload := map[string]interface{}{
		"command": "status",
		"env":     env,
		"status":  statusValue,
	}
	return printPayload(cmd.OutOrStdout(), global.Output, payload, func() string {
		if !found {
			return fmt.Sprintf("status env=%s none", env)
		}
		return fmt.Sprintf("status env=%s %s", env, compactJSON(status))
	})
}
