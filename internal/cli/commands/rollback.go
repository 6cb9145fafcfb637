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

// NewRollbackCommand returns the `stopgap rollback` command.
func NewRollbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Reactivate a previous deployment for an environment",
		Long:  "Reactivates the deployment --steps back from the current active one, or a specific deployment via --to.",
		RunE:  runRollback,
	}

	cmd.Flags().String("env", "prod", "target environment")
	cmd.Flags().Int("steps", 1, "number of deployments to step back")
	cmd.Flags().Int64("to", 0, "roll back to this specific deployment id instead of counting steps")

	return cmd
}

func runRollback(cmd *cobra.Command, _ []string) error {
	global, err := ResolveGlobalFlags(cmd)
	if err != nil {
		return err
	}

	env, _ := cmd.Flags().GetString("env")
	steps, _ := cmd.Flags().GetInt("steps")
	toID, _ := cmd.Flags().GetInt64("to")

	var toIDPtr *int64
	if cmd.Flags().Changed("to") {
		toIDPtr = &toID
	}

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

	deploymentID, err := session.controller.Rollback(ctx, env, steps, toIDPtr)
	if err != nil {
		return dbQueryErr(err)
	}

	payload := map[string]interface{}{
		"command":       "rollback",
		"env":           env,
		"steps":         steps,
		"to_id":         toIDPtr,
		"deployment_id": deploymentID,
	}
	return printPayload(cmd.OutOrStdout(), global.Output, payload, func() string {
		suffix := ""
		if toIDPtr != nil {
			suffix = fmt.Sprintf(" to_id=%d", *toIDPtr)
		}
		return fmt.Sprintf("rolled back env=%s target_deployment_id=%d steps=%d%s", env, deploymentID, steps, suffix)
	})
}
