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

// NewDeployCommand returns the `stopgap deploy` command.
func NewDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Compile a source schema and activate it as a new deployment",
		Long:  "Compiles every deployable function found in --from-schema, records a new deployment, and activates it for --env.",
		RunE:  runDeploy,
	}

	cmd.Flags().String("env", "prod", "target environment")
	cmd.Flags().String("from-schema", "", "source schema to compile and deploy")
	cmd.Flags().String("label", "", "optional human-readable label for this deployment")
	cmd.Flags().Bool("prune", false, "drop live functions the new deployment no longer deploys")
	_ = cmd.MarkFlagRequired("from-schema")

	return cmd
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	global, err := ResolveGlobalFlags(cmd)
	if err != nil {
		return err
	}

	env, _ := cmd.Flags().GetString("env")
	fromSchema, _ := cmd.Flags().GetString("from-schema")
	label, _ := cmd.Flags().GetString("label")
	prune, _ := cmd.Flags().GetBool("prune")

	var labelPtr *string
	if label != "" {
		labelPtr = &label
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

	deploymentID, err := session.controller.Deploy(ctx, env, fromSchema, labelPtr, &prune)
	if err != nil {
		return dbQueryErr(err)
	}

	payload := map[string]interface{}{
		"command":       "deploy",
		"env":           env,
		"from_schema":   fromSchema,
		"deployment_id": deploymentID,
		"prune":         prune,
	}
	return printPayload(cmd.OutOrStdout(), global.Output, payload, func() string {
		return fmt.Sprintf("deployed env=%s from_schema=%s deployment_id=%d prune=%v", env, fromSchema, deploymentID, prune)
	})
}
