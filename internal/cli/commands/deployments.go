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

// NewDeploymentsCommand returns the `stopgap deployments` command.
func NewDeploymentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "List every recorded deployment for an environment",
		RunE:  runDeployments,
	}

	cmd.Flags().String("env", "prod", "target environment")

	return cmd
}

func runDeployments(cmd *cobra.Command, _ []string) error {
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

	deployments, err := session.controller.Deployments(ctx, env)
	if err != nil {
		return dbQueryErr(err)
	}

	payload := map[string]interface{}{
		"command":     "deployments",
		"env":         env,
		"count":       len(deployments),
		"deployments": deployments,
	}
	return printPayload(cmd.OutOrStdout(), global.Output, payload, func() string {
		return fmt.Sprintf("deployments env=%s count=%d", env, len(deployments))
	})
}
