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

// NewDiffCommand returns the `stopgap diff` command.
func NewDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare a source schema against an environment's active deployment",
		RunE:  runDiff,
	}

	cmd.Flags().String("env", "prod", "target environment")
	cmd.Flags().String("from-schema", "", "source schema to compile and compare")
	_ = cmd.MarkFlagRequired("from-schema")

	return cmd
}

func runDiff(cmd *cobra.Command, _ []string) error {
	global, err := ResolveGlobalFlags(cmd)
	if err != nil {
		return err
	}
	env, _ := cmd.Flags().GetString("env")
	fromSchema, _ := cmd.Flags().GetString("from-schema")

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

	diff, err := session.controller.Diff(ctx, env, fromSchema)
	if err != nil {
		return dbQueryErr(err)
	}

	payload := map[string]interface{}{
		"command":     "diff",
		"env":         env,
		"from_schema": fromSchema,
		"diff":        diff,
	}
	return printPayload(cmd.OutOrStdout(), global.Output, payload, func() string {
		return fmt.Sprintf("diff env=%s from_schema=%s", env, fromSchema)
	})
}
